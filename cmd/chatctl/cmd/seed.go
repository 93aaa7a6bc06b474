package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/nfrund/orgchat/internal/auth"
	"github.com/nfrund/orgchat/internal/seed"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var seedFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load organizations, users and groups from a fixture file",
	Long: `Load organizations, users and groups from a YAML fixture and print a
development token for every created user.

Example fixture:
  organizations:
    - name: acme
      users:
        - email: admin@acme.test
          role: ADMIN
        - email: bob@acme.test
      groups:
        - name: general
          createdBy: admin@acme.test
          members: [bob@acme.test]`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		fixture, err := seed.Load(afero.NewOsFs(), seedFile)
		if err != nil {
			return err
		}

		cfg, store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		res, err := seed.Apply(ctx, store, fixture)
		if err != nil {
			return err
		}

		issuer := auth.NewIssuer(cfg.GetJWTSecret(), cfg.GetJWTIssuer(), cfg.GetJWTTTL())
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "EMAIL\tROLE\tUSER ID\tTOKEN")
		for _, u := range res.Users {
			token, err := issuer.Issue(u)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", u.Email, u.Role, u.ID, token)
		}
		return w.Flush()
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedFile, "file", "seed.yaml", "path to the fixture file")
	rootCmd.AddCommand(seedCmd)
}
