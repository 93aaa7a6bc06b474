// Package seed loads organizations, users and groups from a YAML fixture.
package seed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/nfrund/orgchat/internal/domain"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Fixture is the top-level document of a seed file.
type Fixture struct {
	Organizations []Organization `yaml:"organizations" validate:"required,min=1,dive"`
}

// Organization is one tenant with its users and groups.
type Organization struct {
	Name   string  `yaml:"name" validate:"required"`
	Users  []User  `yaml:"users" validate:"required,min=1,dive"`
	Groups []Group `yaml:"groups" validate:"dive"`
}

// User is a fixture user. Role defaults to MEMBER.
type User struct {
	Email string `yaml:"email" validate:"required,email"`
	Role  string `yaml:"role" validate:"omitempty,oneof=ADMIN MEMBER"`
}

// Group is a fixture group. CreatedBy and Members reference users of the
// same organization by email.
type Group struct {
	Name      string   `yaml:"name" validate:"required"`
	CreatedBy string   `yaml:"createdBy" validate:"required,email"`
	Members   []string `yaml:"members" validate:"dive,email"`
}

// Repos is the store surface a seed run writes to.
type Repos interface {
	domain.UserRepository
	domain.GroupRepository
}

// Result lists everything a seed run created.
type Result struct {
	Organizations []domain.Organization
	Users         []domain.User
	Groups        []domain.Group
}

var validate = validator.New()

// Load reads and validates the fixture at path on fs.
func Load(fs afero.Fs, path string) (*Fixture, error) {
	raw, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates a fixture document.
func Parse(raw []byte) (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	if err := validate.Struct(&f); err != nil {
		return nil, fmt.Errorf("invalid fixture: %w", err)
	}
	return &f, nil
}

// Apply creates every organization of f in repos. Organizations must not
// exist yet; a duplicate name fails with a conflict.
func Apply(ctx context.Context, repos Repos, f *Fixture) (*Result, error) {
	res := &Result{}
	for _, o := range f.Organizations {
		if err := applyOrganization(ctx, repos, o, res); err != nil {
			return res, fmt.Errorf("organization %q: %w", o.Name, err)
		}
	}
	return res, nil
}

func applyOrganization(ctx context.Context, repos Repos, o Organization, res *Result) error {
	org, err := repos.CreateOrganization(ctx, o.Name)
	if err != nil {
		return err
	}
	res.Organizations = append(res.Organizations, *org)

	byEmail := make(map[string]*domain.User, len(o.Users))
	for _, u := range o.Users {
		role := domain.Role(u.Role)
		if role == "" {
			role = domain.RoleMember
		}
		user, err := repos.CreateUser(ctx, org.ID, u.Email, role)
		if err != nil {
			return fmt.Errorf("user %s: %w", u.Email, err)
		}
		byEmail[user.Email] = user
		res.Users = append(res.Users, *user)
	}

	lookup := func(email string) (*domain.User, error) {
		u, ok := byEmail[strings.ToLower(strings.TrimSpace(email))]
		if !ok {
			return nil, fmt.Errorf("unknown user %s", email)
		}
		return u, nil
	}

	for _, g := range o.Groups {
		creator, err := lookup(g.CreatedBy)
		if err != nil {
			return fmt.Errorf("group %q: %w", g.Name, err)
		}
		name, err := domain.NormalizeGroupName(g.Name)
		if err != nil {
			return fmt.Errorf("group %q: %w", g.Name, err)
		}
		group, err := repos.CreateGroup(ctx, org.ID, name, creator.ID)
		if err != nil {
			return fmt.Errorf("group %q: %w", g.Name, err)
		}
		for _, email := range g.Members {
			member, err := lookup(email)
			if err != nil {
				return fmt.Errorf("group %q: %w", g.Name, err)
			}
			if member.ID == creator.ID {
				continue
			}
			if err := repos.AddMember(ctx, group.ID, member.ID); err != nil {
				return fmt.Errorf("group %q member %s: %w", g.Name, email, err)
			}
		}
		res.Groups = append(res.Groups, *group)
	}

	slog.Info("Seeded organization", "org", org.Name, "users", len(o.Users), "groups", len(o.Groups))
	return nil
}
