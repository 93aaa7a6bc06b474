package testutils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/joho/godotenv"
	"github.com/nfrund/orgchat/internal/config"
)

// TestJWTSecret signs every token minted in tests.
const TestJWTSecret = "orgchat-test-secret"

// ConfigForTests builds a config from .env.test when the project has one and
// from built-in test defaults otherwise. The process environment is not read.
func ConfigForTests(t *testing.T) *config.Config {
	t.Helper()

	env := map[string]string{
		"JWT_SECRET":    TestJWTSecret,
		"APP_ENV":       "test",
		"SEND_TIMEOUT":  "2s",
		"PUBSUB_DRIVER": config.PubSubGoChannel,
	}
	if root, ok := projectRoot(); ok {
		if fileEnv, err := godotenv.Read(filepath.Join(root, ".env.test")); err == nil {
			for k, v := range fileEnv {
				env[k] = v
			}
		}
	}

	cfg, err := config.FromEnv(func(k string) string { return env[k] })
	if err != nil {
		t.Fatalf("failed to build test config: %v", err)
	}
	return cfg
}

// projectRoot walks up from the working directory to the directory holding go.mod.
func projectRoot() (string, bool) {
	path, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for {
		if _, err := os.Stat(filepath.Join(path, "go.mod")); err == nil {
			return path, true
		}
		if path == filepath.Dir(path) {
			return "", false
		}
		path = filepath.Dir(path)
	}
}
