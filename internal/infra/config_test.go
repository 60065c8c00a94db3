package infra

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func noDotEnv(t *testing.T) LoadOptions {
	t.Helper()
	return LoadOptions{DotEnv: []string{filepath.Join(t.TempDir(), "missing.env")}}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(noDotEnv(t))
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Quota.Free.Daily != 3 || cfg.Quota.Free.Concurrent != 1 {
		t.Fatalf("free quota mismatch: %+v", cfg.Quota.Free)
	}
	if cfg.Quota.Pro.Daily != 0 || cfg.Quota.Pro.Concurrent != 5 {
		t.Fatalf("pro quota mismatch: %+v", cfg.Quota.Pro)
	}
	if cfg.Retention.Window != 24*time.Hour {
		t.Fatalf("retention window mismatch: %s", cfg.Retention.Window)
	}
	if cfg.Worker.DeadTimeout != 2*time.Minute {
		t.Fatalf("dead timeout mismatch: %s", cfg.Worker.DeadTimeout)
	}
}

func TestLoadConfigEnvOverridesUnderscoredKeys(t *testing.T) {
	t.Setenv("MEDIAFLOW_WORKER_DEAD_TIMEOUT", "45s")
	t.Setenv("MEDIAFLOW_QUOTA_FREE_DAILY", "10")
	t.Setenv("MEDIAFLOW_HTTP_RATE_LIMIT_PER_MIN", "5")
	t.Setenv("MEDIAFLOW_NOT_A_KEY", "ignored")

	cfg, err := LoadConfig(noDotEnv(t))
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Worker.DeadTimeout != 45*time.Second {
		t.Fatalf("dead timeout mismatch: %s", cfg.Worker.DeadTimeout)
	}
	if cfg.Quota.Free.Daily != 10 {
		t.Fatalf("free daily mismatch: %d", cfg.Quota.Free.Daily)
	}
	if cfg.HTTP.RateLimitPerMin != 5 {
		t.Fatalf("rate limit mismatch: %d", cfg.HTTP.RateLimitPerMin)
	}
}

func TestLoadConfigLegacyEnvAndPrecedence(t *testing.T) {
	t.Setenv("PORT", "1919")
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("MEDIAFLOW_STORE_BACKEND", "postgres")

	cfg, err := LoadConfig(noDotEnv(t))
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.HTTP.Port != "1919" {
		t.Fatalf("port mismatch: got %q", cfg.HTTP.Port)
	}
	if cfg.Store.DatabaseURL != "postgres://example" {
		t.Fatalf("database url mismatch: %q", cfg.Store.DatabaseURL)
	}

	t.Setenv("MEDIAFLOW_HTTP_PORT", "2020")
	cfg, err = LoadConfig(noDotEnv(t))
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.HTTP.Port != "2020" {
		t.Fatalf("prefixed env should win over legacy name, got %q", cfg.HTTP.Port)
	}
}

func TestLoadConfigFileAndFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mediaflow.yaml")
	body := "worker:\n  size: 9\nretention:\n  window: 2h\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("worker.size", 4, "")
	flags.String("http.port", "8080", "")
	if err := flags.Parse([]string{"--http.port=7070"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	opts := noDotEnv(t)
	opts.File = path
	opts.Flags = flags
	cfg, err := LoadConfig(opts)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Worker.Size != 9 {
		t.Fatalf("unchanged flag must not override the file, got %d", cfg.Worker.Size)
	}
	if cfg.Retention.Window != 2*time.Hour {
		t.Fatalf("retention window mismatch: %s", cfg.Retention.Window)
	}
	if cfg.HTTP.Port != "7070" {
		t.Fatalf("port mismatch: %q", cfg.HTTP.Port)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.Backend = "postgres"
	cfg.Blob.Backend = "s3"
	cfg.Worker.Size = 0
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"store.database_url", "blob.s3.bucket", "worker.size"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %s", err, want)
		}
	}

	cfg = DefaultConfig()
	cfg.App.Env = "production"
	if err := cfg.Validate(); err == nil {
		t.Fatal("dev header must be rejected in production")
	}
}

func TestConfigValidateAuth(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Auth.DevHeader = false
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "auth.oidc_issuer") {
		t.Fatalf("expected an auth error, got %v", err)
	}

	cfg.Auth.OIDCIssuer = "https://accounts.google.com"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("an OIDC issuer alone should satisfy auth: %v", err)
	}
}
