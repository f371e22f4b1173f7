package config

import "testing"

func TestLoadReadsCriticalEnvKeys(t *testing.T) {
	t.Setenv("BIFROST_JWT_SIGNING_KEY", "supersecret")
	t.Setenv("BIFROST_ENV", "development")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DBDSN == "" {
		t.Fatal("expected sqlite DSN default to be applied")
	}
	if cfg.JWTSigningKey != "supersecret" {
		t.Fatalf("unexpected jwt signing key: %q", cfg.JWTSigningKey)
	}
}

func TestLoadRequiresDSNForServerBackends(t *testing.T) {
	t.Setenv("BIFROST_JWT_SIGNING_KEY", "supersecret")
	t.Setenv("BIFROST_DB_BACKEND", "postgres")

	if _, err := Load(); err == nil {
		t.Fatal("expected load to fail without a postgres DSN")
	}

	t.Setenv("BIFROST_DB_DSN", "host=localhost user=test dbname=test sslmode=disable")
	if _, err := Load(); err != nil {
		t.Fatalf("expected load with DSN to succeed: %v", err)
	}
}

func TestLoadReportsLegacyEnvWarnings(t *testing.T) {
	t.Setenv("BIFROST_JWT_SIGNING_KEY", "supersecret")
	t.Setenv("JWT_SIGNING_KEY", "legacy")
	t.Setenv("TRACING_ENABLED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.LegacyEnvWarnings) == 0 {
		t.Fatal("expected legacy env warnings")
	}
}

func TestLoadProductionRequiresRemoteTokenWhenRemoteConfigured(t *testing.T) {
	t.Setenv("BIFROST_JWT_SIGNING_KEY", "supersecret")
	t.Setenv("BIFROST_ENV", "production")
	t.Setenv("BIFROST_REMOTE_API_URL", "https://api.remote.example")
	t.Setenv("BIFROST_REMOTE_API_TOKEN", "")
	t.Setenv("BIFROST_REMOTE_TOKEN_FILE", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected production config load to fail without a remote token")
	}

	t.Setenv("BIFROST_REMOTE_API_TOKEN", "tok")
	if _, err := Load(); err != nil {
		t.Fatalf("expected production config load with token to succeed: %v", err)
	}
}

func TestLoadRejectsEmbedURLWithoutPlaceholder(t *testing.T) {
	t.Setenv("BIFROST_JWT_SIGNING_KEY", "supersecret")
	t.Setenv("BIFROST_EMBED_ENABLED", "true")
	t.Setenv("BIFROST_EMBED_PAGE_URL", "https://embed.example/watch")

	if _, err := Load(); err == nil {
		t.Fatal("expected load to reject an embed URL with no video id placeholder")
	}
}
