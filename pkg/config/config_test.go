package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoadParsesFullConfig(t *testing.T) {
	p := writeConfig(t, `
server:
  address: "127.0.0.1"
  port: 9090
  db_path: "/tmp/bb"
logging:
  level: debug
notify:
  preview_length: 80
  queue_capacity: 1024
  max_pooled_buffer_bytes: "64KB"
identity:
  token_secret: "s3cret"
  valkey:
    addr: "127.0.0.1:6379"
    ttl: "90s"
retention:
  enabled: true
  cron: "0 3 * * *"
  period: "720h"
  batch_size: 500
  dry_run: true
security:
  cors:
    allowed_origins: ["https://app.example.com"]
  rate_limit:
    rps: 20
    burst: 40
  ip_whitelist: ["10.0.0.1"]
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr() != "127.0.0.1:9090" {
		t.Fatalf("unexpected addr %q", cfg.Addr())
	}
	if cfg.PreviewLength() != 80 {
		t.Fatalf("unexpected preview length %d", cfg.PreviewLength())
	}
	if cfg.QueueCapacity() != 1024 {
		t.Fatalf("unexpected queue capacity %d", cfg.QueueCapacity())
	}
	if cfg.Notify.MaxPooledBufferBytes.Int64() != 64*1000 {
		t.Fatalf("unexpected buffer cap %d", cfg.Notify.MaxPooledBufferBytes.Int64())
	}
	if cfg.Identity.Valkey.TTL.Duration() != 90*time.Second {
		t.Fatalf("unexpected ttl %v", cfg.Identity.Valkey.TTL.Duration())
	}
	if cfg.Retention.Period.Duration() != 720*time.Hour {
		t.Fatalf("unexpected retention period %v", cfg.Retention.Period.Duration())
	}
	if !cfg.Retention.Enabled || !cfg.Retention.DryRun || cfg.Retention.BatchSize != 500 {
		t.Fatalf("unexpected retention config: %+v", cfg.Retention)
	}
	if len(cfg.Security.CORS.AllowedOrigins) != 1 || cfg.Security.RateLimit.RPS != 20 {
		t.Fatalf("unexpected security config: %+v", cfg.Security)
	}
}

func TestDefaults(t *testing.T) {
	var cfg Config
	if cfg.Addr() != "0.0.0.0:8080" {
		t.Fatalf("unexpected default addr %q", cfg.Addr())
	}
	if cfg.PreviewLength() != 50 {
		t.Fatalf("unexpected default preview length %d", cfg.PreviewLength())
	}
	if cfg.QueueCapacity() != 4096 {
		t.Fatalf("unexpected default queue capacity %d", cfg.QueueCapacity())
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestDurationNumericSeconds(t *testing.T) {
	p := writeConfig(t, `
identity:
  valkey:
    ttl: 30
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Identity.Valkey.TTL.Duration() != 30*time.Second {
		t.Fatalf("numeric duration should mean seconds, got %v", cfg.Identity.Valkey.TTL.Duration())
	}
}

func TestSizeBytesPlainInteger(t *testing.T) {
	p := writeConfig(t, `
notify:
  max_pooled_buffer_bytes: 4096
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Notify.MaxPooledBufferBytes.Int64() != 4096 {
		t.Fatalf("unexpected size %d", cfg.Notify.MaxPooledBufferBytes.Int64())
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("BEACONBOND_ADDR", "0.0.0.0:7000")
	t.Setenv("BEACONBOND_DB_PATH", "/tmp/envdb")
	t.Setenv("BEACONBOND_TOKEN_SECRET", "env-secret")
	t.Setenv("BEACONBOND_NOTIFY_PREVIEW_LENGTH", "33")
	t.Setenv("BEACONBOND_CORS_ORIGINS", "https://a.example, https://b.example")

	var cfg Config
	if !LoadEnvOverrides(&cfg) {
		t.Fatalf("expected env to be used")
	}
	if cfg.Addr() != "0.0.0.0:7000" {
		t.Fatalf("unexpected addr %q", cfg.Addr())
	}
	if cfg.Server.DBPath != "/tmp/envdb" {
		t.Fatalf("unexpected db path %q", cfg.Server.DBPath)
	}
	if cfg.Identity.TokenSecret != "env-secret" {
		t.Fatalf("unexpected token secret")
	}
	if cfg.PreviewLength() != 33 {
		t.Fatalf("unexpected preview length %d", cfg.PreviewLength())
	}
	if len(cfg.Security.CORS.AllowedOrigins) != 2 {
		t.Fatalf("unexpected origins %v", cfg.Security.CORS.AllowedOrigins)
	}
}

func TestResolveConfigPath(t *testing.T) {
	if got := ResolveConfigPath("./from-flag.yaml", true); got != "./from-flag.yaml" {
		t.Fatalf("flag should win, got %q", got)
	}
	t.Setenv("BEACONBOND_CONFIG", "/etc/bb/config.yaml")
	if got := ResolveConfigPath("./default.yaml", false); got != "/etc/bb/config.yaml" {
		t.Fatalf("env should win over default, got %q", got)
	}
}
