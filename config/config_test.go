package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeTempConfig writes content to a config file in a test directory and
// returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

// clearEnv isolates a test from the overrides LoadConfig honours.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"APP_ENV", "QUESTDB_ADDR", "QUESTDB_USER", "QUESTDB_PASSWORD", "QUESTDB_PG_ADDR",
		"HYPERLIQUID_S3_BUCKET", "AWS_REGION", "AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY",
		"API_ADDRESS", "RUNNERS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadConfig(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `anysignal:
  name: "TestApp"
  version: "1.0"
archive:
  bucket: hyperliquid-archive
  region: ap-northeast-1
  requests_per_second: 5
  sources:
    asset_ctxs:
      encoding: frame
      legacy_encoding: block
      legacy_before: "2023-06-01"
store:
  kind: questdb
  questdb:
    addr: "questdb:9000"
    flush_threshold_bytes: 1048576
backfill:
  period_timeout: 2m
  retry:
    max_retries: 2
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Anysignal.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.Anysignal.Name)
	}
	if cfg.Store.QuestDB.Addr != "questdb:9000" {
		t.Errorf("unexpected addr: %s", cfg.Store.QuestDB.Addr)
	}
	if cfg.Store.QuestDB.FlushThresholdBytes != 1048576 {
		t.Errorf("unexpected threshold: %d", cfg.Store.QuestDB.FlushThresholdBytes)
	}
	if cfg.Store.QuestDB.QueryProtocol != QueryHTTP {
		t.Errorf("default query protocol lost: %s", cfg.Store.QuestDB.QueryProtocol)
	}
	if cfg.Backfill.PeriodTimeout != 2*time.Minute {
		t.Errorf("unexpected period timeout: %s", cfg.Backfill.PeriodTimeout)
	}
	if cfg.Backfill.Retry.MaxRetries != 2 {
		t.Errorf("unexpected retries: %d", cfg.Backfill.Retry.MaxRetries)
	}
	if cfg.Archive.Sources["asset_ctxs"].LegacyEncoding != "block" {
		t.Errorf("unexpected sources: %+v", cfg.Archive.Sources)
	}
	if !cfg.RunnerEnabled(RunnerAPI) {
		t.Errorf("api runner should be enabled by default")
	}
}

func TestLoadConfigDefaultsWithoutFile(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Archive.Bucket != "hyperliquid-archive" || cfg.Archive.Region != "ap-northeast-1" {
		t.Errorf("unexpected archive defaults: %+v", cfg.Archive)
	}
	if !cfg.Archive.RequestPayer {
		t.Errorf("request payer should default on")
	}
	if cfg.Store.QuestDB.FlushThresholdBytes != 64*1024*1024 {
		t.Errorf("unexpected threshold: %d", cfg.Store.QuestDB.FlushThresholdBytes)
	}
	if cfg.Archive.MaxDecompressedBytes != 4*cfg.Store.QuestDB.FlushThresholdBytes {
		t.Errorf("unexpected decompress limit: %d", cfg.Archive.MaxDecompressedBytes)
	}
	if cfg.Backfill.Retry.MaxRetries != 0 || cfg.Backfill.PeriodTimeout != 0 {
		t.Errorf("retry and timeout must default off: %+v", cfg.Backfill)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("QUESTDB_ADDR", "db.internal:9000")
	t.Setenv("QUESTDB_USER", "admin")
	t.Setenv("HYPERLIQUID_S3_BUCKET", " mirror-bucket ")
	t.Setenv("RUNNERS", "API, schedule")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Store.QuestDB.Addr != "db.internal:9000" || cfg.Store.QuestDB.User != "admin" {
		t.Errorf("questdb overrides not applied: %+v", cfg.Store.QuestDB)
	}
	if cfg.Archive.Bucket != "mirror-bucket" {
		t.Errorf("bucket override not trimmed: %q", cfg.Archive.Bucket)
	}
	if !cfg.RunnerEnabled(RunnerSchedule) || !cfg.RunnerEnabled(RunnerAPI) {
		t.Errorf("unexpected runners: %v", cfg.Runners)
	}
}

func TestValidateConfigErrors(t *testing.T) {
	clearEnv(t)
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad bucket", func(c *Config) { c.Archive.Bucket = "Bad_Bucket" }, "archive.bucket"},
		{"bad addr", func(c *Config) { c.Store.QuestDB.Addr = "localhost" }, "host:port"},
		{"bad protocol", func(c *Config) { c.Store.QuestDB.QueryProtocol = "grpc" }, "query_protocol"},
		{"threshold over cap", func(c *Config) { c.Store.QuestDB.FlushThresholdBytes = 200 << 20 }, "max_buffer_bytes"},
		{"bad store", func(c *Config) { c.Store.Kind = "influx" }, "store.kind"},
		{"bad encoding", func(c *Config) {
			c.Archive.Sources = map[string]EncodingRules{"l2_book": {Encoding: "zstd"}}
		}, "encoding"},
		{"legacy without encoding", func(c *Config) {
			c.Archive.Sources = map[string]EncodingRules{"asset_ctxs": {LegacyBefore: "2023-06-01"}}
		}, "legacy_encoding"},
		{"negative retries", func(c *Config) { c.Backfill.Retry.MaxRetries = -1 }, "max_retries"},
		{"negative decompress limit", func(c *Config) { c.Archive.MaxDecompressedBytes = -1 }, "max_decompressed_bytes"},
		{"schedule without interval", func(c *Config) {
			c.Backfill.Schedule = ScheduleConfig{Enabled: true, LookbackDays: 1}
		}, "schedule.interval"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := Default()
			c.mutate(&cfg)
			err := validateConfig(&cfg)
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), c.wantErr) {
				t.Fatalf("error %q does not mention %q", err, c.wantErr)
			}
		})
	}
}

func TestProductionRequiresArchiveCredentials(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "prod")

	if _, err := LoadConfig(""); err == nil {
		t.Fatalf("expected missing credentials to fail in production")
	}

	t.Setenv("AWS_ACCESS_KEY_ID", "AKIA")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret")
	if _, err := LoadConfig(""); err != nil {
		t.Fatalf("LoadConfig failed with credentials: %v", err)
	}
}

func TestResolveConfigPath(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	base := filepath.Join(dir, "config.yml")
	prod := filepath.Join(dir, "config.production.yml")
	if err := os.WriteFile(prod, []byte("{}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if got := ResolveConfigPath(base); got != base {
		t.Errorf("development should keep base path, got %s", got)
	}
	t.Setenv("APP_ENV", "production")
	if got := ResolveConfigPath(base); got != prod {
		t.Errorf("production should pick %s, got %s", prod, got)
	}
}

func TestIsValidS3Bucket(t *testing.T) {
	cases := []struct {
		name  string
		valid bool
	}{
		{"hyperliquid-archive", true},
		{"Invalid", false},
		{"ab", false},
		{"my..bucket", false},
	}
	for _, c := range cases {
		if got := isValidS3Bucket(c.name); got != c.valid {
			t.Errorf("isValidS3Bucket(%q) = %v, want %v", c.name, got, c.valid)
		}
	}
}
