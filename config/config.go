package config

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Anysignal AnysignalConfig `yaml:"anysignal"`
	Logging   LoggingConfig   `yaml:"logging"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Store     StoreConfig     `yaml:"store"`
	Backfill  BackfillConfig  `yaml:"backfill"`
	API       APIConfig       `yaml:"api"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Runners   []string        `yaml:"runners"`
}

type AnysignalConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// ArchiveConfig points at the requester-pays market data archive.
type ArchiveConfig struct {
	Bucket               string                   `yaml:"bucket"`
	Region               string                   `yaml:"region"`
	RequestPayer         bool                     `yaml:"request_payer"`
	Endpoint             string                   `yaml:"endpoint"`
	PathStyle            bool                     `yaml:"path_style"`
	AccessKeyID          string                   `yaml:"access_key_id"`
	SecretAccessKey      string                   `yaml:"secret_access_key"`
	RequestsPerSecond    float64                  `yaml:"requests_per_second"`
	BurstSize            int                      `yaml:"burst_size"`
	MaxDecompressedBytes int                      `yaml:"max_decompressed_bytes"`
	Sources              map[string]EncodingRules `yaml:"sources"`
}

// EncodingRules selects the LZ4 container per archive vintage. Periods that
// start before LegacyBefore use LegacyEncoding.
type EncodingRules struct {
	Encoding       string `yaml:"encoding"`
	LegacyEncoding string `yaml:"legacy_encoding"`
	LegacyBefore   string `yaml:"legacy_before"`
}

type StoreConfig struct {
	Kind    string        `yaml:"kind"`
	QuestDB QuestDBConfig `yaml:"questdb"`
	Parquet ParquetConfig `yaml:"parquet"`
}

type QuestDBConfig struct {
	Addr                string        `yaml:"addr"`
	User                string        `yaml:"user"`
	Password            string        `yaml:"password"`
	QueryProtocol       string        `yaml:"query_protocol"`
	PGAddr              string        `yaml:"pg_addr"`
	PGDatabase          string        `yaml:"pg_database"`
	FlushThresholdBytes int           `yaml:"flush_threshold_bytes"`
	MaxBufferBytes      int           `yaml:"max_buffer_bytes"`
	RequestTimeout      time.Duration `yaml:"request_timeout"`
}

type ParquetConfig struct {
	Dir         string `yaml:"dir"`
	Compression string `yaml:"compression"`
	S3Bucket    string `yaml:"s3_bucket"`
	S3Prefix    string `yaml:"s3_prefix"`
}

type BackfillConfig struct {
	PeriodTimeout time.Duration  `yaml:"period_timeout"`
	Retry         RetryConfig    `yaml:"retry"`
	Schedule      ScheduleConfig `yaml:"schedule"`
}

type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
}

type ScheduleConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Interval     time.Duration `yaml:"interval"`
	LookbackDays int           `yaml:"lookback_days"`
}

type APIConfig struct {
	Address         string        `yaml:"address"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type MetricsConfig struct {
	Prometheus bool             `yaml:"prometheus"`
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
}

const (
	StoreQuestDB = "questdb"
	StoreParquet = "parquet"

	QueryHTTP   = "http"
	QueryPGWire = "pgwire"

	RunnerAPI      = "api"
	RunnerSchedule = "schedule"
	RunnerPoller   = "poller"
)

// Default returns the configuration used for every field the file leaves
// unset.
func Default() Config {
	return Config{
		Anysignal: AnysignalConfig{Name: "anysignal", Version: "dev"},
		Logging:   LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		Archive: ArchiveConfig{
			Bucket:               "hyperliquid-archive",
			Region:               "ap-northeast-1",
			RequestPayer:         true,
			MaxDecompressedBytes: 256 * 1024 * 1024,
		},
		Store: StoreConfig{
			Kind: StoreQuestDB,
			QuestDB: QuestDBConfig{
				Addr:                "localhost:9000",
				QueryProtocol:       QueryHTTP,
				PGAddr:              "localhost:8812",
				PGDatabase:          "qdb",
				FlushThresholdBytes: 64 * 1024 * 1024,
				MaxBufferBytes:      100 * 1024 * 1024,
			},
			Parquet: ParquetConfig{Dir: "data", Compression: "snappy"},
		},
		Backfill: BackfillConfig{
			Retry:    RetryConfig{BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second},
			Schedule: ScheduleConfig{Interval: time.Hour, LookbackDays: 2},
		},
		API:     APIConfig{Address: ":3000", ShutdownTimeout: 5 * time.Second},
		Metrics: MetricsConfig{Prometheus: true, CloudWatch: CloudWatchConfig{Namespace: "AnySignal"}},
		Runners: []string{RunnerAPI},
	}
}

func LoadConfig(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&config)

	config.Archive.Bucket = strings.TrimSpace(config.Archive.Bucket)
	config.Store.Kind = strings.ToLower(strings.TrimSpace(config.Store.Kind))
	config.Store.QuestDB.QueryProtocol = strings.ToLower(strings.TrimSpace(config.Store.QuestDB.QueryProtocol))

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyEnvOverrides(config *Config) {
	if v := os.Getenv("QUESTDB_ADDR"); v != "" {
		config.Store.QuestDB.Addr = strings.TrimSpace(v)
	}
	if v := os.Getenv("QUESTDB_USER"); v != "" {
		config.Store.QuestDB.User = strings.TrimSpace(v)
	}
	if v := os.Getenv("QUESTDB_PASSWORD"); v != "" {
		config.Store.QuestDB.Password = strings.TrimSpace(v)
	}
	if v := os.Getenv("QUESTDB_PG_ADDR"); v != "" {
		config.Store.QuestDB.PGAddr = strings.TrimSpace(v)
	}
	if v := os.Getenv("HYPERLIQUID_S3_BUCKET"); v != "" {
		config.Archive.Bucket = strings.TrimSpace(v)
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		config.Archive.Region = strings.TrimSpace(v)
	}
	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		config.Archive.AccessKeyID = strings.TrimSpace(v)
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		config.Archive.SecretAccessKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("API_ADDRESS"); v != "" {
		config.API.Address = strings.TrimSpace(v)
	}
	if v := os.Getenv("RUNNERS"); v != "" {
		config.Runners = splitList(v)
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// RunnerEnabled reports whether the named runner is listed in Runners.
func (c *Config) RunnerEnabled(name string) bool {
	for _, r := range c.Runners {
		if strings.EqualFold(r, name) {
			return true
		}
	}
	return false
}

func validateConfig(cfg *Config) error {
	if cfg.Anysignal.Name == "" {
		return fmt.Errorf("anysignal.name is required")
	}

	if cfg.Archive.Bucket == "" {
		return fmt.Errorf("archive.bucket is required")
	}
	if !isValidS3Bucket(cfg.Archive.Bucket) {
		return fmt.Errorf("archive.bucket '%s' is invalid", cfg.Archive.Bucket)
	}
	if cfg.Archive.Region == "" {
		return fmt.Errorf("archive.region is required")
	}
	if IsProductionLike(getAppEnvironment()) && (cfg.Archive.AccessKeyID == "" || cfg.Archive.SecretAccessKey == "") {
		return fmt.Errorf("archive.access_key_id and archive.secret_access_key are required in %s", getAppEnvironment())
	}
	if cfg.Archive.RequestsPerSecond < 0 {
		return fmt.Errorf("archive.requests_per_second must not be negative")
	}
	if cfg.Archive.MaxDecompressedBytes < 0 {
		return fmt.Errorf("archive.max_decompressed_bytes must not be negative")
	}
	for name, rules := range cfg.Archive.Sources {
		if err := validateEncodingRules(name, rules); err != nil {
			return err
		}
	}

	switch cfg.Store.Kind {
	case StoreQuestDB:
		if cfg.Store.QuestDB.Addr == "" {
			return fmt.Errorf("store.questdb.addr is required")
		}
		if _, _, err := net.SplitHostPort(cfg.Store.QuestDB.Addr); err != nil {
			return fmt.Errorf("store.questdb.addr '%s' must be host:port", cfg.Store.QuestDB.Addr)
		}
		switch cfg.Store.QuestDB.QueryProtocol {
		case QueryHTTP:
		case QueryPGWire:
			if cfg.Store.QuestDB.PGAddr == "" {
				return fmt.Errorf("store.questdb.pg_addr is required when query_protocol is pgwire")
			}
		default:
			return fmt.Errorf("store.questdb.query_protocol '%s' is invalid", cfg.Store.QuestDB.QueryProtocol)
		}
		if cfg.Store.QuestDB.FlushThresholdBytes <= 0 {
			return fmt.Errorf("store.questdb.flush_threshold_bytes must be greater than 0")
		}
		if cfg.Store.QuestDB.MaxBufferBytes > 0 && cfg.Store.QuestDB.FlushThresholdBytes >= cfg.Store.QuestDB.MaxBufferBytes {
			return fmt.Errorf("store.questdb.flush_threshold_bytes must be below store.questdb.max_buffer_bytes")
		}
	case StoreParquet:
		if cfg.Store.Parquet.Dir == "" && cfg.Store.Parquet.S3Bucket == "" {
			return fmt.Errorf("store.parquet.dir or store.parquet.s3_bucket is required")
		}
		if cfg.Store.Parquet.S3Bucket != "" && !isValidS3Bucket(cfg.Store.Parquet.S3Bucket) {
			return fmt.Errorf("store.parquet.s3_bucket '%s' is invalid", cfg.Store.Parquet.S3Bucket)
		}
	default:
		return fmt.Errorf("store.kind '%s' is invalid", cfg.Store.Kind)
	}

	if cfg.Backfill.Retry.MaxRetries < 0 {
		return fmt.Errorf("backfill.retry.max_retries must not be negative")
	}
	if cfg.Backfill.PeriodTimeout < 0 {
		return fmt.Errorf("backfill.period_timeout must not be negative")
	}
	if cfg.Backfill.Schedule.Enabled {
		if cfg.Backfill.Schedule.Interval <= 0 {
			return fmt.Errorf("backfill.schedule.interval must be greater than 0")
		}
		if cfg.Backfill.Schedule.LookbackDays <= 0 {
			return fmt.Errorf("backfill.schedule.lookback_days must be greater than 0")
		}
	}

	if cfg.RunnerEnabled(RunnerAPI) && cfg.API.Address == "" {
		return fmt.Errorf("api.address is required when the api runner is enabled")
	}

	return nil
}

func validateEncodingRules(source string, rules EncodingRules) error {
	if !isValidEncoding(rules.Encoding) {
		return fmt.Errorf("archive.sources.%s.encoding '%s' is invalid", source, rules.Encoding)
	}
	if rules.LegacyBefore == "" {
		return nil
	}
	if _, err := time.Parse("2006-01-02", rules.LegacyBefore); err != nil {
		return fmt.Errorf("archive.sources.%s.legacy_before must be YYYY-MM-DD: %w", source, err)
	}
	if rules.LegacyEncoding == "" || !isValidEncoding(rules.LegacyEncoding) {
		return fmt.Errorf("archive.sources.%s.legacy_encoding '%s' is invalid", source, rules.LegacyEncoding)
	}
	return nil
}

func isValidEncoding(enc string) bool {
	switch strings.ToLower(enc) {
	case "", "frame", "block":
		return true
	default:
		return false
	}
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
