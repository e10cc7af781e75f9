// Package config loads indexer configuration from a YAML file with
// environment overrides for endpoints and credentials.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the indexer.
type Config struct {
	Network    string           `yaml:"network"`
	IndexerID  string           `yaml:"indexer_id"` // stamped on checkpoints and audit rows
	Source     SourceConfig     `yaml:"source"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Window     WindowConfig     `yaml:"window"`
	Writer     WriterConfig     `yaml:"writer"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Notify     NotifyConfig     `yaml:"notify"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// SourceConfig configures the event source.
type SourceConfig struct {
	Mode             string   `yaml:"mode"`     // "geyser" | "replay"
	Endpoint         string   `yaml:"endpoint"` // geyser gRPC endpoint
	Token            string   `yaml:"token"`    // x-token auth, prefer YELLOWSTONE_GRPC_TOKEN
	Insecure         bool     `yaml:"insecure"` // plaintext gRPC, local endpoints only
	ReplayPath       string   `yaml:"replay_path"`
	CapturePath      string   `yaml:"capture_path"` // tee raw updates to a replayable capture file
	Programs         []string `yaml:"programs"` // program account allow-list
	IncludeVotes     bool     `yaml:"include_votes"`
	IncludeFailed    bool     `yaml:"include_failed"`
	Commitment       string   `yaml:"commitment"` // "processed" | "confirmed" | "finalized"
	FromSlot         uint64   `yaml:"from_slot"`  // explicit start, 0 = checkpoint or live tip
	MaxRecvMsgSizeMB int      `yaml:"max_recv_msg_size_mb"`

	InitialBackoffMs int `yaml:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms"`
	MaxAttempts      int `yaml:"max_attempts"` // 0 = retry forever
}

// ClickHouseConfig configures the storage connection.
type ClickHouseConfig struct {
	Addr     string `yaml:"addr"` // native protocol host:port
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"` // prefer CLICKHOUSE_PASSWORD
	Secure   bool   `yaml:"secure"`
}

// WindowConfig configures the ordering and dedup window.
type WindowConfig struct {
	SpanSlots       uint64 `yaml:"span_slots"` // slots behind the watermark before release
	Capacity        int    `yaml:"capacity"`   // max records held before forced flush
	FlushIntervalMs int    `yaml:"flush_interval_ms"`
}

// WriterConfig configures the batch writer.
type WriterConfig struct {
	BatchSize       int `yaml:"batch_size"`
	FlushIntervalMs int `yaml:"flush_interval_ms"`
	MaxRetries      int `yaml:"max_retries"`
	RetryBackoffMs  int `yaml:"retry_backoff_ms"`
}

// PipelineConfig configures stage concurrency and queue bounds.
type PipelineConfig struct {
	DecodeWorkers    int `yaml:"decode_workers"`
	RawQueueSize     int `yaml:"raw_queue_size"`
	DecodedQueueSize int `yaml:"decoded_queue_size"`
}

// CheckpointConfig configures checkpoint persistence.
type CheckpointConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// ArchiveConfig configures the optional parquet cold archive.
type ArchiveConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Backend      string `yaml:"backend"` // "local" | "gcs" | "s3"
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	LocalDir     string `yaml:"local_dir"`
	Endpoint     string `yaml:"endpoint"`      // custom S3 endpoint for B2/MinIO/R2
	Region       string `yaml:"region"`        // S3 region
	SegmentSlots uint64 `yaml:"segment_slots"` // slot span per archive segment
}

// NotifyConfig configures commit notifications.
type NotifyConfig struct {
	Mode     string `yaml:"mode"` // "disabled" | "file" | "http"
	Endpoint string `yaml:"endpoint"`
	Path     string `yaml:"path"`
	Strict   bool   `yaml:"strict"` // emission failure fails the batch
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Format string `yaml:"format"` // "json" | "text"
	Level  string `yaml:"level"`
}

// DefaultPrograms is the DEX program allow-list used when none is configured:
// Jupiter v6, Raydium AMM v5, Meteora DAMM v2, Orca Whirlpool.
var DefaultPrograms = []string{
	"JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4",
	"675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8",
	"cpamdpZCGKUy5JxQXB4dcpGPiikHawvSWAd6mEn1sGG",
	"whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc",
}

// Load reads the config file at path, applies environment overrides and
// defaults, and validates the result. An empty path yields a config built
// from environment and defaults alone.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides layers endpoint and credential environment variables over
// the file values. Secrets belong in the environment, not the file.
func (c *Config) applyEnvOverrides() {
	c.Source.Endpoint = getenvDefault("YELLOWSTONE_GRPC_ENDPOINT", c.Source.Endpoint)
	c.Source.Token = getenvDefault("YELLOWSTONE_GRPC_TOKEN", c.Source.Token)
	c.ClickHouse.Addr = getenvDefault("CLICKHOUSE_ADDR", c.ClickHouse.Addr)
	c.ClickHouse.Database = getenvDefault("CLICKHOUSE_DATABASE", c.ClickHouse.Database)
	c.ClickHouse.Username = getenvDefault("CLICKHOUSE_USER", c.ClickHouse.Username)
	c.ClickHouse.Password = getenvDefault("CLICKHOUSE_PASSWORD", c.ClickHouse.Password)

	if v := os.Getenv("INDEXER_NETWORK"); v != "" {
		c.Network = v
	}
	if v := os.Getenv("INDEXER_ID"); v != "" {
		c.IndexerID = v
	}
	if v := os.Getenv("INDEXER_CHECKPOINT_DIR"); v != "" {
		c.Checkpoint.Dir = v
	}
	if v := os.Getenv("INDEXER_METRICS_ADDR"); v != "" {
		c.Metrics.Address = v
	}
	if v := os.Getenv("INDEXER_BATCH_SIZE"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			c.Writer.BatchSize = parsed
		}
	}
}

// ApplyDefaults fills in default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Network == "" {
		c.Network = "mainnet"
	}
	if c.IndexerID == "" {
		c.IndexerID = "solana-indexer"
	}

	if c.Source.Mode == "" {
		c.Source.Mode = "geyser"
	}
	if c.Source.Commitment == "" {
		c.Source.Commitment = "confirmed"
	}
	if len(c.Source.Programs) == 0 {
		c.Source.Programs = DefaultPrograms
	}
	if c.Source.MaxRecvMsgSizeMB == 0 {
		c.Source.MaxRecvMsgSizeMB = 64
	}
	if c.Source.InitialBackoffMs == 0 {
		c.Source.InitialBackoffMs = 1000
	}
	if c.Source.MaxBackoffMs == 0 {
		c.Source.MaxBackoffMs = 30000
	}

	if c.ClickHouse.Addr == "" {
		c.ClickHouse.Addr = "localhost:9000"
	}
	if c.ClickHouse.Database == "" {
		c.ClickHouse.Database = "solana"
	}
	if c.ClickHouse.Username == "" {
		c.ClickHouse.Username = "default"
	}

	if c.Window.SpanSlots == 0 {
		c.Window.SpanSlots = 32
	}
	if c.Window.Capacity == 0 {
		c.Window.Capacity = 65536
	}
	if c.Window.FlushIntervalMs == 0 {
		c.Window.FlushIntervalMs = 1000
	}

	if c.Writer.BatchSize == 0 {
		c.Writer.BatchSize = 1000
	}
	if c.Writer.FlushIntervalMs == 0 {
		c.Writer.FlushIntervalMs = 5000
	}
	if c.Writer.MaxRetries == 0 {
		c.Writer.MaxRetries = 5
	}
	if c.Writer.RetryBackoffMs == 0 {
		c.Writer.RetryBackoffMs = 500
	}

	if c.Pipeline.DecodeWorkers == 0 {
		c.Pipeline.DecodeWorkers = 4
	}
	if c.Pipeline.RawQueueSize == 0 {
		c.Pipeline.RawQueueSize = 1024
	}
	if c.Pipeline.DecodedQueueSize == 0 {
		c.Pipeline.DecodedQueueSize = 1024
	}

	if c.Checkpoint.Dir == "" {
		c.Checkpoint.Dir = "./checkpoints"
	}

	if c.Archive.Backend == "" {
		c.Archive.Backend = "local"
	}
	if c.Archive.LocalDir == "" {
		c.Archive.LocalDir = "./archive"
	}
	if c.Archive.Prefix == "" {
		c.Archive.Prefix = "segments/"
	}
	if c.Archive.SegmentSlots == 0 {
		c.Archive.SegmentSlots = 1000
	}

	if c.Notify.Mode == "" {
		c.Notify.Mode = "disabled"
	}
	if c.Notify.Path == "" {
		c.Notify.Path = "./notify/commits.jsonl"
	}

	if c.Metrics.Address == "" {
		c.Metrics.Address = ":9090"
	}

	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	switch c.Source.Mode {
	case "geyser":
		if c.Source.Endpoint == "" {
			return fmt.Errorf("source.endpoint is required in geyser mode (or set YELLOWSTONE_GRPC_ENDPOINT)")
		}
	case "replay":
		if c.Source.ReplayPath == "" {
			return fmt.Errorf("source.replay_path is required in replay mode")
		}
	default:
		return fmt.Errorf("source.mode must be 'geyser' or 'replay', got: %s", c.Source.Mode)
	}

	switch c.Source.Commitment {
	case "processed", "confirmed", "finalized":
	default:
		return fmt.Errorf("source.commitment must be 'processed', 'confirmed' or 'finalized', got: %s", c.Source.Commitment)
	}

	if c.Writer.BatchSize < 1 || c.Writer.BatchSize > 100000 {
		return fmt.Errorf("writer.batch_size must be between 1 and 100000, got: %d", c.Writer.BatchSize)
	}
	if c.Window.Capacity < c.Writer.BatchSize {
		return fmt.Errorf("window.capacity (%d) must be >= writer.batch_size (%d)", c.Window.Capacity, c.Writer.BatchSize)
	}
	if c.Source.MaxBackoffMs < c.Source.InitialBackoffMs {
		return fmt.Errorf("source.max_backoff_ms (%d) must be >= source.initial_backoff_ms (%d)",
			c.Source.MaxBackoffMs, c.Source.InitialBackoffMs)
	}

	switch c.Archive.Backend {
	case "local", "gcs", "s3":
	default:
		return fmt.Errorf("archive.backend must be 'local', 'gcs' or 's3', got: %s", c.Archive.Backend)
	}
	if c.Archive.Enabled && c.Archive.Backend != "local" && c.Archive.Bucket == "" {
		return fmt.Errorf("archive.bucket is required for backend %s", c.Archive.Backend)
	}

	switch c.Notify.Mode {
	case "disabled", "file", "http":
	default:
		return fmt.Errorf("notify.mode must be 'disabled', 'file' or 'http', got: %s", c.Notify.Mode)
	}
	if c.Notify.Mode == "http" && c.Notify.Endpoint == "" {
		return fmt.Errorf("notify.endpoint is required in http mode")
	}

	return nil
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}
