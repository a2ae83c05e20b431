// Package config provides configuration for the booking store server and
// CLI: file loading (YAML, JSON, TOML), environment overlay and validation.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/arkilian/bookingstore/pkg/types"
)

// EnvPrefix prefixes every environment variable, e.g. BOOKINGSTORE_HTTP_ADDR.
const EnvPrefix = "BOOKINGSTORE"

// Config holds the store configuration.
type Config struct {
	// DataDir is the base directory for the catalog database
	DataDir string `json:"data_dir" yaml:"data_dir" toml:"data_dir" envconfig:"DATA_DIR"`

	// NodeID seeds booking id generation (0-1023); unique per process
	// sharing a catalog
	NodeID int64 `json:"node_id" yaml:"node_id" toml:"node_id" envconfig:"NODE_ID"`

	HTTP       HTTPConfig      `json:"http" yaml:"http" toml:"http" envconfig:"HTTP"`
	GRPC       GRPCConfig      `json:"grpc" yaml:"grpc" toml:"grpc" envconfig:"GRPC"`
	Partitions PartitionConfig `json:"partitions" yaml:"partitions" toml:"partitions" envconfig:"PARTITIONS"`
	Indexes    IndexConfig     `json:"indexes" yaml:"indexes" toml:"indexes" envconfig:"INDEXES"`
	Query      QueryConfig     `json:"query" yaml:"query" toml:"query" envconfig:"QUERY"`
	Aggregates AggregateConfig `json:"aggregates" yaml:"aggregates" toml:"aggregates" envconfig:"AGGREGATES"`
	Events     EventsConfig    `json:"events" yaml:"events" toml:"events" envconfig:"EVENTS"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Addr            string        `json:"addr" yaml:"addr" toml:"addr" envconfig:"ADDR"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout" toml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout" toml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `json:"idle_timeout" yaml:"idle_timeout" toml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" toml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// GRPCConfig holds gRPC ingest server configuration.
type GRPCConfig struct {
	Addr    string `json:"addr" yaml:"addr" toml:"addr" envconfig:"ADDR"`
	Enabled bool   `json:"enabled" yaml:"enabled" toml:"enabled" envconfig:"ENABLED"`
}

// PartitionConfig holds partition directory configuration.
type PartitionConfig struct {
	// Boundaries are the years defined when the catalog holds none yet
	Boundaries []int `json:"boundaries" yaml:"boundaries" toml:"boundaries" envconfig:"BOUNDARIES"`

	// LockTimeout bounds waits for a partition lock before Busy
	LockTimeout time.Duration `json:"lock_timeout" yaml:"lock_timeout" toml:"lock_timeout" envconfig:"LOCK_TIMEOUT"`

	BloomExpectedItems int     `json:"bloom_expected_items" yaml:"bloom_expected_items" toml:"bloom_expected_items" envconfig:"BLOOM_EXPECTED_ITEMS"`
	BloomFPR           float64 `json:"bloom_fpr" yaml:"bloom_fpr" toml:"bloom_fpr" envconfig:"BLOOM_FPR"`
}

// IndexConfig holds index definitions and the automatic index policy.
type IndexConfig struct {
	// Defaults are field tuples ("status,range_start") defined on first
	// start. Not read from the environment since tuples contain commas.
	Defaults []string `json:"defaults" yaml:"defaults" toml:"defaults" ignored:"true"`

	// AutoCreate enables the policy loop that defines indexes for field
	// tuples queries keep scanning for
	AutoCreate bool `json:"auto_create" yaml:"auto_create" toml:"auto_create" envconfig:"AUTO_CREATE"`

	// CreateThreshold is the unindexed scan count that triggers a definition
	CreateThreshold int64 `json:"create_threshold" yaml:"create_threshold" toml:"create_threshold" envconfig:"CREATE_THRESHOLD"`

	// DropThreshold is the scan count below which an automatic index is dropped
	DropThreshold int64 `json:"drop_threshold" yaml:"drop_threshold" toml:"drop_threshold" envconfig:"DROP_THRESHOLD"`

	CheckInterval time.Duration `json:"check_interval" yaml:"check_interval" toml:"check_interval" envconfig:"CHECK_INTERVAL"`
	MaxIndexes    int           `json:"max_indexes" yaml:"max_indexes" toml:"max_indexes" envconfig:"MAX_INDEXES"`

	// StatsWindow is how long predicate statistics are retained
	StatsWindow time.Duration `json:"stats_window" yaml:"stats_window" toml:"stats_window" envconfig:"STATS_WINDOW"`
}

// QueryConfig holds query execution configuration.
type QueryConfig struct {
	// Concurrency is the number of partitions scanned in parallel
	Concurrency int `json:"concurrency" yaml:"concurrency" toml:"concurrency" envconfig:"CONCURRENCY"`

	// RecentQueries is the size of the query record ring buffer
	RecentQueries int `json:"recent_queries" yaml:"recent_queries" toml:"recent_queries" envconfig:"RECENT_QUERIES"`

	SlowQueryThreshold time.Duration `json:"slow_query_threshold" yaml:"slow_query_threshold" toml:"slow_query_threshold" envconfig:"SLOW_QUERY_THRESHOLD"`
}

// AggregateConfig holds summary maintenance configuration.
type AggregateConfig struct {
	// AmountTolerance is the largest total difference not reported as drift
	AmountTolerance string `json:"amount_tolerance" yaml:"amount_tolerance" toml:"amount_tolerance" envconfig:"AMOUNT_TOLERANCE"`

	// RatingTolerance is the largest average difference not reported as drift
	RatingTolerance float64 `json:"rating_tolerance" yaml:"rating_tolerance" toml:"rating_tolerance" envconfig:"RATING_TOLERANCE"`

	// VerifySchedule is a cron spec ("@every 15m") for the drift verifier;
	// empty disables it
	VerifySchedule string `json:"verify_schedule" yaml:"verify_schedule" toml:"verify_schedule" envconfig:"VERIFY_SCHEDULE"`

	MinRating float64 `json:"min_rating" yaml:"min_rating" toml:"min_rating" envconfig:"MIN_RATING"`
	MaxRating float64 `json:"max_rating" yaml:"max_rating" toml:"max_rating" envconfig:"MAX_RATING"`
}

// EventsConfig holds the AMQP rating consumer configuration.
type EventsConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled" toml:"enabled" envconfig:"ENABLED"`
	URL        string `json:"url" yaml:"url" toml:"url" envconfig:"URL"`
	Exchange   string `json:"exchange" yaml:"exchange" toml:"exchange" envconfig:"EXCHANGE"`
	Queue      string `json:"queue" yaml:"queue" toml:"queue" envconfig:"QUEUE"`
	RoutingKey string `json:"routing_key" yaml:"routing_key" toml:"routing_key" envconfig:"ROUTING_KEY"`
	Prefetch   int    `json:"prefetch" yaml:"prefetch" toml:"prefetch" envconfig:"PREFETCH"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/bookingstore",
		NodeID:  1,
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		GRPC: GRPCConfig{
			Addr:    ":9090",
			Enabled: true,
		},
		Partitions: PartitionConfig{
			LockTimeout:        2 * time.Second,
			BloomExpectedItems: 65536,
			BloomFPR:           0.01,
		},
		Indexes: IndexConfig{
			Defaults: []string{
				"status,range_start",
				"subject_id,range_start",
				"resource_id,range_start",
				"range_start",
			},
			AutoCreate:      true,
			CreateThreshold: 100,
			DropThreshold:   10,
			CheckInterval:   5 * time.Minute,
			MaxIndexes:      10,
			StatsWindow:     time.Hour,
		},
		Query: QueryConfig{
			Concurrency:        8,
			RecentQueries:      1024,
			SlowQueryThreshold: 500 * time.Millisecond,
		},
		Aggregates: AggregateConfig{
			AmountTolerance: "0",
			RatingTolerance: 1e-9,
			VerifySchedule:  "@every 15m",
			MinRating:       1,
			MaxRating:       5,
		},
		Events: EventsConfig{
			Exchange:   "bookings",
			Queue:      "bookingstore.ratings",
			RoutingKey: "rating.recorded",
			Prefetch:   32,
		},
	}
}

// Resolve fills derived defaults.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/bookingstore"
	}
	if c.Query.Concurrency <= 0 {
		c.Query.Concurrency = 8
	}
	if c.Query.RecentQueries <= 0 {
		c.Query.RecentQueries = 1024
	}
	if c.Aggregates.AmountTolerance == "" {
		c.Aggregates.AmountTolerance = "0"
	}
}

// CatalogPath returns the path to the catalog database.
func (c *Config) CatalogPath() string {
	return filepath.Join(c.DataDir, "catalog.db")
}

// AmountTolerance returns the parsed total drift tolerance.
func (c *Config) AmountTolerance() decimal.Decimal {
	d, err := decimal.NewFromString(c.Aggregates.AmountTolerance)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// IndexDefaults parses the configured default index tuples.
func (c *Config) IndexDefaults() ([]types.Fields, error) {
	out := make([]types.Fields, 0, len(c.Indexes.Defaults))
	for _, s := range c.Indexes.Defaults {
		fs, err := types.ParseFields(s)
		if err != nil {
			return nil, fmt.Errorf("indexes.defaults: %w", err)
		}
		out = append(out, fs)
	}
	return out, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.NodeID < 0 || c.NodeID > 1023 {
		return fmt.Errorf("node_id must be between 0 and 1023, got %d", c.NodeID)
	}
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if c.GRPC.Enabled && c.GRPC.Addr == "" {
		return fmt.Errorf("grpc.addr is required when grpc is enabled")
	}

	seen := make(map[int]bool, len(c.Partitions.Boundaries))
	for _, y := range c.Partitions.Boundaries {
		if y < 1 || y > 9999 {
			return fmt.Errorf("partitions.boundaries: year %d out of range", y)
		}
		if seen[y] {
			return fmt.Errorf("partitions.boundaries: year %d repeated", y)
		}
		seen[y] = true
	}
	if c.Partitions.LockTimeout < 0 {
		return fmt.Errorf("partitions.lock_timeout must not be negative")
	}
	if c.Partitions.BloomFPR <= 0 || c.Partitions.BloomFPR >= 1 {
		return fmt.Errorf("partitions.bloom_fpr must be in (0, 1), got %g", c.Partitions.BloomFPR)
	}

	if _, err := c.IndexDefaults(); err != nil {
		return err
	}
	if c.Indexes.DropThreshold > c.Indexes.CreateThreshold {
		return fmt.Errorf("indexes.drop_threshold (%d) exceeds create_threshold (%d)",
			c.Indexes.DropThreshold, c.Indexes.CreateThreshold)
	}

	if c.Query.Concurrency < 1 {
		return fmt.Errorf("query.concurrency must be at least 1, got %d", c.Query.Concurrency)
	}

	tol, err := decimal.NewFromString(c.Aggregates.AmountTolerance)
	if err != nil || tol.IsNegative() {
		return fmt.Errorf("aggregates.amount_tolerance must be a non-negative decimal, got %q", c.Aggregates.AmountTolerance)
	}
	if c.Aggregates.RatingTolerance < 0 {
		return fmt.Errorf("aggregates.rating_tolerance must not be negative")
	}
	if c.Aggregates.MinRating > c.Aggregates.MaxRating {
		return fmt.Errorf("aggregates.min_rating exceeds max_rating")
	}
	if c.Aggregates.VerifySchedule != "" {
		if _, err := cron.ParseStandard(c.Aggregates.VerifySchedule); err != nil {
			return fmt.Errorf("aggregates.verify_schedule: %w", err)
		}
	}

	if c.Events.Enabled {
		if c.Events.URL == "" || c.Events.Queue == "" {
			return fmt.Errorf("events.url and events.queue are required when events are enabled")
		}
	}
	return nil
}

// LoadFromFile loads configuration from a YAML, JSON or TOML file on top of
// the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse TOML config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv overlays BOOKINGSTORE_* environment variables onto cfg.
// Unset variables leave the current value untouched.
func LoadFromEnv(cfg *Config) error {
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}
	return nil
}

// Load reads the optional file, applies the environment overlay, resolves
// defaults and validates.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", c.DataDir, err)
	}
	return nil
}
