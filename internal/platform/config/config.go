// Package config loads process configuration: struct defaults first, then
// environment variables prefixed SUPPORTERHUB_. A double underscore separates
// sections, so SUPPORTERHUB_JOBS__LOCK_TTL sets jobs.lock_ttl.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const EnvPrefix = "SUPPORTERHUB_"

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Log      LogConfig      `koanf:"log"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`
	Kafka    KafkaConfig    `koanf:"kafka"`
	Jobs     JobsConfig     `koanf:"jobs"`
	Sources  SourcesConfig  `koanf:"sources"`
}

// ServerConfig is the ops HTTP listener.
type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	// AdminToken guards /admin routes. Empty leaves them open.
	AdminToken      string        `koanf:"admin_token"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// DatabaseConfig selects the store. An empty URL runs on the in-memory store.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ApplySchema     bool          `koanf:"apply_schema"`
}

// RedisConfig backs the job locks. An empty URL falls back to in-process locks.
type RedisConfig struct {
	URL          string        `koanf:"url"`
	PoolSize     int           `koanf:"pool_size"`
	MinIdleConns int           `koanf:"min_idle_conns"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// KafkaConfig drives the inbound consumer. Each source reads from
// TopicPrefix + source name.
type KafkaConfig struct {
	Brokers      string        `koanf:"brokers"`
	Group        string        `koanf:"group"`
	TopicPrefix  string        `koanf:"topic_prefix"`
	MaxAttempts  int           `koanf:"max_attempts"`
	RetryInitial time.Duration `koanf:"retry_initial"`
	RetryMax     time.Duration `koanf:"retry_max"`
	Partitions   int32         `koanf:"partitions"`
	Replication  int16         `koanf:"replication"`
	EnsureTopics bool          `koanf:"ensure_topics"`
}

// BrokerList splits the comma-separated broker list.
func (k KafkaConfig) BrokerList() []string {
	var out []string
	for _, b := range strings.Split(k.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// JobsConfig schedules the batch jobs. A zero interval disables a job's
// timer; it can still be triggered from the ops API.
type JobsConfig struct {
	ClassifierInterval time.Duration `koanf:"classifier_interval"`
	ReconcileInterval  time.Duration `koanf:"reconcile_interval"`
	TagSyncInterval    time.Duration `koanf:"tagsync_interval"`
	PollInterval       time.Duration `koanf:"poll_interval"`
	LockTTL            time.Duration `koanf:"lock_ttl"`
	Concurrency        int           `koanf:"concurrency"`
	PollLookback       time.Duration `koanf:"poll_lookback"`
}

// SourceConfig points at one source's change-feed connector.
type SourceConfig struct {
	FeedURL string `koanf:"feed_url"`
	Token   string `koanf:"token"`
	// PollKind enables polling for this source under the given entity kind.
	PollKind string `koanf:"poll_kind"`
}

type SourcesConfig struct {
	Shopify         SourceConfig `koanf:"shopify"`
	FutureTicketing SourceConfig `koanf:"futureticketing"`
	Stripe          SourceConfig `koanf:"stripe"`
	GoCardless      SourceConfig `koanf:"gocardless"`
	Mailchimp       SourceConfig `koanf:"mailchimp"`

	CallTimeout  time.Duration `koanf:"call_timeout"`
	MaxRetries   uint64        `koanf:"max_retries"`
	RetryInitial time.Duration `koanf:"retry_initial"`
	RetryMax     time.Duration `koanf:"retry_max"`
	TripAfter    uint32        `koanf:"trip_after"`
	OpenFor      time.Duration `koanf:"open_for"`
}

func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 15 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Database: DatabaseConfig{
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: KafkaConfig{
			Group:        "supporterhub-ingestion",
			TopicPrefix:  "supporterhub.inbound.",
			MaxAttempts:  5,
			RetryInitial: 200 * time.Millisecond,
			RetryMax:     5 * time.Second,
			Partitions:   3,
			Replication:  1,
		},
		Jobs: JobsConfig{
			ClassifierInterval: time.Hour,
			ReconcileInterval:  6 * time.Hour,
			TagSyncInterval:    time.Hour,
			PollInterval:       5 * time.Minute,
			LockTTL:            30 * time.Minute,
			Concurrency:        8,
			PollLookback:       24 * time.Hour,
		},
		Sources: SourcesConfig{
			CallTimeout:  15 * time.Second,
			MaxRetries:   3,
			RetryInitial: 500 * time.Millisecond,
			RetryMax:     5 * time.Second,
			TripAfter:    5,
			OpenFor:      time.Minute,
		},
	}
}

// Load layers the environment over Defaults.
func Load() (Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load config defaults: %w", err)
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("load config from environment: %w", err)
	}
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// envKey maps SUPPORTERHUB_SOURCES__SHOPIFY__FEED_URL to sources.shopify.feed_url.
func envKey(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

func (c Config) Validate() error {
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text, got %q", c.Log.Format)
	}
	if c.Kafka.Brokers != "" && c.Kafka.MaxAttempts < 1 {
		return fmt.Errorf("kafka.max_attempts must be at least 1")
	}
	if c.Jobs.Concurrency < 1 {
		return fmt.Errorf("jobs.concurrency must be at least 1")
	}
	return nil
}
