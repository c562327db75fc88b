package app

import (
	"os"
	"slices"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Storage backends.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config holds the complete application configuration, loadable from
// environment variables (KART_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	Storage      string `default:"postgres" usage:"Storage backend: postgres or memory"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (KART_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (KART_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Memory       MemoryConfig
	Redis        RedisConfig
	Kafka        KafkaConfig
	Outbox       OutboxConfig
	Graceful     GracefulConfig
}

// MemoryConfig seeds the in-memory store.
type MemoryConfig struct {
	Catalog string `usage:"Products JSON file loaded at startup (.gz allowed)" flag:"memory-catalog"`
	APIKey  string `usage:"API key registered at startup" flag:"memory-api-key"`
	UserID  string `default:"dev" usage:"User owning the startup API key" flag:"memory-user-id"`
}

// RedisConfig enables Idempotency-Key handling when Addr or URL is set.
type RedisConfig struct {
	URL      string        `usage:"Redis URL (KART_REDIS_URL or REDIS_URL), overrides Addr" flag:"redis-url"`
	Addr     string        `usage:"Redis address" flag:"redis-addr"`
	Password string        `usage:"Redis password" flag:"redis-password"`
	DB       int           `default:"0" usage:"Redis database" flag:"redis-db"`
	TTL      time.Duration `default:"24h" usage:"Idempotency key lifetime" flag:"idempotency-ttl"`
}

// Enabled reports whether Redis is configured.
func (c RedisConfig) Enabled() bool {
	return c.URL != "" || c.Addr != ""
}

// KafkaConfig enables the outbox relay when Brokers is set.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka bootstrap brokers" flag:"kafka-brokers"`
	Topic   string   `default:"kart.orders" usage:"Topic for order events" flag:"kafka-topic"`
}

// OutboxConfig tunes the outbox relay.
type OutboxConfig struct {
	Interval    time.Duration `default:"500ms" usage:"Outbox poll interval" flag:"outbox-interval"`
	BatchSize   int           `default:"100" usage:"Events claimed per poll" flag:"outbox-batch-size"`
	Lease       time.Duration `default:"30s" usage:"How long a claimed event stays reserved" flag:"outbox-lease"`
	MaxAttempts int           `default:"10" usage:"Publish attempts before an event is parked" flag:"outbox-max-attempts"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "KART",
		Files:     []string{"config.yaml", "/etc/kart/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks option combinations.
func (c *Config) Validate() error {
	if !slices.Contains([]string{StoragePostgres, StorageMemory}, c.Storage) {
		return errors.Errorf("unknown storage %q: want %s or %s", c.Storage, StoragePostgres, StorageMemory)
	}
	if c.Storage == StoragePostgres && c.DatabaseURL == "" {
		return errors.New("database URL is required: set KART_DATABASE_URL or DATABASE_URL")
	}
	if c.Storage == StorageMemory && len(c.Kafka.Brokers) > 0 {
		return errors.New("kafka outbox requires postgres storage")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's KART_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if c.Redis.URL == "" {
		if v := os.Getenv("REDIS_URL"); v != "" {
			c.Redis.URL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
