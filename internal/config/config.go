package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "chatrelay"

const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverBadger   = "badger"
)

const minCodecKeyLen = 16

type Config struct {
	ServerAddr     string   `envconfig:"SERVER_ADDR" default:"localhost:8000"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS"`
	AccessLog      bool     `envconfig:"ACCESS_LOG" default:"true"`
	LogLevel       string   `envconfig:"LOG_LEVEL" default:"info"`

	StoreDriver     string        `envconfig:"STORE_DRIVER" default:"postgres"`
	StoreTimeout    time.Duration `envconfig:"STORE_TIMEOUT" default:"5s"`
	DatabaseDSN     string        `envconfig:"DATABASE_DSN"`
	AutoMigrate     bool          `envconfig:"AUTO_MIGRATE"`
	MongoURI        string        `envconfig:"MONGO_URI"`
	MongoDatabase   string        `envconfig:"MONGO_DATABASE" default:"MolifyChat"`
	MongoCollection string        `envconfig:"MONGO_COLLECTION" default:"system_chatRoom"`
	BadgerPath      string        `envconfig:"BADGER_PATH"`

	RedisURL            string `envconfig:"REDIS_URL"`
	NotifyChannelPrefix string `envconfig:"NOTIFY_CHANNEL_PREFIX" default:"chat"`

	// CodecSecret is base64. Empty stores message content unsealed.
	CodecSecret string `envconfig:"CODEC_SECRET"`
	CodecKey    []byte `ignored:"true"`

	CacheIdleTTL       time.Duration `envconfig:"CACHE_IDLE_TTL" default:"24h"`
	CacheSweepInterval time.Duration `envconfig:"CACHE_SWEEP_INTERVAL" default:"1m"`
}

// Load reads configuration from the environment, after loading envFile into
// it when one is given. Variables already set take precedence over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}

	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeCodecSecret(base64Secret string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		return nil, err
	}
	if len(key) < minCodecKeyLen {
		return nil, fmt.Errorf("codec secret must decode to at least %d bytes", minCodecKeyLen)
	}
	return key, nil
}

// Validate checks the configuration and decodes CodecKey.
func (c *Config) Validate() error {
	if c.ServerAddr == "" {
		return errors.New("server address cannot be empty")
	}

	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseDSN == "" {
			return errors.New("database DSN cannot be empty")
		}
	case DriverMongo:
		if c.MongoURI == "" {
			return errors.New("mongo URI cannot be empty")
		}
		if c.MongoDatabase == "" || c.MongoCollection == "" {
			return errors.New("mongo database and collection cannot be empty")
		}
	case DriverBadger:
	default:
		return fmt.Errorf("unknown store driver %q", c.StoreDriver)
	}

	if c.StoreTimeout <= 0 {
		return errors.New("store timeout must be positive")
	}
	if c.CacheIdleTTL < 0 {
		return errors.New("cache idle TTL cannot be negative")
	}
	if c.CacheIdleTTL > 0 && c.CacheSweepInterval <= 0 {
		return errors.New("cache sweep interval must be positive")
	}

	c.CodecKey = nil
	if c.CodecSecret != "" {
		key, err := decodeCodecSecret(c.CodecSecret)
		if err != nil {
			return fmt.Errorf("decode codec secret: %w", err)
		}
		c.CodecKey = key
	}

	return nil
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return level
}
