package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY=" // 32 bytes

func validConfig() Config {
	return Config{
		ServerAddr:         "localhost:8080",
		StoreDriver:        DriverPostgres,
		StoreTimeout:       5 * time.Second,
		DatabaseDSN:        "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable",
		MongoDatabase:      "MolifyChat",
		MongoCollection:    "system_chatRoom",
		CacheIdleTTL:       time.Hour,
		CacheSweepInterval: time.Minute,
		CodecSecret:        testSecret,
	}
}

func TestValidate(t *testing.T) {
	tcases := []struct {
		name   string
		modify func(c *Config)
		err    bool
	}{
		{
			name:   "valid config",
			modify: func(c *Config) {},
		},
		{
			name:   "empty address",
			modify: func(c *Config) { c.ServerAddr = "" },
			err:    true,
		},
		{
			name:   "empty DSN",
			modify: func(c *Config) { c.DatabaseDSN = "" },
			err:    true,
		},
		{
			name:   "mongo without uri",
			modify: func(c *Config) { c.StoreDriver = DriverMongo },
			err:    true,
		},
		{
			name: "mongo with uri",
			modify: func(c *Config) {
				c.StoreDriver = DriverMongo
				c.MongoURI = "mongodb://localhost:27017"
			},
		},
		{
			name: "badger needs no dsn",
			modify: func(c *Config) {
				c.StoreDriver = DriverBadger
				c.DatabaseDSN = ""
			},
		},
		{
			name:   "unknown driver",
			modify: func(c *Config) { c.StoreDriver = "sqlite" },
			err:    true,
		},
		{
			name:   "zero store timeout",
			modify: func(c *Config) { c.StoreTimeout = 0 },
			err:    true,
		},
		{
			name:   "negative idle ttl",
			modify: func(c *Config) { c.CacheIdleTTL = -time.Second },
			err:    true,
		},
		{
			name: "eviction disabled ignores sweep interval",
			modify: func(c *Config) {
				c.CacheIdleTTL = 0
				c.CacheSweepInterval = 0
			},
		},
		{
			name:   "bad codec secret",
			modify: func(c *Config) { c.CodecSecret = "invalid_base64" },
			err:    true,
		},
		{
			name:   "no codec secret",
			modify: func(c *Config) { c.CodecSecret = "" },
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.modify(&cfg)

			err := cfg.Validate()
			if tc.err {
				assert.Error(t, err, "expected error for config: %s", tc.name)
				return
			}
			assert.NoError(t, err, "expected no error for config: %s", tc.name)
			if cfg.CodecSecret != "" {
				assert.Len(t, cfg.CodecKey, 32, "expected codec key to be decoded")
			} else {
				assert.Nil(t, cfg.CodecKey)
			}
		})
	}
}

func Test_decodeCodecSecret(t *testing.T) {
	tcases := []struct {
		name         string
		base64Secret string
		expectedKey  []byte
		expectError  bool
	}{
		{
			name:         "valid base64 secret",
			base64Secret: "MDEyMzQ1Njc4OWFiY2RlZg==",
			expectedKey:  []byte("0123456789abcdef"),
		},
		{
			name:         "too short",
			base64Secret: "c29tZV9zZWNyZXQ=",
			expectError:  true,
		},
		{
			name:         "invalid base64 secret",
			base64Secret: "invalid_base64",
			expectError:  true,
		},
		{
			name:         "empty base64 secret",
			base64Secret: "",
			expectError:  true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			key, err := decodeCodecSecret(tc.base64Secret)
			if tc.expectError {
				assert.Error(t, err, "expected error for base64 secret: %s", tc.base64Secret)
			} else {
				assert.NoError(t, err, "expected no error for base64 secret: %s", tc.base64Secret)
				assert.Equal(t, tc.expectedKey, key)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	t.Run("defaults and environment", func(t *testing.T) {
		t.Setenv("CHATRELAY_DATABASE_DSN", "postgres://localhost/chat")
		t.Setenv("CHATRELAY_ALLOWED_ORIGINS", "http://a.test,http://b.test")
		t.Setenv("CHATRELAY_STORE_TIMEOUT", "2s")

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "localhost:8000", cfg.ServerAddr)
		assert.Equal(t, DriverPostgres, cfg.StoreDriver)
		assert.Equal(t, "postgres://localhost/chat", cfg.DatabaseDSN)
		assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.AllowedOrigins)
		assert.Equal(t, 2*time.Second, cfg.StoreTimeout)
		assert.Equal(t, 24*time.Hour, cfg.CacheIdleTTL)
		assert.Equal(t, "MolifyChat", cfg.MongoDatabase)
		assert.Equal(t, "system_chatRoom", cfg.MongoCollection)
		assert.Equal(t, "chat", cfg.NotifyChannelPrefix)
		assert.True(t, cfg.AccessLog)
	})

	t.Run("env file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".env")
		content := "CHATRELAY_STORE_DRIVER=badger\nCHATRELAY_CODEC_SECRET=" + testSecret + "\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		t.Cleanup(func() {
			os.Unsetenv("CHATRELAY_STORE_DRIVER")
			os.Unsetenv("CHATRELAY_CODEC_SECRET")
		})

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, DriverBadger, cfg.StoreDriver)
		assert.Len(t, cfg.CodecKey, 32)
	})

	t.Run("missing env file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.env"))
		assert.Error(t, err)
	})

	t.Run("invalid duration", func(t *testing.T) {
		t.Setenv("CHATRELAY_DATABASE_DSN", "postgres://localhost/chat")
		t.Setenv("CHATRELAY_STORE_TIMEOUT", "soon")

		_, err := Load("")
		assert.Error(t, err)
	})
}

func TestSlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, (&Config{LogLevel: "debug"}).SlogLevel())
	assert.Equal(t, slog.LevelWarn, (&Config{LogLevel: "WARN"}).SlogLevel())
	assert.Equal(t, slog.LevelInfo, (&Config{LogLevel: "chatty"}).SlogLevel())
}
