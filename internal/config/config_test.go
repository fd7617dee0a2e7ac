package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		t.Setenv("AUTH_SECRET", "secret")

		cfg, err := Load(false)
		require.NoError(t, err)
		require.Equal(t, "quickchat.db", cfg.DBFile)
		require.Equal(t, ":8080", cfg.APIAddr)
		require.Equal(t, "localhost:8081", cfg.AdminAddr)
		require.Equal(t, 24*time.Hour, cfg.TokenExpiry)
		require.Equal(t, 64, cfg.SendQueueSize)
		require.False(t, cfg.PushEnabled())
	})

	t.Run("Overrides", func(t *testing.T) {
		t.Setenv("AUTH_SECRET", "secret")
		t.Setenv("QUICKCHAT_DB", "/tmp/other.db")
		t.Setenv("TOKEN_EXPIRY", "90m")
		t.Setenv("ALLOWED_ORIGINS", "http://a.example,http://b.example")
		t.Setenv("VAPID_PUBLIC_KEY", "pub")
		t.Setenv("VAPID_PRIVATE_KEY", "priv")

		cfg, err := Load(false)
		require.NoError(t, err)
		require.Equal(t, "/tmp/other.db", cfg.DBFile)
		require.Equal(t, 90*time.Minute, cfg.TokenExpiry)
		require.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.AllowedOrigins)
		require.True(t, cfg.PushEnabled())
	})

	t.Run("MissingSecret", func(t *testing.T) {
		t.Setenv("AUTH_SECRET", "")

		_, err := Load(false)
		require.Error(t, err)

		// CLI mode talks to the admin API and does not need the secret.
		_, err = Load(true)
		require.NoError(t, err)
	})

	t.Run("BadDuration", func(t *testing.T) {
		t.Setenv("AUTH_SECRET", "secret")
		t.Setenv("TOKEN_EXPIRY", "soon")

		_, err := Load(false)
		require.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			AuthSecret:    "secret",
			TokenExpiry:   time.Hour,
			SendQueueSize: 8,
			MaxImageBytes: 1024,
			LogLevel:      "info",
			LogFormat:     "text",
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"Valid", func(c *Config) {}, false},
		{"ZeroExpiry", func(c *Config) { c.TokenExpiry = 0 }, true},
		{"ZeroQueue", func(c *Config) { c.SendQueueSize = 0 }, true},
		{"ZeroImage", func(c *Config) { c.MaxImageBytes = 0 }, true},
		{"HalfVAPID", func(c *Config) { c.VAPIDPublicKey = "pub" }, true},
		{"BadLevel", func(c *Config) { c.LogLevel = "chatty" }, true},
		{"DebugLevel", func(c *Config) { c.LogLevel = "debug" }, false},
		{"BadFormat", func(c *Config) { c.LogFormat = "xml" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			if err := cfg.Validate(false); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLogger(t *testing.T) {
	cfg := Config{LogLevel: "warn", LogFormat: "json"}
	log := cfg.Logger()
	require.False(t, log.Enabled(t.Context(), slog.LevelInfo))
	require.True(t, log.Enabled(t.Context(), slog.LevelWarn))
}
