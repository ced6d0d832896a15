package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/teamchat")

	cfg, err := Load()
	require.NoError(t, err)

	want := NewConfig()
	want.DatabaseURL = "postgres://localhost/teamchat"
	assert.Equal(t, want, cfg)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://db/teamchat")
	t.Setenv("PORT", "9000")
	t.Setenv("ALLOWED_ORIGINS", " https://chat.example.com , http://localhost:3000 ")
	t.Setenv("MAX_MESSAGE_SIZE", "2048")
	t.Setenv("RATE_LIMIT_BURST", "10")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "500ms")
	t.Setenv("SEND_BUFFER", "32")
	t.Setenv("SEND_TIMEOUT", "750ms")
	t.Setenv("PONG_WAIT", "30s")
	t.Setenv("PING_PERIOD", "20s")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Port)
	assert.Equal(t, []string{"https://chat.example.com", "http://localhost:3000"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(2048), cfg.Client.MaxMessageSize)
	assert.Equal(t, RateLimitConfig{Burst: 10, RefillInterval: 500 * time.Millisecond}, cfg.Client.RateLimit)
	assert.Equal(t, 32, cfg.Client.SendBuffer)
	assert.Equal(t, 750*time.Millisecond, cfg.SendTimeout)
	assert.Equal(t, 30*time.Second, cfg.Client.PongWait)
	assert.Equal(t, 20*time.Second, cfg.Client.PingPeriod)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	require.ErrorContains(t, err, "DATABASE_URL")
}

func TestLoadRejectsUnknownLogFormat(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://db/teamchat")
	t.Setenv("LOG_FORMAT", "xml")

	_, err := Load()
	require.ErrorContains(t, err, "LogFormat")
}

func TestParseOrigins(t *testing.T) {
	assert.Nil(t, parseOrigins(""))
	assert.Nil(t, parseOrigins(" , "))
	assert.Equal(t, []string{"a", "b"}, parseOrigins("a,, b "))
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://db/teamchat")
	t.Setenv("SEND_TIMEOUT", "soon")

	_, err := Load()
	require.Error(t, err)
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name  string
		in    Config
		check func(t *testing.T, c Config)
	}{
		{
			name: "empty port falls back",
			in:   Config{Port: "  "},
			check: func(t *testing.T, c Config) {
				assert.Equal(t, ":8080", c.Port)
			},
		},
		{
			name: "bare port gets colon",
			in:   Config{Port: "9090"},
			check: func(t *testing.T, c Config) {
				assert.Equal(t, ":9090", c.Port)
			},
		},
		{
			name: "host and port kept",
			in:   Config{Port: "127.0.0.1:9090"},
			check: func(t *testing.T, c Config) {
				assert.Equal(t, "127.0.0.1:9090", c.Port)
			},
		},
		{
			name: "non-positive values use defaults",
			in:   Config{Client: ClientConfig{MaxMessageSize: -1, SendBuffer: 0}},
			check: func(t *testing.T, c Config) {
				assert.Equal(t, defaultClientConfig(), c.Client)
				assert.Equal(t, 2*time.Second, c.SendTimeout)
				assert.Equal(t, 10*time.Second, c.ShutdownTimeout)
			},
		},
		{
			name: "ping period must be shorter than pong wait",
			in:   Config{Client: ClientConfig{PongWait: 10 * time.Second, PingPeriod: 20 * time.Second}},
			check: func(t *testing.T, c Config) {
				assert.Equal(t, 9*time.Second, c.Client.PingPeriod)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := tt.in
			c.Sanitize()
			tt.check(t, c)
		})
	}
}

func TestApplyOverrides(t *testing.T) {
	tests := []struct {
		name      string
		port      string
		logLevel  string
		wantPort  string
		wantLevel string
		wantErr   string
	}{
		{name: "no overrides", wantPort: ":8080", wantLevel: "info"},
		{name: "port without colon", port: "9090", wantPort: ":9090", wantLevel: "info"},
		{name: "valid level", logLevel: "debug", wantPort: ":8080", wantLevel: "debug"},
		{name: "unknown level", logLevel: "verbose", wantErr: "LogLevel"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			cfg.DatabaseURL = "postgres://db/teamchat"

			err := cfg.ApplyOverrides(tt.port, tt.logLevel)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPort, cfg.Port)
			assert.Equal(t, tt.wantLevel, cfg.LogLevel)
		})
	}
}
