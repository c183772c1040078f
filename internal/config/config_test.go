package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validViper(t *testing.T) func() *Config {
	t.Helper()
	return func() *Config {
		v := NewViper()
		v.Set("music.relay_url", "https://relay.example.com/api/forward")
		v.Set("music.target_url", "https://music.example.com/api/v2/music/generate")
		v.Set("music.status_url", "https://music.example.com/api/v2/music/status")
		cfg, err := LoadWithViper(v)
		require.NoError(t, err)
		return cfg
	}
}

func TestDefaults(t *testing.T) {
	cfg := validViper(t)()

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 7*time.Second, cfg.Poll.Interval)
	assert.Equal(t, 20, cfg.Poll.MaxAttempts)
	assert.Equal(t, 3*time.Minute, cfg.Poll.MaxWait)
	assert.Equal(t, 2000, cfg.Music.MaxLyricsRunes)
	assert.Equal(t, time.Duration(0), cfg.Jobs.MaxAge)
	assert.Equal(t, DefaultLyricsTemplate, cfg.Lyrics.Template)
	assert.False(t, cfg.Server.TrustProxy)
	assert.Equal(t, []string{"127.0.0.1/32", "::1/128"}, cfg.Server.TrustedProxies)
}

func TestMissingMusicURLs(t *testing.T) {
	_, err := LoadWithViper(NewViper())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "music.relay_url")
	assert.Contains(t, err.Error(), "music.status_url")
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("LYRIC_STUDIO_POLL_INTERVAL", "5s")
	t.Setenv("LYRIC_STUDIO_POLL_MAX_ATTEMPTS", "15")

	cfg := validViper(t)()
	assert.Equal(t, 5*time.Second, cfg.Poll.Interval)
	assert.Equal(t, 15, cfg.Poll.MaxAttempts)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lyric-studio.toml")
	content := `
[music]
relay_url = "https://relay.example.com/forward"
target_url = "https://music.example.com/generate"
status_url = "https://music.example.com/status"

[poll]
interval = "8s"
max_attempts = 60
max_wait = "5m"

[jobs]
max_age = "1h"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8*time.Second, cfg.Poll.Interval)
	assert.Equal(t, 60, cfg.Poll.MaxAttempts)
	assert.Equal(t, 5*time.Minute, cfg.Poll.MaxWait)
	assert.Equal(t, time.Hour, cfg.Jobs.MaxAge)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero interval", func(c *Config) { c.Poll.Interval = 0 }, "poll.interval"},
		{"zero attempts", func(c *Config) { c.Poll.MaxAttempts = 0 }, "poll.max_attempts"},
		{"template without placeholder", func(c *Config) { c.Lyrics.Template = "write a song" }, "lyrics.template"},
		{"template with two placeholders", func(c *Config) { c.Lyrics.Template = "song about %s in %s" }, "lyrics.template"},
		{"template with another verb", func(c *Config) { c.Lyrics.Template = "song about %s, %d verses" }, "lyrics.template"},
		{"bad trusted proxy", func(c *Config) { c.Server.TrustedProxies = []string{"10.0.0.0/33"} }, "server.trusted_proxies"},
		{"bad scheme", func(c *Config) { c.Music.RelayURL = "ftp://relay" }, "music.relay_url"},
		{"sweep disabled with max age", func(c *Config) {
			c.Jobs.MaxAge = time.Hour
			c.Jobs.SweepInterval = 0
		}, "jobs.sweep_interval"},
	}

	build := validViper(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := build()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestTemplateAllowsLiteralPercent(t *testing.T) {
	cfg := validViper(t)()
	cfg.Lyrics.Template = "song about %s, 100%% original"
	assert.NoError(t, cfg.Validate())
}

func TestTrustedProxiesFromEnv(t *testing.T) {
	t.Setenv("LYRIC_STUDIO_SERVER_TRUST_PROXY", "true")
	t.Setenv("LYRIC_STUDIO_SERVER_TRUSTED_PROXIES", "10.0.0.0/8,192.0.2.1")

	cfg := validViper(t)()
	assert.True(t, cfg.Server.TrustProxy)
	assert.Equal(t, []string{"10.0.0.0/8", "192.0.2.1"}, cfg.Server.TrustedProxies)
}
