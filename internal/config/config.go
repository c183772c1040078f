package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// LYRIC_STUDIO_POLL_INTERVAL=5s.
const EnvPrefix = "LYRIC_STUDIO"

// Config is the complete service configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Lyrics    LyricsConfig    `mapstructure:"lyrics"`
	Music     MusicConfig     `mapstructure:"music"`
	Poll      PollConfig      `mapstructure:"poll"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
}

// ServerConfig controls the HTTP listener and client address resolution.
// X-Forwarded-For is honoured only when TrustProxy is set and the peer is
// in TrustedProxies.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	TrustProxy      bool          `mapstructure:"trust_proxy"`
	TrustedProxies  []string      `mapstructure:"trusted_proxies"`
	StaticDir       string        `mapstructure:"static_dir"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LogConfig selects log format and level
type LogConfig struct {
	JSON  bool   `mapstructure:"json"`
	Level string `mapstructure:"level"`
}

// DatabaseConfig locates the request-log database
type DatabaseConfig struct {
	Path      string `mapstructure:"path"`
	QueueSize int    `mapstructure:"queue_size"`
}

// LyricsConfig configures the text endpoint used for lyrics
type LyricsConfig struct {
	Endpoint  string        `mapstructure:"endpoint"`
	Model     string        `mapstructure:"model"`
	Token     string        `mapstructure:"token"`
	Template  string        `mapstructure:"template"`
	Timeout   time.Duration `mapstructure:"timeout"`
	MinLength int           `mapstructure:"min_length"`
	Fallback  string        `mapstructure:"fallback"`
}

// MusicConfig configures the relay and the status endpoint
type MusicConfig struct {
	RelayURL       string        `mapstructure:"relay_url"`
	TargetURL      string        `mapstructure:"target_url"`
	StatusURL      string        `mapstructure:"status_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxLyricsRunes int           `mapstructure:"max_lyrics_runes"`
	PromptSuffix   string        `mapstructure:"prompt_suffix"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// PollConfig bounds the status poll loop
type PollConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	MaxWait     time.Duration `mapstructure:"max_wait"`
}

// JobsConfig controls eviction. A zero MaxAge keeps jobs for the process lifetime.
type JobsConfig struct {
	MaxAge        time.Duration `mapstructure:"max_age"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// RateLimitConfig sets the per-client-IP limit on the inbound endpoints.
// A zero PerMinute disables limiting.
type RateLimitConfig struct {
	PerMinute int `mapstructure:"per_minute"`
	Burst     int `mapstructure:"burst"`
}

// Load reads configuration from defaults, an optional file and the environment.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	v := NewViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config file %s", path)
		}
	}
	return LoadWithViper(v)
}

// LoadWithViper unmarshals and validates configuration from v.
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// NewViper returns a viper instance with defaults and env binding applied.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}
