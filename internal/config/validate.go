package config

import (
	"net/netip"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"
)

// Validate checks values that would otherwise fail at request time.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Server.Addr) == "" {
		problems = append(problems, "server.addr is required")
	}
	for _, entry := range c.Server.TrustedProxies {
		if !validProxy(entry) {
			problems = append(problems, "server.trusted_proxies: invalid entry "+entry)
		}
	}
	if c.Database.Path == "" {
		problems = append(problems, "database.path is required")
	}
	if c.Database.QueueSize <= 0 {
		problems = append(problems, "database.queue_size must be positive")
	}

	if err := checkURL(c.Lyrics.Endpoint); err != nil {
		problems = append(problems, "lyrics.endpoint: "+err.Error())
	}
	if !singlePromptVerb(c.Lyrics.Template) {
		problems = append(problems, "lyrics.template must contain exactly one %s and no other verbs (write %% for a literal percent)")
	}
	if c.Lyrics.Timeout <= 0 {
		problems = append(problems, "lyrics.timeout must be positive")
	}
	if c.Lyrics.MinLength < 0 {
		problems = append(problems, "lyrics.min_length must not be negative")
	}

	for key, raw := range map[string]string{
		"music.relay_url":  c.Music.RelayURL,
		"music.target_url": c.Music.TargetURL,
		"music.status_url": c.Music.StatusURL,
	} {
		if err := checkURL(raw); err != nil {
			problems = append(problems, key+": "+err.Error())
		}
	}
	if c.Music.Timeout <= 0 {
		problems = append(problems, "music.timeout must be positive")
	}
	if c.Music.MaxLyricsRunes <= 0 {
		problems = append(problems, "music.max_lyrics_runes must be positive")
	}

	if c.Poll.Interval <= 0 {
		problems = append(problems, "poll.interval must be positive")
	}
	if c.Poll.MaxAttempts <= 0 {
		problems = append(problems, "poll.max_attempts must be positive")
	}
	if c.Poll.MaxWait <= 0 {
		problems = append(problems, "poll.max_wait must be positive")
	}

	if c.Jobs.MaxAge < 0 {
		problems = append(problems, "jobs.max_age must not be negative")
	}
	if c.Jobs.MaxAge > 0 && c.Jobs.SweepInterval <= 0 {
		problems = append(problems, "jobs.sweep_interval must be positive when jobs.max_age is set")
	}

	if c.RateLimit.PerMinute < 0 || c.RateLimit.Burst < 0 {
		problems = append(problems, "ratelimit values must not be negative")
	}

	if len(problems) > 0 {
		return errors.WithHint(
			errors.Newf("invalid configuration: %s", strings.Join(problems, "; ")),
			"set the values in the config file or with "+EnvPrefix+"_* environment variables",
		)
	}
	return nil
}

func checkURL(raw string) error {
	if raw == "" {
		return errors.New("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.Newf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

// singlePromptVerb reports whether tpl has one %s and no other format verbs.
func singlePromptVerb(tpl string) bool {
	rest := strings.ReplaceAll(tpl, "%%", "")
	return strings.Count(rest, "%s") == 1 && strings.Count(rest, "%") == 1
}

func validProxy(entry string) bool {
	entry = strings.TrimSpace(entry)
	if _, err := netip.ParsePrefix(entry); err == nil {
		return true
	}
	_, err := netip.ParseAddr(entry)
	return err == nil
}
