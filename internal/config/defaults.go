package config

import (
	"time"

	"github.com/spf13/viper"
)

// DefaultLyricsTemplate is the instruction sent to the text endpoint. %s is the prompt.
const DefaultLyricsTemplate = "Write lyrics in transliterated style (English alphabets but Indian language sounds). " +
	"Example: For Hindi, write 'Tum bin jiya jaye kaise' instead of 'How to live without you'. " +
	"Topic: %s. Structure: [Verse 1], [Chorus], [Verse 2]."

// DefaultLyricsFallback is shown when the text endpoint gives nothing usable.
const DefaultLyricsFallback = "Lyrics are unavailable right now. Write your own below or try again."

// SetDefaults registers every key so env overrides and Unmarshal see it.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.trust_proxy", false)
	v.SetDefault("server.trusted_proxies", []string{"127.0.0.1/32", "::1/128"})
	v.SetDefault("server.static_dir", "./static")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("log.json", false)
	v.SetDefault("log.level", "info")

	v.SetDefault("database.path", "./lyric-studio.db")
	v.SetDefault("database.queue_size", 256)

	v.SetDefault("lyrics.endpoint", "https://text.pollinations.ai")
	v.SetDefault("lyrics.model", "openai")
	v.SetDefault("lyrics.token", "")
	v.SetDefault("lyrics.template", DefaultLyricsTemplate)
	v.SetDefault("lyrics.timeout", 60*time.Second)
	v.SetDefault("lyrics.min_length", 40)
	v.SetDefault("lyrics.fallback", DefaultLyricsFallback)

	v.SetDefault("music.relay_url", "")
	v.SetDefault("music.target_url", "")
	v.SetDefault("music.status_url", "")
	v.SetDefault("music.timeout", 45*time.Second)
	v.SetDefault("music.max_lyrics_runes", 2000)
	v.SetDefault("music.prompt_suffix", "high quality studio")
	v.SetDefault("music.user_agent", "lyric-studio/1.0")

	v.SetDefault("poll.interval", 7*time.Second)
	v.SetDefault("poll.max_attempts", 20)
	v.SetDefault("poll.max_wait", 3*time.Minute)

	v.SetDefault("jobs.max_age", time.Duration(0))
	v.SetDefault("jobs.sweep_interval", 5*time.Minute)

	v.SetDefault("ratelimit.per_minute", 10)
	v.SetDefault("ratelimit.burst", 3)
}
