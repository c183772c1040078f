package lyrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fallback = "lyrics unavailable"

func newRequester(t *testing.T, endpoint string) *Requester {
	t.Helper()
	return New(Options{
		Endpoint:  endpoint,
		Model:     "openai",
		Template:  "Write a song. Topic: %s. Structure: [Verse 1], [Chorus].",
		Timeout:   2 * time.Second,
		MinLength: 40,
		Fallback:  fallback,
	}, nil)
}

func wordy(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = "wave"
	}
	return strings.Join(words, " ")
}

func TestGenerateReturnsLyrics(t *testing.T) {
	text := "[Verse 1]\n" + wordy(200)
	var gotPath, gotModel, gotCache string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotModel = r.URL.Query().Get("model")
		gotCache = r.URL.Query().Get("cache")
		_, _ = w.Write([]byte(text + "\n"))
	}))
	defer srv.Close()

	res := newRequester(t, srv.URL).Generate(context.Background(), "ocean")
	assert.True(t, res.Available)
	assert.Equal(t, text, res.Lyrics)
	assert.Contains(t, gotPath, "Topic: ocean.")
	assert.Equal(t, "openai", gotModel)
	assert.Equal(t, "false", gotCache)
}

func TestGenerateSendsBearerToken(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(wordy(50)))
	}))
	defer srv.Close()

	r := newRequester(t, srv.URL)
	r.opts.Token = "secret"
	res := r.Generate(context.Background(), "ocean")
	require.True(t, res.Available)
	assert.Equal(t, "Bearer secret", auth)
}

func TestGenerateNetworkErrorFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	res := newRequester(t, url).Generate(context.Background(), "ocean")
	assert.False(t, res.Available)
	assert.Equal(t, fallback, res.Lyrics)
	assert.Equal(t, ReasonRequestFailed, res.Reason)
}

func TestGenerateRejections(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		reason string
	}{
		{"server error", http.StatusInternalServerError, wordy(100), ReasonBadStatus},
		{"empty body", http.StatusOK, "   \n", ReasonEmpty},
		{"too short", http.StatusOK, "la la la", ReasonTooShort},
		{"refusal", http.StatusOK, "I'm sorry, but I can't write that. " + wordy(30), ReasonRefusal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			res := newRequester(t, srv.URL).Generate(context.Background(), "ocean")
			assert.False(t, res.Available)
			assert.Equal(t, fallback, res.Lyrics)
			assert.Equal(t, tt.reason, res.Reason)
		})
	}
}

func TestLateApologyIsNotARefusal(t *testing.T) {
	body := wordy(60) + "\n[Chorus]\nI cannot sleep tonight"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	res := newRequester(t, srv.URL).Generate(context.Background(), "night")
	assert.True(t, res.Available)
}
