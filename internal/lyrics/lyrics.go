// Package lyrics asks a text-generation endpoint for song lyrics.
package lyrics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"lyric-studio/internal/logger"
)

// maxBodyBytes caps how much of a response is read.
const maxBodyBytes = 64 << 10

const refusalWindow = 120

// apologyPhrases mark a refusal rather than lyrics.
var apologyPhrases = []string{
	"i'm sorry",
	"i am sorry",
	"i apologize",
	"i cannot",
	"i can't help",
	"as an ai",
}

// Reasons attached to an unavailable Result.
const (
	ReasonRequestFailed = "request_failed"
	ReasonBadStatus     = "bad_status"
	ReasonEmpty         = "empty"
	ReasonTooShort      = "too_short"
	ReasonRefusal       = "refusal"
)

// Options configures a Requester
type Options struct {
	Endpoint  string
	Model     string
	Token     string
	Template  string
	Timeout   time.Duration
	MinLength int
	Fallback  string
}

// Result is the outcome of one lyrics request. When Available is false,
// Lyrics holds the fallback text and Reason says why.
type Result struct {
	Lyrics    string
	Available bool
	Reason    string
}

// Requester calls the text endpoint
type Requester struct {
	opts   Options
	client *http.Client
	log    *zap.SugaredLogger
}

// New creates a Requester. A nil client gets one with opts.Timeout.
func New(opts Options, client *http.Client) *Requester {
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &Requester{
		opts:   opts,
		client: client,
		log:    logger.ComponentLogger("lyrics"),
	}
}

// Instruction renders the template for a prompt
func (r *Requester) Instruction(prompt string) string {
	return fmt.Sprintf(r.opts.Template, strings.TrimSpace(prompt))
}

// Generate requests lyrics for prompt. Every failure collapses into an
// unavailable Result carrying the fallback text.
func (r *Requester) Generate(ctx context.Context, prompt string) Result {
	body, err := r.fetch(ctx, r.Instruction(prompt))
	if err != nil {
		reason := ReasonRequestFailed
		if errors.Is(err, errBadStatus) {
			reason = ReasonBadStatus
		}
		r.log.Warnw("Lyrics request failed", logger.FieldError, err)
		return r.unavailable(reason)
	}

	text := strings.TrimSpace(body)
	if reason := r.check(text); reason != "" {
		r.log.Infow("Lyrics rejected", "reason", reason, "length", len(text))
		return r.unavailable(reason)
	}
	return Result{Lyrics: text, Available: true}
}

var errBadStatus = errors.New("unexpected status")

func (r *Requester) fetch(ctx context.Context, instruction string) (string, error) {
	endpoint := strings.TrimRight(r.opts.Endpoint, "/") + "/" + url.PathEscape(instruction)
	query := url.Values{}
	if r.opts.Model != "" {
		query.Set("model", r.opts.Model)
	}
	query.Set("cache", "false")
	endpoint += "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", errors.Wrap(err, "build lyrics request")
	}
	if r.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.opts.Token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "lyrics request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.Wrapf(errBadStatus, "lyrics endpoint returned %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", errors.Wrap(err, "read lyrics body")
	}
	return string(data), nil
}

// check returns a rejection reason, or "" when text looks like lyrics.
func (r *Requester) check(text string) string {
	if text == "" {
		return ReasonEmpty
	}
	if len([]rune(text)) < r.opts.MinLength {
		return ReasonTooShort
	}
	// Refusals open the reply; lyrics may legitimately say "I cannot" later on.
	opening := []rune(strings.ToLower(text))
	if len(opening) > refusalWindow {
		opening = opening[:refusalWindow]
	}
	lower := string(opening)
	for _, phrase := range apologyPhrases {
		if strings.Contains(lower, phrase) {
			return ReasonRefusal
		}
	}
	return ""
}

func (r *Requester) unavailable(reason string) Result {
	return Result{Lyrics: r.opts.Fallback, Available: false, Reason: reason}
}
