// Package music submits lyrics to the music-generation relay and polls
// for the finished track.
package music

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// AcceptedCode is the upstream's success sentinel for a submission.
const AcceptedCode = 100000

const maxBodyBytes = 1 << 20

var (
	// ErrSubmissionRejected is returned when the upstream answers with any code but AcceptedCode.
	ErrSubmissionRejected = errors.New("submission rejected")
	// ErrUpstreamFailed is returned when the upstream reports the generation failed.
	ErrUpstreamFailed = errors.New("upstream reported failure")
	// ErrPollTimeout is returned when the poll budget runs out.
	ErrPollTimeout = errors.New("timed out waiting for track")
	// ErrTransient marks errors worth another poll attempt.
	ErrTransient = errors.New("transient upstream error")
)

// Options configures a Client
type Options struct {
	RelayURL       string
	TargetURL      string
	StatusURL      string
	Timeout        time.Duration
	MaxLyricsRunes int
	PromptSuffix   string
	UserAgent      string
}

// SubmitRequest is one generation request
type SubmitRequest struct {
	Topic     string
	Lyrics    string
	ClientIP  string
	RequestID string
}

// Caller is the identity forwarded with every upstream call for a job.
type Caller struct {
	ClientIP  string
	RequestID string
}

// Caller returns the identity the submission was made with.
func (sr SubmitRequest) Caller() Caller {
	return Caller{ClientIP: sr.ClientIP, RequestID: sr.RequestID}
}

// Status is the upstream's view of a generation
type Status string

// Status values
const (
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
)

// StatusResult is one status lookup
type StatusResult struct {
	Status   Status
	MusicURL string
	Raw      string
}

// relayRequest is forwarded by the relay to TargetURL.
type relayRequest struct {
	URL     string            `json:"url"`
	Payload generatePayload   `json:"payload"`
	Headers map[string]string `json:"headers"`
}

type generatePayload struct {
	Prompt string `json:"prompt"`
	Lyrics string `json:"lyrics"`
}

type submitResponse struct {
	Code int `json:"code"`
	Data struct {
		ConversationID string `json:"conversation_id"`
	} `json:"data"`
	Message string `json:"message"`
}

type statusResponse struct {
	Data struct {
		Status   string `json:"status"`
		MusicURL string `json:"music_url"`
	} `json:"data"`
}

// Client talks to the relay and the status endpoint
type Client struct {
	opts Options
	http *http.Client
}

// NewClient creates a Client. A nil httpClient gets one with opts.Timeout.
func NewClient(opts Options, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{opts: opts, http: httpClient}
}

// Submit starts a generation and returns the correlation id used for polling.
func (c *Client) Submit(ctx context.Context, sr SubmitRequest) (string, error) {
	headers := c.forwardHeaders(sr.Caller())
	body, err := json.Marshal(relayRequest{
		URL: c.opts.TargetURL,
		Payload: generatePayload{
			Prompt: strings.TrimSpace(strings.TrimSpace(sr.Topic) + " " + c.opts.PromptSuffix),
			Lyrics: Truncate(sr.Lyrics, c.opts.MaxLyricsRunes),
		},
		Headers: headers,
	})
	if err != nil {
		return "", errors.Wrap(err, "encode submission")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.RelayURL, bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "build submission request")
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "submit to relay")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", errors.Wrap(err, "read submission response")
	}

	var parsed submitResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", errors.Wrapf(err, "decode submission response (http %d)", resp.StatusCode)
	}
	if parsed.Code != AcceptedCode {
		return "", errors.WithDetailf(
			errors.Wrapf(ErrSubmissionRejected, "code %d", parsed.Code),
			"message: %s", parsed.Message,
		)
	}
	if parsed.Data.ConversationID == "" {
		return "", errors.Wrap(ErrSubmissionRejected, "accepted without conversation_id")
	}
	return parsed.Data.ConversationID, nil
}

// Status looks up a generation by correlation id, forwarding the same caller
// headers the submission carried.
func (c *Client) Status(ctx context.Context, correlationID string, caller Caller) (StatusResult, error) {
	u, err := url.Parse(c.opts.StatusURL)
	if err != nil {
		return StatusResult{}, errors.Wrap(err, "parse status url")
	}
	q := u.Query()
	q.Set("conversation_id", correlationID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return StatusResult{}, errors.Wrap(err, "build status request")
	}
	for k, v := range c.forwardHeaders(caller) {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return StatusResult{}, errors.Mark(errors.Wrap(err, "status request"), ErrTransient)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return StatusResult{}, errors.Mark(errors.Newf("status endpoint returned %d", resp.StatusCode), ErrTransient)
	case resp.StatusCode >= 400:
		return StatusResult{}, errors.Newf("status endpoint returned %d", resp.StatusCode)
	}

	var parsed statusResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&parsed); err != nil {
		return StatusResult{}, errors.Mark(errors.Wrap(err, "decode status response"), ErrTransient)
	}

	raw := strings.ToLower(strings.TrimSpace(parsed.Data.Status))
	result := StatusResult{Status: StatusProcessing, Raw: raw}
	switch raw {
	case "success":
		if parsed.Data.MusicURL != "" {
			result.Status = StatusSucceeded
			result.MusicURL = parsed.Data.MusicURL
		}
	case "failed", "fail", "error":
		result.Status = StatusFailed
	}
	return result, nil
}

// forwardHeaders passes the caller's address with standard proxy headers.
func (c *Client) forwardHeaders(caller Caller) map[string]string {
	headers := map[string]string{
		"User-Agent": c.opts.UserAgent,
	}
	if caller.ClientIP != "" {
		headers["X-Forwarded-For"] = caller.ClientIP
		headers["Forwarded"] = forwardedFor(caller.ClientIP)
	}
	if caller.RequestID != "" {
		headers["X-Request-ID"] = caller.RequestID
	}
	return headers
}

// forwardedFor formats an RFC 7239 for= element; IPv6 needs brackets and quotes.
func forwardedFor(ip string) string {
	if strings.Contains(ip, ":") {
		return fmt.Sprintf("for=\"[%s]\"", ip)
	}
	return "for=" + ip
}

// Truncate cuts s to at most max runes.
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
