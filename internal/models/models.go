package models

import "time"

// State is a job's position in the prompt-to-audio lifecycle
type State string

// State constants
const (
	StatePending     State = "pending"
	StateLyricsReady State = "lyrics_ready"
	StateSubmitting  State = "submitting"
	StatePolling     State = "polling"
	StateSucceeded   State = "succeeded"
	StateFailed      State = "failed"
	StateExpired     State = "expired"
)

// Terminal reports whether no further transition can occur from s
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateExpired:
		return true
	default:
		return false
	}
}

// InFlight reports whether an orchestrator owns the job
func (s State) InFlight() bool {
	return s == StateSubmitting || s == StatePolling
}

// Progress is a coarse percentage shown by clients while polling
func (s State) Progress() int {
	switch s {
	case StatePending:
		return 0
	case StateLyricsReady:
		return 20
	case StateSubmitting:
		return 30
	case StatePolling:
		return 60
	case StateSucceeded, StateFailed, StateExpired:
		return 100
	default:
		return 0
	}
}

// Job represents one user's prompt-to-audio request
type Job struct {
	ID             string    `json:"id"`
	State          State     `json:"state"`
	Prompt         string    `json:"prompt"`
	Topic          string    `json:"topic,omitempty"`
	Lyrics         string    `json:"lyrics,omitempty"`
	ResultAudioURL string    `json:"result_audio_url,omitempty"`
	CorrelationID  string    `json:"correlation_id,omitempty"`
	Error          string    `json:"error,omitempty"`
	ClientIP       string    `json:"client_ip,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// LyricsResponse is returned by the lyrics endpoint
type LyricsResponse struct {
	JobID           string `json:"job_id"`
	Lyrics          string `json:"lyrics"`
	LyricsAvailable bool   `json:"lyrics_available"`
}

// ConfirmResponse acknowledges a confirmed job
type ConfirmResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// StatusResponse is the polling payload for a job
type StatusResponse struct {
	JobID    string `json:"job_id"`
	Status   State  `json:"status"`
	Audio    string `json:"audio,omitempty"`
	Error    string `json:"error,omitempty"`
	Terminal bool   `json:"terminal"`
	Progress int    `json:"progress"`
}

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Error  string `json:"error"`
	Status State  `json:"status,omitempty"`
}

// StatusFor builds the polling payload for a job snapshot
func StatusFor(job Job) StatusResponse {
	return StatusResponse{
		JobID:    job.ID,
		Status:   job.State,
		Audio:    job.ResultAudioURL,
		Error:    job.Error,
		Terminal: job.State.Terminal(),
		Progress: job.State.Progress(),
	}
}

// ExpiredStatus is the payload for an unknown or evicted job id
func ExpiredStatus(jobID string) StatusResponse {
	return StatusResponse{
		JobID:    jobID,
		Status:   StateExpired,
		Terminal: true,
		Progress: StateExpired.Progress(),
	}
}

// LogEntry is one row of the request log
type LogEntry struct {
	ID        int64     `json:"id"`
	JobID     string    `json:"job_id"`
	Kind      string    `json:"kind"` // lyrics, confirm, result
	ClientIP  string    `json:"client_ip"`
	Prompt    string    `json:"prompt"`
	Status    string    `json:"status"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Log entry kinds
const (
	KindLyrics  = "lyrics"
	KindConfirm = "confirm"
	KindResult  = "result"
)

// Metrics holds dashboard counters
type Metrics struct {
	TotalJobs       int64           `json:"total_jobs"`
	JobsByState     map[State]int64 `json:"jobs_by_state"`
	LyricsRequests  int64           `json:"lyrics_requests"`
	LyricsFallbacks int64           `json:"lyrics_fallbacks"`
	Confirmations   int64           `json:"confirmations"`
	Succeeded       int64           `json:"succeeded"`
	Failed          int64           `json:"failed"`
}
