package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	ws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"lyric-studio/internal/logger"
	"lyric-studio/internal/lyrics"
	"lyric-studio/internal/models"
	"lyric-studio/internal/ratelimit"
	"lyric-studio/internal/store"
	"lyric-studio/internal/websocket"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
	maxFormBytes     = 1 << 20
)

// LyricsGenerator produces lyrics for a prompt
type LyricsGenerator interface {
	Generate(ctx context.Context, prompt string) lyrics.Result
}

// JobStarter runs a confirmed job in the background
type JobStarter interface {
	Start(job models.Job, clientIP, requestID string)
}

// LogStore is the request log as seen by the handlers
type LogStore interface {
	Record(entry models.LogEntry)
	ListEntries(jobID string, limit int) ([]models.LogEntry, error)
	GetMetrics() (*models.Metrics, error)
}

// Options configures a Server
type Options struct {
	TrustProxy      bool
	TrustedProxies  []string
	StaticDir       string
	LyricsTimeout   time.Duration
	RateLimitPerMin int
	RateLimitBurst  int
}

// Server holds all HTTP handlers and dependencies
type Server struct {
	store       store.Store
	lyrics      LyricsGenerator
	jobs        JobStarter
	logs        LogStore
	rateLimiter *ratelimit.RateLimiter
	wsManager   *websocket.Manager
	trusted     []netip.Prefix
	upgrader    ws.Upgrader
	opts        Options
	log         *zap.SugaredLogger
}

// NewServer creates a new API server
func NewServer(s store.Store, gen LyricsGenerator, jobs JobStarter, logs LogStore, wsManager *websocket.Manager, opts Options) *Server {
	log := logger.ComponentLogger("api")
	return &Server{
		store:       s,
		lyrics:      gen,
		jobs:        jobs,
		logs:        logs,
		rateLimiter: ratelimit.New(opts.RateLimitPerMin, opts.RateLimitBurst),
		wsManager:   wsManager,
		trusted:     parseTrustedProxies(opts.TrustedProxies, log),
		upgrader: ws.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		opts: opts,
		log:  log,
	}
}

// GetLyrics handles POST /get-lyrics. Lyrics failures still create the
// job and answer 200 with fallback text.
func (s *Server) GetLyrics(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	prompt := strings.TrimSpace(r.FormValue("prompt"))
	if prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required", "")
		return
	}

	clientIP := s.clientIP(r)
	if !s.rateLimiter.Allow(clientIP) {
		s.log.Infow("Rate limit exceeded", logger.FieldClientIP, clientIP, logger.FieldPath, r.URL.Path)
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded", "")
		return
	}

	ctx := r.Context()
	if s.opts.LyricsTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.LyricsTimeout)
		defer cancel()
	}
	res := s.lyrics.Generate(ctx, prompt)

	stored := ""
	if res.Available {
		stored = res.Lyrics
	}
	job := s.store.Create(prompt, stored, clientIP)

	status := "ok"
	if !res.Available {
		status = "fallback"
	}
	s.logs.Record(models.LogEntry{
		JobID:     job.ID,
		Kind:      models.KindLyrics,
		ClientIP:  clientIP,
		Prompt:    prompt,
		Status:    status,
		Detail:    res.Reason,
		CreatedAt: time.Now(),
	})
	s.log.Infow("Lyrics requested",
		logger.FieldJobID, job.ID,
		logger.FieldRequestID, RequestIDFrom(r.Context()),
		logger.FieldState, job.State,
		"available", res.Available)
	s.broadcast()

	writeJSON(w, http.StatusOK, models.LyricsResponse{
		JobID:           job.ID,
		Lyrics:          res.Lyrics,
		LyricsAvailable: res.Available,
	})
}

// ConfirmLyrics handles POST /confirm-lyrics and hands the job to the
// orchestrator. Only the first confirm for a job is accepted.
func (s *Server) ConfirmLyrics(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	jobID := strings.TrimSpace(r.FormValue("job_id"))
	finalLyrics := strings.TrimSpace(r.FormValue("final_lyrics"))
	topic := strings.TrimSpace(r.FormValue("topic"))

	if jobID == "" || finalLyrics == "" {
		writeError(w, http.StatusBadRequest, "job_id and final_lyrics are required", "")
		return
	}

	clientIP := s.clientIP(r)
	if !s.rateLimiter.Allow(clientIP) {
		s.log.Infow("Rate limit exceeded", logger.FieldClientIP, clientIP, logger.FieldPath, r.URL.Path)
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded", "")
		return
	}

	if topic == "" {
		if existing, ok := s.store.Get(jobID); ok {
			topic = existing.Prompt
		}
	}

	job, err := s.store.Confirm(jobID, topic, finalLyrics)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found", models.StateExpired)
		return
	case errors.Is(err, store.ErrAlreadyConfirmed):
		writeError(w, http.StatusConflict, "job already confirmed", job.State)
		return
	case err != nil:
		s.log.Errorw("Failed to confirm job", logger.FieldJobID, jobID, logger.FieldError, err)
		writeError(w, http.StatusInternalServerError, "failed to confirm job", "")
		return
	}

	requestID := RequestIDFrom(r.Context())
	s.jobs.Start(job, clientIP, requestID)

	s.logs.Record(models.LogEntry{
		JobID:     job.ID,
		Kind:      models.KindConfirm,
		ClientIP:  clientIP,
		Prompt:    topic,
		Status:    "started",
		CreatedAt: time.Now(),
	})
	s.log.Infow("Job confirmed", logger.FieldJobID, job.ID, logger.FieldRequestID, requestID)
	s.broadcast()

	writeJSON(w, http.StatusAccepted, models.ConfirmResponse{JobID: job.ID, Status: "started"})
}

// GetJobStatus handles GET /status/{job_id}
func (s *Server) GetJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")
	if jobID == "" {
		jobID = r.URL.Query().Get("id")
	}

	job, ok := s.store.Get(jobID)
	if !ok {
		writeJSON(w, http.StatusNotFound, models.ExpiredStatus(jobID))
		return
	}
	writeJSON(w, http.StatusOK, models.StatusFor(job))
}

// ListJobs handles GET /api/jobs
func (s *Server) ListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.List(parseLimit(r)))
}

// ListLogs handles GET /api/logs
func (s *Server) ListLogs(w http.ResponseWriter, r *http.Request) {
	entries, err := s.logs.ListEntries(r.URL.Query().Get("job_id"), parseLimit(r))
	if err != nil {
		s.log.Errorw("Failed to query request log", logger.FieldError, err)
		writeError(w, http.StatusInternalServerError, "failed to fetch request log", "")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetMetrics handles GET /api/metrics
func (s *Server) GetMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := s.metrics()
	if err != nil {
		s.log.Errorw("Failed to get metrics", logger.FieldError, err)
		writeError(w, http.StatusInternalServerError, "failed to fetch metrics", "")
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

// HandleWebSocket handles WebSocket connections
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("WebSocket upgrade failed", logger.FieldError, err)
		return
	}
	s.wsManager.AddClient(conn)
}

// Health handles GET /healthz
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Snapshot is the dashboard payload pushed over the websocket
func (s *Server) Snapshot() interface{} {
	metrics, err := s.metrics()
	if err != nil {
		s.log.Warnw("Snapshot metrics unavailable", logger.FieldError, err)
	}
	return map[string]interface{}{
		"jobs":    s.store.List(50),
		"metrics": metrics,
	}
}

// SetupRoutes sets up all HTTP routes
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /get-lyrics", s.GetLyrics)
	mux.HandleFunc("POST /confirm-lyrics", s.ConfirmLyrics)
	mux.HandleFunc("GET /status/{job_id}", s.GetJobStatus)

	mux.HandleFunc("GET /api/jobs", s.ListJobs)
	mux.HandleFunc("GET /api/jobs/status", s.GetJobStatus)
	mux.HandleFunc("GET /api/logs", s.ListLogs)
	mux.HandleFunc("GET /api/metrics", s.GetMetrics)
	mux.HandleFunc("GET /ws", s.HandleWebSocket)
	mux.HandleFunc("GET /healthz", s.Health)

	if s.opts.StaticDir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(s.opts.StaticDir)))
	}
}

// Handler returns the routed mux wrapped in the middleware chain
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return s.withRequestID(s.withRecovery(s.withAccessLog(mux)))
}

func (s *Server) metrics() (*models.Metrics, error) {
	metrics, err := s.logs.GetMetrics()
	if err != nil {
		return nil, err
	}
	if metrics.JobsByState == nil {
		metrics.JobsByState = map[models.State]int64{}
	}
	for state, n := range s.store.Counts() {
		metrics.JobsByState[state] = n
		metrics.TotalJobs += n
	}
	return metrics, nil
}

func (s *Server) broadcast() {
	if s.wsManager != nil {
		s.wsManager.Broadcast()
	}
}

func parseLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, state models.State) {
	writeJSON(w, status, models.ErrorResponse{Error: msg, Status: state})
}
