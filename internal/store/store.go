// Package store keeps job records for the lifetime of the process.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"lyric-studio/internal/logger"
	"lyric-studio/internal/models"
)

var (
	// ErrNotFound is returned for ids that were never created or have been evicted.
	ErrNotFound = errors.New("job not found")
	// ErrAlreadyConfirmed is returned when a job has already been handed to an orchestrator.
	ErrAlreadyConfirmed = errors.New("job already confirmed")
	// ErrTerminal is returned when an update targets a finished job.
	ErrTerminal = errors.New("job is in a terminal state")
	// ErrInvalidTransition is returned for state changes the lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Store is the job store shared by the HTTP handlers and the orchestrator.
type Store interface {
	Create(prompt, lyrics, clientIP string) models.Job
	Get(id string) (models.Job, bool)
	Update(id string, fn func(*models.Job) error) (models.Job, error)
	Confirm(id, topic, lyrics string) (models.Job, error)
	List(limit int) []models.Job
	Counts() map[models.State]int64
	Evict(before time.Time) int
}

// MemoryStore is a mutex-guarded in-memory Store.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*models.Job
	now  func() time.Time
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*models.Job),
		now:  time.Now,
	}
}

// Create inserts a new job. It starts in lyrics_ready when lyrics are
// present, otherwise pending.
func (s *MemoryStore) Create(prompt, lyrics, clientIP string) models.Job {
	now := s.now()
	state := models.StatePending
	if lyrics != "" {
		state = models.StateLyricsReady
	}

	job := &models.Job{
		ID:        uuid.NewString(),
		State:     state,
		Prompt:    prompt,
		Lyrics:    lyrics,
		ClientIP:  clientIP,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	return *job
}

// Get returns a copy of the job
func (s *MemoryStore) Get(id string) (models.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return models.Job{}, false
	}
	return *job, true
}

// Update applies fn to a copy of the job and stores the result if the
// resulting state change is allowed. The prompt, id and creation time
// cannot be changed.
func (s *MemoryStore) Update(id string, fn func(*models.Job) error) (models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[id]
	if !ok {
		return models.Job{}, errors.Wrapf(ErrNotFound, "job %s", id)
	}
	if current.State.Terminal() {
		return *current, errors.Wrapf(ErrTerminal, "job %s is %s", id, current.State)
	}

	next := *current
	if err := fn(&next); err != nil {
		return *current, err
	}
	next.ID = current.ID
	next.Prompt = current.Prompt
	next.CreatedAt = current.CreatedAt

	if err := checkTransition(current.State, next.State); err != nil {
		return *current, err
	}
	if (next.State == models.StateSucceeded) != (next.ResultAudioURL != "") {
		return *current, errors.Newf("job %s: result audio url must be set exactly when succeeded", id)
	}

	next.UpdatedAt = s.now()
	s.jobs[id] = &next
	return next, nil
}

// Confirm moves a job from pending or lyrics_ready to submitting with the
// user's final topic and lyrics. Only the first confirm for a job succeeds.
func (s *MemoryStore) Confirm(id, topic, lyrics string) (models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[id]
	if !ok {
		return models.Job{}, errors.Wrapf(ErrNotFound, "job %s", id)
	}
	switch current.State {
	case models.StatePending, models.StateLyricsReady:
	default:
		return *current, errors.Wrapf(ErrAlreadyConfirmed, "job %s is %s", id, current.State)
	}

	next := *current
	next.State = models.StateSubmitting
	next.Topic = topic
	next.Lyrics = lyrics
	next.UpdatedAt = s.now()
	s.jobs[id] = &next
	return next, nil
}

// List returns up to limit jobs, newest first. A non-positive limit returns all.
func (s *MemoryStore) List(limit int) []models.Job {
	s.mu.RLock()
	jobs := make([]models.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, *job)
	}
	s.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs
}

// Counts returns the number of jobs per state
func (s *MemoryStore) Counts() map[models.State]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[models.State]int64)
	for _, job := range s.jobs {
		counts[job.State]++
	}
	return counts
}

// Evict removes jobs created before the cutoff. Jobs owned by a running
// orchestrator are kept.
func (s *MemoryStore) Evict(before time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, job := range s.jobs {
		if job.State.InFlight() || !job.CreatedAt.Before(before) {
			continue
		}
		delete(s.jobs, id)
		removed++
	}
	return removed
}

// RunJanitor evicts jobs older than maxAge every interval until ctx is done.
// It returns immediately when maxAge is not positive.
func RunJanitor(ctx context.Context, s Store, interval, maxAge time.Duration, log *zap.SugaredLogger) {
	if maxAge <= 0 || interval <= 0 {
		return
	}
	if log == nil {
		log = logger.ComponentLogger("store.janitor")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.Evict(now.Add(-maxAge)); n > 0 {
				log.Infow("Evicted expired jobs", logger.FieldCount, n)
			}
		}
	}
}

// checkTransition enforces the job lifecycle edges.
func checkTransition(from, to models.State) error {
	if from == to {
		return nil
	}
	ok := false
	switch from {
	case models.StatePending:
		ok = to == models.StateLyricsReady || to == models.StateSubmitting || to == models.StateFailed
	case models.StateLyricsReady:
		ok = to == models.StateSubmitting || to == models.StateFailed
	case models.StateSubmitting:
		ok = to == models.StatePolling || to == models.StateFailed
	case models.StatePolling:
		ok = to == models.StateSucceeded || to == models.StateFailed
	}
	if !ok {
		return errors.Wrapf(ErrInvalidTransition, "%s -> %s", from, to)
	}
	return nil
}
