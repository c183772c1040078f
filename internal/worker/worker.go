package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"lyric-studio/internal/logger"
	"lyric-studio/internal/models"
	"lyric-studio/internal/music"
	"lyric-studio/internal/store"
)

// Failure reasons shown to clients through the status endpoint.
const (
	ReasonRejected       = "submission rejected"
	ReasonUpstreamFailed = "upstream failed"
	ReasonTimedOut       = "timed out"
	ReasonError          = "error"
)

// Submitter starts a generation upstream
type Submitter interface {
	Submit(ctx context.Context, req music.SubmitRequest) (string, error)
}

// Poller waits for a submitted generation
type Poller interface {
	Poll(ctx context.Context, correlationID string, caller music.Caller) (string, error)
}

// Recorder receives request-log entries
type Recorder interface {
	Record(entry models.LogEntry)
}

// Orchestrator runs the submit-and-poll sequence for confirmed jobs, one
// goroutine per job.
type Orchestrator struct {
	ctx       context.Context
	store     store.Store
	submitter Submitter
	poller    Poller
	recorder  Recorder
	onUpdate  func() // Callback for broadcasting updates
	log       *zap.SugaredLogger

	wg sync.WaitGroup
}

// New creates an orchestrator. Cancelling ctx abandons running jobs.
func New(ctx context.Context, s store.Store, submitter Submitter, poller Poller, recorder Recorder, onUpdate func()) *Orchestrator {
	return &Orchestrator{
		ctx:       ctx,
		store:     s,
		submitter: submitter,
		poller:    poller,
		recorder:  recorder,
		onUpdate:  onUpdate,
		log:       logger.ComponentLogger("worker"),
	}
}

// Start runs a confirmed job in the background and returns immediately.
// The job must already be in the submitting state. clientIP is the address
// of the caller that confirmed it.
func (o *Orchestrator) Start(job models.Job, clientIP, requestID string) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(job, clientIP, requestID)
	}()
}

// Wait blocks until every started job has finished
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) run(job models.Job, clientIP, requestID string) {
	log := o.log.With(logger.FieldJobID, job.ID, logger.FieldRequestID, requestID)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.Errorw("Job panicked", "panic", r)
			o.fail(log, job.ID, ReasonError, errors.Newf("panic: %v", r))
		}
	}()

	log.Infow("Job started", logger.FieldState, models.StateSubmitting)

	req := music.SubmitRequest{
		Topic:     job.Topic,
		Lyrics:    job.Lyrics,
		ClientIP:  clientIP,
		RequestID: requestID,
	}
	correlationID, err := o.submitter.Submit(o.ctx, req)
	if err != nil {
		reason := ReasonError
		if errors.Is(err, music.ErrSubmissionRejected) {
			reason = ReasonRejected
		}
		o.fail(log, job.ID, reason, err)
		return
	}

	if _, err := o.store.Update(job.ID, func(j *models.Job) error {
		j.State = models.StatePolling
		j.CorrelationID = correlationID
		return nil
	}); err != nil {
		log.Errorw("Failed to mark job polling", logger.FieldError, err)
		return
	}
	o.notify()
	log.Infow("Submission accepted", logger.FieldCorrelationID, correlationID, logger.FieldState, models.StatePolling)

	audioURL, err := o.poller.Poll(o.ctx, correlationID, req.Caller())
	if err != nil {
		o.fail(log, job.ID, classify(err), err)
		return
	}

	if _, err := o.store.Update(job.ID, func(j *models.Job) error {
		j.State = models.StateSucceeded
		j.ResultAudioURL = audioURL
		return nil
	}); err != nil {
		log.Errorw("Failed to mark job succeeded", logger.FieldError, err)
		return
	}
	o.notify()
	o.record(job.ID, models.StateSucceeded, audioURL)

	log.Infow("Job finished",
		logger.FieldState, models.StateSucceeded,
		logger.FieldDurationMS, time.Since(start).Milliseconds())
}

// fail moves the job to failed. The reason is what clients see; err is logged.
func (o *Orchestrator) fail(log *zap.SugaredLogger, jobID, reason string, err error) {
	if _, uerr := o.store.Update(jobID, func(j *models.Job) error {
		j.State = models.StateFailed
		j.Error = reason
		j.ResultAudioURL = ""
		return nil
	}); uerr != nil {
		log.Errorw("Failed to mark job failed", logger.FieldError, uerr)
		return
	}
	o.notify()
	o.record(jobID, models.StateFailed, fmt.Sprintf("%s: %v", reason, err))

	log.Warnw("Job failed", "reason", reason, logger.FieldError, err)
}

func (o *Orchestrator) record(jobID string, state models.State, detail string) {
	if o.recorder == nil {
		return
	}
	o.recorder.Record(models.LogEntry{
		JobID:     jobID,
		Kind:      models.KindResult,
		Status:    string(state),
		Detail:    detail,
		CreatedAt: time.Now(),
	})
}

func (o *Orchestrator) notify() {
	if o.onUpdate != nil {
		o.onUpdate()
	}
}

func classify(err error) string {
	switch {
	case errors.Is(err, music.ErrPollTimeout):
		return ReasonTimedOut
	case errors.Is(err, music.ErrUpstreamFailed):
		return ReasonUpstreamFailed
	default:
		return ReasonError
	}
}
