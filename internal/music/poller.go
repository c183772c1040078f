package music

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"lyric-studio/internal/logger"
)

// StatusChecker is the part of Client the Poller needs.
type StatusChecker interface {
	Status(ctx context.Context, correlationID string, caller Caller) (StatusResult, error)
}

// PollOptions bounds a poll loop
type PollOptions struct {
	Interval    time.Duration
	MaxAttempts int
	MaxWait     time.Duration
}

// Poller waits on a fixed cadence for a generation to finish
type Poller struct {
	checker StatusChecker
	opts    PollOptions
	log     *zap.SugaredLogger
}

// NewPoller creates a Poller
func NewPoller(checker StatusChecker, opts PollOptions) *Poller {
	return &Poller{
		checker: checker,
		opts:    opts,
		log:     logger.ComponentLogger("music.poller"),
	}
}

// Poll sleeps Interval before each status lookup and returns the track URL
// once the upstream reports success. It stops early on an explicit failure,
// a permanent error or ctx cancellation, and returns ErrPollTimeout after
// MaxAttempts lookups or MaxWait, whichever comes first. Transient errors
// use up an attempt. caller is forwarded on every lookup.
func (p *Poller) Poll(ctx context.Context, correlationID string, caller Caller) (string, error) {
	if p.opts.MaxWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.MaxWait)
		defer cancel()
	}

	timer := time.NewTimer(p.opts.Interval)
	defer timer.Stop()

	var lastErr error
	for attempt := 1; attempt <= p.opts.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", p.stopped(ctx, attempt-1, lastErr)
		case <-timer.C:
		}

		res, err := p.checker.Status(ctx, correlationID, caller)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return "", p.stopped(ctx, attempt, err)
		case errors.Is(err, ErrTransient):
			lastErr = err
			p.log.Debugw("Transient status error",
				logger.FieldCorrelationID, correlationID,
				logger.FieldAttempt, attempt,
				logger.FieldError, err)
			timer.Reset(p.opts.Interval)
			continue
		default:
			return "", errors.Wrapf(err, "poll attempt %d", attempt)
		}

		switch res.Status {
		case StatusSucceeded:
			return res.MusicURL, nil
		case StatusFailed:
			return "", errors.Wrapf(ErrUpstreamFailed, "status %q after %d attempts", res.Raw, attempt)
		}
		lastErr = nil
		timer.Reset(p.opts.Interval)
	}

	err := errors.Wrapf(ErrPollTimeout, "no result after %d attempts", p.opts.MaxAttempts)
	if lastErr != nil {
		err = errors.WithSecondaryError(err, lastErr)
	}
	return "", err
}

func (p *Poller) stopped(ctx context.Context, attempts int, lastErr error) error {
	var err error
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = errors.Wrapf(ErrPollTimeout, "wait budget spent after %d attempts", attempts)
	} else {
		err = errors.Wrap(ctx.Err(), "polling cancelled")
	}
	if lastErr != nil {
		err = errors.WithSecondaryError(err, lastErr)
	}
	return err
}
