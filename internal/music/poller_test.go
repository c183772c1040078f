package music

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedChecker replays a fixed sequence of responses, repeating the last.
type scriptedChecker struct {
	mu    sync.Mutex
	steps []step
	calls int
}

type step struct {
	res StatusResult
	err error
}

func (s *scriptedChecker) Status(ctx context.Context, correlationID string, caller Caller) (StatusResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	s.calls++
	return s.steps[i].res, s.steps[i].err
}

func (s *scriptedChecker) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func processing() step { return step{res: StatusResult{Status: StatusProcessing, Raw: "processing"}} }

func fastPoll(attempts int) PollOptions {
	return PollOptions{Interval: time.Millisecond, MaxAttempts: attempts, MaxWait: 5 * time.Second}
}

func TestPollSucceedsOnThirdAttempt(t *testing.T) {
	checker := &scriptedChecker{steps: []step{
		processing(),
		processing(),
		{res: StatusResult{Status: StatusSucceeded, MusicURL: "http://x/y.mp3", Raw: "success"}},
	}}

	url, err := NewPoller(checker, fastPoll(20)).Poll(context.Background(), "abc", Caller{})
	require.NoError(t, err)
	assert.Equal(t, "http://x/y.mp3", url)
	assert.Equal(t, 3, checker.Calls())
}

func TestPollExhaustsAttempts(t *testing.T) {
	checker := &scriptedChecker{steps: []step{processing()}}

	_, err := NewPoller(checker, fastPoll(15)).Poll(context.Background(), "abc", Caller{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPollTimeout))
	assert.Equal(t, 15, checker.Calls())
}

func TestPollStopsOnUpstreamFailure(t *testing.T) {
	checker := &scriptedChecker{steps: []step{
		processing(),
		{res: StatusResult{Status: StatusFailed, Raw: "failed"}},
	}}

	_, err := NewPoller(checker, fastPoll(20)).Poll(context.Background(), "abc", Caller{})
	assert.True(t, errors.Is(err, ErrUpstreamFailed))
	assert.Equal(t, 2, checker.Calls())
}

func TestPollTransientErrorsConsumeAttempts(t *testing.T) {
	transient := step{err: errors.Mark(errors.New("connection reset"), ErrTransient)}
	checker := &scriptedChecker{steps: []step{
		transient,
		transient,
		{res: StatusResult{Status: StatusSucceeded, MusicURL: "http://x/z.mp3", Raw: "success"}},
	}}

	url, err := NewPoller(checker, fastPoll(5)).Poll(context.Background(), "abc", Caller{})
	require.NoError(t, err)
	assert.Equal(t, "http://x/z.mp3", url)
	assert.Equal(t, 3, checker.Calls())
}

func TestPollTransientUntilTimeout(t *testing.T) {
	transient := step{err: errors.Mark(errors.New("connection reset"), ErrTransient)}
	checker := &scriptedChecker{steps: []step{transient}}

	_, err := NewPoller(checker, fastPoll(4)).Poll(context.Background(), "abc", Caller{})
	assert.True(t, errors.Is(err, ErrPollTimeout))
	assert.Equal(t, 4, checker.Calls())
}

func TestPollPermanentErrorAborts(t *testing.T) {
	checker := &scriptedChecker{steps: []step{{err: errors.New("status endpoint returned 404")}}}

	_, err := NewPoller(checker, fastPoll(10)).Poll(context.Background(), "abc", Caller{})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrPollTimeout))
	assert.Equal(t, 1, checker.Calls())
}

func TestPollWallClockBudget(t *testing.T) {
	checker := &scriptedChecker{steps: []step{processing()}}
	opts := PollOptions{Interval: 20 * time.Millisecond, MaxAttempts: 1000, MaxWait: 70 * time.Millisecond}

	start := time.Now()
	_, err := NewPoller(checker, opts).Poll(context.Background(), "abc", Caller{})
	assert.True(t, errors.Is(err, ErrPollTimeout))
	assert.Less(t, time.Since(start), time.Second)
	assert.Less(t, checker.Calls(), 1000)
}

func TestPollCancelled(t *testing.T) {
	checker := &scriptedChecker{steps: []step{processing()}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	opts := PollOptions{Interval: time.Hour, MaxAttempts: 10, MaxWait: 2 * time.Hour}
	_, err := NewPoller(checker, opts).Poll(ctx, "abc", Caller{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, ErrPollTimeout))
	assert.Equal(t, 0, checker.Calls())
}
