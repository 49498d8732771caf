package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	dErrors "supporterhub/pkg/domain-errors"
	"supporterhub/pkg/requestcontext"
)

type fakeSummary struct {
	status string
}

func (f fakeSummary) Status() string  { return f.status }
func (f fakeSummary) LogAttrs() []any { return []any{"fake", true} }

type SchedulerSuite struct {
	suite.Suite
	locker *MemoryLocker
}

func TestSchedulerSuite(t *testing.T) {
	suite.Run(t, new(SchedulerSuite))
}

func (s *SchedulerSuite) SetupTest() {
	s.locker = NewMemoryLocker()
}

// =============================================================================
// Construction
// =============================================================================

func (s *SchedulerSuite) TestNewValidation() {
	s.Run("locker is required", func() {
		_, err := New(nil, nil)
		s.Error(err)
	})

	s.Run("duplicate names are rejected", func() {
		run := func(context.Context) (Summary, error) { return fakeSummary{"ok"}, nil }
		_, err := New(s.locker, []Definition{{Name: "a", Run: run}, {Name: "a", Run: run}})
		s.Error(err)
	})

	s.Run("names are sorted", func() {
		run := func(context.Context) (Summary, error) { return fakeSummary{"ok"}, nil }
		sched, err := New(s.locker, []Definition{{Name: "tagsync", Run: run}, {Name: "classifier", Run: run}})
		s.Require().NoError(err)
		s.Equal([]string{"classifier", "tagsync"}, sched.Names())
	})
}

// =============================================================================
// Trigger
// =============================================================================

func (s *SchedulerSuite) TestTriggerPinsTimeAndCorrelation() {
	var seenTime time.Time
	var seenCorr string
	sched, err := New(s.locker, []Definition{{
		Name: "classifier",
		Run: func(ctx context.Context) (Summary, error) {
			seenTime = requestcontext.Now(ctx)
			time.Sleep(time.Millisecond)
			s.Equal(seenTime, requestcontext.Now(ctx))
			seenCorr = requestcontext.CorrelationID(ctx)
			return fakeSummary{"ok"}, nil
		},
	}})
	s.Require().NoError(err)

	summary, err := sched.Trigger(context.Background(), "classifier")
	s.Require().NoError(err)
	s.Equal("ok", summary.Status())
	s.False(seenTime.IsZero())
	s.Contains(seenCorr, "classifier:")
}

func (s *SchedulerSuite) TestTriggerUnknownJob() {
	sched, err := New(s.locker, nil)
	s.Require().NoError(err)

	_, err = sched.Trigger(context.Background(), "nope")
	s.ErrorIs(err, ErrUnknownJob)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *SchedulerSuite) TestTriggerWhileRunningIsRejected() {
	started := make(chan struct{})
	finish := make(chan struct{})
	sched, err := New(s.locker, []Definition{{
		Name: "reconcile",
		Run: func(ctx context.Context) (Summary, error) {
			close(started)
			<-finish
			return fakeSummary{"ok"}, nil
		},
	}})
	s.Require().NoError(err)

	done := make(chan error, 1)
	go func() {
		_, err := sched.Trigger(context.Background(), "reconcile")
		done <- err
	}()
	<-started

	_, err = sched.Trigger(context.Background(), "reconcile")
	s.ErrorIs(err, ErrAlreadyRunning)

	close(finish)
	s.NoError(<-done)
}

func (s *SchedulerSuite) TestRunErrorReleasesLock() {
	calls := 0
	sched, err := New(s.locker, []Definition{{
		Name: "poll",
		Run: func(context.Context) (Summary, error) {
			calls++
			return nil, errors.New("boom")
		},
	}})
	s.Require().NoError(err)

	_, err = sched.Trigger(context.Background(), "poll")
	s.Error(err)
	_, err = sched.Trigger(context.Background(), "poll")
	s.Error(err)
	s.NotErrorIs(err, ErrAlreadyRunning)
	s.Equal(2, calls)
}

// =============================================================================
// Lock lease
// =============================================================================

func (s *SchedulerSuite) TestLongRunKeepsItsLock() {
	ttl := 60 * time.Millisecond
	started := make(chan struct{})
	finish := make(chan struct{})
	sched, err := New(s.locker, []Definition{{
		Name: "reconcile",
		Run: func(ctx context.Context) (Summary, error) {
			close(started)
			<-finish
			return fakeSummary{"ok"}, nil
		},
	}}, WithLockTTL(ttl))
	s.Require().NoError(err)

	done := make(chan error, 1)
	go func() {
		_, err := sched.Trigger(context.Background(), "reconcile")
		done <- err
	}()
	<-started

	time.Sleep(4 * ttl)
	_, ok, err := s.locker.Acquire(context.Background(), "reconcile", ttl)
	s.Require().NoError(err)
	s.False(ok, "a running job still holds its lock past the initial ttl")

	close(finish)
	s.NoError(<-done)
	_, ok, err = s.locker.Acquire(context.Background(), "reconcile", ttl)
	s.Require().NoError(err)
	s.True(ok)
}

func (s *SchedulerSuite) TestLostLockCancelsRun() {
	ttl := 30 * time.Millisecond
	started := make(chan struct{})
	sched, err := New(s.locker, []Definition{{
		Name: "tagsync",
		Run: func(ctx context.Context) (Summary, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}}, WithLockTTL(ttl))
	s.Require().NoError(err)

	done := make(chan error, 1)
	go func() {
		_, err := sched.Trigger(context.Background(), "tagsync")
		done <- err
	}()
	<-started

	s.locker.mu.Lock()
	delete(s.locker.held, "tagsync")
	s.locker.mu.Unlock()

	select {
	case err := <-done:
		s.ErrorIs(err, ErrLockLost)
	case <-time.After(time.Second):
		s.Fail("run was not cancelled after losing its lock")
	}
}

// =============================================================================
// Start
// =============================================================================

func (s *SchedulerSuite) TestStartRunsOnInterval() {
	var runs atomic.Int32
	sched, err := New(s.locker, []Definition{
		{
			Name:     "tagsync",
			Interval: 5 * time.Millisecond,
			Run: func(context.Context) (Summary, error) {
				runs.Add(1)
				return fakeSummary{"ok"}, nil
			},
		},
		{
			Name: "manual",
			Run: func(context.Context) (Summary, error) {
				s.Fail("manual job must not be scheduled")
				return fakeSummary{"ok"}, nil
			},
		},
	})
	s.Require().NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	sched.Start(ctx)
	s.Eventually(func() bool { return runs.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	sched.Wait()
}

func TestAdapt(t *testing.T) {
	typed := func(context.Context) (fakeSummary, error) { return fakeSummary{"partial"}, nil }
	summary, err := Adapt(typed)(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "partial", summary.Status())

	failing := func(context.Context) (fakeSummary, error) { return fakeSummary{}, errors.New("x") }
	summary, err = Adapt(failing)(context.Background())
	assert.Error(t, err)
	assert.Nil(t, summary)
}

func TestMemoryLockerExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewMemoryLocker()
	l.clock = func() time.Time { return now }

	stale, ok, err := l.Acquire(context.Background(), "job", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, _ = l.Acquire(context.Background(), "job", time.Minute)
	assert.False(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok, _ = l.Acquire(context.Background(), "job", time.Minute)
	assert.True(t, ok, "expired lock is reclaimable")

	// stale holder must not free or extend the new holder's lock
	assert.ErrorIs(t, stale.Refresh(context.Background(), time.Minute), ErrLockLost)
	require.NoError(t, stale.Release(context.Background()))
	_, ok, _ = l.Acquire(context.Background(), "job", time.Minute)
	assert.False(t, ok)
}

func TestMemoryLeaseRefresh(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewMemoryLocker()
	l.clock = func() time.Time { return now }

	lease, ok, err := l.Acquire(context.Background(), "job", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(50 * time.Second)
	require.NoError(t, lease.Refresh(context.Background(), time.Minute))

	now = now.Add(50 * time.Second)
	_, ok, _ = l.Acquire(context.Background(), "job", time.Minute)
	assert.False(t, ok, "refreshed lease outlives the original ttl")

	now = now.Add(2 * time.Minute)
	assert.ErrorIs(t, lease.Refresh(context.Background(), time.Minute), ErrLockLost)
}
