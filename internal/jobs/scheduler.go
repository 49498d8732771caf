// Package jobs schedules the batch jobs, guarantees one running instance per
// job name and exposes manual triggering.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"supporterhub/internal/platform/metrics"
	dErrors "supporterhub/pkg/domain-errors"
	"supporterhub/pkg/requestcontext"
)

var (
	ErrUnknownJob     = dErrors.New(dErrors.CodeNotFound, "unknown job")
	ErrAlreadyRunning = dErrors.New(dErrors.CodeConflict, "job is already running")
)

// Summary is what every job run reports.
type Summary interface {
	Status() string
	LogAttrs() []any
}

type RunFunc func(ctx context.Context) (Summary, error)

// Adapt turns a job's typed Run method into a RunFunc.
func Adapt[S Summary](run func(ctx context.Context) (S, error)) RunFunc {
	return func(ctx context.Context) (Summary, error) {
		s, err := run(ctx)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Definition is one schedulable job. A zero Interval means manual only.
type Definition struct {
	Name     string
	Interval time.Duration
	Run      RunFunc
}

type Scheduler struct {
	locker  Locker
	jobs    map[string]Definition
	lockTTL time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
	wg      sync.WaitGroup
}

type Option func(*Scheduler)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// WithLockTTL bounds how long a crashed run can block the next one. Live
// runs refresh their lock well before it expires.
func WithLockTTL(ttl time.Duration) Option {
	return func(s *Scheduler) {
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

func New(locker Locker, defs []Definition, opts ...Option) (*Scheduler, error) {
	if locker == nil {
		return nil, errors.New("locker is required")
	}
	s := &Scheduler{
		locker:  locker,
		jobs:    make(map[string]Definition, len(defs)),
		lockTTL: 30 * time.Minute,
		logger:  slog.Default(),
	}
	for _, d := range defs {
		if d.Name == "" || d.Run == nil {
			return nil, errors.New("job definition needs a name and a run function")
		}
		if _, dup := s.jobs[d.Name]; dup {
			return nil, fmt.Errorf("job %s defined twice", d.Name)
		}
		s.jobs[d.Name] = d
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Names lists the registered jobs.
func (s *Scheduler) Names() []string {
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start runs every job with an interval on its own ticker until ctx ends.
// Wait blocks until the tickers have stopped.
func (s *Scheduler) Start(ctx context.Context) {
	for _, def := range s.jobs {
		if def.Interval <= 0 {
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			ticker := time.NewTicker(def.Interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if _, err := s.run(ctx, def); err != nil && !errors.Is(err, ErrAlreadyRunning) {
						s.logger.ErrorContext(ctx, "scheduled job failed", "job", def.Name, "error", err)
					}
				}
			}
		}()
	}
}

func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Trigger runs a job now, unless another instance holds its lock.
func (s *Scheduler) Trigger(ctx context.Context, name string) (Summary, error) {
	def, ok := s.jobs[name]
	if !ok {
		return nil, ErrUnknownJob
	}
	return s.run(ctx, def)
}

func (s *Scheduler) run(ctx context.Context, def Definition) (Summary, error) {
	lease, ok, err := s.locker.Acquire(ctx, def.Name, s.lockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.logger.InfoContext(ctx, "job skipped, another instance holds the lock", "job", def.Name)
		s.metrics.RecordJobRun(def.Name, "skipped_locked", time.Now())
		return nil, ErrAlreadyRunning
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.WarnContext(ctx, "job lock release failed", "job", def.Name, "error", err)
		}
	}()

	start := time.Now()
	runID := def.Name + ":" + uuid.NewString()
	ctx = requestcontext.WithCorrelationID(ctx, runID)
	ctx = requestcontext.WithTime(ctx, start.UTC())

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := s.keepAlive(runCtx, cancel, def.Name, lease)

	s.logger.InfoContext(ctx, "job started", "job", def.Name, "run_id", runID)
	summary, err := def.Run(runCtx)
	stop()
	if err != nil {
		if cause := context.Cause(runCtx); errors.Is(cause, ErrLockLost) {
			err = fmt.Errorf("%w: %w", ErrLockLost, err)
		}
		s.logger.ErrorContext(ctx, "job failed", "job", def.Name, "run_id", runID, "error", err)
		return nil, err
	}
	attrs := append([]any{"job", def.Name, "run_id", runID, "status", summary.Status(), "duration_ms", time.Since(start).Milliseconds()}, summary.LogAttrs()...)
	s.logger.InfoContext(ctx, "job finished", attrs...)
	return summary, nil
}

// keepAlive refreshes the lease at a third of its ttl until stop is called.
// A lost lease cancels the run so two holders never work at once.
func (s *Scheduler) keepAlive(ctx context.Context, cancel context.CancelCauseFunc, name string, lease Lease) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(s.lockTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := lease.Refresh(ctx, s.lockTTL)
				switch {
				case errors.Is(err, ErrLockLost):
					s.logger.ErrorContext(ctx, "job lock lost, cancelling run", "job", name)
					cancel(ErrLockLost)
					return
				case err != nil:
					s.logger.WarnContext(ctx, "job lock refresh failed", "job", name, "error", err)
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}
