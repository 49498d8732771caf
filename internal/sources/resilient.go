package sources

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	gobreaker "github.com/sony/gobreaker/v2"

	"supporterhub/internal/ingestion"
	id "supporterhub/pkg/domain"
	dErrors "supporterhub/pkg/domain-errors"
)

// GuardConfig tunes the per-call timeout, retry and circuit breaker of one
// upstream dependency.
type GuardConfig struct {
	CallTimeout  time.Duration
	MaxRetries   uint64
	RetryInitial time.Duration
	RetryMax     time.Duration
	// TripAfter consecutive failures opens the breaker for OpenFor.
	TripAfter uint32
	OpenFor   time.Duration
}

func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		CallTimeout:  15 * time.Second,
		MaxRetries:   3,
		RetryInitial: 500 * time.Millisecond,
		RetryMax:     5 * time.Second,
		TripAfter:    5,
		OpenFor:      time.Minute,
	}
}

// Guard runs calls to one upstream with a timeout per attempt, bounded
// exponential retry of transient failures and a circuit breaker.
type Guard struct {
	name    string
	cfg     GuardConfig
	breaker *gobreaker.CircuitBreaker[struct{}]
	logger  *slog.Logger
}

func NewGuard(name string, cfg GuardConfig, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Guard{name: name, cfg: cfg, logger: logger}
	g.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.TripAfter
		},
		IsSuccessful: func(err error) bool {
			// non-retryable errors do not count against the upstream
			return err == nil || !dErrors.IsRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("source circuit breaker state change",
				"source", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return g
}

// Do runs fn until it succeeds, fails permanently, or retries run out.
// An open breaker fails fast with an unavailable error.
func (g *Guard) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = g.cfg.RetryInitial
	policy.MaxInterval = g.cfg.RetryMax
	policy.MaxElapsedTime = 0

	attempt := 0
	op := func() error {
		attempt++
		_, err := g.breaker.Execute(func() (struct{}, error) {
			callCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
			defer cancel()
			err := fn(callCtx)
			if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				err = dErrors.Wrap(err, dErrors.CodeTimeout, g.name+" call timed out")
			}
			return struct{}{}, err
		})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return backoff.Permanent(dErrors.Wrap(err, dErrors.CodeUnavailable, g.name+" circuit open"))
		case ctx.Err() != nil:
			return backoff.Permanent(ctx.Err())
		case !dErrors.IsRetryable(err):
			return backoff.Permanent(err)
		}
		g.logger.WarnContext(ctx, "source call failed, retrying",
			"source", g.name,
			"attempt", attempt,
			"error", err,
		)
		return err
	}
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, g.cfg.MaxRetries), ctx))
}

// State reports the breaker state, for readiness reporting.
func (g *Guard) State() string {
	return g.breaker.State().String()
}

// ResilientClient wraps a Client with a Guard.
type ResilientClient struct {
	inner Client
	guard *Guard
}

func NewResilientClient(inner Client, cfg GuardConfig, logger *slog.Logger) *ResilientClient {
	return &ResilientClient{inner: inner, guard: NewGuard(string(inner.Source()), cfg, logger)}
}

func (c *ResilientClient) Source() id.SourceSystem { return c.inner.Source() }

func (c *ResilientClient) FetchSince(ctx context.Context, since time.Time) ([]ingestion.Message, error) {
	var out []ingestion.Message
	err := c.guard.Do(ctx, func(ctx context.Context) error {
		msgs, err := c.inner.FetchSince(ctx, since)
		if err != nil {
			return err
		}
		out = msgs
		return nil
	})
	return out, err
}

// ResilientAudience wraps an AudienceClient with a Guard.
type ResilientAudience struct {
	inner AudienceClient
	guard *Guard
}

func NewResilientAudience(inner AudienceClient, cfg GuardConfig, logger *slog.Logger) *ResilientAudience {
	return &ResilientAudience{inner: inner, guard: NewGuard(string(inner.System())+"-audience", cfg, logger)}
}

func (c *ResilientAudience) System() id.SourceSystem { return c.inner.System() }

func (c *ResilientAudience) CurrentTags(ctx context.Context, audienceID, memberID string) ([]string, error) {
	var tags []string
	err := c.guard.Do(ctx, func(ctx context.Context) error {
		got, err := c.inner.CurrentTags(ctx, audienceID, memberID)
		if err != nil {
			return err
		}
		tags = got
		return nil
	})
	return tags, err
}

func (c *ResilientAudience) UpdateTags(ctx context.Context, audienceID, memberID string, add, remove []string) error {
	return c.guard.Do(ctx, func(ctx context.Context) error {
		return c.inner.UpdateTags(ctx, audienceID, memberID, add, remove)
	})
}
