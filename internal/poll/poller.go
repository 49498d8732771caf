// Package poll pulls records from sources that are not pushed through the
// queue and feeds them into the normal ingestion path.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"supporterhub/internal/ingestion"
	"supporterhub/internal/platform/metrics"
	"supporterhub/internal/settings"
	"supporterhub/internal/sources"
	id "supporterhub/pkg/domain"
	dErrors "supporterhub/pkg/domain-errors"
	"supporterhub/pkg/requestcontext"
)

const JobName = "poll"

const defaultInitialLookback = 24 * time.Hour

// Ingester is the live ingestion entry point.
type Ingester interface {
	Ingest(ctx context.Context, source id.SourceSystem, msg ingestion.Message) (ingestion.Result, error)
}

// Target is one polled feed. Kind names the entity in the checkpoint key,
// e.g. "order" for poll.shopify.last_order_fetch.
type Target struct {
	Kind   string
	Client sources.Client
}

// Poller advances one checkpoint per target.
type Poller struct {
	settings        settings.Store
	ingester        Ingester
	targets         []Target
	initialLookback time.Duration
	logger          *slog.Logger
	metrics         *metrics.Metrics
	tracer          trace.Tracer
}

type Option func(*Poller)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Poller) {
		p.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Poller) {
		p.metrics = m
	}
}

// WithInitialLookback sets how far back a target with no checkpoint starts.
func WithInitialLookback(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.initialLookback = d
		}
	}
}

func New(store settings.Store, ingester Ingester, targets []Target, opts ...Option) (*Poller, error) {
	if store == nil {
		return nil, errors.New("settings store is required")
	}
	if ingester == nil {
		return nil, errors.New("ingester is required")
	}
	for _, t := range targets {
		if t.Kind == "" || t.Client == nil {
			return nil, errors.New("poll target needs a kind and a client")
		}
	}
	p := &Poller{
		settings:        store,
		ingester:        ingester,
		targets:         targets,
		initialLookback: defaultInitialLookback,
		logger:          slog.Default(),
		tracer:          otel.Tracer("supporterhub/poll"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// TargetReport is the tally for one target.
type TargetReport struct {
	Source     id.SourceSystem
	Kind       string
	Since      time.Time
	Fetched    int
	Created    int
	Duplicates int
	Skipped    int
	Rejected   int
	Advanced   bool
	Err        string
}

type Summary struct {
	RanAt   time.Time
	Targets []TargetReport
}

func (s *Summary) Status() string {
	for _, t := range s.Targets {
		if t.Err != "" {
			return "partial"
		}
	}
	return "ok"
}

func (s *Summary) LogAttrs() []any {
	created := 0
	for _, t := range s.Targets {
		created += t.Created
	}
	return []any{"status", s.Status(), "targets", len(s.Targets), "created", created}
}

// Run polls every target concurrently. A target's checkpoint moves to the
// instant its fetch started, and only when every fetched record was applied.
func (p *Poller) Run(ctx context.Context) (summary *Summary, err error) {
	started := time.Now()
	ctx, span := p.tracer.Start(ctx, "poll.Run")
	defer func() {
		status := "failed"
		if err == nil {
			status = summary.Status()
		} else {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		p.metrics.RecordJobRun(JobName, status, started)
		span.End()
	}()

	now := requestcontext.Now(ctx)
	reports := make([]TargetReport, len(p.targets))
	var mu sync.Mutex
	g := new(errgroup.Group)
	for i, target := range p.targets {
		g.Go(func() error {
			report := p.pollTarget(ctx, target, now)
			mu.Lock()
			reports[i] = report
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	summary = &Summary{RanAt: now, Targets: reports}
	p.logger.InfoContext(ctx, "poll run complete", summary.LogAttrs()...)
	return summary, nil
}

func (p *Poller) pollTarget(ctx context.Context, target Target, now time.Time) TargetReport {
	source := target.Client.Source()
	key := settings.PollCheckpointKey(source, target.Kind)
	report := TargetReport{Source: source, Kind: target.Kind}
	fail := func(err error) TargetReport {
		report.Err = err.Error()
		p.logger.ErrorContext(ctx, "poll target failed", "source", source, "kind", target.Kind, "error", err)
		return report
	}

	since, err := settings.Timestamp(ctx, p.settings, key)
	if err != nil {
		return fail(err)
	}
	if since.IsZero() {
		since = now.Add(-p.initialLookback)
	}
	report.Since = since

	msgs, err := target.Client.FetchSince(ctx, since)
	if err != nil {
		return fail(err)
	}
	report.Fetched = len(msgs)

	for _, msg := range msgs {
		res, err := p.ingester.Ingest(ctx, source, msg)
		if err != nil {
			if dErrors.HasCode(err, dErrors.CodeMalformedMessage) {
				report.Rejected++
				p.logger.WarnContext(ctx, "polled record rejected", "source", source, "type", msg.Type, "error", err)
				continue
			}
			return fail(fmt.Errorf("ingest %s record: %w", msg.Type, err))
		}
		switch res.Outcome {
		case ingestion.OutcomeCreated:
			report.Created++
		case ingestion.OutcomeDuplicate:
			report.Duplicates++
		default:
			report.Skipped++
		}
	}

	if err := settings.SetTimestamp(ctx, p.settings, key, now); err != nil {
		return fail(err)
	}
	report.Advanced = true
	return report
}
