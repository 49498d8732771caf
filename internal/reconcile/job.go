// Package reconcile re-reads recent records from each source system and
// recovers any event the live pipeline missed.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
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

const JobName = "reconcile"

// Run statuses.
const (
	StatusOK      = "ok"
	StatusPartial = "partial"
	StatusAlert   = "alert"
)

// Recoverer applies a fetched record through the linked-id-only path.
type Recoverer interface {
	Recover(ctx context.Context, source id.SourceSystem, msg ingestion.Message) (ingestion.Result, error)
}

// Job runs one reconciliation pass over every configured source.
type Job struct {
	settings  settings.Store
	recoverer Recoverer
	clients   []sources.Client
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

type Option func(*Job)

func WithLogger(logger *slog.Logger) Option {
	return func(j *Job) {
		j.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(j *Job) {
		j.metrics = m
	}
}

func New(store settings.Store, recoverer Recoverer, clients []sources.Client, opts ...Option) (*Job, error) {
	if store == nil {
		return nil, errors.New("settings store is required")
	}
	if recoverer == nil {
		return nil, errors.New("recoverer is required")
	}
	j := &Job{
		settings:  store,
		recoverer: recoverer,
		clients:   clients,
		logger:    slog.Default(),
		tracer:    otel.Tracer("supporterhub/reconcile"),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// SourceReport is the tally for one source.
type SourceReport struct {
	Source         id.SourceSystem
	Fetched        int
	Recovered      int
	AlreadyPresent int
	Unmatched      int
	Ignored        int
	Rejected       int
	Err            string
}

// Summary reports one reconciliation run.
type Summary struct {
	RanAt     time.Time
	Since     time.Time
	Recovered int
	Sources   []SourceReport
	status    string
}

func (s *Summary) Status() string { return s.status }

func (s *Summary) LogAttrs() []any {
	return []any{"recovered", s.Recovered, "sources", len(s.Sources), "since", s.Since}
}

// Run fetches every source concurrently. A failing source never stops the
// others; it marks the run partial. Recovering more events than the alert
// threshold marks the run alert, which outranks partial.
func (j *Job) Run(ctx context.Context) (summary *Summary, err error) {
	started := time.Now()
	ctx, span := j.tracer.Start(ctx, "reconcile.Run")
	defer func() {
		status := "failed"
		if err == nil {
			status = summary.Status()
			span.SetAttributes(attribute.Int("recovered", summary.Recovered), attribute.String("status", status))
		} else {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		j.metrics.RecordJobRun(JobName, status, started)
		span.End()
	}()

	now := requestcontext.Now(ctx)
	cfg, err := settings.Load(ctx, j.settings)
	if err != nil {
		return nil, err
	}
	since := now.Add(-cfg.ReconcileLookback)

	reports := make([]SourceReport, len(j.clients))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i, client := range j.clients {
		g.Go(func() error {
			report, err := j.reconcileSource(gctx, client, since)
			mu.Lock()
			reports[i] = report
			mu.Unlock()
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	summary = &Summary{RanAt: now, Since: since, Sources: reports, status: StatusOK}
	failed := false
	for _, r := range reports {
		summary.Recovered += r.Recovered
		if r.Err != "" {
			failed = true
		}
	}
	switch {
	case summary.Recovered > cfg.ReconcileAlertThreshold:
		summary.status = StatusAlert
		j.logger.WarnContext(ctx, "reconciliation recovered more events than expected",
			"recovered", summary.Recovered,
			"threshold", cfg.ReconcileAlertThreshold,
		)
	case failed:
		summary.status = StatusPartial
	}

	if err := settings.SetTimestamp(ctx, j.settings, settings.KeyReconcileLastRun, now); err != nil {
		return nil, err
	}
	j.logger.InfoContext(ctx, "reconciliation run complete", summary.LogAttrs()...)
	return summary, nil
}

// reconcileSource reports fetch failures on the source itself. A record the
// pipeline cannot store is fatal for the whole run.
func (j *Job) reconcileSource(ctx context.Context, client sources.Client, since time.Time) (SourceReport, error) {
	source := client.Source()
	report := SourceReport{Source: source}
	defer func() {
		j.metrics.AddRecovered(string(source), report.Recovered)
	}()

	msgs, err := client.FetchSince(ctx, since)
	if err != nil {
		report.Err = err.Error()
		j.logger.ErrorContext(ctx, "reconciliation fetch failed", "source", source, "error", err)
		return report, nil
	}
	report.Fetched = len(msgs)

	for _, msg := range msgs {
		res, err := j.recoverer.Recover(ctx, source, msg)
		if err != nil {
			if dErrors.HasCode(err, dErrors.CodeMalformedMessage) || dErrors.HasCode(err, dErrors.CodeInvalidInput) {
				report.Rejected++
				j.logger.WarnContext(ctx, "reconciliation record rejected", "source", source, "type", msg.Type, "error", err)
				continue
			}
			return report, fmt.Errorf("recover %s %s record: %w", source, msg.Type, err)
		}
		switch res.Outcome {
		case ingestion.OutcomeCreated:
			report.Recovered++
		case ingestion.OutcomeDuplicate:
			report.AlreadyPresent++
		case ingestion.OutcomeSkippedUnresolved, ingestion.OutcomeSkippedAmbiguous:
			report.Unmatched++
			j.logger.ErrorContext(ctx, "reconciliation record has no linked supporter",
				"source", source,
				"external_id", res.ExternalID,
			)
		default:
			report.Ignored++
		}
	}
	return report, nil
}
