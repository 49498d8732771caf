package classifier

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

	eventmodels "supporterhub/internal/events/models"
	"supporterhub/internal/platform/metrics"
	"supporterhub/internal/settings"
	"supporterhub/internal/supporter/models"
	id "supporterhub/pkg/domain"
	"supporterhub/pkg/platform/audit"
	"supporterhub/pkg/platform/sentinel"
	txcontext "supporterhub/pkg/platform/tx"
	"supporterhub/pkg/requestcontext"
)

// JobName identifies the classifier in locks, metrics and the ops API.
const JobName = "classifier"

const defaultConcurrency = 8

type Store interface {
	settings.Store
	ListAutoSupporterIDs(ctx context.Context) ([]id.SupporterID, error)
	GetSupporter(ctx context.Context, supporterID id.SupporterID) (*models.Supporter, error)
	GetMembership(ctx context.Context, supporterID id.SupporterID) (*models.Membership, error)
	ListEventsBySupporter(ctx context.Context, supporterID id.SupporterID) ([]*eventmodels.Event, error)
	SetAutoType(ctx context.Context, supporterID id.SupporterID, supporterType models.Type, now time.Time) (bool, error)
}

// Job reclassifies every auto-typed supporter.
type Job struct {
	store       Store
	tx          txcontext.Runner
	audit       audit.Store
	rules       []Rule
	concurrency int
	logger      *slog.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
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

// WithRules replaces the default rule chain.
func WithRules(rules []Rule) Option {
	return func(j *Job) {
		j.rules = rules
	}
}

// WithConcurrency bounds how many supporters are classified at once.
func WithConcurrency(n int) Option {
	return func(j *Job) {
		if n > 0 {
			j.concurrency = n
		}
	}
}

func New(store Store, tx txcontext.Runner, auditStore audit.Store, opts ...Option) (*Job, error) {
	if store == nil {
		return nil, errors.New("supporter store is required")
	}
	if tx == nil {
		return nil, errors.New("transaction runner is required")
	}
	if auditStore == nil {
		return nil, errors.New("audit store is required")
	}
	j := &Job{
		store:       store,
		tx:          tx,
		audit:       auditStore,
		rules:       DefaultRules(),
		concurrency: defaultConcurrency,
		logger:      slog.Default(),
		tracer:      otel.Tracer("supporterhub/classifier"),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Summary reports one classifier run.
type Summary struct {
	RanAt     time.Time
	Evaluated int
	Changed   int
	Failed    int
	Errors    []string
}

// Status is "ok" unless some supporters could not be classified.
func (s *Summary) Status() string {
	if s.Failed > 0 {
		return "partial"
	}
	return "ok"
}

func (s *Summary) LogAttrs() []any {
	return []any{"evaluated", s.Evaluated, "changed", s.Changed, "failed", s.Failed}
}

// Run classifies every auto-typed supporter against one settings snapshot
// and one evaluation instant. Individual failures are counted; only a
// failure to start the run or a cancelled context is returned as an error.
func (j *Job) Run(ctx context.Context) (summary *Summary, err error) {
	started := time.Now()
	ctx, span := j.tracer.Start(ctx, "classifier.Run")
	defer func() {
		status := "failed"
		if err == nil {
			status = summary.Status()
			span.SetAttributes(attribute.Int("changed", summary.Changed), attribute.Int("failed", summary.Failed))
		} else {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		j.metrics.RecordJobRun(JobName, status, started)
		span.End()
	}()

	now := requestcontext.Now(ctx)
	cfg, err := settings.Load(ctx, j.store)
	if err != nil {
		return nil, err
	}
	ids, err := j.store.ListAutoSupporterIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list supporters: %w", err)
	}

	summary = &Summary{RanAt: now, Evaluated: len(ids)}
	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(j.concurrency)
	for _, supporterID := range ids {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			changed, err := j.classifyOne(ctx, cfg, now, supporterID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				summary.Failed++
				summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", supporterID, err))
				j.logger.ErrorContext(ctx, "classification failed",
					"supporter_id", supporterID.String(),
					"error", err,
				)
			case changed:
				summary.Changed++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := settings.SetTimestamp(ctx, j.store, settings.KeyClassifierLastRun, now); err != nil {
		return nil, err
	}
	j.logger.InfoContext(ctx, "classifier run complete", summary.LogAttrs()...)
	return summary, nil
}

// classifyOne evaluates a single supporter and writes the new type with its
// audit entry in one transaction. It reports whether the type changed.
func (j *Job) classifyOne(ctx context.Context, cfg settings.RunConfig, now time.Time, supporterID id.SupporterID) (bool, error) {
	var (
		changed   bool
		committed audit.Entry
	)
	err := j.tx.RunInTx(ctx, func(txCtx context.Context) error {
		supporter, err := j.store.GetSupporter(txCtx, supporterID)
		if errors.Is(err, sentinel.ErrNotFound) {
			// merged away since the run started
			return nil
		}
		if err != nil {
			return fmt.Errorf("load supporter: %w", err)
		}
		if supporter.IsOverridden() {
			return nil
		}
		membership, err := j.store.GetMembership(txCtx, supporterID)
		if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return fmt.Errorf("load membership: %w", err)
		}
		events, err := j.store.ListEventsBySupporter(txCtx, supporterID)
		if err != nil {
			return fmt.Errorf("load events: %w", err)
		}

		result, rule := Classify(j.rules, Facts{Now: now, Config: cfg, Membership: membership, Events: events})
		if result == supporter.Type {
			return nil
		}
		updated, err := j.store.SetAutoType(txCtx, supporterID, result, now)
		if err != nil {
			return fmt.Errorf("set supporter type: %w", err)
		}
		if !updated {
			return nil
		}
		entry, err := audit.NewEntry(audit.SystemActor, audit.ActionSupporterTypeChanged, supporterID.String(), now,
			typeState{Type: supporter.Type},
			typeState{Type: result, Rule: rule},
			"classifier rule "+rule)
		if err != nil {
			return err
		}
		if err := j.audit.Append(txCtx, entry); err != nil {
			return fmt.Errorf("append audit entry: %w", err)
		}
		changed = true
		committed = entry
		return nil
	})
	if err != nil {
		return false, err
	}
	if changed {
		audit.Log(ctx, j.logger, committed)
	}
	return changed, nil
}

type typeState struct {
	Type models.Type `json:"supporter_type"`
	Rule string      `json:"rule,omitempty"`
}
