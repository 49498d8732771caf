package tagsync

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
	"supporterhub/internal/sources"
	"supporterhub/internal/supporter/models"
	id "supporterhub/pkg/domain"
	"supporterhub/pkg/platform/sentinel"
	platformstrings "supporterhub/pkg/platform/strings"
	"supporterhub/pkg/requestcontext"
)

const JobName = "tagsync"

const defaultConcurrency = 4

// Push results recorded in metrics.
const (
	resultPushed    = "pushed"
	resultUnchanged = "unchanged"
	resultFailed    = "failed"
)

type Store interface {
	settings.Store
	ListSupportersWithAudiences(ctx context.Context) ([]id.SupporterID, error)
	GetSupporter(ctx context.Context, supporterID id.SupporterID) (*models.Supporter, error)
	GetMembership(ctx context.Context, supporterID id.SupporterID) (*models.Membership, error)
	ListEventsBySupporter(ctx context.Context, supporterID id.SupporterID) ([]*eventmodels.Event, error)
	ListAudienceMemberships(ctx context.Context, supporterID id.SupporterID) ([]*models.AudienceMembership, error)
	SaveAudienceMembership(ctx context.Context, membership *models.AudienceMembership) error
}

// Job syncs tags for every supporter that belongs to an audience.
type Job struct {
	store       Store
	clients     map[id.SourceSystem]sources.AudienceClient
	rules       []TagRule
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

func WithRules(rules []TagRule) Option {
	return func(j *Job) {
		j.rules = rules
	}
}

func WithConcurrency(n int) Option {
	return func(j *Job) {
		if n > 0 {
			j.concurrency = n
		}
	}
}

func New(store Store, clients []sources.AudienceClient, opts ...Option) (*Job, error) {
	if store == nil {
		return nil, errors.New("supporter store is required")
	}
	j := &Job{
		store:       store,
		clients:     make(map[id.SourceSystem]sources.AudienceClient, len(clients)),
		rules:       DefaultRules(),
		concurrency: defaultConcurrency,
		logger:      slog.Default(),
		tracer:      otel.Tracer("supporterhub/tagsync"),
	}
	for _, c := range clients {
		j.clients[c.System()] = c
	}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Summary reports one tag sync run.
type Summary struct {
	RanAt      time.Time
	Supporters int
	Pushed     int
	Unchanged  int
	Failed     int
	Errors     []string
}

func (s *Summary) Status() string {
	if s.Failed > 0 {
		return "partial"
	}
	return "ok"
}

func (s *Summary) LogAttrs() []any {
	return []any{"supporters", s.Supporters, "pushed", s.Pushed, "unchanged", s.Unchanged, "failed", s.Failed}
}

func (s *Summary) record(mu *sync.Mutex, result string, err error) {
	mu.Lock()
	defer mu.Unlock()
	switch result {
	case resultPushed:
		s.Pushed++
	case resultUnchanged:
		s.Unchanged++
	default:
		s.Failed++
		s.Errors = append(s.Errors, err.Error())
	}
}

// Run computes tags once per supporter and reconciles every audience they
// belong to. An audience that fails is counted and the rest carry on.
func (j *Job) Run(ctx context.Context) (summary *Summary, err error) {
	started := time.Now()
	ctx, span := j.tracer.Start(ctx, "tagsync.Run")
	defer func() {
		status := "failed"
		if err == nil {
			status = summary.Status()
			span.SetAttributes(attribute.Int("pushed", summary.Pushed), attribute.Int("failed", summary.Failed))
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
	ids, err := j.store.ListSupportersWithAudiences(ctx)
	if err != nil {
		return nil, fmt.Errorf("list supporters with audiences: %w", err)
	}

	summary = &Summary{RanAt: now, Supporters: len(ids)}
	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(j.concurrency)
	for _, supporterID := range ids {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			j.syncSupporter(ctx, cfg, now, supporterID, summary, &mu)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := settings.SetTimestamp(ctx, j.store, settings.KeyTagSyncLastRun, now); err != nil {
		return nil, err
	}
	j.logger.InfoContext(ctx, "tag sync run complete", summary.LogAttrs()...)
	return summary, nil
}

func (j *Job) syncSupporter(ctx context.Context, cfg settings.RunConfig, now time.Time, supporterID id.SupporterID, summary *Summary, mu *sync.Mutex) {
	desired, audiences, err := j.desiredTags(ctx, cfg, now, supporterID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return
	}
	if err != nil {
		summary.record(mu, resultFailed, fmt.Errorf("%s: %w", supporterID, err))
		j.logger.ErrorContext(ctx, "tag computation failed", "supporter_id", supporterID.String(), "error", err)
		return
	}
	for _, audience := range audiences {
		result, err := j.syncAudience(ctx, now, audience, desired)
		j.metrics.RecordTagPush(string(audience.System), result)
		if err != nil {
			err = fmt.Errorf("%s %s/%s: %w", supporterID, audience.System, audience.AudienceID, err)
			j.logger.ErrorContext(ctx, "tag push failed",
				"supporter_id", supporterID.String(),
				"system", audience.System,
				"audience_id", audience.AudienceID,
				"error", err,
			)
		}
		summary.record(mu, result, err)
	}
}

func (j *Job) desiredTags(ctx context.Context, cfg settings.RunConfig, now time.Time, supporterID id.SupporterID) ([]string, []*models.AudienceMembership, error) {
	supporter, err := j.store.GetSupporter(ctx, supporterID)
	if err != nil {
		return nil, nil, err
	}
	membership, err := j.store.GetMembership(ctx, supporterID)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil, fmt.Errorf("load membership: %w", err)
	}
	events, err := j.store.ListEventsBySupporter(ctx, supporterID)
	if err != nil {
		return nil, nil, fmt.Errorf("load events: %w", err)
	}
	audiences, err := j.store.ListAudienceMemberships(ctx, supporterID)
	if err != nil {
		return nil, nil, fmt.Errorf("load audiences: %w", err)
	}
	tags := CanonicalTags(j.rules, Facts{Now: now, Config: cfg, Supporter: supporter, Membership: membership, Events: events})
	return tags, audiences, nil
}

// syncAudience pushes the difference between the audience's managed tags and
// desired, then records what was pushed.
func (j *Job) syncAudience(ctx context.Context, now time.Time, audience *models.AudienceMembership, desired []string) (string, error) {
	client, ok := j.clients[audience.System]
	if !ok {
		return resultFailed, fmt.Errorf("no audience client for %s", audience.System)
	}
	current, err := client.CurrentTags(ctx, audience.AudienceID, audience.MemberID)
	if err != nil {
		return resultFailed, fmt.Errorf("read tags: %w", err)
	}
	var managed []string
	for _, tag := range current {
		if isManaged(tag) {
			managed = append(managed, tag)
		}
	}
	add, remove := platformstrings.Diff(managed, desired)
	if len(add) == 0 && len(remove) == 0 {
		return resultUnchanged, nil
	}
	if err := client.UpdateTags(ctx, audience.AudienceID, audience.MemberID, add, remove); err != nil {
		return resultFailed, fmt.Errorf("update tags: %w", err)
	}

	synced := *audience
	synced.Tags = desired
	synced.LastSyncedAt = &now
	if err := j.store.SaveAudienceMembership(ctx, &synced); err != nil {
		return resultFailed, fmt.Errorf("record pushed tags: %w", err)
	}
	return resultPushed, nil
}
