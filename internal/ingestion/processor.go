package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	eventmodels "supporterhub/internal/events/models"
	"supporterhub/internal/identity"
	"supporterhub/internal/platform/metrics"
	"supporterhub/internal/supporter/models"
	id "supporterhub/pkg/domain"
	dErrors "supporterhub/pkg/domain-errors"
	"supporterhub/pkg/platform/sentinel"
	txcontext "supporterhub/pkg/platform/tx"
	"supporterhub/pkg/requestcontext"
)

// Outcome is the result of applying one message.
type Outcome string

const (
	OutcomeCreated           Outcome = "created"
	OutcomeDuplicate         Outcome = "duplicate"
	OutcomeSkippedAmbiguous  Outcome = "skipped_ambiguous"
	OutcomeSkippedUnresolved Outcome = "skipped_unresolved"
	OutcomeIgnored           Outcome = "ignored"
)

// Result describes what Ingest did. EventID and SupporterID are set only for
// OutcomeCreated.
type Result struct {
	Outcome     Outcome
	EventID     id.EventID
	SupporterID id.SupporterID
	ExternalID  string
}

// Store is the storage the processor writes through inside its transaction.
type Store interface {
	EventExists(ctx context.Context, key eventmodels.IdempotencyKey) (bool, error)
	InsertEvent(ctx context.Context, event *eventmodels.Event) error
	ListMeaningMappings(ctx context.Context, source id.SourceSystem) ([]eventmodels.MeaningMapping, error)
	GetMembership(ctx context.Context, supporterID id.SupporterID) (*models.Membership, error)
	SaveMembership(ctx context.Context, membership *models.Membership) error
	SetAutoType(ctx context.Context, supporterID id.SupporterID, supporterType models.Type, now time.Time) (bool, error)
	ListAudienceMemberships(ctx context.Context, supporterID id.SupporterID) ([]*models.AudienceMembership, error)
	SaveAudienceMembership(ctx context.Context, membership *models.AudienceMembership) error
}

// Resolver is the identity lookup the processor depends on.
type Resolver interface {
	ResolveOrCreate(ctx context.Context, signals identity.Signals) (identity.Resolution, error)
	ResolveLinked(ctx context.Context, linked identity.LinkedID) (identity.Resolution, error)
}

// Processor applies source messages: resolve, idempotent insert, derivations,
// all in one transaction. It holds no state between messages.
type Processor struct {
	store    Store
	tx       txcontext.Runner
	resolver Resolver
	mappers  map[id.SourceSystem]Mapper
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

type Option func(*Processor)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Processor) {
		p.metrics = m
	}
}

// WithMappers replaces the default per-source mappers.
func WithMappers(mappers ...Mapper) Option {
	return func(p *Processor) {
		p.mappers = make(map[id.SourceSystem]Mapper, len(mappers))
		for _, m := range mappers {
			p.mappers[m.Source()] = m
		}
	}
}

func New(store Store, tx txcontext.Runner, resolver Resolver, opts ...Option) (*Processor, error) {
	if store == nil {
		return nil, errors.New("event store is required")
	}
	if tx == nil {
		return nil, errors.New("transaction runner is required")
	}
	if resolver == nil {
		return nil, errors.New("identity resolver is required")
	}
	p := &Processor{
		store:    store,
		tx:       tx,
		resolver: resolver,
		logger:   slog.Default(),
		tracer:   otel.Tracer("supporterhub/ingestion"),
	}
	WithMappers(DefaultMappers()...)(p)
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Map runs the source's mapper without touching storage.
func (p *Processor) Map(source id.SourceSystem, msg Message) (*Mapped, error) {
	mapper, ok := p.mappers[source]
	if !ok {
		return nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("no mapper for source %q", source))
	}
	return mapper.Map(msg)
}

// Ingest applies a live message. Re-delivering the same message is safe.
func (p *Processor) Ingest(ctx context.Context, source id.SourceSystem, msg Message) (Result, error) {
	return p.apply(ctx, source, msg, false)
}

// Recover applies a message fetched by reconciliation. Only supporters
// already holding the record's linked id are considered; nobody is created.
func (p *Processor) Recover(ctx context.Context, source id.SourceSystem, msg Message) (Result, error) {
	return p.apply(ctx, source, msg, true)
}

// errRaceDuplicate aborts the transaction when a concurrent writer committed
// the same key between our existence check and insert.
var errRaceDuplicate = errors.New("event inserted concurrently")

func (p *Processor) apply(ctx context.Context, source id.SourceSystem, msg Message, linkedOnly bool) (res Result, err error) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "ingestion.apply", trace.WithAttributes(
		attribute.String("source", string(source)),
		attribute.String("message.type", msg.Type),
		attribute.Bool("linked_only", linkedOnly),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("outcome", string(res.Outcome)))
			p.metrics.RecordIngest(string(source), string(res.Outcome), start)
		}
		span.End()
	}()

	mapped, err := p.Map(source, msg)
	if err != nil {
		return Result{}, err
	}
	if mapped == nil {
		p.logger.DebugContext(ctx, "message type not handled", "source", source, "type", msg.Type)
		return Result{Outcome: OutcomeIgnored}, nil
	}

	key := mapped.Event.Key()
	res = Result{ExternalID: key.ExternalID}
	err = p.tx.RunInTx(ctx, func(txCtx context.Context) error {
		exists, err := p.store.EventExists(txCtx, key)
		if err != nil {
			return fmt.Errorf("check event exists: %w", err)
		}
		if exists {
			res.Outcome = OutcomeDuplicate
			return nil
		}

		resolution, err := p.resolve(txCtx, mapped.Signals, linkedOnly)
		if err != nil {
			return err
		}
		switch {
		case resolution.Ambiguous:
			res.Outcome = OutcomeSkippedAmbiguous
			return nil
		case resolution.Supporter == nil:
			res.Outcome = OutcomeSkippedUnresolved
			return nil
		}

		event, err := p.buildEvent(txCtx, mapped, resolution.Supporter.ID, msg.RawPayloadRef)
		if err != nil {
			return err
		}
		if err := p.store.InsertEvent(txCtx, event); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyUsed) {
				return errRaceDuplicate
			}
			return fmt.Errorf("insert event: %w", err)
		}
		if err := p.derive(txCtx, resolution.Supporter, event, mapped); err != nil {
			return err
		}
		res.Outcome = OutcomeCreated
		res.EventID = event.ID
		res.SupporterID = event.SupporterID
		return nil
	})
	if errors.Is(err, errRaceDuplicate) {
		res.Outcome = OutcomeDuplicate
		err = nil
	}
	if err != nil {
		return Result{}, err
	}
	p.logOutcome(ctx, source, msg, res, linkedOnly)
	return res, nil
}

func (p *Processor) resolve(ctx context.Context, signals identity.Signals, linkedOnly bool) (identity.Resolution, error) {
	if !linkedOnly {
		return p.resolver.ResolveOrCreate(ctx, signals)
	}
	if signals.Linked == nil {
		return identity.Resolution{}, nil
	}
	return p.resolver.ResolveLinked(ctx, *signals.Linked)
}

func (p *Processor) buildEvent(ctx context.Context, mapped *Mapped, supporterID id.SupporterID, rawRef *string) (*eventmodels.Event, error) {
	now := requestcontext.Now(ctx)
	event := mapped.Event.Clone()
	event.ID = id.NewEventID()
	event.SupporterID = supporterID
	event.CreatedAt = now
	if event.EventTime.IsZero() {
		event.EventTime = now
	}
	if rawRef != nil {
		ref := *rawRef
		event.RawPayloadRef = &ref
	}

	if len(mapped.LineItems) > 0 {
		mappings, err := p.store.ListMeaningMappings(ctx, event.Source)
		if err != nil {
			return nil, fmt.Errorf("load product meanings: %w", err)
		}
		for _, item := range mapped.LineItems {
			for _, mapping := range mappings {
				if mapping.Matches(item) {
					event.AddMeanings(mapping.Meaning)
				}
			}
		}
	}
	return event, nil
}

// derive applies the attribute updates an event implies.
func (p *Processor) derive(ctx context.Context, supporter *models.Supporter, event *eventmodels.Event, mapped *Mapped) error {
	now := requestcontext.Now(ctx)

	if event.HasMeaning(eventmodels.MeaningSeasonTicket) && supporter.Type != models.TypeMember && supporter.Type != models.TypeSeasonTicketHolder {
		changed, err := p.store.SetAutoType(ctx, supporter.ID, models.TypeSeasonTicketHolder, now)
		if err != nil {
			return fmt.Errorf("promote season ticket holder: %w", err)
		}
		if changed {
			p.logger.InfoContext(ctx, "supporter promoted",
				"supporter_id", supporter.ID.String(),
				"supporter_type", string(models.TypeSeasonTicketHolder),
			)
		}
	}

	switch event.Type {
	case eventmodels.TypePaymentSucceeded, eventmodels.TypePaymentFailed:
		if err := p.applyPayment(ctx, supporter.ID, event, mapped.Payment); err != nil {
			return err
		}
	}

	if mapped.Audience != nil {
		if err := p.ensureAudience(ctx, supporter.ID, event.Source, *mapped.Audience); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) applyPayment(ctx context.Context, supporterID id.SupporterID, event *eventmodels.Event, payment *Payment) error {
	membership, err := p.store.GetMembership(ctx, supporterID)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		membership = &models.Membership{SupporterID: supporterID, Status: models.MembershipUnknown}
	case err != nil:
		return fmt.Errorf("load membership: %w", err)
	}

	if payment != nil {
		if payment.Tier != "" {
			membership.Tier = payment.Tier
		}
		if payment.Cadence != "" {
			membership.Cadence = payment.Cadence
		}
		if payment.BillingMethod != "" {
			membership.BillingMethod = payment.BillingMethod
		}
	}

	if event.Type == eventmodels.TypePaymentSucceeded {
		var next *time.Time
		if payment != nil {
			next = payment.NextExpected
		}
		membership.RecordPayment(event.EventTime, next)
	} else {
		membership.RecordFailedPayment(event.EventTime)
	}
	membership.UpdatedAt = requestcontext.Now(ctx)

	if err := p.store.SaveMembership(ctx, membership); err != nil {
		return fmt.Errorf("save membership: %w", err)
	}
	return nil
}

func (p *Processor) ensureAudience(ctx context.Context, supporterID id.SupporterID, system id.SourceSystem, audience Audience) error {
	existing, err := p.store.ListAudienceMemberships(ctx, supporterID)
	if err != nil {
		return fmt.Errorf("list audience memberships: %w", err)
	}
	for _, a := range existing {
		if a.System == system && a.AudienceID == audience.AudienceID && a.MemberID == audience.MemberID {
			return nil
		}
	}
	err = p.store.SaveAudienceMembership(ctx, &models.AudienceMembership{
		SupporterID: supporterID,
		System:      system,
		AudienceID:  audience.AudienceID,
		MemberID:    audience.MemberID,
	})
	if err != nil {
		return fmt.Errorf("save audience membership: %w", err)
	}
	return nil
}

func (p *Processor) logOutcome(ctx context.Context, source id.SourceSystem, msg Message, res Result, linkedOnly bool) {
	attrs := []any{
		"source", string(source),
		"type", msg.Type,
		"external_id", res.ExternalID,
		"outcome", string(res.Outcome),
		"recovery", linkedOnly,
		"correlation_id", requestcontext.CorrelationID(ctx),
	}
	switch res.Outcome {
	case OutcomeSkippedAmbiguous, OutcomeSkippedUnresolved:
		p.logger.WarnContext(ctx, "event skipped", attrs...)
	case OutcomeCreated:
		p.logger.InfoContext(ctx, "event ingested", append(attrs, "supporter_id", res.SupporterID.String())...)
	default:
		p.logger.DebugContext(ctx, "event not applied", attrs...)
	}
}
