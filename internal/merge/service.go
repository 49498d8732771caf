// Package merge consolidates two supporter records that turned out to be
// the same person. The source record is folded into the target and deleted.
package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"supporterhub/internal/platform/metrics"
	"supporterhub/internal/supporter/models"
	id "supporterhub/pkg/domain"
	dErrors "supporterhub/pkg/domain-errors"
	"supporterhub/pkg/platform/audit"
	"supporterhub/pkg/platform/sentinel"
	txcontext "supporterhub/pkg/platform/tx"
	"supporterhub/pkg/requestcontext"
)

// Store is everything a merge touches. Reads inside the transaction lock the
// rows they return.
type Store interface {
	GetSupporter(ctx context.Context, supporterID id.SupporterID) (*models.Supporter, error)
	UpdateSupporter(ctx context.Context, supporter *models.Supporter) error
	DeleteSupporter(ctx context.Context, supporterID id.SupporterID) error
	ListAliases(ctx context.Context, supporterID id.SupporterID) ([]models.EmailAlias, error)
	AddAlias(ctx context.Context, alias models.EmailAlias) error
	ReassignAliases(ctx context.Context, from, to id.SupporterID) error
	ReassignEvents(ctx context.Context, from, to id.SupporterID) (int, error)
	GetMembership(ctx context.Context, supporterID id.SupporterID) (*models.Membership, error)
	SaveMembership(ctx context.Context, membership *models.Membership) error
	DeleteMembership(ctx context.Context, supporterID id.SupporterID) error
	ReassignAudienceMemberships(ctx context.Context, from, to id.SupporterID) error
}

// Service runs operator-triggered merges.
type Service struct {
	store   Store
	tx      txcontext.Runner
	audit   audit.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(store Store, tx txcontext.Runner, auditStore audit.Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("supporter store is required")
	}
	if tx == nil {
		return nil, errors.New("transaction runner is required")
	}
	if auditStore == nil {
		return nil, errors.New("audit store is required")
	}
	s := &Service{
		store:  store,
		tx:     tx,
		audit:  auditStore,
		logger: slog.Default(),
		tracer: otel.Tracer("supporterhub/merge"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// state is the audit snapshot of one side of a merge.
type state struct {
	Supporter  *models.Supporter   `json:"supporter"`
	Aliases    []models.EmailAlias `json:"aliases,omitempty"`
	Membership *models.Membership  `json:"membership,omitempty"`
}

type mergeSnapshot struct {
	Source *state `json:"source,omitempty"`
	Target *state `json:"target"`
}

type mergeOutcome struct {
	EventsMoved      int               `json:"events_moved"`
	DroppedLinkedIDs map[string]string `json:"dropped_linked_ids,omitempty"`
	Target           *state            `json:"target"`
}

// Merge folds source into target in one transaction and returns the updated
// target. On any failure nothing is changed.
func (s *Service) Merge(ctx context.Context, sourceID, targetID id.SupporterID, actor, reason string) (result *models.Supporter, err error) {
	ctx, span := s.tracer.Start(ctx, "merge.Merge", trace.WithAttributes(
		attribute.String("source_id", sourceID.String()),
		attribute.String("target_id", targetID.String()),
	))
	defer func() {
		outcome := "merged"
		if err != nil {
			outcome = string(dErrors.CodeOf(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		s.metrics.RecordMerge(outcome)
		span.End()
	}()

	reason = strings.TrimSpace(reason)
	actor = strings.TrimSpace(actor)
	switch {
	case reason == "":
		return nil, ErrReasonRequired
	case actor == "":
		return nil, ErrActorRequired
	case sourceID == targetID:
		return nil, ErrSelfMerge
	}

	var (
		moved     int
		committed audit.Entry
	)
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		source, target, err := s.lockPair(txCtx, sourceID, targetID)
		if err != nil {
			return err
		}
		sourceState, targetState, err := s.loadStates(txCtx, source, target)
		if err != nil {
			return err
		}
		if err := checkPreconditions(sourceState, targetState); err != nil {
			return err
		}
		before := mergeSnapshot{Source: sourceState.clone(), Target: targetState.clone()}

		if moved, err = s.store.ReassignEvents(txCtx, sourceID, targetID); err != nil {
			return fmt.Errorf("reassign events: %w", err)
		}
		if err := s.store.ReassignAliases(txCtx, sourceID, targetID); err != nil {
			return fmt.Errorf("reassign aliases: %w", err)
		}
		if err := s.mergeMembership(txCtx, sourceState.Membership, targetState.Membership, targetID); err != nil {
			return err
		}
		if err := s.store.ReassignAudienceMemberships(txCtx, sourceID, targetID); err != nil {
			return fmt.Errorf("reassign audience memberships: %w", err)
		}

		now := requestcontext.Now(txCtx)
		dropped := foldInto(target, source)
		target.UpdatedAt = now
		if source.PrimaryEmail != "" {
			alias := models.EmailAlias{Email: source.PrimaryEmail, SupporterID: targetID, CreatedAt: now}
			if err := s.store.AddAlias(txCtx, alias); err != nil {
				return fmt.Errorf("register source email alias: %w", err)
			}
		}
		if err := s.store.DeleteSupporter(txCtx, sourceID); err != nil {
			return fmt.Errorf("delete source supporter: %w", err)
		}
		if err := s.store.UpdateSupporter(txCtx, target); err != nil {
			return fmt.Errorf("update target supporter: %w", err)
		}

		refreshed, err := s.store.GetSupporter(txCtx, targetID)
		if err != nil {
			return fmt.Errorf("reload target supporter: %w", err)
		}
		afterState, err := s.loadState(txCtx, refreshed)
		if err != nil {
			return err
		}
		entry, err := audit.NewEntry(actor, audit.ActionSupporterMerged, targetID.String(), now,
			before, mergeOutcome{EventsMoved: moved, DroppedLinkedIDs: dropped, Target: afterState}, reason)
		if err != nil {
			return err
		}
		if err := s.audit.Append(txCtx, entry); err != nil {
			return fmt.Errorf("append audit entry: %w", err)
		}
		committed = entry
		if len(dropped) > 0 {
			s.logger.WarnContext(txCtx, "merge dropped conflicting linked ids",
				"target_id", targetID.String(),
				"dropped", dropped,
			)
		}
		result = refreshed
		return nil
	})
	if err != nil {
		return nil, err
	}

	audit.Log(ctx, s.logger, committed,
		"source_id", sourceID.String(),
		"events_moved", moved,
	)
	return result, nil
}

// lockPair reads both supporters in id order so concurrent merges over the
// same pair cannot deadlock.
func (s *Service) lockPair(ctx context.Context, sourceID, targetID id.SupporterID) (*models.Supporter, *models.Supporter, error) {
	order := []struct {
		id   id.SupporterID
		role string
	}{{sourceID, "source"}, {targetID, "target"}}
	if targetID.String() < sourceID.String() {
		order[0], order[1] = order[1], order[0]
	}
	locked := make(map[string]*models.Supporter, 2)
	for _, o := range order {
		supporter, err := s.store.GetSupporter(ctx, o.id)
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil, notFound(o.role)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("lock %s supporter: %w", o.role, err)
		}
		locked[o.role] = supporter
	}
	return locked["source"], locked["target"], nil
}

func (s *Service) loadStates(ctx context.Context, source, target *models.Supporter) (*state, *state, error) {
	sourceState, err := s.loadState(ctx, source)
	if err != nil {
		return nil, nil, err
	}
	targetState, err := s.loadState(ctx, target)
	if err != nil {
		return nil, nil, err
	}
	return sourceState, targetState, nil
}

func (s *Service) loadState(ctx context.Context, supporter *models.Supporter) (*state, error) {
	aliases, err := s.store.ListAliases(ctx, supporter.ID)
	if err != nil {
		return nil, fmt.Errorf("list aliases: %w", err)
	}
	membership, err := s.store.GetMembership(ctx, supporter.ID)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, fmt.Errorf("load membership: %w", err)
	}
	return &state{Supporter: supporter, Aliases: aliases, Membership: membership}, nil
}

func (st *state) clone() *state {
	c := *st
	c.Supporter = st.Supporter.Clone()
	if st.Membership != nil {
		m := *st.Membership
		c.Membership = &m
	}
	return &c
}

func checkPreconditions(source, target *state) error {
	if source.Supporter.Flags.Has(models.FlagSharedEmail) || target.Supporter.Flags.Has(models.FlagSharedEmail) {
		return ErrSharedEmailFlag
	}
	if source.Supporter.PrimaryEmail != "" && source.Supporter.PrimaryEmail == target.Supporter.PrimaryEmail {
		return ErrIdenticalPrimaryEmail
	}
	held := make(map[string]struct{}, len(target.Aliases))
	for _, a := range target.Aliases {
		held[a.Email] = struct{}{}
	}
	for _, a := range source.Aliases {
		if _, ok := held[a.Email]; ok {
			return ErrSharedAlias
		}
	}
	return nil
}

// mergeMembership keeps whichever membership has the more recent payment.
func (s *Service) mergeMembership(ctx context.Context, source, target *models.Membership, targetID id.SupporterID) error {
	if source == nil {
		return nil
	}
	if err := s.store.DeleteMembership(ctx, source.SupporterID); err != nil {
		return fmt.Errorf("delete source membership: %w", err)
	}
	if models.PreferMembership(source, target) != source {
		return nil
	}
	kept := *source
	kept.SupporterID = targetID
	kept.UpdatedAt = requestcontext.Now(ctx)
	if err := s.store.SaveMembership(ctx, &kept); err != nil {
		return fmt.Errorf("save merged membership: %w", err)
	}
	return nil
}

// identityFlags describe the source's own contact data and do not carry over.
var identityFlags = map[string]bool{
	models.FlagSharedEmail:      true,
	models.FlagSharedPhone:      true,
	models.FlagLinkedIDConflict: true,
}

// foldInto copies source attributes into target. Target values win on every
// collision; the losing linked ids are returned for the audit record.
func foldInto(target, source *models.Supporter) map[string]string {
	dropped := map[string]string{}
	for system, externalID := range source.LinkedIDs {
		if target.AttachLinkedID(system, externalID) == models.LinkConflict {
			dropped[string(system)] = externalID
		}
	}
	for flag, set := range source.Flags {
		if set && !identityFlags[flag] {
			target.SetFlag(flag)
		}
	}
	target.Backfill(source.Name, source.Phone)
	if target.PrimaryEmail == "" {
		target.PrimaryEmail = source.PrimaryEmail
	}
	if len(dropped) == 0 {
		return nil
	}
	return dropped
}
