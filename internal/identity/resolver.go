// Package identity maps identity signals from source events onto canonical
// supporters. Ambiguous matches are flagged and reported, never guessed.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"supporterhub/internal/supporter/models"
	id "supporterhub/pkg/domain"
	"supporterhub/pkg/email"
	"supporterhub/pkg/platform/sentinel"
	"supporterhub/pkg/requestcontext"
)

// Store is the slice of supporter storage the resolver needs. Lookups made
// inside a transaction lock the rows they return.
type Store interface {
	FindSupporterByLinkedID(ctx context.Context, system id.SourceSystem, externalID string) (*models.Supporter, error)
	FindSupportersByEmail(ctx context.Context, email string) ([]*models.Supporter, error)
	FindSupportersByPhone(ctx context.Context, phone string) ([]*models.Supporter, error)
	CreateSupporter(ctx context.Context, supporter *models.Supporter) error
	UpdateSupporter(ctx context.Context, supporter *models.Supporter) error
	AddAlias(ctx context.Context, alias models.EmailAlias) error
}

// LinkedID is a customer id in one source system.
type LinkedID struct {
	System id.SourceSystem
	ID     string
}

// Signals are the identity hints carried by one source event.
type Signals struct {
	Email  string
	Phone  string
	Name   string
	Linked *LinkedID
}

func (s Signals) normalized() Signals {
	s.Email = email.Normalize(s.Email)
	s.Phone = email.NormalizePhone(s.Phone)
	if s.Linked != nil && s.Linked.ID == "" {
		s.Linked = nil
	}
	return s
}

// Resolution is the outcome of one resolve call. Supporter is nil when
// nothing matched (and nothing was created) or when the match is ambiguous.
type Resolution struct {
	Supporter  *models.Supporter
	Ambiguous  bool
	Created    bool
	Candidates []id.SupporterID
}

// Resolver finds or creates supporters from identity signals.
type Resolver struct {
	store  Store
	logger *slog.Logger
}

type Option func(*Resolver)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

func New(store Store, opts ...Option) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("supporter store is required")
	}
	r := &Resolver{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Resolve looks a supporter up without ever creating one.
func (r *Resolver) Resolve(ctx context.Context, signals Signals) (Resolution, error) {
	return r.resolve(ctx, signals.normalized(), false)
}

// ResolveOrCreate creates an Unknown, auto-classified supporter when no
// existing supporter matches. Ambiguous matches still create nothing.
func (r *Resolver) ResolveOrCreate(ctx context.Context, signals Signals) (Resolution, error) {
	return r.resolve(ctx, signals.normalized(), true)
}

// ResolveLinked matches by linked id only. Reconciliation uses it so that a
// record it cannot place is reported instead of provisioning a new person.
func (r *Resolver) ResolveLinked(ctx context.Context, linked LinkedID) (Resolution, error) {
	if linked.ID == "" {
		return Resolution{}, nil
	}
	supporter, err := r.store.FindSupporterByLinkedID(ctx, linked.System, linked.ID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return Resolution{}, nil
	}
	if err != nil {
		return Resolution{}, fmt.Errorf("find supporter by linked id: %w", err)
	}
	return Resolution{Supporter: supporter}, nil
}

func (r *Resolver) resolve(ctx context.Context, signals Signals, create bool) (Resolution, error) {
	if signals.Linked != nil {
		supporter, err := r.store.FindSupporterByLinkedID(ctx, signals.Linked.System, signals.Linked.ID)
		switch {
		case err == nil:
			if err := r.enrich(ctx, supporter, signals, true); err != nil {
				return Resolution{}, err
			}
			return Resolution{Supporter: supporter}, nil
		case !errors.Is(err, sentinel.ErrNotFound):
			return Resolution{}, fmt.Errorf("find supporter by linked id: %w", err)
		}
	}

	candidates, flag, err := r.lookupContact(ctx, signals)
	if err != nil {
		return Resolution{}, err
	}

	switch len(candidates) {
	case 0:
		// A linked id alone is not enough to provision a person.
		if !create || (signals.Email == "" && signals.Phone == "") {
			return Resolution{}, nil
		}
		supporter, err := r.create(ctx, signals)
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{Supporter: supporter, Created: true}, nil
	case 1:
		supporter := candidates[0]
		if err := r.enrich(ctx, supporter, signals, false); err != nil {
			return Resolution{}, err
		}
		return Resolution{Supporter: supporter}, nil
	default:
		return r.flagAmbiguous(ctx, candidates, flag)
	}
}

// lookupContact matches by email, or by phone when no email was given.
func (r *Resolver) lookupContact(ctx context.Context, signals Signals) ([]*models.Supporter, string, error) {
	switch {
	case signals.Email != "":
		found, err := r.store.FindSupportersByEmail(ctx, signals.Email)
		if err != nil {
			return nil, "", fmt.Errorf("find supporters by email: %w", err)
		}
		return found, models.FlagSharedEmail, nil
	case signals.Phone != "":
		found, err := r.store.FindSupportersByPhone(ctx, signals.Phone)
		if err != nil {
			return nil, "", fmt.Errorf("find supporters by phone: %w", err)
		}
		return found, models.FlagSharedPhone, nil
	default:
		return nil, "", nil
	}
}

func (r *Resolver) flagAmbiguous(ctx context.Context, candidates []*models.Supporter, flag string) (Resolution, error) {
	now := requestcontext.Now(ctx)
	ids := make([]id.SupporterID, 0, len(candidates))
	for _, candidate := range candidates {
		ids = append(ids, candidate.ID)
		if !candidate.SetFlag(flag) {
			continue
		}
		candidate.UpdatedAt = now
		if err := r.store.UpdateSupporter(ctx, candidate); err != nil {
			return Resolution{}, fmt.Errorf("flag ambiguous supporter %s: %w", candidate.ID, err)
		}
	}
	r.logger.WarnContext(ctx, "ambiguous identity match",
		"flag", flag,
		"candidates", len(ids),
		"correlation_id", requestcontext.CorrelationID(ctx),
	)
	return Resolution{Ambiguous: true, Candidates: ids}, nil
}

func (r *Resolver) create(ctx context.Context, signals Signals) (*models.Supporter, error) {
	now := requestcontext.Now(ctx)
	supporter := models.NewSupporter(id.NewSupporterID(), signals.Name, signals.Email, signals.Phone, now)
	if signals.Linked != nil {
		supporter.AttachLinkedID(signals.Linked.System, signals.Linked.ID)
	}
	if err := r.store.CreateSupporter(ctx, supporter); err != nil {
		return nil, fmt.Errorf("create supporter: %w", err)
	}
	if signals.Email != "" {
		alias := models.EmailAlias{Email: signals.Email, SupporterID: supporter.ID, CreatedAt: now}
		if err := r.store.AddAlias(ctx, alias); err != nil {
			return nil, fmt.Errorf("register email alias: %w", err)
		}
	}
	r.logger.InfoContext(ctx, "supporter created",
		"supporter_id", supporter.ID.String(),
		"correlation_id", requestcontext.CorrelationID(ctx),
	)
	return supporter, nil
}

// enrich attaches the current source's linked id and backfills empty
// contact fields on a single unambiguous match.
func (r *Resolver) enrich(ctx context.Context, supporter *models.Supporter, signals Signals, viaLinkedID bool) error {
	changed := supporter.Backfill(signals.Name, signals.Phone)

	if signals.Linked != nil {
		switch supporter.AttachLinkedID(signals.Linked.System, signals.Linked.ID) {
		case models.LinkAttached:
			changed = true
		case models.LinkConflict:
			// Two customer ids in one source for the same person is for an
			// operator to settle with a merge.
			if supporter.SetFlag(models.FlagLinkedIDConflict) {
				changed = true
			}
			r.logger.WarnContext(ctx, "linked id conflict",
				"supporter_id", supporter.ID.String(),
				"system", string(signals.Linked.System),
				"correlation_id", requestcontext.CorrelationID(ctx),
			)
		}
	}

	if viaLinkedID && signals.Email != "" {
		owned, err := r.claimEmail(ctx, supporter, signals.Email)
		if err != nil {
			return err
		}
		if owned && supporter.PrimaryEmail == "" {
			supporter.PrimaryEmail = signals.Email
			changed = true
		}
	}

	if !changed {
		return nil
	}
	supporter.UpdatedAt = requestcontext.Now(ctx)
	if err := r.store.UpdateSupporter(ctx, supporter); err != nil {
		return fmt.Errorf("update supporter: %w", err)
	}
	return nil
}

// claimEmail registers an email seen on a linked-id match as an alias, but
// only while no other supporter owns it. It reports whether supporter owns
// the address afterwards.
func (r *Resolver) claimEmail(ctx context.Context, supporter *models.Supporter, address string) (bool, error) {
	owners, err := r.store.FindSupportersByEmail(ctx, address)
	if err != nil {
		return false, fmt.Errorf("find supporters by email: %w", err)
	}
	for _, owner := range owners {
		if owner.ID != supporter.ID {
			r.logger.WarnContext(ctx, "email on linked-id match belongs to another supporter",
				"supporter_id", supporter.ID.String(),
				"owner_id", owner.ID.String(),
				"correlation_id", requestcontext.CorrelationID(ctx),
			)
			return false, nil
		}
	}
	if len(owners) > 0 {
		return true, nil
	}
	alias := models.EmailAlias{Email: address, SupporterID: supporter.ID, CreatedAt: requestcontext.Now(ctx)}
	if err := r.store.AddAlias(ctx, alias); err != nil {
		return false, fmt.Errorf("register email alias: %w", err)
	}
	return true, nil
}
