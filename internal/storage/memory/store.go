// Package memory is an in-process implementation of every storage port. It
// backs unit tests and single-node development runs.
package memory

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	eventmodels "supporterhub/internal/events/models"
	"supporterhub/internal/supporter/models"
	id "supporterhub/pkg/domain"
	"supporterhub/pkg/platform/audit"
	"supporterhub/pkg/platform/sentinel"
)

// Store keeps all tables behind one lock so RunInTx can snapshot and restore
// them as a unit.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	data *tables
}

type tables struct {
	supporters  map[id.SupporterID]*models.Supporter
	aliases     map[string]map[id.SupporterID]models.EmailAlias
	memberships map[id.SupporterID]*models.Membership
	audiences   []*models.AudienceMembership
	events      map[id.EventID]*eventmodels.Event
	eventKeys   map[eventmodels.IdempotencyKey]id.EventID
	meanings    []eventmodels.MeaningMapping
	settings    map[string]string
	audit       []audit.Entry
}

func newTables() *tables {
	return &tables{
		supporters:  make(map[id.SupporterID]*models.Supporter),
		aliases:     make(map[string]map[id.SupporterID]models.EmailAlias),
		memberships: make(map[id.SupporterID]*models.Membership),
		events:      make(map[id.EventID]*eventmodels.Event),
		eventKeys:   make(map[eventmodels.IdempotencyKey]id.EventID),
		settings:    make(map[string]string),
	}
}

func (t *tables) clone() *tables {
	c := newTables()
	for k, v := range t.supporters {
		c.supporters[k] = v.Clone()
	}
	for email, owners := range t.aliases {
		c.aliases[email] = maps.Clone(owners)
	}
	for k, v := range t.memberships {
		c.memberships[k] = cloneMembership(v)
	}
	for _, a := range t.audiences {
		c.audiences = append(c.audiences, cloneAudience(a))
	}
	for k, v := range t.events {
		c.events[k] = v.Clone()
	}
	maps.Copy(c.eventKeys, t.eventKeys)
	c.meanings = slices.Clone(t.meanings)
	maps.Copy(c.settings, t.settings)
	c.audit = slices.Clone(t.audit)
	return c
}

// New creates an empty store.
func New() *Store {
	return &Store{data: newTables()}
}

type txKey struct{}

func inTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(bool)
	return ok
}

// RunInTx serializes writers and restores the pre-transaction snapshot when
// fn fails. Nested calls join the outer transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := s.data.clone()
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Store) write(ctx context.Context, fn func(t *tables) error) error {
	if !inTx(ctx) {
		s.txMu.Lock()
		defer s.txMu.Unlock()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.data)
}

func (s *Store) read(fn func(t *tables) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.data)
}

// Supporters

func (s *Store) CreateSupporter(ctx context.Context, supporter *models.Supporter) error {
	return s.write(ctx, func(t *tables) error {
		if _, ok := t.supporters[supporter.ID]; ok {
			return sentinel.ErrAlreadyUsed
		}
		t.supporters[supporter.ID] = supporter.Clone()
		return nil
	})
}

func (s *Store) GetSupporter(_ context.Context, supporterID id.SupporterID) (*models.Supporter, error) {
	var out *models.Supporter
	err := s.read(func(t *tables) error {
		supporter, ok := t.supporters[supporterID]
		if !ok {
			return sentinel.ErrNotFound
		}
		out = supporter.Clone()
		return nil
	})
	return out, err
}

func (s *Store) FindSupporterByLinkedID(_ context.Context, system id.SourceSystem, externalID string) (*models.Supporter, error) {
	var out *models.Supporter
	err := s.read(func(t *tables) error {
		for _, supporterID := range sortedSupporterIDs(t) {
			supporter := t.supporters[supporterID]
			if supporter.LinkedIDs[system] == externalID {
				out = supporter.Clone()
				return nil
			}
		}
		return sentinel.ErrNotFound
	})
	return out, err
}

// FindSupportersByEmail matches primary emails and non-shared aliases.
func (s *Store) FindSupportersByEmail(_ context.Context, email string) ([]*models.Supporter, error) {
	var out []*models.Supporter
	err := s.read(func(t *tables) error {
		for _, supporterID := range sortedSupporterIDs(t) {
			supporter := t.supporters[supporterID]
			alias, hasAlias := t.aliases[email][supporterID]
			if supporter.PrimaryEmail == email || (hasAlias && !alias.IsShared) {
				out = append(out, supporter.Clone())
			}
		}
		return nil
	})
	return out, err
}

func (s *Store) FindSupportersByPhone(_ context.Context, phone string) ([]*models.Supporter, error) {
	var out []*models.Supporter
	err := s.read(func(t *tables) error {
		for _, supporterID := range sortedSupporterIDs(t) {
			if supporter := t.supporters[supporterID]; supporter.Phone == phone {
				out = append(out, supporter.Clone())
			}
		}
		return nil
	})
	return out, err
}

// UpdateSupporter writes identity fields. The type columns are only changed
// through SetAutoType.
func (s *Store) UpdateSupporter(ctx context.Context, supporter *models.Supporter) error {
	return s.write(ctx, func(t *tables) error {
		current, ok := t.supporters[supporter.ID]
		if !ok {
			return sentinel.ErrNotFound
		}
		updated := supporter.Clone()
		updated.Type = current.Type
		updated.TypeSource = current.TypeSource
		updated.CreatedAt = current.CreatedAt
		t.supporters[supporter.ID] = updated
		return nil
	})
}

// SetAutoType changes the type only while it is still auto-managed and
// reports whether a row was written.
func (s *Store) SetAutoType(ctx context.Context, supporterID id.SupporterID, supporterType models.Type, now time.Time) (bool, error) {
	var changed bool
	err := s.write(ctx, func(t *tables) error {
		current, ok := t.supporters[supporterID]
		if !ok {
			return sentinel.ErrNotFound
		}
		if current.TypeSource != models.TypeSourceAuto {
			return nil
		}
		current.Type = supporterType
		current.UpdatedAt = now
		changed = true
		return nil
	})
	return changed, err
}

// SetTypeOverride pins a supporter type on behalf of an operator.
func (s *Store) SetTypeOverride(ctx context.Context, supporterID id.SupporterID, supporterType models.Type, now time.Time) error {
	return s.write(ctx, func(t *tables) error {
		current, ok := t.supporters[supporterID]
		if !ok {
			return sentinel.ErrNotFound
		}
		current.Type = supporterType
		current.TypeSource = models.TypeSourceAdminOverride
		current.UpdatedAt = now
		return nil
	})
}

func (s *Store) DeleteSupporter(ctx context.Context, supporterID id.SupporterID) error {
	return s.write(ctx, func(t *tables) error {
		if _, ok := t.supporters[supporterID]; !ok {
			return sentinel.ErrNotFound
		}
		delete(t.supporters, supporterID)
		return nil
	})
}

// ListAutoSupporterIDs returns supporters whose type is still auto-managed.
func (s *Store) ListAutoSupporterIDs(_ context.Context) ([]id.SupporterID, error) {
	var out []id.SupporterID
	err := s.read(func(t *tables) error {
		for _, supporterID := range sortedSupporterIDs(t) {
			if t.supporters[supporterID].TypeSource == models.TypeSourceAuto {
				out = append(out, supporterID)
			}
		}
		return nil
	})
	return out, err
}

// Aliases

// AddAlias is a no-op when the alias already exists.
func (s *Store) AddAlias(ctx context.Context, alias models.EmailAlias) error {
	return s.write(ctx, func(t *tables) error {
		owners, ok := t.aliases[alias.Email]
		if !ok {
			owners = make(map[id.SupporterID]models.EmailAlias)
			t.aliases[alias.Email] = owners
		}
		if _, exists := owners[alias.SupporterID]; !exists {
			owners[alias.SupporterID] = alias
		}
		return nil
	})
}

func (s *Store) ListAliases(_ context.Context, supporterID id.SupporterID) ([]models.EmailAlias, error) {
	var out []models.EmailAlias
	err := s.read(func(t *tables) error {
		for _, owners := range t.aliases {
			if alias, ok := owners[supporterID]; ok {
				out = append(out, alias)
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b models.EmailAlias) int { return strings.Compare(a.Email, b.Email) })
	return out, err
}

// ReassignAliases moves aliases to another supporter, dropping any the
// target already holds.
func (s *Store) ReassignAliases(ctx context.Context, from, to id.SupporterID) error {
	return s.write(ctx, func(t *tables) error {
		for _, owners := range t.aliases {
			alias, ok := owners[from]
			if !ok {
				continue
			}
			delete(owners, from)
			if _, held := owners[to]; !held {
				alias.SupporterID = to
				owners[to] = alias
			}
		}
		return nil
	})
}

// Memberships

func (s *Store) GetMembership(_ context.Context, supporterID id.SupporterID) (*models.Membership, error) {
	var out *models.Membership
	err := s.read(func(t *tables) error {
		m, ok := t.memberships[supporterID]
		if !ok {
			return sentinel.ErrNotFound
		}
		out = cloneMembership(m)
		return nil
	})
	return out, err
}

func (s *Store) SaveMembership(ctx context.Context, membership *models.Membership) error {
	return s.write(ctx, func(t *tables) error {
		t.memberships[membership.SupporterID] = cloneMembership(membership)
		return nil
	})
}

func (s *Store) DeleteMembership(ctx context.Context, supporterID id.SupporterID) error {
	return s.write(ctx, func(t *tables) error {
		delete(t.memberships, supporterID)
		return nil
	})
}

// Audience memberships

// SaveAudienceMembership upserts on (system, audience, member).
func (s *Store) SaveAudienceMembership(ctx context.Context, membership *models.AudienceMembership) error {
	return s.write(ctx, func(t *tables) error {
		for i, existing := range t.audiences {
			if sameAudienceRow(existing, membership) {
				t.audiences[i] = cloneAudience(membership)
				return nil
			}
		}
		t.audiences = append(t.audiences, cloneAudience(membership))
		return nil
	})
}

func (s *Store) ListAudienceMemberships(_ context.Context, supporterID id.SupporterID) ([]*models.AudienceMembership, error) {
	var out []*models.AudienceMembership
	err := s.read(func(t *tables) error {
		for _, a := range t.audiences {
			if a.SupporterID == supporterID {
				out = append(out, cloneAudience(a))
			}
		}
		return nil
	})
	return out, err
}

func (s *Store) ListSupportersWithAudiences(_ context.Context) ([]id.SupporterID, error) {
	seen := make(map[id.SupporterID]struct{})
	err := s.read(func(t *tables) error {
		for _, a := range t.audiences {
			seen[a.SupporterID] = struct{}{}
		}
		return nil
	})
	out := slices.Collect(maps.Keys(seen))
	slices.SortFunc(out, compareSupporterIDs)
	return out, err
}

func (s *Store) ReassignAudienceMemberships(ctx context.Context, from, to id.SupporterID) error {
	return s.write(ctx, func(t *tables) error {
		for _, a := range t.audiences {
			if a.SupporterID == from {
				a.SupporterID = to
			}
		}
		return nil
	})
}

// Events

func (s *Store) EventExists(_ context.Context, key eventmodels.IdempotencyKey) (bool, error) {
	var exists bool
	err := s.read(func(t *tables) error {
		_, exists = t.eventKeys[key]
		return nil
	})
	return exists, err
}

// InsertEvent returns sentinel.ErrAlreadyUsed when the idempotency key is taken.
func (s *Store) InsertEvent(ctx context.Context, event *eventmodels.Event) error {
	return s.write(ctx, func(t *tables) error {
		if _, taken := t.eventKeys[event.Key()]; taken {
			return sentinel.ErrAlreadyUsed
		}
		if _, ok := t.supporters[event.SupporterID]; !ok {
			return sentinel.ErrNotFound
		}
		t.events[event.ID] = event.Clone()
		t.eventKeys[event.Key()] = event.ID
		return nil
	})
}

// ListEventsBySupporter returns events oldest first.
func (s *Store) ListEventsBySupporter(_ context.Context, supporterID id.SupporterID) ([]*eventmodels.Event, error) {
	var out []*eventmodels.Event
	err := s.read(func(t *tables) error {
		for _, e := range t.events {
			if e.SupporterID == supporterID {
				out = append(out, e.Clone())
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b *eventmodels.Event) int { return a.EventTime.Compare(b.EventTime) })
	return out, err
}

func (s *Store) ReassignEvents(ctx context.Context, from, to id.SupporterID) (int, error) {
	var moved int
	err := s.write(ctx, func(t *tables) error {
		for _, e := range t.events {
			if e.SupporterID == from {
				e.SupporterID = to
				moved++
			}
		}
		return nil
	})
	return moved, err
}

// Product meanings

func (s *Store) ListMeaningMappings(_ context.Context, source id.SourceSystem) ([]eventmodels.MeaningMapping, error) {
	var out []eventmodels.MeaningMapping
	err := s.read(func(t *tables) error {
		for _, m := range t.meanings {
			if m.Source == source {
				out = append(out, m)
			}
		}
		return nil
	})
	return out, err
}

func (s *Store) SaveMeaningMapping(ctx context.Context, mapping eventmodels.MeaningMapping) error {
	return s.write(ctx, func(t *tables) error {
		if !slices.Contains(t.meanings, mapping) {
			t.meanings = append(t.meanings, mapping)
		}
		return nil
	})
}

// Settings

func (s *Store) GetSetting(_ context.Context, key string) (string, error) {
	var value string
	err := s.read(func(t *tables) error {
		v, ok := t.settings[key]
		if !ok {
			return sentinel.ErrNotFound
		}
		value = v
		return nil
	})
	return value, err
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	return s.write(ctx, func(t *tables) error {
		t.settings[key] = value
		return nil
	})
}

func (s *Store) AllSettings(_ context.Context) (map[string]string, error) {
	var out map[string]string
	err := s.read(func(t *tables) error {
		out = maps.Clone(t.settings)
		return nil
	})
	return out, err
}

// Audit

func (s *Store) Append(ctx context.Context, entry audit.Entry) error {
	return s.write(ctx, func(t *tables) error {
		t.audit = append(t.audit, entry)
		return nil
	})
}

// AuditEntries returns every appended entry in order.
func (s *Store) AuditEntries() []audit.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.data.audit)
}

func sortedSupporterIDs(t *tables) []id.SupporterID {
	ids := slices.Collect(maps.Keys(t.supporters))
	slices.SortFunc(ids, compareSupporterIDs)
	return ids
}

func compareSupporterIDs(a, b id.SupporterID) int {
	return strings.Compare(a.String(), b.String())
}

func sameAudienceRow(a, b *models.AudienceMembership) bool {
	return a.System == b.System && a.AudienceID == b.AudienceID && a.MemberID == b.MemberID
}

func cloneMembership(m *models.Membership) *models.Membership {
	if m == nil {
		return nil
	}
	c := *m
	if m.LastPaymentDate != nil {
		t := *m.LastPaymentDate
		c.LastPaymentDate = &t
	}
	if m.NextExpectedPaymentDate != nil {
		t := *m.NextExpectedPaymentDate
		c.NextExpectedPaymentDate = &t
	}
	return &c
}

func cloneAudience(a *models.AudienceMembership) *models.AudienceMembership {
	c := *a
	c.Tags = slices.Clone(a.Tags)
	if a.LastSyncedAt != nil {
		t := *a.LastSyncedAt
		c.LastSyncedAt = &t
	}
	return &c
}
