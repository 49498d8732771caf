package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"supporterhub/internal/supporter/models"
	id "supporterhub/pkg/domain"
	"supporterhub/pkg/platform/sentinel"
)

const supporterColumns = `s.id, s.name, s.primary_email, s.phone, s.supporter_type, s.supporter_type_source, s.flags, s.linked_ids, s.created_at, s.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSupporter(row rowScanner) (*models.Supporter, error) {
	var (
		supporterID         uuid.UUID
		email, phone        sql.NullString
		supporterType       string
		typeSource          string
		flagsRaw, linkedRaw []byte
		supporter           models.Supporter
	)
	err := row.Scan(&supporterID, &supporter.Name, &email, &phone, &supporterType, &typeSource,
		&flagsRaw, &linkedRaw, &supporter.CreatedAt, &supporter.UpdatedAt)
	if err != nil {
		return nil, err
	}
	supporter.ID = id.SupporterID(supporterID)
	supporter.PrimaryEmail = email.String
	supporter.Phone = phone.String
	supporter.Type = models.Type(supporterType)
	supporter.TypeSource = models.TypeSource(typeSource)
	supporter.Flags = models.Flags{}
	supporter.LinkedIDs = models.LinkedIDs{}
	if len(flagsRaw) > 0 {
		if err := json.Unmarshal(flagsRaw, &supporter.Flags); err != nil {
			return nil, fmt.Errorf("unmarshal supporter flags: %w", err)
		}
	}
	if len(linkedRaw) > 0 {
		if err := json.Unmarshal(linkedRaw, &supporter.LinkedIDs); err != nil {
			return nil, fmt.Errorf("unmarshal linked ids: %w", err)
		}
	}
	return &supporter, nil
}

func (s *Store) querySupporters(ctx context.Context, query string, args ...any) ([]*models.Supporter, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Supporter
	for rows.Next() {
		supporter, err := scanSupporter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan supporter: %w", err)
		}
		out = append(out, supporter)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func encodeIdentity(supporter *models.Supporter) (flags, linked []byte, err error) {
	flagSet := supporter.Flags
	if flagSet == nil {
		flagSet = models.Flags{}
	}
	linkedIDs := supporter.LinkedIDs
	if linkedIDs == nil {
		linkedIDs = models.LinkedIDs{}
	}
	if flags, err = json.Marshal(flagSet); err != nil {
		return nil, nil, fmt.Errorf("marshal supporter flags: %w", err)
	}
	if linked, err = json.Marshal(linkedIDs); err != nil {
		return nil, nil, fmt.Errorf("marshal linked ids: %w", err)
	}
	return flags, linked, nil
}

func (s *Store) CreateSupporter(ctx context.Context, supporter *models.Supporter) error {
	flags, linked, err := encodeIdentity(supporter)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO supporters (id, name, primary_email, phone, supporter_type, supporter_type_source, flags, linked_ids, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(supporter.ID),
		supporter.Name,
		nullString(supporter.PrimaryEmail),
		nullString(supporter.Phone),
		string(supporter.Type),
		string(supporter.TypeSource),
		flags,
		linked,
		supporter.CreatedAt,
		supporter.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return sentinel.ErrAlreadyUsed
	}
	if err != nil {
		return fmt.Errorf("insert supporter: %w", err)
	}
	return nil
}

func (s *Store) GetSupporter(ctx context.Context, supporterID id.SupporterID) (*models.Supporter, error) {
	query := `SELECT ` + supporterColumns + ` FROM supporters s WHERE s.id = $1` + lockClause(ctx)
	supporter, err := scanSupporter(s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(supporterID)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get supporter: %w", err)
	}
	return supporter, nil
}

func (s *Store) FindSupporterByLinkedID(ctx context.Context, system id.SourceSystem, externalID string) (*models.Supporter, error) {
	query := `
		SELECT ` + supporterColumns + `
		FROM supporters s
		WHERE s.linked_ids ->> $1 = $2
		ORDER BY s.id
		LIMIT 1` + lockClause(ctx)
	supporter, err := scanSupporter(s.execer(ctx).QueryRowContext(ctx, query, string(system), externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find supporter by linked id: %w", err)
	}
	return supporter, nil
}

// FindSupportersByEmail matches primary emails and non-shared aliases.
func (s *Store) FindSupportersByEmail(ctx context.Context, email string) ([]*models.Supporter, error) {
	query := `
		SELECT ` + supporterColumns + `
		FROM supporters s
		WHERE s.primary_email = $1
		   OR EXISTS (
			SELECT 1 FROM email_aliases a
			WHERE a.supporter_id = s.id AND a.email = $1 AND NOT a.is_shared
		   )
		ORDER BY s.id` + lockClause(ctx)
	out, err := s.querySupporters(ctx, query, email)
	if err != nil {
		return nil, fmt.Errorf("find supporters by email: %w", err)
	}
	return out, nil
}

func (s *Store) FindSupportersByPhone(ctx context.Context, phone string) ([]*models.Supporter, error) {
	query := `SELECT ` + supporterColumns + ` FROM supporters s WHERE s.phone = $1 ORDER BY s.id` + lockClause(ctx)
	out, err := s.querySupporters(ctx, query, phone)
	if err != nil {
		return nil, fmt.Errorf("find supporters by phone: %w", err)
	}
	return out, nil
}

// UpdateSupporter writes identity fields. The type columns are only changed
// through SetAutoType and SetTypeOverride.
func (s *Store) UpdateSupporter(ctx context.Context, supporter *models.Supporter) error {
	flags, linked, err := encodeIdentity(supporter)
	if err != nil {
		return err
	}
	query := `
		UPDATE supporters
		SET name = $2, primary_email = $3, phone = $4, flags = $5, linked_ids = $6, updated_at = $7
		WHERE id = $1
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(supporter.ID),
		supporter.Name,
		nullString(supporter.PrimaryEmail),
		nullString(supporter.Phone),
		flags,
		linked,
		supporter.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update supporter: %w", err)
	}
	return requireRow(res)
}

// SetAutoType changes the type only while supporter_type_source is still
// auto and reports whether a row was written.
func (s *Store) SetAutoType(ctx context.Context, supporterID id.SupporterID, supporterType models.Type, now time.Time) (bool, error) {
	query := `
		UPDATE supporters
		SET supporter_type = $2, updated_at = $3
		WHERE id = $1 AND supporter_type_source = 'auto'
	`
	res, err := s.execer(ctx).ExecContext(ctx, query, uuid.UUID(supporterID), string(supporterType), now)
	if err != nil {
		return false, fmt.Errorf("set supporter type: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set supporter type: %w", err)
	}
	return n > 0, nil
}

// SetTypeOverride pins a supporter type on behalf of an operator.
func (s *Store) SetTypeOverride(ctx context.Context, supporterID id.SupporterID, supporterType models.Type, now time.Time) error {
	query := `
		UPDATE supporters
		SET supporter_type = $2, supporter_type_source = 'admin_override', updated_at = $3
		WHERE id = $1
	`
	res, err := s.execer(ctx).ExecContext(ctx, query, uuid.UUID(supporterID), string(supporterType), now)
	if err != nil {
		return fmt.Errorf("override supporter type: %w", err)
	}
	return requireRow(res)
}

func (s *Store) DeleteSupporter(ctx context.Context, supporterID id.SupporterID) error {
	res, err := s.execer(ctx).ExecContext(ctx, `DELETE FROM supporters WHERE id = $1`, uuid.UUID(supporterID))
	if err != nil {
		return fmt.Errorf("delete supporter: %w", err)
	}
	return requireRow(res)
}

// ListAutoSupporterIDs returns supporters whose type is still auto-managed.
func (s *Store) ListAutoSupporterIDs(ctx context.Context) ([]id.SupporterID, error) {
	return s.listSupporterIDs(ctx, `SELECT id FROM supporters WHERE supporter_type_source = 'auto' ORDER BY id`)
}

func (s *Store) listSupporterIDs(ctx context.Context, query string, args ...any) ([]id.SupporterID, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list supporter ids: %w", err)
	}
	defer rows.Close()

	var out []id.SupporterID
	for rows.Next() {
		var u uuid.UUID
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan supporter id: %w", err)
		}
		out = append(out, id.SupporterID(u))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list supporter ids: %w", err)
	}
	return out, nil
}

// AddAlias is a no-op when the alias already exists.
func (s *Store) AddAlias(ctx context.Context, alias models.EmailAlias) error {
	query := `
		INSERT INTO email_aliases (email, supporter_id, is_shared, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email, supporter_id) DO NOTHING
	`
	_, err := s.execer(ctx).ExecContext(ctx, query, alias.Email, uuid.UUID(alias.SupporterID), alias.IsShared, alias.CreatedAt)
	if err != nil {
		return fmt.Errorf("add email alias: %w", err)
	}
	return nil
}

func (s *Store) ListAliases(ctx context.Context, supporterID id.SupporterID) ([]models.EmailAlias, error) {
	query := `
		SELECT email, supporter_id, is_shared, created_at
		FROM email_aliases
		WHERE supporter_id = $1
		ORDER BY email
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, uuid.UUID(supporterID))
	if err != nil {
		return nil, fmt.Errorf("list email aliases: %w", err)
	}
	defer rows.Close()

	var out []models.EmailAlias
	for rows.Next() {
		var (
			alias models.EmailAlias
			owner uuid.UUID
		)
		if err := rows.Scan(&alias.Email, &owner, &alias.IsShared, &alias.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan email alias: %w", err)
		}
		alias.SupporterID = id.SupporterID(owner)
		out = append(out, alias)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list email aliases: %w", err)
	}
	return out, nil
}

// ReassignAliases moves aliases to another supporter, dropping any the
// target already holds.
func (s *Store) ReassignAliases(ctx context.Context, from, to id.SupporterID) error {
	exec := s.execer(ctx)
	_, err := exec.ExecContext(ctx, `
		DELETE FROM email_aliases a
		WHERE a.supporter_id = $1
		  AND EXISTS (SELECT 1 FROM email_aliases b WHERE b.supporter_id = $2 AND b.email = a.email)
	`, uuid.UUID(from), uuid.UUID(to))
	if err != nil {
		return fmt.Errorf("drop duplicate aliases: %w", err)
	}
	if _, err := exec.ExecContext(ctx, `UPDATE email_aliases SET supporter_id = $2 WHERE supporter_id = $1`,
		uuid.UUID(from), uuid.UUID(to)); err != nil {
		return fmt.Errorf("reassign aliases: %w", err)
	}
	return nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
