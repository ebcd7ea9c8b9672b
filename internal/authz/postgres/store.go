// Package postgres persists permission overrides and their history in PostgreSQL.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/inventra/internal/authz"
	"github.com/odyssey-erp/inventra/internal/platform/db"
	"github.com/odyssey-erp/inventra/internal/shared"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

const overrideColumns = `id, user_id, business_id, added, removed, reason, expires_at, is_active,
	created_by, updated_by, created_at, updated_at`

const historyColumns = `id, actor_id, user_id, business_id, action_type, added, removed,
	previous_added, previous_removed, reason, expires_at, created_at`

var _ authz.OverrideStore = (*Store)(nil)

// Store is the PostgreSQL OverrideStore.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates the override tables when missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL, pgx.QueryExecModeSimpleProtocol); err != nil {
		return fmt.Errorf("authz/postgres: ensure schema: %w", err)
	}
	return nil
}

// ActiveOverride returns the active, unexpired override or nil.
func (s *Store) ActiveOverride(ctx context.Context, userID, businessID int64, now time.Time) (*authz.Override, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+overrideColumns+` FROM permission_overrides
		WHERE user_id = $1 AND business_id = $2 AND is_active
		  AND (expires_at IS NULL OR expires_at > $3)
		LIMIT 1`, userID, businessID, now)
	o, err := scanOverride(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("authz/postgres: active override: %w", err)
	}
	return &o, nil
}

// UpsertOverride replaces the override for the key and appends history in a
// single transaction. Writers for the same key queue on an advisory lock; the
// partial unique index is the backstop.
func (s *Store) UpsertOverride(ctx context.Context, p authz.UpsertParams) (authz.Override, authz.HistoryEntry, error) {
	added, err := json.Marshal(p.Added)
	if err != nil {
		return authz.Override{}, authz.HistoryEntry{}, err
	}
	removed, err := json.Marshal(p.Removed)
	if err != nil {
		return authz.Override{}, authz.HistoryEntry{}, err
	}

	var (
		saved authz.Override
		entry authz.HistoryEntry
	)
	err = db.WithTxOptions(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, shared.OverrideLockKey(p.UserID, p.BusinessID)); err != nil {
			return fmt.Errorf("lock key: %w", err)
		}

		prev, err := scanOverride(tx.QueryRow(ctx, `SELECT `+overrideColumns+` FROM permission_overrides
			WHERE user_id = $1 AND business_id = $2 AND is_active
			FOR UPDATE`, p.UserID, p.BusinessID))
		found := err == nil
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("load current override: %w", err)
		}

		if found {
			saved, err = scanOverride(tx.QueryRow(ctx, `UPDATE permission_overrides
				SET added = $2, removed = $3, reason = $4, expires_at = $5, updated_by = $6, updated_at = $7
				WHERE id = $1
				RETURNING `+overrideColumns, prev.ID, added, removed, p.Reason, p.ExpiresAt, p.ActorID, p.Now))
		} else {
			saved, err = scanOverride(tx.QueryRow(ctx, `INSERT INTO permission_overrides
				(user_id, business_id, added, removed, reason, expires_at, is_active, created_by, updated_by, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7, $7, $8, $8)
				RETURNING `+overrideColumns, p.UserID, p.BusinessID, added, removed, p.Reason, p.ExpiresAt, p.ActorID, p.Now))
		}
		if err != nil {
			return mapWriteError("write override", err)
		}

		prevAdded, prevRemoved := []byte(`{}`), []byte(`{}`)
		if found && prev.ActiveAt(p.Now) {
			if prevAdded, err = json.Marshal(prev.Added); err != nil {
				return err
			}
			if prevRemoved, err = json.Marshal(prev.Removed); err != nil {
				return err
			}
		}
		entry, err = scanHistory(tx.QueryRow(ctx, `INSERT INTO permission_override_history
			(actor_id, user_id, business_id, action_type, added, removed, previous_added, previous_removed, reason, expires_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING `+historyColumns,
			p.ActorID, p.UserID, p.BusinessID, string(p.ActionType), added, removed, prevAdded, prevRemoved, p.Reason, p.ExpiresAt, p.Now))
		if err != nil {
			return fmt.Errorf("append history: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, db.ErrCommitUncertain) {
			return authz.Override{}, authz.HistoryEntry{}, fmt.Errorf("%w: %w", authz.ErrPartialWrite, err)
		}
		return authz.Override{}, authz.HistoryEntry{}, fmt.Errorf("authz/postgres: upsert: %w", err)
	}
	return saved, entry, nil
}

// QueryHistory returns matching history entries, most recent first.
func (s *Store) QueryHistory(ctx context.Context, f authz.HistoryFilter) ([]authz.HistoryEntry, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+historyColumns+` FROM permission_override_history
		WHERE ($1::bigint IS NULL OR user_id = $1)
		  AND ($2::bigint IS NULL OR actor_id = $2)
		  AND ($3::bigint IS NULL OR business_id = $3)
		  AND ($4::text IS NULL OR action_type = $4)
		  AND ($5::text IS NULL OR reason ILIKE '%' || $5 || '%')
		ORDER BY created_at DESC, id DESC
		LIMIT $6 OFFSET $7`,
		optionalID(f.UserID), optionalID(f.ActorID), optionalID(f.BusinessID),
		optionalText(string(f.ActionType)), optionalText(escapeLike(f.Text)),
		optionalLimit(f.Limit), max(f.Offset, 0))
	if err != nil {
		return nil, fmt.Errorf("authz/postgres: query history: %w", err)
	}
	defer rows.Close()
	var out []authz.HistoryEntry
	for rows.Next() {
		e, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("authz/postgres: scan history: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// DeactivateExpired marks overrides past their expiry as inactive.
func (s *Store) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE permission_overrides
		SET is_active = FALSE, updated_at = $1
		WHERE is_active AND expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("authz/postgres: deactivate expired: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanOverride(row pgx.Row) (authz.Override, error) {
	var (
		o                authz.Override
		added, removed   []byte
		expiresAt        pgtype.Timestamptz
		created, updated pgtype.Timestamptz
	)
	if err := row.Scan(&o.ID, &o.UserID, &o.BusinessID, &added, &removed, &o.Reason, &expiresAt,
		&o.IsActive, &o.CreatedBy, &o.UpdatedBy, &created, &updated); err != nil {
		return authz.Override{}, err
	}
	var err error
	if o.Added, err = decodePermissions(added); err != nil {
		return authz.Override{}, err
	}
	if o.Removed, err = decodePermissions(removed); err != nil {
		return authz.Override{}, err
	}
	o.ExpiresAt = fromPgTime(expiresAt)
	o.CreatedAt = created.Time
	o.UpdatedAt = updated.Time
	return o, nil
}

func scanHistory(row pgx.Row) (authz.HistoryEntry, error) {
	var (
		e                      authz.HistoryEntry
		actionType             string
		added, removed         []byte
		prevAdded, prevRemoved []byte
		expiresAt, createdAt   pgtype.Timestamptz
	)
	if err := row.Scan(&e.ID, &e.ActorID, &e.UserID, &e.BusinessID, &actionType, &added, &removed,
		&prevAdded, &prevRemoved, &e.Reason, &expiresAt, &createdAt); err != nil {
		return authz.HistoryEntry{}, err
	}
	e.ActionType = authz.ActionType(actionType)
	for _, pair := range []struct {
		raw []byte
		dst *authz.PermissionMap
	}{{added, &e.Added}, {removed, &e.Removed}, {prevAdded, &e.PreviousAdded}, {prevRemoved, &e.PreviousRemoved}} {
		m, err := decodePermissions(pair.raw)
		if err != nil {
			return authz.HistoryEntry{}, err
		}
		*pair.dst = m
	}
	e.ExpiresAt = fromPgTime(expiresAt)
	e.CreatedAt = createdAt.Time
	return e, nil
}

// decodePermissions normalizes stored JSON into the canonical map. Tags are
// not checked against the vocabulary; retired ones stay inert.
func decodePermissions(raw []byte) (authz.PermissionMap, error) {
	if len(raw) == 0 {
		return authz.PermissionMap{}, nil
	}
	var m authz.PermissionMap
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode permissions: %w", err)
	}
	return m, nil
}

func mapWriteError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", op, authz.ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func fromPgTime(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func optionalID(id int64) pgtype.Int8 {
	return pgtype.Int8{Int64: id, Valid: id > 0}
}

func optionalText(value string) pgtype.Text {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: trimmed, Valid: true}
}

func optionalLimit(limit int) pgtype.Int8 {
	return pgtype.Int8{Int64: int64(limit), Valid: limit > 0}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(text string) string {
	return likeEscaper.Replace(strings.TrimSpace(text))
}
