package override

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hostelops/gatehouse/model"
)

// PgStore is a PostgreSQL-backed Store using pgx/v5. It expects the
// user_overrides and override_audit tables; overrides are one row per user
// with the allow/deny sets and constraint entries stored as JSONB.
type PgStore struct {
	pool *pgxpool.Pool
	defs Definitions
}

// NewPgStore creates a new PostgreSQL override store.
func NewPgStore(pool *pgxpool.Pool, defs Definitions) *PgStore {
	return &PgStore{pool: pool, defs: defs}
}

// Ping verifies database connectivity. Used by the readiness probe.
func (s *PgStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Get retrieves the override for a user, or an empty override if no row
// exists.
func (s *PgStore) Get(ctx context.Context, userID string) (model.Override, error) {
	if err := validateUserID(userID); err != nil {
		return model.Override{}, err
	}
	return s.get(ctx, s.pool, userID)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PgStore) get(ctx context.Context, q querier, userID string) (model.Override, error) {
	var (
		ov        = model.EmptyOverride(userID)
		allowR    []byte
		denyR     []byte
		allowC    []byte
		denyC     []byte
		consJSON  []byte
		forUpdate string
	)
	if _, isTx := q.(pgx.Tx); isTx {
		forUpdate = " FOR UPDATE"
	}

	err := q.QueryRow(ctx, `
		SELECT allow_routes, deny_routes, allow_capabilities, deny_capabilities,
		       constraints, reason, updated_at, updated_by
		FROM user_overrides
		WHERE user_id = $1`+forUpdate,
		userID,
	).Scan(&allowR, &denyR, &allowC, &denyC, &consJSON, &ov.Reason, &ov.UpdatedAt, &ov.UpdatedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.EmptyOverride(userID), nil
	}
	if err != nil {
		return model.Override{}, fmt.Errorf("query user override: %w", err)
	}

	for _, col := range []struct {
		data []byte
		dst  *model.KeySet
	}{
		{allowR, &ov.AllowRoutes},
		{denyR, &ov.DenyRoutes},
		{allowC, &ov.AllowCapabilities},
		{denyC, &ov.DenyCapabilities},
	} {
		if col.data == nil {
			continue
		}
		if err := json.Unmarshal(col.data, col.dst); err != nil {
			return model.Override{}, fmt.Errorf("unmarshal override sets: %w", err)
		}
	}
	if consJSON != nil {
		if err := json.Unmarshal(consJSON, &ov.Constraints); err != nil {
			return model.Override{}, fmt.Errorf("unmarshal override constraints: %w", err)
		}
	}
	return ov, nil
}

// Apply validates delta and merges it into the user's row inside a
// transaction. The row is locked for the duration of the merge, so concurrent
// applies for one user serialize and the last one wins at whole-delta
// granularity.
func (s *PgStore) Apply(ctx context.Context, userID string, delta model.OverrideDelta, reason, actorID string) (model.Override, error) {
	if err := validateUserID(userID); err != nil {
		return model.Override{}, err
	}
	delta, err := ValidateDelta(s.defs, delta)
	if err != nil {
		return model.Override{}, err
	}

	now := time.Now().UTC()
	var next model.Override
	err = s.inTx(ctx, func(tx pgx.Tx) error {
		base, err := s.get(ctx, tx, userID)
		if err != nil {
			return err
		}
		next = applyDelta(base, delta, reason, actorID, now)
		if err := s.upsert(ctx, tx, next); err != nil {
			return err
		}
		return s.appendAudit(ctx, tx, model.AuditEntry{
			ID:      uuid.New().String(),
			UserID:  userID,
			Action:  model.AuditActionUpdate,
			ActorID: actorID,
			Reason:  reason,
			Delta:   &delta,
			At:      now,
		})
	})
	if err != nil {
		return model.Override{}, err
	}
	return next, nil
}

// Reset clears the user's override row and appends the reset audit note.
func (s *PgStore) Reset(ctx context.Context, userID, reason, actorID string) (model.Override, error) {
	if err := validateUserID(userID); err != nil {
		return model.Override{}, err
	}

	now := time.Now().UTC()
	next := model.EmptyOverride(userID)
	next.Reason = reason
	next.UpdatedAt = now
	next.UpdatedBy = actorID

	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if err := s.upsert(ctx, tx, next); err != nil {
			return err
		}
		return s.appendAudit(ctx, tx, model.AuditEntry{
			ID:      uuid.New().String(),
			UserID:  userID,
			Action:  model.AuditActionReset,
			ActorID: actorID,
			Reason:  reason,
			At:      now,
		})
	})
	if err != nil {
		return model.Override{}, err
	}
	return next, nil
}

// History returns the user's audit entries, newest first.
func (s *PgStore) History(ctx context.Context, userID string, limit int) ([]model.AuditEntry, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, user_id, action, actor_id, reason, delta, created_at
		FROM override_audit
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC`
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query override audit: %w", err)
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var entry model.AuditEntry
		var deltaJSON []byte
		if err := rows.Scan(
			&entry.ID, &entry.UserID, &entry.Action, &entry.ActorID,
			&entry.Reason, &deltaJSON, &entry.At,
		); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if deltaJSON != nil {
			var delta model.OverrideDelta
			if err := json.Unmarshal(deltaJSON, &delta); err == nil {
				entry.Delta = &delta
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *PgStore) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin override tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit override tx: %w", err)
	}
	return nil
}

func (s *PgStore) upsert(ctx context.Context, tx pgx.Tx, ov model.Override) error {
	consJSON, err := json.Marshal(ov.Constraints)
	if err != nil {
		return fmt.Errorf("marshal override constraints: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO user_overrides (
			user_id, allow_routes, deny_routes, allow_capabilities,
			deny_capabilities, constraints, reason, updated_at, updated_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) DO UPDATE SET
			allow_routes = EXCLUDED.allow_routes,
			deny_routes = EXCLUDED.deny_routes,
			allow_capabilities = EXCLUDED.allow_capabilities,
			deny_capabilities = EXCLUDED.deny_capabilities,
			constraints = EXCLUDED.constraints,
			reason = EXCLUDED.reason,
			updated_at = EXCLUDED.updated_at,
			updated_by = EXCLUDED.updated_by`,
		ov.UserID,
		mustJSON(ov.AllowRoutes), mustJSON(ov.DenyRoutes),
		mustJSON(ov.AllowCapabilities), mustJSON(ov.DenyCapabilities),
		consJSON, ov.Reason, ov.UpdatedAt, ov.UpdatedBy,
	)
	if err != nil {
		return fmt.Errorf("upsert user override: %w", err)
	}
	return nil
}

func (s *PgStore) appendAudit(ctx context.Context, tx pgx.Tx, entry model.AuditEntry) error {
	var deltaJSON []byte
	if entry.Delta != nil {
		var err error
		deltaJSON, err = json.Marshal(entry.Delta)
		if err != nil {
			return fmt.Errorf("marshal audit delta: %w", err)
		}
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO override_audit (
			id, user_id, action, actor_id, reason, delta, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.UserID, entry.Action, entry.ActorID,
		entry.Reason, deltaJSON, entry.At,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// mustJSON marshals a KeySet. KeySet encoding cannot fail.
func mustJSON(set model.KeySet) []byte {
	data, _ := json.Marshal(set)
	return data
}
