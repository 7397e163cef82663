package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/execution-hub/dsp-connector/internal/domain/entity"
	"github.com/execution-hub/dsp-connector/internal/domain/negotiation"
	"github.com/execution-hub/dsp-connector/internal/domain/transfer"
)

// EntityStore implements entity.Store on one SQLite table.
type EntityStore[T entity.Stateful] struct {
	db            *sql.DB
	table         string
	holder        string
	leaseDuration time.Duration
	now           func() time.Time
}

func (d *DB) Negotiations(holder string, leaseDuration time.Duration) *EntityStore[*negotiation.ContractNegotiation] {
	return newEntityStore[*negotiation.ContractNegotiation](d.db, "contract_negotiations", holder, leaseDuration)
}

func (d *DB) Transfers(holder string, leaseDuration time.Duration) *EntityStore[*transfer.Process] {
	return newEntityStore[*transfer.Process](d.db, "transfer_processes", holder, leaseDuration)
}

func newEntityStore[T entity.Stateful](db *sql.DB, table, holder string, leaseDuration time.Duration) *EntityStore[T] {
	if leaseDuration <= 0 {
		leaseDuration = time.Minute
	}
	return &EntityStore[T]{db: db, table: table, holder: holder, leaseDuration: leaseDuration, now: time.Now}
}

// WithClock returns a view of the store using now for lease expiry.
func (s *EntityStore[T]) WithClock(now func() time.Time) *EntityStore[T] {
	c := *s
	c.now = now
	return &c
}

// WithHolder returns a view of the store leasing under another holder id.
func (s *EntityStore[T]) WithHolder(holder string) *EntityStore[T] {
	c := *s
	c.holder = holder
	return &c
}

func (s *EntityStore[T]) NextNotLeased(ctx context.Context, q entity.Query) ([]T, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 1
	}
	now := s.now().UnixMilli()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, payload FROM `+s.table+`
		WHERE state=? AND type=? AND pending=0
		AND (lease_expires_at IS NULL OR lease_expires_at <= ?)
		ORDER BY state_timestamp ASC, id ASC
		LIMIT ?
	`, q.State, string(q.Type), now, limit)
	if err != nil {
		return nil, err
	}
	var ids []string
	var out []T
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			rows.Close()
			return nil, err
		}
		e, err := decode[T](payload)
		if err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
		out = append(out, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `UPDATE `+s.table+` SET lease_holder=?, lease_expires_at=? WHERE id=?`,
			s.holder, now+s.leaseDuration.Milliseconds(), id); err != nil {
			return nil, err
		}
	}
	return out, tx.Commit()
}

func (s *EntityStore[T]) FindByIDAndLease(ctx context.Context, id string) (T, error) {
	var zero T
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return zero, err
	}
	defer func() { _ = tx.Rollback() }()

	var payload string
	var expires sql.NullInt64
	err = tx.QueryRowContext(ctx, `SELECT payload, lease_expires_at FROM `+s.table+` WHERE id=?`, id).Scan(&payload, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, entity.ErrNotFound
	}
	if err != nil {
		return zero, err
	}
	now := s.now().UnixMilli()
	if expires.Valid && expires.Int64 > now {
		return zero, entity.ErrAlreadyLeased
	}
	if _, err := tx.ExecContext(ctx, `UPDATE `+s.table+` SET lease_holder=?, lease_expires_at=? WHERE id=?`,
		s.holder, now+s.leaseDuration.Milliseconds(), id); err != nil {
		return zero, err
	}
	e, err := decode[T](payload)
	if err != nil {
		return zero, err
	}
	return e, tx.Commit()
}

func (s *EntityStore[T]) FindByID(ctx context.Context, id string) (T, error) {
	return s.findOne(ctx, `SELECT payload FROM `+s.table+` WHERE id=?`, id)
}

func (s *EntityStore[T]) FindByCorrelationID(ctx context.Context, correlationID string) (T, error) {
	if correlationID == "" {
		var zero T
		return zero, nil
	}
	return s.findOne(ctx, `SELECT payload FROM `+s.table+` WHERE correlation_id=? ORDER BY created_at ASC LIMIT 1`, correlationID)
}

func (s *EntityStore[T]) Save(ctx context.Context, e T) error {
	ent := e.Entity()
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode entity: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.checkHolder(ctx, tx, ent.ID); err != nil && !errors.Is(err, entity.ErrNotFound) {
		return err
	}
	var correlation any
	if ent.CorrelationID != "" {
		correlation = ent.CorrelationID
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO `+s.table+`
		(id, state, state_count, state_timestamp, type, correlation_id, counter_party_id, pending, payload, created_at, updated_at, lease_holder, lease_expires_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,NULL,NULL)
		ON CONFLICT (id) DO UPDATE SET
			state=excluded.state,
			state_count=excluded.state_count,
			state_timestamp=excluded.state_timestamp,
			correlation_id=excluded.correlation_id,
			counter_party_id=excluded.counter_party_id,
			pending=excluded.pending,
			payload=excluded.payload,
			updated_at=excluded.updated_at,
			lease_holder=NULL,
			lease_expires_at=NULL
	`, ent.ID, ent.State, ent.StateCount, ent.StateTimestamp, string(ent.Type), correlation,
		ent.CounterPartyID, ent.Pending, string(payload), ent.CreatedAt, s.now().UnixMilli())
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *EntityStore[T]) BreakLease(ctx context.Context, id string) error {
	return s.withHolder(ctx, id, `UPDATE `+s.table+` SET lease_holder=NULL, lease_expires_at=NULL WHERE id=?`)
}

func (s *EntityStore[T]) Delete(ctx context.Context, id string) error {
	return s.withHolder(ctx, id, `DELETE FROM `+s.table+` WHERE id=?`)
}

func (s *EntityStore[T]) List(ctx context.Context, q entity.Query) ([]T, error) {
	var where []string
	var args []any
	if q.State != 0 {
		where = append(where, "state=?")
		args = append(args, q.State)
	}
	if q.Type != "" {
		where = append(where, "type=?")
		args = append(args, string(q.Type))
	}
	query := `SELECT payload FROM ` + s.table
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]T, 0)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		e, err := decode[T](payload)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *EntityStore[T]) withHolder(ctx context.Context, id, stmt string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := s.checkHolder(ctx, tx, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *EntityStore[T]) checkHolder(ctx context.Context, tx *sql.Tx, id string) error {
	var holder sql.NullString
	var expires sql.NullInt64
	err := tx.QueryRowContext(ctx, `SELECT lease_holder, lease_expires_at FROM `+s.table+` WHERE id=?`, id).Scan(&holder, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.ErrNotFound
	}
	if err != nil {
		return err
	}
	if holder.Valid && holder.String != s.holder && expires.Valid && expires.Int64 > s.now().UnixMilli() {
		return entity.ErrAlreadyLeased
	}
	return nil
}

func (s *EntityStore[T]) findOne(ctx context.Context, query string, arg any) (T, error) {
	var zero T
	var payload string
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, nil
	}
	if err != nil {
		return zero, err
	}
	return decode[T](payload)
}

func decode[T entity.Stateful](payload string) (T, error) {
	var out T
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return out, fmt.Errorf("decode entity: %w", err)
	}
	return out, nil
}
