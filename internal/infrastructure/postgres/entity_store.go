package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/execution-hub/dsp-connector/internal/domain/entity"
	"github.com/execution-hub/dsp-connector/internal/domain/negotiation"
	"github.com/execution-hub/dsp-connector/internal/domain/transfer"
)

const (
	negotiationTable = "contract_negotiations"
	transferTable    = "transfer_processes"
)

// EntityStore implements entity.Store on a shared PostgreSQL table. Scheduler leases are
// taken with FOR UPDATE SKIP LOCKED so several connector instances can poll the same table.
type EntityStore[T entity.Stateful] struct {
	pool          *pgxpool.Pool
	table         string
	holder        string
	leaseDuration time.Duration
	now           func() time.Time
}

func NewNegotiationStore(pool *pgxpool.Pool, holder string, leaseDuration time.Duration) *EntityStore[*negotiation.ContractNegotiation] {
	return newEntityStore[*negotiation.ContractNegotiation](pool, negotiationTable, holder, leaseDuration)
}

func NewTransferStore(pool *pgxpool.Pool, holder string, leaseDuration time.Duration) *EntityStore[*transfer.Process] {
	return newEntityStore[*transfer.Process](pool, transferTable, holder, leaseDuration)
}

func newEntityStore[T entity.Stateful](pool *pgxpool.Pool, table, holder string, leaseDuration time.Duration) *EntityStore[T] {
	if leaseDuration <= 0 {
		leaseDuration = time.Minute
	}
	return &EntityStore[T]{pool: pool, table: table, holder: holder, leaseDuration: leaseDuration, now: time.Now}
}

func (s *EntityStore[T]) NextNotLeased(ctx context.Context, q entity.Query) ([]T, error) {
	now := s.now().UTC()
	limit := q.Limit
	if limit <= 0 {
		limit = 1
	}
	rows, err := s.pool.Query(ctx, `
		UPDATE `+s.table+` SET lease_holder=$1, lease_expires_at=$2
		WHERE id IN (
			SELECT id FROM `+s.table+`
			WHERE state=$3 AND type=$4 AND pending=FALSE
			AND (lease_expires_at IS NULL OR lease_expires_at <= $5)
			ORDER BY state_timestamp ASC
			LIMIT $6
			FOR UPDATE SKIP LOCKED
		)
		RETURNING payload
	`, s.holder, now.Add(s.leaseDuration), q.State, string(q.Type), now, limit)
	if err != nil {
		return nil, err
	}
	out, err := s.collect(rows)
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Entity().StateTimestamp < out[j].Entity().StateTimestamp
	})
	return out, nil
}

func (s *EntityStore[T]) FindByIDAndLease(ctx context.Context, id string) (T, error) {
	var zero T
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return zero, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var payload []byte
	var expires *time.Time
	err = tx.QueryRow(ctx, `SELECT payload, lease_expires_at FROM `+s.table+` WHERE id=$1 FOR UPDATE`, id).
		Scan(&payload, &expires)
	if errors.Is(err, pgx.ErrNoRows) {
		return zero, entity.ErrNotFound
	}
	if err != nil {
		return zero, err
	}
	now := s.now().UTC()
	if expires != nil && expires.After(now) {
		return zero, entity.ErrAlreadyLeased
	}
	if _, err := tx.Exec(ctx, `UPDATE `+s.table+` SET lease_holder=$1, lease_expires_at=$2 WHERE id=$3`,
		s.holder, now.Add(s.leaseDuration), id); err != nil {
		return zero, err
	}
	e, err := decode[T](payload)
	if err != nil {
		return zero, err
	}
	return e, tx.Commit(ctx)
}

func (s *EntityStore[T]) FindByID(ctx context.Context, id string) (T, error) {
	return s.findOne(ctx, `SELECT payload FROM `+s.table+` WHERE id=$1`, id)
}

func (s *EntityStore[T]) FindByCorrelationID(ctx context.Context, correlationID string) (T, error) {
	if correlationID == "" {
		var zero T
		return zero, nil
	}
	return s.findOne(ctx, `SELECT payload FROM `+s.table+` WHERE correlation_id=$1 ORDER BY created_at ASC LIMIT 1`, correlationID)
}

// Save upserts e and clears the lease. It fails with ErrAlreadyLeased when another holder
// owns an unexpired lease.
func (s *EntityStore[T]) Save(ctx context.Context, e T) error {
	ent := e.Entity()
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode entity: %w", err)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.checkHolder(ctx, tx, ent.ID); err != nil && !errors.Is(err, entity.ErrNotFound) {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO `+s.table+`
		(id, state, state_count, state_timestamp, type, correlation_id, counter_party_id, pending, payload, created_at, updated_at, lease_holder, lease_expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NULL,NULL)
		ON CONFLICT (id) DO UPDATE SET
			state=EXCLUDED.state,
			state_count=EXCLUDED.state_count,
			state_timestamp=EXCLUDED.state_timestamp,
			correlation_id=EXCLUDED.correlation_id,
			counter_party_id=EXCLUDED.counter_party_id,
			pending=EXCLUDED.pending,
			payload=EXCLUDED.payload,
			updated_at=EXCLUDED.updated_at,
			lease_holder=NULL,
			lease_expires_at=NULL
	`, ent.ID, ent.State, ent.StateCount, ent.StateTimestamp, string(ent.Type), nullable(ent.CorrelationID),
		ent.CounterPartyID, ent.Pending, payload, ent.CreatedAt, s.now().UnixMilli())
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *EntityStore[T]) BreakLease(ctx context.Context, id string) error {
	return s.withHolder(ctx, id, `UPDATE `+s.table+` SET lease_holder=NULL, lease_expires_at=NULL WHERE id=$1`)
}

func (s *EntityStore[T]) Delete(ctx context.Context, id string) error {
	return s.withHolder(ctx, id, `DELETE FROM `+s.table+` WHERE id=$1`)
}

func (s *EntityStore[T]) List(ctx context.Context, q entity.Query) ([]T, error) {
	query := `SELECT payload FROM ` + s.table
	args := []any{}
	if q.State != 0 {
		args = append(args, q.State)
		query += addWhere(query) + " state=$" + strconv.Itoa(len(args))
	}
	if q.Type != "" {
		args = append(args, string(q.Type))
		query += addWhere(query) + " type=$" + strconv.Itoa(len(args))
	}
	query += " ORDER BY updated_at DESC"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return s.collect(rows)
}

func (s *EntityStore[T]) withHolder(ctx context.Context, id, stmt string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := s.checkHolder(ctx, tx, id); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, stmt, id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// checkHolder locks the row and rejects it when another holder's lease is still running.
func (s *EntityStore[T]) checkHolder(ctx context.Context, tx pgx.Tx, id string) error {
	var holder *string
	var expires *time.Time
	err := tx.QueryRow(ctx, `SELECT lease_holder, lease_expires_at FROM `+s.table+` WHERE id=$1 FOR UPDATE`, id).
		Scan(&holder, &expires)
	if errors.Is(err, pgx.ErrNoRows) {
		return entity.ErrNotFound
	}
	if err != nil {
		return err
	}
	if holder != nil && *holder != s.holder && expires != nil && expires.After(s.now().UTC()) {
		return entity.ErrAlreadyLeased
	}
	return nil
}

func (s *EntityStore[T]) findOne(ctx context.Context, query string, arg any) (T, error) {
	var zero T
	var payload []byte
	err := s.pool.QueryRow(ctx, query, arg).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return zero, nil
	}
	if err != nil {
		return zero, err
	}
	return decode[T](payload)
}

func (s *EntityStore[T]) collect(rows pgx.Rows) ([]T, error) {
	defer rows.Close()
	out := make([]T, 0)
	for rows.Next() {
		var payload []byte
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

func decode[T entity.Stateful](payload []byte) (T, error) {
	var out T
	if err := json.Unmarshal(payload, &out); err != nil {
		return out, fmt.Errorf("decode entity: %w", err)
	}
	return out, nil
}

func addWhere(query string) string {
	if strings.Contains(query, " WHERE ") {
		return " AND"
	}
	return " WHERE"
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
