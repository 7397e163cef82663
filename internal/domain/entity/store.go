package entity

import (
	"context"
	"errors"
)

var (
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyLeased = errors.New("entity already leased")
)

// Query selects scheduler candidates. Pending entities are never returned.
type Query struct {
	State int
	Type  Type
	Limit int
}

// Store persists stateful entities and arbitrates leases between connector instances.
//
// NextNotLeased atomically leases and returns up to Limit unleased, non-pending
// entities matching the query, oldest StateTimestamp first. Save upserts the
// entity and releases the caller's lease. FindByID returns the zero value and a
// nil error when the entity does not exist. List reads without leasing; a zero
// State or Type matches any value.
type Store[T Stateful] interface {
	NextNotLeased(ctx context.Context, q Query) ([]T, error)
	FindByIDAndLease(ctx context.Context, id string) (T, error)
	FindByID(ctx context.Context, id string) (T, error)
	FindByCorrelationID(ctx context.Context, correlationID string) (T, error)
	Save(ctx context.Context, e T) error
	BreakLease(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, q Query) ([]T, error)
}
