//go:build integration
// +build integration

package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/execution-hub/dsp-connector/internal/domain/entity"
	"github.com/execution-hub/dsp-connector/internal/domain/negotiation"
	"github.com/execution-hub/dsp-connector/internal/infrastructure/postgres"
)

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping integration tests")
	}
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, postgres.RunMigrations(ctx, pool, postgres.Migrations()))
	_, err = pool.Exec(ctx, `TRUNCATE TABLE contract_negotiations, transfer_processes, contract_agreements`)
	require.NoError(t, err)
	return pool
}

func newNegotiation(id string, ts int64) *negotiation.ContractNegotiation {
	n := negotiation.New(negotiation.Fields{
		ID:             id,
		Type:           entity.TypeConsumer,
		CorrelationID:  "corr-" + id,
		CounterPartyID: "provider",
	})
	n.StateTimestamp = ts
	return n
}

func TestNextNotLeasedIsExclusiveAcrossHolders(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	a := postgres.NewNegotiationStore(pool, "node-a", time.Minute)
	b := postgres.NewNegotiationStore(pool, "node-b", time.Minute)

	require.NoError(t, a.Save(ctx, newNegotiation("n-2", 2000)))
	require.NoError(t, a.Save(ctx, newNegotiation("n-1", 1000)))

	q := entity.Query{State: int(negotiation.StateInitial), Type: entity.TypeConsumer, Limit: 10}
	leased, err := a.NextNotLeased(ctx, q)
	require.NoError(t, err)
	require.Len(t, leased, 2)
	assert.Equal(t, "n-1", leased[0].ID)

	none, err := b.NextNotLeased(ctx, q)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = b.FindByIDAndLease(ctx, "n-1")
	assert.ErrorIs(t, err, entity.ErrAlreadyLeased)
	assert.ErrorIs(t, b.Save(ctx, leased[0]), entity.ErrAlreadyLeased)

	require.NoError(t, a.Save(ctx, leased[0]))
	got, err := b.FindByIDAndLease(ctx, "n-1")
	require.NoError(t, err)
	assert.Equal(t, "corr-n-1", got.CorrelationID)
}

func TestFindAndBreakLease(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	s := postgres.NewNegotiationStore(pool, "node-a", time.Minute)

	_, err := s.FindByIDAndLease(ctx, "missing")
	assert.ErrorIs(t, err, entity.ErrNotFound)
	assert.ErrorIs(t, s.BreakLease(ctx, "missing"), entity.ErrNotFound)

	require.NoError(t, s.Save(ctx, newNegotiation("n-1", 1000)))
	_, err = s.FindByIDAndLease(ctx, "n-1")
	require.NoError(t, err)
	_, err = s.FindByIDAndLease(ctx, "n-1")
	assert.ErrorIs(t, err, entity.ErrAlreadyLeased)

	require.NoError(t, s.BreakLease(ctx, "n-1"))
	_, err = s.FindByIDAndLease(ctx, "n-1")
	require.NoError(t, err)

	byCorrelation, err := s.FindByCorrelationID(ctx, "corr-n-1")
	require.NoError(t, err)
	require.NotNil(t, byCorrelation)
	assert.Equal(t, "n-1", byCorrelation.ID)

	absent, err := s.FindByID(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, absent)
}

func TestAgreementRoundTrip(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	s := postgres.NewAgreementStore(pool)

	missing, err := s.FindAgreement(ctx, "agr-x")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, s.SaveAgreement(ctx, &negotiation.ContractAgreement{
		ID: "agr-1", NegotiationID: "n-1", ProviderID: "p", ConsumerID: "c", AssetID: "asset", SigningDate: 42,
	}))
	got, err := s.FindAgreement(ctx, "agr-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "c", got.ConsumerID)
	assert.Equal(t, "n-1", got.NegotiationID)
}
