package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/execution-hub/dsp-connector/internal/domain/negotiation"
)

// AgreementStore implements negotiation.AgreementStore.
type AgreementStore struct {
	pool *pgxpool.Pool
}

func NewAgreementStore(pool *pgxpool.Pool) *AgreementStore {
	return &AgreementStore{pool: pool}
}

func (r *AgreementStore) SaveAgreement(ctx context.Context, a *negotiation.ContractAgreement) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO contract_agreements
		(id, negotiation_id, provider_id, consumer_id, asset_id, policy, signing_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET
			negotiation_id=EXCLUDED.negotiation_id,
			policy=EXCLUDED.policy
	`, a.ID, nullable(a.NegotiationID), a.ProviderID, a.ConsumerID, nullable(a.AssetID), nullableJSON(a.Policy), a.SigningDate)
	return err
}

func (r *AgreementStore) FindAgreement(ctx context.Context, id string) (*negotiation.ContractAgreement, error) {
	var a negotiation.ContractAgreement
	var negotiationID, assetID *string
	var policy []byte
	err := r.pool.QueryRow(ctx, `
		SELECT id, negotiation_id, provider_id, consumer_id, asset_id, policy, signing_date
		FROM contract_agreements WHERE id=$1
	`, id).Scan(&a.ID, &negotiationID, &a.ProviderID, &a.ConsumerID, &assetID, &policy, &a.SigningDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if negotiationID != nil {
		a.NegotiationID = *negotiationID
	}
	if assetID != nil {
		a.AssetID = *assetID
	}
	a.Policy = policy
	return &a, nil
}

func nullableJSON(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
