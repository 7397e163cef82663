package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/execution-hub/dsp-connector/internal/domain/negotiation"
)

// AgreementStore implements negotiation.AgreementStore.
type AgreementStore struct {
	db *sql.DB
}

func (d *DB) Agreements() *AgreementStore {
	return &AgreementStore{db: d.db}
}

func (s *AgreementStore) SaveAgreement(ctx context.Context, a *negotiation.ContractAgreement) error {
	var policy any
	if len(a.Policy) > 0 {
		policy = string(a.Policy)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contract_agreements (id, negotiation_id, provider_id, consumer_id, asset_id, policy, signing_date)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT (id) DO UPDATE SET negotiation_id=excluded.negotiation_id, policy=excluded.policy
	`, a.ID, a.NegotiationID, a.ProviderID, a.ConsumerID, a.AssetID, policy, a.SigningDate)
	return err
}

func (s *AgreementStore) FindAgreement(ctx context.Context, id string) (*negotiation.ContractAgreement, error) {
	var a negotiation.ContractAgreement
	var negotiationID, assetID, policy sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, negotiation_id, provider_id, consumer_id, asset_id, policy, signing_date
		FROM contract_agreements WHERE id=?
	`, id).Scan(&a.ID, &negotiationID, &a.ProviderID, &a.ConsumerID, &assetID, &policy, &a.SigningDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.NegotiationID = negotiationID.String
	a.AssetID = assetID.String
	if policy.Valid {
		a.Policy = []byte(policy.String)
	}
	return &a, nil
}
