package negotiation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ContractAgreement is the outcome of a finalized negotiation.
type ContractAgreement struct {
	ID            string          `json:"@id"`
	NegotiationID string          `json:"negotiationId,omitempty"`
	ProviderID    string          `json:"assigner"`
	ConsumerID    string          `json:"assignee"`
	AssetID       string          `json:"target"`
	Policy        json.RawMessage `json:"policy,omitempty"`
	SigningDate   int64           `json:"timestamp"`
}

// NewAgreement derives an agreement from the last offer of a provider negotiation.
func NewAgreement(n *ContractNegotiation, providerID string) ContractAgreement {
	a := ContractAgreement{
		ID:            uuid.NewString(),
		NegotiationID: n.ID,
		ProviderID:    providerID,
		ConsumerID:    n.CounterPartyID,
		SigningDate:   time.Now().Unix(),
	}
	if o := n.LastOffer(); o != nil {
		a.AssetID = o.AssetID
		a.Policy = o.Policy
	}
	return a
}

// AgreementStore persists agreements. FindAgreement returns nil, nil when absent.
type AgreementStore interface {
	SaveAgreement(ctx context.Context, a *ContractAgreement) error
	FindAgreement(ctx context.Context, id string) (*ContractAgreement, error)
}
