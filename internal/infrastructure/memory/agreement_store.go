package memory

import (
	"context"
	"sync"

	"github.com/execution-hub/dsp-connector/internal/domain/negotiation"
)

// AgreementStore keeps contract agreements in memory.
type AgreementStore struct {
	mu         sync.RWMutex
	agreements map[string]negotiation.ContractAgreement
}

func NewAgreementStore() *AgreementStore {
	return &AgreementStore{agreements: make(map[string]negotiation.ContractAgreement)}
}

func (s *AgreementStore) SaveAgreement(ctx context.Context, a *negotiation.ContractAgreement) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agreements[a.ID] = *a
	return nil
}

func (s *AgreementStore) FindAgreement(ctx context.Context, id string) (*negotiation.ContractAgreement, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agreements[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}
