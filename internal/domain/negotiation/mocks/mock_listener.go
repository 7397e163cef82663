package mocks

import (
	"github.com/stretchr/testify/mock"

	"github.com/execution-hub/dsp-connector/internal/domain/negotiation"
)

// MockListener is a mock implementation of negotiation.Listener
type MockListener struct {
	mock.Mock
}

func (m *MockListener) Initiated(n *negotiation.ContractNegotiation)  { m.Called(n) }
func (m *MockListener) Requested(n *negotiation.ContractNegotiation)  { m.Called(n) }
func (m *MockListener) Offered(n *negotiation.ContractNegotiation)    { m.Called(n) }
func (m *MockListener) Accepted(n *negotiation.ContractNegotiation)   { m.Called(n) }
func (m *MockListener) Agreed(n *negotiation.ContractNegotiation)     { m.Called(n) }
func (m *MockListener) Verified(n *negotiation.ContractNegotiation)   { m.Called(n) }
func (m *MockListener) Finalized(n *negotiation.ContractNegotiation)  { m.Called(n) }
func (m *MockListener) Terminated(n *negotiation.ContractNegotiation) { m.Called(n) }
