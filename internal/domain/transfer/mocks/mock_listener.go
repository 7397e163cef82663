package mocks

import (
	"github.com/stretchr/testify/mock"

	"github.com/execution-hub/dsp-connector/internal/domain/transfer"
)

// MockListener is a mock implementation of transfer.Listener
type MockListener struct {
	mock.Mock
}

func (m *MockListener) Initiated(p *transfer.Process)  { m.Called(p) }
func (m *MockListener) Requested(p *transfer.Process)  { m.Called(p) }
func (m *MockListener) Started(p *transfer.Process)    { m.Called(p) }
func (m *MockListener) Suspended(p *transfer.Process)  { m.Called(p) }
func (m *MockListener) Completed(p *transfer.Process)  { m.Called(p) }
func (m *MockListener) Terminated(p *transfer.Process) { m.Called(p) }
