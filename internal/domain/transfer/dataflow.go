package transfer

import (
	"context"

	"github.com/execution-hub/dsp-connector/internal/domain/protocol"
)

// DataFlowController drives the data plane for provider transfers.
// Start returns the data address as JSON content on success.
//
//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_dataflow.go -package=mocks . DataFlowController
type DataFlowController interface {
	Start(ctx context.Context, p *Process) (protocol.StatusResult, error)
	Suspend(ctx context.Context, p *Process, reason string) (protocol.StatusResult, error)
	Terminate(ctx context.Context, p *Process, reason string) (protocol.StatusResult, error)
}
