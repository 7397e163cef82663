package protocol_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/execution-hub/dsp-connector/internal/domain/protocol"
	"github.com/execution-hub/dsp-connector/internal/domain/protocol/mocks"
)

type testMessage struct {
	protocol.Envelope
}

func (testMessage) MessageType() string { return "test:Message" }

func TestRegistryRoutesByProtocol(t *testing.T) {
	ctrl := gomock.NewController(t)
	d := mocks.NewMockDispatcher(ctrl)
	reg := protocol.NewRegistry()
	reg.Register(protocol.DSP, d)

	msg := testMessage{Envelope: protocol.Envelope{ID: "m1"}}
	d.EXPECT().Dispatch(gomock.Any(), "ctx-1", msg).Return(protocol.Success([]byte("{}")), nil)

	res, err := reg.Dispatch(context.Background(), "ctx-1", msg)
	require.NoError(t, err)
	assert.True(t, res.Succeeded())
}

func TestRegistryUnknownProtocolIsFatal(t *testing.T) {
	reg := protocol.NewRegistry()
	msg := testMessage{Envelope: protocol.Envelope{ID: "m1", Proto: "ids-multipart"}}

	res, err := reg.Dispatch(context.Background(), "ctx-1", msg)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusFatal, res.Status)
	assert.Contains(t, res.Detail, "ids-multipart")
}
