package transfer_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/execution-hub/dsp-connector/internal/application/retry"
	"github.com/execution-hub/dsp-connector/internal/application/transfer"
	"github.com/execution-hub/dsp-connector/internal/domain/entity"
	"github.com/execution-hub/dsp-connector/internal/domain/failure"
	"github.com/execution-hub/dsp-connector/internal/domain/negotiation"
	"github.com/execution-hub/dsp-connector/internal/domain/protocol"
	protomocks "github.com/execution-hub/dsp-connector/internal/domain/protocol/mocks"
	domain "github.com/execution-hub/dsp-connector/internal/domain/transfer"
	tpmocks "github.com/execution-hub/dsp-connector/internal/domain/transfer/mocks"
	"github.com/execution-hub/dsp-connector/internal/infrastructure/memory"
)

type harness struct {
	store      *memory.Store[*domain.Process]
	agreements *memory.AgreementStore
	dispatcher *protomocks.MockDispatcher
	flow       *tpmocks.MockDataFlowController
	listener   *tpmocks.MockListener
	manager    *transfer.Manager
	service    *transfer.Service
}

func newHarness(t *testing.T) *harness {
	ctrl := gomock.NewController(t)
	h := &harness{
		store:      memory.NewStore[*domain.Process]("node-1", time.Minute),
		agreements: memory.NewAgreementStore(),
		dispatcher: protomocks.NewMockDispatcher(ctrl),
		flow:       tpmocks.NewMockDataFlowController(ctrl),
		listener:   &tpmocks.MockListener{},
	}
	listeners := transfer.NewListeners(zerolog.Nop())
	listeners.Register(h.listener)
	h.manager = transfer.NewManager(transfer.ManagerConfig{
		ParticipantContextID: "ctx-1",
		CallbackAddress:      "http://me/dsp",
		Retry:                retry.Policy{Limit: 5},
	}, h.store, h.dispatcher, h.flow, listeners, zerolog.Nop())
	h.service = transfer.NewService(h.store, h.agreements, listeners, zerolog.Nop())
	require.NoError(t, h.agreements.SaveAgreement(context.Background(), &negotiation.ContractAgreement{
		ID:         "agr-1",
		ProviderID: "provider",
		ConsumerID: "consumer",
		AssetID:    "asset-1",
	}))
	return h
}

func (h *harness) iterate(t *testing.T) {
	t.Helper()
	_, err := h.manager.RunOnce(context.Background())
	require.NoError(t, err)
	h.manager.Wait()
}

func (h *harness) get(t *testing.T, id string) *domain.Process {
	t.Helper()
	p, err := h.store.FindByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, p)
	return p
}

func (h *harness) seedProvider(t *testing.T, state domain.State, flowStarted bool) *domain.Process {
	t.Helper()
	p := domain.New(domain.Fields{
		ID:                  "tp-1",
		Type:                entity.TypeProvider,
		State:               state,
		CorrelationID:       "cons-tp-1",
		CounterPartyID:      "consumer",
		CounterPartyAddress: "http://consumer/dsp",
		AgreementID:         "agr-1",
		TransferType:        "HttpData-PULL",
	})
	p.FlowStarted = flowStarted
	require.NoError(t, h.store.Save(context.Background(), p))
	return p
}

func TestConsumerTransferRequest(t *testing.T) {
	h := newHarness(t)
	h.listener.On("Initiated", mock.Anything).Once()
	p, err := h.service.Initiate(context.Background(), transfer.InitiateInput{
		AgreementID:         "agr-1",
		CounterPartyAddress: "http://provider/dsp",
		TransferType:        "HttpData-PUSH",
		DataDestination:     map[string]string{"endpoint": "http://sink"},
	})
	require.NoError(t, err)
	assert.Equal(t, "provider", p.CounterPartyID)

	var sent domain.TransferRequestMessage
	h.dispatcher.EXPECT().Dispatch(gomock.Any(), "ctx-1", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, msg protocol.RemoteMessage) (protocol.StatusResult, error) {
			sent, _ = msg.(domain.TransferRequestMessage)
			return protocol.Success([]byte(`{"consumerPid":"` + p.ID + `","providerPid":"prov-tp"}`)), nil
		})
	h.listener.On("Requested", mock.Anything).Once()

	h.iterate(t)

	got := h.get(t, p.ID)
	assert.Equal(t, domain.StateRequested, got.CurrentState())
	assert.Equal(t, "prov-tp", got.CorrelationID)
	assert.Equal(t, sent.MessageID(), got.ProtocolMessages.LastSent)
	assert.Equal(t, "agr-1", sent.AgreementID)
	assert.Equal(t, "HttpData-PUSH", sent.Format)
	assert.Equal(t, "http://sink", sent.DataAddress["endpoint"])
	assert.Equal(t, p.ID, sent.ConsumerPid)
	h.listener.AssertExpectations(t)
}

func TestProviderStartsDataFlowAndNotifies(t *testing.T) {
	h := newHarness(t)
	p := h.seedProvider(t, domain.StateRequested, false)

	h.flow.EXPECT().Start(gomock.Any(), gomock.Any()).
		Return(protocol.Success([]byte(`{"endpoint":"http://data/tp-1"}`)), nil)
	var sent domain.TransferStartMessage
	h.dispatcher.EXPECT().Dispatch(gomock.Any(), "ctx-1", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, msg protocol.RemoteMessage) (protocol.StatusResult, error) {
			sent, _ = msg.(domain.TransferStartMessage)
			return protocol.Success(nil), nil
		})
	h.listener.On("Started", mock.Anything).Once()

	h.iterate(t)

	got := h.get(t, p.ID)
	assert.Equal(t, domain.StateStarted, got.CurrentState())
	assert.True(t, got.FlowStarted)
	assert.Equal(t, "http://data/tp-1", got.DataAddress["endpoint"])
	assert.Equal(t, "http://data/tp-1", sent.DataAddress["endpoint"])
	assert.Equal(t, "cons-tp-1", sent.ProcessID())
}

func TestProviderStartRetryDoesNotRestartFlow(t *testing.T) {
	h := newHarness(t)
	p := h.seedProvider(t, domain.StateStarting, false)

	h.flow.EXPECT().Start(gomock.Any(), gomock.Any()).Return(protocol.Success(nil), nil).Times(1)
	var ids []string
	h.dispatcher.EXPECT().Dispatch(gomock.Any(), "ctx-1", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, msg protocol.RemoteMessage) (protocol.StatusResult, error) {
			ids = append(ids, msg.MessageID())
			return protocol.StatusResult{}, errors.New("timeout")
		})
	h.iterate(t)

	got := h.get(t, p.ID)
	assert.Equal(t, domain.StateStarting, got.CurrentState())
	assert.True(t, got.FlowStarted)
	assert.Equal(t, 1, got.StateCount)

	h.dispatcher.EXPECT().Dispatch(gomock.Any(), "ctx-1", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, msg protocol.RemoteMessage) (protocol.StatusResult, error) {
			ids = append(ids, msg.MessageID())
			return protocol.Success(nil), nil
		})
	h.listener.On("Started", mock.Anything).Once()
	h.iterate(t)

	assert.Equal(t, domain.StateStarted, h.get(t, p.ID).CurrentState())
	require.Len(t, ids, 2)
	assert.Equal(t, ids[0], ids[1])
}

func TestProviderFlowStartFailureTerminates(t *testing.T) {
	h := newHarness(t)
	p := h.seedProvider(t, domain.StateStarting, false)

	h.flow.EXPECT().Start(gomock.Any(), gomock.Any()).Return(protocol.Fatal("no such asset"), nil)
	h.listener.On("Terminated", mock.Anything).Once()

	h.iterate(t)

	got := h.get(t, p.ID)
	assert.Equal(t, domain.StateTerminated, got.CurrentState())
	assert.Contains(t, got.ErrorDetail, "no such asset")
}

func TestProviderTerminationStopsFlow(t *testing.T) {
	h := newHarness(t)
	p := h.seedProvider(t, domain.StateStarted, true)

	_, err := h.service.Terminate(context.Background(), p.ID, "quota exceeded")
	require.NoError(t, err)

	h.flow.EXPECT().Terminate(gomock.Any(), gomock.Any(), "quota exceeded").Return(protocol.Success(nil), nil)
	h.dispatcher.EXPECT().Dispatch(gomock.Any(), "ctx-1", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, msg protocol.RemoteMessage) (protocol.StatusResult, error) {
			term, ok := msg.(domain.TransferTerminationMessage)
			assert.True(t, ok)
			assert.Equal(t, "quota exceeded", term.Reason)
			return protocol.Success(nil), nil
		})
	h.listener.On("Terminated", mock.Anything).Once()

	h.iterate(t)

	got := h.get(t, p.ID)
	assert.Equal(t, domain.StateTerminated, got.CurrentState())
	assert.False(t, got.FlowStarted)
}

func TestProviderFatalStartStopsFlow(t *testing.T) {
	h := newHarness(t)
	p := h.seedProvider(t, domain.StateStarting, false)

	h.flow.EXPECT().Start(gomock.Any(), gomock.Any()).Return(protocol.Success(nil), nil)
	h.dispatcher.EXPECT().Dispatch(gomock.Any(), "ctx-1", gomock.Any()).Return(protocol.Fatal("gone"), nil)

	h.iterate(t)

	got := h.get(t, p.ID)
	assert.Equal(t, domain.StateTerminating, got.CurrentState())
	assert.True(t, got.FlowStarted)
	assert.Contains(t, got.ErrorDetail, "gone")

	h.flow.EXPECT().Terminate(gomock.Any(), gomock.Any(), got.ErrorDetail).Return(protocol.Success(nil), nil)
	h.dispatcher.EXPECT().Dispatch(gomock.Any(), "ctx-1", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, msg protocol.RemoteMessage) (protocol.StatusResult, error) {
			_, ok := msg.(domain.TransferTerminationMessage)
			assert.True(t, ok)
			return protocol.Success(nil), nil
		})
	h.listener.On("Terminated", mock.Anything).Once()

	h.iterate(t)

	got = h.get(t, p.ID)
	assert.Equal(t, domain.StateTerminated, got.CurrentState())
	assert.False(t, got.FlowStarted)
	h.listener.AssertExpectations(t)
}

func TestProviderFailedTerminationEnds(t *testing.T) {
	h := newHarness(t)
	p := h.seedProvider(t, domain.StateTerminating, true)

	h.flow.EXPECT().Terminate(gomock.Any(), gomock.Any(), gomock.Any()).Return(protocol.Fatal("data plane down"), nil)
	h.listener.On("Terminated", mock.Anything).Once()

	h.iterate(t)

	got := h.get(t, p.ID)
	assert.Equal(t, domain.StateTerminated, got.CurrentState())
	assert.Contains(t, got.ErrorDetail, "data plane down")
}

func TestServiceCommands(t *testing.T) {
	t.Run("unknown agreement", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.service.Initiate(context.Background(), transfer.InitiateInput{
			AgreementID:         "missing",
			CounterPartyAddress: "http://provider/dsp",
			TransferType:        "HttpData-PULL",
		})
		assert.ErrorIs(t, err, failure.ErrBadRequest)
	})

	t.Run("resume suspended provider transfer", func(t *testing.T) {
		h := newHarness(t)
		p := h.seedProvider(t, domain.StateSuspended, false)
		got, err := h.service.Resume(context.Background(), p.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StateStarting, got.CurrentState())
	})

	t.Run("resume started transfer conflicts", func(t *testing.T) {
		h := newHarness(t)
		p := h.seedProvider(t, domain.StateStarted, true)
		_, err := h.service.Resume(context.Background(), p.ID)
		assert.ErrorIs(t, err, failure.ErrConflict)
		assert.False(t, h.store.Leased(p.ID))
	})

	t.Run("suspend requires started", func(t *testing.T) {
		h := newHarness(t)
		p := h.seedProvider(t, domain.StateRequested, false)
		_, err := h.service.Suspend(context.Background(), p.ID, "maintenance")
		assert.ErrorIs(t, err, failure.ErrConflict)
	})

	t.Run("delete non-terminal conflicts", func(t *testing.T) {
		h := newHarness(t)
		p := h.seedProvider(t, domain.StateStarted, true)
		assert.ErrorIs(t, h.service.Delete(context.Background(), p.ID), failure.ErrConflict)
	})

	t.Run("get missing", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.service.Get(context.Background(), "nope")
		assert.ErrorIs(t, err, failure.ErrNotFound)
	})
}
