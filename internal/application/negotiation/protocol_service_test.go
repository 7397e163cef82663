package negotiation_test

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

	"github.com/execution-hub/dsp-connector/internal/application/negotiation"
	"github.com/execution-hub/dsp-connector/internal/domain/entity"
	"github.com/execution-hub/dsp-connector/internal/domain/failure"
	"github.com/execution-hub/dsp-connector/internal/domain/identity"
	idmocks "github.com/execution-hub/dsp-connector/internal/domain/identity/mocks"
	domain "github.com/execution-hub/dsp-connector/internal/domain/negotiation"
	negmocks "github.com/execution-hub/dsp-connector/internal/domain/negotiation/mocks"
	"github.com/execution-hub/dsp-connector/internal/domain/protocol"
	"github.com/execution-hub/dsp-connector/internal/infrastructure/memory"
)

var (
	failureConflict   = failure.ErrConflict
	failureNotFound   = failure.ErrNotFound
	failureBadRequest = failure.ErrBadRequest
)

type inboundFixture struct {
	store      *memory.Store[*domain.ContractNegotiation]
	agreements *memory.AgreementStore
	verifier   *idmocks.MockTokenVerifier
	listener   *negmocks.MockListener
	service    *negotiation.ProtocolService
}

func newInboundFixture(t *testing.T) *inboundFixture {
	ctrl := gomock.NewController(t)
	f := &inboundFixture{
		store:      memory.NewStore[*domain.ContractNegotiation]("node-1", time.Minute),
		agreements: memory.NewAgreementStore(),
		verifier:   idmocks.NewMockTokenVerifier(ctrl),
		listener:   &negmocks.MockListener{},
	}
	listeners := negotiation.NewListeners(zerolog.Nop())
	listeners.Register(f.listener)
	f.service = negotiation.NewProtocolService("me", f.store, f.verifier, f.agreements, listeners, zerolog.Nop())
	return f
}

func (f *inboundFixture) caller(id string) {
	f.verifier.EXPECT().Verify(gomock.Any(), "tok", gomock.Any()).
		Return(&identity.ParticipantIdentity{ID: id}, nil)
}

func (f *inboundFixture) seed(t *testing.T, typ entity.Type, state domain.State) *domain.ContractNegotiation {
	t.Helper()
	n := domain.New(domain.Fields{
		ID:                  "local-1",
		Type:                typ,
		State:               state,
		CorrelationID:       "remote-1",
		CounterPartyID:      "partner",
		CounterPartyAddress: "http://partner/dsp",
	})
	n.ProtocolMessages.MessageSent("out-1")
	require.NoError(t, f.store.Save(context.Background(), n))
	return n
}

func (f *inboundFixture) get(t *testing.T, id string) *domain.ContractNegotiation {
	t.Helper()
	n, err := f.store.FindByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, n)
	return n
}

func envelope(id, target string) protocol.Envelope {
	return protocol.Envelope{ID: id, TargetPid: target, ConsumerPid: "remote-1", ProviderPid: target}
}

func TestInitialRequestCreatesProviderNegotiation(t *testing.T) {
	f := newInboundFixture(t)
	f.caller("consumer")
	f.listener.On("Requested", mock.Anything).Once()

	msg := domain.ContractRequestMessage{
		Envelope:        protocol.Envelope{ID: "m-1", ConsumerPid: "cons-1"},
		Offer:           domain.ContractOffer{ID: "offer-1", AssetID: "asset-1"},
		CallbackAddress: "http://consumer/dsp",
	}
	n, err := f.service.NotifyRequested(context.Background(), "tok", msg)
	require.NoError(t, err)

	got := f.get(t, n.ID)
	assert.Equal(t, entity.TypeProvider, got.Type)
	assert.Equal(t, domain.StateRequested, got.CurrentState())
	assert.Equal(t, "cons-1", got.CorrelationID)
	assert.Equal(t, "consumer", got.CounterPartyID)
	assert.Equal(t, "http://consumer/dsp", got.CounterPartyAddress)
	assert.True(t, got.ProtocolMessages.IsAlreadyReceived("m-1"))
	require.NotNil(t, got.LastOffer())
	assert.Equal(t, "offer-1", got.LastOffer().ID)

	// A retransmission returns the existing negotiation without creating another.
	f.caller("consumer")
	again, err := f.service.NotifyRequested(context.Background(), "tok", msg)
	require.NoError(t, err)
	assert.Equal(t, n.ID, again.ID)
	all, err := f.store.List(context.Background(), entity.Query{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
	f.listener.AssertNumberOfCalls(t, "Requested", 1)
}

func TestInitialRequestRequiresCallback(t *testing.T) {
	f := newInboundFixture(t)
	f.caller("consumer")
	_, err := f.service.NotifyRequested(context.Background(), "tok", domain.ContractRequestMessage{
		Envelope: protocol.Envelope{ID: "m-1", ConsumerPid: "cons-1"},
	})
	assert.ErrorIs(t, err, failureBadRequest)
}

func TestDuplicateMessageIsIgnored(t *testing.T) {
	f := newInboundFixture(t)
	n := f.seed(t, entity.TypeProvider, domain.StateOffered)
	n.ProtocolMessages.MessageReceived("m-1")
	require.NoError(t, f.store.Save(context.Background(), n))
	f.caller("partner")

	got, err := f.service.NotifyAccepted(context.Background(), "tok", domain.ContractNegotiationEventMessage{
		Envelope:  envelope("m-1", n.ID),
		EventType: domain.EventAccepted,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StateOffered, got.CurrentState())
	assert.Equal(t, domain.StateOffered, f.get(t, n.ID).CurrentState())
	assert.False(t, f.store.Leased(n.ID))
	f.listener.AssertNotCalled(t, "Accepted", mock.Anything)
}

func TestEchoedMessageIsRejected(t *testing.T) {
	f := newInboundFixture(t)
	n := f.seed(t, entity.TypeProvider, domain.StateOffered)
	f.caller("partner")

	_, err := f.service.NotifyAccepted(context.Background(), "tok", domain.ContractNegotiationEventMessage{
		Envelope:  envelope("out-1", n.ID),
		EventType: domain.EventAccepted,
	})
	assert.ErrorIs(t, err, failureBadRequest)
	assert.Equal(t, domain.StateOffered, f.get(t, n.ID).CurrentState())
	assert.False(t, f.store.Leased(n.ID))
}

func TestEventRouting(t *testing.T) {
	f := newInboundFixture(t)
	n := f.seed(t, entity.TypeProvider, domain.StateOffered)
	f.caller("partner")
	f.listener.On("Accepted", mock.Anything).Once()

	got, err := f.service.NotifyEvent(context.Background(), "tok", domain.ContractNegotiationEventMessage{
		Envelope:  envelope("m-2", n.ID),
		EventType: domain.EventAccepted,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StateAccepted, got.CurrentState())

	_, err = f.service.NotifyEvent(context.Background(), "tok", domain.ContractNegotiationEventMessage{
		Envelope:  envelope("m-3", n.ID),
		EventType: "REJECTED",
	})
	assert.ErrorIs(t, err, failureBadRequest)
}

func TestIllegalTransitionsConflict(t *testing.T) {
	tests := []struct {
		name  string
		typ   entity.Type
		state domain.State
		call  func(s *negotiation.ProtocolService, id string) error
	}{
		{
			name:  "agreement on finalized negotiation",
			typ:   entity.TypeConsumer,
			state: domain.StateFinalized,
			call: func(s *negotiation.ProtocolService, id string) error {
				_, err := s.NotifyAgreed(context.Background(), "tok", domain.ContractAgreementMessage{
					Envelope:  envelope("m-9", id),
					Agreement: domain.ContractAgreement{ID: "agr-1"},
				})
				return err
			},
		},
		{
			name:  "finalized event before verification",
			typ:   entity.TypeConsumer,
			state: domain.StateRequested,
			call: func(s *negotiation.ProtocolService, id string) error {
				_, err := s.NotifyFinalized(context.Background(), "tok", domain.ContractNegotiationEventMessage{
					Envelope:  envelope("m-9", id),
					EventType: domain.EventFinalized,
				})
				return err
			},
		},
		{
			name:  "consumer-only message on finalized provider negotiation",
			typ:   entity.TypeProvider,
			state: domain.StateFinalized,
			call: func(s *negotiation.ProtocolService, id string) error {
				_, err := s.NotifyAgreed(context.Background(), "tok", domain.ContractAgreementMessage{
					Envelope:  envelope("m-9", id),
					Agreement: domain.ContractAgreement{ID: "agr-1"},
				})
				return err
			},
		},
		{
			name:  "consumer-only message on terminated provider negotiation",
			typ:   entity.TypeProvider,
			state: domain.StateTerminated,
			call: func(s *negotiation.ProtocolService, id string) error {
				_, err := s.NotifyAgreed(context.Background(), "tok", domain.ContractAgreementMessage{
					Envelope:  envelope("m-9", id),
					Agreement: domain.ContractAgreement{ID: "agr-1"},
				})
				return err
			},
		},
		{
			name:  "provider-only message on terminated consumer negotiation",
			typ:   entity.TypeConsumer,
			state: domain.StateTerminated,
			call: func(s *negotiation.ProtocolService, id string) error {
				_, err := s.NotifyVerified(context.Background(), "tok", domain.ContractAgreementVerificationMessage{
					Envelope: envelope("m-9", id),
				})
				return err
			},
		},
		{
			name:  "termination of terminated negotiation",
			typ:   entity.TypeProvider,
			state: domain.StateTerminated,
			call: func(s *negotiation.ProtocolService, id string) error {
				_, err := s.NotifyTerminated(context.Background(), "tok", domain.ContractNegotiationTerminationMessage{
					Envelope: envelope("m-9", id),
				})
				return err
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newInboundFixture(t)
			n := f.seed(t, tt.typ, tt.state)
			f.caller("partner")

			err := tt.call(f.service, n.ID)
			assert.ErrorIs(t, err, failureConflict)
			got := f.get(t, n.ID)
			assert.Equal(t, tt.state, got.CurrentState())
			assert.False(t, got.ProtocolMessages.IsAlreadyReceived("m-9"))
			assert.False(t, f.store.Leased(n.ID))
		})
	}
}

func TestWrongRoleIsBadRequest(t *testing.T) {
	f := newInboundFixture(t)
	n := f.seed(t, entity.TypeProvider, domain.StateAgreed)
	f.caller("partner")

	_, err := f.service.NotifyAgreed(context.Background(), "tok", domain.ContractAgreementMessage{
		Envelope:  envelope("m-2", n.ID),
		Agreement: domain.ContractAgreement{ID: "agr-1"},
	})
	assert.ErrorIs(t, err, failureBadRequest)
}

func TestAgreementIsRecorded(t *testing.T) {
	f := newInboundFixture(t)
	n := f.seed(t, entity.TypeConsumer, domain.StateRequested)
	f.caller("partner")
	f.listener.On("Agreed", mock.Anything).Once()

	got, err := f.service.NotifyAgreed(context.Background(), "tok", domain.ContractAgreementMessage{
		Envelope:  envelope("m-2", n.ID),
		Agreement: domain.ContractAgreement{ID: "agr-1", ProviderID: "partner", ConsumerID: "me", AssetID: "asset-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StateAgreed, got.CurrentState())

	a, err := f.agreements.FindAgreement(context.Background(), "agr-1")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, n.ID, a.NegotiationID)
	f.listener.AssertExpectations(t)
}

func TestUnauthorizedCaller(t *testing.T) {
	f := newInboundFixture(t)
	n := f.seed(t, entity.TypeProvider, domain.StateOffered)
	f.verifier.EXPECT().Verify(gomock.Any(), "bad", gomock.Any()).Return(nil, identity.ErrInvalidToken)

	_, err := f.service.NotifyAccepted(context.Background(), "bad", domain.ContractNegotiationEventMessage{
		Envelope:  envelope("m-2", n.ID),
		EventType: domain.EventAccepted,
	})
	assert.ErrorIs(t, err, failure.ErrUnauthorized)
	assert.False(t, f.store.Leased(n.ID))
}

func TestFindByIDHidesOtherParticipants(t *testing.T) {
	f := newInboundFixture(t)
	n := f.seed(t, entity.TypeProvider, domain.StateOffered)

	f.caller("partner")
	got, err := f.service.FindByID(context.Background(), "tok", n.ID)
	require.NoError(t, err)
	assert.Equal(t, n.ID, got.ID)

	f.caller("stranger")
	_, err = f.service.FindByID(context.Background(), "tok", n.ID)
	assert.True(t, errors.Is(err, failureNotFound))
}
