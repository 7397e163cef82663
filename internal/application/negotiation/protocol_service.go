package negotiation

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/execution-hub/dsp-connector/internal/application/inbound"
	"github.com/execution-hub/dsp-connector/internal/domain/entity"
	"github.com/execution-hub/dsp-connector/internal/domain/failure"
	"github.com/execution-hub/dsp-connector/internal/domain/identity"
	domain "github.com/execution-hub/dsp-connector/internal/domain/negotiation"
)

var (
	providerOnly = []entity.Type{entity.TypeProvider}
	consumerOnly = []entity.Type{entity.TypeConsumer}
	bothRoles    = []entity.Type{entity.TypeConsumer, entity.TypeProvider}
)

func states(s ...domain.State) []int {
	out := make([]int, len(s))
	for i, v := range s {
		out[i] = int(v)
	}
	return out
}

// ProtocolService applies inbound negotiation messages from counterparties.
type ProtocolService struct {
	handler    *inbound.Handler[*domain.ContractNegotiation]
	agreements domain.AgreementStore
	logger     zerolog.Logger
}

func NewProtocolService(
	participantID string,
	store Store,
	verifier identity.TokenVerifier,
	agreements domain.AgreementStore,
	listeners *Listeners,
	logger zerolog.Logger,
) *ProtocolService {
	logger = logger.With().Str("service", "negotiation-protocol").Logger()
	handler := inbound.NewHandler(store, verifier, inbound.Config[*domain.ContractNegotiation]{
		Audience:  participantID,
		Terminal:  func(s int) bool { return domain.State(s).IsTerminal() },
		StateName: stateName,
		Notify: func(n *domain.ContractNegotiation) {
			listeners.Invoke(func(l domain.Listener) { domain.Notify(l, n) })
		},
	}, logger)
	return &ProtocolService{handler: handler, agreements: agreements, logger: logger}
}

// NotifyRequested handles an initial contract request, or a counter-request on an offered negotiation.
func (s *ProtocolService) NotifyRequested(ctx context.Context, token string, msg domain.ContractRequestMessage) (*domain.ContractNegotiation, error) {
	if msg.ProcessID() == "" {
		return s.handler.Handle(ctx, inbound.Request[*domain.ContractNegotiation]{
			Token:       token,
			Message:     msg,
			Rule:        inbound.Rule{Recipients: providerOnly},
			Correlation: msg.ConsumerPid,
			Create: func(_ context.Context, caller *identity.ParticipantIdentity) (*domain.ContractNegotiation, error) {
				if msg.ConsumerPid == "" || msg.CallbackAddress == "" {
					return nil, failure.BadRequest("initial contract request needs consumerPid and callbackAddress")
				}
				offer := msg.Offer
				return domain.New(domain.Fields{
					Type:                entity.TypeProvider,
					State:               domain.StateRequested,
					CorrelationID:       msg.ConsumerPid,
					CounterPartyID:      caller.ID,
					CounterPartyAddress: msg.CallbackAddress,
					Protocol:            msg.Protocol(),
					Offer:               &offer,
				}), nil
			},
		})
	}
	return s.handler.Handle(ctx, inbound.Request[*domain.ContractNegotiation]{
		Token:   token,
		Message: msg,
		Rule:    inbound.Rule{Recipients: providerOnly, Sources: states(domain.StateOffered)},
		Apply: func(_ context.Context, n *domain.ContractNegotiation) error {
			n.AddOffer(msg.Offer)
			return n.TransitionRequested()
		},
	})
}

// NotifyOffered handles a provider-initiated offer, or a counter-offer on a requested negotiation.
func (s *ProtocolService) NotifyOffered(ctx context.Context, token string, msg domain.ContractOfferMessage) (*domain.ContractNegotiation, error) {
	if msg.ProcessID() == "" {
		return s.handler.Handle(ctx, inbound.Request[*domain.ContractNegotiation]{
			Token:       token,
			Message:     msg,
			Rule:        inbound.Rule{Recipients: consumerOnly},
			Correlation: msg.ProviderPid,
			Create: func(_ context.Context, caller *identity.ParticipantIdentity) (*domain.ContractNegotiation, error) {
				if msg.ProviderPid == "" || msg.CallbackAddress == "" {
					return nil, failure.BadRequest("initial contract offer needs providerPid and callbackAddress")
				}
				offer := msg.Offer
				return domain.New(domain.Fields{
					Type:                entity.TypeConsumer,
					State:               domain.StateOffered,
					CorrelationID:       msg.ProviderPid,
					CounterPartyID:      caller.ID,
					CounterPartyAddress: msg.CallbackAddress,
					Protocol:            msg.Protocol(),
					Offer:               &offer,
				}), nil
			},
		})
	}
	return s.handler.Handle(ctx, inbound.Request[*domain.ContractNegotiation]{
		Token:   token,
		Message: msg,
		Rule:    inbound.Rule{Recipients: consumerOnly, Sources: states(domain.StateRequesting, domain.StateRequested)},
		Apply: func(_ context.Context, n *domain.ContractNegotiation) error {
			n.AddOffer(msg.Offer)
			return n.TransitionOffered()
		},
	})
}

// NotifyEvent routes ACCEPTED events to the provider and FINALIZED events to the consumer.
func (s *ProtocolService) NotifyEvent(ctx context.Context, token string, msg domain.ContractNegotiationEventMessage) (*domain.ContractNegotiation, error) {
	switch msg.EventType {
	case domain.EventAccepted:
		return s.NotifyAccepted(ctx, token, msg)
	case domain.EventFinalized:
		return s.NotifyFinalized(ctx, token, msg)
	default:
		return nil, failure.BadRequest("unknown negotiation event %q", msg.EventType)
	}
}

func (s *ProtocolService) NotifyAccepted(ctx context.Context, token string, msg domain.ContractNegotiationEventMessage) (*domain.ContractNegotiation, error) {
	return s.handler.Handle(ctx, inbound.Request[*domain.ContractNegotiation]{
		Token:   token,
		Message: msg,
		Rule:    inbound.Rule{Recipients: providerOnly, Sources: states(domain.StateOffering, domain.StateOffered)},
		Apply: func(_ context.Context, n *domain.ContractNegotiation) error {
			return n.TransitionAccepted()
		},
	})
}

// NotifyAgreed records the provider's agreement on the consumer side.
func (s *ProtocolService) NotifyAgreed(ctx context.Context, token string, msg domain.ContractAgreementMessage) (*domain.ContractNegotiation, error) {
	if msg.Agreement.ID == "" {
		return nil, failure.BadRequest("agreement id is required")
	}
	return s.handler.Handle(ctx, inbound.Request[*domain.ContractNegotiation]{
		Token:   token,
		Message: msg,
		Rule: inbound.Rule{Recipients: consumerOnly, Sources: states(
			domain.StateRequesting, domain.StateRequested, domain.StateAccepting, domain.StateAccepted,
		)},
		Apply: func(ctx context.Context, n *domain.ContractNegotiation) error {
			agreement := msg.Agreement
			agreement.NegotiationID = n.ID
			if err := n.TransitionAgreed(agreement); err != nil {
				return err
			}
			if err := s.agreements.SaveAgreement(ctx, &agreement); err != nil {
				return fmt.Errorf("save agreement %s: %w", agreement.ID, err)
			}
			return nil
		},
	})
}

func (s *ProtocolService) NotifyVerified(ctx context.Context, token string, msg domain.ContractAgreementVerificationMessage) (*domain.ContractNegotiation, error) {
	return s.handler.Handle(ctx, inbound.Request[*domain.ContractNegotiation]{
		Token:   token,
		Message: msg,
		Rule:    inbound.Rule{Recipients: providerOnly, Sources: states(domain.StateAgreeing, domain.StateAgreed)},
		Apply: func(_ context.Context, n *domain.ContractNegotiation) error {
			return n.TransitionVerified()
		},
	})
}

func (s *ProtocolService) NotifyFinalized(ctx context.Context, token string, msg domain.ContractNegotiationEventMessage) (*domain.ContractNegotiation, error) {
	return s.handler.Handle(ctx, inbound.Request[*domain.ContractNegotiation]{
		Token:   token,
		Message: msg,
		Rule:    inbound.Rule{Recipients: consumerOnly, Sources: states(domain.StateVerifying, domain.StateVerified)},
		Apply: func(_ context.Context, n *domain.ContractNegotiation) error {
			return n.TransitionFinalized()
		},
	})
}

// NotifyTerminated ends a non-terminal negotiation on either side.
func (s *ProtocolService) NotifyTerminated(ctx context.Context, token string, msg domain.ContractNegotiationTerminationMessage) (*domain.ContractNegotiation, error) {
	return s.handler.Handle(ctx, inbound.Request[*domain.ContractNegotiation]{
		Token:   token,
		Message: msg,
		Rule:    inbound.Rule{Recipients: bothRoles},
		Apply: func(_ context.Context, n *domain.ContractNegotiation) error {
			reason := msg.Reason
			if reason == "" {
				reason = "terminated by counterparty"
			}
			return n.TransitionTerminated(reason)
		},
	})
}

// FindByID returns the negotiation when the caller is its counterparty.
func (s *ProtocolService) FindByID(ctx context.Context, token, id string) (*domain.ContractNegotiation, error) {
	return s.handler.Find(ctx, token, "negotiation:read", id)
}
