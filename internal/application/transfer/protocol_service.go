package transfer

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/execution-hub/dsp-connector/internal/application/inbound"
	"github.com/execution-hub/dsp-connector/internal/domain/entity"
	"github.com/execution-hub/dsp-connector/internal/domain/failure"
	"github.com/execution-hub/dsp-connector/internal/domain/identity"
	"github.com/execution-hub/dsp-connector/internal/domain/negotiation"
	"github.com/execution-hub/dsp-connector/internal/domain/protocol"
	domain "github.com/execution-hub/dsp-connector/internal/domain/transfer"
)

var bothRoles = []entity.Type{entity.TypeConsumer, entity.TypeProvider}

func states(s ...domain.State) []int {
	out := make([]int, len(s))
	for i, v := range s {
		out[i] = int(v)
	}
	return out
}

// ProtocolService applies inbound transfer messages from counterparties.
type ProtocolService struct {
	handler    *inbound.Handler[*domain.Process]
	agreements negotiation.AgreementStore
	flow       domain.DataFlowController
}

func NewProtocolService(
	participantID string,
	store Store,
	verifier identity.TokenVerifier,
	agreements negotiation.AgreementStore,
	flow domain.DataFlowController,
	listeners *Listeners,
	logger zerolog.Logger,
) *ProtocolService {
	logger = logger.With().Str("service", "transfer-protocol").Logger()
	handler := inbound.NewHandler(store, verifier, inbound.Config[*domain.Process]{
		Audience:  participantID,
		Terminal:  func(s int) bool { return domain.State(s).IsTerminal() },
		StateName: stateName,
		Notify: func(p *domain.Process) {
			listeners.Invoke(func(l domain.Listener) { domain.Notify(l, p) })
		},
	}, logger)
	return &ProtocolService{handler: handler, agreements: agreements, flow: flow}
}

// NotifyRequested creates a provider transfer for an agreement the caller holds as consumer.
func (s *ProtocolService) NotifyRequested(ctx context.Context, token string, msg domain.TransferRequestMessage) (*domain.Process, error) {
	return s.handler.Handle(ctx, inbound.Request[*domain.Process]{
		Token:   token,
		Message: msg,
		// A request addressed to an existing process is only accepted as a retransmission.
		Rule:        inbound.Rule{Recipients: []entity.Type{entity.TypeProvider}, Sources: []int{}},
		Correlation: msg.ConsumerPid,
		Create: func(ctx context.Context, caller *identity.ParticipantIdentity) (*domain.Process, error) {
			if msg.ConsumerPid == "" || msg.CallbackAddress == "" {
				return nil, failure.BadRequest("transfer request needs consumerPid and callbackAddress")
			}
			agreement, err := s.agreements.FindAgreement(ctx, msg.AgreementID)
			if err != nil {
				return nil, fmt.Errorf("find agreement %s: %w", msg.AgreementID, err)
			}
			if agreement == nil || agreement.ConsumerID != caller.ID {
				return nil, failure.BadRequest("no agreement %q for participant %s", msg.AgreementID, caller.ID)
			}
			return domain.New(domain.Fields{
				Type:                entity.TypeProvider,
				State:               domain.StateRequested,
				CorrelationID:       msg.ConsumerPid,
				CounterPartyID:      caller.ID,
				CounterPartyAddress: msg.CallbackAddress,
				Protocol:            msg.Protocol(),
				AgreementID:         agreement.ID,
				AssetID:             agreement.AssetID,
				TransferType:        msg.Format,
				DataDestination:     msg.DataAddress,
			}), nil
		},
	})
}

// NotifyStarted starts a consumer transfer, or asks a suspended provider transfer to resume.
func (s *ProtocolService) NotifyStarted(ctx context.Context, token string, msg domain.TransferStartMessage) (*domain.Process, error) {
	return s.handler.Handle(ctx, inbound.Request[*domain.Process]{
		Token:   token,
		Message: msg,
		Rule: inbound.Rule{Recipients: bothRoles, Sources: states(
			domain.StateRequesting, domain.StateRequested, domain.StateStarted, domain.StateSuspended,
		)},
		Apply: func(_ context.Context, p *domain.Process) error {
			if p.Type == entity.TypeProvider {
				if p.CurrentState() != domain.StateSuspended {
					return failure.Conflict("provider transfer %s cannot be started in state %s", p.ID, p.CurrentState())
				}
				return p.TransitionStarting()
			}
			return p.TransitionStarted(msg.DataAddress)
		},
	})
}

func (s *ProtocolService) NotifySuspended(ctx context.Context, token string, msg domain.TransferSuspensionMessage) (*domain.Process, error) {
	return s.handler.Handle(ctx, inbound.Request[*domain.Process]{
		Token:   token,
		Message: msg,
		Rule:    inbound.Rule{Recipients: bothRoles, Sources: states(domain.StateStarted, domain.StateSuspending)},
		Apply: func(ctx context.Context, p *domain.Process) error {
			if err := s.stopFlow(ctx, p, func(ctx context.Context) (protocol.StatusResult, error) {
				return s.flow.Suspend(ctx, p, msg.Reason)
			}); err != nil {
				return err
			}
			return p.TransitionSuspended(msg.Reason)
		},
	})
}

func (s *ProtocolService) NotifyCompleted(ctx context.Context, token string, msg domain.TransferCompletionMessage) (*domain.Process, error) {
	return s.handler.Handle(ctx, inbound.Request[*domain.Process]{
		Token:   token,
		Message: msg,
		Rule:    inbound.Rule{Recipients: bothRoles, Sources: states(domain.StateStarted, domain.StateSuspended, domain.StateCompleting)},
		Apply: func(ctx context.Context, p *domain.Process) error {
			if err := s.stopFlow(ctx, p, func(ctx context.Context) (protocol.StatusResult, error) {
				return s.flow.Terminate(ctx, p, "completed by counterparty")
			}); err != nil {
				return err
			}
			return p.TransitionCompleted()
		},
	})
}

func (s *ProtocolService) NotifyTerminated(ctx context.Context, token string, msg domain.TransferTerminationMessage) (*domain.Process, error) {
	return s.handler.Handle(ctx, inbound.Request[*domain.Process]{
		Token:   token,
		Message: msg,
		Rule:    inbound.Rule{Recipients: bothRoles},
		Apply: func(ctx context.Context, p *domain.Process) error {
			reason := msg.Reason
			if reason == "" {
				reason = "terminated by counterparty"
			}
			if err := s.stopFlow(ctx, p, func(ctx context.Context) (protocol.StatusResult, error) {
				return s.flow.Terminate(ctx, p, reason)
			}); err != nil {
				return err
			}
			return p.TransitionTerminated(reason)
		},
	})
}

func (s *ProtocolService) FindByID(ctx context.Context, token, id string) (*domain.Process, error) {
	return s.handler.Find(ctx, token, "transfer:read", id)
}

// stopFlow stops a running provider data flow before the transition is applied.
func (s *ProtocolService) stopFlow(ctx context.Context, p *domain.Process, stop func(ctx context.Context) (protocol.StatusResult, error)) error {
	if p.Type != entity.TypeProvider || !p.FlowStarted || s.flow == nil {
		return nil
	}
	res, err := stop(ctx)
	if err != nil {
		return failure.Conflict("data flow of transfer %s: %v", p.ID, err)
	}
	if !res.Succeeded() {
		return failure.Conflict("data flow of transfer %s: %s", p.ID, res.Detail)
	}
	p.FlowStarted = false
	return nil
}

