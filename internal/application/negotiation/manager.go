package negotiation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/execution-hub/dsp-connector/internal/application/observe"
	"github.com/execution-hub/dsp-connector/internal/application/retry"
	"github.com/execution-hub/dsp-connector/internal/application/statemachine"
	"github.com/execution-hub/dsp-connector/internal/domain/entity"
	domain "github.com/execution-hub/dsp-connector/internal/domain/negotiation"
	"github.com/execution-hub/dsp-connector/internal/domain/protocol"
)

// Store persists contract negotiations.
type Store = entity.Store[*domain.ContractNegotiation]

// Listeners is the registry notified of committed negotiation transitions.
type Listeners = observe.Registry[domain.Listener]

func NewListeners(logger zerolog.Logger) *Listeners {
	return observe.NewRegistry[domain.Listener](logger)
}

// ManagerConfig configures the negotiation state machine.
type ManagerConfig struct {
	ParticipantID        string
	ParticipantContextID string
	CallbackAddress      string
	BatchSize            int
	MaxInFlight          int64
	IterationWait        retry.WaitStrategy
	Retry                retry.Policy
}

// Manager drives outbound negotiation progress for both roles.
type Manager struct {
	*statemachine.Manager[*domain.ContractNegotiation]
	cfg        ManagerConfig
	dispatcher protocol.Dispatcher
	agreements domain.AgreementStore
	listeners  *Listeners
	logger     zerolog.Logger
}

func NewManager(
	cfg ManagerConfig,
	store Store,
	dispatcher protocol.Dispatcher,
	agreements domain.AgreementStore,
	listeners *Listeners,
	logger zerolog.Logger,
	opts ...statemachine.Option[*domain.ContractNegotiation],
) *Manager {
	m := &Manager{
		cfg:        cfg,
		dispatcher: dispatcher,
		agreements: agreements,
		listeners:  listeners,
		logger:     logger.With().Str("service", "negotiation-manager").Logger(),
	}
	m.Manager = statemachine.New(statemachine.Config{
		Name:        "negotiation",
		BatchSize:   cfg.BatchSize,
		MaxInFlight: cfg.MaxInFlight,
		Wait:        cfg.IterationWait,
		StateName:   stateName,
	}, store, statemachine.Hooks[*domain.ContractNegotiation]{
		Fail:      terminate,
		Committed: m.committed,
	}, logger, opts...)

	consumer, provider := entity.TypeConsumer, entity.TypeProvider
	m.register(domain.StateInitial, consumer, false, m.processConsumerInitial)
	m.register(domain.StateRequesting, consumer, true, m.processRequesting)
	m.register(domain.StateAccepting, consumer, true, m.processAccepting)
	m.register(domain.StateAgreed, consumer, false, m.processConsumerAgreed)
	m.register(domain.StateVerifying, consumer, true, m.processVerifying)
	m.register(domain.StateTerminating, consumer, true, m.processTerminating)

	m.register(domain.StateRequested, provider, false, m.processProviderRequested)
	m.register(domain.StateOffering, provider, true, m.processOffering)
	m.register(domain.StateAccepted, provider, false, m.processProviderAccepted)
	m.register(domain.StateAgreeing, provider, true, m.processAgreeing)
	m.register(domain.StateVerified, provider, false, m.processProviderVerified)
	m.register(domain.StateFinalizing, provider, true, m.processFinalizing)
	m.register(domain.StateTerminating, provider, true, m.processTerminating)
	return m
}

func stateName(s int) string {
	return domain.State(s).String()
}

func terminate(n *domain.ContractNegotiation, detail string) {
	n.TransitionTo(int(domain.StateTerminated))
	n.SetErrorDetail(detail)
}

func (m *Manager) committed(_ int, n *domain.ContractNegotiation) {
	m.listeners.Invoke(func(l domain.Listener) { domain.Notify(l, n) })
}

func (m *Manager) register(state domain.State, typ entity.Type, async bool, fn func(context.Context, *domain.ContractNegotiation) retry.Outcome) {
	m.Register(statemachine.Processor[*domain.ContractNegotiation]{State: int(state), Type: typ, Async: async, Handle: fn})
}

// local wraps a synchronous transition. Illegal transitions are fatal.
func (m *Manager) local(n *domain.ContractNegotiation, transition func() error) retry.Outcome {
	if err := transition(); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return retry.Abort(err)
		}
		return m.cfg.Retry.Classify(n.Entity(), protocol.Retry(err.Error()), nil)
	}
	return retry.Success()
}

// send dispatches the message built for the current state and runs onSuccess with the
// counterparty's response.
func (m *Manager) send(ctx context.Context, n *domain.ContractNegotiation, build func(env protocol.Envelope) protocol.RemoteMessage, onSuccess func(res protocol.StatusResult) error) retry.Outcome {
	id := retry.MessageID(n.Entity(), uuid.NewString)
	msg := build(n.Envelope(id))
	out := m.cfg.Retry.Execute(ctx, n.Entity(), func(ctx context.Context) (protocol.StatusResult, error) {
		return m.dispatcher.Dispatch(ctx, m.cfg.ParticipantContextID, msg)
	})
	if !out.Succeeded() {
		return out
	}
	return m.local(n, func() error { return onSuccess(out.Result) })
}

func (m *Manager) processConsumerInitial(_ context.Context, n *domain.ContractNegotiation) retry.Outcome {
	return m.local(n, n.TransitionRequesting)
}

func (m *Manager) processRequesting(ctx context.Context, n *domain.ContractNegotiation) retry.Outcome {
	return m.send(ctx, n, func(env protocol.Envelope) protocol.RemoteMessage {
		msg := domain.ContractRequestMessage{Envelope: env, CallbackAddress: m.cfg.CallbackAddress}
		if o := n.LastOffer(); o != nil {
			msg.Offer = *o
		}
		return msg
	}, func(res protocol.StatusResult) error {
		if n.CorrelationID == "" {
			pid, err := ackPid(res.Content, entity.TypeProvider)
			if err != nil {
				return err
			}
			n.CorrelationID = pid
		}
		return n.TransitionRequested()
	})
}

func (m *Manager) processAccepting(ctx context.Context, n *domain.ContractNegotiation) retry.Outcome {
	return m.send(ctx, n, func(env protocol.Envelope) protocol.RemoteMessage {
		return domain.ContractNegotiationEventMessage{Envelope: env, EventType: domain.EventAccepted}
	}, func(protocol.StatusResult) error {
		return n.TransitionAccepted()
	})
}

func (m *Manager) processConsumerAgreed(_ context.Context, n *domain.ContractNegotiation) retry.Outcome {
	return m.local(n, n.TransitionVerifying)
}

func (m *Manager) processVerifying(ctx context.Context, n *domain.ContractNegotiation) retry.Outcome {
	return m.send(ctx, n, func(env protocol.Envelope) protocol.RemoteMessage {
		return domain.ContractAgreementVerificationMessage{Envelope: env}
	}, func(protocol.StatusResult) error {
		return n.TransitionVerified()
	})
}

func (m *Manager) processTerminating(ctx context.Context, n *domain.ContractNegotiation) retry.Outcome {
	return m.send(ctx, n, func(env protocol.Envelope) protocol.RemoteMessage {
		return domain.ContractNegotiationTerminationMessage{Envelope: env, Reason: n.ErrorDetail}
	}, func(protocol.StatusResult) error {
		return n.TransitionTerminated("")
	})
}

func (m *Manager) processProviderRequested(_ context.Context, n *domain.ContractNegotiation) retry.Outcome {
	return m.local(n, n.TransitionAgreeing)
}

func (m *Manager) processOffering(ctx context.Context, n *domain.ContractNegotiation) retry.Outcome {
	return m.send(ctx, n, func(env protocol.Envelope) protocol.RemoteMessage {
		msg := domain.ContractOfferMessage{Envelope: env, CallbackAddress: m.cfg.CallbackAddress}
		if o := n.LastOffer(); o != nil {
			msg.Offer = *o
		}
		return msg
	}, func(res protocol.StatusResult) error {
		if n.CorrelationID == "" {
			pid, err := ackPid(res.Content, entity.TypeConsumer)
			if err != nil {
				return err
			}
			n.CorrelationID = pid
		}
		return n.TransitionOffered()
	})
}

func (m *Manager) processProviderAccepted(_ context.Context, n *domain.ContractNegotiation) retry.Outcome {
	return m.local(n, n.TransitionAgreeing)
}

func (m *Manager) processAgreeing(ctx context.Context, n *domain.ContractNegotiation) retry.Outcome {
	if n.Agreement == nil {
		a := domain.NewAgreement(n, m.cfg.ParticipantID)
		n.Agreement = &a
	}
	agreement := *n.Agreement
	return m.send(ctx, n, func(env protocol.Envelope) protocol.RemoteMessage {
		return domain.ContractAgreementMessage{Envelope: env, Agreement: agreement, CallbackAddress: m.cfg.CallbackAddress}
	}, func(protocol.StatusResult) error {
		if err := m.agreements.SaveAgreement(ctx, &agreement); err != nil {
			return fmt.Errorf("save agreement %s: %w", agreement.ID, err)
		}
		return n.TransitionAgreed(agreement)
	})
}

func (m *Manager) processProviderVerified(_ context.Context, n *domain.ContractNegotiation) retry.Outcome {
	return m.local(n, n.TransitionFinalizing)
}

func (m *Manager) processFinalizing(ctx context.Context, n *domain.ContractNegotiation) retry.Outcome {
	return m.send(ctx, n, func(env protocol.Envelope) protocol.RemoteMessage {
		return domain.ContractNegotiationEventMessage{Envelope: env, EventType: domain.EventFinalized}
	}, func(protocol.StatusResult) error {
		return n.TransitionFinalized()
	})
}

// ackPid extracts the counterparty's process id from an acknowledgement.
func ackPid(content []byte, role entity.Type) (string, error) {
	var ack domain.Acknowledgement
	if len(content) == 0 {
		return "", errors.New("empty acknowledgement")
	}
	if err := json.Unmarshal(content, &ack); err != nil {
		return "", fmt.Errorf("decode acknowledgement: %w", err)
	}
	pid := ack.ProviderPid
	if role == entity.TypeConsumer {
		pid = ack.ConsumerPid
	}
	if pid == "" {
		return "", fmt.Errorf("acknowledgement carries no %s process id", role)
	}
	return pid, nil
}
