package transfer

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
	"github.com/execution-hub/dsp-connector/internal/domain/protocol"
	domain "github.com/execution-hub/dsp-connector/internal/domain/transfer"
)

// Store persists transfer processes.
type Store = entity.Store[*domain.Process]

// Listeners is the registry notified of committed transfer transitions.
type Listeners = observe.Registry[domain.Listener]

func NewListeners(logger zerolog.Logger) *Listeners {
	return observe.NewRegistry[domain.Listener](logger)
}

type ManagerConfig struct {
	ParticipantContextID string
	CallbackAddress      string
	BatchSize            int
	MaxInFlight          int64
	IterationWait        retry.WaitStrategy
	Retry                retry.Policy
}

// Manager drives outbound transfer progress. Provider transfers also drive the data plane.
type Manager struct {
	*statemachine.Manager[*domain.Process]
	cfg        ManagerConfig
	dispatcher protocol.Dispatcher
	flow       domain.DataFlowController
	listeners  *Listeners
}

func NewManager(
	cfg ManagerConfig,
	store Store,
	dispatcher protocol.Dispatcher,
	flow domain.DataFlowController,
	listeners *Listeners,
	logger zerolog.Logger,
	opts ...statemachine.Option[*domain.Process],
) *Manager {
	m := &Manager{cfg: cfg, dispatcher: dispatcher, flow: flow, listeners: listeners}
	m.Manager = statemachine.New(statemachine.Config{
		Name:        "transfer",
		BatchSize:   cfg.BatchSize,
		MaxInFlight: cfg.MaxInFlight,
		Wait:        cfg.IterationWait,
		StateName:   stateName,
	}, store, statemachine.Hooks[*domain.Process]{
		Fail:      terminate,
		Committed: m.committed,
	}, logger.With().Str("service", "transfer-manager").Logger(), opts...)

	consumer, provider := entity.TypeConsumer, entity.TypeProvider
	m.register(domain.StateInitial, consumer, false, m.processConsumerInitial)
	m.register(domain.StateRequesting, consumer, true, m.processRequesting)
	m.register(domain.StateRequested, provider, false, m.processProviderRequested)
	m.register(domain.StateStarting, provider, true, m.processStarting)
	for _, typ := range []entity.Type{consumer, provider} {
		m.register(domain.StateSuspending, typ, true, m.processSuspending)
		m.register(domain.StateCompleting, typ, true, m.processCompleting)
		m.register(domain.StateTerminating, typ, true, m.processTerminating)
	}
	return m
}

func stateName(s int) string {
	return domain.State(s).String()
}

// terminate ends a process that can no longer progress. A provider whose data flow
// is running goes to TERMINATING first so the flow is stopped before the process ends.
func terminate(p *domain.Process, detail string) {
	if p.Type == entity.TypeProvider && p.FlowStarted && p.CurrentState() != domain.StateTerminating {
		p.TransitionTo(int(domain.StateTerminating))
	} else {
		p.TransitionTo(int(domain.StateTerminated))
	}
	p.SetErrorDetail(detail)
}

func (m *Manager) committed(_ int, p *domain.Process) {
	m.listeners.Invoke(func(l domain.Listener) { domain.Notify(l, p) })
}

func (m *Manager) register(state domain.State, typ entity.Type, async bool, fn func(context.Context, *domain.Process) retry.Outcome) {
	m.Register(statemachine.Processor[*domain.Process]{State: int(state), Type: typ, Async: async, Handle: fn})
}

func (m *Manager) local(p *domain.Process, transition func() error) retry.Outcome {
	if err := transition(); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return retry.Abort(err)
		}
		return m.cfg.Retry.Classify(p.Entity(), protocol.Retry(err.Error()), nil)
	}
	return retry.Success()
}

// dispatch sends msg and applies onSuccess to the counterparty's response.
func (m *Manager) dispatch(ctx context.Context, p *domain.Process, msg protocol.RemoteMessage, onSuccess func(res protocol.StatusResult) error) retry.Outcome {
	out := m.cfg.Retry.Execute(ctx, p.Entity(), func(ctx context.Context) (protocol.StatusResult, error) {
		return m.dispatcher.Dispatch(ctx, m.cfg.ParticipantContextID, msg)
	})
	if !out.Succeeded() {
		return out
	}
	return m.local(p, func() error { return onSuccess(out.Result) })
}

// stopFlow runs a data-plane stop once per flow. Providers only.
func (m *Manager) stopFlow(ctx context.Context, p *domain.Process, stop func(ctx context.Context) (protocol.StatusResult, error)) retry.Outcome {
	if p.Type != entity.TypeProvider || !p.FlowStarted || m.flow == nil {
		return retry.Success()
	}
	out := m.cfg.Retry.Execute(ctx, p.Entity(), stop)
	if out.Succeeded() {
		p.FlowStarted = false
	}
	return out
}

func (m *Manager) processConsumerInitial(_ context.Context, p *domain.Process) retry.Outcome {
	return m.local(p, p.TransitionRequesting)
}

func (m *Manager) processRequesting(ctx context.Context, p *domain.Process) retry.Outcome {
	id := retry.MessageID(p.Entity(), uuid.NewString)
	msg := domain.TransferRequestMessage{
		Envelope:        p.Envelope(id),
		AgreementID:     p.AgreementID,
		Format:          p.TransferType,
		DataAddress:     p.DataDestination,
		CallbackAddress: m.cfg.CallbackAddress,
	}
	return m.dispatch(ctx, p, msg, func(res protocol.StatusResult) error {
		if p.CorrelationID == "" {
			pid, err := providerPid(res.Content)
			if err != nil {
				return err
			}
			p.CorrelationID = pid
		}
		return p.TransitionRequested()
	})
}

func (m *Manager) processProviderRequested(_ context.Context, p *domain.Process) retry.Outcome {
	return m.local(p, p.TransitionStarting)
}

// processStarting starts the data flow once, then announces the start to the consumer.
func (m *Manager) processStarting(ctx context.Context, p *domain.Process) retry.Outcome {
	id := retry.MessageID(p.Entity(), uuid.NewString)
	if !p.FlowStarted && m.flow != nil {
		out := m.cfg.Retry.Execute(ctx, p.Entity(), func(ctx context.Context) (protocol.StatusResult, error) {
			return m.flow.Start(ctx, p)
		})
		if !out.Succeeded() {
			return out
		}
		address, err := dataAddress(out.Result.Content)
		if err != nil {
			return retry.Abort(err)
		}
		p.FlowStarted = true
		p.DataAddress = address
	}
	msg := domain.TransferStartMessage{Envelope: p.Envelope(id), DataAddress: p.DataAddress}
	return m.dispatch(ctx, p, msg, func(protocol.StatusResult) error {
		return p.TransitionStarted(nil)
	})
}

func (m *Manager) processSuspending(ctx context.Context, p *domain.Process) retry.Outcome {
	id := retry.MessageID(p.Entity(), uuid.NewString)
	reason := p.ErrorDetail
	if out := m.stopFlow(ctx, p, func(ctx context.Context) (protocol.StatusResult, error) {
		return m.flow.Suspend(ctx, p, reason)
	}); !out.Succeeded() {
		return out
	}
	msg := domain.TransferSuspensionMessage{Envelope: p.Envelope(id), Reason: reason}
	return m.dispatch(ctx, p, msg, func(protocol.StatusResult) error {
		return p.TransitionSuspended("")
	})
}

func (m *Manager) processCompleting(ctx context.Context, p *domain.Process) retry.Outcome {
	id := retry.MessageID(p.Entity(), uuid.NewString)
	if out := m.stopFlow(ctx, p, func(ctx context.Context) (protocol.StatusResult, error) {
		return m.flow.Terminate(ctx, p, "transfer completed")
	}); !out.Succeeded() {
		return out
	}
	msg := domain.TransferCompletionMessage{Envelope: p.Envelope(id)}
	return m.dispatch(ctx, p, msg, func(protocol.StatusResult) error {
		return p.TransitionCompleted()
	})
}

func (m *Manager) processTerminating(ctx context.Context, p *domain.Process) retry.Outcome {
	id := retry.MessageID(p.Entity(), uuid.NewString)
	reason := p.ErrorDetail
	if out := m.stopFlow(ctx, p, func(ctx context.Context) (protocol.StatusResult, error) {
		return m.flow.Terminate(ctx, p, reason)
	}); !out.Succeeded() {
		return out
	}
	msg := domain.TransferTerminationMessage{Envelope: p.Envelope(id), Reason: reason}
	return m.dispatch(ctx, p, msg, func(protocol.StatusResult) error {
		return p.TransitionTerminated("")
	})
}

func providerPid(content []byte) (string, error) {
	if len(content) == 0 {
		return "", errors.New("empty acknowledgement")
	}
	var ack domain.Acknowledgement
	if err := json.Unmarshal(content, &ack); err != nil {
		return "", fmt.Errorf("decode acknowledgement: %w", err)
	}
	if ack.ProviderPid == "" {
		return "", errors.New("acknowledgement carries no provider process id")
	}
	return ack.ProviderPid, nil
}

func dataAddress(content []byte) (map[string]string, error) {
	if len(content) == 0 {
		return nil, nil
	}
	var address map[string]string
	if err := json.Unmarshal(content, &address); err != nil {
		return nil, fmt.Errorf("decode data address: %w", err)
	}
	return address, nil
}
