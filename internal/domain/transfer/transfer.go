package transfer

import (
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/execution-hub/dsp-connector/internal/domain/entity"
	"github.com/execution-hub/dsp-connector/internal/domain/protocol"
)

// State is a transfer process state code.
type State int

const (
	StateInitial     State = 100
	StateRequesting  State = 400
	StateRequested   State = 500
	StateStarting    State = 550
	StateStarted     State = 600
	StateSuspending  State = 650
	StateSuspended   State = 700
	StateCompleting  State = 750
	StateCompleted   State = 800
	StateTerminating State = 825
	StateTerminated  State = 850
)

var stateNames = map[State]string{
	StateInitial:     "INITIAL",
	StateRequesting:  "REQUESTING",
	StateRequested:   "REQUESTED",
	StateStarting:    "STARTING",
	StateStarted:     "STARTED",
	StateSuspending:  "SUSPENDING",
	StateSuspended:   "SUSPENDED",
	StateCompleting:  "COMPLETING",
	StateCompleted:   "COMPLETED",
	StateTerminating: "TERMINATING",
	StateTerminated:  "TERMINATED",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(s))
}

func ParseState(name string) (State, bool) {
	for s, n := range stateNames {
		if n == name {
			return s, true
		}
	}
	return 0, false
}

func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateTerminated
}

var ErrInvalidTransition = errors.New("invalid transfer state transition")

// Every non-terminal state may also move to TERMINATING and TERMINATED.
var transitions = map[State][]State{
	StateInitial:     {StateRequesting},
	StateRequesting:  {StateRequested, StateStarted},
	StateRequested:   {StateStarting, StateStarted},
	StateStarting:    {StateStarted},
	StateStarted:     {StateStarted, StateSuspending, StateSuspended, StateCompleting, StateCompleted},
	StateSuspending:  {StateSuspended},
	StateSuspended:   {StateStarting, StateStarted, StateCompleting, StateCompleted},
	StateCompleting:  {StateCompleted},
	StateTerminating: {},
}

// Process is a transfer process from one participant's perspective.
type Process struct {
	entity.StatefulEntity
	AgreementID     string            `json:"agreementId"`
	AssetID         string            `json:"assetId,omitempty"`
	TransferType    string            `json:"transferType"`
	DataDestination map[string]string `json:"dataDestination,omitempty"`
	DataAddress     map[string]string `json:"dataAddress,omitempty"`
	FlowStarted     bool              `json:"flowStarted,omitempty"`
}

// Fields configures a new transfer process.
type Fields struct {
	ID                  string
	Type                entity.Type
	State               State
	CorrelationID       string
	CounterPartyID      string
	CounterPartyAddress string
	Protocol            string
	AgreementID         string
	AssetID             string
	TransferType        string
	DataDestination     map[string]string
	TraceContext        map[string]string
}

func New(f Fields) *Process {
	id := f.ID
	if id == "" {
		id = uuid.NewString()
	}
	state := f.State
	if state == 0 {
		state = StateInitial
	}
	p := &Process{
		AgreementID:     f.AgreementID,
		AssetID:         f.AssetID,
		TransferType:    f.TransferType,
		DataDestination: f.DataDestination,
	}
	p.Init(id, f.Type, int(state))
	p.CorrelationID = f.CorrelationID
	p.CounterPartyID = f.CounterPartyID
	p.CounterPartyAddress = f.CounterPartyAddress
	p.Protocol = f.Protocol
	p.TraceContext = f.TraceContext
	return p
}

func (p *Process) CurrentState() State {
	return State(p.State)
}

func (p *Process) IsTerminal() bool {
	return p.CurrentState().IsTerminal()
}

func (p *Process) CanTransitionTo(target State) bool {
	cur := p.CurrentState()
	if cur.IsTerminal() {
		return false
	}
	if target == StateTerminating || target == StateTerminated {
		return cur != StateTerminating || target == StateTerminated
	}
	return slices.Contains(transitions[cur], target)
}

func (p *Process) transition(target State) error {
	if !p.CanTransitionTo(target) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.CurrentState(), target)
	}
	p.TransitionTo(int(target))
	return nil
}

func (p *Process) TransitionRequesting() error  { return p.transition(StateRequesting) }
func (p *Process) TransitionRequested() error   { return p.transition(StateRequested) }
func (p *Process) TransitionSuspending() error  { return p.transition(StateSuspending) }
func (p *Process) TransitionCompleting() error  { return p.transition(StateCompleting) }
func (p *Process) TransitionTerminating() error { return p.transition(StateTerminating) }
func (p *Process) TransitionCompleted() error   { return p.transition(StateCompleted) }

// TransitionStarting moves to STARTING. A restart after suspension must start a new data flow.
func (p *Process) TransitionStarting() error {
	if err := p.transition(StateStarting); err != nil {
		return err
	}
	p.FlowStarted = false
	return nil
}

// TransitionStarted moves to STARTED, keeping the data address when one is supplied.
func (p *Process) TransitionStarted(address map[string]string) error {
	if err := p.transition(StateStarted); err != nil {
		return err
	}
	if address != nil {
		p.DataAddress = address
	}
	return nil
}

func (p *Process) TransitionSuspended(reason string) error {
	if err := p.transition(StateSuspended); err != nil {
		return err
	}
	if reason != "" {
		p.SetErrorDetail(reason)
	}
	return nil
}

func (p *Process) TransitionTerminated(reason string) error {
	if err := p.transition(StateTerminated); err != nil {
		return err
	}
	if reason != "" {
		p.SetErrorDetail(reason)
	}
	return nil
}

// Envelope addresses an outbound message to the counterparty of p.
func (p *Process) Envelope(messageID string) protocol.Envelope {
	env := protocol.Envelope{
		ID:        messageID,
		TargetPid: p.CorrelationID,
		Recipient: p.CounterPartyID,
		Address:   p.CounterPartyAddress,
		Proto:     p.Protocol,
	}
	if p.Type == entity.TypeConsumer {
		env.ConsumerPid, env.ProviderPid = p.ID, p.CorrelationID
	} else {
		env.ProviderPid, env.ConsumerPid = p.ID, p.CorrelationID
	}
	return env
}
