package negotiation

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/execution-hub/dsp-connector/internal/domain/entity"
	"github.com/execution-hub/dsp-connector/internal/domain/protocol"
)

// State is a contract negotiation state code.
type State int

const (
	StateInitial     State = 50
	StateRequesting  State = 100
	StateRequested   State = 200
	StateOffering    State = 300
	StateOffered     State = 400
	StateAccepting   State = 700
	StateAccepted    State = 800
	StateAgreeing    State = 825
	StateAgreed      State = 850
	StateVerifying   State = 1050
	StateVerified    State = 1100
	StateFinalizing  State = 1150
	StateFinalized   State = 1200
	StateTerminating State = 1300
	StateTerminated  State = 1400
)

var stateNames = map[State]string{
	StateInitial:     "INITIAL",
	StateRequesting:  "REQUESTING",
	StateRequested:   "REQUESTED",
	StateOffering:    "OFFERING",
	StateOffered:     "OFFERED",
	StateAccepting:   "ACCEPTING",
	StateAccepted:    "ACCEPTED",
	StateAgreeing:    "AGREEING",
	StateAgreed:      "AGREED",
	StateVerifying:   "VERIFYING",
	StateVerified:    "VERIFIED",
	StateFinalizing:  "FINALIZING",
	StateFinalized:   "FINALIZED",
	StateTerminating: "TERMINATING",
	StateTerminated:  "TERMINATED",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(s))
}

// ParseState resolves a state name.
func ParseState(name string) (State, bool) {
	for s, n := range stateNames {
		if n == name {
			return s, true
		}
	}
	return 0, false
}

func (s State) IsTerminal() bool {
	return s == StateFinalized || s == StateTerminated
}

var ErrInvalidTransition = errors.New("invalid negotiation state transition")

// Every non-terminal state may also move to TERMINATING and TERMINATED.
var transitions = map[State][]State{
	StateInitial:     {StateRequesting, StateOffering},
	StateRequesting:  {StateRequested, StateOffered, StateAgreed},
	StateRequested:   {StateOffering, StateOffered, StateAgreeing, StateAgreed},
	StateOffering:    {StateOffered, StateAccepted},
	StateOffered:     {StateRequesting, StateRequested, StateAccepting, StateAccepted},
	StateAccepting:   {StateAccepted, StateAgreed},
	StateAccepted:    {StateAgreeing, StateAgreed},
	StateAgreeing:    {StateAgreed, StateVerified},
	StateAgreed:      {StateVerifying, StateVerified},
	StateVerifying:   {StateVerified, StateFinalized},
	StateVerified:    {StateFinalizing, StateFinalized},
	StateFinalizing:  {StateFinalized},
	StateTerminating: {},
}

// ContractOffer is the offer under negotiation. The policy is opaque to the engine.
type ContractOffer struct {
	ID      string          `json:"@id"`
	AssetID string          `json:"target"`
	Policy  json.RawMessage `json:"policy,omitempty"`
}

// ContractNegotiation is a negotiation process from one participant's perspective.
type ContractNegotiation struct {
	entity.StatefulEntity
	Offers    []ContractOffer    `json:"offers,omitempty"`
	Agreement *ContractAgreement `json:"agreement,omitempty"`
}

// Fields configures a new negotiation.
type Fields struct {
	ID                  string
	Type                entity.Type
	State               State
	CorrelationID       string
	CounterPartyID      string
	CounterPartyAddress string
	Protocol            string
	Offer               *ContractOffer
	TraceContext        map[string]string
}

func New(f Fields) *ContractNegotiation {
	id := f.ID
	if id == "" {
		id = uuid.NewString()
	}
	state := f.State
	if state == 0 {
		state = StateInitial
	}
	n := &ContractNegotiation{}
	n.Init(id, f.Type, int(state))
	n.CorrelationID = f.CorrelationID
	n.CounterPartyID = f.CounterPartyID
	n.CounterPartyAddress = f.CounterPartyAddress
	n.Protocol = f.Protocol
	n.TraceContext = f.TraceContext
	if f.Offer != nil {
		n.Offers = append(n.Offers, *f.Offer)
	}
	return n
}

func (n *ContractNegotiation) CurrentState() State {
	return State(n.State)
}

func (n *ContractNegotiation) IsTerminal() bool {
	return n.CurrentState().IsTerminal()
}

// LastOffer returns the most recent offer, or nil.
func (n *ContractNegotiation) LastOffer() *ContractOffer {
	if len(n.Offers) == 0 {
		return nil
	}
	return &n.Offers[len(n.Offers)-1]
}

func (n *ContractNegotiation) AddOffer(o ContractOffer) {
	n.Offers = append(n.Offers, o)
}

// CanTransitionTo validates a negotiation state transition.
func (n *ContractNegotiation) CanTransitionTo(target State) bool {
	cur := n.CurrentState()
	if cur.IsTerminal() {
		return false
	}
	if target == StateTerminating || target == StateTerminated {
		return cur != StateTerminating || target == StateTerminated
	}
	return slices.Contains(transitions[cur], target)
}

func (n *ContractNegotiation) transition(target State) error {
	if !n.CanTransitionTo(target) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, n.CurrentState(), target)
	}
	n.TransitionTo(int(target))
	return nil
}

func (n *ContractNegotiation) TransitionRequesting() error { return n.transition(StateRequesting) }
func (n *ContractNegotiation) TransitionRequested() error  { return n.transition(StateRequested) }
func (n *ContractNegotiation) TransitionOffering() error   { return n.transition(StateOffering) }
func (n *ContractNegotiation) TransitionOffered() error    { return n.transition(StateOffered) }
func (n *ContractNegotiation) TransitionAccepting() error  { return n.transition(StateAccepting) }
func (n *ContractNegotiation) TransitionAccepted() error   { return n.transition(StateAccepted) }
func (n *ContractNegotiation) TransitionAgreeing() error   { return n.transition(StateAgreeing) }
func (n *ContractNegotiation) TransitionVerifying() error  { return n.transition(StateVerifying) }
func (n *ContractNegotiation) TransitionVerified() error   { return n.transition(StateVerified) }
func (n *ContractNegotiation) TransitionFinalizing() error { return n.transition(StateFinalizing) }
func (n *ContractNegotiation) TransitionFinalized() error  { return n.transition(StateFinalized) }
func (n *ContractNegotiation) TransitionTerminating() error {
	return n.transition(StateTerminating)
}

// TransitionAgreed records the agreement and moves to AGREED.
func (n *ContractNegotiation) TransitionAgreed(a ContractAgreement) error {
	if err := n.transition(StateAgreed); err != nil {
		return err
	}
	n.Agreement = &a
	return nil
}

// TransitionTerminated moves to TERMINATED, keeping reason as error detail when set.
func (n *ContractNegotiation) TransitionTerminated(reason string) error {
	if err := n.transition(StateTerminated); err != nil {
		return err
	}
	if reason != "" {
		n.SetErrorDetail(reason)
	}
	return nil
}

// Envelope addresses an outbound message to the counterparty of n.
func (n *ContractNegotiation) Envelope(messageID string) protocol.Envelope {
	env := protocol.Envelope{
		ID:        messageID,
		TargetPid: n.CorrelationID,
		Recipient: n.CounterPartyID,
		Address:   n.CounterPartyAddress,
		Proto:     n.Protocol,
	}
	if n.Type == entity.TypeConsumer {
		env.ConsumerPid, env.ProviderPid = n.ID, n.CorrelationID
	} else {
		env.ProviderPid, env.ConsumerPid = n.ID, n.CorrelationID
	}
	return env
}
