package negotiation

// Listener observes committed negotiation transitions.
type Listener interface {
	Initiated(n *ContractNegotiation)
	Requested(n *ContractNegotiation)
	Offered(n *ContractNegotiation)
	Accepted(n *ContractNegotiation)
	Agreed(n *ContractNegotiation)
	Verified(n *ContractNegotiation)
	Finalized(n *ContractNegotiation)
	Terminated(n *ContractNegotiation)
}

// NoopListener can be embedded to observe a subset of transitions.
type NoopListener struct{}

func (NoopListener) Initiated(*ContractNegotiation)  {}
func (NoopListener) Requested(*ContractNegotiation)  {}
func (NoopListener) Offered(*ContractNegotiation)    {}
func (NoopListener) Accepted(*ContractNegotiation)   {}
func (NoopListener) Agreed(*ContractNegotiation)     {}
func (NoopListener) Verified(*ContractNegotiation)   {}
func (NoopListener) Finalized(*ContractNegotiation)  {}
func (NoopListener) Terminated(*ContractNegotiation) {}

// Notify calls the listener method matching the negotiation's current state.
func Notify(l Listener, n *ContractNegotiation) {
	switch n.CurrentState() {
	case StateInitial:
		l.Initiated(n)
	case StateRequested:
		l.Requested(n)
	case StateOffered:
		l.Offered(n)
	case StateAccepted:
		l.Accepted(n)
	case StateAgreed:
		l.Agreed(n)
	case StateVerified:
		l.Verified(n)
	case StateFinalized:
		l.Finalized(n)
	case StateTerminated:
		l.Terminated(n)
	}
}
