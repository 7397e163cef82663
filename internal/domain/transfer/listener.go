package transfer

// Listener observes committed transfer transitions.
type Listener interface {
	Initiated(p *Process)
	Requested(p *Process)
	Started(p *Process)
	Suspended(p *Process)
	Completed(p *Process)
	Terminated(p *Process)
}

type NoopListener struct{}

func (NoopListener) Initiated(*Process)  {}
func (NoopListener) Requested(*Process)  {}
func (NoopListener) Started(*Process)    {}
func (NoopListener) Suspended(*Process)  {}
func (NoopListener) Completed(*Process)  {}
func (NoopListener) Terminated(*Process) {}

// Notify calls the listener method matching the process's current state.
func Notify(l Listener, p *Process) {
	switch p.CurrentState() {
	case StateInitial:
		l.Initiated(p)
	case StateRequested:
		l.Requested(p)
	case StateStarted:
		l.Started(p)
	case StateSuspended:
		l.Suspended(p)
	case StateCompleted:
		l.Completed(p)
	case StateTerminated:
		l.Terminated(p)
	}
}
