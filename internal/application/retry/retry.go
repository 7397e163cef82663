package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/execution-hub/dsp-connector/internal/domain/entity"
	"github.com/execution-hub/dsp-connector/internal/domain/protocol"
)

// Kind classifies the result of one processing attempt.
type Kind int

const (
	Succeeded Kind = iota
	Retryable
	Exhausted
	Fatal
	Deferred
)

func (k Kind) String() string {
	switch k {
	case Succeeded:
		return "succeeded"
	case Retryable:
		return "retry"
	case Exhausted:
		return "exhausted"
	case Fatal:
		return "fatal"
	case Deferred:
		return "deferred"
	}
	return "unknown"
}

// Outcome is what a processor reports back to the state machine.
type Outcome struct {
	Kind   Kind
	Result protocol.StatusResult
	Err    error
}

func (o Outcome) Succeeded() bool { return o.Kind == Succeeded }

// Detail renders the failure for logs and error details.
func (o Outcome) Detail() string {
	switch {
	case o.Err != nil && o.Result.Detail != "":
		return fmt.Sprintf("%s: %v", o.Result.Detail, o.Err)
	case o.Err != nil:
		return o.Err.Error()
	default:
		return o.Result.Detail
	}
}

func Success() Outcome                  { return Outcome{Kind: Succeeded} }
func Defer() Outcome                    { return Outcome{Kind: Deferred} }
func Failed(err error) Outcome          { return Outcome{Kind: Retryable, Err: err} }
func Abort(err error) Outcome           { return Outcome{Kind: Fatal, Err: err} }
func AbortDetail(detail string) Outcome { return Outcome{Kind: Fatal, Result: protocol.Fatal(detail)} }

// Policy bounds the attempts made for one entity in one state.
type Policy struct {
	Wait           WaitStrategy
	Limit          int
	AttemptTimeout time.Duration
	Now            func() time.Time
}

func (p Policy) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Due reports whether the backoff delay for the entity's current failure count has elapsed.
func (p Policy) Due(e *entity.StatefulEntity) bool {
	if e.StateCount == 0 || p.Wait == nil {
		return true
	}
	next := time.UnixMilli(e.StateTimestamp).Add(p.Wait.RetryIn(e.StateCount))
	return !p.now().Before(next)
}

// Classify turns a failed attempt into Retryable, or Exhausted once the limit is reached.
func (p Policy) Classify(e *entity.StatefulEntity, res protocol.StatusResult, err error) Outcome {
	if err == nil && res.Status == protocol.StatusFatal {
		return Outcome{Kind: Fatal, Result: res}
	}
	if err == nil && res.Status == protocol.StatusOK {
		return Outcome{Kind: Succeeded, Result: res}
	}
	if err == nil && res.Status != protocol.StatusRetry {
		return Outcome{Kind: Fatal, Result: res, Err: fmt.Errorf("unknown response status %q", res.Status)}
	}
	if p.Limit > 0 && e.StateCount+1 >= p.Limit {
		return Outcome{Kind: Exhausted, Result: res, Err: errors.Join(err, fmt.Errorf("retry limit %d reached", p.Limit))}
	}
	return Outcome{Kind: Retryable, Result: res, Err: err}
}

// Execute runs attempt once under the per-attempt timeout, unless the entity is still
// backing off. Transport errors and timeouts are retryable.
func (p Policy) Execute(ctx context.Context, e *entity.StatefulEntity, attempt func(ctx context.Context) (protocol.StatusResult, error)) Outcome {
	if !p.Due(e) {
		return Defer()
	}
	if p.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
		defer cancel()
	}
	res, err := attempt(ctx)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return p.Classify(e, res, err)
}

// MessageID returns the id for the next outbound message in the current state. Retries
// reuse the last sent id so the counterparty can deduplicate.
func MessageID(e *entity.StatefulEntity, newID func() string) string {
	if e.StateCount > 0 && e.ProtocolMessages.LastSent != "" {
		return e.ProtocolMessages.LastSent
	}
	id := newID()
	e.ProtocolMessages.MessageSent(id)
	return id
}
