package protocol

import (
	"context"
	"errors"
)

// DSP is the protocol identifier of the dataspace protocol HTTP binding.
const DSP = "dataspace-protocol-http"

var ErrUnsupportedProtocol = errors.New("unsupported protocol")

// ResponseStatus is the outcome class of a remote call.
type ResponseStatus string

const (
	StatusOK    ResponseStatus = "OK"
	StatusRetry ResponseStatus = "ERROR_RETRY"
	StatusFatal ResponseStatus = "FATAL_ERROR"
)

// StatusResult is the result of a dispatch or data-plane call.
type StatusResult struct {
	Status  ResponseStatus
	Content []byte
	Detail  string
}

func Success(content []byte) StatusResult {
	return StatusResult{Status: StatusOK, Content: content}
}

func Retry(detail string) StatusResult {
	return StatusResult{Status: StatusRetry, Detail: detail}
}

func Fatal(detail string) StatusResult {
	return StatusResult{Status: StatusFatal, Detail: detail}
}

func (r StatusResult) Succeeded() bool {
	return r.Status == StatusOK
}

// RemoteMessage is a protocol message exchanged with the counterparty.
// ProcessID is the recipient's local process id; it is empty for initial messages.
type RemoteMessage interface {
	MessageID() string
	MessageType() string
	ProcessID() string
	CounterPartyID() string
	CounterPartyAddress() string
	Protocol() string
}

// Envelope carries the routing fields shared by every protocol message.
type Envelope struct {
	ID          string `json:"@id"`
	ConsumerPid string `json:"consumerPid,omitempty"`
	ProviderPid string `json:"providerPid,omitempty"`

	TargetPid string `json:"-"`
	Recipient string `json:"-"`
	Address   string `json:"-"`
	Proto     string `json:"-"`
}

func (e Envelope) MessageID() string           { return e.ID }
func (e Envelope) ProcessID() string           { return e.TargetPid }
func (e Envelope) CounterPartyID() string      { return e.Recipient }
func (e Envelope) CounterPartyAddress() string { return e.Address }

func (e Envelope) Protocol() string {
	if e.Proto == "" {
		return DSP
	}
	return e.Proto
}

// Dispatcher sends a message to the counterparty on behalf of a participant context.
// A non-nil error means the message may not have reached the counterparty.
//
//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_dispatcher.go -package=mocks . Dispatcher
type Dispatcher interface {
	Dispatch(ctx context.Context, participantContextID string, msg RemoteMessage) (StatusResult, error)
}
