package transfer

import (
	"github.com/execution-hub/dsp-connector/internal/domain/protocol"
)

const (
	TypeTransferRequestMessage     = "dspace:TransferRequestMessage"
	TypeTransferStartMessage       = "dspace:TransferStartMessage"
	TypeTransferSuspensionMessage  = "dspace:TransferSuspensionMessage"
	TypeTransferCompletionMessage  = "dspace:TransferCompletionMessage"
	TypeTransferTerminationMessage = "dspace:TransferTerminationMessage"
)

type TransferRequestMessage struct {
	protocol.Envelope
	AgreementID     string            `json:"agreementId"`
	Format          string            `json:"format"`
	DataAddress     map[string]string `json:"dataAddress,omitempty"`
	CallbackAddress string            `json:"callbackAddress"`
}

func (TransferRequestMessage) MessageType() string { return TypeTransferRequestMessage }

type TransferStartMessage struct {
	protocol.Envelope
	DataAddress map[string]string `json:"dataAddress,omitempty"`
}

func (TransferStartMessage) MessageType() string { return TypeTransferStartMessage }

type TransferSuspensionMessage struct {
	protocol.Envelope
	Code   string `json:"code,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (TransferSuspensionMessage) MessageType() string { return TypeTransferSuspensionMessage }

type TransferCompletionMessage struct {
	protocol.Envelope
}

func (TransferCompletionMessage) MessageType() string { return TypeTransferCompletionMessage }

type TransferTerminationMessage struct {
	protocol.Envelope
	Code   string `json:"code,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (TransferTerminationMessage) MessageType() string { return TypeTransferTerminationMessage }

// Acknowledgement is the counterparty's reply to a transfer request.
type Acknowledgement struct {
	ConsumerPid string `json:"consumerPid"`
	ProviderPid string `json:"providerPid"`
	State       string `json:"state,omitempty"`
}
