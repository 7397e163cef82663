package negotiation

import (
	"github.com/execution-hub/dsp-connector/internal/domain/protocol"
)

const (
	EventAccepted  = "ACCEPTED"
	EventFinalized = "FINALIZED"
)

const (
	TypeContractRequestMessage      = "dspace:ContractRequestMessage"
	TypeContractOfferMessage        = "dspace:ContractOfferMessage"
	TypeContractNegotiationEvent    = "dspace:ContractNegotiationEventMessage"
	TypeContractAgreementMessage    = "dspace:ContractAgreementMessage"
	TypeContractAgreementVerify     = "dspace:ContractAgreementVerificationMessage"
	TypeContractNegotiationTerminal = "dspace:ContractNegotiationTerminationMessage"
)

type ContractRequestMessage struct {
	protocol.Envelope
	Offer           ContractOffer `json:"offer"`
	CallbackAddress string        `json:"callbackAddress,omitempty"`
}

func (ContractRequestMessage) MessageType() string { return TypeContractRequestMessage }

type ContractOfferMessage struct {
	protocol.Envelope
	Offer           ContractOffer `json:"offer"`
	CallbackAddress string        `json:"callbackAddress,omitempty"`
}

func (ContractOfferMessage) MessageType() string { return TypeContractOfferMessage }

type ContractNegotiationEventMessage struct {
	protocol.Envelope
	EventType string `json:"eventType"`
}

func (ContractNegotiationEventMessage) MessageType() string { return TypeContractNegotiationEvent }

type ContractAgreementMessage struct {
	protocol.Envelope
	Agreement       ContractAgreement `json:"agreement"`
	CallbackAddress string            `json:"callbackAddress,omitempty"`
}

func (ContractAgreementMessage) MessageType() string { return TypeContractAgreementMessage }

type ContractAgreementVerificationMessage struct {
	protocol.Envelope
}

func (ContractAgreementVerificationMessage) MessageType() string { return TypeContractAgreementVerify }

type ContractNegotiationTerminationMessage struct {
	protocol.Envelope
	Code   string `json:"code,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (ContractNegotiationTerminationMessage) MessageType() string {
	return TypeContractNegotiationTerminal
}

// Acknowledgement is the counterparty's reply to a request or offer.
type Acknowledgement struct {
	ConsumerPid string `json:"consumerPid"`
	ProviderPid string `json:"providerPid"`
	State       string `json:"state,omitempty"`
}
