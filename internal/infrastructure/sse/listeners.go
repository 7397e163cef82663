package sse

import (
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/execution-hub/dsp-connector/internal/domain/entity"
	"github.com/execution-hub/dsp-connector/internal/domain/negotiation"
	"github.com/execution-hub/dsp-connector/internal/domain/transfer"
)

// ProcessEvent is the payload published for every committed transition.
type ProcessEvent struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	State          string `json:"state"`
	StateCount     int    `json:"stateCount"`
	CorrelationID  string `json:"correlationId,omitempty"`
	CounterPartyID string `json:"counterPartyId"`
	ErrorDetail    string `json:"errorDetail,omitempty"`
}

func newEvent(e *entity.StatefulEntity, state string) ProcessEvent {
	return ProcessEvent{
		ID:             e.ID,
		Type:           string(e.Type),
		State:          state,
		StateCount:     e.StateCount,
		CorrelationID:  e.CorrelationID,
		CounterPartyID: e.CounterPartyID,
		ErrorDetail:    e.ErrorDetail,
	}
}

func publish(h *Hub, logger zerolog.Logger, topic, event string, payload ProcessEvent) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Error().Err(err).Str("process_id", payload.ID).Msg("failed to encode event")
		return
	}
	h.Publish(NewMessage(topic, event, data))
}

// NegotiationListener streams negotiation transitions to the hub.
type NegotiationListener struct {
	hub    *Hub
	logger zerolog.Logger
}

func NewNegotiationListener(hub *Hub, logger zerolog.Logger) *NegotiationListener {
	return &NegotiationListener{hub: hub, logger: logger}
}

func (l *NegotiationListener) emit(event string, n *negotiation.ContractNegotiation) {
	publish(l.hub, l.logger, TopicNegotiation, event, newEvent(&n.StatefulEntity, n.CurrentState().String()))
}

func (l *NegotiationListener) Initiated(n *negotiation.ContractNegotiation)  { l.emit("initiated", n) }
func (l *NegotiationListener) Requested(n *negotiation.ContractNegotiation)  { l.emit("requested", n) }
func (l *NegotiationListener) Offered(n *negotiation.ContractNegotiation)    { l.emit("offered", n) }
func (l *NegotiationListener) Accepted(n *negotiation.ContractNegotiation)   { l.emit("accepted", n) }
func (l *NegotiationListener) Agreed(n *negotiation.ContractNegotiation)     { l.emit("agreed", n) }
func (l *NegotiationListener) Verified(n *negotiation.ContractNegotiation)   { l.emit("verified", n) }
func (l *NegotiationListener) Finalized(n *negotiation.ContractNegotiation)  { l.emit("finalized", n) }
func (l *NegotiationListener) Terminated(n *negotiation.ContractNegotiation) { l.emit("terminated", n) }

// TransferListener streams transfer transitions to the hub.
type TransferListener struct {
	hub    *Hub
	logger zerolog.Logger
}

func NewTransferListener(hub *Hub, logger zerolog.Logger) *TransferListener {
	return &TransferListener{hub: hub, logger: logger}
}

func (l *TransferListener) emit(event string, p *transfer.Process) {
	publish(l.hub, l.logger, TopicTransfer, event, newEvent(&p.StatefulEntity, p.CurrentState().String()))
}

func (l *TransferListener) Initiated(p *transfer.Process)  { l.emit("initiated", p) }
func (l *TransferListener) Requested(p *transfer.Process)  { l.emit("requested", p) }
func (l *TransferListener) Started(p *transfer.Process)    { l.emit("started", p) }
func (l *TransferListener) Suspended(p *transfer.Process)  { l.emit("suspended", p) }
func (l *TransferListener) Completed(p *transfer.Process)  { l.emit("completed", p) }
func (l *TransferListener) Terminated(p *transfer.Process) { l.emit("terminated", p) }
