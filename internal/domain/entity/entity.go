package entity

import (
	"slices"
	"time"
)

// Type is the role a connector plays in a process.
type Type string

const (
	TypeConsumer Type = "CONSUMER"
	TypeProvider Type = "PROVIDER"
)

// Valid reports whether t is a known role.
func (t Type) Valid() bool {
	return t == TypeConsumer || t == TypeProvider
}

// ProtocolMessages tracks inbound message ids and the last outbound id of a process.
type ProtocolMessages struct {
	LastSent string   `json:"lastSent,omitempty"`
	Received []string `json:"received,omitempty"`
}

func (p *ProtocolMessages) IsAlreadyReceived(id string) bool {
	if id == "" {
		return false
	}
	return slices.Contains(p.Received, id)
}

func (p *ProtocolMessages) MessageReceived(id string) {
	if id == "" || p.IsAlreadyReceived(id) {
		return
	}
	p.Received = append(p.Received, id)
}

func (p *ProtocolMessages) MessageSent(id string) {
	p.LastSent = id
}

// StatefulEntity is the persistent core shared by negotiations and transfers.
// Lease metadata is owned by the store and never serialized here.
type StatefulEntity struct {
	ID                  string            `json:"id"`
	State               int               `json:"state"`
	StateCount          int               `json:"stateCount"`
	StateTimestamp      int64             `json:"stateTimestamp"`
	Type                Type              `json:"type"`
	CorrelationID       string            `json:"correlationId,omitempty"`
	CounterPartyID      string            `json:"counterPartyId"`
	CounterPartyAddress string            `json:"counterPartyAddress"`
	Protocol            string            `json:"protocol"`
	Pending             bool              `json:"pending"`
	ProtocolMessages    ProtocolMessages  `json:"protocolMessages"`
	ErrorDetail         string            `json:"errorDetail,omitempty"`
	TraceContext        map[string]string `json:"traceContext,omitempty"`
	CreatedAt           int64             `json:"createdAt"`
	UpdatedAt           int64             `json:"updatedAt"`
}

// Stateful constrains the types the state machine and stores can manage.
// Implementations are pointer types so an absent entity is the zero value.
type Stateful interface {
	comparable
	Entity() *StatefulEntity
}

func (e *StatefulEntity) Entity() *StatefulEntity {
	return e
}

// TransitionTo moves the entity to state, clearing the retry counter and the pending flag.
func (e *StatefulEntity) TransitionTo(state int) {
	now := time.Now().UnixMilli()
	e.State = state
	e.StateCount = 0
	e.StateTimestamp = now
	e.Pending = false
	e.UpdatedAt = now
}

// MarkRetry records a failed attempt in the current state.
func (e *StatefulEntity) MarkRetry() {
	now := time.Now().UnixMilli()
	e.StateCount++
	e.StateTimestamp = now
	e.UpdatedAt = now
}

// SetPending suspends or resumes scheduler pickup.
func (e *StatefulEntity) SetPending(pending bool) {
	e.Pending = pending
	e.UpdatedAt = time.Now().UnixMilli()
}

func (e *StatefulEntity) SetErrorDetail(detail string) {
	e.ErrorDetail = detail
}

// Init stamps a freshly built entity.
func (e *StatefulEntity) Init(id string, typ Type, state int) {
	now := time.Now().UnixMilli()
	e.ID = id
	e.Type = typ
	e.State = state
	e.StateCount = 0
	e.StateTimestamp = now
	e.CreatedAt = now
	e.UpdatedAt = now
}
