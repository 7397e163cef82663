package sse

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/execution-hub/dsp-connector/internal/domain/entity"
	"github.com/execution-hub/dsp-connector/internal/domain/negotiation"
	"github.com/execution-hub/dsp-connector/internal/domain/transfer"
)

func TestHubTopicRouting(t *testing.T) {
	hub := NewHub()
	all := NewClient("all", nil)
	neg := NewClient("neg", []string{TopicNegotiation})
	hub.Register(all)
	hub.Register(neg)
	require.Equal(t, 2, hub.ClientCount())

	hub.Publish(NewMessage(TopicTransfer, "started", json.RawMessage(`{}`)))
	hub.Publish(NewMessage(TopicNegotiation, "agreed", json.RawMessage(`{}`)))

	assert.Len(t, all.Messages, 2)
	require.Len(t, neg.Messages, 1)
	assert.Equal(t, "agreed", (<-neg.Messages).Event)
}

func TestHubSendToClient(t *testing.T) {
	hub := NewHub()
	c := &Client{ID: "c1", Messages: make(chan *Message, 1)}
	hub.Register(c)

	require.NoError(t, hub.SendToClient("c1", NewMessage(TopicTransfer, "e", nil)))
	assert.ErrorIs(t, hub.SendToClient("c1", NewMessage(TopicTransfer, "e", nil)), ErrChannelFull)
	assert.ErrorIs(t, hub.SendToClient("missing", NewMessage(TopicTransfer, "e", nil)), ErrClientNotFound)
}

func TestHubUnregisterClosesChannel(t *testing.T) {
	hub := NewHub()
	c := NewClient("c1", nil)
	hub.Register(c)
	hub.Unregister("c1")

	_, open := <-c.Messages
	assert.False(t, open)
	assert.Equal(t, 0, hub.ClientCount())

	hub.Register(NewClient("c2", nil))
	hub.Stop()
	assert.Equal(t, 0, hub.ClientCount())
}

func TestListenersPublishTransitions(t *testing.T) {
	hub := NewHub()
	c := NewClient("c1", nil)
	hub.Register(c)

	n := negotiation.New(negotiation.Fields{
		ID:             "neg-1",
		Type:           entity.TypeConsumer,
		State:          negotiation.StateAgreed,
		CorrelationID:  "prov-1",
		CounterPartyID: "provider",
	})
	var nl negotiation.Listener = NewNegotiationListener(hub, zerolog.Nop())
	negotiation.Notify(nl, n)

	p := transfer.New(transfer.Fields{ID: "tp-1", Type: entity.TypeProvider, State: transfer.StateStarted, CounterPartyID: "consumer"})
	var tl transfer.Listener = NewTransferListener(hub, zerolog.Nop())
	transfer.Notify(tl, p)

	require.Len(t, c.Messages, 2)
	first := <-c.Messages
	assert.Equal(t, TopicNegotiation, first.Topic)
	assert.Equal(t, "agreed", first.Event)
	var ev ProcessEvent
	require.NoError(t, json.Unmarshal(first.Data, &ev))
	assert.Equal(t, ProcessEvent{ID: "neg-1", Type: "CONSUMER", State: "AGREED", CorrelationID: "prov-1", CounterPartyID: "provider"}, ev)

	second := <-c.Messages
	assert.Equal(t, TopicTransfer, second.Topic)
	assert.Equal(t, "started", second.Event)
}
