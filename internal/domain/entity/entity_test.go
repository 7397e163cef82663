package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransitionResetsCounters(t *testing.T) {
	e := &StatefulEntity{}
	e.Init("p1", TypeConsumer, 50)
	e.MarkRetry()
	e.MarkRetry()
	e.SetPending(true)
	assert.Equal(t, 2, e.StateCount)

	e.TransitionTo(100)
	assert.Equal(t, 100, e.State)
	assert.Equal(t, 0, e.StateCount)
	assert.False(t, e.Pending)
	assert.NotZero(t, e.StateTimestamp)
}

func TestProtocolMessages(t *testing.T) {
	var p ProtocolMessages
	assert.False(t, p.IsAlreadyReceived("m1"))
	p.MessageReceived("m1")
	p.MessageReceived("m1")
	assert.True(t, p.IsAlreadyReceived("m1"))
	assert.Len(t, p.Received, 1)
	assert.False(t, p.IsAlreadyReceived(""))

	p.MessageSent("out-1")
	assert.Equal(t, "out-1", p.LastSent)
}

func TestTypeValid(t *testing.T) {
	assert.True(t, TypeConsumer.Valid())
	assert.True(t, TypeProvider.Valid())
	assert.False(t, Type("BROKER").Valid())
}
