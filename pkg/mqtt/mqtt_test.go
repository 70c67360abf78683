package mqtt

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gpiokey/pkg/port"
)

func TestLinePublishesEdges(t *testing.T) {
	m := New()
	var now int64

	line := m.Line("key/irq", func() int64 { return now })

	line.Set(port.Low)
	now = 10
	line.Set(port.High)
	now = 60
	line.Set(port.High)
	now = 110
	line.Set(port.Low)

	var got []LineState
	for len(m.C) > 0 {
		msg := <-m.C
		assert.Equal(t, "key/irq", msg.Topic)
		assert.True(t, msg.Retained)

		var s LineState
		require.NoError(t, json.Unmarshal(msg.Payload, &s))
		got = append(got, s)
	}

	assert.Equal(t, []LineState{
		{Level: 0, Edge: "none", Now: 0},
		{Level: 1, Edge: "rising", Now: 10},
		{Level: 0, Edge: "falling", Now: 110},
	}, got)
}

func TestConnectWithoutBroker(t *testing.T) {
	m := New()
	assert.NoError(t, m.Connect("", ""))
	assert.NoError(t, m.Disconnect())
}

func TestServiceWithoutBroker(t *testing.T) {
	m := New()
	done := make(chan struct{})

	go func() {
		m.Service()
		close(done)
	}()

	m.C <- Message{Topic: "x", Payload: []byte("1")}
	require.NoError(t, m.Close())
	<-done
}
