// Package mqtt publishes output line transitions to an mqtt broker.
package mqtt

import (
	"encoding/json"

	mqttlib "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/womat/debug"

	"gpiokey/pkg/port"
)

// quiesce is the specified number of milliseconds to wait for existing work to be completed.
const (
	quiesce = 250
	// queue is the capacity of channel C.
	queue = 64
)

// Handler contains the handler of the mqtt broker.
type Handler struct {
	handler mqttlib.Client
	// C is the channel to service the mqtt message
	// sending a message to channel C will send the message.
	C chan Message
}

// Message contains the properties of the mqtt message.
type Message struct {
	Topic    string
	Payload  []byte
	Qos      byte
	Retained bool
}

// LineState is the payload of a line transition.
type LineState struct {
	Level int    `json:"level"`
	Edge  string `json:"edge"`
	// Now is the simulated time of the transition (ms).
	Now int64 `json:"now"`
}

// New generate a new mqtt broker client.
func New() *Handler {
	return &Handler{
		C: make(chan Message, queue),
	}
}

// Connect connects to the mqtt broker.
// If no broker is defined, no mqtt message are send.
// If clientID is empty, a random client id is used.
func (m *Handler) Connect(broker, clientID string) error {
	if broker == "" {
		return nil
	}

	if clientID == "" {
		clientID = "gpiokey-" + uuid.NewString()
	}

	opts := mqttlib.NewClientOptions().AddBroker(broker).SetClientID(clientID)
	m.handler = mqttlib.NewClient(opts)
	return m.ReConnect()
}

// ReConnect reconnects to the defined mqtt broker.
func (m *Handler) ReConnect() error {
	t := m.handler.Connect()
	<-t.Done()
	return t.Error()
}

// Disconnect will end the connection to the broker.
func (m *Handler) Disconnect() error {
	if m.handler == nil {
		return nil
	}

	m.handler.Disconnect(quiesce)
	return nil
}

// Line returns an output line sink which publishes every level change to topic.
// Repeated levels (e.g. a retrigger while High) are not published.
// now returns the simulated time stamp of the message.
func (m *Handler) Line(topic string, now func() int64) port.Line {
	last := port.Invalid

	return port.LineFunc(func(level port.StateType) {
		if level == last {
			return
		}
		edge := last.Edge(level)
		last = level

		b, err := json.Marshal(LineState{Level: int(level), Edge: edge.String(), Now: now()})
		if err != nil {
			debug.ErrorLog.Printf("mqtt marshal: %v", err)
			return
		}

		// the simulation must never wait for the broker
		select {
		case m.C <- Message{Topic: topic, Payload: b, Retained: true}:
		default:
			debug.ErrorLog.Printf("mqtt queue full, drop %s edge at %d ms", edge, now())
		}
	})
}

// Service listen to a message on the channel C and send the message to mqtt.
// Messages are published in the order they are queued, so the edges of a line arrive in sequence.
// If no handler or topic is defined, the message will be ignored.
func (m *Handler) Service() {
	for msg := range m.C {
		if m.handler == nil || msg.Topic == "" {
			continue
		}

		if !m.handler.IsConnected() {
			debug.DebugLog.Printf("mqtt broker isn't connected, reconnect it")

			if err := m.ReConnect(); err != nil {
				debug.ErrorLog.Printf("can't reconnect to mqtt broker %v", err)
				continue
			}
		}

		debug.DebugLog.Printf("publishing %v bytes to topic %v", len(msg.Payload), msg.Topic)
		t := m.handler.Publish(msg.Topic, msg.Qos, msg.Retained, msg.Payload)

		// the asynchronous nature of this library makes it easy to forget to check for errors.
		go func(topic string) {
			<-t.Done()
			if err := t.Error(); err != nil {
				debug.ErrorLog.Printf("publishing topic %v: %v", topic, err)
			}
		}(msg.Topic)
	}
}

// Close stops Service.
func (m *Handler) Close() error {
	close(m.C)
	return nil
}
