package messaging

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/worldsmith/engine/internal/connection"
)

// Broker is the publish/subscribe surface the delivery helpers need.
// Satisfied by NatsServer; faked in tests.
type Broker interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler func(data []byte)) (func(), error)
}

// ConnectionSubject is the per-connection delivery subject. Transport
// frontends subscribe to it to relay messages to their client.
func ConnectionSubject(id uuid.UUID) string {
	return fmt.Sprintf("conn.%s", id.String())
}

// ClientDelivery routes per-connection messages over the broker, which
// lets transport frontends live in a different process than the engine.
type ClientDelivery struct {
	broker Broker
}

func NewClientDelivery(broker Broker) *ClientDelivery {
	return &ClientDelivery{broker: broker}
}

// SenderFor returns the Sender the registry should hold for a connection.
func (d *ClientDelivery) SenderFor(id uuid.UUID) connection.Sender {
	subject := ConnectionSubject(id)
	return func(ctx context.Context, data []byte) error {
		return d.broker.Publish(subject, data)
	}
}

// SubscribeConnection is the transport side: handler receives every
// message addressed to the connection.
func (d *ClientDelivery) SubscribeConnection(id uuid.UUID, handler func(data []byte)) (func(), error) {
	return d.broker.Subscribe(ConnectionSubject(id), handler)
}
