package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cabtrack/internal/general/contracts"

	amqp "github.com/rabbitmq/amqp091-go"
)

// SnapshotPublisher fans driver snapshots out to the snapshot exchange.
type SnapshotPublisher struct {
	Client *Client
}

// NewSnapshotPublisher constructs a SnapshotPublisher using the provided client.
func NewSnapshotPublisher(client *Client) *SnapshotPublisher {
	return &SnapshotPublisher{Client: client}
}

// PublishSnapshot marshals the snapshot and publishes it to the fanout exchange.
func (publisher *SnapshotPublisher) PublishSnapshot(msg contracts.SnapshotQueueMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return publisher.Client.PublishMessage(contracts.ExchangeSnapshotFanout, "", body)
}

// PublishMessage publishes JSON messages with persistence and confirm tracking.
func (client *Client) PublishMessage(exchange, routingKey string, body []byte) error {
	client.mu.RLock()
	ch := client.pubChan
	conn := client.conn
	client.mu.RUnlock()

	// quick fail if no channel
	if conn == nil || conn.IsClosed() {
		return errors.New("rabbitmq: connection is not open")
	}
	if ch == nil || ch.IsClosed() {
		return errors.New("rabbitmq: publish channel is not open")
	}

	client.pubMu.Lock()
	defer client.pubMu.Unlock()
	confirms := client.pubConfirms

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := ch.PublishWithContext(ctx, exchange, routingKey, true /* mandatory */, false, /* immediate */
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
		},
	); err != nil {
		return err
	}

	select {
	case c := <-confirms:
		if !c.Ack {
			return fmt.Errorf("rabbitmq: publish not acknowledged")
		}
	case <-ctx.Done():
		// keep the confirm stream aligned: try to consume exactly one confirm even if we return a timeout to the caller
		select {
		case c := <-confirms:
			if !c.Ack {
				return fmt.Errorf("rabbitmq: publish not acknowledged after timeout")
			}
		case <-time.After(2 * time.Second):
			// give up trying to read from the confirms channel
		}

		return ctx.Err()
	}

	return nil
}
