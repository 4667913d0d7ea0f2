// Package events publishes persisted state changes to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/MrJamesThe3rd/payments/internal/payment"
)

const DefaultTopic = "payment.state.changed"

// MessageWriter is the part of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Publisher struct {
	writer  MessageWriter
	timeout time.Duration
}

// NewWriter builds a writer for topic, or DefaultTopic when topic is empty.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	if topic == "" {
		topic = DefaultTopic
	}

	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

func NewPublisher(w MessageWriter, timeout time.Duration) *Publisher {
	return &Publisher{writer: w, timeout: timeout}
}

type stateChangedEvent struct {
	TransactionID string `json:"transaction_id"`
	ExternalID    string `json:"external_id,omitempty"`
	PreviousState string `json:"previous_state"`
	State         string `json:"state"`
	Source        string `json:"source"`
	Version       int64  `json:"version"`
	Timestamp     string `json:"timestamp"`
}

// Notify writes one message keyed by transaction id, so every change of one
// transaction lands on the same partition in order.
func (p *Publisher) Notify(ctx context.Context, change payment.StateChange) error {
	value, err := json.Marshal(stateChangedEvent{
		TransactionID: change.TransactionID.String(),
		ExternalID:    change.ExternalID,
		PreviousState: string(change.From),
		State:         string(change.To),
		Source:        string(change.Source),
		Version:       change.Version,
		Timestamp:     change.OccurredAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("encoding state change: %w", err)
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(change.TransactionID.String()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "source", Value: []byte(change.Source)},
		},
	})
	if err != nil {
		return fmt.Errorf("publishing state change: %w", err)
	}

	return nil
}
