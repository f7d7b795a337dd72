package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// CallEventPublisher emits call lifecycle events to Kafka.
type CallEventPublisher struct {
	writer *kafka.Writer
}

// NewCallEventPublisher constructs a publisher for the given topic.
func NewCallEventPublisher(k *Kafka, topic string) *CallEventPublisher {
	return &CallEventPublisher{writer: k.NewWriter(topic)}
}

// PublishCallEvent writes the lifecycle message to Kafka.
func (p *CallEventPublisher) PublishCallEvent(ctx context.Context, msg CallEventMessage) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("call event publisher: marshal message: %w", err)
	}

	record := kafka.Message{
		Key:   msg.SessionID[:],
		Value: value,
		Time:  time.Now().UTC(),
	}

	if err := p.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("call event publisher: write message: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (p *CallEventPublisher) Close() error {
	return p.writer.Close()
}

// OutcomeEventPublisher emits recorded outcomes to Kafka.
type OutcomeEventPublisher struct {
	writer *kafka.Writer
}

// NewOutcomeEventPublisher constructs a publisher for the given topic.
func NewOutcomeEventPublisher(k *Kafka, topic string) *OutcomeEventPublisher {
	return &OutcomeEventPublisher{writer: k.NewWriter(topic)}
}

// PublishOutcome writes the outcome message to Kafka.
func (p *OutcomeEventPublisher) PublishOutcome(ctx context.Context, msg OutcomeEventMessage) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("outcome publisher: marshal message: %w", err)
	}

	record := kafka.Message{
		Key:   msg.UserID[:],
		Value: value,
		Time:  time.Now().UTC(),
	}

	if err := p.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("outcome publisher: write message: %w", err)
	}
	return nil
}

// Close closes the publisher.
func (p *OutcomeEventPublisher) Close() error {
	return p.writer.Close()
}
