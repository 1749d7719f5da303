package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// TransitionPublisher publishes queue-entry state transitions.
type TransitionPublisher struct {
	writer *kafka.Writer
}

// NewTransitionPublisher constructs a publisher for the given topic.
func NewTransitionPublisher(k *Kafka, topic string) *TransitionPublisher {
	return &TransitionPublisher{writer: k.NewWriter(topic)}
}

// PublishTransition emits a transition message keyed by entry id.
func (p *TransitionPublisher) PublishTransition(ctx context.Context, msg TransitionMessage) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("transition publisher: marshal message: %w", err)
	}
	record := kafka.Message{
		Key:   msg.EntryID[:],
		Value: value,
		Time:  time.Now().UTC(),
	}
	if err := p.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("transition publisher: write message: %w", err)
	}
	return nil
}

// Close closes the publisher.
func (p *TransitionPublisher) Close() error {
	return p.writer.Close()
}
