// Package events publishes job lifecycle events to Kafka so downstream
// consumers (the mobile app's push pipeline, analytics) learn when a
// session's audio is ready without polling the API.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// JobEvent is the wire format for job lifecycle notifications.
type JobEvent struct {
	JobID      uuid.UUID `json:"job_id"`
	Event      string    `json:"event"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Producer wraps a Kafka producer
type Producer struct {
	writer *kafka.Writer
	topic  string
}

// NewProducer creates a new Kafka producer
func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireOne,
		Async:                  false,
	}

	log.Info().
		Strs("brokers", brokers).
		Str("topic", topic).
		Msg("Kafka producer initialized")

	return &Producer{
		writer: writer,
		topic:  topic,
	}
}

// PublishJobEvent publishes a job lifecycle event, keyed by job ID so all
// events for one job land on the same partition in order.
func (p *Producer) PublishJobEvent(ctx context.Context, jobID uuid.UUID, event string) error {
	msg := JobEvent{
		JobID:      jobID,
		Event:      event,
		OccurredAt: time.Now().UTC(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal job event: %w", err)
	}

	kafkaMsg := kafka.Message{
		Key:   []byte(jobID.String()),
		Value: data,
	}

	if err := p.writer.WriteMessages(ctx, kafkaMsg); err != nil {
		return fmt.Errorf("failed to write job event to kafka: %w", err)
	}

	log.Info().
		Str("job_id", jobID.String()).
		Str("event", event).
		Str("topic", p.topic).
		Msg("Job event published to Kafka")

	return nil
}

// Close closes the producer
func (p *Producer) Close() error {
	log.Info().Msg("Closing Kafka producer")
	return p.writer.Close()
}
