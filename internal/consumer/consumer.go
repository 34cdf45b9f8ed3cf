// Package consumer provides Kafka consumer functionality for the inbound
// transcripts topic.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"commwatch/internal/events"
	kafkautil "commwatch/pkg/kafka"
)

// Consumer wraps a Kafka reader and provides a simple interface for
// consuming transcript messages. Offsets are committed explicitly, only
// after a message has been fully processed, so a crash mid-processing
// redelivers the message.
type Consumer struct {
	reader *kafka.Reader
	topic  string
}

// NewConsumer creates a new Kafka consumer with the specified brokers, topic, and group ID.
// The consumer is configured for at-least-once delivery semantics.
func NewConsumer(brokers string, topic string, groupID string) (*Consumer, error) {
	if err := kafkautil.ValidateConsumerParams(brokers, topic, groupID); err != nil {
		return nil, err
	}

	brokerList := kafkautil.ParseBrokers(brokers)

	slog.Info("Initializing Kafka consumer",
		"brokers", brokerList,
		"topic", topic,
		"group_id", groupID,
	)

	reader := kafka.NewReader(kafkautil.NewReaderConfig(brokerList, topic, groupID))

	return &Consumer{
		reader: reader,
		topic:  topic,
	}, nil
}

// FetchMessage blocks until the next raw message is available. The message
// is not considered consumed until Commit is called for it.
func (c *Consumer) FetchMessage(ctx context.Context) (*kafka.Message, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch message from Kafka: %w", err)
	}
	return &msg, nil
}

// Commit acknowledges a message, removing it from redelivery.
func (c *Consumer) Commit(ctx context.Context, msg *kafka.Message) error {
	return c.reader.CommitMessages(ctx, *msg)
}

// Close gracefully closes the Kafka reader and releases resources.
func (c *Consumer) Close() error {
	slog.Info("Closing Kafka consumer", "topic", c.topic)
	if err := c.reader.Close(); err != nil {
		slog.Error("Error closing Kafka consumer", "error", err)
		return err
	}
	slog.Info("Kafka consumer closed successfully")
	return nil
}

// DecodeTranscript deserializes a transcript message body. A pub/sub
// envelope (an object carrying the real payload as a JSON string under
// "Message") is unwrapped transparently. Returns an error for malformed
// bodies; callers discard those messages immediately rather than retry.
func DecodeTranscript(body []byte) (*events.TranscriptMessage, error) {
	// Detect an envelope without committing to its full schema.
	var envelope struct {
		Message  string `json:"Message"`
		TopicArn string `json:"TopicArn"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Message != "" && envelope.TopicArn != "" {
		body = []byte(envelope.Message)
	}

	var msg events.TranscriptMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transcript message: %w", err)
	}
	if msg.CommunicationType == "" {
		return nil, fmt.Errorf("transcript message missing communication_type")
	}
	if msg.PrimaryKey == "" {
		return nil, fmt.Errorf("transcript message missing primary_key")
	}
	return &msg, nil
}
