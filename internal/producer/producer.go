// Package producer provides Kafka producer functionality for the outbound
// alert notifications topic.
package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"commwatch/internal/events"
	kafkautil "commwatch/pkg/kafka"
)

// Producer wraps a Kafka writer and provides a simple interface for
// publishing alert notifications.
type Producer struct {
	writer *kafka.Writer
	topic  string
}

// NewProducer creates a new Kafka producer with the specified brokers and topic.
// The producer is configured for at-least-once delivery semantics with synchronous writes.
func NewProducer(brokers string, topic string) (*Producer, error) {
	if err := kafkautil.ValidateProducerParams(brokers, topic); err != nil {
		return nil, err
	}

	brokerList := kafkautil.ParseBrokers(brokers)

	slog.Info("Initializing Kafka producer",
		"brokers", brokerList,
		"topic", topic,
	)

	// Hash balancer keys partitions by tenant_id for tenant locality.
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokerList...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: kafkautil.WriteTimeout,
		RequiredAcks: kafka.RequireOne,
		Async:        false, // Synchronous writes for reliability and error handling
	}

	return &Producer{
		writer: writer,
		topic:  topic,
	}, nil
}

// buildMessage creates a Kafka message from an alert notification.
// tenant_id and user_id ride as headers so downstream consumers can
// filter without deserializing the payload.
func buildMessage(n *events.AlertNotification) (kafka.Message, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal alert notification: %w", err)
	}

	return kafka.Message{
		Key:   []byte(n.TenantID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "tenant_id", Value: []byte(n.TenantID)},
			{Key: "user_id", Value: []byte(n.UserID)},
		},
		Time: time.Now(),
	}, nil
}

// Publish serializes an alert notification to JSON and publishes it.
// Returns an error if serialization or publishing fails.
func (p *Producer) Publish(ctx context.Context, n *events.AlertNotification) error {
	msg, err := buildMessage(n)
	if err != nil {
		slog.Error("Failed to build notification message",
			"sent_alert_id", n.SentAlertID,
			"alert_id", n.AlertID,
			"error", err,
		)
		return err
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		slog.Error("Failed to write message to Kafka",
			"sent_alert_id", n.SentAlertID,
			"topic", p.topic,
			"error", err,
		)
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}

	slog.Info("Published alert notification",
		"sent_alert_id", n.SentAlertID,
		"alert_id", n.AlertID,
		"tenant_id", n.TenantID,
		"communications", len(n.CommunicationIDs),
	)

	return nil
}

// Close gracefully closes the Kafka writer and releases resources.
func (p *Producer) Close() error {
	slog.Info("Closing Kafka producer", "topic", p.topic)
	if err := p.writer.Close(); err != nil {
		slog.Error("Error closing Kafka producer", "error", err)
		return err
	}
	slog.Info("Kafka producer closed successfully")
	return nil
}
