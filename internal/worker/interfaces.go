// Package worker provides the transcript processing orchestration: a pool
// of consumers that evaluate each inbound communication against all of its
// tenant's alerts and record the triggered ones for batched notification.
package worker

import (
	"context"

	"github.com/segmentio/kafka-go"

	"commwatch/internal/alerts"
)

// MessageSource supplies raw transcript messages from a message queue.
type MessageSource interface {
	// FetchMessage blocks until the next message is available.
	FetchMessage(ctx context.Context) (*kafka.Message, error)

	// Commit acknowledges a message after it has been fully processed.
	Commit(ctx context.Context, msg *kafka.Message) error

	// Close closes the source and releases resources.
	Close() error
}

// AlertReader provides read access to a tenant's active alert definitions.
type AlertReader interface {
	GetActiveAlerts(ctx context.Context, tenantID string) ([]*alerts.StoredAlert, error)
}

// TriggerSink records that an alert is currently triggered. Repeated calls
// for the same alert merge into one pending record.
type TriggerSink interface {
	Upsert(ctx context.Context, alert *alerts.StoredAlert, result *alerts.ProcessingResult, communicationID, communicationType string) error
}
