// Package flusher drains pending alerts whose batch window has elapsed:
// it publishes one aggregated notification per alert, records it in the
// sent history, and clears the pending record.
package flusher

import (
	"context"
	"time"

	"commwatch/internal/alerts"
	"commwatch/internal/events"
	"commwatch/internal/pending"
)

// PendingReader provides scan and delete access to the pending alert store.
type PendingReader interface {
	NumShards() int
	ScanShard(ctx context.Context, shard int, cutoff time.Time) ([]*pending.Record, error)
	Remove(ctx context.Context, rec *pending.Record) error
}

// NotificationPublisher publishes aggregated alert notifications.
type NotificationPublisher interface {
	Publish(ctx context.Context, n *events.AlertNotification) error
}

// HistoryWriter records sent notifications and writes back alert state.
type HistoryWriter interface {
	InsertSentAlert(ctx context.Context, n *events.AlertNotification) error
	UpdateAlertState(ctx context.Context, alertID string, state alerts.State) error
}
