package flusher

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"commwatch/internal/config"
	"commwatch/internal/events"
	"commwatch/internal/pending"
	"commwatch/pkg/metrics"
)

// Flusher periodically sweeps the pending store shards and notifies for
// every record whose batch window has elapsed.
type Flusher struct {
	store     PendingReader
	publisher NotificationPublisher
	history   HistoryWriter
	windows   config.BatchWindows
	interval  time.Duration
	metrics   metrics.Recorder

	// now is swappable for tests.
	now func() time.Time
}

// New creates a flusher over the given dependencies. A nil recorder falls
// back to a no-op.
func New(store PendingReader, publisher NotificationPublisher, history HistoryWriter, windows config.BatchWindows, interval time.Duration, m metrics.Recorder) *Flusher {
	if m == nil {
		m = &metrics.NoOpRecorder{}
	}
	return &Flusher{
		store:     store,
		publisher: publisher,
		history:   history,
		windows:   windows,
		interval:  interval,
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps all shards on a fixed interval until the context is cancelled.
// An immediate sweep runs on startup so a restart doesn't delay overdue
// notifications by a full interval.
func (f *Flusher) Run(ctx context.Context) error {
	slog.Info("Starting flush loop",
		"sweep_interval", f.interval,
		"shards", f.store.NumShards(),
	)

	f.SweepAll(ctx)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Flush loop stopped")
			return nil
		case <-ticker.C:
			f.SweepAll(ctx)
		}
	}
}

// SweepAll sweeps every shard once. A failing shard is logged and skipped;
// its records are picked up again on the next sweep.
func (f *Flusher) SweepAll(ctx context.Context) {
	for shard := 0; shard < f.store.NumShards(); shard++ {
		if err := f.sweepShard(ctx, shard); err != nil {
			slog.Error("Shard sweep failed", "shard", shard, "error", err)
			f.metrics.RecordError()
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// sweepShard flushes every due record in one shard. The scan cutoff uses
// the shortest configured window as a cheap superset filter; each record is
// then re-checked against its own communication type's window.
func (f *Flusher) sweepShard(ctx context.Context, shard int) error {
	now := f.now()
	records, err := f.store.ScanShard(ctx, shard, now.Add(-f.windows.Min()))
	if err != nil {
		return err
	}

	for _, rec := range records {
		window := f.windows.WindowFor(rec.CommunicationType)
		if now.Sub(rec.FirstSeenAt) < window {
			continue
		}
		// Flush failures are isolated per record. The record stays pending
		// and is retried on the next sweep.
		if err := f.flushRecord(ctx, rec, now); err != nil {
			slog.Error("Failed to flush pending alert",
				"alert_id", rec.AlertID,
				"shard", shard,
				"error", err,
			)
			f.metrics.RecordError()
		}
	}
	return nil
}

// flushRecord notifies for one due record: publish, record history, delete
// the pending record, then write back the latest state.
//
// A trigger that lands between the scan and the delete is lost: its
// communication id joins a record that is already being flushed and is
// removed with it. The notification for the flushed batch still goes out,
// so at most one communication id is missing from a subsequent batch.
func (f *Flusher) flushRecord(ctx context.Context, rec *pending.Record, now time.Time) error {
	n := &events.AlertNotification{
		SentAlertID:       uuid.NewString(),
		AlertID:           rec.AlertID,
		TenantID:          rec.TenantID,
		UserID:            rec.UserID,
		AlertReason:       rec.AlertReason,
		LatestState:       rec.LatestState,
		CommunicationIDs:  rec.CommunicationIDs,
		CommunicationType: rec.CommunicationType,
		FirstSeenAt:       rec.FirstSeenAt,
		SentAt:            now,
	}

	if err := f.publisher.Publish(ctx, n); err != nil {
		return err
	}
	f.metrics.RecordPublished()

	if err := f.history.InsertSentAlert(ctx, n); err != nil {
		return err
	}

	if err := f.store.Remove(ctx, rec); err != nil {
		return err
	}

	if err := f.history.UpdateAlertState(ctx, rec.AlertID, rec.LatestState); err != nil {
		return err
	}

	f.metrics.RecordProcessed()
	slog.Info("Flushed pending alert",
		"sent_alert_id", n.SentAlertID,
		"alert_id", rec.AlertID,
		"tenant_id", rec.TenantID,
		"communications", len(rec.CommunicationIDs),
		"pending_for", now.Sub(rec.FirstSeenAt),
	)
	return nil
}
