package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/segmentio/kafka-go"

	"commwatch/internal/consumer"
	"commwatch/internal/oracle"
	"commwatch/pkg/metrics"
)

// work represents a unit of work for the worker pool.
type work struct {
	msg *kafka.Message
}

// Processor reads transcript messages and evaluates each against all of the
// tenant's active alerts.
type Processor struct {
	source  MessageSource
	alerts  AlertReader
	oracle  oracle.Evaluator
	pending TriggerSink
	metrics metrics.Recorder
	workers int
}

// NewProcessor creates a processor over the given dependencies. A nil
// recorder falls back to a no-op.
func NewProcessor(source MessageSource, alertReader AlertReader, eval oracle.Evaluator, pending TriggerSink, m metrics.Recorder, workers int) *Processor {
	if m == nil {
		m = &metrics.NoOpRecorder{}
	}
	if workers < 1 {
		workers = 1
	}
	return &Processor{
		source:  source,
		alerts:  alertReader,
		oracle:  eval,
		pending: pending,
		metrics: m,
		workers: workers,
	}
}

// Run reads transcript messages and processes them concurrently until the
// context is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	slog.Info("Starting transcript processing loop", "workers", p.workers)

	jobs := make(chan work, p.workers*2)
	var wg sync.WaitGroup

	// Start worker goroutines
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go p.runWorker(ctx, jobs, &wg)
	}

	// Read messages and dispatch to workers
	p.dispatchMessages(ctx, jobs)

	close(jobs)
	wg.Wait()
	slog.Info("Transcript processing loop stopped")
	return nil
}

// runWorker processes jobs from the channel until it's closed.
func (p *Processor) runWorker(ctx context.Context, jobs <-chan work, wg *sync.WaitGroup) {
	defer wg.Done()
	for job := range jobs {
		p.processOne(ctx, job.msg)
	}
}

// dispatchMessages reads messages from Kafka and dispatches them to workers.
func (p *Processor) dispatchMessages(ctx context.Context, jobs chan<- work) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			msg, err := p.source.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Error("Failed to fetch transcript message", "error", err)
				continue
			}
			p.metrics.RecordReceived()
			jobs <- work{msg: msg}
		}
	}
}

// processOne handles a single transcript message: decode, evaluate against
// every active alert, record triggers, commit. The offset is committed only
// after all evaluations and upserts have finished, so a crash mid-message
// redelivers it. Malformed messages are committed immediately; redelivery
// cannot fix them.
func (p *Processor) processOne(ctx context.Context, msg *kafka.Message) {
	transcript, err := consumer.DecodeTranscript(msg.Value)
	if err != nil {
		slog.Error("Discarding malformed transcript message",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err,
		)
		p.metrics.IncrementCustom("malformed_messages")
		p.commit(ctx, msg)
		return
	}

	tenantID := transcript.TenantID()
	if tenantID == "" {
		slog.Warn("Transcript message has no tenant id, skipping",
			"communication_id", transcript.PrimaryKey,
		)
		p.metrics.IncrementCustom("messages_skipped")
		p.commit(ctx, msg)
		return
	}

	if transcript.TranscriptText() == "" {
		slog.Warn("Transcript message has no transcript text, skipping",
			"tenant_id", tenantID,
			"communication_id", transcript.PrimaryKey,
		)
		p.metrics.IncrementCustom("messages_skipped")
		p.commit(ctx, msg)
		return
	}

	activeAlerts, err := p.alerts.GetActiveAlerts(ctx, tenantID)
	if err != nil {
		// Transient by assumption. Leave the message uncommitted so it is
		// redelivered once the database recovers.
		slog.Error("Failed to load active alerts",
			"tenant_id", tenantID,
			"communication_id", transcript.PrimaryKey,
			"error", err,
		)
		p.metrics.RecordError()
		return
	}

	if len(activeAlerts) == 0 {
		slog.Debug("No active alerts for tenant",
			"tenant_id", tenantID,
			"communication_id", transcript.PrimaryKey,
		)
		p.metrics.RecordProcessed()
		p.commit(ctx, msg)
		return
	}

	evaluations := p.evaluateAll(ctx, activeAlerts, transcript.TranscriptText())

	upsertFailed := false
	for _, ev := range evaluations {
		if ev.err != nil {
			slog.Error("Alert evaluation failed",
				"alert_id", ev.alert.AlertID,
				"tenant_id", tenantID,
				"communication_id", transcript.PrimaryKey,
				"error", ev.err,
			)
			p.metrics.IncrementCustom("oracle_failures")
			continue
		}
		if !ev.result.ShouldAlert {
			continue
		}

		p.metrics.IncrementCustom("alerts_triggered")
		if err := p.pending.Upsert(ctx, ev.alert, ev.result, transcript.PrimaryKey, transcript.CommunicationType); err != nil {
			slog.Error("Failed to record triggered alert",
				"alert_id", ev.alert.AlertID,
				"communication_id", transcript.PrimaryKey,
				"error", err,
			)
			p.metrics.RecordError()
			upsertFailed = true
		}
	}

	if upsertFailed {
		// A trigger would be lost if we acknowledged now. Leave the message
		// uncommitted; the pending store merge makes the retry idempotent.
		return
	}

	p.metrics.RecordProcessed()
	p.commit(ctx, msg)
}

func (p *Processor) commit(ctx context.Context, msg *kafka.Message) {
	if err := p.source.Commit(ctx, msg); err != nil {
		slog.Error("Failed to commit message offset",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err,
		)
		p.metrics.RecordError()
	}
}
