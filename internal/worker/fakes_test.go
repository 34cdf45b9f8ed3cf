package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/segmentio/kafka-go"

	"commwatch/internal/alerts"
)

// fakeSource is a test double for MessageSource. Tests mostly drive
// processOne directly, so FetchMessage serves from a fixed queue.
type fakeSource struct {
	mu        sync.Mutex
	queue     []*kafka.Message
	committed []int64
	commitErr error
}

func (f *fakeSource) FetchMessage(ctx context.Context) (*kafka.Message, error) {
	f.mu.Lock()
	if len(f.queue) > 0 {
		msg := f.queue[0]
		f.queue = f.queue[1:]
		f.mu.Unlock()
		return msg, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeSource) Commit(ctx context.Context, msg *kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return f.commitErr
	}
	f.committed = append(f.committed, msg.Offset)
	return nil
}

func (f *fakeSource) Close() error { return nil }

func (f *fakeSource) committedOffsets() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.committed...)
}

// fakeAlertReader is a test double for AlertReader.
type fakeAlertReader struct {
	alerts map[string][]*alerts.StoredAlert
	err    error
}

func (f *fakeAlertReader) GetActiveAlerts(ctx context.Context, tenantID string) ([]*alerts.StoredAlert, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.alerts[tenantID], nil
}

// evalCall records one oracle invocation.
type evalCall struct {
	alertID   string
	cacheHint string
}

// fakeOracle is a test double for oracle.Evaluator. Verdicts are keyed by
// alert id; unknown alerts do not trigger.
type fakeOracle struct {
	mu         sync.Mutex
	calls      []evalCall
	verdicts   map[string]*alerts.ProcessingResult
	failFor    map[string]error
	returnHint string
}

func (f *fakeOracle) Evaluate(ctx context.Context, def *alerts.AlertDefinition, currentState alerts.State, communication, cacheHint string) (*alerts.ProcessingResult, string, error) {
	alertID := def.UserPrompt // tests key verdicts by the alert's prompt

	f.mu.Lock()
	f.calls = append(f.calls, evalCall{alertID: alertID, cacheHint: cacheHint})
	f.mu.Unlock()

	if err, ok := f.failFor[alertID]; ok {
		return nil, "", err
	}
	if verdict, ok := f.verdicts[alertID]; ok {
		return verdict, f.returnHint, nil
	}
	return &alerts.ProcessingResult{ShouldAlert: false, UpdatedState: currentState}, f.returnHint, nil
}

func (f *fakeOracle) recordedCalls() []evalCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]evalCall(nil), f.calls...)
}

// fakeSink is a test double for TriggerSink.
type fakeSink struct {
	mu      sync.Mutex
	upserts []string
	failFor map[string]error
}

func (f *fakeSink) Upsert(ctx context.Context, alert *alerts.StoredAlert, result *alerts.ProcessingResult, communicationID, communicationType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failFor[alert.AlertID]; ok {
		return err
	}
	f.upserts = append(f.upserts, alert.AlertID)
	return nil
}

func (f *fakeSink) recordedUpserts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.upserts...)
}

// fakeRecorder counts metric calls for assertions.
type fakeRecorder struct {
	mu        sync.Mutex
	received  int
	processed int
	published int
	errors    int
	custom    map[string]int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{custom: make(map[string]int)}
}

func (f *fakeRecorder) RecordReceived()  { f.mu.Lock(); f.received++; f.mu.Unlock() }
func (f *fakeRecorder) RecordProcessed() { f.mu.Lock(); f.processed++; f.mu.Unlock() }
func (f *fakeRecorder) RecordPublished() { f.mu.Lock(); f.published++; f.mu.Unlock() }
func (f *fakeRecorder) RecordError()     { f.mu.Lock(); f.errors++; f.mu.Unlock() }

func (f *fakeRecorder) IncrementCustom(name string) {
	f.mu.Lock()
	f.custom[name]++
	f.mu.Unlock()
}

func (f *fakeRecorder) customCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.custom[name]
}

// testAlert builds a stored alert with a minimal valid schema. The user
// prompt doubles as the fakeOracle verdict key.
func testAlert(id string) *alerts.StoredAlert {
	return &alerts.StoredAlert{
		AlertID:  id,
		TenantID: "tenant-1",
		UserID:   "user-1",
		Definition: alerts.AlertDefinition{
			UserPrompt:       id,
			ProcessedPrompt:  "watch for negative sentiment",
			TriggerCondition: "sentiment below -0.5",
			StateSchema: []alerts.StateFieldSchema{
				{Name: "sentiment", FieldType: alerts.FieldSentimentScore, Description: "overall sentiment"},
			},
		},
		CurrentState: alerts.State{"sentiment": 0.0},
		IsActive:     true,
	}
}

// transcriptBody builds a valid transcript message body.
func transcriptBody(tenantID, communicationID string) []byte {
	return []byte(fmt.Sprintf(
		`{"communication_type": "call", "primary_key": %q, "metadata": {"tenant_id": %q, "transcript_text": "the customer is unhappy"}}`,
		communicationID, tenantID,
	))
}
