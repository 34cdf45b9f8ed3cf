package flusher

import (
	"context"
	"errors"
	"testing"
	"time"

	"commwatch/internal/config"
)

var testWindows = config.DefaultBatchWindows()

func newTestFlusher(store *fakePending, pub *fakePublisher, hist *fakeHistory, at time.Time) *Flusher {
	f := New(store, pub, hist, testWindows, time.Second, nil)
	f.now = func() time.Time { return at }
	return f
}

func TestSweepAll_WindowNotElapsed(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newFakePending(1)
	store.add(0, testRecord("alert-1", "call", t0))

	pub := &fakePublisher{}
	hist := newFakeHistory()

	// Calls batch for 30s; at t0+25s the record is not due.
	f := newTestFlusher(store, pub, hist, t0.Add(25*time.Second))
	f.SweepAll(context.Background())

	if len(pub.published) != 0 {
		t.Errorf("published %d notifications, want 0", len(pub.published))
	}
	if len(store.removed) != 0 {
		t.Errorf("removed %v, want none", store.removed)
	}
}

func TestSweepAll_WindowElapsed(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newFakePending(1)
	rec := testRecord("alert-1", "call", t0)
	// A re-trigger at t0+10s updates the record but never moves the window.
	rec.LastUpdatedAt = t0.Add(10 * time.Second)
	store.add(0, rec)

	pub := &fakePublisher{}
	hist := newFakeHistory()

	f := newTestFlusher(store, pub, hist, t0.Add(31*time.Second))
	f.SweepAll(context.Background())

	if len(pub.published) != 1 {
		t.Fatalf("published %d notifications, want 1", len(pub.published))
	}
	n := pub.published[0]
	if n.SentAlertID == "" {
		t.Error("notification has empty sent_alert_id")
	}
	if n.AlertID != "alert-1" || n.TenantID != "tenant-1" {
		t.Errorf("notification identity = %s/%s, want alert-1/tenant-1", n.AlertID, n.TenantID)
	}
	if len(n.CommunicationIDs) != 2 {
		t.Errorf("communication ids = %v, want 2 entries", n.CommunicationIDs)
	}
	if !n.FirstSeenAt.Equal(t0) {
		t.Errorf("first_seen_at = %v, want %v", n.FirstSeenAt, t0)
	}

	if len(hist.inserted) != 1 {
		t.Errorf("history rows = %d, want 1", len(hist.inserted))
	}
	if len(store.removed) != 1 || store.removed[0] != "alert-1" {
		t.Errorf("removed = %v, want [alert-1]", store.removed)
	}
	if _, ok := hist.stateUpdates["alert-1"]; !ok {
		t.Error("alert state was not written back")
	}
}

func TestSweepAll_ZeroWindowFlushesImmediately(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newFakePending(1)
	store.add(0, testRecord("alert-1", "chat", t0))

	pub := &fakePublisher{}
	f := newTestFlusher(store, pub, newFakeHistory(), t0)
	f.SweepAll(context.Background())

	if len(pub.published) != 1 {
		t.Errorf("published %d notifications, want 1", len(pub.published))
	}
}

func TestSweepAll_UnknownTypeUsesDefaultWindow(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newFakePending(1)
	store.add(0, testRecord("alert-1", "carrier-pigeon", t0))

	pub := &fakePublisher{}
	hist := newFakeHistory()

	// Default window is 60s: not due at t0+45s, due at t0+61s.
	f := newTestFlusher(store, pub, hist, t0.Add(45*time.Second))
	f.SweepAll(context.Background())
	if len(pub.published) != 0 {
		t.Fatalf("published %d notifications before default window, want 0", len(pub.published))
	}

	f.now = func() time.Time { return t0.Add(61 * time.Second) }
	f.SweepAll(context.Background())
	if len(pub.published) != 1 {
		t.Errorf("published %d notifications after default window, want 1", len(pub.published))
	}
}

func TestSweepAll_PublishFailureIsolated(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newFakePending(1)
	store.add(0, testRecord("alert-1", "chat", t0))
	store.add(0, testRecord("alert-2", "chat", t0))

	pub := &fakePublisher{failFor: map[string]error{"alert-1": errors.New("broker down")}}
	hist := newFakeHistory()

	f := newTestFlusher(store, pub, hist, t0.Add(time.Second))
	f.SweepAll(context.Background())

	// alert-2 flushed despite alert-1 failing.
	if len(pub.published) != 1 || pub.published[0].AlertID != "alert-2" {
		t.Fatalf("published = %v, want just alert-2", pub.published)
	}
	// alert-1 stays pending for the next sweep.
	if len(store.removed) != 1 || store.removed[0] != "alert-2" {
		t.Errorf("removed = %v, want [alert-2]", store.removed)
	}

	// Next sweep retries alert-1 once the broker recovers.
	pub.failFor = nil
	f.SweepAll(context.Background())
	if len(pub.published) != 2 {
		t.Errorf("published %d notifications after retry, want 2", len(pub.published))
	}
}

func TestSweepAll_HistoryFailureKeepsRecordPending(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newFakePending(1)
	store.add(0, testRecord("alert-1", "chat", t0))

	pub := &fakePublisher{}
	hist := newFakeHistory()
	hist.insertErrFor = map[string]error{"alert-1": errors.New("db down")}

	f := newTestFlusher(store, pub, hist, t0.Add(time.Second))
	f.SweepAll(context.Background())

	// The notification went out but the record was not cleared, so the next
	// sweep re-sends. Duplicate delivery over dropped history.
	if len(pub.published) != 1 {
		t.Errorf("published %d notifications, want 1", len(pub.published))
	}
	if len(store.removed) != 0 {
		t.Errorf("removed = %v, want none", store.removed)
	}
}

func TestSweepAll_ShardErrorIsolated(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newFakePending(2)
	store.scanErr[0] = errors.New("redis timeout")
	store.add(1, testRecord("alert-2", "chat", t0))

	pub := &fakePublisher{}
	f := newTestFlusher(store, pub, newFakeHistory(), t0.Add(time.Second))
	f.SweepAll(context.Background())

	if len(pub.published) != 1 || pub.published[0].AlertID != "alert-2" {
		t.Errorf("published = %v, want just alert-2 from the healthy shard", pub.published)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	store := newFakePending(1)
	f := New(store, &fakePublisher{}, newFakeHistory(), testWindows, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
