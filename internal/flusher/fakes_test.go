package flusher

import (
	"context"
	"sync"
	"time"

	"commwatch/internal/alerts"
	"commwatch/internal/events"
	"commwatch/internal/pending"
)

// fakePending is a test double for PendingReader backed by in-memory shards.
type fakePending struct {
	mu           sync.Mutex
	numShards    int
	shards       map[int][]*pending.Record
	scanErr      map[int]error
	removed      []string
	removeErrFor map[string]error
}

func newFakePending(numShards int) *fakePending {
	return &fakePending{
		numShards: numShards,
		shards:    make(map[int][]*pending.Record),
		scanErr:   make(map[int]error),
	}
}

func (f *fakePending) NumShards() int { return f.numShards }

func (f *fakePending) add(shard int, rec *pending.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec.Shard = shard
	f.shards[shard] = append(f.shards[shard], rec)
}

func (f *fakePending) ScanShard(ctx context.Context, shard int, cutoff time.Time) ([]*pending.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.scanErr[shard]; err != nil {
		return nil, err
	}
	var out []*pending.Record
	for _, rec := range f.shards[shard] {
		if !rec.FirstSeenAt.After(cutoff) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakePending) Remove(ctx context.Context, rec *pending.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.removeErrFor[rec.AlertID]; err != nil {
		return err
	}
	f.removed = append(f.removed, rec.AlertID)
	kept := f.shards[rec.Shard][:0]
	for _, r := range f.shards[rec.Shard] {
		if r.AlertID != rec.AlertID {
			kept = append(kept, r)
		}
	}
	f.shards[rec.Shard] = kept
	return nil
}

// fakePublisher is a test double for NotificationPublisher.
type fakePublisher struct {
	mu        sync.Mutex
	published []*events.AlertNotification
	failFor   map[string]error
}

func (f *fakePublisher) Publish(ctx context.Context, n *events.AlertNotification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[n.AlertID]; err != nil {
		return err
	}
	f.published = append(f.published, n)
	return nil
}

// fakeHistory is a test double for HistoryWriter.
type fakeHistory struct {
	mu           sync.Mutex
	inserted     []*events.AlertNotification
	stateUpdates map[string]alerts.State
	insertErrFor map[string]error
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{stateUpdates: make(map[string]alerts.State)}
}

func (f *fakeHistory) InsertSentAlert(ctx context.Context, n *events.AlertNotification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.insertErrFor[n.AlertID]; err != nil {
		return err
	}
	f.inserted = append(f.inserted, n)
	return nil
}

func (f *fakeHistory) UpdateAlertState(ctx context.Context, alertID string, state alerts.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stateUpdates[alertID] = state
	return nil
}

// testRecord builds a pending record first seen at the given time.
func testRecord(alertID, commType string, firstSeen time.Time) *pending.Record {
	return &pending.Record{
		AlertID:           alertID,
		TenantID:          "tenant-1",
		UserID:            "user-1",
		CommunicationType: commType,
		LatestState:       alerts.State{"sentiment": -0.8},
		AlertReason:       "sentiment dropped",
		FirstSeenAt:       firstSeen,
		LastUpdatedAt:     firstSeen,
		CommunicationIDs:  []string{"comm-1", "comm-2"},
	}
}
