// Package pending provides the sharded store of currently-triggered alerts
// awaiting their batch window. Repeated triggers of the same alert merge
// into one record; the flusher drains records once their window elapses.
package pending

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"commwatch/internal/alerts"
)

const (
	alertKeyPrefix = "pending:alert:"
	shardKeyPrefix = "pending:shard:"
	commsKeySuffix = ":comms"
)

// Record is one currently-triggered alert, deduplicating every trigger
// since the last notification. FirstSeenAt is frozen on first insert and
// anchors the batch window; everything else reflects the latest trigger.
type Record struct {
	AlertID           string
	TenantID          string
	UserID            string
	CommunicationType string
	LatestState       alerts.State
	AlertReason       string
	FirstSeenAt       time.Time
	LastUpdatedAt     time.Time
	CommunicationIDs  []string
	Shard             int
}

// Store persists pending alert records in Redis, partitioned into a fixed
// number of shards so the periodic scan stays bounded.
type Store struct {
	client    *redis.Client
	numShards int
}

// NewStore creates a pending store over the given Redis client.
func NewStore(client *redis.Client, numShards int) *Store {
	return &Store{
		client:    client,
		numShards: numShards,
	}
}

// NumShards returns the number of partitions the store is configured with.
func (s *Store) NumShards() int {
	return s.numShards
}

func alertKey(alertID string) string {
	return alertKeyPrefix + alertID
}

func commsKey(alertID string) string {
	return alertKey(alertID) + commsKeySuffix
}

func shardKey(shard int) string {
	return shardKeyPrefix + strconv.Itoa(shard)
}

// Upsert records a trigger for an alert. The whole write runs as one
// MULTI/EXEC pipeline of merge operations: mutable fields are overwritten,
// first_seen_at and the shard-index score are set only if absent, and the
// communication id is added to the accumulating set. Concurrent upserts
// for the same alert therefore never lose each other's updates.
func (s *Store) Upsert(ctx context.Context, alert *alerts.StoredAlert, result *alerts.ProcessingResult, communicationID, communicationType string) error {
	stateJSON, err := json.Marshal(result.UpdatedState)
	if err != nil {
		return fmt.Errorf("failed to marshal latest state: %w", err)
	}

	now := time.Now().UTC()
	shard := ShardFor(alert.AlertID, s.numShards)
	key := alertKey(alert.AlertID)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"alert_id":           alert.AlertID,
		"tenant_id":          alert.TenantID,
		"user_id":            alert.UserID,
		"communication_type": communicationType,
		"latest_state":       string(stateJSON),
		"alert_reason":       result.AlertReason,
		"last_updated_at":    now.Format(time.RFC3339Nano),
		"shard":              shard,
	})
	pipe.HSetNX(ctx, key, "first_seen_at", now.Format(time.RFC3339Nano))
	pipe.SAdd(ctx, commsKey(alert.AlertID), communicationID)
	pipe.ZAddNX(ctx, shardKey(shard), redis.Z{
		Score:  float64(now.UnixNano()) / float64(time.Second),
		Member: alert.AlertID,
	})

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to upsert pending alert %s: %w", alert.AlertID, err)
	}

	slog.Debug("Pending alert upserted",
		"alert_id", alert.AlertID,
		"communication_id", communicationID,
		"shard", shard,
	)
	return nil
}

// ScanShard returns every pending record in the shard whose first trigger
// is at or before cutoff. The caller still re-checks readiness per record
// against its own communication type's window; this is only the cheap
// superset pre-filter over the shard index.
func (s *Store) ScanShard(ctx context.Context, shard int, cutoff time.Time) ([]*Record, error) {
	max := strconv.FormatFloat(float64(cutoff.UnixNano())/float64(time.Second), 'f', -1, 64)
	alertIDs, err := s.client.ZRangeByScore(ctx, shardKey(shard), &redis.ZRangeBy{
		Min: "-inf",
		Max: max,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to scan shard %d: %w", shard, err)
	}

	records := make([]*Record, 0, len(alertIDs))
	for _, alertID := range alertIDs {
		rec, err := s.load(ctx, alertID)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			// Index entry without a record: a previous delete got partway
			// through. Drop the orphan so it stops showing up in scans.
			slog.Warn("Removing orphaned shard index entry", "alert_id", alertID, "shard", shard)
			s.client.ZRem(ctx, shardKey(shard), alertID)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// load reads one pending record by alert id. Returns nil if it doesn't exist.
func (s *Store) load(ctx context.Context, alertID string) (*Record, error) {
	fields, err := s.client.HGetAll(ctx, alertKey(alertID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load pending alert %s: %w", alertID, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	comms, err := s.client.SMembers(ctx, commsKey(alertID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load communication ids for %s: %w", alertID, err)
	}

	return parseRecord(alertID, fields, comms)
}

// parseRecord builds a Record from its Redis hash fields and comm-id set.
func parseRecord(alertID string, fields map[string]string, comms []string) (*Record, error) {
	firstSeen, err := time.Parse(time.RFC3339Nano, fields["first_seen_at"])
	if err != nil {
		return nil, fmt.Errorf("invalid first_seen_at for %s: %w", alertID, err)
	}
	lastUpdated, err := time.Parse(time.RFC3339Nano, fields["last_updated_at"])
	if err != nil {
		return nil, fmt.Errorf("invalid last_updated_at for %s: %w", alertID, err)
	}
	shard, err := strconv.Atoi(fields["shard"])
	if err != nil {
		return nil, fmt.Errorf("invalid shard for %s: %w", alertID, err)
	}

	var state alerts.State
	if raw := fields["latest_state"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &state); err != nil {
			return nil, fmt.Errorf("invalid latest_state for %s: %w", alertID, err)
		}
	}

	return &Record{
		AlertID:           alertID,
		TenantID:          fields["tenant_id"],
		UserID:            fields["user_id"],
		CommunicationType: fields["communication_type"],
		LatestState:       state,
		AlertReason:       fields["alert_reason"],
		FirstSeenAt:       firstSeen,
		LastUpdatedAt:     lastUpdated,
		CommunicationIDs:  comms,
		Shard:             shard,
	}, nil
}

// Remove deletes a flushed record: the hash, the communication-id set, and
// the shard index entry, in one pipeline.
func (s *Store) Remove(ctx context.Context, rec *Record) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, alertKey(rec.AlertID), commsKey(rec.AlertID))
	pipe.ZRem(ctx, shardKey(rec.Shard), rec.AlertID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove pending alert %s: %w", rec.AlertID, err)
	}
	return nil
}
