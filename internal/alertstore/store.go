// Package alertstore provides database operations for the user_alerts and
// sent_alerts tables.
package alertstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"commwatch/internal/alerts"
	"commwatch/internal/events"
)

// DB wraps a database connection and provides alert operations.
type DB struct {
	conn *sql.DB
}

// NewDB creates a new database connection using the provided DSN.
func NewDB(dsn string) (*DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	// Test the connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("Successfully connected to PostgreSQL database")

	return &DB{conn: conn}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.conn != nil {
		slog.Info("Closing database connection")
		return db.conn.Close()
	}
	return nil
}

// GetActiveAlerts fetches all active alerts for a tenant. Rows whose
// stored definition or state fails to deserialize are logged and skipped
// so one corrupt alert cannot block a tenant's evaluations.
func (db *DB) GetActiveAlerts(ctx context.Context, tenantID string) ([]*alerts.StoredAlert, error) {
	query := `
		SELECT alert_id, tenant_id, user_id, alert_definition, current_state, is_active
		FROM user_alerts
		WHERE tenant_id = $1 AND is_active = TRUE
	`
	rows, err := db.conn.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query active alerts: %w", err)
	}
	defer rows.Close()

	var result []*alerts.StoredAlert
	for rows.Next() {
		var (
			alert     alerts.StoredAlert
			defJSON   []byte
			stateJSON []byte
		)
		if err := rows.Scan(&alert.AlertID, &alert.TenantID, &alert.UserID, &defJSON, &stateJSON, &alert.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan alert row: %w", err)
		}
		if err := json.Unmarshal(defJSON, &alert.Definition); err != nil {
			slog.Warn("Skipping alert with invalid definition", "alert_id", alert.AlertID, "error", err)
			continue
		}
		if err := alert.Definition.Validate(); err != nil {
			slog.Warn("Skipping alert with malformed schema", "alert_id", alert.AlertID, "error", err)
			continue
		}
		if err := json.Unmarshal(stateJSON, &alert.CurrentState); err != nil {
			slog.Warn("Skipping alert with invalid state", "alert_id", alert.AlertID, "error", err)
			continue
		}
		result = append(result, &alert)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alerts: %w", err)
	}

	return result, nil
}

// UpdateAlertState overwrites an alert's live state. Called only by the
// flusher once a pending record is drained.
func (db *DB) UpdateAlertState(ctx context.Context, alertID string, state alerts.State) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	query := `
		UPDATE user_alerts
		SET current_state = $2
		WHERE alert_id = $1
	`
	result, err := db.conn.ExecContext(ctx, query, alertID, stateJSON)
	if err != nil {
		return fmt.Errorf("failed to update alert state: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("alert not found: %s", alertID)
	}

	slog.Debug("Updated alert state", "alert_id", alertID)
	return nil
}

// InsertSentAlert appends a notification to the sent_alerts history table.
// History rows are never updated or deleted.
func (db *DB) InsertSentAlert(ctx context.Context, n *events.AlertNotification) error {
	stateJSON, err := json.Marshal(n.LatestState)
	if err != nil {
		return fmt.Errorf("failed to marshal latest state: %w", err)
	}

	query := `
		INSERT INTO sent_alerts (sent_alert_id, alert_id, tenant_id, user_id, alert_reason,
			latest_state, communication_ids, communication_type, first_seen_at, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = db.conn.ExecContext(ctx, query,
		n.SentAlertID,
		n.AlertID,
		n.TenantID,
		n.UserID,
		n.AlertReason,
		stateJSON,
		pq.Array(n.CommunicationIDs),
		n.CommunicationType,
		n.FirstSeenAt,
		n.SentAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert sent alert: %w", err)
	}

	slog.Debug("Inserted sent alert", "sent_alert_id", n.SentAlertID, "alert_id", n.AlertID)
	return nil
}
