// Package events defines the wire structures for the inbound transcript
// topic and the outbound alert notification topic.
package events

import (
	"time"

	"commwatch/internal/alerts"
)

// TranscriptMessage represents an inbound communication event from the
// transcripts topic. The transcript body itself travels in metadata
// under "transcript_text"; tenant routing in metadata under "tenant_id".
type TranscriptMessage struct {
	CommunicationType string         `json:"communication_type"`
	PrimaryKey        string         `json:"primary_key"`
	Metadata          map[string]any `json:"metadata"`
}

// TenantID returns the tenant identifier from metadata, or "" if absent.
func (m *TranscriptMessage) TenantID() string {
	id, _ := m.Metadata["tenant_id"].(string)
	return id
}

// TranscriptText returns the communication text from metadata, or "" if absent.
func (m *TranscriptMessage) TranscriptText() string {
	text, _ := m.Metadata["transcript_text"].(string)
	return text
}

// AlertNotification is the outbound notification emitted once per alert
// per batch window, carrying everything aggregated while the alert was
// pending. One notification may cover many communications.
type AlertNotification struct {
	SentAlertID       string       `json:"sent_alert_id"`
	AlertID           string       `json:"alert_id"`
	TenantID          string       `json:"tenant_id"`
	UserID            string       `json:"user_id"`
	AlertReason       string       `json:"alert_reason"`
	LatestState       alerts.State `json:"latest_state"`
	CommunicationIDs  []string     `json:"communication_ids"`
	CommunicationType string       `json:"communication_type"`
	FirstSeenAt       time.Time    `json:"first_seen_at"`
	SentAt            time.Time    `json:"sent_at"`
}
