package model

import "time"

// SyncQueueItem is a backend write awaiting retry. At most one live item exists
// per (DocumentID, BackendName).
type SyncQueueItem struct {
	DocumentID    string    `json:"document_id"`
	BackendName   string    `json:"backend_name"`
	PayloadRef    string    `json:"payload_ref"`
	RetryCount    int       `json:"retry_count"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
	LastError     string    `json:"last_error,omitempty"`
	Failed        bool      `json:"failed"`
}

// SyncQueueStatus summarises the sync queue for status polling.
type SyncQueueStatus struct {
	Pending int `json:"pending"`
	Failed  int `json:"failed"`
}

// EventType names the kind of event carried on the event bus.
type EventType string

const (
	EventFileUploaded     EventType = "FILE_UPLOADED"
	EventDocumentSynced   EventType = "DOCUMENT_SYNCED"
	EventSyncError        EventType = "SYNC_ERROR"
	EventDocumentLocked   EventType = "DOCUMENT_LOCKED"
	EventDocumentUnlocked EventType = "DOCUMENT_UNLOCKED"
	EventRetentionApplied EventType = "RETENTION_APPLIED"
	EventDocumentVerified EventType = "DOCUMENT_VERIFIED"

	// EventWildcard subscribes to every event type.
	EventWildcard EventType = "*"
)

// Event is an ephemeral notification published on the event bus.
// Subject is the transaction or agent the event concerns and keys the event cache.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Subject   string         `json:"subject,omitempty"`
	Source    string         `json:"source"`
	Payload   map[string]any `json:"payload"`
}
