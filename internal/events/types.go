// Package events provides an in-process publish/subscribe bus for attachment events.
package events

import "time"

// EventType represents different event types
type EventType string

const (
	// MappingsRefreshed fires after a mapping query settles (success or failure).
	MappingsRefreshed EventType = "MAPPINGS_REFRESHED"
	// MappingsSaved fires after attachments of one position were persisted.
	MappingsSaved EventType = "MAPPINGS_SAVED"
	// AttachmentFetchFailed fires when a symbol-root fetch degraded to an empty result.
	AttachmentFetchFailed EventType = "ATTACHMENT_FETCH_FAILED"
	// ExpansionToggled fires when a grid row is expanded or collapsed.
	ExpansionToggled EventType = "EXPANSION_TOGGLED"
)

// AllTypes lists every event type, for subscribers that want everything.
var AllTypes = []EventType{MappingsRefreshed, MappingsSaved, AttachmentFetchFailed, ExpansionToggled}

// Event represents a system event
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Module    string         `json:"module"`
	Data      map[string]any `json:"data"`
}

// EventData is implemented by every typed payload.
type EventData interface {
	EventType() EventType
}

// MappingsRefreshedData describes a settled mapping query.
type MappingsRefreshedData struct {
	UserID   string `json:"user_id"`
	Relation string `json:"relation"`
	Success  bool   `json:"success"`
	Keys     int    `json:"keys"`
	Error    string `json:"error,omitempty"`
}

// EventType returns the event type for MappingsRefreshedData
func (d *MappingsRefreshedData) EventType() EventType {
	return MappingsRefreshed
}

// MappingsSavedData describes a persisted attachment set.
type MappingsSavedData struct {
	UserID      string `json:"user_id"`
	Relation    string `json:"relation"`
	PositionKey string `json:"position_key"`
	Count       int    `json:"count"`
}

// EventType returns the event type for MappingsSavedData
func (d *MappingsSavedData) EventType() EventType {
	return MappingsSaved
}

// AttachmentFetchFailedData describes a degraded fetch.
type AttachmentFetchFailedData struct {
	UserID     string `json:"user_id"`
	Kind       string `json:"kind"`
	SymbolRoot string `json:"symbol_root"`
	AccountID  string `json:"account_id,omitempty"`
	Error      string `json:"error"`
}

// EventType returns the event type for AttachmentFetchFailedData
func (d *AttachmentFetchFailedData) EventType() EventType {
	return AttachmentFetchFailed
}

// ExpansionToggledData describes an expansion flip.
type ExpansionToggledData struct {
	UserID      string `json:"user_id"`
	PositionKey string `json:"position_key"`
	Expanded    bool   `json:"expanded"`
}

// EventType returns the event type for ExpansionToggledData
func (d *ExpansionToggledData) EventType() EventType {
	return ExpansionToggled
}
