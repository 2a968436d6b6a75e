package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types published after successful CRM writes.
const (
	EventContactCreated = "contact.created"
	EventContactUpdated = "contact.updated"
	EventLeadCreated    = "lead.created"
)

// Envelope wraps every published event.
type Envelope struct {
	ID        uuid.UUID       `json:"id"`
	EventType string          `json:"event_type"`
	Source    string          `json:"source"`
	Version   string          `json:"version"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// ContactEvent describes a contact written to amoCRM.
type ContactEvent struct {
	ContactID int64  `json:"contact_id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

// LeadEvent describes a lead created in amoCRM.
type LeadEvent struct {
	LeadID            int64 `json:"lead_id"`
	ContactID         int64 `json:"contact_id"`
	ResponsibleUserID int64 `json:"responsible_user_id"`
	PipelineID        int64 `json:"pipeline_id"`
	StatusID          int64 `json:"status_id"`
	// ContactCreated is false when the lead was attached to an existing contact.
	ContactCreated bool `json:"contact_created"`
}
