package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RawRecordStatus tracks a staged record through batch processing.
type RawRecordStatus string

const (
	RawPending   RawRecordStatus = "pending"
	RawProcessed RawRecordStatus = "processed"
	RawFailed    RawRecordStatus = "failed"
	RawSkipped   RawRecordStatus = "skipped"
)

// RawRecord is one staged row from an external source. Rows are append-only
// and deduplicated by ContentHash, which is the idempotency key for
// re-ingestion: inserting the same hash twice is a no-op.
// Stored in raw_records table.
type RawRecord struct {
	ID           uuid.UUID       `json:"id"`
	SourceSystem string          `json:"source_system"`
	SourceTable  string          `json:"source_table"`
	SourceRowID  string          `json:"source_row_id"`
	Payload      json.RawMessage `json:"payload"`
	ContentHash  string          `json:"content_hash"`
	Status       RawRecordStatus `json:"status"`
	Error        *string         `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	ProcessedAt  *time.Time      `json:"processed_at,omitempty"`
}

// RawPayload is the typed shape of a staged payload. Kind selects which
// sections are meaningful; absent fields stay empty.
type RawPayload struct {
	Kind string `json:"kind"` // person, animal, location, observation

	// Person fields
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`

	// Animal fields
	MicrochipID string `json:"microchip_id,omitempty"`
	AnimalName  string `json:"animal_name,omitempty"`
	Species     string `json:"species,omitempty"`
	Sex         string `json:"sex,omitempty"`
	Color       string `json:"color,omitempty"`
	Procedure   string `json:"procedure,omitempty"`

	// Location fields
	Address   string   `json:"address,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`

	// Link fields
	Role       string `json:"role,omitempty"`
	Confidence string `json:"confidence,omitempty"`

	// Observation fields
	TotalCount  *int       `json:"total_count,omitempty"`
	MarkedCount *int       `json:"marked_count,omitempty"`
	SourceKind  string     `json:"source_kind,omitempty"`
	ObservedAt  *time.Time `json:"observed_at,omitempty"`
	Firsthand   bool       `json:"firsthand,omitempty"`
}

// BlacklistEntry marks an identifier value as shared or organizational so it
// is never used for matching. Stored in identifier_blacklist table.
type BlacklistEntry struct {
	ID        uuid.UUID      `json:"id"`
	Type      IdentifierType `json:"id_type"`
	Value     string         `json:"value"`
	Reason    string         `json:"reason"`
	CreatedAt time.Time      `json:"created_at"`
}
