package models

import (
	"time"

	"github.com/google/uuid"
)

// Person is a canonical person record. A person redirected by a merge keeps
// its row forever with MergedInto pointing at the surviving record.
// Stored in persons table.
type Person struct {
	ID           uuid.UUID  `json:"id"`
	DisplayName  string     `json:"display_name"`
	FirstName    string     `json:"first_name"`
	LastName     string     `json:"last_name"`
	Address      string     `json:"address"`
	IsValid      bool       `json:"is_valid"`
	MergedInto   *uuid.UUID `json:"merged_into,omitempty"`
	SourceSystem string     `json:"source_system"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// IsMerged returns true if this record has been redirected to another person.
func (p *Person) IsMerged() bool {
	return p.MergedInto != nil
}

// PersonIdentifier is a normalized matching identifier owned by a person.
// RawValue preserves the value as received for audit, including values that
// were blacklisted for matching purposes.
// Stored in person_identifiers table, unique per (id_type, value).
type PersonIdentifier struct {
	ID        uuid.UUID      `json:"id"`
	PersonID  uuid.UUID      `json:"person_id"`
	Type      IdentifierType `json:"id_type"`
	Value     string         `json:"value"`
	RawValue  string         `json:"raw_value"`
	CreatedAt time.Time      `json:"created_at"`
}
