package models

import (
	"time"

	"github.com/google/uuid"
)

// Animal is a canonical animal record, identified by a strong identifier
// such as a microchip number.
// Stored in animals table.
type Animal struct {
	ID           uuid.UUID  `json:"id"`
	Name         string     `json:"name"`
	Species      string     `json:"species"`
	Sex          string     `json:"sex"`
	Color        string     `json:"color"`
	MergedInto   *uuid.UUID `json:"merged_into,omitempty"`
	SourceSystem string     `json:"source_system"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// IsMerged returns true if this record has been redirected to another animal.
func (a *Animal) IsMerged() bool {
	return a.MergedInto != nil
}

// AnimalIdentifier is a strong identifier owned by an animal.
// Stored in animal_identifiers table, unique per (id_type, value).
type AnimalIdentifier struct {
	ID        uuid.UUID      `json:"id"`
	AnimalID  uuid.UUID      `json:"animal_id"`
	Type      IdentifierType `json:"id_type"`
	Value     string         `json:"value"`
	CreatedAt time.Time      `json:"created_at"`
}

// Procedure is a completed veterinary procedure for an animal, optionally
// tied to the location where it was performed. Completed alteration
// procedures feed the verified-altered count for a location.
// Stored in procedures table.
type Procedure struct {
	ID           uuid.UUID  `json:"id"`
	AnimalID     uuid.UUID  `json:"animal_id"`
	LocationID   *uuid.UUID `json:"location_id,omitempty"`
	Kind         string     `json:"kind"`
	CompletedAt  time.Time  `json:"completed_at"`
	SourceSystem string     `json:"source_system"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Procedure kinds recognized by the estimator. Alteration procedures mark an
// animal as verified-altered.
const (
	ProcedureSpay   = "spay"
	ProcedureNeuter = "neuter"
)
