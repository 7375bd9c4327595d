package models

import (
	"time"

	"github.com/google/uuid"
)

// RelationshipPair identifies which link table a relationship lives in.
type RelationshipPair string

const (
	PairPersonLocation RelationshipPair = "person_location"
	PairAnimalLocation RelationshipPair = "animal_location"
	PairPersonAnimal   RelationshipPair = "person_animal"
)

// Relationship links two canonical entities with a role tag. Rows are unique
// per (pair of ids, role) so repeated link calls are idempotent upserts.
// AID/BID ordering per pair: person before location, animal before location,
// person before animal.
type Relationship struct {
	ID           uuid.UUID        `json:"id"`
	Pair         RelationshipPair `json:"pair"`
	AID          uuid.UUID        `json:"a_id"`
	BID          uuid.UUID        `json:"b_id"`
	Role         string           `json:"role"`
	Confidence   Confidence       `json:"confidence"`
	SourceSystem string           `json:"source_system"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// Common role tags. Callers may supply others; roles are open-ended strings.
const (
	RoleCaretaker = "caretaker" // person tends a colony location
	RoleResident  = "resident"  // person lives at a location
	RoleColony    = "colony"    // animal belongs to a location's colony
	RoleOwner     = "owner"     // person is responsible for an animal
	RoleFoster    = "foster"
)
