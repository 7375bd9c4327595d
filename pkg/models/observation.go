package models

import (
	"time"

	"github.com/google/uuid"
)

// ObservationSource is a closed enumeration of who reported a count. Each
// source kind carries a base confidence weight in the estimator config.
type ObservationSource string

const (
	SourceCaretaker    ObservationSource = "caretaker"
	SourceClinic       ObservationSource = "clinic"
	SourceVolunteer    ObservationSource = "volunteer"
	SourcePartnerFeed  ObservationSource = "partner_feed"
	SourcePublicReport ObservationSource = "public_report"
)

// IsValid returns true if the source is a known observation source.
func (s ObservationSource) IsValid() bool {
	switch s {
	case SourceCaretaker, SourceClinic, SourceVolunteer, SourcePartnerFeed, SourcePublicReport:
		return true
	default:
		return false
	}
}

// Observation is one reported sighting of a colony at a location.
// MarkedCount, when present, is how many of TotalCount were visibly marked
// (ear-tipped) animals; it enables the mark-recapture estimator.
// Stored in observations table.
type Observation struct {
	ID           uuid.UUID         `json:"id"`
	LocationID   uuid.UUID         `json:"location_id"`
	TotalCount   int               `json:"total_count"`
	MarkedCount  *int              `json:"marked_count,omitempty"`
	SourceKind   ObservationSource `json:"source_kind"`
	ObservedAt   time.Time         `json:"observed_at"`
	Firsthand    bool              `json:"firsthand"`
	SourceSystem string            `json:"source_system"`
	CreatedAt    time.Time         `json:"created_at"`
}
