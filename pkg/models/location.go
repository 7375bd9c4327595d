package models

import (
	"time"

	"github.com/google/uuid"
)

// Location is a canonical location record. NormalizedAddress is the
// comparable form used for exact matching; RawAddress preserves the text as
// received. Coordinates are nil until geocoding succeeds.
// Stored in locations table.
type Location struct {
	ID                uuid.UUID     `json:"id"`
	NormalizedAddress string        `json:"normalized_address"`
	RawAddress        string        `json:"raw_address"`
	GeocodeStatus     GeocodeStatus `json:"geocode_status"`
	Latitude          *float64      `json:"latitude,omitempty"`
	Longitude         *float64      `json:"longitude,omitempty"`
	Precision         string        `json:"precision"`
	MergedInto        *uuid.UUID    `json:"merged_into,omitempty"`
	SourceSystem      string        `json:"source_system"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// IsMerged returns true if this record has been redirected to another location.
func (l *Location) IsMerged() bool {
	return l.MergedInto != nil
}

// HasCoordinates returns true once geocoding has produced a usable point.
func (l *Location) HasCoordinates() bool {
	return l.Latitude != nil && l.Longitude != nil
}
