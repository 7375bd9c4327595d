// Package models contains domain types for registry-engine.
package models

// EntityKind identifies which canonical table an id refers to.
type EntityKind string

const (
	KindPerson   EntityKind = "person"
	KindAnimal   EntityKind = "animal"
	KindLocation EntityKind = "location"
)

// String returns the string representation of an EntityKind.
func (k EntityKind) String() string {
	return string(k)
}

// IsValid returns true if the kind is a known entity kind.
func (k EntityKind) IsValid() bool {
	switch k {
	case KindPerson, KindAnimal, KindLocation:
		return true
	default:
		return false
	}
}

// Confidence is the categorical confidence attached to a relationship.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// IsValid returns true if the confidence is a known level.
func (c Confidence) IsValid() bool {
	switch c {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return true
	default:
		return false
	}
}

// IdentifierType is the type of a normalized matching identifier.
type IdentifierType string

const (
	IdentifierEmail     IdentifierType = "email"
	IdentifierPhone     IdentifierType = "phone"
	IdentifierMicrochip IdentifierType = "microchip"
	IdentifierTag       IdentifierType = "tag"
)

// GeocodeStatus tracks the asynchronous geocoding lifecycle of a location.
type GeocodeStatus string

const (
	GeocodePending GeocodeStatus = "pending"
	GeocodeSuccess GeocodeStatus = "success"
	GeocodeFailed  GeocodeStatus = "failed"
)
