// Package geocode defines the interface to the external geocoding
// collaborator. The provider itself lives outside this service; the engine
// only consumes results and must tolerate indefinite non-response.
package geocode

import "context"

// Result is a successful geocode of a raw address string.
type Result struct {
	// CanonicalAddress is the provider's normalized address text. Its
	// arrival triggers a duplicate re-check on the location.
	CanonicalAddress string
	Latitude         float64
	Longitude        float64
	// Precision is the provider's accuracy tier, e.g. "rooftop", "street",
	// "postcode".
	Precision string
}

// Client resolves raw address text to coordinates and a canonical address.
type Client interface {
	Geocode(ctx context.Context, rawAddress string) (*Result, error)
}

// Error is a geocoding failure that knows whether a retry could help.
// Provider outages are retryable; an address the provider cannot resolve is
// not.
type Error struct {
	Message   string
	Retryable bool
}

func (e *Error) Error() string {
	return e.Message
}

// IsRetryable reports whether the failure is transient.
func (e *Error) IsRetryable() bool {
	return e.Retryable
}
