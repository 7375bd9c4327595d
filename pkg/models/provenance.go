package models

import "context"

// ProvenanceContext carries the source system and actor for an operation.
// Every create, enrichment, and merge records where its data came from.
type ProvenanceContext struct {
	// SourceSystem names the external feed or surface the data arrived from.
	SourceSystem string

	// Actor identifies who triggered the operation, for merge history.
	Actor string
}

type provenanceKey struct{}

// WithProvenance returns a new context with provenance information attached.
func WithProvenance(ctx context.Context, p ProvenanceContext) context.Context {
	return context.WithValue(ctx, provenanceKey{}, p)
}

// GetProvenance retrieves provenance information from the context.
// Returns the provenance context and true if present, otherwise a zero value
// and false.
func GetProvenance(ctx context.Context) (ProvenanceContext, bool) {
	p, ok := ctx.Value(provenanceKey{}).(ProvenanceContext)
	return p, ok
}
