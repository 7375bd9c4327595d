package services

// Fill-if-null enrichment helpers. Later ingestion may fill a missing field
// but never overwrites a present value with an absent one. Every enrichment
// site goes through these so the semantics stay in one place.

// fillString sets *dst to src only when *dst is empty and src is not.
// Returns true when the field changed.
func fillString(dst *string, src string) bool {
	if *dst == "" && src != "" {
		*dst = src
		return true
	}
	return false
}

// fillFloat sets *dst to src only when *dst is nil and src is not.
// Returns true when the field changed.
func fillFloat(dst **float64, src *float64) bool {
	if *dst == nil && src != nil {
		v := *src
		*dst = &v
		return true
	}
	return false
}
