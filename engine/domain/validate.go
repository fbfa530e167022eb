package domain

import (
	"fmt"
	"strings"
)

// Clean validates a record against the ingestion invariants: street, city,
// and state must be non-empty after trimming, and price must be positive.
// Records failing either rule are dropped by the caller before any embedding
// call is made.
func Clean(r PropertyRecord) error {
	for _, f := range []struct{ name, value string }{
		{"street", r.Street},
		{"city", r.City},
		{"state", r.State},
	} {
		if strings.TrimSpace(f.value) == "" {
			return NewValidationError(f.name, f.value, ErrMissingLocation)
		}
	}
	if r.Price <= 0 {
		return NewValidationError("price", fmt.Sprintf("%g", r.Price), ErrNonPositivePrice)
	}
	return nil
}
