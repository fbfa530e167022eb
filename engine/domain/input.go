package domain

import (
	"fmt"
	"strings"
)

// EmbeddingInput builds the text that gets embedded for a listing: a labeled
// concatenation of a fixed, ordered subset of fields. The field order and
// labels are part of the stored-data contract: the same record always yields
// the same string, so re-embedding a record is deterministic up to the model.
func EmbeddingInput(r PropertyRecord) string {
	var b strings.Builder
	b.WriteString(r.BrokeredBy)
	b.WriteString(", ")
	b.WriteString(r.Status)
	fmt.Fprintf(&b, ", Price: %g", r.Price)
	b.WriteString(", Beds: ")
	b.WriteString(r.Bed)
	b.WriteString(", Baths: ")
	b.WriteString(r.Bath)
	b.WriteString(", Acre Lot: ")
	b.WriteString(r.AcreLot)
	b.WriteString(", ")
	b.WriteString(r.Street)
	b.WriteString(", ")
	b.WriteString(r.City)
	b.WriteString(", ")
	b.WriteString(r.State)
	b.WriteString(", ZIP: ")
	b.WriteString(r.ZipCode)
	b.WriteString(", House Size: ")
	b.WriteString(r.HouseSize)
	b.WriteString(", Prev Sold Date: ")
	b.WriteString(r.PrevSoldDate)
	return b.String()
}
