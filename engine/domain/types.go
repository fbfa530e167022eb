// Package domain defines the core listing types, the cleaning rules applied
// at ingestion, and the embedding-input text derived from a listing. It acts
// as the validation gate at pipeline entry points.
package domain

// PropertyRecord is one real-estate listing. Numeric source columns other
// than price are kept as free-form text: the upstream catalog leaves them
// blank often enough that parsing them buys nothing.
//
// Records are immutable once stored; a reload deletes and recreates them.
type PropertyRecord struct {
	BrokeredBy   string  `json:"brokered_by"`
	Status       string  `json:"status"`
	Price        float64 `json:"price"`
	Bed          string  `json:"bed"`
	Bath         string  `json:"bath"`
	AcreLot      string  `json:"acre_lot"`
	Street       string  `json:"street"`
	City         string  `json:"city"`
	State        string  `json:"state"`
	ZipCode      string  `json:"zip_code"`
	HouseSize    string  `json:"house_size"`
	PrevSoldDate string  `json:"prev_sold_date"`
}

// Page is one unit of a paginated free-text source (a manual, a report).
type Page struct {
	Num  int    `json:"num"`
	Text string `json:"text"`
}

// EmbeddingDims is the dimensionality of the embedding model in use
// (text-embedding-3-small). The vector index is created with the same size.
const EmbeddingDims = 1536
