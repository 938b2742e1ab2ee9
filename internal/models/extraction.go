package models

// ExtractionResult is the structured outcome of one AI extraction call.
// It is stored verbatim on the episode for auditability; candidates in
// Books are unverified until they pass the catalog gate.
type ExtractionResult struct {
	HasBook    bool            `json:"has_book"`
	Confidence float64         `json:"confidence"`
	Books      []BookCandidate `json:"books"`
	Reasoning  string          `json:"reasoning"`
}

// BookCandidate is a book mention proposed by the extraction call.
type BookCandidate struct {
	Title       string `json:"title"`
	Author      string `json:"author"`
	Description string `json:"description"`
}
