// Package models defines core data structures for chunks, documents, and answers.
package models

// ChunkRecord is one embedded unit of text tracked in the metadata ledger.
// Position is the record's slot in the vector index; the ledger and the index
// are always the same length and are modified only in lock-step.
type ChunkRecord struct {
	DocID    string `json:"doc_id"`
	DocName  string `json:"doc_name"`
	Text     string `json:"text"`
	Position int    `json:"position"`
	Deleted  bool   `json:"deleted"`
}

// SearchHit is a single similarity-search result. Ephemeral; never persisted.
type SearchHit struct {
	DocID    string  `json:"doc_id"`
	DocName  string  `json:"doc_name"`
	Text     string  `json:"text"`
	Position int     `json:"position"`
	Score    float64 `json:"score"`
}
