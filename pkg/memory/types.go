// Package memory implements the chunked embedding store: text is split
// into overlapping chunks, embedded, and kept in an HNSW index with a
// parallel JSON metadata file.
package memory

import (
	"errors"
	"time"
)

// ErrConfirmationRequired is returned by Clear when confirm is false.
var ErrConfirmationRequired = errors.New("clearing the index requires explicit confirmation")

// Chunk is a contiguous slice of a source text. Text equals
// source[Start:End] and ID is the index size at insertion.
type Chunk struct {
	ID        int       `json:"id"`
	Text      string    `json:"text"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Start     int       `json:"start"`
	End       int       `json:"end"`
}

// SearchResult is a retrieved chunk with its score. Similarity is in [0, 1],
// higher is closer.
type SearchResult struct {
	Chunk
	Similarity float64 `json:"similarity"`
	Distance   float64 `json:"distance"`
	Query      string  `json:"query,omitempty"`
}

// Stats describes the store.
type Stats struct {
	TotalVectors  int            `json:"total_vectors"`
	IndexBytes    int64          `json:"index_bytes"`
	MetadataBytes int64          `json:"metadata_bytes"`
	Sources       map[string]int `json:"sources"`
	Model         string         `json:"model"`
	Dimension     int            `json:"dimension"`
	LastUpdate    time.Time      `json:"last_update"`
	IndexPath     string         `json:"index_path"`
}

// IndexReport summarizes a batch indexing run.
type IndexReport struct {
	Files   int `json:"files"`
	Skipped int `json:"skipped"`
	Chunks  int `json:"chunks"`
	Failed  int `json:"failed"`
}
