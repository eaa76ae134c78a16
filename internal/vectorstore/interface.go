package vectorstore

import (
	"context"
	"errors"
)

var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrConnectionFailed indicates the external index could not be reached.
	ErrConnectionFailed = errors.New("failed to connect to vector index")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("failed to generate embeddings")

	// ErrInvalidCompany indicates an empty company partition key.
	ErrInvalidCompany = errors.New("company is required")
)

// Embedder generates vector embeddings from text.
//
// Implementations can use local models (FastEmbed) or a remote inference
// server. Some models embed queries differently from documents.
type Embedder interface {
	// EmbedDocuments generates embeddings for multiple texts, one per input.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Entry is one observation's searchable text. PatternID is stored as
// metadata so searches can be scoped to a set of attributions.
type Entry struct {
	ObservationID string
	Company       string
	PatternID     string
	Text          string
}

// Match is an index hit. Score is cosine similarity.
type Match struct {
	ObservationID string
	Score         float64
}

// Index is a company-partitioned similarity index over observations.
type Index interface {
	// Upsert adds or replaces entries. Entries with empty text are ignored.
	Upsert(ctx context.Context, entries []Entry) error

	// Delete removes entries by observation id.
	Delete(ctx context.Context, company string, observationIDs []string) error

	// Search returns up to k matches within company, best first. A non-empty
	// patternIDs keeps only entries attributed to one of them. An empty
	// partition yields no matches and no error.
	Search(ctx context.Context, company, text string, k int, patternIDs []string) ([]Match, error)

	// Close releases resources held by the index.
	Close() error
}
