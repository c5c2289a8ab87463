// Package vectorstore persists embedded chunks into a named collection and
// answers similarity queries over it. Two backends are provided: Postgres
// with pgvector, and Qdrant over its REST API.
package vectorstore

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Payload is the metadata stored next to each vector.
type Payload struct {
	SourceURL   string    `json:"source_url"`
	CollectedAt time.Time `json:"collected_at"`
	DocType     string    `json:"doc_type"`
	Orgao       string    `json:"orgao"`
	Topic       string    `json:"topic"`
	Hash        string    `json:"hash"`
}

// Record is one indexed chunk. The ID is deterministic (see ChunkID) so
// re-ingesting the same logical chunk replaces rather than duplicates.
type Record struct {
	ID         uuid.UUID
	Document   string
	Breadcrumb string
	ChunkIndex int
	Text       string
	Embedding  []float32
	Payload    Payload
}

// SearchResult pairs a stored chunk with its similarity score. Scores are
// normalized so that higher always means more relevant; the exact range
// depends on the backend (cosine in [0,1] for Qdrant, 1/(1+L2) for Postgres).
type SearchResult struct {
	Document   string
	Breadcrumb string
	Text       string
	Payload    Payload
	Score      float64
}

// Store is the write/read contract of the vector index. Upsert is atomic per
// record: a reader never observes a half-written entry.
type Store interface {
	// EnsureCollection creates the collection for the given embedding
	// dimension if it does not exist yet.
	EnsureCollection(ctx context.Context, dimension int) error

	// Upsert inserts or replaces the given records and the per-section
	// hashes they carry.
	Upsert(ctx context.Context, records []Record) error

	// Search returns up to limit chunks ordered by descending score.
	Search(ctx context.Context, embedding []float32, limit int) ([]SearchResult, error)

	// SectionHashes returns breadcrumb -> content hash for every section of
	// the document currently present in the index.
	SectionHashes(ctx context.Context, document string) (map[string]string, error)

	// DeleteSections removes every record belonging to the listed
	// breadcrumbs of the document.
	DeleteSections(ctx context.Context, document string, breadcrumbs []string) error

	// Count reports the number of indexed records.
	Count(ctx context.Context) (int, error)

	// Drop removes the whole collection. Used by forced rebuilds.
	Drop(ctx context.Context) error
}

// ChunkID derives the stable identifier of a chunk from its document, section
// breadcrumb, and offset. Deterministic ids make ingestion retries idempotent
// and let modified content overwrite in place.
func ChunkID(document, breadcrumb string, index int) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(document+"|"+breadcrumb+"#"+strconv.Itoa(index)))
}
