package store

import (
	"context"

	"github.com/sd8capricon/graph-rag/pkg/common"
)

// Names of the vector indexes created by EnsureIndex.
const (
	ChunkIndex     = "vector_index"
	CommunityIndex = "community_vector_index"
)

// Query is a parameterized graph query. Name identifies the statement in
// logs and lets test doubles dispatch without parsing Text.
type Query struct {
	Name     string
	Text     string
	Params   map[string]any
	ReadOnly bool
}

// Record is one result row keyed by the RETURN aliases.
type Record map[string]any

// String returns the string value stored under key, or "".
func (r Record) String(key string) string {
	s, _ := r[key].(string)
	return s
}

// Float returns the numeric value stored under key as float64.
func (r Record) Float(key string) float64 {
	switch v := r[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}

// Strings returns the list stored under key, skipping non-string items.
func (r Record) Strings(key string) []string {
	switch v := r[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// SearchRequest describes a k-nearest-neighbour lookup on a vector index.
// Empty filters are ignored.
type SearchRequest struct {
	Index           string
	Vector          []float32
	K               int
	KnowledgeBaseID string
	SourceFileID    string
}

// SearchHit is one result of a similarity search. Higher scores are more
// similar.
type SearchHit struct {
	ID           string
	Text         string
	SourceFileID string
	Score        float64
}

// GraphStore is the graph and vector store used by ingestion and retrieval.
// Implementations must be safe for concurrent use.
type GraphStore interface {
	// EnsureIndex creates vector indexes and uniqueness constraints if
	// they do not exist yet.
	EnsureIndex(ctx context.Context) error

	// AddChunks merges chunk nodes with their embeddings and returns the
	// ids in input order.
	AddChunks(ctx context.Context, knowledgeBaseID string, chunks []common.Chunk) ([]string, error)

	SimilaritySearch(ctx context.Context, req SearchRequest) ([]SearchHit, error)

	// Run executes q in its own managed transaction.
	Run(ctx context.Context, q Query) ([]Record, error)
}

// DetectRequest scopes one community detection run. Relationships are
// projected undirected. When SourceFileID is set only nodes carrying that
// source_file_id are projected, so the written property never reaches
// other files.
type DetectRequest struct {
	GraphName     string
	Labels        []string
	Relationships []string
	WriteProperty string
	SourceFileID  string
}

// CommunityDetector runs a graph partitioning algorithm that writes an
// integer community id onto every projected node.
type CommunityDetector interface {
	Detect(ctx context.Context, req DetectRequest) error
}
