package query

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/sd8capricon/graph-rag/pkg/ai"
	"github.com/sd8capricon/graph-rag/pkg/store"
)

// ChunkDoc is a chunk returned by a similarity search.
type ChunkDoc struct {
	ID           string `json:"id"`
	Text         string `json:"text"`
	SourceFileID string `json:"source_file_id"`
}

const expandChunksQuery = `
MATCH (c:Chunk)
WHERE c.id IN $ids AND c.knowledge_base_id = $knowledge_base_id
OPTIONAL MATCH (c)-[:SIMILAR]-(s:Chunk)
WITH collect(DISTINCT c) + collect(DISTINCT s) AS chunks
UNWIND chunks AS chunk
RETURN DISTINCT chunk.id AS id, chunk.text AS text, chunk.source_file_id AS source_file_id
`

// ChunkSearcher finds chunks similar to a query and widens the result
// through their SIMILAR neighbours.
type ChunkSearcher struct {
	client ai.GraphAIClient
	store  store.GraphStore
	tracer Tracer
}

func NewChunkSearcher(client ai.GraphAIClient, s store.GraphStore, tracer Tracer) *ChunkSearcher {
	return &ChunkSearcher{client: client, store: s, tracer: tracer}
}

// SimilaritySearch returns the top-k chunks first, in score order,
// followed by their neighbours ordered by id.
func (c *ChunkSearcher) SimilaritySearch(ctx context.Context, knowledgeBaseID, query string, topK int) ([]ChunkDoc, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query must not be empty")
	}
	if topK <= 0 {
		topK = 5
	}

	vectors, err := c.client.GenerateEmbeddings(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("expected 1 query embedding, got %d", len(vectors))
	}

	hits, err := c.store.SimilaritySearch(ctx, store.SearchRequest{
		Index:           store.ChunkIndex,
		Vector:          vectors[0],
		K:               topK,
		KnowledgeBaseID: knowledgeBaseID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	rank := make(map[string]int, len(hits))
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
		rank[h.ID] = i
	}

	records, err := c.store.Run(ctx, store.Query{
		Name: "chunk.expand",
		Text: expandChunksQuery,
		Params: map[string]any{
			"ids":               ids,
			"knowledge_base_id": knowledgeBaseID,
		},
		ReadOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to expand chunks: %w", err)
	}

	docs := make([]ChunkDoc, 0, len(records))
	sources := make([]string, 0, len(records))
	for _, r := range records {
		doc := ChunkDoc{ID: r.String("id"), Text: r.String("text"), SourceFileID: r.String("source_file_id")}
		if doc.Text == "" {
			continue
		}
		docs = append(docs, doc)
		sources = append(sources, doc.SourceFileID)
	}
	slices.SortStableFunc(docs, func(a, b ChunkDoc) int {
		ra, okA := rank[a.ID]
		rb, okB := rank[b.ID]
		switch {
		case okA && okB:
			return cmp.Compare(ra, rb)
		case okA:
			return -1
		case okB:
			return 1
		}
		return strings.Compare(a.ID, b.ID)
	})
	RecordChunks(c.tracer, sources...)
	return docs, nil
}
