package graph

import (
	"context"
	"fmt"

	"github.com/sd8capricon/graph-rag/pkg/ai"
	"github.com/sd8capricon/graph-rag/pkg/logger"
	"github.com/sd8capricon/graph-rag/pkg/store"
)

const (
	defaultNeighbours         = 3
	defaultLexicalThreshold   = 0.75
	defaultEmbeddingBatchSize = 64
)

// LexicalIngestor embeds chunks, writes them with their File node and links
// similar chunks of the same file with SIMILAR edges.
type LexicalIngestor struct {
	store     store.GraphStore
	client    ai.GraphAIClient
	k         int
	threshold float64
	batchSize int
}

// LexicalOption configures a LexicalIngestor.
type LexicalOption func(*LexicalIngestor)

// WithNeighbours sets how many nearest neighbours are requested per chunk.
func WithNeighbours(k int) LexicalOption {
	return func(l *LexicalIngestor) {
		if k > 0 {
			l.k = k
		}
	}
}

// WithThreshold sets the score a neighbour must strictly exceed.
func WithThreshold(threshold float64) LexicalOption {
	return func(l *LexicalIngestor) {
		l.threshold = threshold
	}
}

// WithEmbeddingBatchSize sets how many chunks are embedded per request.
func WithEmbeddingBatchSize(n int) LexicalOption {
	return func(l *LexicalIngestor) {
		if n > 0 {
			l.batchSize = n
		}
	}
}

func NewLexicalIngestor(s store.GraphStore, client ai.GraphAIClient, opts ...LexicalOption) *LexicalIngestor {
	l := &LexicalIngestor{
		store:     s,
		client:    client,
		k:         defaultNeighbours,
		threshold: defaultLexicalThreshold,
		batchSize: defaultEmbeddingBatchSize,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *LexicalIngestor) Name() string { return "lexical" }

func (l *LexicalIngestor) CheckConfig() error {
	if l.store == nil || l.client == nil {
		return fmt.Errorf("%w: lexical ingestor needs a store and an embedding client", ErrConfig)
	}
	return nil
}

const fileNodeQuery = `
MERGE (f:File {id: $file_id})
ON CREATE SET f.name = $name,
              f.knowledge_base_id = $knowledge_base_id,
              f.createdAt = timestamp()
ON MATCH SET f.name = $name
WITH f
MATCH (c:Chunk {source_file_id: f.id})
MERGE (c)-[:CHUNK_OF]->(f)
RETURN count(c) AS chunks
`

const similarEdgesQuery = `
UNWIND $edges AS edge
MATCH (from:Chunk {id: edge.from})
MATCH (to:Chunk {id: edge.to})
WHERE from <> to AND from.source_file_id = to.source_file_id
MERGE (from)-[r:SIMILAR]->(to)
ON CREATE SET r.score = edge.score
RETURN count(r) AS edges
`

// SimilarEdge is a candidate SIMILAR edge between two chunks.
type SimilarEdge struct {
	From  string
	To    string
	Score float64
}

// Ingest writes the lexical graph of one file.
func (l *LexicalIngestor) Ingest(ctx context.Context, run *IngestRun) error {
	if err := l.CheckConfig(); err != nil {
		return err
	}
	if len(run.Chunks) == 0 {
		return nil
	}

	texts := make([]string, len(run.Chunks))
	for i, c := range run.Chunks {
		texts[i] = c.Text
	}
	vectors, err := store.GenerateEmbeddings(ctx, l.client, texts, l.batchSize)
	if err != nil {
		return err
	}
	for i := range run.Chunks {
		run.Chunks[i].Embedding = vectors[i]
	}

	ids, err := l.store.AddChunks(ctx, run.KnowledgeBase.ID, run.Chunks)
	if err != nil {
		return fmt.Errorf("failed to add chunks: %w", err)
	}
	logger.Debug("[Lexical] Chunks stored", "file_id", run.File.ID, "chunks", len(ids))

	if _, err := l.store.Run(ctx, store.Query{
		Name: "file.merge",
		Text: fileNodeQuery,
		Params: map[string]any{
			"file_id":           run.File.ID,
			"name":              run.File.Name,
			"knowledge_base_id": run.KnowledgeBase.ID,
		},
	}); err != nil {
		return fmt.Errorf("failed to write file node: %w", err)
	}

	edges, err := l.similarEdges(ctx, run)
	if err != nil {
		return err
	}
	if len(edges) == 0 {
		return nil
	}

	rows := make([]map[string]any, len(edges))
	for i, e := range edges {
		rows[i] = map[string]any{"from": e.From, "to": e.To, "score": e.Score}
	}
	if _, err := l.store.Run(ctx, store.Query{
		Name:   "chunk.similar",
		Text:   similarEdgesQuery,
		Params: map[string]any{"edges": rows},
	}); err != nil {
		return fmt.Errorf("failed to write similar edges: %w", err)
	}
	logger.Info("[Lexical] Similar edges written", "file_id", run.File.ID, "edges", len(edges))
	return nil
}

// similarEdges runs a k-nearest-neighbour search per chunk within the file
// and keeps neighbours that are not the chunk itself and score strictly
// above the threshold.
func (l *LexicalIngestor) similarEdges(ctx context.Context, run *IngestRun) ([]SimilarEdge, error) {
	var edges []SimilarEdge
	for _, c := range run.Chunks {
		hits, err := l.store.SimilaritySearch(ctx, store.SearchRequest{
			Index:           store.ChunkIndex,
			Vector:          c.Embedding,
			K:               l.k,
			KnowledgeBaseID: run.KnowledgeBase.ID,
			SourceFileID:    run.File.ID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to search neighbours of chunk %s: %w", c.ID, err)
		}
		for _, h := range hits {
			if h.ID == c.ID || h.SourceFileID != c.SourceFileID {
				continue
			}
			if h.Score > l.threshold {
				edges = append(edges, SimilarEdge{From: c.ID, To: h.ID, Score: h.Score})
			}
		}
	}
	return edges, nil
}
