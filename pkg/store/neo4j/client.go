package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/sd8capricon/graph-rag/pkg/common"
	"github.com/sd8capricon/graph-rag/pkg/logger"
	"github.com/sd8capricon/graph-rag/pkg/store"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Client implements store.GraphStore on Neo4j with native vector indexes.
type Client struct {
	Driver       neo4j.DriverWithContext
	Database     string
	embeddingDim int
}

// NewClientParams configures the driver connection.
type NewClientParams struct {
	URI         string
	User        string
	Password    string
	Database    string
	MaxPoolSize int
	Timeout     time.Duration

	// EmbeddingDim is the dimension of both vector indexes.
	EmbeddingDim int
}

// NewClient opens a driver and verifies connectivity.
func NewClient(ctx context.Context, params NewClientParams) (*Client, error) {
	if params.URI == "" {
		return nil, fmt.Errorf("neo4j: uri is required")
	}
	if params.User == "" {
		params.User = "neo4j"
	}
	if params.Timeout <= 0 {
		params.Timeout = 10 * time.Second
	}
	if params.MaxPoolSize <= 0 {
		params.MaxPoolSize = 50
	}

	auth := neo4j.BasicAuth(params.User, params.Password, "")
	driver, err := neo4j.NewDriverWithContext(params.URI, auth, func(cfg *neo4j.Config) {
		cfg.MaxConnectionPoolSize = params.MaxPoolSize
		cfg.SocketConnectTimeout = params.Timeout
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j: init driver: %w", err)
	}

	vctx, cancel := context.WithTimeout(ctx, params.Timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(vctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j: verify connectivity: %w", err)
	}

	return &Client{
		Driver:       driver,
		Database:     params.Database,
		embeddingDim: params.EmbeddingDim,
	}, nil
}

// Close releases the driver.
func (c *Client) Close(ctx context.Context) error {
	if c == nil || c.Driver == nil {
		return nil
	}
	err := c.Driver.Close(ctx)
	c.Driver = nil
	return err
}

func (c *Client) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return c.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: c.Database,
	})
}

// Run executes q in a managed transaction and collects all rows.
func (c *Client) Run(ctx context.Context, q store.Query) ([]store.Record, error) {
	mode := neo4j.AccessModeWrite
	if q.ReadOnly {
		mode = neo4j.AccessModeRead
	}
	session := c.session(ctx, mode)
	defer session.Close(ctx)

	work := func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, q.Text, q.Params)
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]store.Record, len(records))
		for i, r := range records {
			out[i] = r.AsMap()
		}
		return out, nil
	}

	var (
		result any
		err    error
	)
	if q.ReadOnly {
		result, err = session.ExecuteRead(ctx, work)
	} else {
		result, err = session.ExecuteWrite(ctx, work)
	}
	if err != nil {
		return nil, fmt.Errorf("neo4j: %s: %w", q.Name, err)
	}
	return result.([]store.Record), nil
}

func (c *Client) exec(ctx context.Context, stmt string) error {
	session := c.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	res, err := session.Run(ctx, stmt, nil)
	if err != nil {
		return err
	}
	_, err = res.Consume(ctx)
	return err
}

// EnsureIndex creates the chunk and community vector indexes and the id
// uniqueness constraints.
func (c *Client) EnsureIndex(ctx context.Context) error {
	if c.embeddingDim <= 0 {
		return fmt.Errorf("neo4j: embedding dimension must be positive")
	}
	stmts := []string{
		`CREATE CONSTRAINT chunk_id_unique IF NOT EXISTS FOR (c:Chunk) REQUIRE c.id IS UNIQUE`,
		`CREATE CONSTRAINT file_id_unique IF NOT EXISTS FOR (f:File) REQUIRE f.id IS UNIQUE`,
		`CREATE CONSTRAINT community_id_unique IF NOT EXISTS FOR (c:Community) REQUIRE c.id IS UNIQUE`,
		vectorIndexStatement(store.ChunkIndex, store.LabelChunk, c.embeddingDim),
		vectorIndexStatement(store.CommunityIndex, store.LabelCommunity, c.embeddingDim),
	}
	for _, stmt := range stmts {
		if err := c.exec(ctx, stmt); err != nil {
			return fmt.Errorf("neo4j: ensure index: %w", err)
		}
	}
	logger.Debug("[Neo4j] Indexes ensured", "dimensions", c.embeddingDim)
	return nil
}

func vectorIndexStatement(name, label string, dim int) string {
	return fmt.Sprintf(
		"CREATE VECTOR INDEX %s IF NOT EXISTS FOR (n:%s) ON (n.embedding) "+
			"OPTIONS {indexConfig: {`vector.dimensions`: %d, `vector.similarity_function`: 'cosine'}}",
		name, label, dim,
	)
}

func toFloat64s(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

const addChunksQuery = `
UNWIND $chunks AS row
MERGE (c:Chunk {id: row.id})
SET c.text = row.text,
    c.source_file_id = row.source_file_id,
    c.source = row.source,
    c.knowledge_base_id = $knowledge_base_id
WITH c, row
CALL db.create.setNodeVectorProperty(c, 'embedding', row.embedding)
RETURN c.id AS id
`

// AddChunks merges chunk nodes and stores their embeddings.
func (c *Client) AddChunks(ctx context.Context, knowledgeBaseID string, chunks []common.Chunk) ([]string, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	rows := make([]map[string]any, 0, len(chunks))
	for _, ch := range chunks {
		if len(ch.Embedding) == 0 {
			return nil, fmt.Errorf("neo4j: chunk %s has no embedding", ch.ID)
		}
		rows = append(rows, map[string]any{
			"id":             ch.ID,
			"text":           ch.Text,
			"source_file_id": ch.SourceFileID,
			"source":         ch.Source,
			"embedding":      toFloat64s(ch.Embedding),
		})
	}

	records, err := c.Run(ctx, store.Query{
		Name: "chunk.add",
		Text: addChunksQuery,
		Params: map[string]any{
			"chunks":            rows,
			"knowledge_base_id": knowledgeBaseID,
		},
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.String("id"))
	}
	return ids, nil
}

const similarityQuery = `
CALL db.index.vector.queryNodes($index, $fetch, $vector) YIELD node, score
WHERE ($knowledge_base_id = '' OR node.knowledge_base_id = $knowledge_base_id)
  AND ($source_file_id = '' OR node.source_file_id = $source_file_id)
RETURN node.id AS id,
       coalesce(node.text, node.summary, '') AS text,
       node.source_file_id AS source_file_id,
       score
ORDER BY score DESC
LIMIT $k
`

// SimilaritySearch queries a vector index. With filters set, more
// candidates are fetched so that k survive the filter in the common case.
func (c *Client) SimilaritySearch(ctx context.Context, req store.SearchRequest) ([]store.SearchHit, error) {
	if req.K <= 0 || len(req.Vector) == 0 {
		return nil, nil
	}
	fetch := req.K
	if req.KnowledgeBaseID != "" || req.SourceFileID != "" {
		fetch = req.K * 4
	}

	records, err := c.Run(ctx, store.Query{
		Name: "vector.search",
		Text: similarityQuery,
		Params: map[string]any{
			"index":             req.Index,
			"fetch":             fetch,
			"k":                 req.K,
			"vector":            toFloat64s(req.Vector),
			"knowledge_base_id": req.KnowledgeBaseID,
			"source_file_id":    req.SourceFileID,
		},
		ReadOnly: true,
	})
	if err != nil {
		return nil, err
	}

	hits := make([]store.SearchHit, 0, len(records))
	for _, r := range records {
		hits = append(hits, store.SearchHit{
			ID:           r.String("id"),
			Text:         r.String("text"),
			SourceFileID: r.String("source_file_id"),
			Score:        r.Float("score"),
		})
	}
	return hits, nil
}
