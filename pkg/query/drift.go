package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sd8capricon/graph-rag/pkg/ai"
	"github.com/sd8capricon/graph-rag/pkg/logger"
	"github.com/sd8capricon/graph-rag/pkg/store"
)

// DriftConfig bounds a DRIFT search. The root has depth 0, so a search
// visits at most sum(MaxFollowUps^d) nodes for d in [0, MaxDepth].
type DriftConfig struct {
	TopK         int
	MaxDepth     int
	MaxFollowUps int

	// Timeout bounds the whole search. Zero disables it.
	Timeout time.Duration

	// Parallel runs sibling follow-ups concurrently. Children are still
	// attached in follow-up order.
	Parallel bool
}

// DefaultDriftConfig returns top_k 5, depth 2, three follow-ups and a two
// minute timeout.
func DefaultDriftConfig() DriftConfig {
	return DriftConfig{
		TopK:         5,
		MaxDepth:     2,
		MaxFollowUps: 3,
		Timeout:      2 * time.Minute,
	}
}

type primerAnswer struct {
	Answer            string   `json:"answer" jsonschema_description:"Answer to the query, using only the provided context."`
	FollowUpQuestions []string `json:"follow_up_questions" jsonschema_description:"Follow-up questions that explore the context further."`
}

// DriftRetriever runs DRIFT searches over community summaries.
type DriftRetriever struct {
	client ai.GraphAIClient
	store  store.GraphStore
	config DriftConfig
	tracer Tracer
}

type DriftOption func(*DriftRetriever)

// WithDriftConfig replaces the default configuration. Non-positive bounds
// keep their defaults.
func WithDriftConfig(cfg DriftConfig) DriftOption {
	return func(d *DriftRetriever) {
		def := DefaultDriftConfig()
		if cfg.TopK <= 0 {
			cfg.TopK = def.TopK
		}
		if cfg.MaxDepth < 0 {
			cfg.MaxDepth = def.MaxDepth
		}
		if cfg.MaxFollowUps < 0 {
			cfg.MaxFollowUps = def.MaxFollowUps
		}
		d.config = cfg
	}
}

// WithTracer records node visits and retrieved communities.
func WithTracer(t Tracer) DriftOption {
	return func(d *DriftRetriever) {
		d.tracer = t
	}
}

func NewDriftRetriever(client ai.GraphAIClient, s store.GraphStore, opts ...DriftOption) *DriftRetriever {
	d := &DriftRetriever{
		client: client,
		store:  s,
		config: DefaultDriftConfig(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Config returns the active configuration.
func (d *DriftRetriever) Config() DriftConfig {
	return d.config
}

// Search runs a DRIFT search for query and returns the answer tree.
func (d *DriftRetriever) Search(ctx context.Context, knowledgeBaseID, query string) (*Node, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query must not be empty")
	}
	if d.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.Timeout)
		defer cancel()
	}

	start := time.Now()
	root, err := d.search(ctx, knowledgeBaseID, query, 0)
	if err != nil {
		return nil, err
	}
	logger.Info("[Drift] Search finished",
		"knowledge_base_id", knowledgeBaseID,
		"nodes", root.Size(),
		"duration", time.Since(start),
	)
	return root, nil
}

func (d *DriftRetriever) search(ctx context.Context, kbID, query string, depth int) (*Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	expanded, err := d.expand(ctx, query)
	if err != nil {
		return nil, err
	}
	communities, err := d.communities(ctx, kbID, expanded)
	if err != nil {
		return nil, err
	}
	answer, followUps, err := d.primer(ctx, query, communities)
	if err != nil {
		return nil, err
	}

	node := &Node{Query: query, Answer: answer, Depth: depth}
	RecordNode(d.tracer, query, depth)
	if depth >= d.config.MaxDepth || len(followUps) == 0 {
		return node, nil
	}

	children := make([]*Node, len(followUps))
	if d.config.Parallel {
		g, gCtx := errgroup.WithContext(ctx)
		for i, q := range followUps {
			g.Go(func() error {
				child, err := d.search(gCtx, kbID, q, depth+1)
				children[i] = child
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		for i, q := range followUps {
			child, err := d.search(ctx, kbID, q, depth+1)
			if err != nil {
				return nil, err
			}
			children[i] = child
		}
	}
	for _, c := range children {
		node.AddChild(c)
	}
	return node, nil
}

// expand appends a hypothetical answer passage to the query. The result is
// only used for retrieval.
func (d *DriftRetriever) expand(ctx context.Context, query string) (string, error) {
	res, err := d.client.GenerateChat(
		ctx,
		[]ai.ChatMessage{ai.UserMessage("Question " + query)},
		ai.WithSystemPrompts(ai.HydePrompt),
	)
	if err != nil {
		return "", fmt.Errorf("failed to expand query: %w", err)
	}
	return query + res, nil
}

func (d *DriftRetriever) communities(ctx context.Context, kbID, expanded string) ([]store.SearchHit, error) {
	vectors, err := d.client.GenerateEmbeddings(ctx, []string{expanded})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("expected 1 query embedding, got %d", len(vectors))
	}

	hits, err := d.store.SimilaritySearch(ctx, store.SearchRequest{
		Index:           store.CommunityIndex,
		Vector:          vectors[0],
		K:               d.config.TopK,
		KnowledgeBaseID: kbID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search communities: %w", err)
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	RecordCommunities(d.tracer, ids...)
	return hits, nil
}

func primerContext(hits []store.SearchHit) string {
	texts := make([]string, len(hits))
	for i, h := range hits {
		texts[i] = h.Text
	}
	return "Context:\n\n" + strings.Join(texts, "\n\n---\n\n")
}

// primer answers query from the community summaries and proposes
// follow-ups. Without context it answers ai.NotFoundAnswer and does not
// call the model.
func (d *DriftRetriever) primer(ctx context.Context, query string, hits []store.SearchHit) (string, []string, error) {
	if len(hits) == 0 {
		return ai.NotFoundAnswer, nil, nil
	}

	prompt := fmt.Sprintf(
		ai.PrimerPrompt,
		d.config.MaxFollowUps,
		ai.NotFoundAnswer,
		ai.FormatInstructions(primerAnswer{}),
	)
	res, err := ai.GenerateStructured[primerAnswer](
		ctx,
		d.client,
		[]ai.ChatMessage{
			ai.SystemMessage(primerContext(hits)),
			ai.UserMessage(query),
		},
		ai.WithSystemPrompts(prompt),
		ai.WithJSONMode(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("failed to answer from communities: %w", err)
	}
	if !res.Ok() {
		return "", nil, fmt.Errorf("failed to answer from communities: %w", res.Err)
	}

	answer := strings.TrimSpace(res.Value.Answer)
	if answer == ai.NotFoundAnswer {
		return answer, nil, nil
	}

	followUps := make([]string, 0, d.config.MaxFollowUps)
	for _, q := range res.Value.FollowUpQuestions {
		if len(followUps) == d.config.MaxFollowUps {
			break
		}
		if q = strings.TrimSpace(q); q != "" {
			followUps = append(followUps, q)
		}
	}
	return answer, followUps, nil
}
