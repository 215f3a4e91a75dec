package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/sd8capricon/graph-rag/pkg/ai"
	"github.com/sd8capricon/graph-rag/pkg/logger"
	"github.com/sd8capricon/graph-rag/pkg/store"
)

// rawCommunityProperty receives the detector's integer ids before they are
// namespaced into community_id.
const rawCommunityProperty = "community_raw"

const defaultSummaryParallel = 4

// CommunitySummarizer groups a file's graph into communities and stores an
// LM summary with its embedding on one Community node per group.
type CommunitySummarizer struct {
	store     store.GraphStore
	detector  store.CommunityDetector
	client    ai.GraphAIClient
	summaries bool
	parallel  int
	batchSize int
}

// NewCommunitySummarizerParams configures a CommunitySummarizer. With
// Summaries false only detection and Community nodes are written.
type NewCommunitySummarizerParams struct {
	Store     store.GraphStore
	Detector  store.CommunityDetector
	Client    ai.GraphAIClient
	Summaries bool
	Parallel  int
	BatchSize int
}

func NewCommunitySummarizer(params NewCommunitySummarizerParams) *CommunitySummarizer {
	s := &CommunitySummarizer{
		store:     params.Store,
		detector:  params.Detector,
		client:    params.Client,
		summaries: params.Summaries,
		parallel:  params.Parallel,
		batchSize: params.BatchSize,
	}
	if s.parallel <= 0 {
		s.parallel = defaultSummaryParallel
	}
	if s.batchSize <= 0 {
		s.batchSize = defaultEmbeddingBatchSize
	}
	return s
}

// CheckConfig fails when summaries are requested without a language model.
func (s *CommunitySummarizer) CheckConfig() error {
	if s.store == nil || s.detector == nil {
		return fmt.Errorf("%w: community summarizer needs a store and a detector", ErrConfig)
	}
	if s.summaries && s.client == nil {
		return fmt.Errorf("%w: community summaries requested but no language model configured", ErrConfig)
	}
	return nil
}

// CommunityTriplet is one edge inside a community as shown to the model.
type CommunityTriplet struct {
	Source       TripletNode `json:"source"`
	Relationship string      `json:"relationship"`
	Target       TripletNode `json:"target"`
}

// TripletNode is an edge endpoint without bookkeeping properties.
type TripletNode struct {
	Labels     []string       `json:"labels"`
	Properties map[string]any `json:"properties"`
}

const namespaceQuery = `
MATCH (n)
WHERE n.source_file_id = $source_file_id AND n.community_raw IS NOT NULL
SET n.community_id = $source_file_id + '_' + toString(n.community_raw)
REMOVE n.community_raw
RETURN count(n) AS nodes
`

const communityNodesQuery = `
MATCH (e)
WHERE e.source_file_id = $source_file_id AND NOT e:Chunk AND NOT e:Community
  AND e.community_id IS NOT NULL
WITH e.community_id AS cid, collect(e) AS members
MERGE (c:Community {id: cid})
ON CREATE SET c.source_file_id = $source_file_id,
              c.knowledge_base_id = $knowledge_base_id
WITH c, members
UNWIND members AS m
MERGE (m)-[:IN_COMMUNITY]->(c)
RETURN DISTINCT c.id AS id
`

const communityTripletsQuery = `
MATCH (c:Community {source_file_id: $source_file_id})<-[:IN_COMMUNITY]-(e)
WITH c, collect(e) AS members
UNWIND members AS src
MATCH (src)-[r]->(tgt)
WHERE tgt IN members AND type(r) <> 'IN_COMMUNITY'
WITH c, src, r, tgt
ORDER BY c.id, src.id, type(r), tgt.id
RETURN c.id AS community_id,
       collect({
         source_labels: labels(src),
         source: properties(src),
         relationship: type(r),
         target_labels: labels(tgt),
         target: properties(tgt)
       }) AS triplets
`

const communitySummaryQuery = `
UNWIND $rows AS row
MATCH (c:Community {id: row.id})
SET c.summary = row.summary
WITH c, row
CALL db.create.setNodeVectorProperty(c, 'embedding', row.embedding)
RETURN count(c) AS communities
`

// Summarize runs detection over the run's labels and relationships,
// namespaces the ids by file, writes Community nodes and, if enabled,
// their summaries.
func (s *CommunitySummarizer) Summarize(ctx context.Context, run *IngestRun) error {
	if err := s.CheckConfig(); err != nil {
		return err
	}

	labels, rels, err := s.existingSchema(ctx, run)
	if err != nil {
		return err
	}
	if len(rels) == 0 {
		logger.Info("[Community] No relationships to project, skipping detection", "file_id", run.File.ID)
		return nil
	}

	graphName := "communities_" + gonanoid.Must(12)
	if err := s.detector.Detect(ctx, store.DetectRequest{
		GraphName:     graphName,
		Labels:        labels,
		Relationships: rels,
		WriteProperty: rawCommunityProperty,
		SourceFileID:  run.File.ID,
	}); err != nil {
		return fmt.Errorf("failed to detect communities: %w", err)
	}

	if _, err := s.store.Run(ctx, store.Query{
		Name:   "community.namespace",
		Text:   namespaceQuery,
		Params: map[string]any{"source_file_id": run.File.ID},
	}); err != nil {
		return fmt.Errorf("failed to namespace communities: %w", err)
	}

	records, err := s.store.Run(ctx, store.Query{
		Name: "community.merge",
		Text: communityNodesQuery,
		Params: map[string]any{
			"source_file_id":    run.File.ID,
			"knowledge_base_id": run.KnowledgeBase.ID,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to write community nodes: %w", err)
	}
	logger.Info("[Community] Communities written", "file_id", run.File.ID, "communities", len(records))

	if !s.summaries || len(records) == 0 {
		return nil
	}
	return s.summarizeCommunities(ctx, run)
}

// existingSchema intersects the run's labels and relationship types with
// those present in the database. Projecting an unknown type fails.
func (s *CommunitySummarizer) existingSchema(ctx context.Context, run *IngestRun) ([]string, []string, error) {
	labelRecords, err := s.store.Run(ctx, store.Query{
		Name:     "schema.labels",
		Text:     "CALL db.labels() YIELD label RETURN label",
		ReadOnly: true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list labels: %w", err)
	}
	relRecords, err := s.store.Run(ctx, store.Query{
		Name:     "schema.relationships",
		Text:     "CALL db.relationshipTypes() YIELD relationshipType RETURN relationshipType",
		ReadOnly: true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list relationship types: %w", err)
	}

	present := func(records []store.Record, key string, want []string) []string {
		have := make(map[string]struct{}, len(records))
		for _, r := range records {
			have[r.String(key)] = struct{}{}
		}
		var out []string
		for _, w := range want {
			if _, ok := have[w]; ok {
				out = append(out, w)
			}
		}
		return out
	}
	return present(labelRecords, "label", run.Labels),
		present(relRecords, "relationshipType", run.Relationships),
		nil
}

// communityTriplets loads the internal edges of every community of the
// file, keyed by community id.
func (s *CommunitySummarizer) communityTriplets(ctx context.Context, fileID string) (map[string][]CommunityTriplet, error) {
	records, err := s.store.Run(ctx, store.Query{
		Name:     "community.triplets",
		Text:     communityTripletsQuery,
		Params:   map[string]any{"source_file_id": fileID},
		ReadOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load community triplets: %w", err)
	}

	out := make(map[string][]CommunityTriplet, len(records))
	for _, r := range records {
		id := r.String("community_id")
		rows, _ := r["triplets"].([]any)
		for _, row := range rows {
			m, ok := row.(map[string]any)
			if !ok {
				continue
			}
			out[id] = append(out[id], CommunityTriplet{
				Source:       tripletNode(m["source_labels"], m["source"]),
				Relationship: store.Record(m).String("relationship"),
				Target:       tripletNode(m["target_labels"], m["target"]),
			})
		}
	}
	return out, nil
}

func tripletNode(labels, properties any) TripletNode {
	node := TripletNode{
		Labels:     store.Record{"l": labels}.Strings("l"),
		Properties: map[string]any{},
	}
	if props, ok := properties.(map[string]any); ok {
		for k, v := range props {
			if !slices.Contains(reservedProperties, k) {
				node.Properties[k] = v
			}
		}
	}
	return node
}

// summarizeCommunities asks the model for one summary per community.
// A failing community is logged and left without summary.
func (s *CommunitySummarizer) summarizeCommunities(ctx context.Context, run *IngestRun) error {
	triplets, err := s.communityTriplets(ctx, run.File.ID)
	if err != nil {
		return err
	}
	ids := slices.Sorted(maps.Keys(triplets))
	summaries := make([]string, len(ids))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallel)
	for i, id := range ids {
		g.Go(func() error {
			summary, err := s.summarize(gCtx, triplets[id])
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Error("[Community] Summary failed", "community_id", id, "err", err)
				return nil
			}
			summaries[i] = summary
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var keptIDs, keptSummaries []string
	for i, summary := range summaries {
		if summary != "" {
			keptIDs = append(keptIDs, ids[i])
			keptSummaries = append(keptSummaries, summary)
		}
	}
	if len(keptIDs) == 0 {
		logger.Warn("[Community] No summaries produced", "file_id", run.File.ID, "communities", len(ids))
		return nil
	}

	vectors, err := store.GenerateEmbeddings(ctx, s.client, keptSummaries, s.batchSize)
	if err != nil {
		return err
	}

	rows := make([]map[string]any, len(keptIDs))
	for i, id := range keptIDs {
		embedding := make([]float64, len(vectors[i]))
		for j, v := range vectors[i] {
			embedding[j] = float64(v)
		}
		rows[i] = map[string]any{"id": id, "summary": keptSummaries[i], "embedding": embedding}
	}
	if _, err := s.store.Run(ctx, store.Query{
		Name:   "community.summaries",
		Text:   communitySummaryQuery,
		Params: map[string]any{"rows": rows},
	}); err != nil {
		return fmt.Errorf("failed to write community summaries: %w", err)
	}
	logger.Info("[Community] Summaries written",
		"file_id", run.File.ID,
		"summaries", len(keptIDs),
		"skipped", len(ids)-len(keptIDs),
	)
	return nil
}

func (s *CommunitySummarizer) summarize(ctx context.Context, triplets []CommunityTriplet) (string, error) {
	b, err := json.MarshalIndent(triplets, "", "  ")
	if err != nil {
		return "", err
	}
	out, err := s.client.GenerateChat(
		ctx,
		[]ai.ChatMessage{ai.UserMessage(fmt.Sprintf(ai.CommunitySummaryUserPrompt, b))},
		ai.WithSystemPrompts(ai.CommunitySummaryPrompt),
		ai.WithTemperature(0.2),
	)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
