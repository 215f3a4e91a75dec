package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/sd8capricon/graph-rag/pkg/common"
	"github.com/sd8capricon/graph-rag/pkg/logger"
	"github.com/sd8capricon/graph-rag/pkg/store"
)

// Property keys owned by the graph itself. Extracted properties never
// overwrite them.
var reservedProperties = []string{
	"id",
	"knowledge_base_id",
	"source_file_id",
	"community_id",
	"community_raw",
	"embedding",
}

// PropertyIngestor extracts entities and triplets from a file's chunks,
// writes them as the property graph and, when a summarizer is set, builds
// community summaries over the result.
type PropertyIngestor struct {
	store      store.GraphStore
	extractor  *Extractor
	summarizer *CommunitySummarizer
}

func NewPropertyIngestor(
	s store.GraphStore,
	extractor *Extractor,
	summarizer *CommunitySummarizer,
) *PropertyIngestor {
	return &PropertyIngestor{store: s, extractor: extractor, summarizer: summarizer}
}

func (p *PropertyIngestor) Name() string { return "property" }

// CheckConfig validates the ingestor and its summarizer without touching
// the store.
func (p *PropertyIngestor) CheckConfig() error {
	if p.store == nil || p.extractor == nil {
		return fmt.Errorf("%w: property ingestor needs a store and an extractor", ErrConfig)
	}
	if p.summarizer != nil {
		return p.summarizer.CheckConfig()
	}
	return nil
}

// Ingest runs extraction, the property graph write and, optionally,
// community summarization for one file.
func (p *PropertyIngestor) Ingest(ctx context.Context, run *IngestRun) error {
	if err := p.CheckConfig(); err != nil {
		return err
	}

	result, err := p.extractor.Extract(ctx, run.Chunks, run.Ontology)
	if err != nil {
		return err
	}
	run.Stats = result.Stats
	logger.Info("[Ingest] Extraction finished",
		"file_id", run.File.ID,
		"entities", len(result.Entities),
		"triplets", len(result.Triplets),
	)

	allow := store.NewAllowList(run.Ontology)
	if err := p.writeEntities(ctx, allow, run, result.Entities); err != nil {
		return err
	}
	if err := p.writeTriplets(ctx, allow, run, result.Entities, result.Triplets); err != nil {
		return err
	}

	if p.summarizer == nil {
		return nil
	}
	return p.summarizer.Summarize(ctx, run)
}

// graphProperties converts extracted properties into values a graph node
// can store. Keys travel as parameter values, so any non-empty key that is
// not reserved is kept. Nested maps and mixed lists are stored as JSON
// strings.
func graphProperties(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if strings.TrimSpace(k) == "" || slices.Contains(reservedProperties, k) || v == nil {
			continue
		}
		switch val := v.(type) {
		case string, bool, float64, int, int64:
			out[k] = val
		case []any:
			if s, ok := homogeneousList(val); ok {
				out[k] = s
				continue
			}
			if b, err := json.Marshal(val); err == nil {
				out[k] = string(b)
			}
		default:
			if b, err := json.Marshal(val); err == nil {
				out[k] = string(b)
			}
		}
	}
	return out
}

func homogeneousList(in []any) (any, bool) {
	if len(in) == 0 {
		return []string{}, true
	}
	switch in[0].(type) {
	case string:
		out := make([]string, 0, len(in))
		for _, v := range in {
			s, ok := v.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	case float64:
		out := make([]float64, 0, len(in))
		for _, v := range in {
			f, ok := v.(float64)
			if !ok {
				return nil, false
			}
			out = append(out, f)
		}
		return out, true
	}
	return nil, false
}

// writeEntities merges one node per entity keyed by (label, id,
// knowledge_base_id, source_file_id), sets its properties and links it to
// every chunk that mentioned it.
func (p *PropertyIngestor) writeEntities(
	ctx context.Context,
	allow *store.AllowList,
	run *IngestRun,
	entities []common.Entity,
) error {
	byLabel := map[string][]map[string]any{}
	var labels []string
	for _, e := range entities {
		if _, ok := byLabel[e.Label]; !ok {
			labels = append(labels, e.Label)
		}
		byLabel[e.Label] = append(byLabel[e.Label], map[string]any{
			"id":         e.ID,
			"properties": graphProperties(e.Properties),
			"doc_ids":    e.DocIDList(),
		})
	}

	for _, label := range labels {
		q, err := allow.Cypher().
			Text("UNWIND $entities AS row\nMERGE (e:").Label(label).
			Text(` {id: row.id, knowledge_base_id: $knowledge_base_id, source_file_id: $source_file_id})
SET e += row.properties
WITH e, row
UNWIND row.doc_ids AS doc_id
MATCH (c:Chunk {id: doc_id})
MERGE (e)-[:BELONGS_TO]->(c)
RETURN count(DISTINCT e) AS entities`).
			Build("entity.merge", map[string]any{
				"entities":          byLabel[label],
				"knowledge_base_id": run.KnowledgeBase.ID,
				"source_file_id":    run.File.ID,
			})
		if err != nil {
			return err
		}
		if _, err := p.store.Run(ctx, q); err != nil {
			return fmt.Errorf("failed to write %s entities: %w", label, err)
		}
		run.addLabel(label)
	}
	return nil
}

type tripletKey struct {
	source, rel, target string
}

// writeTriplets merges one typed edge per triplet. A triplet whose endpoint
// node is missing matches nothing and writes nothing.
func (p *PropertyIngestor) writeTriplets(
	ctx context.Context,
	allow *store.AllowList,
	run *IngestRun,
	entities []common.Entity,
	triplets []common.Triplet,
) error {
	labelOf := make(map[string]string, len(entities))
	for _, e := range entities {
		labelOf[e.ID] = e.Label
	}

	groups := map[tripletKey][]map[string]any{}
	var keys []tripletKey
	for _, t := range triplets {
		key := tripletKey{labelOf[t.SourceID], t.Relationship, labelOf[t.TargetID]}
		if key.source == "" || key.target == "" {
			continue
		}
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], map[string]any{
			"source_id": t.SourceID,
			"target_id": t.TargetID,
		})
	}

	for _, key := range keys {
		q, err := allow.Cypher().
			Text("UNWIND $triplets AS t\nMATCH (s:").Label(key.source).
			Text(" {id: t.source_id, source_file_id: $source_file_id})\nMATCH (o:").Label(key.target).
			Text(" {id: t.target_id, source_file_id: $source_file_id})\nMERGE (s)-[r:").Rel(key.rel).
			Text("]->(o)\nRETURN count(r) AS relationships").
			Build("triplet.merge", map[string]any{
				"triplets":       groups[key],
				"source_file_id": run.File.ID,
			})
		if err != nil {
			return err
		}
		if _, err := p.store.Run(ctx, q); err != nil {
			return fmt.Errorf("failed to write %s relationships: %w", key.rel, err)
		}
		run.addRelationship(key.rel)
	}
	return nil
}
