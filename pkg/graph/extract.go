package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"strings"

	"github.com/sd8capricon/graph-rag/pkg/ai"
	"github.com/sd8capricon/graph-rag/pkg/common"
	"github.com/sd8capricon/graph-rag/pkg/logger"
)

type extractionOutput struct {
	Entities []common.Entity  `json:"entities" jsonschema_description:"Entities found in the text, including reused existing entities."`
	Triplets []common.Triplet `json:"triplets" jsonschema_description:"Relationships between entities of this output."`
}

// ExtractStats counts what the extractor kept and discarded.
type ExtractStats struct {
	Chunks            int `json:"chunks"`
	EntitiesReturned  int `json:"entities_returned"`
	EntitiesDiscarded int `json:"entities_discarded"`
	TripletsReturned  int `json:"triplets_returned"`
	TripletsDiscarded int `json:"triplets_discarded"`
	TripletsDropped   int `json:"triplets_dropped"`
}

// ExtractResult holds entities with their final ids and the triplets that
// reference them.
type ExtractResult struct {
	Entities []common.Entity
	Triplets []common.Triplet
	Stats    ExtractStats
}

// EntityStorage is the running id -> entity dictionary of one extraction
// pass. Iteration follows first insertion.
type EntityStorage struct {
	byID  map[string]*common.Entity
	order []string
}

func NewEntityStorage() *EntityStorage {
	return &EntityStorage{byID: map[string]*common.Entity{}}
}

// MergeEntity folds src into dst: doc ids are unioned with chunkID and
// properties are shallow-merged with src winning on conflicts.
func MergeEntity(dst *common.Entity, src common.Entity, chunkID string) {
	if dst.Properties == nil {
		dst.Properties = map[string]any{}
	}
	maps.Copy(dst.Properties, src.Properties)
	if dst.DocIDs == nil {
		dst.DocIDs = map[string]struct{}{}
	}
	dst.DocIDs[chunkID] = struct{}{}
}

// Merge inserts e, or merges it into the stored entity with the same id.
func (s *EntityStorage) Merge(e common.Entity, chunkID string) {
	if existing, ok := s.byID[e.ID]; ok {
		MergeEntity(existing, e, chunkID)
		return
	}
	stored := &common.Entity{ID: e.ID, Label: e.Label}
	MergeEntity(stored, e, chunkID)
	s.byID[e.ID] = stored
	s.order = append(s.order, e.ID)
}

func (s *EntityStorage) Get(id string) (*common.Entity, bool) {
	e, ok := s.byID[id]
	return e, ok
}

func (s *EntityStorage) Len() int { return len(s.order) }

// Entities returns copies of the stored entities in insertion order.
func (s *EntityStorage) Entities() []common.Entity {
	out := make([]common.Entity, 0, len(s.order))
	for _, id := range s.order {
		e := s.byID[id]
		out = append(out, common.Entity{
			ID:         e.ID,
			Label:      e.Label,
			Properties: maps.Clone(e.Properties),
			DocIDs:     maps.Clone(e.DocIDs),
		})
	}
	return out
}

// snapshotJSON serializes the stored entities for the prompt. DocIDs are
// excluded by the entity's JSON tags.
func (s *EntityStorage) snapshotJSON() (string, error) {
	entities := s.Entities()
	if len(entities) == 0 {
		return "[]", nil
	}
	b, err := json.MarshalIndent(entities, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Extractor performs ontology-constrained entity and relationship
// extraction over the chunks of one file.
type Extractor struct {
	client ai.GraphAIClient
}

func NewExtractor(client ai.GraphAIClient) *Extractor {
	return &Extractor{client: client}
}

func extractionPrompt(ontology *common.Ontology, existing string) (string, error) {
	labels, err := json.Marshal(ontology.EntityLabels)
	if err != nil {
		return "", err
	}
	rules, err := json.Marshal(ontology.RelationshipRules)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(
		ai.ExtractionPrompt,
		labels,
		rules,
		existing,
		ai.FormatInstructions(extractionOutput{}),
	), nil
}

// Extract processes chunks strictly in order, using the entities found so
// far as coreference context for the next chunk. After the loop every
// entity gets a fresh id and triplets with unknown endpoints are dropped.
//
// A response that cannot be parsed aborts the extraction with an error
// wrapping ai.ErrExtraction.
func (x *Extractor) Extract(
	ctx context.Context,
	chunks []common.Chunk,
	ontology *common.Ontology,
) (*ExtractResult, error) {
	if x.client == nil {
		return nil, fmt.Errorf("%w: extractor needs a language model", ErrConfig)
	}
	if ontology == nil || len(ontology.EntityLabels) == 0 {
		return nil, fmt.Errorf("%w: extractor needs an ontology", ErrConfig)
	}

	storage := NewEntityStorage()
	var triplets []common.Triplet
	var stats ExtractStats

	for _, chunk := range chunks {
		if strings.TrimSpace(chunk.Text) == "" {
			continue
		}
		stats.Chunks++

		existing, err := storage.snapshotJSON()
		if err != nil {
			return nil, fmt.Errorf("failed to serialize entities: %w", err)
		}
		prompt, err := extractionPrompt(ontology, existing)
		if err != nil {
			return nil, fmt.Errorf("failed to build extraction prompt: %w", err)
		}

		res, err := ai.GenerateStructured[extractionOutput](
			ctx,
			x.client,
			[]ai.ChatMessage{ai.UserMessage(chunk.Text)},
			ai.WithSystemPrompts(prompt),
			ai.WithJSONMode(),
			ai.WithTemperature(0.1),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to extract chunk %s: %w", chunk.ID, err)
		}
		if !res.Ok() {
			return nil, fmt.Errorf("failed to extract chunk %s: %w", chunk.ID, res.Err)
		}

		stats.EntitiesReturned += len(res.Value.Entities)
		for _, e := range res.Value.Entities {
			e.ID = strings.TrimSpace(e.ID)
			if e.ID == "" || !ontology.HasLabel(e.Label) {
				stats.EntitiesDiscarded++
				continue
			}
			storage.Merge(e, chunk.ID)
		}

		stats.TripletsReturned += len(res.Value.Triplets)
		for _, t := range res.Value.Triplets {
			if !ontology.HasRelationship(t.Relationship) {
				stats.TripletsDiscarded++
				continue
			}
			triplets = append(triplets, t)
		}
	}

	entities, kept, dropped, err := ReassignIDs(storage.Entities(), triplets)
	if err != nil {
		return nil, err
	}
	stats.TripletsDropped = dropped
	if dropped > 0 || stats.EntitiesDiscarded > 0 || stats.TripletsDiscarded > 0 {
		logger.Debug("[Extract] Discarded extraction output",
			"entities_discarded", stats.EntitiesDiscarded,
			"triplets_discarded", stats.TripletsDiscarded,
			"triplets_dropped", dropped,
		)
	}

	return &ExtractResult{Entities: entities, Triplets: kept, Stats: stats}, nil
}
