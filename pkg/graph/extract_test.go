package graph

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sd8capricon/graph-rag/pkg/ai"
	"github.com/sd8capricon/graph-rag/pkg/common"
)

var racingOntology = &common.Ontology{
	EntityLabels: []string{"Driver", "Team"},
	RelationshipRules: []common.RelationshipRule{
		{SourceLabel: "Driver", Relationship: "works_for", TargetLabel: "Team"},
	},
}

func TestMergeEntityIsIdempotent(t *testing.T) {
	dst := &common.Entity{ID: "senna", Label: "Driver"}
	MergeEntity(dst, common.Entity{ID: "senna", Properties: map[string]any{"name": "Ayrton", "team": "Toleman"}}, "c1")
	MergeEntity(dst, common.Entity{ID: "senna", Properties: map[string]any{"team": "McLaren", "titles": 3.0}}, "c2")
	MergeEntity(dst, common.Entity{ID: "senna", Properties: map[string]any{"team": "McLaren"}}, "c2")

	if got := dst.DocIDList(); len(got) != 2 || got[0] != "c1" || got[1] != "c2" {
		t.Fatalf("expected doc ids [c1 c2], got %v", got)
	}
	want := map[string]any{"name": "Ayrton", "team": "McLaren", "titles": 3.0}
	if len(dst.Properties) != len(want) {
		t.Fatalf("expected %d properties, got %v", len(want), dst.Properties)
	}
	for k, v := range want {
		if dst.Properties[k] != v {
			t.Fatalf("property %s: expected %v, got %v", k, v, dst.Properties[k])
		}
	}
}

func TestEntityStorageKeepsInsertionOrder(t *testing.T) {
	s := NewEntityStorage()
	s.Merge(common.Entity{ID: "b", Label: "Team"}, "c1")
	s.Merge(common.Entity{ID: "a", Label: "Driver"}, "c1")
	s.Merge(common.Entity{ID: "b", Label: "Team"}, "c2")

	got := s.Entities()
	if s.Len() != 2 || got[0].ID != "b" || got[1].ID != "a" {
		t.Fatalf("unexpected order: %+v", got)
	}
	got[0].Properties["x"] = 1
	if e, _ := s.Get("b"); len(e.Properties) != 0 {
		t.Fatalf("Entities must return copies")
	}
}

func TestReassignIDs(t *testing.T) {
	entities := []common.Entity{
		{ID: "senna", Label: "Driver"},
		{ID: "prost", Label: "Driver"},
		{ID: "mclaren", Label: "Team"},
	}
	triplets := []common.Triplet{
		{SourceID: "senna", Relationship: "works_for", TargetID: "mclaren"},
		{SourceID: "prost", Relationship: "works_for", TargetID: "mclaren"},
		{SourceID: "mansell", Relationship: "works_for", TargetID: "williams"},
		{SourceID: "senna", Relationship: "works_for", TargetID: "lotus"},
	}

	out, kept, dropped, err := ReassignIDs(entities, triplets)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dropped != 2 || len(kept) != 2 {
		t.Fatalf("expected 2 kept and 2 dropped, got %d kept, %d dropped", len(kept), dropped)
	}

	ids := map[string]bool{}
	for i, e := range out {
		if e.ID == entities[i].ID {
			t.Fatalf("entity %s kept its old id", e.ID)
		}
		if ids[e.ID] {
			t.Fatalf("duplicate id %s", e.ID)
		}
		ids[e.ID] = true
	}
	for _, tr := range kept {
		if !ids[tr.SourceID] || !ids[tr.TargetID] {
			t.Fatalf("triplet references unknown id: %+v", tr)
		}
	}
	if kept[0].SourceID != out[0].ID || kept[0].TargetID != out[2].ID {
		t.Fatalf("triplet not rewritten through the id map: %+v", kept[0])
	}
}

func TestExtractResolvesCoreference(t *testing.T) {
	replies := []string{
		`{"entities":[
			{"id":"senna","entity_label":"Driver","properties":{"name":"Ayrton Senna"}},
			{"id":"mclaren","entity_label":"Team","properties":{"name":"McLaren"}}
		],"triplets":[{"source_id":"senna","relationship":"works_for","target_id":"mclaren"}]}`,
		"```json\n" + `{"entities":[
			{"id":"senna","entity_label":"Driver","properties":{"titles":3}}
		],"triplets":[]}` + "\n```",
	}
	var secondSystem string
	client := &fakeClient{reply: func(call int, _ []ai.ChatMessage, opts ai.GenerateOptions) (string, error) {
		if call == 1 {
			secondSystem = strings.Join(opts.SystemPrompts, "\n")
		}
		return replies[call], nil
	}}

	chunks := []common.Chunk{
		{ID: "c1", Text: "Ayrton Senna drove for McLaren."},
		{ID: "c2", Text: "He won the title three times."},
	}
	res, err := NewExtractor(client).Extract(context.Background(), chunks, racingOntology)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(secondSystem, `"id": "senna"`) {
		t.Fatalf("second prompt should list the existing entity, got:\n%s", secondSystem)
	}

	var drivers, teams []common.Entity
	for _, e := range res.Entities {
		switch e.Label {
		case "Driver":
			drivers = append(drivers, e)
		case "Team":
			teams = append(teams, e)
		}
	}
	if len(drivers) != 1 || len(teams) != 1 {
		t.Fatalf("expected one driver and one team, got %+v", res.Entities)
	}
	if len(drivers[0].DocIDs) != 2 {
		t.Fatalf("expected driver in 2 chunks, got %v", drivers[0].DocIDList())
	}
	if drivers[0].Properties["name"] != "Ayrton Senna" || drivers[0].Properties["titles"] != 3.0 {
		t.Fatalf("properties not merged: %v", drivers[0].Properties)
	}
	if len(res.Triplets) != 1 {
		t.Fatalf("expected one triplet, got %+v", res.Triplets)
	}
	tr := res.Triplets[0]
	if tr.SourceID != drivers[0].ID || tr.TargetID != teams[0].ID || tr.Relationship != "works_for" {
		t.Fatalf("unexpected triplet %+v", tr)
	}
	if res.Stats.Chunks != 2 || res.Stats.TripletsDropped != 0 {
		t.Fatalf("unexpected stats %+v", res.Stats)
	}
}

func TestExtractDiscardsOutsideOntology(t *testing.T) {
	client := &fakeClient{reply: func(int, []ai.ChatMessage, ai.GenerateOptions) (string, error) {
		return `{"entities":[
			{"id":"senna","entity_label":"Driver","properties":{}},
			{"id":"monaco","entity_label":"Circuit","properties":{}}
		],"triplets":[
			{"source_id":"senna","relationship":"raced_at","target_id":"monaco"},
			{"source_id":"senna","relationship":"works_for","target_id":"monaco"}
		]}`, nil
	}}

	res, err := NewExtractor(client).Extract(context.Background(), []common.Chunk{{ID: "c1", Text: "x"}}, racingOntology)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Entities) != 1 || len(res.Triplets) != 0 {
		t.Fatalf("expected only the driver, got %+v / %+v", res.Entities, res.Triplets)
	}
	want := ExtractStats{
		Chunks:            1,
		EntitiesReturned:  2,
		EntitiesDiscarded: 1,
		TripletsReturned:  2,
		TripletsDiscarded: 1,
		TripletsDropped:   1,
	}
	if res.Stats != want {
		t.Fatalf("expected stats %+v, got %+v", want, res.Stats)
	}
}

func TestExtractParseFailureIsFatal(t *testing.T) {
	client := &fakeClient{reply: func(int, []ai.ChatMessage, ai.GenerateOptions) (string, error) {
		return "I could not find any entities.", nil
	}}
	_, err := NewExtractor(client).Extract(context.Background(), []common.Chunk{{ID: "c1", Text: "x"}}, racingOntology)
	if !errors.Is(err, ai.ErrExtraction) {
		t.Fatalf("expected ErrExtraction, got %v", err)
	}
	var perr *ai.ParseError
	if !errors.As(err, &perr) || perr.Raw != "I could not find any entities." {
		t.Fatalf("expected ParseError carrying the raw reply, got %v", err)
	}
}

func TestExtractRequiresConfiguration(t *testing.T) {
	if _, err := NewExtractor(nil).Extract(context.Background(), nil, racingOntology); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig without client, got %v", err)
	}
	if _, err := NewExtractor(&fakeClient{}).Extract(context.Background(), nil, nil); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig without ontology, got %v", err)
	}
}
