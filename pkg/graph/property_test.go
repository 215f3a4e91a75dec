package graph

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sd8capricon/graph-rag/pkg/ai"
	"github.com/sd8capricon/graph-rag/pkg/common"
	"github.com/sd8capricon/graph-rag/pkg/store"
)

const sennaReply = `{"entities":[
	{"id":"senna","entity_label":"Driver","properties":{"name":"Ayrton Senna","id":"spoofed","teams":["Toleman","Lotus"],"car":{"number":12}}},
	{"id":"mclaren","entity_label":"Team","properties":{"name":"McLaren"}}
],"triplets":[{"source_id":"senna","relationship":"works_for","target_id":"mclaren"}]}`

func sennaRun() *IngestRun {
	kb := &common.KnowledgeBase{ID: "kb", Ontology: racingOntology}
	return newIngestRun(kb, common.FileMetadata{ID: "f1", Name: "senna.txt"}, []common.Chunk{
		{ID: "c1", Text: "Ayrton Senna drove for McLaren.", SourceFileID: "f1"},
	})
}

func TestPropertyIngestorWritesGraph(t *testing.T) {
	s := newFakeStore()
	client := &fakeClient{reply: func(int, []ai.ChatMessage, ai.GenerateOptions) (string, error) {
		return sennaReply, nil
	}}
	run := sennaRun()

	if err := NewPropertyIngestor(s, NewExtractor(client), nil).Ingest(context.Background(), run); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	merges := s.named("entity.merge")
	if len(merges) != 2 {
		t.Fatalf("expected one merge per label, got %d", len(merges))
	}
	if !strings.Contains(merges[0].Text, "MERGE (e:`Driver` {id: row.id, knowledge_base_id: $knowledge_base_id, source_file_id: $source_file_id})") {
		t.Fatalf("unexpected driver merge:\n%s", merges[0].Text)
	}
	if !strings.Contains(merges[0].Text, "MERGE (e)-[:BELONGS_TO]->(c)") {
		t.Fatalf("missing BELONGS_TO edge:\n%s", merges[0].Text)
	}
	if merges[0].Params["knowledge_base_id"] != "kb" || merges[0].Params["source_file_id"] != "f1" {
		t.Fatalf("unexpected params %v", merges[0].Params)
	}

	row := merges[0].Params["entities"].([]map[string]any)[0]
	props := row["properties"].(map[string]any)
	if _, ok := props["id"]; ok {
		t.Fatalf("reserved property written: %v", props)
	}
	if teams, ok := props["teams"].([]string); !ok || len(teams) != 2 {
		t.Fatalf("expected string list, got %#v", props["teams"])
	}
	if props["car"] != `{"number":12}` {
		t.Fatalf("expected nested map as JSON, got %#v", props["car"])
	}
	if ids := row["doc_ids"].([]string); len(ids) != 1 || ids[0] != "c1" {
		t.Fatalf("unexpected doc ids %v", ids)
	}

	triplets := s.named("triplet.merge")
	if len(triplets) != 1 || !strings.Contains(triplets[0].Text, "MERGE (s)-[r:`works_for`]->(o)") {
		t.Fatalf("unexpected triplet writes %+v", triplets)
	}
	if !strings.Contains(triplets[0].Text, "MATCH (s:`Driver`") || !strings.Contains(triplets[0].Text, "MATCH (o:`Team`") {
		t.Fatalf("triplet endpoints not labelled:\n%s", triplets[0].Text)
	}

	if strings.Join(run.Labels, ",") != "Chunk,Driver,Team" {
		t.Fatalf("unexpected labels %v", run.Labels)
	}
	if strings.Join(run.Relationships, ",") != "SIMILAR,works_for" {
		t.Fatalf("unexpected relationships %v", run.Relationships)
	}
}

func TestPropertyIngestorStopsOnWriteError(t *testing.T) {
	s := newFakeStore()
	s.failOn = "entity.merge"
	client := &fakeClient{reply: func(int, []ai.ChatMessage, ai.GenerateOptions) (string, error) {
		return sennaReply, nil
	}}

	err := NewPropertyIngestor(s, NewExtractor(client), nil).Ingest(context.Background(), sennaRun())
	if err == nil {
		t.Fatalf("expected write error")
	}
	if len(s.named("triplet.merge")) != 0 {
		t.Fatalf("triplets written after failed entity write")
	}
}

func TestGraphProperties(t *testing.T) {
	tests := []struct {
		name string
		in   map[string]any
		want map[string]any
	}{
		{
			name: "scalars and mixed list",
			in: map[string]any{
				"name":   "Senna",
				"wins":   41.0,
				"active": false,
				"mixed":  []any{"a", 1.0},
			},
			want: map[string]any{"name": "Senna", "wins": 41.0, "active": false, "mixed": `["a",1]`},
		},
		{
			name: "reserved empty and nil dropped",
			in: map[string]any{
				"name":              "Senna",
				"knowledge_base_id": "other",
				"id":                "x",
				"":                  "blank",
				"  ":                "spaces",
				"empty":             nil,
			},
			want: map[string]any{"name": "Senna"},
		},
		{
			name: "free-form keys kept",
			in: map[string]any{
				"name":          "Ayrton Senna",
				"full name":     "Ayrton Senna da Silva",
				"date-of-birth": "1960-03-21",
				"Nationalität":  "Brasilien",
			},
			want: map[string]any{
				"name":          "Ayrton Senna",
				"full name":     "Ayrton Senna da Silva",
				"date-of-birth": "1960-03-21",
				"Nationalität":  "Brasilien",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := graphProperties(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Fatalf("key %q: got %#v, want %#v", k, got[k], v)
				}
			}
		})
	}
}

func TestAllowListRejectsUnknownLabel(t *testing.T) {
	allow := store.NewAllowList(racingOntology)
	_, err := allow.Cypher().Text("MATCH (n:").Label("Circuit").Text(") RETURN n").Build("x", nil)
	if !errors.Is(err, store.ErrInvalidIdentifier) {
		t.Fatalf("expected ErrInvalidIdentifier, got %v", err)
	}
}
