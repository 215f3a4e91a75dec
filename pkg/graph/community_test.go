package graph

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sd8capricon/graph-rag/pkg/ai"
	"github.com/sd8capricon/graph-rag/pkg/store"
)

func TestSummariesWithoutModelFailBeforeQueries(t *testing.T) {
	s := newFakeStore()
	detector := &fakeDetector{}
	client := &fakeClient{reply: func(int, []ai.ChatMessage, ai.GenerateOptions) (string, error) {
		return sennaReply, nil
	}}
	summarizer := NewCommunitySummarizer(NewCommunitySummarizerParams{
		Store:     s,
		Detector:  detector,
		Summaries: true,
	})

	err := NewPropertyIngestor(s, NewExtractor(client), summarizer).Ingest(context.Background(), sennaRun())
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
	if len(s.queries) != 0 || len(detector.requests) != 0 || client.calls != 0 {
		t.Fatalf("work started before the configuration check: %d queries, %d detections, %d calls",
			len(s.queries), len(detector.requests), client.calls)
	}

	if err := summarizer.Summarize(context.Background(), sennaRun()); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig from Summarize, got %v", err)
	}
}

func communityStore() *fakeStore {
	s := newFakeStore()
	s.answers["schema.labels"] = []store.Record{{"label": "Chunk"}, {"label": "Driver"}, {"label": "File"}}
	s.answers["schema.relationships"] = []store.Record{{"relationshipType": "SIMILAR"}, {"relationshipType": "BELONGS_TO"}}
	s.answers["community.merge"] = []store.Record{{"id": "f1_0"}, {"id": "f1_1"}}
	s.answers["community.triplets"] = []store.Record{
		{
			"community_id": "f1_0",
			"triplets": []any{
				map[string]any{
					"source_labels": []any{"Driver"},
					"source":        map[string]any{"id": "n1", "name": "Ayrton Senna", "community_id": "f1_0", "source_file_id": "f1"},
					"relationship":  "works_for",
					"target_labels": []any{"Team"},
					"target":        map[string]any{"id": "n2", "name": "McLaren", "knowledge_base_id": "kb"},
				},
			},
		},
		{
			"community_id": "f1_1",
			"triplets": []any{
				map[string]any{
					"source_labels": []any{"Driver"},
					"source":        map[string]any{"name": "Alain Prost"},
					"relationship":  "works_for",
					"target_labels": []any{"Team"},
					"target":        map[string]any{"name": "Ferrari"},
				},
			},
		},
	}
	return s
}

func TestCommunitySummaries(t *testing.T) {
	s := communityStore()
	detector := &fakeDetector{}
	client := &fakeClient{reply: func(_ int, messages []ai.ChatMessage, _ ai.GenerateOptions) (string, error) {
		if strings.Contains(lastUserMessage(messages), "Prost") {
			return "", errors.New("model overloaded")
		}
		return "  Senna drove for McLaren.  ", nil
	}}
	summarizer := NewCommunitySummarizer(NewCommunitySummarizerParams{
		Store:     s,
		Detector:  detector,
		Client:    client,
		Summaries: true,
	})

	run := sennaRun()
	run.addLabel("Driver")
	run.addLabel("Team")
	run.addRelationship("works_for")

	if err := summarizer.Summarize(context.Background(), run); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(detector.requests) != 1 {
		t.Fatalf("expected one detection, got %d", len(detector.requests))
	}
	req := detector.requests[0]
	if strings.Join(req.Labels, ",") != "Chunk,Driver" || strings.Join(req.Relationships, ",") != "SIMILAR" {
		t.Fatalf("projection not restricted to existing schema: %+v", req)
	}
	if req.SourceFileID != run.File.ID {
		t.Fatalf("projection not scoped to the file: %+v", req)
	}
	if req.WriteProperty != rawCommunityProperty || !strings.HasPrefix(req.GraphName, "communities_") {
		t.Fatalf("unexpected detect request %+v", req)
	}

	for _, prompt := range client.prompts {
		if strings.Contains(prompt, "community_id") || strings.Contains(prompt, "source_file_id") || strings.Contains(prompt, `"id"`) {
			t.Fatalf("bookkeeping properties leaked into prompt:\n%s", prompt)
		}
	}

	writes := s.named("community.summaries")
	if len(writes) != 1 {
		t.Fatalf("expected one batched summary write, got %d", len(writes))
	}
	rows := writes[0].Params["rows"].([]map[string]any)
	if len(rows) != 1 || rows[0]["id"] != "f1_0" || rows[0]["summary"] != "Senna drove for McLaren." {
		t.Fatalf("unexpected summary rows %v", rows)
	}
	if emb := rows[0]["embedding"].([]float64); len(emb) != 3 {
		t.Fatalf("unexpected embedding %v", emb)
	}
}

func TestCommunityNamespaceIsPerFile(t *testing.T) {
	s := communityStore()
	summarizer := NewCommunitySummarizer(NewCommunitySummarizerParams{
		Store:    s,
		Detector: &fakeDetector{},
	})

	for _, fileID := range []string{"f1", "f2"} {
		run := sennaRun()
		run.File.ID = fileID
		if err := summarizer.Summarize(context.Background(), run); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	ns := s.named("community.namespace")
	if len(ns) != 2 {
		t.Fatalf("expected two namespace queries, got %d", len(ns))
	}
	if ns[0].Params["source_file_id"] == ns[1].Params["source_file_id"] {
		t.Fatalf("namespace must be scoped per file")
	}
	if !strings.Contains(ns[0].Text, "$source_file_id + '_' + toString(n.community_raw)") {
		t.Fatalf("community id not prefixed by file:\n%s", ns[0].Text)
	}
	if len(s.named("community.summaries")) != 0 || len(s.named("community.triplets")) != 0 {
		t.Fatalf("summaries disabled but summary queries executed")
	}
}

func TestCommunitySkipsWithoutRelationships(t *testing.T) {
	s := newFakeStore()
	s.answers["schema.labels"] = []store.Record{{"label": "Chunk"}}
	detector := &fakeDetector{}
	summarizer := NewCommunitySummarizer(NewCommunitySummarizerParams{Store: s, Detector: detector})

	if err := summarizer.Summarize(context.Background(), sennaRun()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(detector.requests) != 0 || len(s.named("community.namespace")) != 0 {
		t.Fatalf("detection ran without relationships")
	}
}
