package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/sd8capricon/graph-rag/pkg/ai"
	"github.com/sd8capricon/graph-rag/pkg/common"
	"github.com/sd8capricon/graph-rag/pkg/loader"
)

type fakeRegistry struct {
	stored  *common.KnowledgeBase
	upserts []common.KnowledgeBase
}

func (r *fakeRegistry) GetByID(context.Context, string) (*common.KnowledgeBase, error) {
	return r.stored, nil
}

func (r *fakeRegistry) Upsert(_ context.Context, kb *common.KnowledgeBase) error {
	r.upserts = append(r.upserts, *kb)
	return nil
}

type textLoader map[string]string

func (l textLoader) GetFileText(_ context.Context, file loader.GraphFile) ([]byte, error) {
	text, ok := l[file.Path]
	if !ok {
		return nil, errors.New("not found")
	}
	return []byte(text), nil
}

type recordingIngestor struct {
	runs   []*IngestRun
	failOn string
}

func (r *recordingIngestor) Name() string { return "recording" }

func (r *recordingIngestor) Ingest(_ context.Context, run *IngestRun) error {
	r.runs = append(r.runs, run)
	if run.File.ID == r.failOn {
		return errors.New("boom")
	}
	return nil
}

func graphFiles(l loader.GraphFileLoader, paths ...string) []loader.GraphFile {
	out := make([]loader.GraphFile, len(paths))
	for i, p := range paths {
		out[i] = loader.GraphFile{ID: p, Path: p, Loader: l}
	}
	return out
}

func TestPipelineResolvesAndPersistsOntology(t *testing.T) {
	client := &fakeClient{reply: func(int, []ai.ChatMessage, ai.GenerateOptions) (string, error) {
		return `{"entity_labels":["Driver","Team","bad label"],"relationship_rules":[
			{"source_label":"Driver","relationship":"works_for","target_label":"Team"},
			{"source_label":"Driver","relationship":"races_at","target_label":"Circuit"}
		]}`, nil
	}}
	registry := &fakeRegistry{}
	s := newFakeStore()
	ing := &recordingIngestor{}

	p := NewPipeline(NewPipelineParams{
		Registry:  registry,
		Resolver:  NewOntologyResolver(client),
		Store:     s,
		Ingestors: []Ingestor{ing},
		Split:     SplitOptions{MaxTokens: 50, Count: WordCounter},
	})

	kb := &common.KnowledgeBase{ID: "kb", ExtractionPrompt: "Racing drivers and their teams"}
	res, err := p.Run(context.Background(), kb, graphFiles(textLoader{"a.txt": "Senna drove for McLaren."}, "a.txt"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(registry.upserts) != 1 || registry.upserts[0].Ontology == nil {
		t.Fatalf("resolved ontology not persisted: %+v", registry.upserts)
	}
	o := registry.upserts[0].Ontology
	if len(o.EntityLabels) != 2 || len(o.RelationshipRules) != 1 {
		t.Fatalf("ontology not sanitized: %+v", o)
	}
	if s.ensured != 1 {
		t.Fatalf("expected indexes ensured once, got %d", s.ensured)
	}
	if res.Failed() != 0 || res.Err() != nil || res.Files[0].Chunks != 1 {
		t.Fatalf("unexpected result %+v", res.Files)
	}
	run := ing.runs[0]
	if run.Ontology != kb.Ontology {
		t.Fatalf("run does not carry the ontology")
	}
	if run.Chunks[0].SourceFileID != "a.txt" {
		t.Fatalf("chunk not tagged with file id: %+v", run.Chunks[0])
	}
}

func TestPipelineReusesStoredOntology(t *testing.T) {
	registry := &fakeRegistry{stored: &common.KnowledgeBase{ID: "kb", Ontology: racingOntology}}
	client := &fakeClient{}
	p := NewPipeline(NewPipelineParams{
		Registry:  registry,
		Resolver:  NewOntologyResolver(client),
		Store:     newFakeStore(),
		Ingestors: []Ingestor{&recordingIngestor{}},
	})

	kb := &common.KnowledgeBase{ID: "kb"}
	if _, err := p.Run(context.Background(), kb, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.calls != 0 {
		t.Fatalf("ontology re-resolved although stored")
	}
	if kb.Ontology == nil || kb.Ontology.EntityLabels[0] != "Driver" {
		t.Fatalf("stored ontology not applied: %+v", kb.Ontology)
	}
}

func TestPipelineIsolatesFileFailures(t *testing.T) {
	ing := &recordingIngestor{failOn: "b.txt"}
	p := NewPipeline(NewPipelineParams{
		Store:     newFakeStore(),
		Ingestors: []Ingestor{ing},
	})
	files := graphFiles(textLoader{"a.txt": "First.", "b.txt": "Second.", "d.txt": "Fourth."},
		"a.txt", "b.txt", "c.txt", "d.txt")

	kb := &common.KnowledgeBase{ID: "kb", Ontology: racingOntology}
	res, err := p.Run(context.Background(), kb, files)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Files) != 4 || res.Failed() != 2 {
		t.Fatalf("expected 2 of 4 files to fail, got %+v", res.Files)
	}
	if res.Files[0].Err != nil || res.Files[3].Err != nil {
		t.Fatalf("healthy files failed: %+v", res.Files)
	}
	if len(ing.runs) != 3 {
		t.Fatalf("expected ingestion of 3 loaded files, got %d", len(ing.runs))
	}
	if res.Err() == nil {
		t.Fatalf("expected joined error")
	}
}

func TestPipelineConfigErrors(t *testing.T) {
	p := NewPipeline(NewPipelineParams{Store: newFakeStore(), Ingestors: []Ingestor{&recordingIngestor{}}})
	if _, err := p.Run(context.Background(), &common.KnowledgeBase{ID: "kb"}, nil); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig without ontology or resolver, got %v", err)
	}
	if _, err := NewPipeline(NewPipelineParams{}).Run(context.Background(), &common.KnowledgeBase{ID: "kb"}, nil); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig without store, got %v", err)
	}
}

func TestPipelineChecksIngestorConfigBeforeWriting(t *testing.T) {
	s := newFakeStore()
	client := &fakeClient{}
	registry := &fakeRegistry{}
	summarizer := NewCommunitySummarizer(NewCommunitySummarizerParams{
		Store:     s,
		Detector:  &fakeDetector{},
		Summaries: true,
	})
	p := NewPipeline(NewPipelineParams{
		Registry: registry,
		Store:    s,
		Ingestors: []Ingestor{
			NewLexicalIngestor(s, client),
			NewPropertyIngestor(s, NewExtractor(client), summarizer),
		},
		Split: SplitOptions{MaxTokens: 50, Count: WordCounter},
	})

	kb := &common.KnowledgeBase{ID: "kb", Ontology: racingOntology}
	files := graphFiles(textLoader{"a.txt": "Senna drove for McLaren.", "b.txt": "Prost too."}, "a.txt", "b.txt")
	res, err := p.Run(context.Background(), kb, files)
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
	if res != nil {
		t.Fatalf("expected no result on a config error, got %+v", res)
	}
	if s.ensured != 0 || len(s.chunks) != 0 || len(s.queries) != 0 {
		t.Fatalf("store touched before config check: ensured=%d chunks=%d queries=%d",
			s.ensured, len(s.chunks), len(s.queries))
	}
	if len(registry.upserts) != 0 || client.calls != 0 {
		t.Fatalf("registry or model used before config check")
	}
}

func TestIngestRunSchemaAccumulates(t *testing.T) {
	run := newIngestRun(&common.KnowledgeBase{ID: "kb"}, common.FileMetadata{ID: "f"}, nil)
	run.addLabel("Driver", "Team", "")
	run.addLabel("Driver")
	run.addRelationship("works_for", "works_for")

	wantLabels := []string{"Chunk", "Driver", "Team"}
	if len(run.Labels) != len(wantLabels) {
		t.Fatalf("labels = %v, want %v", run.Labels, wantLabels)
	}
	for i, l := range wantLabels {
		if run.Labels[i] != l {
			t.Fatalf("labels = %v, want %v", run.Labels, wantLabels)
		}
	}
	if len(run.Relationships) != 2 || run.Relationships[1] != "works_for" {
		t.Fatalf("relationships = %v", run.Relationships)
	}
}
