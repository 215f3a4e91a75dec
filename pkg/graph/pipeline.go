package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sd8capricon/graph-rag/pkg/common"
	"github.com/sd8capricon/graph-rag/pkg/loader"
	"github.com/sd8capricon/graph-rag/pkg/logger"
	"github.com/sd8capricon/graph-rag/pkg/store"
)

// IngestRun carries the state one file passes through the ingestors. The
// ingestors may read every field; Labels and Relationships accumulate the
// schema written so far and seed community detection.
type IngestRun struct {
	KnowledgeBase *common.KnowledgeBase
	Ontology      *common.Ontology
	File          common.FileMetadata
	Chunks        []common.Chunk
	Stats         ExtractStats

	Labels        []string
	Relationships []string
}

func newIngestRun(kb *common.KnowledgeBase, file common.FileMetadata, chunks []common.Chunk) *IngestRun {
	return &IngestRun{
		KnowledgeBase: kb,
		Ontology:      kb.Ontology,
		File:          file,
		Chunks:        chunks,
		Labels:        []string{store.LabelChunk},
		Relationships: []string{store.RelSimilar},
	}
}

func (r *IngestRun) addLabel(labels ...string) {
	r.Labels = store.DedupeStrings(append(r.Labels, labels...))
}

func (r *IngestRun) addRelationship(rels ...string) {
	r.Relationships = store.DedupeStrings(append(r.Relationships, rels...))
}

// Ingestor writes one aspect of a file's graph.
type Ingestor interface {
	Name() string
	Ingest(ctx context.Context, run *IngestRun) error
}

// ConfigChecker is implemented by ingestors that can validate their wiring
// up front. Pipeline.Run calls it before any store or model call.
type ConfigChecker interface {
	CheckConfig() error
}

// KnowledgeBaseRegistry persists knowledge base records. GetByID returns
// nil, nil for an unknown id.
type KnowledgeBaseRegistry interface {
	GetByID(ctx context.Context, id string) (*common.KnowledgeBase, error)
	Upsert(ctx context.Context, kb *common.KnowledgeBase) error
}

// FileResult is the outcome of ingesting one file.
type FileResult struct {
	File     common.FileMetadata `json:"file"`
	Chunks   int                 `json:"chunks"`
	Stats    ExtractStats        `json:"stats"`
	Duration time.Duration       `json:"duration"`
	Err      error               `json:"-"`
}

// PipelineResult collects per-file outcomes. A failing file never aborts
// the others.
type PipelineResult struct {
	KnowledgeBase *common.KnowledgeBase
	Files         []FileResult
}

// Failed returns the number of files whose ingestion returned an error.
func (r *PipelineResult) Failed() int {
	n := 0
	for _, f := range r.Files {
		if f.Err != nil {
			n++
		}
	}
	return n
}

// Err joins the per-file errors, or returns nil when every file succeeded.
func (r *PipelineResult) Err() error {
	var errs []error
	for _, f := range r.Files {
		if f.Err != nil {
			errs = append(errs, fmt.Errorf("file %s: %w", f.File.ID, f.Err))
		}
	}
	return errors.Join(errs...)
}

// Pipeline ingests a batch of files into one knowledge base.
type Pipeline struct {
	registry  KnowledgeBaseRegistry
	resolver  *OntologyResolver
	store     store.GraphStore
	ingestors []Ingestor
	split     SplitOptions
}

// NewPipelineParams wires a Pipeline. Ingestors run in slice order for
// every file; the lexical ingestor must precede the property ingestor.
type NewPipelineParams struct {
	Registry  KnowledgeBaseRegistry
	Resolver  *OntologyResolver
	Store     store.GraphStore
	Ingestors []Ingestor
	Split     SplitOptions
}

func NewPipeline(params NewPipelineParams) *Pipeline {
	return &Pipeline{
		registry:  params.Registry,
		resolver:  params.Resolver,
		store:     params.Store,
		ingestors: params.Ingestors,
		split:     params.Split,
	}
}

// prepare resolves the ontology once for the run and upserts the knowledge
// base record, persisting a freshly resolved ontology.
func (p *Pipeline) prepare(ctx context.Context, kb *common.KnowledgeBase) error {
	if p.registry != nil && kb.Ontology == nil {
		stored, err := p.registry.GetByID(ctx, kb.ID)
		if err != nil {
			return fmt.Errorf("failed to load knowledge base: %w", err)
		}
		if stored != nil && stored.Ontology != nil {
			kb.Ontology = stored.Ontology
		}
	}

	if kb.Ontology != nil {
		sanitized, err := SanitizeOntology(kb.Ontology)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrConfig, err)
		}
		kb.Ontology = sanitized
	} else {
		if p.resolver == nil {
			return fmt.Errorf("%w: knowledge base %s has no ontology and no resolver is configured", ErrConfig, kb.ID)
		}
		if _, _, err := p.resolver.ResolveForKnowledgeBase(ctx, kb); err != nil {
			return err
		}
	}

	if p.registry != nil {
		if err := p.registry.Upsert(ctx, kb); err != nil {
			return fmt.Errorf("failed to upsert knowledge base: %w", err)
		}
	}
	return nil
}

// Run ingests files sequentially. The returned error is a run-level
// failure (ontology, registry, index); per-file failures are reported in
// the result.
func (p *Pipeline) Run(ctx context.Context, kb *common.KnowledgeBase, files []loader.GraphFile) (*PipelineResult, error) {
	if kb == nil || kb.ID == "" {
		return nil, fmt.Errorf("%w: knowledge base id is required", ErrConfig)
	}
	if p.store == nil || len(p.ingestors) == 0 {
		return nil, fmt.Errorf("%w: pipeline needs a store and at least one ingestor", ErrConfig)
	}
	for _, ing := range p.ingestors {
		if c, ok := ing.(ConfigChecker); ok {
			if err := c.CheckConfig(); err != nil {
				return nil, fmt.Errorf("%s ingestor: %w", ing.Name(), err)
			}
		}
	}

	if err := p.prepare(ctx, kb); err != nil {
		return nil, err
	}
	if err := p.store.EnsureIndex(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure indexes: %w", err)
	}

	result := &PipelineResult{KnowledgeBase: kb, Files: make([]FileResult, 0, len(files))}
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			result.Files = append(result.Files, FileResult{File: file.Metadata(), Err: err})
			continue
		}

		start := time.Now()
		fr := p.ingestFile(ctx, kb, file)
		fr.Duration = time.Since(start)
		if fr.Err != nil {
			logger.Error("[Ingest] File failed",
				"knowledge_base_id", kb.ID,
				"file_id", fr.File.ID,
				"err", fr.Err,
			)
		} else {
			logger.Info("[Ingest] File finished",
				"knowledge_base_id", kb.ID,
				"file_id", fr.File.ID,
				"chunks", fr.Chunks,
				"duration", fr.Duration,
			)
		}
		result.Files = append(result.Files, fr)
	}
	return result, nil
}

func (p *Pipeline) ingestFile(ctx context.Context, kb *common.KnowledgeBase, file loader.GraphFile) FileResult {
	meta := file.Metadata()
	fr := FileResult{File: meta}

	text, err := file.GetText(ctx)
	if err != nil {
		fr.Err = err
		return fr
	}
	chunks, err := ChunkFile(meta, text, p.split)
	if err != nil {
		fr.Err = err
		return fr
	}
	fr.Chunks = len(chunks)
	if len(chunks) == 0 {
		logger.Warn("[Ingest] File has no text", "file_id", meta.ID)
		return fr
	}

	run := newIngestRun(kb, meta, chunks)
	for _, ing := range p.ingestors {
		if err := ing.Ingest(ctx, run); err != nil {
			fr.Err = fmt.Errorf("%s ingestor: %w", ing.Name(), err)
			break
		}
	}
	fr.Stats = run.Stats
	return fr
}
