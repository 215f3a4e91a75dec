package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sd8capricon/graph-rag/internal/util"
	"github.com/sd8capricon/graph-rag/pkg/ai"
)

const (
	embeddingTries   = 3
	embeddingBackoff = 2 * time.Second
)

// ChunkRange calls fn for consecutive [start, end) windows of at most
// chunkSize items.
func ChunkRange(total, chunkSize int, fn func(start, end int) error) error {
	if total <= 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = total
	}
	for start := 0; start < total; start += chunkSize {
		end := min(start+chunkSize, total)
		if err := fn(start, end); err != nil {
			return err
		}
	}
	return nil
}

// DedupeStrings drops empty and repeated values, keeping first occurrence order.
func DedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// GenerateEmbeddings embeds inputs in sequential batches of batchSize and
// returns the vectors in input order. Each batch is retried with linear
// backoff.
func GenerateEmbeddings(
	ctx context.Context,
	client ai.GraphAIClient,
	inputs []string,
	batchSize int,
) ([][]float32, error) {
	if client == nil {
		return nil, errors.New("ai client is nil")
	}
	if len(inputs) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(inputs))
	err := ChunkRange(len(inputs), batchSize, func(start, end int) error {
		vecs, err := util.RetryWithContext(ctx, embeddingTries, embeddingBackoff,
			func(ctx context.Context) ([][]float32, error) {
				return client.GenerateEmbeddings(ctx, inputs[start:end])
			})
		if err != nil {
			return err
		}
		if len(vecs) != end-start {
			return fmt.Errorf("embedding batch size mismatch: got %d want %d", len(vecs), end-start)
		}
		out = append(out, vecs...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	return out, nil
}
