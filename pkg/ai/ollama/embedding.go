package ollama

import (
	"context"
	"fmt"
	"strings"

	"github.com/sd8capricon/graph-rag/pkg/ai"

	"github.com/ollama/ollama/api"
)

// GenerateEmbeddings embeds all inputs with one /api/embed call. Blank
// inputs map to a zero vector of the configured dimension.
func (c *GraphOllamaClient) GenerateEmbeddings(
	ctx context.Context,
	inputs []string,
) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(inputs))
	idxMap := make([]int, 0, len(inputs))
	batch := make([]string, 0, len(inputs))
	for i, in := range inputs {
		if strings.TrimSpace(in) == "" {
			out[i] = make([]float32, c.embeddingDim)
			continue
		}
		idxMap = append(idxMap, i)
		batch = append(batch, in)
	}
	if len(batch) == 0 {
		return out, nil
	}

	rCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.reqLock.Acquire(rCtx, 1); err != nil {
		return nil, err
	}
	defer c.reqLock.Release(1)

	res, err := c.Client.Embed(rCtx, &api.EmbedRequest{
		Model: c.embeddingModel,
		Input: batch,
	})
	if err != nil {
		return nil, err
	}

	c.Record(ai.ModelMetrics{
		InputTokens: res.PromptEvalCount,
		TotalTokens: res.PromptEvalCount,
		DurationMs:  res.TotalDuration.Milliseconds(),
	})

	if len(res.Embeddings) != len(batch) {
		return nil, fmt.Errorf("embedding response size mismatch: got %d want %d", len(res.Embeddings), len(batch))
	}
	for i, vec := range res.Embeddings {
		if c.embeddingDim > 0 && len(vec) > c.embeddingDim {
			vec = vec[:c.embeddingDim]
		}
		out[idxMap[i]] = vec
	}
	return out, nil
}
