package store

import (
	"context"
	"errors"
	"testing"

	"github.com/sd8capricon/graph-rag/pkg/ai"
)

type countingEmbedder struct {
	calls []int
	fail  bool
}

func (c *countingEmbedder) GenerateChat(context.Context, []ai.ChatMessage, ...ai.GenerateOption) (string, error) {
	return "", nil
}

func (c *countingEmbedder) GenerateChatWithTools(context.Context, []ai.ChatMessage, []ai.Tool, ...ai.GenerateOption) (string, error) {
	return "", nil
}

func (c *countingEmbedder) GenerateEmbeddings(_ context.Context, in []string) ([][]float32, error) {
	c.calls = append(c.calls, len(in))
	if c.fail {
		return nil, context.Canceled
	}
	out := make([][]float32, len(in))
	for i, s := range in {
		out[i] = []float32{float32(len(s))}
	}
	return out, nil
}

func (c *countingEmbedder) ResetMetrics()               {}
func (c *countingEmbedder) GetMetrics() ai.ModelMetrics { return ai.ModelMetrics{} }

func TestGenerateEmbeddingsBatches(t *testing.T) {
	emb := &countingEmbedder{}
	inputs := []string{"a", "bb", "ccc", "dddd", "eeeee"}

	out, err := GenerateEmbeddings(context.Background(), emb, inputs, 2)
	if err != nil {
		t.Fatalf("GenerateEmbeddings() error = %v", err)
	}
	if len(emb.calls) != 3 || emb.calls[0] != 2 || emb.calls[2] != 1 {
		t.Fatalf("batches = %v, want [2 2 1]", emb.calls)
	}
	for i, v := range out {
		if int(v[0]) != len(inputs[i]) {
			t.Fatalf("out[%d] = %v, order not preserved", i, v)
		}
	}
}

func TestGenerateEmbeddingsContextErrorNotRetried(t *testing.T) {
	emb := &countingEmbedder{fail: true}
	_, err := GenerateEmbeddings(context.Background(), emb, []string{"a"}, 10)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(emb.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(emb.calls))
	}
}

func TestDedupeStrings(t *testing.T) {
	got := DedupeStrings([]string{"a", "", "b", "a", "c", "b"})
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
