package graph

import (
	"context"
	"errors"
	"sync"

	"github.com/sd8capricon/graph-rag/pkg/ai"
	"github.com/sd8capricon/graph-rag/pkg/common"
	"github.com/sd8capricon/graph-rag/pkg/store"
)

// fakeClient answers chat calls through reply and embeds every input as a
// one-hot vector picked by vectorFor.
type fakeClient struct {
	mu        sync.Mutex
	reply     func(call int, messages []ai.ChatMessage, opts ai.GenerateOptions) (string, error)
	vectorFor func(text string) []float32
	calls     int
	prompts   []string
}

func (f *fakeClient) GenerateChat(_ context.Context, messages []ai.ChatMessage, opts ...ai.GenerateOption) (string, error) {
	f.mu.Lock()
	call := f.calls
	f.calls++
	if len(messages) > 0 {
		f.prompts = append(f.prompts, messages[len(messages)-1].Message)
	}
	f.mu.Unlock()
	if f.reply == nil {
		return "", errors.New("no reply scripted")
	}
	return f.reply(call, messages, ai.ApplyOptions(ai.GenerateOptions{}, opts...))
}

func (f *fakeClient) GenerateChatWithTools(ctx context.Context, messages []ai.ChatMessage, _ []ai.Tool, opts ...ai.GenerateOption) (string, error) {
	return f.GenerateChat(ctx, messages, opts...)
}

func (f *fakeClient) GenerateEmbeddings(_ context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		if f.vectorFor != nil {
			out[i] = f.vectorFor(in)
			continue
		}
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (f *fakeClient) ResetMetrics()               {}
func (f *fakeClient) GetMetrics() ai.ModelMetrics { return ai.ModelMetrics{} }

// fakeStore records every query and answers by query name.
type fakeStore struct {
	mu       sync.Mutex
	queries  []store.Query
	answers  map[string][]store.Record
	failOn   string
	hits     map[string][]store.SearchHit
	chunks   []common.Chunk
	searches []store.SearchRequest
	ensured  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{answers: map[string][]store.Record{}, hits: map[string][]store.SearchHit{}}
}

func (s *fakeStore) EnsureIndex(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensured++
	return nil
}

func (s *fakeStore) AddChunks(_ context.Context, _ string, chunks []common.Chunk) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	s.chunks = append(s.chunks, chunks...)
	return ids, nil
}

// SimilaritySearch finds the stored chunk with the query vector and
// returns the hits scripted under its text.
func (s *fakeStore) SimilaritySearch(_ context.Context, req store.SearchRequest) ([]store.SearchHit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searches = append(s.searches, req)
	for _, c := range s.chunks {
		if equalVectors(c.Embedding, req.Vector) {
			return s.hits[c.Text], nil
		}
	}
	return nil, nil
}

func equalVectors(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (s *fakeStore) Run(_ context.Context, q store.Query) ([]store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, q)
	if s.failOn != "" && q.Name == s.failOn {
		return nil, errors.New("store failure on " + q.Name)
	}
	return s.answers[q.Name], nil
}

func (s *fakeStore) named(name string) []store.Query {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Query
	for _, q := range s.queries {
		if q.Name == name {
			out = append(out, q)
		}
	}
	return out
}

type fakeDetector struct {
	requests []store.DetectRequest
	err      error
}

func (d *fakeDetector) Detect(_ context.Context, req store.DetectRequest) error {
	d.requests = append(d.requests, req)
	return d.err
}

func lastUserMessage(messages []ai.ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == ai.RoleUser {
			return messages[i].Message
		}
	}
	return ""
}
