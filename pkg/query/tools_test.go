package query

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/sd8capricon/graph-rag/pkg/ai"
	"github.com/sd8capricon/graph-rag/pkg/store"
)

type stubSearcher struct {
	root *Node
	err  error
	kbID string
}

func (s *stubSearcher) Search(_ context.Context, kbID, _ string) (*Node, error) {
	s.kbID = kbID
	return s.root, s.err
}

func TestDriftTool(t *testing.T) {
	tests := []struct {
		name     string
		searcher *stubSearcher
		args     string
		want     string
		wantErr  bool
	}{
		{
			name:     "facts",
			searcher: &stubSearcher{root: &Node{Answer: "A", Children: []*Node{{Answer: "B"}}}},
			args:     `{"query":"who?"}`,
			want:     "### Relevant Facts\n- A\n- B",
		},
		{
			name:     "no facts",
			searcher: &stubSearcher{root: &Node{Answer: ai.NotFoundAnswer}},
			args:     `{"query":"who?"}`,
			want:     "No relevant facts found.",
		},
		{
			name:     "search failure is not a fact",
			searcher: &stubSearcher{err: errors.New("neo4j unavailable")},
			args:     `{"query":"who?"}`,
			want:     toolFailure,
			wantErr:  true,
		},
		{
			name:     "bad arguments",
			searcher: &stubSearcher{},
			args:     `{"q":1}`,
			want:     toolFailure,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trace := NewQueryTrace()
			tool := DriftTool(tt.searcher, "kb", trace)
			got, err := tool.Handler(context.Background(), tt.args)
			if err != nil {
				t.Fatalf("handler must not fail, got %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}

			calls := trace.Snapshot().ToolCalls
			if len(calls) != 1 || calls[0].Name != DriftToolName {
				t.Fatalf("tool call not traced: %+v", calls)
			}
			if (calls[0].Error != "") != tt.wantErr {
				t.Fatalf("unexpected traced error %q", calls[0].Error)
			}
		})
	}
}

func TestSimilaritySearchOrdersHitsFirst(t *testing.T) {
	s := &searchStore{
		hits: []store.SearchHit{{ID: "c2", Score: 0.9}, {ID: "c1", Score: 0.8}},
		records: []store.Record{
			{"id": "n9", "text": "neighbour nine", "source_file_id": "f1"},
			{"id": "c1", "text": "chunk one", "source_file_id": "f1"},
			{"id": "n3", "text": "neighbour three", "source_file_id": "f2"},
			{"id": "c2", "text": "chunk two", "source_file_id": "f1"},
			{"id": "empty", "text": "", "source_file_id": "f1"},
		},
	}
	trace := NewQueryTrace()
	docs, err := NewChunkSearcher(&driftClient{}, s, trace).SimilaritySearch(context.Background(), "kb", "senna", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var ids []string
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	if strings.Join(ids, ",") != "c2,c1,n3,n9" {
		t.Fatalf("unexpected order %v", ids)
	}
	if s.requests[0].Index != store.ChunkIndex || s.requests[0].KnowledgeBaseID != "kb" {
		t.Fatalf("unexpected search %+v", s.requests[0])
	}
	if q := s.queries[0]; q.Name != "chunk.expand" || q.Params["knowledge_base_id"] != "kb" {
		t.Fatalf("unexpected expansion query %+v", q)
	}
	if got := trace.Snapshot().SourceIDs; len(got) != 2 {
		t.Fatalf("expected two traced source files, got %v", got)
	}
}

func TestSimilarityTool(t *testing.T) {
	s := &searchStore{
		hits:    []store.SearchHit{{ID: "c1"}},
		records: []store.Record{{"id": "c1", "text": "chunk one", "source_file_id": "f1"}},
	}
	tool := SimilarityTool(NewChunkSearcher(&driftClient{}, s, nil), "kb", 3, nil)
	out, err := tool.Handler(context.Background(), `{"query":"senna"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var docs []ChunkDoc
	if err := json.Unmarshal([]byte(out), &docs); err != nil || len(docs) != 1 || docs[0].Text != "chunk one" {
		t.Fatalf("unexpected tool output %q (%v)", out, err)
	}
}

type toolRunningClient struct {
	driftClient
	toolNames []string
	result    string
}

func (c *toolRunningClient) GenerateChatWithTools(ctx context.Context, _ []ai.ChatMessage, tools []ai.Tool, _ ...ai.GenerateOption) (string, error) {
	for _, tool := range tools {
		c.toolNames = append(c.toolNames, tool.Name)
	}
	out, err := tools[0].Handler(ctx, `{"query":"who drove for McLaren?"}`)
	c.result = out
	return "Senna.", err
}

func TestAgentChat(t *testing.T) {
	client := &toolRunningClient{}
	searcher := &stubSearcher{root: &Node{Answer: "Senna drove for McLaren."}}
	agent := NewAgent(NewAgentParams{
		Client:   client,
		Searcher: searcher,
		Chunks:   NewChunkSearcher(client, &searchStore{}, nil),
	})

	trace := NewQueryTrace()
	reply, err := agent.Chat(context.Background(), "kb", []ai.ChatMessage{ai.UserMessage("Who drove for McLaren?")}, trace)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "Senna." || searcher.kbID != "kb" {
		t.Fatalf("unexpected reply %q for kb %q", reply, searcher.kbID)
	}
	if strings.Join(client.toolNames, ",") != DriftToolName+","+SimilarityToolName {
		t.Fatalf("unexpected tools %v", client.toolNames)
	}
	if !strings.Contains(client.result, "Senna drove for McLaren.") {
		t.Fatalf("tool result missing fact: %q", client.result)
	}
	if len(trace.Snapshot().ToolCalls) != 1 {
		t.Fatalf("tool call not traced")
	}

	if _, err := agent.Chat(context.Background(), "kb", nil, nil); err == nil {
		t.Fatalf("expected error without messages")
	}
}
