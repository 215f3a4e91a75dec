package query

import (
	"slices"
	"sync"
)

type TraceEventKind string

const (
	TraceEventNode        TraceEventKind = "node"
	TraceEventCommunities TraceEventKind = "communities"
	TraceEventChunks      TraceEventKind = "chunks"
	TraceEventToolCall    TraceEventKind = "tool_call"
)

// TraceEvent is an extensible event envelope for query tracing.
// Additive changes to this struct are backward compatible for implementers.
type TraceEvent struct {
	Kind TraceEventKind

	Query        string
	Depth        int
	CommunityIDs []string
	SourceIDs    []string

	ToolName      string
	ToolArguments string
	DurationMs    int64
	Error         string
}

// Tracer is a sink for query tracing events.
//
// Implementers can forward events to logs, telemetry, or custom post-processing
// pipelines.
type Tracer interface {
	Record(event TraceEvent)
}

// MultiTracer fan-outs trace events to multiple tracers.
type MultiTracer []Tracer

func (m MultiTracer) Record(event TraceEvent) {
	for _, t := range m {
		if t == nil {
			continue
		}
		t.Record(event)
	}
}

func RecordNode(t Tracer, query string, depth int) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventNode, Query: query, Depth: depth})
}

func RecordCommunities(t Tracer, ids ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventCommunities, CommunityIDs: ids})
}

func RecordChunks(t Tracer, sourceIDs ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventChunks, SourceIDs: sourceIDs})
}

// ToolCall is one recorded tool invocation.
type ToolCall struct {
	Name       string `json:"name"`
	Arguments  string `json:"arguments"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// QueryTrace collects what a query run visited.
//
// QueryTrace is safe for concurrent use.
type QueryTrace struct {
	mu sync.Mutex

	nodes        int
	maxDepth     int
	communityIDs map[string]struct{}
	sourceIDs    map[string]struct{}
	toolCalls    []ToolCall
}

type QueryTraceSnapshot struct {
	Nodes        int        `json:"nodes"`
	MaxDepth     int        `json:"max_depth"`
	CommunityIDs []string   `json:"community_ids"`
	SourceIDs    []string   `json:"source_ids"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
}

func NewQueryTrace() *QueryTrace {
	return &QueryTrace{
		communityIDs: make(map[string]struct{}),
		sourceIDs:    make(map[string]struct{}),
	}
}

func (t *QueryTrace) Record(event TraceEvent) {
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch event.Kind {
	case TraceEventNode:
		t.nodes++
		t.maxDepth = max(t.maxDepth, event.Depth)
	case TraceEventCommunities:
		for _, id := range event.CommunityIDs {
			if id != "" {
				t.communityIDs[id] = struct{}{}
			}
		}
	case TraceEventChunks:
		for _, id := range event.SourceIDs {
			if id != "" {
				t.sourceIDs[id] = struct{}{}
			}
		}
	case TraceEventToolCall:
		t.toolCalls = append(t.toolCalls, ToolCall{
			Name:       event.ToolName,
			Arguments:  event.ToolArguments,
			DurationMs: event.DurationMs,
			Error:      event.Error,
		})
	}
}

func (t *QueryTrace) Snapshot() QueryTraceSnapshot {
	if t == nil {
		return QueryTraceSnapshot{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	s := QueryTraceSnapshot{
		Nodes:        t.nodes,
		MaxDepth:     t.maxDepth,
		CommunityIDs: make([]string, 0, len(t.communityIDs)),
		SourceIDs:    make([]string, 0, len(t.sourceIDs)),
		ToolCalls:    slices.Clone(t.toolCalls),
	}
	for id := range t.communityIDs {
		s.CommunityIDs = append(s.CommunityIDs, id)
	}
	for id := range t.sourceIDs {
		s.SourceIDs = append(s.SourceIDs, id)
	}
	slices.Sort(s.CommunityIDs)
	slices.Sort(s.SourceIDs)
	return s
}
