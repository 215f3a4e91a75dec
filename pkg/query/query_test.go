package query

import (
	"reflect"
	"testing"

	"github.com/sd8capricon/graph-rag/pkg/ai"
)

func TestCollectAnswers(t *testing.T) {
	tests := []struct {
		name string
		root *Node
		want []string
	}{
		{
			name: "pre-order",
			root: &Node{Answer: "A", Children: []*Node{{Answer: "B"}, {Answer: "C"}}},
			want: []string{"A", "B", "C"},
		},
		{
			name: "depth first",
			root: &Node{Answer: "A", Children: []*Node{
				{Answer: "B", Children: []*Node{{Answer: "B1"}}},
				{Answer: "C"},
			}},
			want: []string{"A", "B", "B1", "C"},
		},
		{
			name: "skips blank and not found",
			root: &Node{Answer: "  ", Children: []*Node{
				{Answer: ai.NotFoundAnswer},
				{Answer: "C"},
			}},
			want: []string{"C"},
		},
		{
			name: "nil root",
			root: nil,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CollectAnswers(tt.root)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestFormatFacts(t *testing.T) {
	tests := []struct {
		name  string
		facts []string
		want  string
	}{
		{name: "facts", facts: []string{"a", "b"}, want: "### Relevant Facts\n- a\n- b"},
		{name: "blank only", facts: []string{" ", ""}, want: "No relevant facts found."},
		{name: "none", facts: nil, want: "No relevant facts found."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatFacts(tt.facts); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
