package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/sd8capricon/graph-rag/pkg/ai"
)

// Searcher builds a DRIFT answer tree for a query within one knowledge base.
type Searcher interface {
	Search(ctx context.Context, knowledgeBaseID, query string) (*Node, error)
}

// Node is one step of a DRIFT search. Each node owns its children, which
// are kept in follow-up order.
type Node struct {
	Query    string  `json:"query"`
	Answer   string  `json:"answer"`
	Depth    int     `json:"depth"`
	Children []*Node `json:"children,omitempty"`
}

// AddChild appends child to the node's children.
func (n *Node) AddChild(child *Node) {
	n.Children = append(n.Children, child)
}

// Walk visits the tree pre-order: the node, then each child subtree in
// order. Walk stops descending when fn returns false.
func (n *Node) Walk(fn func(*Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// Size returns the number of nodes in the tree.
func (n *Node) Size() int {
	size := 0
	n.Walk(func(*Node) bool {
		size++
		return true
	})
	return size
}

// CollectAnswers flattens the tree pre-order into the list of informative
// answers. Blank answers and the not-found answer are skipped.
func CollectAnswers(root *Node) []string {
	var facts []string
	root.Walk(func(n *Node) bool {
		answer := strings.TrimSpace(n.Answer)
		if answer != "" && answer != ai.NotFoundAnswer {
			facts = append(facts, answer)
		}
		return true
	})
	return facts
}

// FormatFacts renders facts as the markdown list handed to the agent.
func FormatFacts(facts []string) string {
	var b strings.Builder
	for _, f := range facts {
		if strings.TrimSpace(f) == "" {
			continue
		}
		if b.Len() == 0 {
			b.WriteString("### Relevant Facts")
		}
		fmt.Fprintf(&b, "\n- %s", f)
	}
	if b.Len() == 0 {
		return "No relevant facts found."
	}
	return b.String()
}
