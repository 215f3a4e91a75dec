package store

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/sd8capricon/graph-rag/pkg/common"
)

// Labels and relationship types every graph contains regardless of ontology.
const (
	LabelChunk     = "Chunk"
	LabelFile      = "File"
	LabelCommunity = "Community"

	RelSimilar     = "SIMILAR"
	RelBelongsTo   = "BELONGS_TO"
	RelInCommunity = "IN_COMMUNITY"
	RelChunkOf     = "CHUNK_OF"
)

// IsReservedLabel reports whether label belongs to the lexical or
// community graph and so cannot be used for extracted entities.
func IsReservedLabel(label string) bool {
	return slices.Contains([]string{LabelChunk, LabelFile, LabelCommunity}, label)
}

// IsReservedRelationship reports whether rel is written by ingestion itself.
func IsReservedRelationship(rel string) bool {
	return slices.Contains([]string{RelSimilar, RelBelongsTo, RelInCommunity, RelChunkOf}, rel)
}

// ErrInvalidIdentifier is returned when a label or relationship type is not
// a plain identifier or is not allowed by the active ontology.
var ErrInvalidIdentifier = errors.New("invalid graph identifier")

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// IsIdentifier reports whether s can be used as a label or relationship type.
func IsIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

// AllowList holds the schema identifiers that may be interpolated into
// query text. Parameter values never go through it.
type AllowList struct {
	labels map[string]struct{}
	rels   map[string]struct{}
}

// NewAllowList allows the base labels and relationship types plus every
// label and relationship declared by ontology.
func NewAllowList(ontology *common.Ontology) *AllowList {
	a := &AllowList{
		labels: map[string]struct{}{
			LabelChunk:     {},
			LabelFile:      {},
			LabelCommunity: {},
		},
		rels: map[string]struct{}{
			RelSimilar:     {},
			RelBelongsTo:   {},
			RelInCommunity: {},
			RelChunkOf:     {},
		},
	}
	if ontology == nil {
		return a
	}
	for _, l := range ontology.EntityLabels {
		if IsIdentifier(l) {
			a.labels[l] = struct{}{}
		}
	}
	for _, r := range ontology.Relationships() {
		if IsIdentifier(r) {
			a.rels[r] = struct{}{}
		}
	}
	return a
}

// Label returns the quoted label or ErrInvalidIdentifier.
func (a *AllowList) Label(name string) (string, error) {
	if _, ok := a.labels[name]; !ok || !IsIdentifier(name) {
		return "", fmt.Errorf("%w: label %q", ErrInvalidIdentifier, name)
	}
	return "`" + name + "`", nil
}

// Relationship returns the quoted relationship type or ErrInvalidIdentifier.
func (a *AllowList) Relationship(name string) (string, error) {
	if _, ok := a.rels[name]; !ok || !IsIdentifier(name) {
		return "", fmt.Errorf("%w: relationship %q", ErrInvalidIdentifier, name)
	}
	return "`" + name + "`", nil
}

// Cypher assembles query text from literal fragments and validated
// identifiers. The first invalid identifier sticks and is returned by Build.
//
//	q, err := allow.Cypher().
//		Text("MATCH (s:").Label("Driver").Text(" {id: $id}) RETURN s").
//		Build("entity.get", map[string]any{"id": id})
type Cypher struct {
	allow *AllowList
	b     strings.Builder
	err   error
}

// Cypher starts a new query builder.
func (a *AllowList) Cypher() *Cypher {
	return &Cypher{allow: a}
}

// Text appends a literal fragment.
func (c *Cypher) Text(s string) *Cypher {
	c.b.WriteString(s)
	return c
}

// Label appends a quoted, allow-listed label.
func (c *Cypher) Label(name string) *Cypher {
	if c.err != nil {
		return c
	}
	q, err := c.allow.Label(name)
	if err != nil {
		c.err = err
		return c
	}
	c.b.WriteString(q)
	return c
}

// Rel appends a quoted, allow-listed relationship type.
func (c *Cypher) Rel(name string) *Cypher {
	if c.err != nil {
		return c
	}
	q, err := c.allow.Relationship(name)
	if err != nil {
		c.err = err
		return c
	}
	c.b.WriteString(q)
	return c
}

// Build returns the named query or the first identifier error.
func (c *Cypher) Build(name string, params map[string]any) (Query, error) {
	if c.err != nil {
		return Query{}, c.err
	}
	return Query{Name: name, Text: c.b.String(), Params: params}, nil
}
