package common

import "slices"

// KnowledgeBase is the registry record an ingestion run is scoped to.
//
// The Ontology is resolved lazily on the first ingestion run and persisted
// back through the registry so later runs reuse it.
type KnowledgeBase struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Description      string    `json:"description,omitempty"`
	ExtractionPrompt string    `json:"knowledge_extraction_prompt,omitempty"`
	Ontology         *Ontology `json:"ontology,omitempty"`
}

// RelationshipRule is one allowed (source label, relationship, target label)
// triple of an Ontology.
type RelationshipRule struct {
	SourceLabel  string `json:"source_label" jsonschema_description:"Entity label of the subject. Must be one of entity_labels."`
	Relationship string `json:"relationship" jsonschema_description:"Relationship type (predicate) connecting subject and object."`
	TargetLabel  string `json:"target_label" jsonschema_description:"Entity label of the object. Must be one of entity_labels."`
}

// Ontology constrains which entity labels and relationship types an
// extraction run may produce.
type Ontology struct {
	EntityLabels      []string           `json:"entity_labels" jsonschema_description:"Abstract entity categories, no instances."`
	RelationshipRules []RelationshipRule `json:"relationship_rules" jsonschema_description:"Allowed subject-predicate-object triples."`
}

// HasLabel reports whether label is one of the declared entity labels.
func (o *Ontology) HasLabel(label string) bool {
	if o == nil {
		return false
	}
	return slices.Contains(o.EntityLabels, label)
}

// HasRelationship reports whether any rule declares the relationship type.
func (o *Ontology) HasRelationship(rel string) bool {
	if o == nil {
		return false
	}
	for _, r := range o.RelationshipRules {
		if r.Relationship == rel {
			return true
		}
	}
	return false
}

// Relationships returns the distinct relationship types in rule order.
func (o *Ontology) Relationships() []string {
	if o == nil {
		return nil
	}
	out := make([]string, 0, len(o.RelationshipRules))
	for _, r := range o.RelationshipRules {
		if !slices.Contains(out, r.Relationship) {
			out = append(out, r.Relationship)
		}
	}
	return out
}

// FileMetadata identifies one source file of an ingestion run.
type FileMetadata struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Chunk is a piece of a source file. The embedding is filled by the lexical
// graph builder at write time.
type Chunk struct {
	ID           string    `json:"id"`
	Text         string    `json:"text"`
	SourceFileID string    `json:"source_file_id"`
	Source       string    `json:"source,omitempty"`
	Embedding    []float32 `json:"-"`
}

// Entity is an extracted node before persistence. DocIDs holds the chunk ids
// that mentioned the entity; it is accounting metadata and never serialized.
type Entity struct {
	ID         string              `json:"id" jsonschema_description:"Unique identifier of the entity. Reuse the id of an existing entity when the text refers to it again."`
	Label      string              `json:"entity_label" jsonschema_description:"Label of the entity. Must be one of entity_labels."`
	Properties map[string]any      `json:"properties" jsonschema_description:"Attributes of the entity found in the text, e.g. name, age, location. Empty object if none."`
	DocIDs     map[string]struct{} `json:"-"`
}

// DocIDList returns the doc ids in sorted order.
func (e *Entity) DocIDList() []string {
	out := make([]string, 0, len(e.DocIDs))
	for id := range e.DocIDs {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Triplet is a directed, typed edge between two entities.
type Triplet struct {
	SourceID     string `json:"source_id" jsonschema_description:"Id of the source entity."`
	Relationship string `json:"relationship" jsonschema_description:"Relationship type between the entities. Must be allowed by relationship_rules."`
	TargetID     string `json:"target_id" jsonschema_description:"Id of the target entity."`
}

// Community is a cluster of graph nodes from one source file. Summary and
// Embedding stay empty when summarization failed for the community.
type Community struct {
	ID              string    `json:"id"`
	SourceFileID    string    `json:"source_file_id"`
	KnowledgeBaseID string    `json:"knowledge_base_id"`
	Summary         string    `json:"summary,omitempty"`
	Embedding       []float32 `json:"-"`
}
