package graph

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/sd8capricon/graph-rag/pkg/ai"
	"github.com/sd8capricon/graph-rag/pkg/common"
	"github.com/sd8capricon/graph-rag/pkg/logger"
	"github.com/sd8capricon/graph-rag/pkg/store"
)

// OntologyResolver derives an ontology from a free-text extraction intent.
type OntologyResolver struct {
	client ai.GraphAIClient
}

func NewOntologyResolver(client ai.GraphAIClient) *OntologyResolver {
	return &OntologyResolver{client: client}
}

type ontologyOutput common.Ontology

// Validate rejects an ontology that declares no usable entity label.
func (o *ontologyOutput) Validate() error {
	if len(o.EntityLabels) == 0 {
		return errors.New("ontology declares no entity labels")
	}
	return nil
}

// Resolve asks the model for an ontology once. A response that does not
// parse is returned as an error wrapping ai.ErrExtraction.
func (r *OntologyResolver) Resolve(ctx context.Context, description string) (*common.Ontology, error) {
	if r.client == nil {
		return nil, fmt.Errorf("%w: ontology resolver needs a language model", ErrConfig)
	}
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, fmt.Errorf("%w: empty extraction description", ai.ErrExtraction)
	}

	prompt := fmt.Sprintf(ai.OntologyPrompt, ai.FormatInstructions(common.Ontology{}))
	res, err := ai.GenerateStructured[ontologyOutput](
		ctx,
		r.client,
		[]ai.ChatMessage{ai.UserMessage(description)},
		ai.WithSystemPrompts(prompt),
		ai.WithJSONMode(),
		ai.WithTemperature(0.1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve ontology: %w", err)
	}
	if !res.Ok() {
		return nil, res.Err
	}

	ontology := common.Ontology(res.Value)
	sanitized, err := SanitizeOntology(&ontology)
	if err != nil {
		return nil, &ai.ParseError{Raw: res.Raw, Reason: err.Error()}
	}
	return sanitized, nil
}

// ResolveForKnowledgeBase returns kb.Ontology when it is already set.
// Otherwise it resolves one from the extraction prompt, falling back to the
// description, attaches it to kb and reports resolved=true.
func (r *OntologyResolver) ResolveForKnowledgeBase(
	ctx context.Context,
	kb *common.KnowledgeBase,
) (ontology *common.Ontology, resolved bool, err error) {
	if kb.Ontology != nil && len(kb.Ontology.EntityLabels) > 0 {
		return kb.Ontology, false, nil
	}

	intent := kb.ExtractionPrompt
	if strings.TrimSpace(intent) == "" {
		intent = kb.Description
	}

	ontology, err = r.Resolve(ctx, intent)
	if err != nil {
		return nil, false, err
	}
	kb.Ontology = ontology
	logger.Info("[Ontology] Resolved",
		"knowledge_base_id", kb.ID,
		"labels", len(ontology.EntityLabels),
		"rules", len(ontology.RelationshipRules),
	)
	return ontology, true, nil
}

// SanitizeOntology keeps only labels and relationship types that are safe
// graph identifiers and not reserved by the lexical or community graph. It
// removes duplicate labels and drops rules whose endpoints are not declared
// labels.
func SanitizeOntology(o *common.Ontology) (*common.Ontology, error) {
	out := &common.Ontology{}
	for _, l := range o.EntityLabels {
		l = strings.TrimSpace(l)
		if !store.IsIdentifier(l) {
			logger.Warn("[Ontology] Dropping invalid label", "label", l)
			continue
		}
		if store.IsReservedLabel(l) {
			logger.Warn("[Ontology] Dropping reserved label", "label", l)
			continue
		}
		if !slices.Contains(out.EntityLabels, l) {
			out.EntityLabels = append(out.EntityLabels, l)
		}
	}
	if len(out.EntityLabels) == 0 {
		return nil, errors.New("ontology has no valid entity labels")
	}

	for _, rule := range o.RelationshipRules {
		rule.SourceLabel = strings.TrimSpace(rule.SourceLabel)
		rule.Relationship = strings.TrimSpace(rule.Relationship)
		rule.TargetLabel = strings.TrimSpace(rule.TargetLabel)
		switch {
		case !store.IsIdentifier(rule.Relationship):
			logger.Warn("[Ontology] Dropping invalid relationship", "relationship", rule.Relationship)
		case store.IsReservedRelationship(rule.Relationship):
			logger.Warn("[Ontology] Dropping reserved relationship", "relationship", rule.Relationship)
		case !out.HasLabel(rule.SourceLabel) || !out.HasLabel(rule.TargetLabel):
			logger.Warn("[Ontology] Dropping rule with undeclared label",
				"source", rule.SourceLabel, "relationship", rule.Relationship, "target", rule.TargetLabel)
		case slices.Contains(out.RelationshipRules, rule):
		default:
			out.RelationshipRules = append(out.RelationshipRules, rule)
		}
	}
	return out, nil
}
