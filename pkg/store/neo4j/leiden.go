package neo4j

import (
	"context"
	"fmt"

	"github.com/sd8capricon/graph-rag/pkg/logger"
	"github.com/sd8capricon/graph-rag/pkg/store"
)

type queryRunner interface {
	Run(ctx context.Context, q store.Query) ([]store.Record, error)
}

// LeidenDetector runs Neo4j GDS Leiden over an in-memory projection that
// exists only for the duration of one Detect call.
type LeidenDetector struct {
	client queryRunner
}

func NewLeidenDetector(client *Client) *LeidenDetector {
	return &LeidenDetector{client: client}
}

// relationshipProjection maps every type to an undirected projection.
func relationshipProjection(rels []string) map[string]any {
	out := make(map[string]any, len(rels))
	for _, r := range rels {
		out[r] = map[string]any{"type": r, "orientation": "UNDIRECTED"}
	}
	return out
}

const nativeProjectQuery = `CALL gds.graph.project($name, $labels, $relationships)
YIELD nodeCount, relationshipCount
RETURN nodeCount, relationshipCount`

// fileProjectQuery builds the projection from the nodes of one source file
// through Cypher aggregation. Labels and types are matched as parameters.
const fileProjectQuery = `MATCH (s)
WHERE s.source_file_id = $source_file_id AND any(l IN labels(s) WHERE l IN $labels)
OPTIONAL MATCH (s)-[r]->(t)
WHERE t.source_file_id = $source_file_id
  AND type(r) IN $relationships
  AND any(l IN labels(t) WHERE l IN $labels)
WITH gds.graph.project(
  $name, s, t,
  CASE WHEN r IS NULL THEN {} ELSE {relationshipType: type(r)} END,
  {undirectedRelationshipTypes: ['*']}
) AS g
RETURN g.nodeCount AS nodeCount, g.relationshipCount AS relationshipCount`

func projectQuery(req store.DetectRequest) store.Query {
	if req.SourceFileID == "" {
		return store.Query{
			Name: "gds.project",
			Text: nativeProjectQuery,
			Params: map[string]any{
				"name":          req.GraphName,
				"labels":        req.Labels,
				"relationships": relationshipProjection(req.Relationships),
			},
		}
	}
	return store.Query{
		Name: "gds.project.file",
		Text: fileProjectQuery,
		Params: map[string]any{
			"name":           req.GraphName,
			"labels":         req.Labels,
			"relationships":  req.Relationships,
			"source_file_id": req.SourceFileID,
		},
	}
}

// Detect projects the given labels and relationship types, writes the
// community id property and drops the projection again.
func (d *LeidenDetector) Detect(ctx context.Context, req store.DetectRequest) error {
	if req.GraphName == "" {
		return fmt.Errorf("leiden: graph name is required")
	}
	if len(req.Labels) == 0 || len(req.Relationships) == 0 {
		return fmt.Errorf("leiden: labels and relationships are required")
	}
	if req.WriteProperty == "" {
		req.WriteProperty = "community_id"
	}

	if _, err := d.client.Run(ctx, projectQuery(req)); err != nil {
		return fmt.Errorf("leiden: project graph: %w", err)
	}
	defer func() {
		drop := store.Query{
			Name:   "gds.drop",
			Text:   `CALL gds.graph.drop($name, false) YIELD graphName RETURN graphName`,
			Params: map[string]any{"name": req.GraphName},
		}
		if _, err := d.client.Run(context.WithoutCancel(ctx), drop); err != nil {
			logger.Warn("[Community] Failed to drop projection", "graph", req.GraphName, "err", err)
		}
	}()

	records, err := d.client.Run(ctx, store.Query{
		Name: "gds.leiden.write",
		Text: `CALL gds.leiden.write($name, {writeProperty: $property})
YIELD communityCount, nodePropertiesWritten
RETURN communityCount, nodePropertiesWritten`,
		Params: map[string]any{
			"name":     req.GraphName,
			"property": req.WriteProperty,
		},
	})
	if err != nil {
		return fmt.Errorf("leiden: write communities: %w", err)
	}
	if len(records) > 0 {
		logger.Debug("[Community] Leiden finished",
			"graph", req.GraphName,
			"communities", records[0]["communityCount"],
			"nodes", records[0]["nodePropertiesWritten"],
		)
	}
	return nil
}
