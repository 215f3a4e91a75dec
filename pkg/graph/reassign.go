package graph

import (
	"fmt"

	"github.com/sd8capricon/graph-rag/pkg/common"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// ReassignIDs gives every entity a freshly generated id and rewrites the
// triplets through the old -> new mapping. Triplets whose source or target
// is not in entities are dropped and counted.
func ReassignIDs(
	entities []common.Entity,
	triplets []common.Triplet,
) ([]common.Entity, []common.Triplet, int, error) {
	idMap := make(map[string]string, len(entities))
	out := make([]common.Entity, 0, len(entities))
	for _, e := range entities {
		newID, err := gonanoid.New()
		if err != nil {
			return nil, nil, 0, fmt.Errorf("failed to generate entity id: %w", err)
		}
		idMap[e.ID] = newID
		e.ID = newID
		out = append(out, e)
	}

	kept := make([]common.Triplet, 0, len(triplets))
	dropped := 0
	for _, t := range triplets {
		src, okSrc := idMap[t.SourceID]
		tgt, okTgt := idMap[t.TargetID]
		if !okSrc || !okTgt {
			dropped++
			continue
		}
		kept = append(kept, common.Triplet{SourceID: src, Relationship: t.Relationship, TargetID: tgt})
	}
	return out, kept, dropped, nil
}
