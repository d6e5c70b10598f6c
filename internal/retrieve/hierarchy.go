package retrieve

import (
	"context"

	"qsrcore/internal/persistence/databases"
	"qsrcore/internal/qsrmodel"
)

const maxAncestorDepth = 3

// AncestorPath walks BELONGS_TO edges from an entity up to maxAncestorDepth,
// collecting the chain of ancestor entities, per spec §4.6 step 5.
func AncestorPath(ctx context.Context, g databases.GraphDB, entity qsrmodel.Entity) ([]qsrmodel.Entity, error) {
	if g == nil {
		return nil, nil
	}
	var path []qsrmodel.Entity
	current := entity.NodeKey()
	for depth := 0; depth < maxAncestorDepth; depth++ {
		parents, err := g.Neighbors(ctx, current, string(qsrmodel.RelBelongsTo))
		if err != nil {
			return path, err
		}
		if len(parents) == 0 {
			break
		}
		parentKey := parents[0]
		node, ok := g.GetNode(ctx, parentKey)
		if !ok {
			break
		}
		parent := entityFromNode(node)
		path = append(path, parent)
		current = parentKey
	}
	return path, nil
}
