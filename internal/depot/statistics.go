package depot

import (
	"fmt"
	"time"
)

// propagateStatistics folds a version delta into the aggregates along the
// ancestor chain of nodeID. The population delta lands only on the immediate
// parent (population counts direct version ownership, not recursively); the
// size delta and mtime are applied at every ancestor up to the root, so
// subtree reads at any level stay consistent. Bulk purges that touch many
// nodes under one subtree apply their aggregate directly instead of walking
// once per version.
func propagateStatistics(tx Tx, nodeID int64, dPopulation, dSize int64, mtime time.Time, cluster Cluster) error {
	node, err := tx.NodeGet(nodeID)
	if err != nil {
		return fmt.Errorf("loading node %d: %w", nodeID, err)
	}

	for node.ID != RootNodeID {
		parent := node.ParentID
		if err := tx.StatisticsApply(parent, dPopulation, dSize, mtime, cluster); err != nil {
			return fmt.Errorf("updating statistics of node %d: %w", parent, err)
		}
		dPopulation = 0 // not recursive
		node, err = tx.NodeGet(parent)
		if err != nil {
			return fmt.Errorf("loading node %d: %w", parent, err)
		}
	}
	return nil
}
