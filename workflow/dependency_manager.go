package workflow

import (
	"go.uber.org/zap"
)

// DependencyManager tracks remaining incoming edges per node and feeds the ready queue
type DependencyManager struct {
	remaining  map[string]int  // nodeRef -> untraversed incoming edges
	enqueued   map[string]bool // nodeRef -> already handed to the ready queue
	readyQueue chan string
	logger     *zap.Logger
}

// NewDependencyManager creates a dependency manager from the graph's edge-count indegrees
func NewDependencyManager(g *Graph, logger *zap.Logger) *DependencyManager {
	dm := &DependencyManager{
		remaining:  g.Indegrees(),
		enqueued:   make(map[string]bool, len(g.Nodes())),
		readyQueue: make(chan string, len(g.Nodes())), // each node is enqueued at most once
		logger:     logger,
	}

	dm.logger.Debug("Dependency graph built",
		zap.Int("totalNodes", len(g.Nodes())),
		zap.Any("indegrees", dm.remaining))
	return dm
}

// SeedEntryPoints enqueues every node with no incoming edges, in the given order.
// It returns the number of nodes enqueued.
func (dm *DependencyManager) SeedEntryPoints(order []string) int {
	seeded := 0
	for _, ref := range order {
		if count, ok := dm.remaining[ref]; ok && count == 0 {
			dm.enqueue(ref)
			seeded++
		}
	}
	return seeded
}

// Release records one traversed edge into nodeRef and enqueues it once no
// incoming edges remain. The count never drops below zero.
func (dm *DependencyManager) Release(nodeRef, sourceRef string) bool {
	count, ok := dm.remaining[nodeRef]
	if !ok {
		dm.logger.Warn("Release for unknown node",
			zap.String("targetNode", nodeRef),
			zap.String("sourceNode", sourceRef))
		return false
	}
	if count > 0 {
		count--
		dm.remaining[nodeRef] = count
	}

	dm.logger.Debug("Dependency count decremented",
		zap.String("nodeRef", nodeRef),
		zap.String("sourceNode", sourceRef),
		zap.Int("newCount", count))

	if count == 0 && !dm.enqueued[nodeRef] {
		dm.enqueue(nodeRef)
		return true
	}
	return false
}

// Next pops the next ready node in FIFO order. ok is false once the queue is drained.
func (dm *DependencyManager) Next() (string, bool) {
	select {
	case ref := <-dm.readyQueue:
		return ref, true
	default:
		return "", false
	}
}

// Remaining returns the untraversed incoming edge count for a node, or -1 if unknown
func (dm *DependencyManager) Remaining(nodeRef string) int {
	if count, ok := dm.remaining[nodeRef]; ok {
		return count
	}
	return -1
}

func (dm *DependencyManager) enqueue(nodeRef string) {
	dm.enqueued[nodeRef] = true
	dm.readyQueue <- nodeRef
	dm.logger.Debug("Node scheduled for processing", zap.String("nodeRef", nodeRef))
}
