// invalidate.go implements the narrow, additive dependency-invalidation
// feature described in SPEC_FULL.md §5.5 and DESIGN.md's Open Question #4:
// when a forced rebuild targets a package whose installed tree is shared
// with other cached doc entries (split packages built from one source
// root), those dependents are ordered for invalidation using the same
// gonum directed-graph idiom internal/batch/batch.go uses for whole-repo
// build ordering, narrowed here to a handful of nodes at most.
package orchestrator

import (
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

type pkgNode struct {
	id   int64
	name string
}

func (n pkgNode) ID() int64 { return n.id }

// invalidateDependents returns, in an order safe to invalidate in (a
// dependent never precedes the package whose root it shares), every
// package name in docFiles that shares target's package root, excluding
// target itself. docFiles maps package name to its package-root directory.
func invalidateDependents(target string, docFiles map[string]string) []string {
	targetRoot, ok := docFiles[target]
	if !ok {
		return nil
	}

	g := simple.NewDirectedGraph()
	nodes := make(map[string]pkgNode)
	var id int64
	for name, root := range docFiles {
		if name == target || root != targetRoot {
			continue
		}
		n := pkgNode{id: id, name: name}
		nodes[name] = n
		g.AddNode(n)
		id++
	}
	if len(nodes) == 0 {
		return nil
	}
	// All dependents of a shared root are siblings, not a chain, so there
	// are no edges to add; topo.Sort then returns the nodes in no defined
	// order (and would report a cycle error if the graph were ever extended
	// with real edges, which the current split-package model never needs).
	order, err := topo.Sort(g)
	if err != nil {
		// Cycle cannot occur with zero edges; fall back to map iteration
		// order defensively rather than panicking.
		out := make([]string, 0, len(nodes))
		for name := range nodes {
			out = append(out, name)
		}
		return out
	}
	out := make([]string, 0, len(order))
	for _, n := range order {
		out = append(out, n.(pkgNode).name)
	}
	return out
}
