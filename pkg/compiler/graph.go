package compiler

import (
	"sort"

	"github.com/phalanx-soar/phalanx/pkg/models"
)

// CompiledGraph is the immutable executable form of a playbook definition:
// adjacency by outcome label, incoming edges, and a precomputed topological
// rank per node used for deterministic dispatch ordering. A label may fan
// out to several targets; they all become eligible when the edge fires.
type CompiledGraph struct {
	def   *models.PlaybookDefinition
	nodes map[string]*models.NodeSpec
	out   map[string]map[models.EdgeLabel][]string
	in    map[string][]models.Edge
	rank  map[string]int
}

// Definition returns the source definition. Definitions are content-immutable
// once referenced by a run.
func (g *CompiledGraph) Definition() *models.PlaybookDefinition {
	return g.def
}

// Start returns the id of the designated start node.
func (g *CompiledGraph) Start() string {
	return g.def.Start
}

// Node returns the spec for a node id.
func (g *CompiledGraph) Node(id string) (*models.NodeSpec, bool) {
	n, ok := g.nodes[id]

	return n, ok
}

// Targets returns the nodes reached when the edge labeled label fires,
// sorted by id.
func (g *CompiledGraph) Targets(id string, label models.EdgeLabel) []string {
	return g.out[id][label]
}

// HasEdge reports whether any edge with the given label leaves the node.
func (g *CompiledGraph) HasEdge(id string, label models.EdgeLabel) bool {
	return len(g.out[id][label]) > 0
}

// Successors returns all outgoing targets of a node, label order fixed.
func (g *CompiledGraph) Successors(id string) []string {
	targets := g.out[id]
	out := make([]string, 0, len(targets))

	for _, label := range []models.EdgeLabel{models.EdgeSuccess, models.EdgeFailure, models.EdgeTrue, models.EdgeFalse, models.EdgeDefault} {
		out = append(out, targets[label]...)
	}

	return out
}

// Predecessors returns the incoming edges of a node. For join nodes this is
// the set of branches the rendezvous waits for.
func (g *CompiledGraph) Predecessors(id string) []models.Edge {
	return g.in[id]
}

// Rank returns the topological rank of a node. Nodes eligible at the same
// moment dispatch in ascending rank, then node id.
func (g *CompiledGraph) Rank(id string) int {
	return g.rank[id]
}

// NodeIDs returns every node id sorted by (rank, id).
func (g *CompiledGraph) NodeIDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool {
		if g.rank[ids[i]] != g.rank[ids[j]] {
			return g.rank[ids[i]] < g.rank[ids[j]]
		}

		return ids[i] < ids[j]
	})

	return ids
}
