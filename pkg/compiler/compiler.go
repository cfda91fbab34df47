package compiler

import (
	"sort"
	"strings"

	"github.com/phalanx-soar/phalanx/pkg/models"
)

// Compile validates a playbook definition and produces its executable graph.
// It checks structural integrity (unique ids, resolvable edges, valid
// outcome labels), acyclicity, reachability from the start node, and that
// every referenced variable is a declared input or produced by an ancestor.
func Compile(def *models.PlaybookDefinition) (*CompiledGraph, error) {
	nodes := make(map[string]*models.NodeSpec, len(def.Nodes))

	for _, n := range def.Nodes {
		if _, exists := nodes[n.ID]; exists {
			return nil, newNodeError(CodeDuplicateNode, []string{n.ID}, "node id %q declared more than once", n.ID)
		}

		if err := validateNodeSpec(n); err != nil {
			return nil, err
		}

		nodes[n.ID] = n
	}

	if def.Start == "" {
		return nil, newError(CodeNoStartNode, "definition %q has no start node", def.ID)
	}

	if _, ok := nodes[def.Start]; !ok {
		return nil, newError(CodeNoStartNode, "start node %q is not declared", def.Start)
	}

	out, in, err := buildAdjacency(def, nodes)
	if err != nil {
		return nil, err
	}

	for _, n := range def.Nodes {
		if n.Kind == models.NodeKindJoin && len(in[n.ID]) < 2 {
			return nil, newNodeError(CodeInvalidNode, []string{n.ID}, "join node %q needs at least 2 incoming branches", n.ID)
		}
	}

	rank, err := topologicalRanks(nodes, out, in)
	if err != nil {
		return nil, err
	}

	if err := checkReachability(def.Start, nodes, out); err != nil {
		return nil, err
	}

	graph := &CompiledGraph{def: def, nodes: nodes, out: out, in: in, rank: rank}

	if err := checkVariableBindings(graph); err != nil {
		return nil, err
	}

	return graph, nil
}

func validateNodeSpec(n *models.NodeSpec) error {
	switch n.Kind {
	case models.NodeKindAction:
		if n.ActionType == "" {
			return newNodeError(CodeInvalidNode, []string{n.ID}, "action node %q has no action type", n.ID)
		}
	case models.NodeKindCondition:
		if n.Predicate == nil {
			return newNodeError(CodeInvalidNode, []string{n.ID}, "condition node %q has no predicate", n.ID)
		}
	case models.NodeKindJoin, models.NodeKindTerminal:
	default:
		return newNodeError(CodeUnknownNodeKind, []string{n.ID}, "node %q has unknown kind %q", n.ID, n.Kind)
	}

	return nil
}

func buildAdjacency(
	def *models.PlaybookDefinition,
	nodes map[string]*models.NodeSpec,
) (map[string]map[models.EdgeLabel][]string, map[string][]models.Edge, error) {
	out := make(map[string]map[models.EdgeLabel][]string)
	in := make(map[string][]models.Edge)

	for _, e := range def.Edges {
		from, ok := nodes[e.From]
		if !ok {
			return nil, nil, newError(CodeDanglingEdge, "edge references undeclared node %q", e.From)
		}

		if _, ok := nodes[e.To]; !ok {
			return nil, nil, newError(CodeDanglingEdge, "edge references undeclared node %q", e.To)
		}

		if !labelValid(from.Kind, e.Label) {
			return nil, nil, newNodeError(CodeInvalidEdgeLabel, []string{e.From},
				"label %q is not valid on a %s node", e.Label, from.Kind)
		}

		for _, to := range out[e.From][e.Label] {
			if to == e.To {
				return nil, nil, newNodeError(CodeInvalidEdgeLabel, []string{e.From},
					"duplicate %q edge from %q to %q", e.Label, e.From, e.To)
			}
		}

		if out[e.From] == nil {
			out[e.From] = make(map[models.EdgeLabel][]string)
		}

		out[e.From][e.Label] = append(out[e.From][e.Label], e.To)
		in[e.To] = append(in[e.To], *e)
	}

	for from, labels := range out {
		for label := range labels {
			sort.Strings(out[from][label])
		}
	}

	return out, in, nil
}

func labelValid(kind models.NodeKind, label models.EdgeLabel) bool {
	for _, valid := range models.ValidEdgeLabels(kind) {
		if label == valid {
			return true
		}
	}

	return false
}

// topologicalRanks runs Kahn's algorithm. Rank is the longest path from any
// root, so parallel branches of equal depth share a rank. Nodes left with
// indegree are the cycle set, reported on the error.
func topologicalRanks(
	nodes map[string]*models.NodeSpec,
	out map[string]map[models.EdgeLabel][]string,
	in map[string][]models.Edge,
) (map[string]int, error) {
	indegree := make(map[string]int, len(nodes))
	for id := range nodes {
		indegree[id] = len(in[id])
	}

	frontier := make([]string, 0, len(nodes))

	for id, deg := range indegree {
		if deg == 0 {
			frontier = append(frontier, id)
		}
	}

	sort.Strings(frontier)

	rank := make(map[string]int, len(nodes))
	visited := 0

	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		visited++

		for _, to := range sortedTargets(out[id]) {
			if r := rank[id] + 1; r > rank[to] {
				rank[to] = r
			}

			indegree[to]--
			if indegree[to] == 0 {
				frontier = append(frontier, to)
				sort.Strings(frontier)
			}
		}
	}

	if visited != len(nodes) {
		cycle := make([]string, 0)

		for id, deg := range indegree {
			if deg > 0 {
				cycle = append(cycle, id)
			}
		}

		sort.Strings(cycle)

		return nil, newNodeError(CodeCycle, cycle, "definition contains a cycle")
	}

	return rank, nil
}

// sortedTargets flattens a node's outgoing edges, keeping one entry per
// edge so indegree bookkeeping stays aligned with the incoming edge list.
func sortedTargets(targets map[models.EdgeLabel][]string) []string {
	out := make([]string, 0, len(targets))
	for _, tos := range targets {
		out = append(out, tos...)
	}

	sort.Strings(out)

	return out
}

func checkReachability(start string, nodes map[string]*models.NodeSpec, out map[string]map[models.EdgeLabel][]string) error {
	reached := map[string]bool{start: true}
	queue := []string{start}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		for _, tos := range out[id] {
			for _, to := range tos {
				if !reached[to] {
					reached[to] = true

					queue = append(queue, to)
				}
			}
		}
	}

	unreachable := make([]string, 0)

	for id := range nodes {
		if !reached[id] {
			unreachable = append(unreachable, id)
		}
	}

	if len(unreachable) > 0 {
		sort.Strings(unreachable)

		return newNodeError(CodeUnreachableNode, unreachable, "nodes not reachable from start %q", start)
	}

	return nil
}

// checkVariableBindings verifies def-before-use: every variable a node reads
// must be a declared run input or an output of a strict ancestor.
func checkVariableBindings(g *CompiledGraph) error {
	inputs := make(map[string]bool, len(g.def.Inputs))
	for _, name := range g.def.Inputs {
		inputs[name] = true
	}

	// Ancestor-produced variables, accumulated in topological order.
	available := make(map[string]map[string]bool, len(g.nodes))

	for _, id := range g.NodeIDs() {
		vars := make(map[string]bool)

		for _, e := range g.in[id] {
			pred := g.nodes[e.From]
			for name := range available[e.From] {
				vars[name] = true
			}

			for _, name := range pred.Outputs {
				vars[name] = true
			}
		}

		available[id] = vars

		node := g.nodes[id]
		for _, ref := range nodeReferences(node) {
			root := strings.SplitN(ref, ".", 2)[0]
			if !inputs[root] && !vars[root] {
				return newNodeError(CodeUnboundVariable, []string{id},
					"node %q references %q before any ancestor binds it", id, ref)
			}
		}
	}

	return nil
}

func nodeReferences(n *models.NodeSpec) []string {
	refs := make([]string, 0)

	for _, p := range n.Params {
		refs = append(refs, p.References()...)
	}

	if n.Predicate != nil {
		refs = append(refs, n.Predicate.Variable)
	}

	sort.Strings(refs)

	return refs
}
