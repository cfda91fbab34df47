package compiler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phalanx-soar/phalanx/pkg/models"
)

func actionNode(id string, outputs ...string) *models.NodeSpec {
	return &models.NodeSpec{ID: id, Kind: models.NodeKindAction, ActionType: "http_call", Outputs: outputs}
}

func conditionNode(id, variable string) *models.NodeSpec {
	return &models.NodeSpec{
		ID:        id,
		Kind:      models.NodeKindCondition,
		Predicate: &models.Predicate{Variable: variable, Op: models.OpGt, Value: 3},
	}
}

func edge(from, to string, label models.EdgeLabel) *models.Edge {
	return &models.Edge{From: from, To: to, Label: label}
}

// triageDefinition builds a small enrichment playbook: look up the sender,
// branch on its reputation score, quarantine or close.
func triageDefinition() *models.PlaybookDefinition {
	return &models.PlaybookDefinition{
		ID:      "phish-triage",
		Name:    "Phishing triage",
		Version: 1,
		Inputs:  []string{"alert"},
		Start:   "check-sender",
		Nodes: []*models.NodeSpec{
			actionNode("check-sender", "sender_rep"),
			conditionNode("is-malicious", "sender_rep.score"),
			actionNode("quarantine"),
			{ID: "close", Kind: models.NodeKindTerminal},
		},
		Edges: []*models.Edge{
			edge("check-sender", "is-malicious", models.EdgeSuccess),
			edge("is-malicious", "quarantine", models.EdgeTrue),
			edge("is-malicious", "close", models.EdgeFalse),
			edge("quarantine", "close", models.EdgeSuccess),
		},
	}
}

func compileError(t *testing.T, def *models.PlaybookDefinition) *CompileError {
	t.Helper()

	graph, err := Compile(def)
	require.Error(t, err)
	require.Nil(t, graph)

	var cerr *CompileError

	require.True(t, errors.As(err, &cerr))

	return cerr
}

func TestCompileTriage(t *testing.T) {
	graph, err := Compile(triageDefinition())
	require.NoError(t, err)

	assert.Equal(t, "check-sender", graph.Start())

	assert.Equal(t, 0, graph.Rank("check-sender"))
	assert.Equal(t, 1, graph.Rank("is-malicious"))
	assert.Equal(t, 2, graph.Rank("quarantine"))
	assert.Equal(t, 3, graph.Rank("close"))

	assert.Equal(t, []string{"check-sender", "is-malicious", "quarantine", "close"}, graph.NodeIDs())

	assert.Equal(t, []string{"quarantine"}, graph.Targets("is-malicious", models.EdgeTrue))
	assert.True(t, graph.HasEdge("is-malicious", models.EdgeFalse))
	assert.False(t, graph.HasEdge("check-sender", models.EdgeFailure))

	incoming := graph.Predecessors("close")
	require.Len(t, incoming, 2)
}

func TestCompileFanOutAndJoin(t *testing.T) {
	def := &models.PlaybookDefinition{
		ID:      "parallel-enrich",
		Name:    "Parallel enrichment",
		Version: 1,
		Start:   "intake",
		Nodes: []*models.NodeSpec{
			actionNode("intake", "ioc"),
			actionNode("lookup-dns"),
			actionNode("lookup-whois"),
			{ID: "merge", Kind: models.NodeKindJoin},
			{ID: "done", Kind: models.NodeKindTerminal},
		},
		Edges: []*models.Edge{
			edge("intake", "lookup-dns", models.EdgeSuccess),
			edge("intake", "lookup-whois", models.EdgeSuccess),
			edge("lookup-dns", "merge", models.EdgeSuccess),
			edge("lookup-whois", "merge", models.EdgeSuccess),
			edge("merge", "done", models.EdgeDefault),
		},
	}

	graph, err := Compile(def)
	require.NoError(t, err)

	assert.Equal(t, []string{"lookup-dns", "lookup-whois"}, graph.Targets("intake", models.EdgeSuccess))
	assert.Equal(t, 1, graph.Rank("lookup-dns"))
	assert.Equal(t, 1, graph.Rank("lookup-whois"))
	assert.Equal(t, 2, graph.Rank("merge"))
	assert.Equal(t, 3, graph.Rank("done"))
}

func TestCompileDuplicateNode(t *testing.T) {
	def := triageDefinition()
	def.Nodes = append(def.Nodes, actionNode("quarantine"))

	cerr := compileError(t, def)
	assert.Equal(t, CodeDuplicateNode, cerr.Code)
	assert.Equal(t, []string{"quarantine"}, cerr.Nodes)
}

func TestCompileDanglingEdge(t *testing.T) {
	def := triageDefinition()
	def.Edges = append(def.Edges, edge("quarantine", "notify", models.EdgeFailure))

	cerr := compileError(t, def)
	assert.Equal(t, CodeDanglingEdge, cerr.Code)
}

func TestCompileInvalidEdgeLabel(t *testing.T) {
	def := triageDefinition()
	def.Edges[1] = edge("is-malicious", "quarantine", models.EdgeSuccess)

	cerr := compileError(t, def)
	assert.Equal(t, CodeInvalidEdgeLabel, cerr.Code)
	assert.Equal(t, []string{"is-malicious"}, cerr.Nodes)
}

func TestCompileDuplicateEdge(t *testing.T) {
	def := triageDefinition()
	def.Edges = append(def.Edges, edge("is-malicious", "quarantine", models.EdgeTrue))

	cerr := compileError(t, def)
	assert.Equal(t, CodeInvalidEdgeLabel, cerr.Code)
}

func TestCompileCycleReportsNodes(t *testing.T) {
	def := &models.PlaybookDefinition{
		ID:      "loop",
		Name:    "Looping playbook",
		Version: 1,
		Start:   "a",
		Nodes: []*models.NodeSpec{
			actionNode("a"),
			actionNode("b"),
			actionNode("c"),
		},
		Edges: []*models.Edge{
			edge("a", "b", models.EdgeSuccess),
			edge("b", "c", models.EdgeSuccess),
			edge("c", "b", models.EdgeFailure),
		},
	}

	cerr := compileError(t, def)
	assert.Equal(t, CodeCycle, cerr.Code)
	assert.Equal(t, []string{"b", "c"}, cerr.Nodes)
}

func TestCompileUnreachableNode(t *testing.T) {
	def := triageDefinition()
	def.Nodes = append(def.Nodes, actionNode("orphan"), &models.NodeSpec{ID: "orphan-end", Kind: models.NodeKindTerminal})
	def.Edges = append(def.Edges, edge("orphan", "orphan-end", models.EdgeSuccess))

	cerr := compileError(t, def)
	assert.Equal(t, CodeUnreachableNode, cerr.Code)
	assert.Equal(t, []string{"orphan", "orphan-end"}, cerr.Nodes)
}

func TestCompileUnboundVariable(t *testing.T) {
	def := triageDefinition()
	def.Nodes[2].Params = map[string]models.ParamValue{
		"body": models.Var("verdict.reason"),
	}

	cerr := compileError(t, def)
	assert.Equal(t, CodeUnboundVariable, cerr.Code)
	assert.Equal(t, []string{"quarantine"}, cerr.Nodes)
}

func TestCompileInputBindingsAreAvailableEverywhere(t *testing.T) {
	def := triageDefinition()
	def.Nodes[2].Params = map[string]models.ParamValue{
		"body": models.Var("alert.message_id"),
	}

	_, err := Compile(def)
	require.NoError(t, err)
}

func TestCompilePredicateVariableMustBeBound(t *testing.T) {
	def := triageDefinition()
	def.Nodes[0].Outputs = nil

	cerr := compileError(t, def)
	assert.Equal(t, CodeUnboundVariable, cerr.Code)
	assert.Equal(t, []string{"is-malicious"}, cerr.Nodes)
}

func TestCompileJoinNeedsTwoBranches(t *testing.T) {
	def := &models.PlaybookDefinition{
		ID:      "thin-join",
		Name:    "Join with one branch",
		Version: 1,
		Start:   "a",
		Nodes: []*models.NodeSpec{
			actionNode("a"),
			{ID: "merge", Kind: models.NodeKindJoin},
		},
		Edges: []*models.Edge{
			edge("a", "merge", models.EdgeSuccess),
		},
	}

	cerr := compileError(t, def)
	assert.Equal(t, CodeInvalidNode, cerr.Code)
	assert.Equal(t, []string{"merge"}, cerr.Nodes)
}

func TestCompileMissingStart(t *testing.T) {
	def := triageDefinition()
	def.Start = ""

	cerr := compileError(t, def)
	assert.Equal(t, CodeNoStartNode, cerr.Code)

	def = triageDefinition()
	def.Start = "nope"

	cerr = compileError(t, def)
	assert.Equal(t, CodeNoStartNode, cerr.Code)
}

func TestCompileInvalidNodeSpecs(t *testing.T) {
	tests := []struct {
		name string
		node *models.NodeSpec
		code ErrorCode
	}{
		{
			name: "action without action type",
			node: &models.NodeSpec{ID: "check-sender", Kind: models.NodeKindAction},
			code: CodeInvalidNode,
		},
		{
			name: "condition without predicate",
			node: &models.NodeSpec{ID: "check-sender", Kind: models.NodeKindCondition},
			code: CodeInvalidNode,
		},
		{
			name: "unknown kind",
			node: &models.NodeSpec{ID: "check-sender", Kind: "loop"},
			code: CodeUnknownNodeKind,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := triageDefinition()
			def.Nodes[0] = tt.node

			cerr := compileError(t, def)
			assert.Equal(t, tt.code, cerr.Code)
		})
	}
}
