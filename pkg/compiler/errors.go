// Package compiler turns playbook definitions into validated, executable
// graphs.
package compiler

import (
	"fmt"
	"strings"
)

// ErrorCode identifies the class of a compile failure.
type ErrorCode string

const (
	CodeInvalidDocument  ErrorCode = "invalid_document"
	CodeUnknownNodeKind  ErrorCode = "unknown_node_kind"
	CodeNoStartNode      ErrorCode = "no_start_node"
	CodeDuplicateNode    ErrorCode = "duplicate_node"
	CodeDanglingEdge     ErrorCode = "dangling_edge"
	CodeInvalidEdgeLabel ErrorCode = "invalid_edge_label"
	CodeCycle            ErrorCode = "cycle"
	CodeUnreachableNode  ErrorCode = "unreachable_node"
	CodeUnboundVariable  ErrorCode = "unbound_variable"
	CodeInvalidNode      ErrorCode = "invalid_node"
)

// CompileError reports a definition problem. Compilation failures are local
// and non-fatal: they prevent a run from starting and never affect other
// runs or definitions.
type CompileError struct {
	Code    ErrorCode
	Message string
	Nodes   []string // Offending node ids, e.g. the detected cycle set
}

func (e *CompileError) Error() string {
	if len(e.Nodes) > 0 {
		return fmt.Sprintf("compile error (%s): %s [nodes: %s]", e.Code, e.Message, strings.Join(e.Nodes, ", "))
	}

	return fmt.Sprintf("compile error (%s): %s", e.Code, e.Message)
}

func newError(code ErrorCode, format string, args ...any) *CompileError {
	return &CompileError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func newNodeError(code ErrorCode, nodes []string, format string, args ...any) *CompileError {
	return &CompileError{Code: code, Message: fmt.Sprintf(format, args...), Nodes: nodes}
}
