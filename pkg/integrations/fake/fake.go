// Package fake provides a scripted action for engine and playbook tests.
// Each invocation of a node consumes the next scripted step for that node,
// so flaky-then-successful sequences can be exercised deterministically.
package fake

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/phalanx-soar/phalanx/pkg/protocol"
)

// Step is one scripted outcome.
type Step struct {
	Outputs map[string]any
	Err     error
	Delay   time.Duration
}

// Script holds per-node step sequences shared by every action instance the
// factory creates. The zero value succeeds every invocation with empty
// outputs.
type Script struct {
	mu    sync.Mutex
	steps map[string][]Step
	calls map[string]int
}

func NewScript() *Script {
	return &Script{
		steps: make(map[string][]Step),
		calls: make(map[string]int),
	}
}

// On appends scripted steps for a node.
func (s *Script) On(nodeID string, steps ...Step) *Script {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.steps[nodeID] = append(s.steps[nodeID], steps...)

	return s
}

// Calls reports how many times a node was invoked.
func (s *Script) Calls(nodeID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls[nodeID]
}

func (s *Script) next(nodeID string) Step {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[nodeID]++

	queue := s.steps[nodeID]
	if len(queue) == 0 {
		return Step{}
	}

	step := queue[0]
	if len(queue) > 1 {
		s.steps[nodeID] = queue[1:]
	}

	return step
}

// Factory creates scripted actions backed by a shared script.
type Factory struct {
	script *Script
}

func NewFactory(script *Script) *Factory {
	return &Factory{script: script}
}

func (f *Factory) Create(_ map[string]any, _ *slog.Logger) (protocol.Action, error) {
	return &action{script: f.script}, nil
}

func (f *Factory) ID() string {
	return "fake"
}

type action struct {
	script *Script
}

func (a *action) Execute(ctx context.Context, inv protocol.Invocation) (*protocol.ActionResult, error) {
	step := a.script.next(inv.NodeID)

	if step.Delay > 0 {
		select {
		case <-time.After(step.Delay):
		case <-ctx.Done():
			return nil, protocol.NewActionError(protocol.ErrTimeout, "scripted action interrupted", ctx.Err())
		}
	}

	if step.Err != nil {
		return nil, step.Err
	}

	return &protocol.ActionResult{Outputs: step.Outputs}, nil
}
