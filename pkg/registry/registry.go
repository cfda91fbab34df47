// Package registry manages the set of integration action factories known to
// the engine.
package registry

import (
	"fmt"
	"log/slog"

	"github.com/phalanx-soar/phalanx/pkg/protocol"
)

// Registry holds registered integration factories. The engine resolves a
// node's action type through it at dispatch time.
type Registry struct {
	logger          *slog.Logger
	actionFactories map[string]protocol.ActionFactory
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:          logger,
		actionFactories: make(map[string]protocol.ActionFactory),
	}
}

func (r *Registry) RegisterAction(factory protocol.ActionFactory) {
	r.actionFactories[factory.ID()] = factory
}

// CreateAction instantiates an action of the given type. Unknown types are
// an error surfaced before any dispatch happens.
func (r *Registry) CreateAction(actionType string, config map[string]any) (protocol.Action, error) {
	factory, ok := r.actionFactories[actionType]
	if !ok {
		return nil, fmt.Errorf("action type %q not registered", actionType)
	}

	return factory.Create(config, r.logger)
}

// HasAction reports whether an action type is registered. The compiler uses
// it to reject definitions referencing unknown integrations early.
func (r *Registry) HasAction(actionType string) bool {
	_, ok := r.actionFactories[actionType]

	return ok
}

// ActionTypes lists the registered action types.
func (r *Registry) ActionTypes() []string {
	types := make([]string, 0, len(r.actionFactories))
	for actionType := range r.actionFactories {
		types = append(types, actionType)
	}

	return types
}
