package httpcall

import (
	"log/slog"

	"github.com/phalanx-soar/phalanx/pkg/protocol"
)

// Factory creates HTTP call actions.
type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

// Create builds an action from node configuration.
func (f *Factory) Create(config map[string]any, logger *slog.Logger) (protocol.Action, error) {
	return NewAction(config, logger)
}

// ID returns the action type identifier used in playbook definitions.
func (f *Factory) ID() string {
	return "http_call"
}
