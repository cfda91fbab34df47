package cmd

import (
	"log/slog"

	"github.com/phalanx-soar/phalanx/pkg/integrations/httpcall"
	"github.com/phalanx-soar/phalanx/pkg/registry"
)

// NewRegistry builds the action registry with the built-in integrations.
func NewRegistry(logger *slog.Logger) *registry.Registry {
	reg := registry.NewRegistry(logger)
	reg.RegisterAction(httpcall.NewFactory())

	return reg
}
