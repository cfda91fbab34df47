// Package cmd provides shared initialization for the command-line binaries.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/phalanx-soar/phalanx/pkg/persistence"
	"github.com/phalanx-soar/phalanx/pkg/persistence/file"
	"github.com/phalanx-soar/phalanx/pkg/persistence/postgresql"
)

// NewPersistence selects a backend from the database URL scheme.
// postgres:// and postgresql:// connect to PostgreSQL; file:// and bare
// paths use the JSON file store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		scheme = "file"
	}

	switch scheme {
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	case "file":
		return file.NewPersistence(databaseURL)
	default:
		return nil, fmt.Errorf("unsupported persistence provider: %s", scheme)
	}
}
