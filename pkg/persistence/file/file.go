// Package file provides file-based persistence for playbooks, runs, cases,
// and the audit ledger. It is the default provider for development and
// single-node deployments.
package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/phalanx-soar/phalanx/pkg/persistence"
)

// Persistence implements persistence.Persistence on the local file system.
type Persistence struct {
	root         string
	playbookRepo *PlaybookRepository
	runRepo      *RunRepository
	caseRepo     *CaseRepository
	ledgerRepo   *LedgerRepository
}

// NewPersistence creates a file persistence rooted at the given directory.
// Accepts a plain path or a file:// URL.
func NewPersistence(root string) (*Persistence, error) {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	if err := os.MkdirAll(cleanRoot, 0750); err != nil {
		return nil, fmt.Errorf("failed to create persistence root %s: %w", cleanRoot, err)
	}

	ledgerRepo, err := NewLedgerRepository(cleanRoot)
	if err != nil {
		return nil, err
	}

	return &Persistence{
		root:         cleanRoot,
		playbookRepo: NewPlaybookRepository(cleanRoot),
		runRepo:      NewRunRepository(cleanRoot),
		caseRepo:     NewCaseRepository(cleanRoot),
		ledgerRepo:   ledgerRepo,
	}, nil
}

func (fp *Persistence) Playbooks() persistence.PlaybookRepository {
	return fp.playbookRepo
}

func (fp *Persistence) Runs() persistence.RunRepository {
	return fp.runRepo
}

func (fp *Persistence) Cases() persistence.CaseRepository {
	return fp.caseRepo
}

func (fp *Persistence) Ledger() persistence.LedgerRepository {
	return fp.ledgerRepo
}

// HealthCheck verifies the root directory is still present.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// Close flushes the ledger writer. There is nothing else to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return fp.ledgerRepo.Close()
}

// validateID rejects identifiers that are unsafe as file names.
func validateID(id string) error {
	if id == "" {
		return errors.New("identifier cannot be empty")
	}

	if strings.Contains(id, "..") || strings.Contains(id, "/") || strings.Contains(id, "\\") {
		return errors.New("identifier contains invalid characters")
	}

	return nil
}

// readDocument loads a JSON document, mapping missing files to notFound.
func readDocument(path string, notFound error) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound
		}

		return nil, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}

	return data, nil
}

// writeDocument stores a JSON document, creating the directory on demand.
func writeDocument(dir, name string, data []byte) error {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}

	return nil
}
