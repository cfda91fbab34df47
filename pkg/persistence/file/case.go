package file

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/phalanx-soar/phalanx/pkg/models"
	"github.com/phalanx-soar/phalanx/pkg/persistence"
)

// CaseRepository stores each case as a JSON document under <root>/cases/.
type CaseRepository struct {
	dir string
	mu  sync.RWMutex
}

func NewCaseRepository(root string) *CaseRepository {
	return &CaseRepository{dir: filepath.Join(root, "cases")}
}

func (r *CaseRepository) Save(_ context.Context, c *models.Case) error {
	if err := validateID(c.ID); err != nil {
		return &persistence.StoreError{Op: "case.save", Key: c.ID, Err: err}
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return &persistence.StoreError{Op: "case.save", Key: c.ID, Err: err}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := writeDocument(r.dir, c.ID+".json", data); err != nil {
		return &persistence.StoreError{Op: "case.save", Key: c.ID, Err: err}
	}

	return nil
}

func (r *CaseRepository) GetByID(_ context.Context, id string) (*models.Case, error) {
	if err := validateID(id); err != nil {
		return nil, &persistence.StoreError{Op: "case.get", Key: id, Err: err}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.load(filepath.Join(r.dir, id+".json"))
}

// CompareAndSwapRemediationLock swaps the remediation holder while the
// write mutex is held, so the read-check-write cannot interleave with a
// concurrent claimant.
func (r *CaseRepository) CompareAndSwapRemediationLock(_ context.Context, caseID, expected, runID string) (bool, error) {
	if err := validateID(caseID); err != nil {
		return false, &persistence.StoreError{Op: "case.swap_lock", Key: caseID, Err: err}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.load(filepath.Join(r.dir, caseID+".json"))
	if err != nil {
		return false, err
	}

	if c.RemediationRunID != expected {
		return false, nil
	}

	c.RemediationRunID = runID
	c.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return false, &persistence.StoreError{Op: "case.swap_lock", Key: caseID, Err: err}
	}

	if err := writeDocument(r.dir, c.ID+".json", data); err != nil {
		return false, &persistence.StoreError{Op: "case.swap_lock", Key: caseID, Err: err}
	}

	return true, nil
}

func (r *CaseRepository) List(_ context.Context, opts persistence.ListCasesOptions) ([]*models.Case, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*models.Case{}, nil
		}

		return nil, &persistence.StoreError{Op: "case.list", Err: err}
	}

	cases := []*models.Case{}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		c, err := r.load(filepath.Join(r.dir, entry.Name()))
		if err != nil {
			return nil, err
		}

		if opts.Status != nil && c.Status != *opts.Status {
			continue
		}

		if opts.Severity != nil && c.Severity != *opts.Severity {
			continue
		}

		cases = append(cases, c)
	}

	sort.Slice(cases, func(i, j int) bool { return cases[i].CreatedAt.After(cases[j].CreatedAt) })

	if opts.Limit > 0 && len(cases) > opts.Limit {
		cases = cases[:opts.Limit]
	}

	return cases, nil
}

func (r *CaseRepository) load(path string) (*models.Case, error) {
	data, err := readDocument(path, persistence.ErrCaseNotFound)
	if err != nil {
		return nil, err
	}

	var c models.Case
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, &persistence.StoreError{Op: "case.load", Key: filepath.Base(path), Err: err}
	}

	return &c, nil
}
