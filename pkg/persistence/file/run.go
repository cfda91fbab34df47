package file

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/phalanx-soar/phalanx/pkg/models"
	"github.com/phalanx-soar/phalanx/pkg/persistence"
)

// RunRepository stores each run as a single JSON document under
// <root>/runs/<id>.json. Save overwrites the whole document, so every
// checkpoint leaves the run in a consistent state on disk.
type RunRepository struct {
	dir string
	mu  sync.RWMutex
}

func NewRunRepository(root string) *RunRepository {
	return &RunRepository{dir: filepath.Join(root, "runs")}
}

func (r *RunRepository) Save(_ context.Context, run *models.Run) error {
	if err := validateID(run.ID); err != nil {
		return &persistence.StoreError{Op: "run.save", Key: run.ID, Err: err}
	}

	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return &persistence.StoreError{Op: "run.save", Key: run.ID, Err: err}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := writeDocument(r.dir, run.ID+".json", data); err != nil {
		return &persistence.StoreError{Op: "run.save", Key: run.ID, Err: err}
	}

	return nil
}

func (r *RunRepository) GetByID(_ context.Context, id string) (*models.Run, error) {
	if err := validateID(id); err != nil {
		return nil, &persistence.StoreError{Op: "run.get", Key: id, Err: err}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.load(filepath.Join(r.dir, id+".json"))
}

func (r *RunRepository) ListByCase(_ context.Context, caseID string) ([]*models.Run, error) {
	return r.list(func(run *models.Run) bool { return run.CaseID == caseID })
}

// ListUnfinished returns runs left in a non-terminal status, used by the
// engine's startup recovery pass.
func (r *RunRepository) ListUnfinished(_ context.Context) ([]*models.Run, error) {
	return r.list(func(run *models.Run) bool { return !run.Status.Terminal() })
}

func (r *RunRepository) list(keep func(*models.Run) bool) ([]*models.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*models.Run{}, nil
		}

		return nil, &persistence.StoreError{Op: "run.list", Err: err}
	}

	runs := []*models.Run{}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		run, err := r.load(filepath.Join(r.dir, entry.Name()))
		if err != nil {
			return nil, err
		}

		if keep(run) {
			runs = append(runs, run)
		}
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.Before(runs[j].StartedAt) })

	return runs, nil
}

func (r *RunRepository) load(path string) (*models.Run, error) {
	data, err := readDocument(path, persistence.ErrRunNotFound)
	if err != nil {
		return nil, err
	}

	var run models.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, &persistence.StoreError{Op: "run.load", Key: filepath.Base(path), Err: err}
	}

	return &run, nil
}
