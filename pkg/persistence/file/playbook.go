package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/phalanx-soar/phalanx/pkg/models"
	"github.com/phalanx-soar/phalanx/pkg/persistence"
)

// PlaybookRepository stores each playbook version as its own JSON document
// under <root>/playbooks/<id>@v<version>.json.
type PlaybookRepository struct {
	dir string
	mu  sync.RWMutex
}

func NewPlaybookRepository(root string) *PlaybookRepository {
	return &PlaybookRepository{dir: filepath.Join(root, "playbooks")}
}

func (r *PlaybookRepository) Save(_ context.Context, def *models.PlaybookDefinition) error {
	if err := validateID(def.ID); err != nil {
		return &persistence.StoreError{Op: "playbook.save", Key: def.ID, Err: err}
	}

	data, err := json.MarshalIndent(def, "", "  ")
	if err != nil {
		return &persistence.StoreError{Op: "playbook.save", Key: def.ID, Err: err}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(r.dir, 0750); err != nil {
		return &persistence.StoreError{Op: "playbook.save", Key: def.ID, Err: err}
	}

	// O_EXCL keeps stored versions immutable: a second save of the same
	// (id, version) pair must never overwrite the first.
	name := fmt.Sprintf("%s@v%d.json", def.ID, def.Version)

	doc, err := os.OpenFile(filepath.Join(r.dir, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		if os.IsExist(err) {
			return persistence.ErrPlaybookVersionExists
		}

		return &persistence.StoreError{Op: "playbook.save", Key: def.ID, Err: err}
	}

	if _, err := doc.Write(data); err != nil {
		_ = doc.Close()

		return &persistence.StoreError{Op: "playbook.save", Key: def.ID, Err: err}
	}

	if err := doc.Close(); err != nil {
		return &persistence.StoreError{Op: "playbook.save", Key: def.ID, Err: err}
	}

	return nil
}

func (r *PlaybookRepository) GetByVersion(_ context.Context, id string, version int) (*models.PlaybookDefinition, error) {
	if err := validateID(id); err != nil {
		return nil, &persistence.StoreError{Op: "playbook.get", Key: id, Err: err}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	path := filepath.Join(r.dir, fmt.Sprintf("%s@v%d.json", id, version))

	return r.load(path)
}

func (r *PlaybookRepository) GetLatest(ctx context.Context, id string) (*models.PlaybookDefinition, error) {
	if err := validateID(id); err != nil {
		return nil, &persistence.StoreError{Op: "playbook.get", Key: id, Err: err}
	}

	versions, err := r.versionsOf(id)
	if err != nil {
		return nil, err
	}

	if len(versions) == 0 {
		return nil, persistence.ErrPlaybookNotFound
	}

	return r.GetByVersion(ctx, id, versions[len(versions)-1])
}

func (r *PlaybookRepository) List(_ context.Context) ([]*models.PlaybookDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*models.PlaybookDefinition{}, nil
		}

		return nil, &persistence.StoreError{Op: "playbook.list", Err: err}
	}

	latest := map[string]*models.PlaybookDefinition{}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		def, err := r.load(filepath.Join(r.dir, entry.Name()))
		if err != nil {
			return nil, err
		}

		if cur, ok := latest[def.ID]; !ok || def.Version > cur.Version {
			latest[def.ID] = def
		}
	}

	defs := make([]*models.PlaybookDefinition, 0, len(latest))
	for _, def := range latest {
		defs = append(defs, def)
	}

	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })

	return defs, nil
}

func (r *PlaybookRepository) load(path string) (*models.PlaybookDefinition, error) {
	data, err := readDocument(path, persistence.ErrPlaybookNotFound)
	if err != nil {
		return nil, err
	}

	var def models.PlaybookDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, &persistence.StoreError{Op: "playbook.load", Key: filepath.Base(path), Err: err}
	}

	return &def, nil
}

func (r *PlaybookRepository) versionsOf(id string) ([]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, &persistence.StoreError{Op: "playbook.list", Key: id, Err: err}
	}

	prefix := id + "@v"
	versions := []int{}

	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".json") {
			continue
		}

		var version int
		if _, err := fmt.Sscanf(strings.TrimSuffix(name, ".json"), id+"@v%d", &version); err == nil {
			versions = append(versions, version)
		}
	}

	sort.Ints(versions)

	return versions, nil
}
