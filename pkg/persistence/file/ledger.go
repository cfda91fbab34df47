package file

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/phalanx-soar/phalanx/pkg/models"
	"github.com/phalanx-soar/phalanx/pkg/persistence"
)

// LedgerRepository is an append-only JSONL file. Each line is one audit
// event carrying the global offset assigned at append time. The writer holds
// the file open with O_APPEND and serializes appends with a mutex so offsets
// stay strictly increasing.
type LedgerRepository struct {
	path string
	mu   sync.Mutex
	file *os.File
	next int64
}

func NewLedgerRepository(root string) (*LedgerRepository, error) {
	dir := filepath.Join(root, "ledger")
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	path := filepath.Join(dir, "events.jsonl")

	last, err := lastOffset(path)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	return &LedgerRepository{path: path, file: file, next: last + 1}, nil
}

// Append assigns the next global offset, persists the event, and returns the
// offset. The event's Offset field is overwritten unconditionally.
func (r *LedgerRepository) Append(_ context.Context, event *models.AuditEvent) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	event.Offset = r.next

	data, err := json.Marshal(event)
	if err != nil {
		return 0, &persistence.StoreError{Op: "ledger.append", Key: string(event.Kind), Err: err}
	}

	if _, err := r.file.Write(append(data, '\n')); err != nil {
		return 0, &persistence.StoreError{Op: "ledger.append", Key: string(event.Kind), Err: err}
	}

	if err := r.file.Sync(); err != nil {
		return 0, &persistence.StoreError{Op: "ledger.append", Key: string(event.Kind), Err: err}
	}

	r.next++

	return event.Offset, nil
}

// Read returns events for a case with offset greater than sinceOffset, in
// offset order. A limit of zero means no limit.
func (r *LedgerRepository) Read(_ context.Context, caseID string, sinceOffset int64, limit int) ([]*models.AuditEvent, error) {
	return r.scan(func(e *models.AuditEvent) bool {
		return e.CaseID == caseID && e.Offset > sinceOffset
	}, limit)
}

// ReadRun returns every event recorded for a run, in offset order.
func (r *LedgerRepository) ReadRun(_ context.Context, runID string) ([]*models.AuditEvent, error) {
	return r.scan(func(e *models.AuditEvent) bool { return e.RunID == runID }, 0)
}

func (r *LedgerRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.file.Close()
}

// scan reads the ledger file without taking the writer mutex, so readers
// never block appends. A concurrent append can expose a partially written
// trailing line; the scan stops at the first line that fails to parse and
// returns everything before it.
func (r *LedgerRepository) scan(keep func(*models.AuditEvent) bool, limit int) ([]*models.AuditEvent, error) {
	file, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []*models.AuditEvent{}, nil
		}

		return nil, &persistence.StoreError{Op: "ledger.read", Err: err}
	}
	defer file.Close()

	events := []*models.AuditEvent{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var event models.AuditEvent
		if err := json.Unmarshal(line, &event); err != nil {
			break
		}

		if !keep(&event) {
			continue
		}

		events = append(events, &event)
		if limit > 0 && len(events) >= limit {
			break
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, &persistence.StoreError{Op: "ledger.read", Err: err}
	}

	return events, nil
}

// lastOffset scans an existing ledger file for the highest assigned offset.
func lastOffset(path string) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}

		return 0, fmt.Errorf("failed to open ledger: %w", err)
	}
	defer file.Close()

	var last int64

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var event models.AuditEvent
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}

		if event.Offset > last {
			last = event.Offset
		}
	}

	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("failed to scan ledger: %w", err)
	}

	return last, nil
}
