package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gotnw/tradebot/internal/engine"
)

// Snapshot is the persisted application state: every open position with
// its full exit-level lists, the trade history and the active strategy.
type Snapshot struct {
	Positions []engine.Position    `json:"positions"`
	Trades    []engine.TradeRecord `json:"trades"`
	Strategy  string               `json:"strategy,omitempty"`
	SavedAt   time.Time            `json:"saved_at"`
}

// Manager reads and writes state snapshots as JSON. Save failures are
// surfaced as errors for the caller to log; they are never fatal.
type Manager struct {
	path string
	mu   sync.Mutex
}

// NewManager creates a manager persisting to the given path.
func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// Save writes the snapshot atomically (temp file + rename).
func (m *Manager) Save(s Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s.SavedAt = time.Now()
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	if dir := filepath.Dir(m.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("rename state: %w", err)
	}
	return nil
}

// Load reads the snapshot. A missing file returns an empty snapshot with
// no error, so a fresh start needs no special casing.
func (m *Manager) Load() (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Snapshot{}, nil
		}
		return Snapshot{}, fmt.Errorf("read state: %w", err)
	}

	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("parse state: %w", err)
	}
	return s, nil
}
