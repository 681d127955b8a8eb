// Package persistence provides a small JSON-file-backed key/value store
// used to index state that must survive a warm restart.
package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"

	"edgecache/pkg/logger"
)

const saveDebounceInterval = 2 * time.Second

// StateManager holds a map[string]json.RawMessage backed by a single JSON
// file on fs. Set schedules a debounced save; SaveNow flushes immediately,
// which callers that need "persisted after every write" (e.g. the MPD
// index) should use instead of relying on the debounce window.
type StateManager struct {
	fs       afero.Fs
	filePath string
	data     map[string]json.RawMessage
	mu       sync.RWMutex

	saveMu    sync.Mutex
	saveTimer *time.Timer
}

// NewStateManager loads filePath from fs (creating an empty store if it
// does not exist) and returns the manager.
func NewStateManager(fs afero.Fs, filePath string) (*StateManager, error) {
	m := &StateManager{
		fs:       fs,
		filePath: filePath,
		data:     make(map[string]json.RawMessage),
	}
	if err := m.load(); err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	return m, nil
}

func (m *StateManager) load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := afero.ReadFile(m.fs, m.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, &m.data)
}

// Get unmarshals the stored value for key into target. ok is false if key
// is absent.
func (m *StateManager) Get(key string, target interface{}) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	raw, ok := m.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, target)
}

// Set stores value for key and schedules a debounced save.
func (m *StateManager) Set(key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.data[key] = raw
	m.mu.Unlock()

	m.scheduleSave()
	return nil
}

// SetNow stores value for key and flushes to disk synchronously, bypassing
// the debounce window.
func (m *StateManager) SetNow(key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.data[key] = raw
	m.mu.Unlock()

	return m.SaveNow()
}

func (m *StateManager) scheduleSave() {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	if m.saveTimer != nil {
		m.saveTimer.Stop()
	}
	m.saveTimer = time.AfterFunc(saveDebounceInterval, func() {
		m.saveMu.Lock()
		m.saveTimer = nil
		m.saveMu.Unlock()
		if err := m.SaveNow(); err != nil {
			logger.Error("failed to save persisted state", "path", m.filePath, "err", err)
		}
	})
}

// SaveNow writes the current state to disk immediately.
func (m *StateManager) SaveNow() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saveLocked()
}

func (m *StateManager) saveLocked() error {
	if dir := filepath.Dir(m.filePath); dir != "" {
		if err := m.fs.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(m.data, "", "  ")
	if err != nil {
		return err
	}
	return afero.WriteFile(m.fs, m.filePath, data, 0644)
}
