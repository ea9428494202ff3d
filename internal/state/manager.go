// Package state provides persistent storage for file metadata that the
// native filesystem cannot hold.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"aggfs/internal/logging"
)

var (
	logger = logging.GetLogger().WithPrefix("state")
)

// BackupDirName is created next to the state file.
const BackupDirName = ".aggfs-backups"

// Manager handles loading and saving the attribute overlay.
// A Manager with an empty state path keeps everything in memory.
type Manager struct {
	statePath   string
	backupDir   string
	backupCount int
	state       *FSState
	mu          sync.RWMutex
}

// NewMemoryManager returns a Manager that never touches disk.
func NewMemoryManager() *Manager {
	return &Manager{state: newState()}
}

// NewManager creates a new state manager for the given state file path.
// It ensures the state directory exists and is writable, then loads any
// existing state.
func NewManager(statePath string) (*Manager, error) {
	if statePath == "" {
		logger.Debug("No state file configured, using in-memory attribute store")
		return NewMemoryManager(), nil
	}

	logger.Debug("Creating new state manager with path: %s", statePath)

	absPath, err := filepath.Abs(statePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve state path %s: %w", statePath, err)
	}
	logger.Debug("Resolved state path: %s", absPath)

	// Create parent directory if it doesn't exist
	stateDir := filepath.Dir(absPath)
	if mkdirErr := os.MkdirAll(stateDir, 0755); mkdirErr != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, mkdirErr)
	}

	// Try to create an empty file to verify we have write permissions
	f, writeErr := os.OpenFile(absPath, os.O_WRONLY|os.O_CREATE, 0644)
	if writeErr != nil {
		return nil, fmt.Errorf("failed to create state file %s: %w", absPath, writeErr)
	}
	f.Close()

	backupDir := filepath.Join(stateDir, BackupDirName)
	logger.Debug("Creating backup directory: %s", backupDir)
	if backupDirErr := os.MkdirAll(backupDir, 0755); backupDirErr != nil {
		return nil, fmt.Errorf("failed to create backup directory %s: %w", backupDir, backupDirErr)
	}

	sm := &Manager{
		statePath:   absPath,
		backupDir:   backupDir,
		backupCount: 5,
	}
	loaded, err := sm.load()
	if err != nil {
		return nil, err
	}
	sm.state = loaded

	logger.Info("State manager initialization complete (%d entries)", len(loaded.Attributes))
	return sm, nil
}

func newState() *FSState {
	return &FSState{
		Attributes: make(map[string]FileAttributes),
		Version:    CurrentVersion,
	}
}

// Path returns the state file path, or "" for an in-memory manager.
func (sm *Manager) Path() string {
	return sm.statePath
}

// load reads the state file. An empty file yields a fresh state.
func (sm *Manager) load() (*FSState, error) {
	data, err := os.ReadFile(sm.statePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	if len(data) == 0 {
		logger.Info("No valid state file, starting with empty state")
		return newState(), nil
	}

	logger.Debug("Parsing existing state file (%d bytes)", len(data))
	var st FSState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	if st.Attributes == nil {
		st.Attributes = make(map[string]FileAttributes)
	}
	if st.Version == 0 {
		st.Version = CurrentVersion
	}
	return &st, nil
}

// Get returns the stored attributes for a physical path.
func (sm *Manager) Get(path string) FileAttributes {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state.Attributes[filepath.Clean(path)]
}

// Update applies fn to the attributes of path and persists the result.
func (sm *Manager) Update(path string, fn func(*FileAttributes)) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	key := filepath.Clean(path)
	attrs := sm.state.Attributes[key]
	fn(&attrs)
	if attrs.IsZero() {
		delete(sm.state.Attributes, key)
	} else {
		sm.state.Attributes[key] = attrs
	}
	return sm.saveLocked()
}

// Rename moves the attributes of oldPath, and of everything below it, to newPath.
func (sm *Manager) Rename(oldPath, newPath string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	oldKey, newKey := filepath.Clean(oldPath), filepath.Clean(newPath)
	prefix := oldKey + string(filepath.Separator)
	moved := make(map[string]FileAttributes)
	for key, attrs := range sm.state.Attributes {
		switch {
		case key == oldKey:
			moved[newKey] = attrs
		case strings.HasPrefix(key, prefix):
			moved[newKey+string(filepath.Separator)+strings.TrimPrefix(key, prefix)] = attrs
		default:
			continue
		}
		delete(sm.state.Attributes, key)
	}
	if len(moved) == 0 {
		return nil
	}
	for key, attrs := range moved {
		sm.state.Attributes[key] = attrs
	}
	logger.Trace("Moved attributes %q -> %q", oldKey, newKey)
	return sm.saveLocked()
}

// Forget drops the attributes of path.
func (sm *Manager) Forget(path string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	key := filepath.Clean(path)
	if _, ok := sm.state.Attributes[key]; !ok {
		return nil
	}
	delete(sm.state.Attributes, key)
	return sm.saveLocked()
}

// Save writes the current state to disk.
func (sm *Manager) Save() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.saveLocked()
}

// saveLocked saves the current state to disk.
// It automatically creates a backup before saving.
func (sm *Manager) saveLocked() error {
	if sm.statePath == "" {
		return nil
	}

	logger.Debug("Saving state to: %s", sm.statePath)

	// Create backup before saving
	if backupErr := sm.createBackup(); backupErr != nil {
		logger.Warn("Failed to create backup: %v", backupErr)
		// Continue with save even if backup fails
	}

	// Marshal with indentation for readability
	data, marshalErr := json.MarshalIndent(sm.state, "", "  ")
	if marshalErr != nil {
		return fmt.Errorf("failed to marshal state: %w", marshalErr)
	}

	logger.Trace("Writing %d bytes of state data", len(data))
	tmp := sm.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, sm.statePath); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	logger.Debug("State saved successfully")
	return nil
}

// createBackup creates a timestamped backup of the current state file
func (sm *Manager) createBackup() error {
	data, err := os.ReadFile(sm.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}

	timestamp := time.Now().UTC().Format("20060102-150405.000000000")
	backupPath := filepath.Join(sm.backupDir, fmt.Sprintf("state-%s.json", timestamp))

	logger.Trace("Creating backup: %s", backupPath)
	if err := os.WriteFile(backupPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}

	return sm.cleanupOldBackups()
}

// cleanupOldBackups removes old backup files, keeping only the most recent ones
func (sm *Manager) cleanupOldBackups() error {
	entries, err := os.ReadDir(sm.backupDir)
	if err != nil {
		return err
	}

	backups := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".json" {
			backups = append(backups, entry.Name())
		}
	}

	// Timestamped names sort chronologically; newest first
	sort.Sort(sort.Reverse(sort.StringSlice(backups)))

	// Remove old backups
	for i := sm.backupCount; i < len(backups); i++ {
		path := filepath.Join(sm.backupDir, backups[i])
		logger.Trace("Removing old backup: %s", path)
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove old backup %s: %w", path, err)
		}
	}

	return nil
}
