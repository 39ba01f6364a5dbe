// Package encryption holds the process-wide unlocked-key cache described in
// spec.md §4.2 and §5 "Global mutable state": one of the two process-wide
// services the core requires (the other is pkg/crdt's live-page store).
package encryption

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/erewhon/nous-sub001/pkg/core"
	"github.com/erewhon/nous-sub001/pkg/crypto"
)

const component = "encryption"

// DefaultAutoLockTimeout is the idle period after which an unlocked key is
// evicted from the cache (spec.md §4.2).
const DefaultAutoLockTimeout = time.Hour

type entry struct {
	key        crypto.Key
	unlockedAt time.Time
	lastAccess time.Time
}

// Manager caches derived keys for unlocked notebooks and libraries,
// separately, and auto-locks entries idle past the configured timeout.
// Safe for concurrent use; the key map is guarded by a reader/writer lock
// as spec.md §5 requires.
type Manager struct {
	mu               sync.RWMutex
	notebooks        map[uuid.UUID]entry
	libraries        map[uuid.UUID]entry
	autoLockTimeout  time.Duration
}

// NewManager creates a key cache with the given auto-lock timeout. Pass 0
// to use DefaultAutoLockTimeout.
func NewManager(autoLockTimeout time.Duration) *Manager {
	if autoLockTimeout <= 0 {
		autoLockTimeout = DefaultAutoLockTimeout
	}
	return &Manager{
		notebooks:       make(map[uuid.UUID]entry),
		libraries:       make(map[uuid.UUID]entry),
		autoLockTimeout: autoLockTimeout,
	}
}

// UnlockNotebook caches key for notebook id, resetting its idle clock.
func (m *Manager) UnlockNotebook(id uuid.UUID, key crypto.Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.notebooks[id] = entry{key: key, unlockedAt: now, lastAccess: now}
}

// LockNotebook evicts the cached key for notebook id, if any.
func (m *Manager) LockNotebook(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.notebooks, id)
}

// IsNotebookUnlocked reports whether a live (non-expired) key is cached.
// Does not touch last-accessed; used for read-only status checks.
func (m *Manager) IsNotebookUnlocked(id uuid.UUID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.notebooks[id]
	return ok && time.Since(e.lastAccess) < m.autoLockTimeout
}

// GetNotebookKey returns the cached key for id, touching its last-accessed
// time. If the entry has expired it is evicted and core.ErrNotebookLocked
// is returned.
func (m *Manager) GetNotebookKey(id uuid.UUID) (crypto.Key, error) {
	m.mu.RLock()
	e, ok := m.notebooks[id]
	expired := ok && time.Since(e.lastAccess) >= m.autoLockTimeout
	m.mu.RUnlock()

	if !ok {
		return crypto.Key{}, lockedErr("notebook", id)
	}
	if expired {
		m.mu.Lock()
		delete(m.notebooks, id)
		m.mu.Unlock()
		return crypto.Key{}, lockedErr("notebook", id)
	}

	m.mu.Lock()
	if e, ok := m.notebooks[id]; ok {
		e.lastAccess = time.Now()
		m.notebooks[id] = e
	}
	m.mu.Unlock()

	return e.key, nil
}

// UnlockLibrary caches key for library id.
func (m *Manager) UnlockLibrary(id uuid.UUID, key crypto.Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.libraries[id] = entry{key: key, unlockedAt: now, lastAccess: now}
}

// LockLibrary evicts the cached key for library id.
func (m *Manager) LockLibrary(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.libraries, id)
}

// IsLibraryUnlocked mirrors IsNotebookUnlocked for libraries.
func (m *Manager) IsLibraryUnlocked(id uuid.UUID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.libraries[id]
	return ok && time.Since(e.lastAccess) < m.autoLockTimeout
}

// GetLibraryKey mirrors GetNotebookKey for libraries.
func (m *Manager) GetLibraryKey(id uuid.UUID) (crypto.Key, error) {
	m.mu.RLock()
	e, ok := m.libraries[id]
	expired := ok && time.Since(e.lastAccess) >= m.autoLockTimeout
	m.mu.RUnlock()

	if !ok {
		return crypto.Key{}, libraryLockedErr(id)
	}
	if expired {
		m.mu.Lock()
		delete(m.libraries, id)
		m.mu.Unlock()
		return crypto.Key{}, libraryLockedErr(id)
	}

	m.mu.Lock()
	if e, ok := m.libraries[id]; ok {
		e.lastAccess = time.Now()
		m.libraries[id] = e
	}
	m.mu.Unlock()

	return e.key, nil
}

// LockAll clears every cached key. Called on explicit lock-all commands
// and on library switch.
func (m *Manager) LockAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notebooks = make(map[uuid.UUID]entry)
	m.libraries = make(map[uuid.UUID]entry)
}

// CleanupExpired evicts every entry idle past the auto-lock timeout.
// Intended to be called opportunistically from the sync scheduler tick.
func (m *Manager) CleanupExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for id, e := range m.notebooks {
		if now.Sub(e.lastAccess) >= m.autoLockTimeout {
			delete(m.notebooks, id)
		}
	}
	for id, e := range m.libraries {
		if now.Sub(e.lastAccess) >= m.autoLockTimeout {
			delete(m.libraries, id)
		}
	}
}

// Stats reports cache occupancy, used for diagnostics.
type Stats struct {
	UnlockedNotebooks int
	UnlockedLibraries int
	AutoLockTimeout   time.Duration
}

// Stats returns the current cache occupancy.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		UnlockedNotebooks: len(m.notebooks),
		UnlockedLibraries: len(m.libraries),
		AutoLockTimeout:   m.autoLockTimeout,
	}
}

func lockedErr(entity string, id uuid.UUID) error {
	e := core.ErrNotebookLocked
	return &core.Error{Kind: e.Kind, Component: component, Entity: entity, ID: id.String(), Reason: e.Reason}
}

func libraryLockedErr(id uuid.UUID) error {
	e := core.ErrLibraryLocked
	return &core.Error{Kind: e.Kind, Component: component, Entity: "library", ID: id.String(), Reason: e.Reason}
}
