package encryption

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erewhon/nous-sub001/pkg/crypto"
)

func TestUnlockLockNotebook(t *testing.T) {
	m := NewManager(time.Hour)
	id := uuid.New()
	var key crypto.Key
	key[0] = 0x42

	assert.False(t, m.IsNotebookUnlocked(id))
	m.UnlockNotebook(id, key)
	assert.True(t, m.IsNotebookUnlocked(id))

	got, err := m.GetNotebookKey(id)
	require.NoError(t, err)
	assert.Equal(t, key, got)

	m.LockNotebook(id)
	assert.False(t, m.IsNotebookUnlocked(id))
	_, err = m.GetNotebookKey(id)
	assert.Error(t, err)
}

func TestAutoLockOnIdle(t *testing.T) {
	m := NewManager(10 * time.Millisecond)
	id := uuid.New()
	var key crypto.Key
	m.UnlockNotebook(id, key)

	time.Sleep(20 * time.Millisecond)
	_, err := m.GetNotebookKey(id)
	assert.Error(t, err)
}

func TestLockAllClearsBoth(t *testing.T) {
	m := NewManager(time.Hour)
	nb, lib := uuid.New(), uuid.New()
	var key crypto.Key
	m.UnlockNotebook(nb, key)
	m.UnlockLibrary(lib, key)

	m.LockAll()
	assert.False(t, m.IsNotebookUnlocked(nb))
	assert.False(t, m.IsLibraryUnlocked(lib))

	stats := m.Stats()
	assert.Equal(t, 0, stats.UnlockedNotebooks)
	assert.Equal(t, 0, stats.UnlockedLibraries)
}

func TestCleanupExpired(t *testing.T) {
	m := NewManager(5 * time.Millisecond)
	id := uuid.New()
	var key crypto.Key
	m.UnlockNotebook(id, key)
	time.Sleep(10 * time.Millisecond)

	m.CleanupExpired()
	assert.Equal(t, 0, m.Stats().UnlockedNotebooks)
}
