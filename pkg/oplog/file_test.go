package oplog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndReadEntriesRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.oplog")

	e1 := Entry{TS: time.Now(), ClientID: "host-a", Op: OpCreate, ContentHash: "sha256:h1", PrevHash: GenesisHash, BlockCount: 1}
	e2 := Entry{TS: time.Now(), ClientID: "host-a", Op: OpModify, ContentHash: "sha256:h2", PrevHash: "sha256:h1", BlockCount: 1}

	require.NoError(t, AppendEntry(path, e1))
	require.NoError(t, AppendEntry(path, e2))

	entries, err := ReadEntries(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "sha256:h1", entries[0].ContentHash)
	assert.Equal(t, "sha256:h2", entries[1].ContentHash)
}

func TestReadEntriesMissingFile(t *testing.T) {
	entries, err := ReadEntries(filepath.Join(t.TempDir(), "missing.oplog"))
	require.NoError(t, err)
	assert.Nil(t, entries)
}

func TestReadLastHashGenesisOnEmpty(t *testing.T) {
	h, err := ReadLastHash(filepath.Join(t.TempDir(), "missing.oplog"))
	require.NoError(t, err)
	assert.Equal(t, GenesisHash, h)
}

func TestReadLastHashReturnsTip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.oplog")
	require.NoError(t, AppendEntry(path, Entry{ContentHash: "sha256:h1", PrevHash: GenesisHash}))
	require.NoError(t, AppendEntry(path, Entry{ContentHash: "sha256:h2", PrevHash: "sha256:h1"}))

	h, err := ReadLastHash(path)
	require.NoError(t, err)
	assert.Equal(t, "sha256:h2", h)
}

func TestReadLastNEntriesRingBuffer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.oplog")
	for i := 0; i < 5; i++ {
		require.NoError(t, AppendEntry(path, Entry{ContentHash: "h", BlockCount: i}))
	}

	last, err := ReadLastNEntries(path, 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, 3, last[0].BlockCount)
	assert.Equal(t, 4, last[1].BlockCount)
}

func TestReadLastNEntriesFewerThanN(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.oplog")
	require.NoError(t, AppendEntry(path, Entry{BlockCount: 0}))

	last, err := ReadLastNEntries(path, 10)
	require.NoError(t, err)
	require.Len(t, last, 1)
}

func TestVerifyChainIntact(t *testing.T) {
	entries := []Entry{
		{ContentHash: "sha256:h1", PrevHash: GenesisHash},
		{ContentHash: "sha256:h2", PrevHash: "sha256:h1"},
		{ContentHash: "sha256:h3", PrevHash: "sha256:h2"},
	}
	ok, brokenAt := VerifyChain(entries)
	assert.True(t, ok)
	assert.Equal(t, -1, brokenAt)
}

// TestVerifyChainDetectsBreak mirrors spec.md §8.3.2: a chain of three
// entries where the third's prev_hash does not match the second's
// content_hash must be reported broken at index 2.
func TestVerifyChainDetectsBreak(t *testing.T) {
	entries := []Entry{
		{ContentHash: "sha256:h1", PrevHash: GenesisHash},
		{ContentHash: "sha256:h2", PrevHash: "sha256:h1"},
		{ContentHash: "sha256:h3", PrevHash: "wrong"},
	}
	ok, brokenAt := VerifyChain(entries)
	assert.False(t, ok)
	assert.Equal(t, 2, brokenAt)
}

func TestGetClientIDNeverEmpty(t *testing.T) {
	assert.NotEmpty(t, GetClientID())
}
