package snapshot

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erewhon/nous-sub001/pkg/oplog"
)

type fakePage struct {
	ID      string
	Content oplog.EditorData
}

func (p fakePage) GetID() string                  { return p.ID }
func (p fakePage) GetContent() oplog.EditorData    { return p.Content }

func newPage() fakePage {
	return fakePage{
		ID: "page-1",
		Content: oplog.EditorData{
			Blocks: []oplog.EditorBlock{{ID: "b1", BlockType: "paragraph"}},
		},
	}
}

func TestShouldSnapshotEmptyLog(t *testing.T) {
	dir := t.TempDir()
	ok, err := ShouldSnapshot(dir, "page-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestShouldSnapshotAfterInterval(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "page-1.oplog")
	for i := 0; i < SnapshotInterval; i++ {
		require.NoError(t, oplog.AppendEntry(path, oplog.Entry{ContentHash: "h"}))
	}

	ok, err := ShouldSnapshot(dir, "page-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTakeSnapshotWritesPairAndUpdatesShouldSnapshot(t *testing.T) {
	dir := t.TempDir()
	page := newPage()
	path := filepath.Join(dir, "page-1.oplog")
	for i := 0; i < SnapshotInterval; i++ {
		require.NoError(t, oplog.AppendEntry(path, oplog.Entry{ContentHash: "h"}))
	}
	due, err := ShouldSnapshot(dir, "page-1")
	require.NoError(t, err)
	assert.True(t, due)

	require.NoError(t, TakeSnapshot(dir, page, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), 20))

	due, err = ShouldSnapshot(dir, "page-1")
	require.NoError(t, err)
	assert.False(t, due, "the snapshot just recorded 20 entries, so none are pending")

	snapDir := snapshotsDir(dir, "page-1")
	names, err := listSnapshotNamesIn(snapDir)
	require.NoError(t, err)
	require.Len(t, names, 1)
	assert.Equal(t, "20260102_030405", names[0])

	var loaded fakePage
	require.NoError(t, ReadSnapshot(snapDir, names[0], &loaded))
	assert.Equal(t, "page-1", loaded.ID)
}

func TestTakeSnapshotPrunesOldest(t *testing.T) {
	dir := t.TempDir()
	page := newPage()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < MaxSnapshots+3; i++ {
		require.NoError(t, TakeSnapshot(dir, page, base.Add(time.Duration(i)*time.Minute), i))
	}

	names, err := listSnapshotNamesIn(snapshotsDir(dir, "page-1"))
	require.NoError(t, err)
	assert.Len(t, names, MaxSnapshots)
}

func TestFindNearestSnapshot(t *testing.T) {
	dir := t.TempDir()
	page := newPage()
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, TakeSnapshot(dir, page, t1, 1))
	require.NoError(t, TakeSnapshot(dir, page, t2, 2))

	snapDir := snapshotsDir(dir, "page-1")

	name, err := FindNearestSnapshot(snapDir, time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, t1.Format(timeLayout), name)

	name, err = FindNearestSnapshot(snapDir, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, t1.Format(timeLayout), name)

	name, err = FindNearestSnapshot(snapDir, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, t2.Format(timeLayout), name)
}

func TestFindNearestSnapshotNoSnapshots(t *testing.T) {
	dir := t.TempDir()
	name, err := FindNearestSnapshot(dir, time.Now())
	require.NoError(t, err)
	assert.Empty(t, name)
}
