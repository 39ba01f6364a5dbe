package crdt

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erewhon/nous-sub001/pkg/oplog"
)

func content(ids ...string) oplog.EditorData {
	blocks := make([]oplog.EditorBlock, len(ids))
	for i, id := range ids {
		blocks[i] = oplog.EditorBlock{ID: id, BlockType: "paragraph", Data: []byte(`{}`)}
	}
	return oplog.EditorData{Blocks: blocks}
}

func TestFromEditorDataRoundTrip(t *testing.T) {
	doc, err := FromEditorData(content("a", "b", "c"))
	require.NoError(t, err)

	got, err := doc.ToEditorData()
	require.NoError(t, err)
	require.Len(t, got.Blocks, 3)
	assert.Equal(t, []string{"a", "b", "c"}, blockIDs(got))
}

func TestEncodeStateFromStateRoundTrip(t *testing.T) {
	doc, err := FromEditorData(content("a", "b"))
	require.NoError(t, err)

	state, err := doc.EncodeState()
	require.NoError(t, err)

	reloaded, err := FromState(state)
	require.NoError(t, err)

	got, err := reloaded.ToEditorData()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, blockIDs(got))
}

func TestApplyBlockChangesDelete(t *testing.T) {
	doc, err := FromEditorData(content("a", "b"))
	require.NoError(t, err)

	old := content("a", "b")
	updated := content("a")
	changes := oplog.DiffBlocks(old, updated)

	_, err = doc.ApplyBlockChanges(changes, updated.Blocks, nil, nil)
	require.NoError(t, err)

	got, err := doc.ToEditorData()
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, blockIDs(got))
}

func TestMultiPaneSavesMergeWithoutLosingWork(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	notebookID := uuid.New()
	pageID := uuid.New()

	base := content("a", "b")
	require.NoError(t, s.OpenPage(notebookID, pageID, "pane1", base))
	require.NoError(t, s.OpenPage(notebookID, pageID, "pane2", base))

	// pane1 inserts "c" after "b"
	pane1Save := content("a", "b", "c")
	canonical1, ok, err := s.ApplySave(pageID, "pane1", pane1Save)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b", "c"}, blockIDs(canonical1))

	// pane2, still on the original base, inserts "d" after "a" — must not
	// undo pane1's already-merged "c".
	pane2Save := content("a", "d", "b")
	canonical2, ok, err := s.ApplySave(pageID, "pane2", pane2Save)
	require.NoError(t, err)
	require.True(t, ok)

	ids := blockIDs(canonical2)
	assert.Contains(t, ids, "c")
	assert.Contains(t, ids, "d")
}

func TestClosePaneFlushesOnLastClose(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	notebookID := uuid.New()
	pageID := uuid.New()

	require.NoError(t, s.OpenPage(notebookID, pageID, "pane1", content("a")))
	assert.True(t, s.IsLive(pageID))

	require.NoError(t, s.ClosePane(notebookID, pageID, "pane1"))
	assert.False(t, s.IsLive(pageID))

	crdtPath := filepath.Join(dir, "notebooks", notebookID.String(), "sync", "pages", pageID.String()+".crdt")
	assert.FileExists(t, crdtPath)
}

func TestAppendAndReadBinaryUpdates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.updates")
	require.NoError(t, appendBinaryUpdate(path, []byte("first")))
	require.NoError(t, appendBinaryUpdate(path, []byte("second")))

	updates, err := ReadUpdates(path)
	require.NoError(t, err)
	require.Len(t, updates, 2)
	assert.Equal(t, "first", string(updates[0]))
	assert.Equal(t, "second", string(updates[1]))
}

func blockIDs(data oplog.EditorData) []string {
	ids := make([]string, len(data.Blocks))
	for i, b := range data.Blocks {
		ids[i] = b.ID
	}
	return ids
}
