package store

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erewhon/nous-sub001/pkg/encryption"
	"github.com/erewhon/nous-sub001/pkg/oplog"
)

func newTestStore(t *testing.T) *Store {
	return New(t.TempDir(), encryption.NewManager(0), nil)
}

func TestCreateAndGetNotebook(t *testing.T) {
	s := newTestStore(t)
	nb, err := s.CreateNotebook("Journal", NotebookStandard)
	require.NoError(t, err)

	got, err := s.GetNotebook(nb.ID)
	require.NoError(t, err)
	assert.Equal(t, "Journal", got.Name)
	assert.False(t, got.Archived)
}

func TestListNotebooks(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateNotebook("A", NotebookStandard)
	require.NoError(t, err)
	_, err = s.CreateNotebook("B", NotebookZettelkasten)
	require.NoError(t, err)

	nbs, err := s.ListNotebooks()
	require.NoError(t, err)
	assert.Len(t, nbs, 2)
}

func TestArchiveNotebook(t *testing.T) {
	s := newTestStore(t)
	nb, err := s.CreateNotebook("Journal", NotebookStandard)
	require.NoError(t, err)

	require.NoError(t, s.ArchiveNotebook(nb.ID))

	got, err := s.GetNotebook(nb.ID)
	require.NoError(t, err)
	assert.True(t, got.Archived)
}

func TestCreatePageAppendsGenesisOplogEntry(t *testing.T) {
	s := newTestStore(t)
	nb, err := s.CreateNotebook("Journal", NotebookStandard)
	require.NoError(t, err)

	content := oplog.EditorData{Blocks: []oplog.EditorBlock{{ID: "b1", BlockType: "paragraph"}}}
	p, err := s.CreatePage(nb.ID, "Hello", content, []string{"Work"})
	require.NoError(t, err)

	entries, err := oplog.ReadEntries(s.pageOplogPath(nb.ID, p.ID))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, oplog.GenesisHash, entries[0].PrevHash)
	assert.Equal(t, oplog.OpCreate, entries[0].Op)
}

func TestUpdatePageAppendsChainedEntryAndDiffs(t *testing.T) {
	s := newTestStore(t)
	nb, err := s.CreateNotebook("Journal", NotebookStandard)
	require.NoError(t, err)

	content := oplog.EditorData{Blocks: []oplog.EditorBlock{{ID: "b1", BlockType: "paragraph"}}}
	p, err := s.CreatePage(nb.ID, "Hello", content, nil)
	require.NoError(t, err)

	updated, err := s.UpdatePage(nb.ID, p.ID, func(page *Page) {
		page.Content.Blocks = append(page.Content.Blocks, oplog.EditorBlock{ID: "b2", BlockType: "paragraph"})
	})
	require.NoError(t, err)
	assert.Len(t, updated.Content.Blocks, 2)

	entries, err := oplog.ReadEntries(s.pageOplogPath(nb.ID, p.ID))
	require.NoError(t, err)
	require.Len(t, entries, 2)

	ok, brokenAt := oplog.VerifyChain(entries)
	assert.True(t, ok)
	assert.Equal(t, -1, brokenAt)

	assert.Len(t, entries[1].BlockChanges, 1)
	assert.Equal(t, oplog.BlockInsert, entries[1].BlockChanges[0].Op)
}

func TestDeleteAndRestorePage(t *testing.T) {
	s := newTestStore(t)
	nb, err := s.CreateNotebook("Journal", NotebookStandard)
	require.NoError(t, err)
	p, err := s.CreatePage(nb.ID, "Hello", oplog.EditorData{}, nil)
	require.NoError(t, err)

	require.NoError(t, s.DeletePage(nb.ID, p.ID))
	pages, err := s.ListPages(nb.ID, false)
	require.NoError(t, err)
	assert.Len(t, pages, 0)

	restored, err := s.RestorePage(nb.ID, p.ID)
	require.NoError(t, err)
	assert.Nil(t, restored.DeletedAt)

	pages, err = s.ListPages(nb.ID, false)
	require.NoError(t, err)
	assert.Len(t, pages, 1)
}

func TestArchiveFolderCreatedOnceAndSortsLast(t *testing.T) {
	s := newTestStore(t)
	nb, err := s.CreateNotebook("Journal", NotebookStandard)
	require.NoError(t, err)
	_, err = s.CreateFolder(nb.ID, "Notes", nil, nil, 0)
	require.NoError(t, err)

	a1, err := s.ArchiveFolder(nb.ID)
	require.NoError(t, err)
	a2, err := s.ArchiveFolder(nb.ID)
	require.NoError(t, err)
	assert.Equal(t, a1.ID, a2.ID)

	folders, err := s.ListFolders(nb.ID)
	require.NoError(t, err)
	maxPos := 0
	for _, f := range folders {
		if f.Position > maxPos {
			maxPos = f.Position
		}
	}
	assert.Equal(t, maxPos, a1.Position)
}

func TestCreateFolderRejectsUnknownParent(t *testing.T) {
	s := newTestStore(t)
	nb, err := s.CreateNotebook("Journal", NotebookStandard)
	require.NoError(t, err)

	bogus := uuid.New()
	_, err = s.CreateFolder(nb.ID, "Notes", &bogus, nil, 0)
	assert.Error(t, err)
}

func TestDeleteSectionCascadesToFoldersAndPages(t *testing.T) {
	s := newTestStore(t)
	nb, err := s.CreateNotebook("Journal", NotebookStandard)
	require.NoError(t, err)

	sec, err := s.CreateSection(nb.ID, "Work", 0)
	require.NoError(t, err)

	folder, err := s.CreateFolder(nb.ID, "Notes", nil, &sec.ID, 0)
	require.NoError(t, err)

	p, err := s.CreatePage(nb.ID, "Hello", oplog.EditorData{}, nil)
	require.NoError(t, err)
	_, err = s.UpdatePage(nb.ID, p.ID, func(page *Page) { page.SectionID = &sec.ID })
	require.NoError(t, err)

	require.NoError(t, s.DeleteSection(nb.ID, sec.ID))

	folders, err := s.ListFolders(nb.ID)
	require.NoError(t, err)
	require.Len(t, folders, 1)
	assert.Equal(t, folder.ID, folders[0].ID)
	assert.Nil(t, folders[0].SectionID)

	got, err := s.GetPage(nb.ID, p.ID)
	require.NoError(t, err)
	assert.Nil(t, got.SectionID)
}

func TestTagIndexScanFindsMentions(t *testing.T) {
	s := newTestStore(t)
	nb, err := s.CreateNotebook("Journal", NotebookStandard)
	require.NoError(t, err)

	_, err = s.CreatePage(nb.ID, "Hello", oplog.EditorData{}, []string{"Project-X", "Urgent"})
	require.NoError(t, err)

	idx := s.tagIndex(nb.ID)
	mentions := idx.ScanMentions("remember: project-x needs review")
	assert.Contains(t, mentions, "Project-X")
}
