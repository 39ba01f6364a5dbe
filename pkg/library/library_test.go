package library

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBootstrapCreatesDefaultLibrary(t *testing.T) {
	appRoot := t.TempDir()
	defaultPath := filepath.Join(t.TempDir(), "default-lib")

	r := NewRegistry(appRoot)
	require.NoError(t, r.Bootstrap(defaultPath))

	cur, err := r.Current()
	require.NoError(t, err)
	assert.True(t, cur.IsDefault)
	assert.Equal(t, DefaultLibraryID, cur.ID)
	assert.DirExists(t, filepath.Join(defaultPath, "notebooks"))
}

func TestBootstrapIsIdempotent(t *testing.T) {
	appRoot := t.TempDir()
	defaultPath := filepath.Join(t.TempDir(), "default-lib")
	r := NewRegistry(appRoot)
	require.NoError(t, r.Bootstrap(defaultPath))
	require.NoError(t, r.Bootstrap(defaultPath))

	libs, err := r.List()
	require.NoError(t, err)
	assert.Len(t, libs, 1)
}

func TestCreateLibraryRejectsRelativePath(t *testing.T) {
	r := NewRegistry(t.TempDir())
	_, err := r.CreateLibrary("Work", "relative/path")
	assert.Error(t, err)
}

func TestCreateLibraryRejectsDuplicatePath(t *testing.T) {
	r := NewRegistry(t.TempDir())
	path := t.TempDir()
	_, err := r.CreateLibrary("Work", path)
	require.NoError(t, err)

	_, err = r.CreateLibrary("Work Again", path)
	assert.Error(t, err)
}

func TestDeleteDefaultLibraryDisallowed(t *testing.T) {
	appRoot := t.TempDir()
	r := NewRegistry(appRoot)
	require.NoError(t, r.Bootstrap(filepath.Join(t.TempDir(), "default-lib")))

	err := r.DeleteLibrary(DefaultLibraryID)
	assert.Error(t, err)
}

func TestDeleteCurrentLibrarySwitchesToDefault(t *testing.T) {
	appRoot := t.TempDir()
	r := NewRegistry(appRoot)
	require.NoError(t, r.Bootstrap(filepath.Join(t.TempDir(), "default-lib")))

	lib, err := r.CreateLibrary("Work", t.TempDir())
	require.NoError(t, err)
	require.NoError(t, r.SwitchCurrent(lib.ID))

	require.NoError(t, r.DeleteLibrary(lib.ID))

	cur, err := r.Current()
	require.NoError(t, err)
	assert.Equal(t, DefaultLibraryID, cur.ID)
}

func TestMoveNotebookToLibrary(t *testing.T) {
	source := &Library{Path: t.TempDir()}
	target := &Library{Path: t.TempDir()}

	notebookID := uuid.New()
	srcDir := filepath.Join(source.Path, "notebooks", notebookID.String())
	require.NoError(t, os.MkdirAll(srcDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "notebook.json"), []byte(`{}`), 0o644))

	require.NoError(t, MoveNotebookToLibrary(notebookID, source, target))

	assert.NoFileExists(t, filepath.Join(srcDir, "notebook.json"))
	assert.FileExists(t, filepath.Join(target.Path, "notebooks", notebookID.String(), "notebook.json"))
}

func TestMoveNotebookToLibraryFailsIfTargetExists(t *testing.T) {
	source := &Library{Path: t.TempDir()}
	target := &Library{Path: t.TempDir()}
	notebookID := uuid.New()

	require.NoError(t, os.MkdirAll(filepath.Join(source.Path, "notebooks", notebookID.String()), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(target.Path, "notebooks", notebookID.String()), 0o755))

	err := MoveNotebookToLibrary(notebookID, source, target)
	assert.Error(t, err)
}
