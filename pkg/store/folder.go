package store

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/erewhon/nous-sub001/pkg/core"
)

const foldersFile = "folders.json"

func (s *Store) loadFolders(notebookID uuid.UUID) ([]Folder, error) {
	path := filepath.Join(s.notebookDir(notebookID), foldersFile)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, core.IO(component, err)
	}
	var folders []Folder
	if err := s.readEntity(notebookID, path, &folders); err != nil {
		return nil, err
	}
	return folders, nil
}

func (s *Store) saveFolders(notebookID uuid.UUID, folders []Folder) error {
	path := filepath.Join(s.notebookDir(notebookID), foldersFile)
	return s.writeEntity(notebookID, path, folders)
}

// ListFolders returns every folder in a notebook.
func (s *Store) ListFolders(notebookID uuid.UUID) ([]Folder, error) {
	return s.loadFolders(notebookID)
}

// CreateFolder adds a folder to notebookID. parentID must reference an
// existing folder in the same notebook, or be nil for a root folder; this
// keeps the folder graph an acyclic forest (spec.md §3 "Folder").
func (s *Store) CreateFolder(notebookID uuid.UUID, name string, parentID, sectionID *uuid.UUID, position int) (*Folder, error) {
	lock := s.locks.forNotebook(notebookID)
	lock.Lock()
	defer lock.Unlock()

	folders, err := s.loadFolders(notebookID)
	if err != nil {
		return nil, err
	}
	if parentID != nil && !folderExists(folders, *parentID) {
		return nil, core.Invalid(component, "parent folder not found in notebook")
	}

	f := Folder{
		ID:         uuid.New(),
		NotebookID: notebookID,
		ParentID:   parentID,
		SectionID:  sectionID,
		Name:       name,
		Type:       FolderStandard,
		Position:   position,
	}
	folders = append(folders, f)
	if err := s.saveFolders(notebookID, folders); err != nil {
		return nil, err
	}
	return &f, nil
}

func folderExists(folders []Folder, id uuid.UUID) bool {
	for _, f := range folders {
		if f.ID == id {
			return true
		}
	}
	return false
}

// ArchiveFolder returns the notebook's single archive-type folder,
// creating it on demand and sorting it last, per spec.md §3 "Folder":
// "Exactly one folder per notebook may be of type archive; it is created
// on demand and sorts last."
func (s *Store) ArchiveFolder(notebookID uuid.UUID) (*Folder, error) {
	lock := s.locks.forNotebook(notebookID)
	lock.Lock()
	defer lock.Unlock()

	folders, err := s.loadFolders(notebookID)
	if err != nil {
		return nil, err
	}
	for i := range folders {
		if folders[i].Type == FolderArchive {
			return &folders[i], nil
		}
	}

	maxPos := -1
	for _, f := range folders {
		if f.Position > maxPos {
			maxPos = f.Position
		}
	}

	archive := Folder{
		ID:         uuid.New(),
		NotebookID: notebookID,
		Name:       "Archive",
		Type:       FolderArchive,
		Position:   maxPos + 1,
	}
	folders = append(folders, archive)
	if err := s.saveFolders(notebookID, folders); err != nil {
		return nil, err
	}
	return &archive, nil
}

// DeleteFolder removes folder id from notebookID. Pages referencing it are
// left with a dangling FolderID by design — callers (higher-level command
// handlers) are expected to reassign or archive affected pages first; this
// module enforces only the folder-graph invariants, not page placement.
func (s *Store) DeleteFolder(notebookID, folderID uuid.UUID) error {
	lock := s.locks.forNotebook(notebookID)
	lock.Lock()
	defer lock.Unlock()

	folders, err := s.loadFolders(notebookID)
	if err != nil {
		return err
	}
	out := folders[:0]
	for _, f := range folders {
		if f.ID == folderID {
			continue
		}
		out = append(out, f)
	}
	return s.saveFolders(notebookID, out)
}
