package store

import (
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/erewhon/nous-sub001/pkg/core"
)

const notebookFile = "notebook.json"

// CreateNotebook allocates a new notebook directory and writes its
// notebook.json, pages/, and assets/ subdirectories.
func (s *Store) CreateNotebook(name string, typ NotebookType) (*Notebook, error) {
	nb := &Notebook{
		ID:        uuid.New(),
		Name:      name,
		Type:      typ,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	dir := s.notebookDir(nb.ID)
	if err := os.MkdirAll(filepath.Join(dir, "pages"), 0o755); err != nil {
		return nil, core.IO(component, err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "assets"), 0o755); err != nil {
		return nil, core.IO(component, err)
	}

	if err := s.writeEntity(nb.ID, filepath.Join(dir, notebookFile), nb); err != nil {
		return nil, err
	}
	s.log.Info().Str("notebook_id", nb.ID.String()).Str("name", name).Msg("notebook created")
	return nb, nil
}

// GetNotebook loads a notebook by id.
func (s *Store) GetNotebook(id uuid.UUID) (*Notebook, error) {
	var nb Notebook
	path := filepath.Join(s.notebookDir(id), notebookFile)
	if _, err := os.Stat(path); err != nil {
		return nil, core.NotFound(component, "notebook", id.String())
	}
	if err := s.readEntity(id, path, &nb); err != nil {
		return nil, err
	}
	return &nb, nil
}

// ListNotebooks returns every notebook in the library, including archived
// ones; callers filter as needed.
func (s *Store) ListNotebooks() ([]*Notebook, error) {
	entries, err := os.ReadDir(s.notebooksDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, core.IO(component, err)
	}

	var out []*Notebook
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, err := uuid.Parse(e.Name())
		if err != nil {
			continue
		}
		nb, err := s.GetNotebook(id)
		if err != nil {
			continue
		}
		out = append(out, nb)
	}
	return out, nil
}

// UpdateNotebook persists mutator's changes to an existing notebook,
// serialized per notebook by the lock table.
func (s *Store) UpdateNotebook(id uuid.UUID, mutate func(*Notebook)) (*Notebook, error) {
	lock := s.locks.forNotebook(id)
	lock.Lock()
	defer lock.Unlock()

	nb, err := s.GetNotebook(id)
	if err != nil {
		return nil, err
	}
	mutate(nb)
	nb.UpdatedAt = time.Now().UTC()

	path := filepath.Join(s.notebookDir(id), notebookFile)
	if err := s.writeEntity(id, path, nb); err != nil {
		return nil, err
	}
	return nb, nil
}

// ArchiveNotebook sets the archived flag without deleting any data.
func (s *Store) ArchiveNotebook(id uuid.UUID) error {
	_, err := s.UpdateNotebook(id, func(nb *Notebook) { nb.Archived = true })
	return err
}

// DeleteNotebook removes a notebook's entire directory tree. Irreversible;
// callers outside this package are expected to confirm with the user first.
func (s *Store) DeleteNotebook(id uuid.UUID) error {
	lock := s.locks.forNotebook(id)
	lock.Lock()
	defer lock.Unlock()

	if err := os.RemoveAll(s.notebookDir(id)); err != nil {
		return core.IO(component, err)
	}
	s.log.Info().Str("notebook_id", id.String()).Msg("notebook deleted")
	return nil
}
