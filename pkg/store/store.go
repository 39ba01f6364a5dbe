package store

import (
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/erewhon/nous-sub001/pkg/core"
	"github.com/erewhon/nous-sub001/pkg/crypto"
	"github.com/erewhon/nous-sub001/pkg/encryption"
	"github.com/erewhon/nous-sub001/pkg/log"
)

// Store is the filesystem-backed notebook/folder/section/page layer for a
// single library root (spec.md §4.5 "File storage"). It owns no in-memory
// copy of notebook state beyond the tag indexes built lazily per notebook;
// every read goes to disk, so external writers (the sync manager, using
// the same primitives) are always visible.
type Store struct {
	root   string
	locks  *lockTable
	keys   *encryption.Manager
	events *core.Bus
	log    zerolog.Logger

	tagMu sync.Mutex
	tags  map[uuid.UUID]*TagIndex
}

// New creates a Store rooted at libraryRoot (the "{library}/notebooks/.."
// parent, i.e. the directory containing notebooks/ and search_index/).
func New(libraryRoot string, keys *encryption.Manager, events *core.Bus) *Store {
	return &Store{
		root:   libraryRoot,
		locks:  newLockTable(),
		keys:   keys,
		events: events,
		log:    log.WithComponent(component),
		tags:   make(map[uuid.UUID]*TagIndex),
	}
}

func (s *Store) notebooksDir() string {
	return filepath.Join(s.root, "notebooks")
}

func (s *Store) notebookDir(id uuid.UUID) string {
	return filepath.Join(s.notebooksDir(), id.String())
}

// Root returns the library root this store is scoped to.
func (s *Store) Root() string { return s.root }

// NotebookDir returns a notebook's directory, for callers outside this
// package (the sync manager) that need to place sync-state files alongside
// it without reimplementing this module's layout.
func (s *Store) NotebookDir(id uuid.UUID) string { return s.notebookDir(id) }

// Keys exposes the encryption key manager this store was built with, so
// the sync manager can check lock state without threading it through
// separately.
func (s *Store) Keys() *encryption.Manager { return s.keys }

func (s *Store) pagesDir(notebookID uuid.UUID) string {
	return filepath.Join(s.notebookDir(notebookID), "pages")
}

func (s *Store) assetsDir(notebookID uuid.UUID) string {
	return filepath.Join(s.notebookDir(notebookID), "assets")
}

func (s *Store) tagIndex(notebookID uuid.UUID) *TagIndex {
	s.tagMu.Lock()
	defer s.tagMu.Unlock()
	idx, ok := s.tags[notebookID]
	if !ok {
		idx = NewTagIndex()
		s.tags[notebookID] = idx
	}
	return idx
}

// writeEntity serializes v to JSON, encrypting it first if notebookID's
// key is currently unlocked, and writes it atomically to path.
func (s *Store) writeEntity(notebookID uuid.UUID, path string, v any) error {
	if s.keys != nil && s.keys.IsNotebookUnlocked(notebookID) {
		key, err := s.keys.GetNotebookKey(notebookID)
		if err != nil {
			return err
		}
		container, err := crypto.EncryptJSON(v, key)
		if err != nil {
			return err
		}
		return writeJSONAtomic(path, container)
	}
	return writeJSONAtomic(path, v)
}

// readEntity reads path into v, decrypting it first if it is an encrypted
// container and notebookID's key is unlocked.
func (s *Store) readEntity(notebookID uuid.UUID, path string, v any) error {
	raw, err := readRaw(path)
	if err != nil {
		return err
	}
	container, err := crypto.ParseEncryptedFile(raw)
	if err != nil {
		return err
	}
	if container != nil {
		key, err := s.keys.GetNotebookKey(notebookID)
		if err != nil {
			return err
		}
		return crypto.DecryptJSON(container, key, v)
	}
	return unmarshalRaw(raw, v)
}
