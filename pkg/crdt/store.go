package crdt

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/erewhon/nous-sub001/pkg/core"
	"github.com/erewhon/nous-sub001/pkg/oplog"
)

type livePage struct {
	doc        *PageDocument
	paneBases  map[string]oplog.EditorData
	notebookID uuid.UUID
}

// Store is the process-wide live-CRDT registry (spec.md §5 "Global
// mutable state" — the second of the two process-wide services, next to
// pkg/encryption.Manager). Per-pane base tracking means concurrent saves
// from different editor panes merge instead of one clobbering the other.
type Store struct {
	mu      sync.Mutex
	live    map[uuid.UUID]*livePage
	dataDir string
}

// NewStore creates an empty live-CRDT registry rooted at dataDir (the
// current library's root).
func NewStore(dataDir string) *Store {
	return &Store{live: make(map[uuid.UUID]*livePage), dataDir: dataDir}
}

// SetDataDir clears every live page (they belonged to the old library)
// and repoints the store at newDir, called on library switch.
func (s *Store) SetDataDir(newDir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live = make(map[uuid.UUID]*livePage)
	s.dataDir = newDir
}

func (s *Store) crdtPath(notebookID, pageID uuid.UUID) string {
	return filepath.Join(s.dataDir, "notebooks", notebookID.String(), "sync", "pages", pageID.String()+".crdt")
}

func (s *Store) updatesPath(notebookID, pageID uuid.UUID) string {
	return filepath.Join(s.dataDir, "notebooks", notebookID.String(), "sync", "pages", pageID.String()+".updates")
}

// OpenPage registers paneID as having opened pageID, loading or creating
// the CRDT document and catching it up to content if content has changes
// the on-disk CRDT state hasn't seen yet (e.g. a save happened while this
// process wasn't running).
func (s *Store) OpenPage(notebookID, pageID uuid.UUID, paneID string, content oplog.EditorData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.live[pageID]; ok {
		current, err := p.doc.ToEditorData()
		if err != nil {
			return err
		}
		p.paneBases[paneID] = current
		return nil
	}

	crdtPath := s.crdtPath(notebookID, pageID)
	var doc *PageDocument
	if data, err := os.ReadFile(crdtPath); err == nil {
		doc, err = FromState(data)
		if err != nil {
			return err
		}

		crdtData, err := doc.ToEditorData()
		if err != nil {
			return err
		}
		changes := oplog.DiffBlocks(crdtData, content)
		if len(changes) > 0 {
			update, err := doc.ApplyBlockChanges(changes, content.Blocks, content.Time, content.Version)
			if err != nil {
				return err
			}
			if len(update) > 0 {
				if err := appendBinaryUpdate(s.updatesPath(notebookID, pageID), update); err != nil {
					return err
				}
			}
			if err := s.flush(notebookID, pageID, doc); err != nil {
				return err
			}
		}
	} else if !os.IsNotExist(err) {
		return core.IO(component, err)
	} else {
		doc, err = FromEditorData(content)
		if err != nil {
			return err
		}
	}

	base, err := doc.ToEditorData()
	if err != nil {
		return err
	}
	s.live[pageID] = &livePage{
		doc:        doc,
		paneBases:  map[string]oplog.EditorData{paneID: base},
		notebookID: notebookID,
	}
	return nil
}

// ApplySave diffs paneID's base against newContent, merges the resulting
// changes into the page's CRDT, persists an update frame and the new CRDT
// state, and returns the canonical post-merge EditorData. Returns
// (EditorData{}, false, nil) if the page isn't currently open.
func (s *Store) ApplySave(pageID uuid.UUID, paneID string, newContent oplog.EditorData) (oplog.EditorData, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	page, ok := s.live[pageID]
	if !ok {
		return oplog.EditorData{}, false, nil
	}

	base, ok := page.paneBases[paneID]
	if !ok {
		var err error
		base, err = page.doc.ToEditorData()
		if err != nil {
			return oplog.EditorData{}, false, err
		}
	}

	changes := oplog.DiffBlocks(base, newContent)
	update, err := page.doc.ApplyBlockChanges(changes, newContent.Blocks, newContent.Time, newContent.Version)
	if err != nil {
		return oplog.EditorData{}, false, err
	}
	if len(update) > 0 {
		if err := appendBinaryUpdate(s.updatesPath(page.notebookID, pageID), update); err != nil {
			return oplog.EditorData{}, false, err
		}
		if err := s.flush(page.notebookID, pageID, page.doc); err != nil {
			return oplog.EditorData{}, false, err
		}
	}

	canonical, err := page.doc.ToEditorData()
	if err != nil {
		return oplog.EditorData{}, false, err
	}
	page.paneBases[paneID] = canonical
	return canonical, true, nil
}

// ClosePane unregisters paneID from pageID. If no panes remain, the page's
// CRDT state is flushed to disk and evicted from memory.
func (s *Store) ClosePane(notebookID, pageID uuid.UUID, paneID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	page, ok := s.live[pageID]
	if !ok {
		return nil
	}
	delete(page.paneBases, paneID)
	if len(page.paneBases) > 0 {
		return nil
	}

	delete(s.live, pageID)
	return s.flush(notebookID, pageID, page.doc)
}

// IsLive reports whether pageID is currently open in at least one pane.
func (s *Store) IsLive(pageID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.live[pageID]
	return ok
}

// EncodedState returns the authoritative CRDT bytes for a push: the live
// document's encoded state if the page is open, so open-pane edits that
// haven't been saved to disk yet are still included (spec.md §4.10 push
// cycle step 5 "if the page is live... take get_encoded_state as the
// authoritative bytes"). The bool is false if the page isn't live.
func (s *Store) EncodedState(pageID uuid.UUID) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, ok := s.live[pageID]
	if !ok {
		return nil, false, nil
	}
	state, err := page.doc.EncodeState()
	if err != nil {
		return nil, false, err
	}
	return state, true, nil
}

// ApplyRemoteUpdate merges a remote CRDT state into the page's document —
// live if open, otherwise loaded from disk (or built fresh from
// localContent if no CRDT state exists yet) — flushes the merge result,
// and returns the canonical merged content. stillLive reports whether the
// page was open in this process (so the caller knows whether open panes
// will pick up the change automatically on their next read).
func (s *Store) ApplyRemoteUpdate(notebookID, pageID uuid.UUID, localContent oplog.EditorData, remoteState []byte) (oplog.EditorData, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	remoteDoc, err := FromState(remoteState)
	if err != nil {
		return oplog.EditorData{}, false, err
	}

	if page, ok := s.live[pageID]; ok {
		page.doc.Merge(remoteDoc)
		if err := s.flush(notebookID, pageID, page.doc); err != nil {
			return oplog.EditorData{}, false, err
		}
		merged, err := page.doc.ToEditorData()
		if err != nil {
			return oplog.EditorData{}, false, err
		}
		for pane := range page.paneBases {
			page.paneBases[pane] = merged
		}
		return merged, true, nil
	}

	var doc *PageDocument
	if data, err := os.ReadFile(s.crdtPath(notebookID, pageID)); err == nil {
		doc, err = FromState(data)
		if err != nil {
			return oplog.EditorData{}, false, err
		}
	} else if os.IsNotExist(err) {
		doc, err = FromEditorData(localContent)
		if err != nil {
			return oplog.EditorData{}, false, err
		}
	} else {
		return oplog.EditorData{}, false, core.IO(component, err)
	}

	doc.Merge(remoteDoc)
	if err := s.flush(notebookID, pageID, doc); err != nil {
		return oplog.EditorData{}, false, err
	}
	merged, err := doc.ToEditorData()
	if err != nil {
		return oplog.EditorData{}, false, err
	}
	return merged, false, nil
}

func (s *Store) flush(notebookID, pageID uuid.UUID, doc *PageDocument) error {
	state, err := doc.EncodeState()
	if err != nil {
		return err
	}
	path := s.crdtPath(notebookID, pageID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return core.IO(component, err)
	}
	if err := os.WriteFile(path, state, 0o644); err != nil {
		return core.IO(component, err)
	}
	return nil
}

// appendBinaryUpdate writes one length-prefixed frame (4-byte big-endian
// length + payload) to the page's binary update log, mirroring the
// original's append-only update stream (original_source's
// append_binary_update) so incremental updates never require rewriting
// the whole log.
func appendBinaryUpdate(path string, update []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return core.IO(component, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return core.IO(component, err)
	}
	defer f.Close()

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(update)))
	if _, err := f.Write(lenBuf[:]); err != nil {
		return core.IO(component, err)
	}
	if _, err := f.Write(update); err != nil {
		return core.IO(component, err)
	}
	return f.Sync()
}

// ReadUpdates decodes every length-prefixed frame from a page's update log.
func ReadUpdates(path string) ([][]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, core.IO(component, err)
	}

	var updates [][]byte
	for len(b) >= 4 {
		n := binary.BigEndian.Uint32(b[:4])
		b = b[4:]
		if uint32(len(b)) < n {
			break
		}
		updates = append(updates, b[:n])
		b = b[n:]
	}
	return updates, nil
}
