package store

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/erewhon/nous-sub001/pkg/core"
	"github.com/erewhon/nous-sub001/pkg/oplog"
	"github.com/erewhon/nous-sub001/pkg/snapshot"
)

func (s *Store) pagePath(notebookID, pageID uuid.UUID) string {
	return filepath.Join(s.pagesDir(notebookID), pageID.String()+".json")
}

func (s *Store) pageOplogPath(notebookID, pageID uuid.UUID) string {
	return filepath.Join(s.pagesDir(notebookID), pageID.String()+".oplog")
}

// pageSnapshotAdapter lets pkg/snapshot serialize a *Page without importing
// pkg/store (which would create an import cycle, since pkg/store is the
// one calling into pkg/snapshot). The embedded *Page is anonymous so its
// fields are promoted during JSON marshaling exactly as if *Page itself
// were passed.
type pageSnapshotAdapter struct {
	*Page
}

func (a pageSnapshotAdapter) GetID() string                { return a.Page.ID.String() }
func (a pageSnapshotAdapter) GetContent() oplog.EditorData { return a.Page.Content }

// CreatePage writes a new page, its genesis oplog entry, and indexes its tags.
func (s *Store) CreatePage(notebookID uuid.UUID, title string, content oplog.EditorData, tags []string) (*Page, error) {
	return s.CreatePageWithID(notebookID, uuid.New(), title, content, tags)
}

// CreatePageWithID is CreatePage with an explicit id, for callers that must
// preserve an identity assigned elsewhere: the sync manager recreating a
// page pulled from a remote replica, or migration recreating a page from a
// pre-migration store.
func (s *Store) CreatePageWithID(notebookID, pageID uuid.UUID, title string, content oplog.EditorData, tags []string) (*Page, error) {
	lock := s.locks.forNotebook(notebookID)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().UTC()
	p := &Page{
		ID:         pageID,
		NotebookID: notebookID,
		Title:      title,
		Content:    content,
		Tags:       tagMap(tags),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	hash, err := oplog.ContentHash(content)
	if err != nil {
		return nil, err
	}
	entry := oplog.Entry{
		TS:           now,
		ClientID:     oplog.GetClientID(),
		Op:           oplog.OpCreate,
		ContentHash:  hash,
		PrevHash:     oplog.GenesisHash,
		BlockChanges: oplog.DiffBlocks(oplog.EditorData{}, content),
		BlockCount:   len(content.Blocks),
	}
	if err := oplog.AppendEntry(s.pageOplogPath(notebookID, p.ID), entry); err != nil {
		return nil, err
	}

	if err := s.writeEntity(notebookID, s.pagePath(notebookID, p.ID), p); err != nil {
		return nil, err
	}

	s.reindexTags(notebookID, p.Tags)
	return p, nil
}

// GetPage loads a page by id.
func (s *Store) GetPage(notebookID, pageID uuid.UUID) (*Page, error) {
	var p Page
	path := s.pagePath(notebookID, pageID)
	if _, err := os.Stat(path); err != nil {
		return nil, core.NotFound(component, "page", pageID.String())
	}
	if err := s.readEntity(notebookID, path, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPages returns every non-deleted page in a notebook; includeDeleted
// widens that to soft-deleted tombstones too.
func (s *Store) ListPages(notebookID uuid.UUID, includeDeleted bool) ([]*Page, error) {
	entries, err := os.ReadDir(s.pagesDir(notebookID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, core.IO(component, err)
	}

	var out []*Page
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		id, err := uuid.Parse(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			continue
		}
		p, err := s.GetPage(notebookID, id)
		if err != nil {
			continue
		}
		if p.DeletedAt != nil && !includeDeleted {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// UpdatePage applies mutate to the page's content/metadata, diffs the new
// content against the prior on-disk version, appends an oplog entry,
// conditionally snapshots, and writes the page back atomically — the
// dataflow sketched in spec.md §2.
func (s *Store) UpdatePage(notebookID, pageID uuid.UUID, mutate func(*Page)) (*Page, error) {
	return s.updatePage(notebookID, pageID, oplog.OpModify, mutate)
}

// updatePage is UpdatePage with the appended oplog entry's Op chosen by the
// caller.
func (s *Store) updatePage(notebookID, pageID uuid.UUID, op oplog.Op, mutate func(*Page)) (*Page, error) {
	lock := s.locks.forNotebook(notebookID)
	lock.Lock()
	defer lock.Unlock()

	p, err := s.GetPage(notebookID, pageID)
	if err != nil {
		return nil, err
	}
	oldContent := p.Content

	mutate(p)
	p.UpdatedAt = time.Now().UTC()

	changes := oplog.DiffBlocks(oldContent, p.Content)
	hash, err := oplog.ContentHash(p.Content)
	if err != nil {
		return nil, err
	}

	oplogPath := s.pageOplogPath(notebookID, pageID)
	prevHash, err := oplog.ReadLastHash(oplogPath)
	if err != nil {
		return nil, err
	}

	entry := oplog.Entry{
		TS:           p.UpdatedAt,
		ClientID:     oplog.GetClientID(),
		Op:           op,
		ContentHash:  hash,
		PrevHash:     prevHash,
		BlockChanges: changes,
		BlockCount:   len(p.Content.Blocks),
	}
	if err := oplog.AppendEntry(oplogPath, entry); err != nil {
		return nil, err
	}

	if err := s.maybeSnapshot(notebookID, p); err != nil {
		return nil, err
	}

	if err := s.writeEntity(notebookID, s.pagePath(notebookID, pageID), p); err != nil {
		return nil, err
	}

	s.reindexTags(notebookID, p.Tags)
	return p, nil
}

func (s *Store) maybeSnapshot(notebookID uuid.UUID, p *Page) error {
	pagesDir := s.pagesDir(notebookID)
	pageIDStr := p.ID.String()

	should, err := snapshot.ShouldSnapshot(pagesDir, pageIDStr)
	if err != nil {
		return err
	}
	if !should {
		return nil
	}

	entries, err := oplog.ReadEntries(s.pageOplogPath(notebookID, p.ID))
	if err != nil {
		return err
	}
	return snapshot.TakeSnapshot(pagesDir, pageSnapshotAdapter{Page: p}, time.Now().UTC(), len(entries))
}

// DeletePage soft-deletes a page by stamping DeletedAt, appending an
// oplog "delete" entry. The file remains on disk — a tombstone, not a
// removal — so sync can propagate the deletion via the changelog.
func (s *Store) DeletePage(notebookID, pageID uuid.UUID) error {
	_, err := s.updatePage(notebookID, pageID, oplog.OpDelete, func(p *Page) {
		now := time.Now().UTC()
		p.DeletedAt = &now
	})
	return err
}

// RestorePage clears a soft-delete tombstone.
func (s *Store) RestorePage(notebookID, pageID uuid.UUID) (*Page, error) {
	lock := s.locks.forNotebook(notebookID)
	lock.Lock()
	defer lock.Unlock()

	p, err := s.GetPage(notebookID, pageID)
	if err != nil {
		return nil, err
	}
	p.DeletedAt = nil
	p.UpdatedAt = time.Now().UTC()

	hash, err := oplog.ContentHash(p.Content)
	if err != nil {
		return nil, err
	}
	oplogPath := s.pageOplogPath(notebookID, pageID)
	prevHash, err := oplog.ReadLastHash(oplogPath)
	if err != nil {
		return nil, err
	}
	entry := oplog.Entry{
		TS:          p.UpdatedAt,
		ClientID:    oplog.GetClientID(),
		Op:          oplog.OpRestore,
		ContentHash: hash,
		PrevHash:    prevHash,
		BlockCount:  len(p.Content.Blocks),
	}
	if err := oplog.AppendEntry(oplogPath, entry); err != nil {
		return nil, err
	}

	if err := s.writeEntity(notebookID, s.pagePath(notebookID, pageID), p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) clearSectionFromPages(notebookID, sectionID uuid.UUID) error {
	pages, err := s.ListPages(notebookID, true)
	if err != nil {
		return err
	}
	for _, p := range pages {
		if p.SectionID != nil && *p.SectionID == sectionID {
			if _, err := s.UpdatePage(notebookID, p.ID, func(p *Page) { p.SectionID = nil }); err != nil {
				return err
			}
		}
	}
	return nil
}

// reindexTags recompiles notebookID's tag automaton whenever a page save
// introduces tags the index hasn't seen. The automaton is immutable once
// built, so "adding" a tag means rebuilding from the full known set rather
// than patching in place.
func (s *Store) reindexTags(notebookID uuid.UUID, pageTags map[string]string) {
	idx := s.tagIndex(notebookID)
	hasNew := false
	for lower := range pageTags {
		if !idx.Has(lower) {
			hasNew = true
			break
		}
	}
	if !hasNew {
		return
	}
	if err := s.RebuildTagIndex(notebookID); err != nil {
		s.log.Warn().Err(err).Str("notebook_id", notebookID.String()).Msg("tag index rebuild failed")
	}
}

// RebuildTagIndex recompiles notebookID's tag automaton from every
// non-deleted page's tags; call after bulk imports or on notebook open.
func (s *Store) RebuildTagIndex(notebookID uuid.UUID) error {
	pages, err := s.ListPages(notebookID, false)
	if err != nil {
		return err
	}
	all := make(map[string]string)
	for _, p := range pages {
		for lower, original := range p.Tags {
			all[lower] = original
		}
	}
	return s.tagIndex(notebookID).Rebuild(all)
}

func tagMap(tags []string) map[string]string {
	m := make(map[string]string, len(tags))
	for _, t := range tags {
		m[strings.ToLower(t)] = t
	}
	return m
}
