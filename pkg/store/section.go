package store

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/erewhon/nous-sub001/pkg/core"
)

const sectionsFile = "sections.json"

func (s *Store) loadSections(notebookID uuid.UUID) ([]Section, error) {
	path := filepath.Join(s.notebookDir(notebookID), sectionsFile)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, core.IO(component, err)
	}
	var sections []Section
	if err := s.readEntity(notebookID, path, &sections); err != nil {
		return nil, err
	}
	return sections, nil
}

func (s *Store) saveSections(notebookID uuid.UUID, sections []Section) error {
	path := filepath.Join(s.notebookDir(notebookID), sectionsFile)
	return s.writeEntity(notebookID, path, sections)
}

// ListSections returns every section in a notebook, ordered by Position.
func (s *Store) ListSections(notebookID uuid.UUID) ([]Section, error) {
	sections, err := s.loadSections(notebookID)
	if err != nil {
		return nil, err
	}
	sortSectionsByPosition(sections)
	return sections, nil
}

func sortSectionsByPosition(sections []Section) {
	for i := 1; i < len(sections); i++ {
		for j := i; j > 0 && sections[j].Position < sections[j-1].Position; j-- {
			sections[j], sections[j-1] = sections[j-1], sections[j]
		}
	}
}

// CreateSection requires the notebook to have SectionsEnabled; callers
// check that via GetNotebook before calling (spec.md §3 "Section" only
// applies "when sections_enabled").
func (s *Store) CreateSection(notebookID uuid.UUID, name string, position int) (*Section, error) {
	lock := s.locks.forNotebook(notebookID)
	lock.Lock()
	defer lock.Unlock()

	sections, err := s.loadSections(notebookID)
	if err != nil {
		return nil, err
	}
	sec := Section{ID: uuid.New(), NotebookID: notebookID, Name: name, Position: position}
	sections = append(sections, sec)
	if err := s.saveSections(notebookID, sections); err != nil {
		return nil, err
	}
	return &sec, nil
}

// DeleteSection removes a section and cascades by clearing SectionID on
// every folder and page that referenced it (spec.md §3 "Section"
// lifecycle: "deleted cascades-by-clearing its section_id references on
// folders/pages"), rather than deleting the folders/pages themselves.
func (s *Store) DeleteSection(notebookID, sectionID uuid.UUID) error {
	lock := s.locks.forNotebook(notebookID)
	lock.Lock()
	defer lock.Unlock()

	sections, err := s.loadSections(notebookID)
	if err != nil {
		return err
	}
	out := sections[:0]
	for _, sec := range sections {
		if sec.ID == sectionID {
			continue
		}
		out = append(out, sec)
	}
	if err := s.saveSections(notebookID, out); err != nil {
		return err
	}

	folders, err := s.loadFolders(notebookID)
	if err != nil {
		return err
	}
	changed := false
	for i := range folders {
		if folders[i].SectionID != nil && *folders[i].SectionID == sectionID {
			folders[i].SectionID = nil
			changed = true
		}
	}
	if changed {
		if err := s.saveFolders(notebookID, folders); err != nil {
			return err
		}
	}

	return s.clearSectionFromPages(notebookID, sectionID)
}
