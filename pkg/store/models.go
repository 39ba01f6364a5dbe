// Package store implements notebook/folder/section/page CRUD on the
// filesystem: atomic writes, tag indexing, archive semantics, and the
// directory layout described in spec.md §4.5.
package store

import (
	"time"

	"github.com/google/uuid"

	"github.com/erewhon/nous-sub001/pkg/oplog"
	"github.com/erewhon/nous-sub001/pkg/syncconfig"
)

// NotebookType distinguishes a flat notebook from a zettelkasten-style one.
type NotebookType string

const (
	NotebookStandard     NotebookType = "standard"
	NotebookZettelkasten NotebookType = "zettelkasten"
)

// FolderType marks the single per-notebook archive folder.
type FolderType string

const (
	FolderStandard FolderType = "standard"
	FolderArchive  FolderType = "archive"
)

// StorageMode distinguishes a page whose content lives inline from one
// backed by an external file on disk.
type StorageMode string

const (
	StorageEmbedded StorageMode = "embedded"
	StorageLinked   StorageMode = "linked"
)

// PromptMode controls how a page's system prompt combines with its
// notebook's, for consumers outside this module (e.g. an AI bridge).
type PromptMode string

const (
	PromptReplace PromptMode = "replace"
	PromptAppend  PromptMode = "append"
	PromptPrepend PromptMode = "prepend"
)

// Notebook is an entity inside a library (spec.md §3 "Notebook").
type Notebook struct {
	ID              uuid.UUID    `json:"id"`
	Name            string       `json:"name"`
	Type            NotebookType `json:"type"`
	Icon            string       `json:"icon,omitempty"`
	Color           string       `json:"color,omitempty"`
	Archived        bool         `json:"archived"`
	SectionsEnabled bool         `json:"sections_enabled"`
	SystemPrompt    string       `json:"system_prompt,omitempty"`
	AIModel         string       `json:"ai_model,omitempty"`
	// SyncConfig is nil for a notebook that has never had sync configured
	// (spec.md §3 "Notebook": "optional per-notebook sync config").
	SyncConfig *syncconfig.SyncConfig `json:"sync_config,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// Section is an optional grouping tier inside a notebook, only meaningful
// when the notebook has SectionsEnabled (spec.md §3 "Section").
type Section struct {
	ID           uuid.UUID `json:"id"`
	NotebookID   uuid.UUID `json:"notebook_id"`
	Name         string    `json:"name"`
	Color        string    `json:"color,omitempty"`
	Description  string    `json:"description,omitempty"`
	Position     int       `json:"position"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
}

// Folder is a hierarchical grouping of pages inside a notebook
// (spec.md §3 "Folder"). Exactly one folder per notebook may have
// Type == FolderArchive; it sorts last and is created on demand.
type Folder struct {
	ID         uuid.UUID  `json:"id"`
	NotebookID uuid.UUID  `json:"notebook_id"`
	ParentID   *uuid.UUID `json:"parent_id,omitempty"`
	SectionID  *uuid.UUID `json:"section_id,omitempty"`
	Name       string     `json:"name"`
	Type       FolderType `json:"folder_type"`
	Position   int        `json:"position"`
}

// Page is the central entity of a notebook (spec.md §3 "Page"). Content
// lives under pages/{id}.json; its history lives alongside in {id}.oplog
// and {id}.snapshots/.
type Page struct {
	ID         uuid.UUID `json:"id"`
	NotebookID uuid.UUID `json:"notebook_id"`

	Title   string            `json:"title"`
	Content oplog.EditorData  `json:"content"`
	Tags    map[string]string `json:"tags"` // lower(tag) -> original case

	FolderID     *uuid.UUID `json:"folder_id,omitempty"`
	SectionID    *uuid.UUID `json:"section_id,omitempty"`
	ParentPageID *uuid.UUID `json:"parent_page_id,omitempty"`
	Position     int        `json:"position"`

	IsArchived    bool       `json:"is_archived"`
	IsCover       bool       `json:"is_cover"`
	IsDailyNote   bool       `json:"is_daily_note"`
	DailyNoteDate *string    `json:"daily_note_date,omitempty"` // YYYY-MM-DD

	SystemPrompt  string     `json:"system_prompt,omitempty"`
	PromptMode    PromptMode `json:"prompt_mode,omitempty"`
	AIModel       string     `json:"ai_model,omitempty"`

	PageType    string       `json:"page_type,omitempty"`
	SourceFile  string       `json:"source_file,omitempty"`
	StorageMode StorageMode  `json:"storage_mode,omitempty"`
	FileExt     string       `json:"file_extension,omitempty"`
	LastFileSync *time.Time  `json:"last_file_sync,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// TagSet returns the page's tags as their original-case strings, for
// callers that don't need the lowercase lookup key.
func (p *Page) TagSet() []string {
	out := make([]string, 0, len(p.Tags))
	for _, original := range p.Tags {
		out = append(out, original)
	}
	return out
}

// HasTag reports whether tag matches one of the page's tags, case-insensitive.
func (p *Page) HasTag(tag string) bool {
	_, ok := p.Tags[lowerASCII(tag)]
	return ok
}

func lowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
