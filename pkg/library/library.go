// Package library implements the multi-library registry described in
// spec.md §4.8: the top-level grouping above notebooks, with exactly one
// library marked current at a time.
package library

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/erewhon/nous-sub001/pkg/core"
	"github.com/erewhon/nous-sub001/pkg/log"
	"github.com/erewhon/nous-sub001/pkg/syncconfig"
)

const component = "library"

// Library is a named root directory holding a notebooks/ subtree and a
// search_index/ directory (spec.md §3 "Library").
type Library struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Icon      string    `json:"icon,omitempty"`
	Color     string    `json:"color,omitempty"`
	IsDefault bool      `json:"is_default"`
	CreatedAt time.Time `json:"created_at"`
	// Sync is nil for a library with no library-wide sync configured
	// (spec.md §4.9 "LibrarySyncConfig").
	Sync *syncconfig.LibrarySyncConfig `json:"sync,omitempty"`
}

// Stats reports directory-derived statistics for one library
// (spec.md §4.8 get_library_stats).
type Stats struct {
	NotebookCount int       `json:"notebook_count"`
	TotalSizeBytes int64    `json:"total_size_bytes"`
	LastModified   time.Time `json:"last_modified"`
}

// Registry tracks every known library and which one is current, persisted
// as {app_root}/libraries.json and {app_root}/current_library.json.
type Registry struct {
	appRoot string
}

func NewRegistry(appRoot string) *Registry {
	return &Registry{appRoot: appRoot}
}

func (r *Registry) librariesPath() string { return filepath.Join(r.appRoot, "libraries.json") }
func (r *Registry) currentPath() string   { return filepath.Join(r.appRoot, "current_library.json") }

// DefaultLibraryID is fixed so the default library is recognizable across
// installs without reading the registry first.
var DefaultLibraryID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// Bootstrap creates the default library on first run if libraries.json
// doesn't exist yet, selecting it as current.
func (r *Registry) Bootstrap(defaultPath string) error {
	if _, err := os.Stat(r.librariesPath()); err == nil {
		return nil
	}

	if err := os.MkdirAll(r.appRoot, 0o755); err != nil {
		return core.IO(component, err)
	}
	def := Library{
		ID:        DefaultLibraryID,
		Name:      "Default",
		Path:      defaultPath,
		IsDefault: true,
		CreatedAt: time.Now().UTC(),
	}
	if err := ensureLibraryDirs(def.Path); err != nil {
		return err
	}
	if err := r.save([]Library{def}); err != nil {
		return err
	}
	return r.setCurrent(def.ID)
}

func ensureLibraryDirs(path string) error {
	if err := os.MkdirAll(filepath.Join(path, "notebooks"), 0o755); err != nil {
		return core.IO(component, err)
	}
	if err := os.MkdirAll(filepath.Join(path, "search_index"), 0o755); err != nil {
		return core.IO(component, err)
	}
	return nil
}

func (r *Registry) List() ([]Library, error) {
	b, err := os.ReadFile(r.librariesPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, core.IO(component, err)
	}
	var libs []Library
	if err := json.Unmarshal(b, &libs); err != nil {
		return nil, core.Serialization(component, err)
	}
	return libs, nil
}

func (r *Registry) save(libs []Library) error {
	b, err := json.MarshalIndent(libs, "", "  ")
	if err != nil {
		return core.Serialization(component, err)
	}
	if err := os.WriteFile(r.librariesPath(), b, 0o644); err != nil {
		return core.IO(component, err)
	}
	return nil
}

func (r *Registry) Get(id uuid.UUID) (*Library, error) {
	libs, err := r.List()
	if err != nil {
		return nil, err
	}
	for i := range libs {
		if libs[i].ID == id {
			return &libs[i], nil
		}
	}
	return nil, core.NotFound(component, "library", id.String())
}

// Current returns the selected library.
func (r *Registry) Current() (*Library, error) {
	b, err := os.ReadFile(r.currentPath())
	if err != nil {
		return nil, core.IO(component, err)
	}
	var ref struct {
		ID uuid.UUID `json:"id"`
	}
	if err := json.Unmarshal(b, &ref); err != nil {
		return nil, core.Serialization(component, err)
	}
	return r.Get(ref.ID)
}

func (r *Registry) setCurrent(id uuid.UUID) error {
	b, err := json.Marshal(struct {
		ID uuid.UUID `json:"id"`
	}{id})
	if err != nil {
		return core.Serialization(component, err)
	}
	if err := os.WriteFile(r.currentPath(), b, 0o644); err != nil {
		return core.IO(component, err)
	}
	return nil
}

// SwitchCurrent changes the selected library; callers are responsible for
// evicting process-wide caches scoped to the old library (pkg/crdt.Store,
// pkg/encryption.Manager) after this succeeds.
func (r *Registry) SwitchCurrent(id uuid.UUID) error {
	if _, err := r.Get(id); err != nil {
		return err
	}
	return r.setCurrent(id)
}

// CreateLibrary validates path (absolute, unique, either nonexistent or
// writable) and registers a new library there.
func (r *Registry) CreateLibrary(name, path string) (*Library, error) {
	if !filepath.IsAbs(path) {
		return nil, core.Invalid(component, "library path must be absolute")
	}

	libs, err := r.List()
	if err != nil {
		return nil, err
	}
	for _, l := range libs {
		if l.Path == path {
			return nil, core.Invalid(component, "library path already registered")
		}
	}

	if err := validateWritable(path); err != nil {
		return nil, err
	}
	if err := ensureLibraryDirs(path); err != nil {
		return nil, err
	}

	lib := Library{ID: uuid.New(), Name: name, Path: path, CreatedAt: time.Now().UTC()}
	libs = append(libs, lib)
	if err := r.save(libs); err != nil {
		return nil, err
	}
	log.WithComponent(component).Info().Str("library_id", lib.ID.String()).Str("path", path).Msg("library created")
	return &lib, nil
}

func validateWritable(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return core.IO(component, fmt.Errorf("create library dir: %w", err))
	}
	probe := filepath.Join(path, ".nous_write_probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return core.IO(component, fmt.Errorf("path not writable: %w", err))
	}
	return os.Remove(probe)
}

// UpdateLibrary patches name/icon/color for an existing library.
func (r *Registry) UpdateLibrary(id uuid.UUID, name, icon, color *string) (*Library, error) {
	libs, err := r.List()
	if err != nil {
		return nil, err
	}
	for i := range libs {
		if libs[i].ID != id {
			continue
		}
		if name != nil {
			libs[i].Name = *name
		}
		if icon != nil {
			libs[i].Icon = *icon
		}
		if color != nil {
			libs[i].Color = *color
		}
		if err := r.save(libs); err != nil {
			return nil, err
		}
		return &libs[i], nil
	}
	return nil, core.NotFound(component, "library", id.String())
}

// DeleteLibrary removes only the registry entry; the directory is left in
// place as user-controlled data (spec.md §4.8). Disallowed for the
// default library. If the deleted library was current, switches to
// the default.
func (r *Registry) DeleteLibrary(id uuid.UUID) error {
	if id == DefaultLibraryID {
		return core.Invalid(component, "the default library cannot be deleted")
	}

	libs, err := r.List()
	if err != nil {
		return err
	}
	out := libs[:0]
	found := false
	for _, l := range libs {
		if l.ID == id {
			found = true
			continue
		}
		out = append(out, l)
	}
	if !found {
		return core.NotFound(component, "library", id.String())
	}
	if err := r.save(out); err != nil {
		return err
	}

	if cur, err := r.Current(); err == nil && cur.ID == id {
		return r.setCurrent(DefaultLibraryID)
	}
	return nil
}

// GetStats walks lib's directory to compute notebook count, total size,
// and the most recent modification time.
func GetStats(lib *Library) (Stats, error) {
	var st Stats

	notebooksDir := filepath.Join(lib.Path, "notebooks")
	entries, err := os.ReadDir(notebooksDir)
	if err == nil {
		for _, e := range entries {
			if e.IsDir() {
				st.NotebookCount++
			}
		}
	} else if !os.IsNotExist(err) {
		return st, core.IO(component, err)
	}

	err = filepath.WalkDir(lib.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // best-effort: skip unreadable entries rather than aborting stats
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		st.TotalSizeBytes += info.Size()
		if info.ModTime().After(st.LastModified) {
			st.LastModified = info.ModTime()
		}
		return nil
	})
	if err != nil {
		return st, core.IO(component, err)
	}
	return st, nil
}

// MoveNotebookToLibrary copies a notebook directory from source to target
// recursively, then removes it from source. Fails if target already has a
// directory for notebookID.
func MoveNotebookToLibrary(notebookID uuid.UUID, source, target *Library) error {
	src := filepath.Join(source.Path, "notebooks", notebookID.String())
	dst := filepath.Join(target.Path, "notebooks", notebookID.String())

	if _, err := os.Stat(src); err != nil {
		return core.NotFound(component, "notebook", notebookID.String())
	}
	if _, err := os.Stat(dst); err == nil {
		return core.Invalid(component, "target library already has a notebook with this id")
	}

	if err := copyDir(src, dst); err != nil {
		return core.IO(component, err)
	}
	if err := os.RemoveAll(src); err != nil {
		return core.IO(component, err)
	}
	return nil
}

func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, b, 0o644)
	})
}
