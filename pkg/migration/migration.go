// Package migration implements the idempotent startup migrations described
// in spec.md §4.14 (C13), ported from original_source/src-tauri/src/
// (the global-to-library data move and the temporary-video relocation) to
// idiomatic Go file operations — no line-for-line port, same two
// operations and the same "never re-migrate, never delete the source"
// guarantees.
package migration

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/erewhon/nous-sub001/pkg/core"
)

const component = "migration"

// markerPath is the file whose existence means migrateGlobalToLibrary has
// already run for this library.
func markerPath(libraryPath string) string {
	return filepath.Join(libraryPath, ".nous", ".v2_lib_scoped")
}

// globalDirs are the data_dir-relative directories migrateGlobalToLibrary
// moves into a library that doesn't already have them.
var globalDirs = []string{"goals", "inbox", "actions"}

// GlobalToLibrary runs once per library: it marks the library as
// "library-scoped" and, for a non-default library, copies any of
// {goals, inbox, actions} that exist under dataDir but not yet under
// libraryPath. Safe to call on every startup — a second call is a no-op
// once the marker exists.
func GlobalToLibrary(dataDir, libraryPath string) error {
	marker := markerPath(libraryPath)
	if _, err := os.Stat(marker); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return core.IO(component, err)
	}

	if err := os.MkdirAll(filepath.Dir(marker), 0o755); err != nil {
		return core.IO(component, err)
	}

	if cleanPath(dataDir) != cleanPath(libraryPath) {
		for _, name := range globalDirs {
			src := filepath.Join(dataDir, name)
			dst := filepath.Join(libraryPath, name)
			srcInfo, err := os.Stat(src)
			if err != nil {
				if os.IsNotExist(err) {
					continue
				}
				return core.IO(component, err)
			}
			if !srcInfo.IsDir() {
				continue
			}
			if _, err := os.Stat(dst); err == nil {
				continue // library already has its own copy
			} else if !os.IsNotExist(err) {
				return core.IO(component, err)
			}
			if err := copyDir(src, dst); err != nil {
				return core.IO(component, err)
			}
		}
	}

	return os.WriteFile(marker, []byte("1"), 0o644)
}

func cleanPath(p string) string {
	return filepath.Clean(p)
}

func copyDir(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target, info.Mode())
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// tmpVideosDir is the well-known staging location a pre-migration build
// may have written notebook video assets to (spec.md §4.14).
const tmpVideosDir = "/tmp/nous-videos"

// TmpVideos moves any files left under /tmp/nous-videos/{notebook_id}/
// back into libraryPath/notebooks/{notebook_id}/assets/, rewriting the
// /tmp/nous-videos path in every page JSON that references the old
// location. Safe to call on every startup: it returns immediately if the
// staging directory doesn't exist, and removes it once drained.
func TmpVideos(libraryPath string) error {
	entries, err := os.ReadDir(tmpVideosDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return core.IO(component, err)
	}

	rewrites := make(map[string]string) // old path -> new path, for page rewriting below

	for _, nbEntry := range entries {
		if !nbEntry.IsDir() {
			continue
		}
		notebookID := nbEntry.Name()
		nbDir := filepath.Join(tmpVideosDir, notebookID)
		files, err := os.ReadDir(nbDir)
		if err != nil {
			return core.IO(component, err)
		}
		assetsDir := filepath.Join(libraryPath, "notebooks", notebookID, "assets")
		if err := os.MkdirAll(assetsDir, 0o755); err != nil {
			return core.IO(component, err)
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			oldPath := filepath.Join(nbDir, f.Name())
			newPath := filepath.Join(assetsDir, f.Name())
			if err := moveFile(oldPath, newPath); err != nil {
				return core.IO(component, err)
			}
			rewrites[filepath.ToSlash(filepath.Join(tmpVideosDir, notebookID, f.Name()))] = filepath.ToSlash(newPath)
		}
	}

	if len(rewrites) > 0 {
		if err := rewritePageReferences(libraryPath, rewrites); err != nil {
			return err
		}
	}

	return os.RemoveAll(tmpVideosDir)
}

// moveFile renames oldPath to newPath, falling back to copy-then-delete
// when the rename fails across filesystem/device boundaries (spec.md
// §4.14: "fall back to copy+delete if cross-device").
func moveFile(oldPath, newPath string) error {
	err := os.Rename(oldPath, newPath)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return err
	}
	if copyErr := copyFile(oldPath, newPath, 0o644); copyErr != nil {
		return copyErr
	}
	return os.Remove(oldPath)
}

// rewritePageReferences walks every page JSON file under libraryPath and
// replaces any occurrence of an old /tmp/nous-videos path with its new
// assets path. Pages are rewritten as raw text, not decoded into
// pkg/store.Page, so this migration has no dependency on that package's
// schema staying stable across versions.
func rewritePageReferences(libraryPath string, rewrites map[string]string) error {
	notebooksDir := filepath.Join(libraryPath, "notebooks")
	return filepath.WalkDir(notebooksDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".json") || !strings.Contains(filepath.ToSlash(path), "/pages/") {
			return nil
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if !json.Valid(raw) {
			return nil
		}
		text := string(raw)
		original := text
		for oldPath, newPath := range rewrites {
			text = strings.ReplaceAll(text, oldPath, newPath)
		}
		if text == original {
			return nil
		}
		return os.WriteFile(path, []byte(text), 0o644)
	})
}
