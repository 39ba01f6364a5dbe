package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/erewhon/nous-sub001/pkg/core"
)

const component = "store"

// writeJSONAtomic serializes v as pretty JSON and writes it to path via a
// temp-file-then-rename sequence: write to a sibling ".tmp" file in the
// same directory, fsync it, then rename over the destination. Rename is
// atomic on the same filesystem, so readers never observe a partial file.
// The watcher (pkg/watcher) relies on the ".tmp" suffix to ignore these
// intermediates.
func writeJSONAtomic(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return core.Serialization(component, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return core.IO(component, fmt.Errorf("mkdir %s: %w", dir, err))
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return core.IO(component, fmt.Errorf("create temp: %w", err))
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return core.IO(component, fmt.Errorf("write temp: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return core.IO(component, fmt.Errorf("fsync temp: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return core.IO(component, fmt.Errorf("close temp: %w", err))
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return core.IO(component, fmt.Errorf("rename into place: %w", err))
	}
	return nil
}

func readJSON(path string, v any) error {
	b, err := readRaw(path)
	if err != nil {
		return err
	}
	return unmarshalRaw(b, v)
}

// readRaw reads path's bytes, translating a missing file into core.NotFound
// only where the caller has entity/id context; here it stays a plain IO
// error and callers (e.g. page.go) wrap it with core.NotFound when the
// specific entity is known.
func readRaw(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, core.IO(component, fmt.Errorf("read %s: %w", path, err))
	}
	return b, nil
}

func unmarshalRaw(b []byte, v any) error {
	if err := json.Unmarshal(b, v); err != nil {
		return core.Serialization(component, fmt.Errorf("unmarshal: %w", err))
	}
	return nil
}
