// Package snapshot implements periodic full-page JSON checkpoints
// (spec.md §4.4): bounded oplog replay cost during history views and
// recoveries, with retention pruning and nearest-snapshot lookup.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/erewhon/nous-sub001/pkg/core"
	"github.com/erewhon/nous-sub001/pkg/oplog"
)

const component = "snapshot"

// SnapshotInterval is the number of oplog entries between automatic
// snapshots (spec.md §4.4 default 20).
const SnapshotInterval = 20

// MaxSnapshots is the retention cap per page; TakeSnapshot prunes the
// oldest pair past this count (spec.md §4.4 default 50).
const MaxSnapshots = 50

const timeLayout = "20060102_150405"

// Meta is the sidecar JSON written alongside each snapshot (spec.md §3
// "Snapshot").
type Meta struct {
	TS              time.Time `json:"ts"`
	ContentHash      string    `json:"content_hash"`
	BlockCount       int       `json:"block_count"`
	OplogEntryCount  int       `json:"oplog_entry_count"`
}

func snapshotsDir(pagesDir, pageID string) string {
	return filepath.Join(pagesDir, pageID+".snapshots")
}

func oplogPath(pagesDir, pageID string) string {
	return filepath.Join(pagesDir, pageID+".oplog")
}

// ShouldSnapshot reports whether enough oplog entries have accumulated
// since the last snapshot to justify taking another one: current entry
// count >= entries-at-last-snapshot + SnapshotInterval.
func ShouldSnapshot(pagesDir, pageID string) (bool, error) {
	entries, err := oplog.ReadEntries(oplogPath(pagesDir, pageID))
	if err != nil {
		return false, err
	}
	current := len(entries)

	lastCount, err := lastSnapshotEntryCount(pagesDir, pageID)
	if err != nil {
		return false, err
	}
	return current >= lastCount+SnapshotInterval, nil
}

func lastSnapshotEntryCount(pagesDir, pageID string) (int, error) {
	names, err := listSnapshotNames(pagesDir, pageID)
	if err != nil {
		return 0, err
	}
	if len(names) == 0 {
		return 0, nil
	}
	m, err := readMeta(snapshotsDir(pagesDir, pageID), names[len(names)-1])
	if err != nil {
		return 0, err
	}
	return m.OplogEntryCount, nil
}

// Page is the subset of a page's identity and content this package needs
// to serialize; pkg/store.Page satisfies it structurally via the adapter
// in that package.
type Page interface {
	GetID() string
	GetContent() oplog.EditorData
}

// TakeSnapshot writes {name}.json (pretty JSON of page) and {name}.meta.json
// under pagesDir/{pageID}.snapshots/, then prunes down to MaxSnapshots.
// name is the capture instant formatted as YYYYMMDD_HHMMSS, so lexicographic
// and chronological snapshot order coincide.
func TakeSnapshot(pagesDir string, page Page, now time.Time, oplogEntryCount int) error {
	dir := snapshotsDir(pagesDir, page.GetID())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return core.IO(component, fmt.Errorf("mkdir %s: %w", dir, err))
	}

	name := now.UTC().Format(timeLayout)
	content := page.GetContent()

	hash, err := oplog.ContentHash(content)
	if err != nil {
		return err
	}

	pageJSON, err := json.MarshalIndent(page, "", "  ")
	if err != nil {
		return core.Serialization(component, err)
	}
	if err := os.WriteFile(filepath.Join(dir, name+".json"), pageJSON, 0o644); err != nil {
		return core.IO(component, fmt.Errorf("write snapshot: %w", err))
	}

	meta := Meta{
		TS:              now.UTC(),
		ContentHash:     hash,
		BlockCount:      len(content.Blocks),
		OplogEntryCount: oplogEntryCount,
	}
	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return core.Serialization(component, err)
	}
	if err := os.WriteFile(filepath.Join(dir, name+".meta.json"), metaJSON, 0o644); err != nil {
		return core.IO(component, fmt.Errorf("write snapshot meta: %w", err))
	}

	return prune(dir)
}

func prune(dir string) error {
	names, err := listSnapshotNamesIn(dir)
	if err != nil {
		return err
	}
	for len(names) > MaxSnapshots {
		oldest := names[0]
		names = names[1:]
		_ = os.Remove(filepath.Join(dir, oldest+".json"))
		_ = os.Remove(filepath.Join(dir, oldest+".meta.json"))
	}
	return nil
}

// FindNearestSnapshot returns the latest snapshot name whose timestamp is
// <= ts, or the earliest snapshot if none qualifies, or "" if there are no
// snapshots at all.
func FindNearestSnapshot(snapDir string, ts time.Time) (string, error) {
	names, err := listSnapshotNamesIn(snapDir)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", nil
	}

	target := ts.UTC().Format(timeLayout)
	best := names[0]
	for _, n := range names {
		if n <= target {
			best = n
		} else {
			break
		}
	}
	return best, nil
}

// ReadSnapshot decodes {snapDir}/{name}.json into v.
func ReadSnapshot(snapDir, name string, v any) error {
	b, err := os.ReadFile(filepath.Join(snapDir, name+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return core.NotFound(component, "snapshot", name)
		}
		return core.IO(component, fmt.Errorf("read snapshot: %w", err))
	}
	if err := json.Unmarshal(b, v); err != nil {
		return core.Serialization(component, err)
	}
	return nil
}

func readMeta(snapDir, name string) (Meta, error) {
	var m Meta
	b, err := os.ReadFile(filepath.Join(snapDir, name+".meta.json"))
	if err != nil {
		return m, core.IO(component, fmt.Errorf("read snapshot meta: %w", err))
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return m, core.Serialization(component, err)
	}
	return m, nil
}

func listSnapshotNames(pagesDir, pageID string) ([]string, error) {
	return listSnapshotNamesIn(snapshotsDir(pagesDir, pageID))
}

// listSnapshotNamesIn returns the sorted (ascending, which equals
// chronological) base names of every snapshot in dir, deduced from the
// .meta.json files so a missing/corrupt pair doesn't crash the listing.
func listSnapshotNamesIn(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, core.IO(component, fmt.Errorf("readdir %s: %w", dir, err))
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n := e.Name()
		if strings.HasSuffix(n, ".meta.json") {
			names = append(names, strings.TrimSuffix(n, ".meta.json"))
		}
	}
	sort.Strings(names)
	return names, nil
}
