package syncclient

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/erewhon/nous-sub001/pkg/core"
)

// localState is the small per-notebook file tracking what this replica has
// already seen, so the pull cycle knows where to resume (spec.md §4.10
// "Read local last_seen_seq (persisted per notebook in a small local
// file)").
type localState struct {
	LastSeenSeq uint64 `json:"last_seen_seq"`
}

func localStatePath(notebookDir string) string {
	return filepath.Join(notebookDir, "sync", "local_state.json")
}

func loadLocalState(notebookDir string) (*localState, error) {
	b, err := os.ReadFile(localStatePath(notebookDir))
	if err != nil {
		if os.IsNotExist(err) {
			return &localState{}, nil
		}
		return nil, core.IO(component, err)
	}
	var st localState
	if err := json.Unmarshal(b, &st); err != nil {
		// Corrupt local state is not fatal: spec.md treats a missing baseline
		// as "start from zero", which re-pulls everything rather than losing
		// data.
		return &localState{}, nil
	}
	return &st, nil
}

func saveLocalState(notebookDir string, st *localState) error {
	dir := filepath.Join(notebookDir, "sync")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return core.IO(component, err)
	}
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return core.Serialization(component, err)
	}
	if err := os.WriteFile(localStatePath(notebookDir), b, 0o644); err != nil {
		return core.IO(component, err)
	}
	return nil
}

// librarySentinelState tracks the last-seen sentinel ETag for an entire
// library, kept at the library root rather than per notebook.
type librarySentinelState struct {
	LastSeenETag string `json:"last_seen_etag"`
}

func sentinelStatePath(libraryRoot string) string {
	return filepath.Join(libraryRoot, "sync", "sentinel_state.json")
}

func loadSentinelState(libraryRoot string) (*librarySentinelState, error) {
	b, err := os.ReadFile(sentinelStatePath(libraryRoot))
	if err != nil {
		if os.IsNotExist(err) {
			return &librarySentinelState{}, nil
		}
		return nil, core.IO(component, err)
	}
	var st librarySentinelState
	if err := json.Unmarshal(b, &st); err != nil {
		return &librarySentinelState{}, nil
	}
	return &st, nil
}

func saveSentinelState(libraryRoot string, st *librarySentinelState) error {
	dir := filepath.Join(libraryRoot, "sync")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return core.IO(component, err)
	}
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return core.Serialization(component, err)
	}
	if err := os.WriteFile(sentinelStatePath(libraryRoot), b, 0o644); err != nil {
		return core.IO(component, err)
	}
	return nil
}
