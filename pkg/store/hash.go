package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/erewhon/nous-sub001/pkg/core"
)

// FoldersHash and SectionsHash feed a notebook's sync manifest (spec.md §3
// "Sync Manifest"): a cheap way to tell whether the folder/section lists
// changed without diffing their full bodies. The spec leaves the exact
// serialization unspecified; this module pins it to compact JSON of the
// list sorted ascending by ID, so the hash is stable regardless of
// in-memory slice order.
func FoldersHash(folders []Folder) (string, error) {
	sorted := make([]Folder, len(folders))
	copy(sorted, folders)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID.String() < sorted[j].ID.String() })
	return hashJSON(sorted)
}

func SectionsHash(sections []Section) (string, error) {
	sorted := make([]Section, len(sections))
	copy(sorted, sections)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID.String() < sorted[j].ID.String() })
	return hashJSON(sorted)
}

func hashJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", core.Serialization(component, err)
	}
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
