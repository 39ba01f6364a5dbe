package oplog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/erewhon/nous-sub001/pkg/core"
)

const component = "oplog"

// ContentHash computes "sha256:<hex>" over the canonical JSON serialization
// of data: UTF-8, no trailing newline, time/version omitted when nil,
// blocks in order with fields id/type/data in that order. This exact
// encoding is pinned by the cross-language test vector in spec.md §8.3.1 —
// any reimplementation (this one included) MUST reproduce it byte-for-byte.
func ContentHash(data EditorData) (string, error) {
	if data.Blocks == nil {
		data.Blocks = []EditorBlock{}
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "", core.Serialization(component, err)
	}
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
