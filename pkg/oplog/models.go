// Package oplog implements the per-page append-only hash-chained operation
// log described in spec.md §4.3: block-level diffing, content hashing,
// chain verification, and the JSONL file format.
package oplog

import (
	"encoding/json"
	"time"
)

// Op is the kind of operation an OplogEntry records.
type Op string

const (
	OpCreate  Op = "create"
	OpModify  Op = "modify"
	OpDelete  Op = "delete"
	OpRestore Op = "restore"
)

// BlockOp is the kind of change a single block underwent within a save.
type BlockOp string

const (
	BlockInsert BlockOp = "insert"
	BlockModify BlockOp = "modify"
	BlockDelete BlockOp = "delete"
	BlockMove   BlockOp = "move"
)

// BlockChange records one block-level change within a single oplog entry.
type BlockChange struct {
	BlockID      string  `json:"block_id"`
	Op           BlockOp `json:"op"`
	BlockType    string  `json:"block_type,omitempty"`
	AfterBlockID *string `json:"after_block_id,omitempty"`
}

// Entry is one line of a page's .oplog JSONL file (spec.md §3 "OplogEntry").
type Entry struct {
	TS           time.Time     `json:"ts"`
	ClientID     string        `json:"client_id"`
	Op           Op            `json:"op"`
	ContentHash  string        `json:"content_hash"`
	PrevHash     string        `json:"prev_hash"`
	BlockChanges []BlockChange `json:"block_changes,omitempty"`
	BlockCount   int           `json:"block_count"`
}

// GenesisHash is the literal PrevHash value for the first entry of a chain.
const GenesisHash = "genesis"

// EditorBlock is one typed, opaque content block within a page
// (spec.md §3 "EditorData"). Data's shape depends on BlockType and is never
// interpreted by this module or by pkg/store — only Id stability matters
// for oplog/CRDT correctness.
type EditorBlock struct {
	ID        string          `json:"id"`
	BlockType string          `json:"type"`
	Data      json.RawMessage `json:"data"`
}

// EditorData is a page's full body: metadata plus an ordered block list.
// Field order and omitempty behavior are pinned exactly as written here —
// ContentHash's cross-language stability test vector (spec.md §8.3.1)
// depends on this struct serializing to
// {"time":...,"version":...,"blocks":[{"id":...,"type":...,"data":...}]}
// with time/version entirely absent when nil, never `null`.
type EditorData struct {
	Time    *int64        `json:"time,omitempty"`
	Version *string       `json:"version,omitempty"`
	Blocks  []EditorBlock `json:"blocks"`
}
