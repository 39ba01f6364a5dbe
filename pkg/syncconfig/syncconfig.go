// Package syncconfig holds the configuration and manifest/changelog record
// types the sync engine reads and writes (spec.md §4.9). It has no
// behavior of its own beyond Changelog's append/compact bookkeeping —
// transport and merge logic live in pkg/syncclient.
package syncconfig

import (
	"time"

	"github.com/google/uuid"
)

// AuthType selects how the sync manager authenticates to the remote.
type AuthType string

const (
	AuthBasic    AuthType = "basic"
	AuthOAuth2   AuthType = "oauth2"
	AuthAppToken AuthType = "app_token"
)

// SyncMode controls when a notebook or library syncs.
type SyncMode string

const (
	SyncManual   SyncMode = "manual"
	SyncOnSave   SyncMode = "on_save"
	SyncPeriodic SyncMode = "periodic"
)

// MinSyncInterval is the smallest interval the scheduler honors;
// misconfigured smaller values are clamped upward (spec.md §4.12).
const MinSyncInterval = 60 * time.Second

// SyncConfig is a single notebook's sync configuration (spec.md §4.9).
// Credentials are never stored here — the OS secret store holds them,
// injected at call time as Credentials.
type SyncConfig struct {
	Enabled         bool       `json:"enabled"`
	ServerURL       string     `json:"server_url"`
	RemotePath      string     `json:"remote_path"`
	AuthType        AuthType   `json:"auth_type"`
	SyncModeValue   SyncMode   `json:"sync_mode"`
	SyncInterval    *time.Duration `json:"sync_interval,omitempty"`
	LastSync        *time.Time `json:"last_sync,omitempty"`
	ManagedByLibrary bool      `json:"managed_by_library,omitempty"`
}

// EffectiveInterval returns SyncInterval clamped to MinSyncInterval, or
// MinSyncInterval itself if unset.
func (c SyncConfig) EffectiveInterval() time.Duration {
	if c.SyncInterval == nil || *c.SyncInterval < MinSyncInterval {
		return MinSyncInterval
	}
	return *c.SyncInterval
}

// LibrarySyncConfig scopes sync to a whole library; every managed
// notebook gets a subdirectory under RemoteBasePath.
type LibrarySyncConfig struct {
	Enabled        bool       `json:"enabled"`
	ServerURL      string     `json:"server_url"`
	RemoteBasePath string     `json:"remote_base_path"`
	AuthType       AuthType   `json:"auth_type"`
	SyncModeValue  SyncMode   `json:"sync_mode"`
	SyncInterval   *time.Duration `json:"sync_interval,omitempty"`
	LastSync       *time.Time `json:"last_sync,omitempty"`
	SentinelETag   string     `json:"sentinel_etag,omitempty"`
}

func (c LibrarySyncConfig) EffectiveInterval() time.Duration {
	if c.SyncInterval == nil || *c.SyncInterval < MinSyncInterval {
		return MinSyncInterval
	}
	return *c.SyncInterval
}

// Credentials is injected at call time by the OS secret store integration
// living outside this module's scope.
type Credentials struct {
	Username string
	Password string
}

// PageManifestEntry tracks one page's remote ETag, Last-Modified header and
// pushed size. The page's CRDT state vector is kept separately, in
// SyncManifest.PageStateVectors.
type PageManifestEntry struct {
	ETag         string `json:"etag"`
	LastModified string `json:"last_modified"`
	Size         int64  `json:"size"`
}

// SyncManifest is the per-notebook record stored on the remote
// (spec.md §3 "Sync Manifest").
type SyncManifest struct {
	NotebookID       uuid.UUID                    `json:"notebook_id"`
	Version          int                           `json:"version"`
	UpdatedAt        time.Time                     `json:"updated_at"`
	LastClientID     string                        `json:"last_client_id"`
	Pages            map[string]PageManifestEntry  `json:"pages"`
	FoldersHash      string                        `json:"folders_hash"`
	SectionsHash     string                        `json:"sections_hash"`
	PageStateVectors map[string]string             `json:"page_state_vectors"` // page_id -> base64 state vector
}

// NewManifest returns an empty manifest for a fresh notebook (the
// treat-404-as-empty case of spec.md §4.10's push cycle).
func NewManifest(notebookID uuid.UUID) *SyncManifest {
	return &SyncManifest{
		NotebookID:       notebookID,
		Pages:            make(map[string]PageManifestEntry),
		PageStateVectors: make(map[string]string),
	}
}

// ChangelogOp is the kind of page-level event a changelog entry records.
type ChangelogOp string

const (
	ChangeUpdated ChangelogOp = "updated"
	ChangeDeleted ChangelogOp = "deleted"
)

// ChangelogEntry is one monotonically-sequenced changelog line.
type ChangelogEntry struct {
	Seq      uint64      `json:"seq"`
	ClientID string      `json:"client_id"`
	TS       time.Time   `json:"ts"`
	Op       ChangelogOp `json:"op"`
	PageID   string      `json:"page_id"`
}

// Changelog is the per-notebook remote-stored append log of page events
// (spec.md §4.9). Compactable; NextSeq is strictly monotonic.
type Changelog struct {
	NotebookID uuid.UUID        `json:"notebook_id"`
	Entries    []ChangelogEntry `json:"entries"`
	NextSeq    uint64           `json:"next_seq"`
}

// NewChangelog returns an empty changelog with NextSeq starting at 1.
func NewChangelog(notebookID uuid.UUID) *Changelog {
	return &Changelog{NotebookID: notebookID, NextSeq: 1}
}

// Append allocates the next sequence number and records an entry.
func (c *Changelog) Append(clientID string, op ChangelogOp, pageID string, ts time.Time) ChangelogEntry {
	e := ChangelogEntry{Seq: c.NextSeq, ClientID: clientID, TS: ts, Op: op, PageID: pageID}
	c.NextSeq++
	c.Entries = append(c.Entries, e)
	return e
}

// EntriesSince returns entries with Seq > sinceSeq, skipping any authored
// by excludeClient — a replica never needs to pull back its own changes.
func (c *Changelog) EntriesSince(sinceSeq uint64, excludeClient string) []ChangelogEntry {
	var out []ChangelogEntry
	for _, e := range c.Entries {
		if e.Seq <= sinceSeq {
			continue
		}
		if e.ClientID == excludeClient {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Collapse reduces a list of entries to one per page_id, keeping the
// highest-seq (last) op for each — spec.md §4.10 pull cycle step 3:
// "collapse by page_id (last op wins)".
func Collapse(entries []ChangelogEntry) map[string]ChangelogEntry {
	out := make(map[string]ChangelogEntry, len(entries))
	for _, e := range entries {
		if existing, ok := out[e.PageID]; !ok || e.Seq > existing.Seq {
			out[e.PageID] = e
		}
	}
	return out
}

// Compact drops all but the last keepLast entries.
func (c *Changelog) Compact(keepLast int) {
	if len(c.Entries) <= keepLast {
		return
	}
	c.Entries = c.Entries[len(c.Entries)-keepLast:]
}
