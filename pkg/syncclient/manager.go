package syncclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/erewhon/nous-sub001/pkg/core"
	"github.com/erewhon/nous-sub001/pkg/crdt"
	"github.com/erewhon/nous-sub001/pkg/crypto"
	"github.com/erewhon/nous-sub001/pkg/log"
	"github.com/erewhon/nous-sub001/pkg/oplog"
	"github.com/erewhon/nous-sub001/pkg/store"
	"github.com/erewhon/nous-sub001/pkg/syncconfig"
)

// Manager runs push/pull sync cycles for notebooks against a WebDAV
// remote, coordinating with pkg/store for on-disk page state and
// pkg/crdt for live-document merges (spec.md §4.10 "Sync manager").
type Manager struct {
	store    *store.Store
	crdt     *crdt.Store
	clientID string
	bus      *core.Bus
	log      zerolog.Logger

	mu        sync.Mutex
	syncLocks map[uuid.UUID]*sync.Mutex
}

// NewManager wires a sync manager to the given library's store and live
// CRDT registry.
func NewManager(st *store.Store, crdtStore *crdt.Store, bus *core.Bus) *Manager {
	return &Manager{
		store:     st,
		crdt:      crdtStore,
		clientID:  oplog.GetClientID(),
		bus:       bus,
		log:       log.WithComponent(component),
		syncLocks: make(map[uuid.UUID]*sync.Mutex),
	}
}

func (m *Manager) lockFor(notebookID uuid.UUID) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.syncLocks[notebookID]
	if !ok {
		l = &sync.Mutex{}
		m.syncLocks[notebookID] = l
	}
	return l
}

func (m *Manager) emit(notebookID uuid.UUID, status core.SyncState, opts ...func(*core.SyncStatusEvent)) {
	if m.bus == nil {
		return
	}
	ev := core.SyncStatusEvent{NotebookID: notebookID.String(), Status: status}
	for _, o := range opts {
		o(&ev)
	}
	m.bus.Publish(core.Event{Kind: core.EventSyncStatus, SyncState: &ev})
}

func withCurrentOp(op string) func(*core.SyncStatusEvent) {
	return func(e *core.SyncStatusEvent) { e.CurrentOperation = op }
}

func withError(err error) func(*core.SyncStatusEvent) {
	return func(e *core.SyncStatusEvent) { e.Error = err.Error() }
}

// --- remote document helpers -------------------------------------------

func notebookPath(notebookID uuid.UUID, name string) string {
	return fmt.Sprintf("%s/%s", notebookID.String(), name)
}

func (m *Manager) fetchManifest(ctx context.Context, client *Client, notebookID uuid.UUID) (*syncconfig.SyncManifest, string, error) {
	res, err := client.Get(ctx, notebookPath(notebookID, "manifest.json"))
	if err != nil {
		return nil, "", err
	}
	if res == nil {
		return syncconfig.NewManifest(notebookID), "", nil
	}
	var manifest syncconfig.SyncManifest
	if err := json.Unmarshal(res.Body, &manifest); err != nil {
		// Manifest corruption: spec.md "treat as absent; next push rebuilds".
		return syncconfig.NewManifest(notebookID), "", nil
	}
	return &manifest, res.ETag, nil
}

func (m *Manager) fetchChangelog(ctx context.Context, client *Client, notebookID uuid.UUID) (*syncconfig.Changelog, error) {
	res, err := client.Get(ctx, notebookPath(notebookID, "changelog.json"))
	if err != nil {
		return nil, err
	}
	if res == nil {
		return syncconfig.NewChangelog(notebookID), nil
	}
	var cl syncconfig.Changelog
	if err := json.Unmarshal(res.Body, &cl); err != nil {
		return syncconfig.NewChangelog(notebookID), nil
	}
	return &cl, nil
}

func (m *Manager) putJSON(ctx context.Context, client *Client, path string, v any) (*Result, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, core.Serialization(component, err)
	}
	return client.Put(ctx, path, b, "", false)
}

// pagePayload is the plaintext-on-the-wire shape of a pushed page when the
// notebook isn't encrypted (spec.md §4.10 step 5).
type pagePayload struct {
	Page      *store.Page `json:"page"`
	CRDTState string      `json:"crdt_state"` // base64
}

// --- push cycle ----------------------------------------------------------

// Push runs one push cycle for notebookID against client, per spec.md
// §4.10 "Push cycle (one notebook)".
func (m *Manager) Push(ctx context.Context, client *Client, notebookID uuid.UUID) error {
	lock := m.lockFor(notebookID)
	lock.Lock()
	defer lock.Unlock()

	m.emit(notebookID, core.SyncSyncing, withCurrentOp("push"))

	manifest, manifestETag, err := m.fetchManifest(ctx, client, notebookID)
	if err != nil {
		m.emit(notebookID, core.SyncError, withError(err))
		return err
	}

	pages, err := m.store.ListPages(notebookID, true)
	if err != nil {
		m.emit(notebookID, core.SyncError, withError(err))
		return err
	}

	cl, err := m.fetchChangelog(ctx, client, notebookID)
	if err != nil {
		m.emit(notebookID, core.SyncError, withError(err))
		return err
	}

	for _, p := range pages {
		if p.DeletedAt != nil {
			continue
		}
		entry, tracked := manifest.Pages[p.ID.String()]
		isCandidate := !tracked || entry.ETag == "" || p.UpdatedAt.After(parseRFC1123(entry.LastModified))
		if !isCandidate {
			continue
		}
		if err := m.pushPage(ctx, client, notebookID, p, manifest, cl); err != nil {
			m.emit(notebookID, core.SyncError, withError(err))
			return err
		}
	}

	for _, p := range pages {
		if p.DeletedAt == nil {
			continue
		}
		if _, tracked := manifest.Pages[p.ID.String()]; !tracked {
			continue
		}
		if err := client.Delete(ctx, notebookPath(notebookID, "pages/"+p.ID.String()+".json")); err != nil {
			m.emit(notebookID, core.SyncError, withError(err))
			return err
		}
		delete(manifest.Pages, p.ID.String())
		delete(manifest.PageStateVectors, p.ID.String())
		cl.Append(m.clientID, syncconfig.ChangeDeleted, p.ID.String(), time.Now().UTC())
	}

	folders, err := m.store.ListFolders(notebookID)
	if err != nil {
		return err
	}
	sections, err := m.store.ListSections(notebookID)
	if err != nil {
		return err
	}
	foldersHash, err := store.FoldersHash(folders)
	if err != nil {
		return err
	}
	sectionsHash, err := store.SectionsHash(sections)
	if err != nil {
		return err
	}
	if foldersHash != manifest.FoldersHash {
		if _, err := m.putJSON(ctx, client, notebookPath(notebookID, "folders.json"), folders); err != nil {
			return err
		}
		manifest.FoldersHash = foldersHash
	}
	if sectionsHash != manifest.SectionsHash {
		if _, err := m.putJSON(ctx, client, notebookPath(notebookID, "sections.json"), sections); err != nil {
			return err
		}
		manifest.SectionsHash = sectionsHash
	}

	manifest.Version++
	manifest.UpdatedAt = time.Now().UTC()
	manifest.LastClientID = m.clientID
	ifMatch := manifestETag
	if _, err := client.Put(ctx, notebookPath(notebookID, "manifest.json"), mustJSON(manifest), ifMatch, ifMatch == ""); err != nil {
		m.emit(notebookID, core.SyncError, withError(err))
		return err
	}
	if _, err := m.putJSON(ctx, client, notebookPath(notebookID, "changelog.json"), cl); err != nil {
		return err
	}

	sentinelBody := []byte(fmt.Sprintf("ts=%d", time.Now().UTC().Unix()))
	if _, err := client.Put(ctx, "_sentinel", sentinelBody, "", false); err != nil {
		return err
	}

	m.emit(notebookID, core.SyncSuccess)
	return nil
}

// pushPage pushes one page, retrying once after a pull-and-merge if the
// server rejects our ETag (spec.md §4.10 step 5, "Failure semantics"
// precondition-failed handling).
func (m *Manager) pushPage(ctx context.Context, client *Client, notebookID uuid.UUID, p *store.Page, manifest *syncconfig.SyncManifest, cl *syncconfig.Changelog) error {
	entry := manifest.Pages[p.ID.String()]

	for attempt := 0; attempt < 2; attempt++ {
		state, live, err := m.crdt.EncodedState(p.ID)
		if err != nil {
			return err
		}
		if !live {
			doc, err := crdt.FromEditorData(p.Content)
			if err != nil {
				return err
			}
			state, err = doc.EncodeState()
			if err != nil {
				return err
			}
		}

		payload := pagePayload{Page: p, CRDTState: base64.StdEncoding.EncodeToString(state)}

		var body []byte
		if m.store.Keys() != nil && m.store.Keys().IsNotebookUnlocked(notebookID) {
			key, err := m.store.Keys().GetNotebookKey(notebookID)
			if err != nil {
				return err
			}
			container, err := crypto.EncryptJSON(payload, key)
			if err != nil {
				return err
			}
			body = mustJSON(container)
		} else {
			body = mustJSON(payload)
		}

		res, err := client.Put(ctx, notebookPath(notebookID, "pages/"+p.ID.String()+".json"), body, entry.ETag, entry.ETag == "")
		if err == nil {
			manifest.Pages[p.ID.String()] = syncconfig.PageManifestEntry{
				ETag: res.ETag, LastModified: res.LastModified, Size: int64(len(body)),
			}
			manifest.PageStateVectors[p.ID.String()] = base64.StdEncoding.EncodeToString(state)
			cl.Append(m.clientID, syncconfig.ChangeUpdated, p.ID.String(), time.Now().UTC())
			return nil
		}

		if !isPreconditionFailed(err) || attempt > 0 {
			return err
		}

		// Conflict: pull and merge this page, then retry once against the
		// ETag the merge just observed — reusing the stale one would just
		// 412 again.
		remoteRes, perr := m.pullMergeOnePage(ctx, client, notebookID, p.ID)
		if perr != nil {
			return core.Sync(component, core.ErrConflictUnresolved.Reason, perr)
		}
		if remoteRes != nil {
			entry = syncconfig.PageManifestEntry{ETag: remoteRes.ETag, LastModified: remoteRes.LastModified}
		}
		merged, gerr := m.store.GetPage(notebookID, p.ID)
		if gerr != nil {
			return gerr
		}
		p = merged
		cl.Append(m.clientID, syncconfig.ChangeUpdated, p.ID.String(), time.Now().UTC())
	}
	return &core.Error{Kind: core.KindSync, Component: component, Reason: core.ErrConflictUnresolved.Reason}
}

func isPreconditionFailed(err error) bool {
	var e *core.Error
	return errors.As(err, &e) && e.Reason == core.ErrPreconditionFailed.Reason
}

// --- pull cycle ------------------------------------------------------------

// Pull runs one pull cycle for notebookID, per spec.md §4.10 "Pull cycle".
func (m *Manager) Pull(ctx context.Context, client *Client, notebookID uuid.UUID) error {
	lock := m.lockFor(notebookID)
	lock.Lock()
	defer lock.Unlock()

	m.emit(notebookID, core.SyncSyncing, withCurrentOp("pull"))

	// The manifest isn't otherwise needed by the pull cycle (the changelog
	// alone identifies what to fetch) but is still read here, matching
	// spec.md §4.10 step 1, so a corrupt manifest is detected and logged
	// even on a pull-only cycle.
	if _, _, err := m.fetchManifest(ctx, client, notebookID); err != nil {
		m.emit(notebookID, core.SyncError, withError(err))
		return err
	}
	cl, err := m.fetchChangelog(ctx, client, notebookID)
	if err != nil {
		m.emit(notebookID, core.SyncError, withError(err))
		return err
	}

	notebookDir := m.store.NotebookDir(notebookID)
	local, err := loadLocalState(notebookDir)
	if err != nil {
		return err
	}

	if cl.NextSeq == 0 || cl.NextSeq-1 <= local.LastSeenSeq {
		m.emit(notebookID, core.SyncSuccess)
		return nil
	}

	delta := cl.EntriesSince(local.LastSeenSeq, m.clientID)
	collapsed := syncconfig.Collapse(delta)

	var warnings []error
	for pageID, entry := range collapsed {
		if entry.Op == syncconfig.ChangeDeleted {
			pid, perr := uuid.Parse(pageID)
			if perr != nil {
				continue
			}
			if _, err := m.store.GetPage(notebookID, pid); err == nil {
				if err := m.store.DeletePage(notebookID, pid); err != nil {
					warnings = append(warnings, err)
				}
			}
			continue
		}
		if _, err := m.pullMergeOnePage(ctx, client, notebookID, uuidMustParse(pageID)); err != nil {
			if isConflictEncrypted(err) {
				m.log.Warn().Err(err).Str("page_id", pageID).Msg("pulled page is encrypted and locked; skipping")
				warnings = append(warnings, err)
				continue
			}
			return err
		}
	}

	local.LastSeenSeq = cl.NextSeq - 1
	if err := saveLocalState(notebookDir, local); err != nil {
		return err
	}

	if len(warnings) > 0 {
		m.emit(notebookID, core.SyncConflict, withError(warnings[0]))
		return nil
	}

	m.emit(notebookID, core.SyncSuccess)
	return nil
}

// pullMergeOnePage fetches a single remote page and merges it into local
// state — shared by the pull cycle's normal delta processing and a
// push-conflict's pull-then-retry (spec.md §4.10 step 5/pull cycle step 5).
// It returns the fetched Result (nil if the page doesn't exist remotely) so
// a push-conflict retry can pick up the ETag it just observed.
func (m *Manager) pullMergeOnePage(ctx context.Context, client *Client, notebookID, pageID uuid.UUID) (*Result, error) {
	res, err := client.Get(ctx, notebookPath(notebookID, "pages/"+pageID.String()+".json"))
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil // remote page vanished between changelog read and GET; next cycle reconciles
	}

	var remoteContent oplog.EditorData
	var remoteState []byte

	if container, perr := crypto.ParseEncryptedFile(res.Body); perr == nil && container != nil {
		key, kerr := m.store.Keys().GetNotebookKey(notebookID)
		if kerr != nil {
			return res, &core.Error{Kind: core.KindSync, Component: component, Reason: core.ErrConflictEncrypted.Reason, Err: kerr}
		}
		var payload pagePayload
		if derr := crypto.DecryptJSON(container, key, &payload); derr != nil {
			return res, &core.Error{Kind: core.KindSync, Component: component, Reason: core.ErrConflictEncrypted.Reason, Err: derr}
		}
		remoteContent = payload.Page.Content
		remoteState, _ = base64.StdEncoding.DecodeString(payload.CRDTState)
	} else {
		var payload pagePayload
		if err := json.Unmarshal(res.Body, &payload); err != nil {
			return res, core.Serialization(component, err)
		}
		remoteContent = payload.Page.Content
		remoteState, _ = base64.StdEncoding.DecodeString(payload.CRDTState)
	}

	existing, err := m.store.GetPage(notebookID, pageID)
	if err != nil {
		if !core.IsNotFound(err) {
			return res, err
		}
		if _, err := m.store.CreatePageWithID(notebookID, pageID, "", remoteContent, nil); err != nil {
			return res, err
		}
		return res, nil
	}

	merged, _, err := m.crdt.ApplyRemoteUpdate(notebookID, pageID, existing.Content, remoteState)
	if err != nil {
		return res, err
	}

	_, err = m.store.UpdatePage(notebookID, pageID, func(p *store.Page) { p.Content = merged })
	return res, err
}

// --- sentinel --------------------------------------------------------------

// SentinelChanged does a single HEAD against the library's sentinel and
// compares the returned ETag to libraryRoot's last-seen value (spec.md
// §4.10 "Sentinel-first polling"). It does not store the new ETag;
// ConfirmSentinel does that.
func (m *Manager) SentinelChanged(ctx context.Context, client *Client, libraryRoot string) (bool, error) {
	st, err := loadSentinelState(libraryRoot)
	if err != nil {
		return false, err
	}
	res, err := client.Head(ctx, "_sentinel")
	if err != nil {
		if core.IsNotFound(err) {
			return st.LastSeenETag != "", nil // never synced before: treat as "no changes yet"
		}
		return false, err
	}
	if res.ETag == st.LastSeenETag {
		return false, nil
	}
	return true, nil
}

// ConfirmSentinel persists the sentinel ETag as seen, called after a
// successful full sync (spec.md §4.10 step 12).
func (m *Manager) ConfirmSentinel(ctx context.Context, client *Client, libraryRoot string) error {
	res, err := client.Head(ctx, "_sentinel")
	if err != nil {
		if core.IsNotFound(err) {
			return nil
		}
		return err
	}
	return saveSentinelState(libraryRoot, &librarySentinelState{LastSeenETag: res.ETag})
}

func isConflictEncrypted(err error) bool {
	var e *core.Error
	return errors.As(err, &e) && e.Reason == core.ErrConflictEncrypted.Reason
}

func mustJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

func uuidMustParse(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil
	}
	return id
}

func parseRFC1123(s string) time.Time {
	t, err := time.Parse(time.RFC1123, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
