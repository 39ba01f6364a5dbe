package syncconfig

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncConfigEffectiveIntervalDefaultsAndClamps(t *testing.T) {
	c := SyncConfig{}
	assert.Equal(t, MinSyncInterval, c.EffectiveInterval())

	small := 5 * time.Second
	c.SyncInterval = &small
	assert.Equal(t, MinSyncInterval, c.EffectiveInterval())

	big := 10 * time.Minute
	c.SyncInterval = &big
	assert.Equal(t, big, c.EffectiveInterval())
}

func TestChangelogAppendAllocatesMonotonicSeq(t *testing.T) {
	cl := NewChangelog(uuid.New())
	e1 := cl.Append("client-a", ChangeUpdated, "page-1", time.Now())
	e2 := cl.Append("client-b", ChangeUpdated, "page-2", time.Now())

	assert.Equal(t, uint64(1), e1.Seq)
	assert.Equal(t, uint64(2), e2.Seq)
	assert.Equal(t, uint64(3), cl.NextSeq)
}

func TestChangelogEntriesSinceExcludesOriginatingClient(t *testing.T) {
	cl := NewChangelog(uuid.New())
	cl.Append("client-a", ChangeUpdated, "page-1", time.Now())
	cl.Append("client-b", ChangeUpdated, "page-2", time.Now())
	cl.Append("client-a", ChangeDeleted, "page-3", time.Now())

	got := cl.EntriesSince(0, "client-a")
	require.Len(t, got, 1)
	assert.Equal(t, "page-2", got[0].PageID)
}

func TestChangelogEntriesSinceRespectsSeqFloor(t *testing.T) {
	cl := NewChangelog(uuid.New())
	cl.Append("client-a", ChangeUpdated, "page-1", time.Now())
	cl.Append("client-a", ChangeUpdated, "page-2", time.Now())

	got := cl.EntriesSince(1, "other-client")
	require.Len(t, got, 1)
	assert.Equal(t, "page-2", got[0].PageID)
}

func TestCollapseKeepsLastOpPerPage(t *testing.T) {
	entries := []ChangelogEntry{
		{Seq: 1, PageID: "p1", Op: ChangeUpdated},
		{Seq: 2, PageID: "p1", Op: ChangeDeleted},
		{Seq: 3, PageID: "p2", Op: ChangeUpdated},
	}
	collapsed := Collapse(entries)
	require.Len(t, collapsed, 2)
	assert.Equal(t, ChangeDeleted, collapsed["p1"].Op)
	assert.Equal(t, ChangeUpdated, collapsed["p2"].Op)
}

func TestChangelogCompactDropsOlderEntries(t *testing.T) {
	cl := NewChangelog(uuid.New())
	for i := 0; i < 5; i++ {
		cl.Append("client-a", ChangeUpdated, "page", time.Now())
	}
	cl.Compact(2)
	require.Len(t, cl.Entries, 2)
	assert.Equal(t, uint64(4), cl.Entries[0].Seq)
	assert.Equal(t, uint64(5), cl.Entries[1].Seq)
	// NextSeq keeps advancing regardless of compaction.
	assert.Equal(t, uint64(6), cl.NextSeq)
}

func TestChangelogCompactNoopWhenShort(t *testing.T) {
	cl := NewChangelog(uuid.New())
	cl.Append("client-a", ChangeUpdated, "page", time.Now())
	cl.Compact(10)
	assert.Len(t, cl.Entries, 1)
}

func TestNewManifestStartsEmpty(t *testing.T) {
	m := NewManifest(uuid.New())
	assert.Empty(t, m.Pages)
	assert.Empty(t, m.PageStateVectors)
	assert.Equal(t, 0, m.Version)
}
