package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	pages      map[string][]string
	inboxCount int
	goalsCount int
}

func newFakeSink() *fakeSink { return &fakeSink{pages: make(map[string][]string)} }

func (f *fakeSink) PagesUpdated(notebookID string, pageIDs []string) {
	f.pages[notebookID] = append(f.pages[notebookID], pageIDs...)
}
func (f *fakeSink) InboxUpdated() { f.inboxCount++ }
func (f *fakeSink) GoalsUpdated() { f.goalsCount++ }

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestClassify(t *testing.T) {
	c, ok := classify("notebooks/nb1/pages/pg1.json")
	require.True(t, ok)
	assert.Equal(t, KindPage, c.Kind)
	assert.Equal(t, "nb1", c.NotebookID)
	assert.Equal(t, "pg1", c.PageID)

	c, ok = classify("inbox/item1.json")
	require.True(t, ok)
	assert.Equal(t, KindInbox, c.Kind)

	c, ok = classify("goals/goals.json")
	require.True(t, ok)
	assert.Equal(t, KindGoals, c.Kind)

	c, ok = classify("goals/progress/goal1.json")
	require.True(t, ok)
	assert.Equal(t, KindGoals, c.Kind)

	_, ok = classify("notebooks/nb1/pages/pg1.json.tmp")
	assert.False(t, ok)

	_, ok = classify("notebooks/nb1/assets/img.png")
	assert.False(t, ok)
}

func TestPollOnceDetectsNewPage(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "notebooks/nb1/pages/pg1.json", `{}`)

	sink := newFakeSink()
	w := New(root, sink, NewWriteTracker())
	w.pollOnce(time.Now())

	assert.Equal(t, []string{"pg1"}, sink.pages["nb1"])
}

func TestPollOnceSuppressesSelfWrite(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "notebooks/nb1/pages/pg1.json", `{}`)

	tracker := NewWriteTracker()
	tracker.RecordWrite("notebooks/nb1/pages/pg1.json")

	sink := newFakeSink()
	w := New(root, sink, tracker)
	w.pollOnce(time.Now())

	assert.Empty(t, sink.pages)
}

func TestPollOnceMutesCategoryAfterEmit(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "notebooks/nb1/pages/pg1.json", `{}`)

	sink := newFakeSink()
	w := New(root, sink, NewWriteTracker())
	now := time.Now()
	w.pollOnce(now)
	require.Len(t, sink.pages["nb1"], 1)

	// A second change to the same notebook within the cooldown window
	// must not produce a second dispatch.
	time.Sleep(10 * time.Millisecond)
	writeFile(t, root, "notebooks/nb1/pages/pg2.json", `{}`)
	w.pollOnce(now.Add(time.Second))

	assert.Len(t, sink.pages["nb1"], 1, "still muted within the 5s cooldown")
}

func TestPollOnceIgnoresUnchangedFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "notebooks/nb1/pages/pg1.json", `{}`)

	sink := newFakeSink()
	w := New(root, sink, NewWriteTracker())
	now := time.Now()
	w.pollOnce(now)
	require.Len(t, sink.pages["nb1"], 1)

	// Force the cooldown to have elapsed, but the file itself never
	// changed again: no new event should fire.
	w.cooldownTill["page:nb1"] = now.Add(-time.Hour)
	sink.pages = make(map[string][]string)
	w.pollOnce(now.Add(10 * time.Second))

	assert.Empty(t, sink.pages)
}
