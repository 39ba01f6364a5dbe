package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erewhon/nous-sub001/pkg/syncclient"
)

// fakeSyncer records every call it receives instead of doing network I/O.
type fakeSyncer struct {
	mu              sync.Mutex
	pushed, pulled  []uuid.UUID
	sentinelChanged bool
	confirmed       []string
}

func (f *fakeSyncer) Push(_ context.Context, _ *syncclient.Client, notebookID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed = append(f.pushed, notebookID)
	return nil
}

func (f *fakeSyncer) Pull(_ context.Context, _ *syncclient.Client, notebookID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulled = append(f.pulled, notebookID)
	return nil
}

func (f *fakeSyncer) SentinelChanged(_ context.Context, _ *syncclient.Client, _ string) (bool, error) {
	return f.sentinelChanged, nil
}

func (f *fakeSyncer) ConfirmSentinel(_ context.Context, _ *syncclient.Client, libraryRoot string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmed = append(f.confirmed, libraryRoot)
	return nil
}

type fakeSource struct {
	targets []Target
}

func (f *fakeSource) PeriodicTargets() []Target { return f.targets }

func TestTickSyncsDueNotebookTarget(t *testing.T) {
	nb := uuid.New()
	source := &fakeSource{targets: []Target{
		{ID: nb.String(), NotebookIDs: []uuid.UUID{nb}, Interval: time.Minute},
	}}
	fs := &fakeSyncer{}
	s := New(source, fs)

	next, err := s.Tick(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{nb}, fs.pushed)
	assert.Equal(t, []uuid.UUID{nb}, fs.pulled)
	assert.True(t, next.After(time.Now()))
}

func TestTickSkipsNotYetDueTarget(t *testing.T) {
	nb := uuid.New()
	now := time.Now()
	recent := now.Add(-time.Second)
	source := &fakeSource{targets: []Target{
		{ID: nb.String(), NotebookIDs: []uuid.UUID{nb}, Interval: time.Hour, LastSync: &recent},
	}}
	fs := &fakeSyncer{}
	s := New(source, fs)

	_, err := s.Tick(context.Background(), now)
	require.NoError(t, err)
	assert.Empty(t, fs.pushed)
}

func TestTickLibrarySentinelUnchangedSkipsNotebooks(t *testing.T) {
	nb := uuid.New()
	source := &fakeSource{targets: []Target{
		{ID: "lib1", IsLibrary: true, LibraryRoot: "/lib", NotebookIDs: []uuid.UUID{nb}, Interval: time.Minute},
	}}
	fs := &fakeSyncer{sentinelChanged: false}
	s := New(source, fs)

	_, err := s.Tick(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Empty(t, fs.pushed)
	assert.Empty(t, fs.confirmed)
}

func TestTickLibrarySentinelChangedSyncsAndConfirms(t *testing.T) {
	nb := uuid.New()
	source := &fakeSource{targets: []Target{
		{ID: "lib1", IsLibrary: true, LibraryRoot: "/lib", NotebookIDs: []uuid.UUID{nb}, Interval: time.Minute},
	}}
	fs := &fakeSyncer{sentinelChanged: true}
	s := New(source, fs)

	_, err := s.Tick(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{nb}, fs.pushed)
	assert.Equal(t, []string{"/lib"}, fs.confirmed)
}

func TestRemoteChangedForcesNextTickDue(t *testing.T) {
	now := time.Now()
	recent := now.Add(-time.Second)
	source := &fakeSource{targets: []Target{
		{ID: "lib1", IsLibrary: true, LibraryRoot: "/lib", Interval: time.Hour, LastSync: &recent},
	}}
	fs := &fakeSyncer{sentinelChanged: true}
	s := New(source, fs)

	_, err := s.Tick(context.Background(), now)
	require.NoError(t, err)
	assert.Empty(t, fs.confirmed, "not yet due, sentinel should not have been checked")

	s.mu.Lock()
	s.forceDue["lib1"] = true
	s.mu.Unlock()

	_, err = s.Tick(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, []string{"/lib"}, fs.confirmed)
}
