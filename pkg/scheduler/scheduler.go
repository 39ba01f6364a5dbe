// Package scheduler drives the periodic sync background task described in
// spec.md §4.12 (C11): collecting due libraries/notebooks, sleeping until
// the soonest one is due (capped at a fallback interval), and fanning the
// due items out through pkg/syncclient. Fan-out across independent remotes
// is exactly the bounded-concurrency shape internal/workerpool exists for,
// unlike pkg/syncclient's intra-notebook page loop, which shares mutable
// manifest/changelog state and stays sequential (see DESIGN.md).
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/erewhon/nous-sub001/internal/workerpool"
	"github.com/erewhon/nous-sub001/pkg/log"
	"github.com/erewhon/nous-sub001/pkg/syncclient"
	"github.com/erewhon/nous-sub001/pkg/syncconfig"
)

const component = "scheduler"

// FallbackInterval bounds how long the scheduler ever sleeps in one go, so
// a config reload is never delayed by more than this (spec.md §4.12 step 3).
const FallbackInterval = 60 * time.Second

// MaxConcurrentSyncs bounds how many due targets sync at once.
const MaxConcurrentSyncs = 4

// Syncer is the subset of *syncclient.Manager the scheduler drives;
// narrowed to an interface so tests can fake it without a real transport.
type Syncer interface {
	Push(ctx context.Context, client *syncclient.Client, notebookID uuid.UUID) error
	Pull(ctx context.Context, client *syncclient.Client, notebookID uuid.UUID) error
	SentinelChanged(ctx context.Context, client *syncclient.Client, libraryRoot string) (bool, error)
	ConfirmSentinel(ctx context.Context, client *syncclient.Client, libraryRoot string) error
}

// Target is one periodic-sync item the scheduler may trigger: either a
// single standalone notebook, or a whole library (sentinel-checked first,
// then every one of its notebooks synced if the sentinel moved).
type Target struct {
	ID          string // stable key for the last-checked map: notebook id or library id
	IsLibrary   bool
	LibraryRoot string // only set when IsLibrary; passed to SentinelChanged/ConfirmSentinel
	NotebookIDs []uuid.UUID
	Client      *syncclient.Client
	Interval    time.Duration
	LastSync    *time.Time
}

func (t Target) effectiveInterval() time.Duration {
	if t.Interval < syncconfig.MinSyncInterval {
		return syncconfig.MinSyncInterval
	}
	return t.Interval
}

// Source supplies the current periodic-sync targets each time the
// scheduler reloads its schedule (spec.md §4.12 step 1).
type Source interface {
	PeriodicTargets() []Target
}

// Scheduler runs Source's targets through Syncer on the schedule spec.md
// §4.12 describes. lastChecked is the in-memory "sentinel-negative check
// counts as checked recently" bookkeeping from step 2.
type Scheduler struct {
	source Source
	syncer Syncer
	log    zerolog.Logger

	mu          sync.Mutex
	lastChecked map[string]time.Time
	forceDue    map[string]bool

	reload        chan struct{}
	remoteChanged chan string
	shutdown      chan struct{}
}

// New builds a Scheduler over source (rescanned on every Reload and on
// every tick) and syncer (the concrete *syncclient.Manager in production).
func New(source Source, syncer Syncer) *Scheduler {
	return &Scheduler{
		source:        source,
		syncer:        syncer,
		log:           log.WithComponent(component),
		lastChecked:   make(map[string]time.Time),
		forceDue:      make(map[string]bool),
		reload:        make(chan struct{}, 1),
		remoteChanged: make(chan string, 1),
		shutdown:      make(chan struct{}, 1),
	}
}

// Reload asks the scheduler to recompute its due set on its next wakeup,
// without waiting for the current sleep timer to expire.
func (s *Scheduler) Reload() {
	select {
	case s.reload <- struct{}{}:
	default:
	}
}

// RemoteChanged triggers an immediate sync for libraryID — the
// push-notification path of spec.md §4.12 step 5.
func (s *Scheduler) RemoteChanged(libraryID string) {
	select {
	case s.remoteChanged <- libraryID:
	default:
	}
}

// Shutdown stops Run after the in-flight cycle (if any) completes; no new
// cycle starts after this is called (spec.md §5 "Cancellation").
func (s *Scheduler) Shutdown() {
	select {
	case s.shutdown <- struct{}{}:
	default:
	}
}

// nextDue computes when target is next due given now and the scheduler's
// lastChecked bookkeeping (spec.md §4.12 step 2).
func (s *Scheduler) nextDue(t Target, now time.Time) time.Time {
	s.mu.Lock()
	forced := s.forceDue[t.ID]
	if forced {
		delete(s.forceDue, t.ID)
	}
	s.mu.Unlock()
	if forced {
		return now.Add(-time.Second)
	}

	effectiveLast := now.Add(-t.effectiveInterval()) // default: already due
	if t.LastSync != nil && t.LastSync.After(effectiveLast) {
		effectiveLast = *t.LastSync
	}
	s.mu.Lock()
	if lc, ok := s.lastChecked[t.ID]; ok && lc.After(effectiveLast) {
		effectiveLast = lc
	}
	s.mu.Unlock()
	return effectiveLast.Add(t.effectiveInterval())
}

// Tick runs one scheduling pass: determine due targets among those source
// currently reports and sync each, bounded to MaxConcurrentSyncs at a time.
// It returns the soonest next-due time across all targets, for Run to sleep
// until (capped by the caller at FallbackInterval).
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (time.Time, error) {
	targets := s.source.PeriodicTargets()
	soonest := now.Add(FallbackInterval)

	var due []Target
	for _, t := range targets {
		d := s.nextDue(t, now)
		if d.After(now) {
			if d.Before(soonest) {
				soonest = d
			}
			continue
		}
		due = append(due, t)
	}

	err := workerpool.Run(ctx, MaxConcurrentSyncs, due, func(ctx context.Context, t Target) error {
		return s.syncOne(ctx, t, now)
	})
	return soonest, err
}

func (s *Scheduler) syncOne(ctx context.Context, t Target, checkedAt time.Time) error {
	if t.IsLibrary {
		changed, err := s.syncer.SentinelChanged(ctx, t.Client, t.LibraryRoot)
		if err != nil {
			s.log.Warn().Err(err).Str("library_id", t.ID).Msg("sentinel check failed")
			return err
		}
		s.markChecked(t.ID, checkedAt)
		if !changed {
			return nil
		}
		for _, nb := range t.NotebookIDs {
			if err := s.syncNotebook(ctx, t.Client, nb); err != nil {
				return err
			}
		}
		return s.syncer.ConfirmSentinel(ctx, t.Client, t.LibraryRoot)
	}

	s.markChecked(t.ID, checkedAt)
	for _, nb := range t.NotebookIDs {
		if err := s.syncNotebook(ctx, t.Client, nb); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) syncNotebook(ctx context.Context, client *syncclient.Client, notebookID uuid.UUID) error {
	if err := s.syncer.Push(ctx, client, notebookID); err != nil {
		return err
	}
	return s.syncer.Pull(ctx, client, notebookID)
}

func (s *Scheduler) markChecked(id string, at time.Time) {
	s.mu.Lock()
	s.lastChecked[id] = at
	s.mu.Unlock()
}

// Run loops Tick until ctx is canceled or Shutdown is called, sleeping
// between ticks for whatever Tick reports as the soonest due time, woken
// early by Reload or RemoteChanged (spec.md §4.12 step 5).
func (s *Scheduler) Run(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		case <-timer.C:
		case <-s.reload:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case libID := <-s.remoteChanged:
			s.mu.Lock()
			s.forceDue[libID] = true
			s.mu.Unlock()
		}

		next, err := s.Tick(ctx, time.Now().UTC())
		if err != nil {
			s.log.Warn().Err(err).Msg("sync cycle failed")
		}

		d := time.Until(next)
		if d <= 0 {
			d = time.Millisecond
		}
		if d > FallbackInterval {
			d = FallbackInterval
		}
		timer.Reset(d)
	}
}
