// Command nousd is the background daemon that drives storage, CRDT
// merging, WebDAV sync, the periodic sync scheduler, and the library file
// watcher over one library root (spec.md §4.5-§4.13). It replaces the
// WASM/JS bridge entrypoint a prior build of this tree shipped, which had
// no bearing on this module's storage/sync core; see DESIGN.md.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/erewhon/nous-sub001/pkg/core"
	"github.com/erewhon/nous-sub001/pkg/crdt"
	"github.com/erewhon/nous-sub001/pkg/encryption"
	"github.com/erewhon/nous-sub001/pkg/library"
	"github.com/erewhon/nous-sub001/pkg/log"
	"github.com/erewhon/nous-sub001/pkg/migration"
	"github.com/erewhon/nous-sub001/pkg/scheduler"
	"github.com/erewhon/nous-sub001/pkg/searchindex"
	"github.com/erewhon/nous-sub001/pkg/store"
	"github.com/erewhon/nous-sub001/pkg/syncclient"
	"github.com/erewhon/nous-sub001/pkg/syncconfig"
	"github.com/erewhon/nous-sub001/pkg/watcher"
)

// autoLockTimeout is how long an unlocked notebook/library key stays in
// memory with no activity (spec.md §4.6 "Key lifecycle").
const autoLockTimeout = 15 * time.Minute

func main() {
	appDir := flag.String("app-dir", defaultAppDir(), "directory holding libraries.json and current_library.json")
	logLevel := flag.String("log-level", "info", "debug, info, warn, or error")
	logJSON := flag.Bool("log-json", false, "emit structured JSON logs instead of console output")
	flag.Parse()

	log.Init(log.Config{Level: log.Level(*logLevel), JSONOutput: *logJSON})

	if err := run(*appDir); err != nil {
		log.Logger.Error().Err(err).Msg("nousd exited")
		os.Exit(1)
	}
}

func defaultAppDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir + "/nous"
	}
	return ".nous"
}

func run(appDir string) error {
	registry := library.NewRegistry(appDir)
	if err := registry.Bootstrap(appDir + "/default-library"); err != nil {
		return fmt.Errorf("bootstrap library registry: %w", err)
	}

	current, err := registry.Current()
	if err != nil {
		return fmt.Errorf("load current library: %w", err)
	}

	if err := migration.GlobalToLibrary(appDir, current.Path); err != nil {
		return fmt.Errorf("migrate global data into library: %w", err)
	}
	if err := migration.TmpVideos(current.Path); err != nil {
		return fmt.Errorf("migrate staged video assets: %w", err)
	}

	bus := core.NewBus()
	keys := encryption.NewManager(autoLockTimeout)
	st := store.New(current.Path, keys, bus)
	crdtStore := crdt.NewStore(current.Path)
	syncMgr := syncclient.NewManager(st, crdtStore, bus)

	index, err := searchindex.Open(current.Path + "/search_index/index.db")
	if err != nil {
		return fmt.Errorf("open search index: %w", err)
	}
	defer index.Close()

	writeTracker := watcher.NewWriteTracker()
	fileWatcher := watcher.New(current.Path, watcher.BusSink{Bus: bus}, writeTracker)

	src := &periodicSource{store: st, libraryID: current.ID.String(), libraryRoot: current.Path, librarySync: current.Sync}
	sched := scheduler.New(src, syncMgr)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		fileWatcher.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()

	log.Logger.Info().Str("library_id", current.ID.String()).Str("library_path", current.Path).Msg("nousd started")
	<-ctx.Done()
	log.Logger.Info().Msg("nousd shutting down")
	sched.Shutdown()
	wg.Wait()
	return nil
}

// periodicSource adapts the on-disk notebook/library sync configuration
// into scheduler.Target values, reread on every Tick so config edits made
// while the daemon runs take effect without a restart (spec.md §4.12
// step 1 "collect periodic-sync items").
type periodicSource struct {
	store       *store.Store
	libraryID   string
	libraryRoot string
	librarySync *syncconfig.LibrarySyncConfig
}

func (s *periodicSource) PeriodicTargets() []scheduler.Target {
	notebooks, err := s.store.ListNotebooks()
	if err != nil {
		log.Logger.Warn().Err(err).Msg("list notebooks for periodic sync")
		return nil
	}

	if s.librarySync != nil && s.librarySync.Enabled && s.librarySync.SyncModeValue == syncconfig.SyncPeriodic {
		var ids []uuid.UUID
		for _, nb := range notebooks {
			if !nb.Archived {
				ids = append(ids, nb.ID)
			}
		}
		client := syncclient.NewClient(s.librarySync.ServerURL, s.librarySync.AuthType, credentialsFromEnv())
		return []scheduler.Target{{
			ID:          s.libraryID,
			IsLibrary:   true,
			LibraryRoot: s.libraryRoot,
			NotebookIDs: ids,
			Client:      client,
			Interval:    s.librarySync.EffectiveInterval(),
			LastSync:    s.librarySync.LastSync,
		}}
	}

	var targets []scheduler.Target
	for _, nb := range notebooks {
		cfg := nb.SyncConfig
		if cfg == nil || !cfg.Enabled || cfg.ManagedByLibrary || cfg.SyncModeValue != syncconfig.SyncPeriodic {
			continue
		}
		client := syncclient.NewClient(cfg.ServerURL, cfg.AuthType, credentialsFromEnv())
		targets = append(targets, scheduler.Target{
			ID:          nb.ID.String(),
			NotebookIDs: []uuid.UUID{nb.ID},
			Client:      client,
			Interval:    cfg.EffectiveInterval(),
			LastSync:    cfg.LastSync,
		})
	}
	return targets
}

// credentialsFromEnv is a minimal stand-in for the OS secret store
// integration spec.md leaves outside this module's scope: it reads
// NOUS_SYNC_USERNAME/NOUS_SYNC_PASSWORD so the daemon is exercisable
// without a keychain dependency.
func credentialsFromEnv() syncconfig.Credentials {
	return syncconfig.Credentials{
		Username: os.Getenv("NOUS_SYNC_USERNAME"),
		Password: os.Getenv("NOUS_SYNC_PASSWORD"),
	}
}
