package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/imthebreezy247/unison-sub001/internal/config"
	"github.com/imthebreezy247/unison-sub001/internal/extract"
	"github.com/imthebreezy247/unison-sub001/internal/model"
	"github.com/imthebreezy247/unison-sub001/internal/store"
	"github.com/imthebreezy247/unison-sub001/internal/unison"
)

// App is the application layer between the CLI and the sync machinery.
// It constructs all dependencies from config, exposes high-level operations,
// and manages the store lifecycle on Close.
type App struct {
	cfg         *config.Config
	store       *store.Store
	reconciler  *unison.Reconciler
	coordinator *unison.Coordinator
	logger      unison.Logger
	logFile     *os.File
}

// NewApp creates a fully wired App from the given config.
// operation identifies the CLI command being run (e.g. "Sync", "Cleanup").
// The caller must call Close when done.
func NewApp(cfg *config.Config, operation string) (*App, error) {
	st, err := store.NewStoreFromConfig(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("creating store: %w", err)
	}

	if err := st.CheckMigrations(); err != nil {
		st.Close()
		return nil, fmt.Errorf("store schema out of date at %s: %w", st.Path(), err)
	}

	opID := time.Now().UTC().Format("20060102T150405Z")
	slogger, logFile, err := newLogger(cfg.LogDir, opID)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger.With("op", operation)}

	reconciler := unison.NewReconciler(st, logger, unison.RealClock{}, cfg.DedupWindow())
	coordinator := unison.NewCoordinator(reconciler, st, logger, unison.RealClock{}, unison.UUIDGenerator{}, cooldownsFromConfig(cfg.Sync))

	return &App{
		cfg:         cfg,
		store:       st,
		reconciler:  reconciler,
		coordinator: coordinator,
		logger:      logger,
		logFile:     logFile,
	}, nil
}

func cooldownsFromConfig(sync config.SyncConfig) map[model.Category]time.Duration {
	return map[model.Category]time.Duration{
		model.CategoryContacts: time.Duration(sync.ContactsCooldownSeconds) * time.Second,
		model.CategoryMessages: time.Duration(sync.MessagesCooldownSeconds) * time.Second,
		model.CategoryCalls:    time.Duration(sync.CallsCooldownSeconds) * time.Second,
	}
}

// Store exposes the underlying store for the query surface.
func (a *App) Store() unison.Store { return a.store }

// StorePath reports the backing store location for startup logging.
func (a *App) StorePath() string { return a.store.Path() }

// Coordinator exposes the sync coordinator for the server and watcher.
func (a *App) Coordinator() *unison.Coordinator { return a.coordinator }

// Logger exposes the wired logger.
func (a *App) Logger() unison.Logger { return a.logger }

// openSource opens the sync source described by the flags: a bare source
// database when dbPath is set, otherwise the backup container at backupRoot
// (falling back to the configured root).
func (a *App) openSource(backupRoot, dbPath string, category model.Category) (unison.Source, error) {
	if dbPath != "" {
		return extract.NewFileSource(dbPath, category)
	}
	root := backupRoot
	if root == "" {
		root = a.cfg.Backup.Root
	}
	if root == "" {
		return nil, fmt.Errorf("no backup root configured and none given")
	}
	return extract.NewBackupSource(root)
}

// Sync runs a single-category sync from the backup container at backupRoot,
// or from a bare source database when dbPath is set.
func (a *App) Sync(ctx context.Context, category model.Category, backupRoot, dbPath string) (*unison.ImportResult, error) {
	src, err := a.openSource(backupRoot, dbPath, category)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return a.coordinator.StartSync(ctx, category, src)
}

// SyncAll runs every category in sequence against the backup container.
func (a *App) SyncAll(ctx context.Context, backupRoot string) (map[model.Category]*unison.ImportResult, error) {
	src, err := a.openSource(backupRoot, "", "")
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return a.coordinator.SyncAll(ctx, src)
}

// Inspect reads the manifest of the backup container at backupRoot without
// importing anything.
func (a *App) Inspect(backupRoot string) (model.Manifest, error) {
	src, err := a.openSource(backupRoot, "", "")
	if err != nil {
		return model.Manifest{}, err
	}
	defer src.Close()
	return src.Manifest(), nil
}

// Cleanup removes duplicate messages and repairs thread aggregates,
// regardless of coordinator state. Returns the number of removed messages.
func (a *App) Cleanup(ctx context.Context) (int64, error) {
	return a.coordinator.EmergencyCleanup(ctx)
}

// Threads returns a page of conversation threads, most recently active first.
func (a *App) Threads(ctx context.Context, limit, offset int) ([]*model.Thread, int64, error) {
	return a.store.ListThreads(ctx, limit, offset)
}

// Messages returns a page of a thread's messages in chronological order.
func (a *App) Messages(ctx context.Context, key string, limit, offset int) ([]*model.Message, int64, error) {
	return a.store.ListMessages(ctx, key, limit, offset)
}

// MarkRead marks every message in the thread as read.
func (a *App) MarkRead(ctx context.Context, key string) error {
	return a.store.MarkThreadRead(ctx, key)
}

// Export writes the thread's full transcript to w as tab-separated text.
func (a *App) Export(ctx context.Context, key string, w io.Writer) error {
	return unison.ExportThread(ctx, a.store, key, w)
}

// History returns the most recent sync runs.
func (a *App) History(ctx context.Context, limit int) ([]*model.SyncRun, error) {
	return a.store.ListSyncRuns(ctx, limit)
}

// Close closes the store and the log file.
func (a *App) Close() error {
	var firstErr error
	if err := a.store.Close(); err != nil {
		firstErr = fmt.Errorf("closing store: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
