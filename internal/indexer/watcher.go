package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jackc/pgx/v5/pgxpool"
	openai "github.com/sashabaranov/go-openai"

	"github.com/arborist-dev/arborist/internal/config"
	"github.com/arborist-dev/arborist/internal/projects"
)

// compilerConfigFiles are never watched — spec.md §4.8 requires a restart to
// pick up changes to the project's own compiler configuration.
var compilerConfigFiles = map[string]bool{
	"tsconfig.json": true,
	"jsconfig.json": true,
}

// Watcher debounces filesystem events for a single source and routes them
// through the same manifest-driven sync path used at startup. On network and
// virtualized filesystems (NFS mounts, some Docker bind mounts) the OS-level
// events fsnotify relies on are unreliable or absent entirely, so
// cfg.Watch.UsePolling switches it to a ticker that re-runs the same
// manifest diff on a fixed interval instead (spec.md §4.8).
type Watcher struct {
	pool      *pgxpool.Pool
	cfg       *config.Config
	oaiClient *openai.Client
	projectID string
	source    *projects.ProjectSource

	polling   bool
	fsWatcher *fsnotify.Watcher
	mu        sync.Mutex
	timer     *time.Timer
}

// NewWatcher creates a watcher for source. In the default fsnotify mode it
// adds every directory under source.Path (respecting the crawler's own skip
// rules) to the underlying fsnotify watcher; in polling mode (cfg.Watch.
// UsePolling) no fsnotify watcher is created at all, since nothing will ever
// read from it.
func NewWatcher(pool *pgxpool.Pool, cfg *config.Config, oaiClient *openai.Client, projectID string, source *projects.ProjectSource) (*Watcher, error) {
	w := &Watcher{
		pool:      pool,
		cfg:       cfg,
		oaiClient: oaiClient,
		projectID: projectID,
		source:    source,
		polling:   cfg.Watch.UsePolling,
	}

	if w.polling {
		return w, nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	w.fsWatcher = fw

	if err := w.addDirs(); err != nil {
		fw.Close()
		return nil, err
	}

	return w, nil
}

// addDirs walks the source tree and registers every non-skipped directory
// with the underlying fsnotify watcher, since fsnotify only watches the
// directories it's explicitly told about (not recursively).
func (w *Watcher) addDirs() error {
	crawlResult, err := CrawlDirectory(w.source.Path, w.source.IsCode)
	if err != nil {
		return fmt.Errorf("crawling for watch setup: %w", err)
	}

	dirs := map[string]bool{w.source.Path: true}
	for _, f := range crawlResult.Files {
		dirs[filepath.Dir(f.AbsPath)] = true
	}

	for dir := range dirs {
		if err := w.fsWatcher.Add(dir); err != nil {
			slog.Warn("failed to watch directory", "dir", dir, "error", err)
		}
	}
	return nil
}

// Run blocks until ctx is cancelled, driving sync passes either off fsnotify
// events (debounced via cfg.Watch.Debounce, default 300ms) or, in polling
// mode, off a fixed-interval ticker (cfg.Watch.PollingInterval, default 2s).
func (w *Watcher) Run(ctx context.Context) error {
	if w.polling {
		return w.runPolling(ctx)
	}
	return w.runFsnotify(ctx)
}

func (w *Watcher) runFsnotify(ctx context.Context) error {
	defer w.fsWatcher.Close()

	debounce := w.cfg.Watch.Debounce
	if debounce <= 0 {
		debounce = 300 * time.Millisecond
	}

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
			return ctx.Err()

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, event, debounce)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			if !w.cfg.Watch.Silent {
				slog.Warn("watcher error", "source", w.source.Alias, "error", err)
			}
		}
	}
}

// runPolling re-runs the manifest diff on a fixed interval instead of
// reacting to OS filesystem events, for sources on network or virtualized
// filesystems where those events are unreliable.
func (w *Watcher) runPolling(ctx context.Context) error {
	interval := w.cfg.Watch.PollingInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if !w.cfg.Watch.Silent {
		slog.Info("watcher polling enabled", "source", w.source.Alias, "interval", interval)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.runSync(ctx)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event, debounce time.Duration) {
	if strings.HasPrefix(filepath.Base(event.Name), ".") {
		return
	}
	if compilerConfigFiles[filepath.Base(event.Name)] {
		slog.Info("compiler config changed, restart required to pick it up", "file", event.Name)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounce, func() {
		w.runSync(ctx)
	})
}

func (w *Watcher) runSync(ctx context.Context) {
	result, err := SyncSource(ctx, w.pool, w.cfg, w.oaiClient, w.projectID, w.source)
	if err != nil {
		slog.Error("watcher-triggered sync failed", "source", w.source.Alias, "error", err)
		return
	}
	if !w.cfg.Watch.Silent {
		slog.Info("watcher-triggered sync complete",
			"source", w.source.Alias,
			"added", result.Added,
			"stale", result.Stale,
			"deleted", result.Deleted,
			"nodes", result.NodesUpserted,
		)
	}
}

// Close stops the underlying fsnotify watcher. A no-op in polling mode,
// where there is no fsnotify watcher to close.
func (w *Watcher) Close() error {
	if w.fsWatcher == nil {
		return nil
	}
	return w.fsWatcher.Close()
}
