package indexer

import (
	"context"
	"testing"
	"time"

	"github.com/arborist-dev/arborist/internal/config"
	"github.com/arborist-dev/arborist/internal/projects"
)

func TestNewWatcher_PollingModeSkipsFsnotify(t *testing.T) {
	cfg := &config.Config{Watch: config.WatchConfig{UsePolling: true, PollingInterval: 10 * time.Millisecond}}
	source := &projects.ProjectSource{Path: t.TempDir(), Alias: "poll-test"}

	w, err := NewWatcher(nil, cfg, nil, "project-1", source)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if !w.polling {
		t.Error("expected polling mode")
	}
	if w.fsWatcher != nil {
		t.Error("expected no fsnotify watcher to be created in polling mode")
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close should be a no-op in polling mode, got %v", err)
	}
}

func TestWatcher_RunPolling_StopsOnContextCancel(t *testing.T) {
	cfg := &config.Config{Watch: config.WatchConfig{UsePolling: true, PollingInterval: 5 * time.Millisecond, Silent: true}}
	source := &projects.ProjectSource{Path: t.TempDir(), Alias: "poll-test", ID: "missing-source"}

	w, err := NewWatcher(nil, cfg, nil, "project-1", source)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := w.Run(ctx); err != context.DeadlineExceeded {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
}
