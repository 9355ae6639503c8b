package remediation

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

// RunbookWatcher reloads a RuleEngine when its runbook file changes.
type RunbookWatcher struct {
	watcher  *fsnotify.Watcher
	engine   *RuleEngine
	logger   *slog.Logger
	debounce time.Duration
}

// NewRunbookWatcher watches the engine's runbook file.
func NewRunbookWatcher(engine *RuleEngine, logger *slog.Logger) (*RunbookWatcher, error) {
	if engine == nil || engine.Path() == "" {
		return nil, fmt.Errorf("runbook engine has no backing file")
	}
	if _, err := os.Stat(engine.Path()); err != nil {
		return nil, fmt.Errorf("runbook file: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(engine.Path()); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", engine.Path(), err)
	}
	return &RunbookWatcher{watcher: watcher, engine: engine, logger: logger, debounce: 500 * time.Millisecond}, nil
}

// Run watches for changes until ctx is cancelled.
func (w *RunbookWatcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(w.debounce, func() {
					if err := w.engine.Reload(); err != nil {
						w.logger.Error("runbook reload failed", slog.Any("error", err))
						return
					}
					w.logger.Info("runbooks reloaded", slog.String("path", w.engine.Path()))
				})
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("runbook watcher error", slog.Any("error", err))
		}
	}
}
