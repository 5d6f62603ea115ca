package spread

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultDebounce is how long the watcher waits for further filesystem events
// before reloading, so a multi-file save triggers one reload, not several.
const defaultDebounce = 250 * time.Millisecond

// Watcher reloads a catalog when its directory changes on disk.
type Watcher struct {
	catalog  *Catalog
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *slog.Logger
}

// NewWatcher creates a watcher for the catalog's directory. The catalog must
// have a non-empty directory.
func NewWatcher(catalog *Catalog, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(catalog.dir); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{
		catalog:  catalog,
		watcher:  fsw,
		debounce: defaultDebounce,
		logger:   logger,
	}, nil
}

// Run processes filesystem events until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var timer *time.Timer
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !isSpreadFile(event.Name) {
				continue
			}
			w.logger.Debug("spread catalog change detected", "path", event.Name, "op", event.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			pending = timer.C

		case <-pending:
			pending = nil
			if err := w.catalog.Reload(); err != nil {
				w.logger.Error("spread catalog reload failed", "error", err)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("spread watcher error", "error", err)
		}
	}
}

func isSpreadFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
