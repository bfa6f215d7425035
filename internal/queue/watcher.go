package queue

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// settleDelay gives the writer time to finish before the file is enqueued.
const settleDelay = 500 * time.Millisecond

// Watcher enqueues CSV files that appear in a directory.
type Watcher struct {
	dir     string
	queue   *Queue
	watcher *fsnotify.Watcher
}

// NewWatcher creates a watcher on dir feeding q.
func NewWatcher(dir string, q *Queue) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, eris.Wrap(err, "queue: create watcher")
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, eris.Wrapf(err, "queue: watch %s", dir)
	}
	return &Watcher{dir: dir, queue: q, watcher: fw}, nil
}

// ScanExisting enqueues CSV files already present in the directory.
func (w *Watcher) ScanExisting() error {
	matches, err := filepath.Glob(filepath.Join(w.dir, "*.csv"))
	if err != nil {
		return eris.Wrap(err, "queue: scan existing")
	}
	for _, path := range matches {
		w.queue.Add(path)
	}
	return nil
}

// Run consumes filesystem events until the context is canceled. Create and
// rename events for *.csv files are enqueued after a settle delay.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	zap.L().Info("queue: watching directory", zap.String("dir", w.dir))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			if !strings.EqualFold(filepath.Ext(event.Name), ".csv") {
				continue
			}
			select {
			case <-time.After(settleDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
			w.queue.Add(event.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			zap.L().Warn("queue: watcher error", zap.Error(err))
		}
	}
}
