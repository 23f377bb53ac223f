// Package watch publishes file-change notifications for a worker's
// script root onto the event bus. It only watches and publishes: the
// extension filtering and 300 ms debounce that decide when a change
// becomes a restart live in pkg/channel, which is the only consumer of
// the events this package produces.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/fnchannel/pkg/channel"
	"github.com/cuemby/fnchannel/pkg/eventbus"
	"github.com/cuemby/fnchannel/pkg/log"
	"github.com/fsnotify/fsnotify"
)

// Watcher watches one directory tree and republishes every fsnotify
// event under it as a channel.FileEvent on the bus.
type Watcher struct {
	workerID string
	root     string
	bus      *eventbus.Bus
}

// New returns a Watcher for root, scoped to workerID, publishing on
// bus. Call Start to begin watching.
func New(bus *eventbus.Bus, workerID, root string) *Watcher {
	return &Watcher{workerID: workerID, root: root, bus: bus}
}

// Start adds every directory under root to an fsnotify watcher and
// runs the publish loop until ctx is cancelled. The initial directory
// walk errors are returned; errors surfacing later from fsnotify
// itself are logged and otherwise swallowed, since a watch error on
// one path should not tear down the whole channel.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := addTree(fsw, w.root); err != nil {
		fsw.Close()
		return err
	}

	go w.run(ctx, fsw)
	return nil
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher) {
	defer fsw.Close()

	logger := log.WithWorkerID(w.workerID)

	for {
		select {
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.bus.Publish(channel.FileEvent{
				WorkerID:  w.workerID,
				Path:      event.Name,
				Timestamp: time.Now(),
			})

			if event.Op&fsnotify.Create == fsnotify.Create {
				if isDir(event.Name) {
					if err := fsw.Add(event.Name); err != nil {
						logger.Warn().Err(err).Str("path", event.Name).Msg("failed to watch new directory")
					}
				}
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			logger.Warn().Err(err).Msg("file watcher error")
		case <-ctx.Done():
			return
		}
	}
}

// addTree adds root and every directory beneath it to fsw. fsnotify
// watches are not recursive, so each subdirectory needs its own Add.
func addTree(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fsw.Add(path)
		}
		return nil
	})
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
