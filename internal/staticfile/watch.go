package staticfile

import (
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watcher logs write, rename, or remove events under a resource root and
// passes the changed path to a callback. Nothing in the core reactor depends
// on it: it is a supplemental feature (see SPEC_FULL.md section 6.5) that
// callers may enable with -watchStatic. It holds no mappings and invalidates
// nothing itself; the core re-maps a file fresh on every request, so served
// content does not depend on whether an fsnotify event arrives.
type Watcher struct {
	fsw      *fsnotify.Watcher
	log      *slog.Logger
	onChange func(path string)
}

// NewWatcher starts watching root for filesystem events. onChange is called
// (from the watcher's own goroutine) with the changed file's path.
func NewWatcher(root string, log *slog.Logger, onChange func(path string)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(root); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{fsw: fsw, log: log, onChange: onChange}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				w.log.Debug("static file changed", "path", ev.Name, "op", ev.Op.String())
				if w.onChange != nil {
					w.onChange(ev.Name)
				}
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("static file watcher error", "error", err)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
