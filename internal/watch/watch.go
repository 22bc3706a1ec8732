// pattern: Imperative Shell

package watch

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"tangld/internal/logging"
)

// debounceWindow coalesces editor save bursts into one rebuild.
const debounceWindow = 250 * time.Millisecond

// Watcher observes a source tree and invokes a callback after changes
// settle. Subdirectories are watched recursively, including ones created
// while watching.
type Watcher struct {
	dir      string
	onChange func()
	logger   *logging.ScopedLogger
	fsw      *fsnotify.Watcher
}

// New creates a watcher over dir. onChange runs on the watcher goroutine;
// it should not block for long.
func New(dir string, onChange func(), logger *logging.ScopedLogger) (*Watcher, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{dir: dir, onChange: onChange, logger: logger, fsw: fsw}
	if err := w.addRecursive(dir); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// Run blocks, delivering debounced change notifications until the context
// is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.fsw.Close() }()

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if w.ignored(event.Name) {
				continue
			}
			// New directories need their own watch before their first file
			// event can be seen.
			if event.Op.Has(fsnotify.Create) {
				_ = w.addRecursive(event.Name)
			}
			w.logger.Debug("source change", "path", event.Name, "op", event.Op.String())
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
				fire = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounceWindow)
			}

		case <-fire:
			timer = nil
			fire = nil
			w.logger.Info("source tree changed, rebuilding")
			w.onChange()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

// addRecursive watches path and every directory below it. Non-directories
// are ignored; fsnotify watches the containing directory for them.
func (w *Watcher) addRecursive(path string) error {
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // entry vanished mid-walk; events will catch up
		}
		if !d.IsDir() {
			return nil
		}
		if w.ignored(p) && p != w.dir {
			return filepath.SkipDir
		}
		return w.fsw.Add(p)
	})
}

// ignored filters hidden files and directories out of the change stream.
func (w *Watcher) ignored(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".") && base != "." && base != ".."
}
