package qa

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher hot-reloads a PolicyGate's policy when the policy file
// changes. The parent directory is watched rather than the file itself
// because editors typically replace the file on save.
type Watcher struct {
	path    string
	gate    *PolicyGate
	logger  *zap.Logger
	watcher *fsnotify.Watcher
	stop    chan struct{}
}

// WatchPolicy starts watching path and swaps reloaded policies into
// gate. Call Close to stop watching.
func WatchPolicy(path string, gate *PolicyGate, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create policy watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	w := &Watcher{
		path:    filepath.Clean(path),
		gate:    gate,
		logger:  logger,
		watcher: fsw,
		stop:    make(chan struct{}),
	}
	go w.processEvents()
	return w, nil
}

func (w *Watcher) processEvents() {
	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("policy watcher error", zap.Error(err))
		}
	}
}

// reload swaps in the file's policy. A file that fails to load leaves
// the active policy in place.
func (w *Watcher) reload() {
	policy, err := LoadPolicy(w.path)
	if err != nil {
		w.logger.Warn("qa policy reload failed",
			zap.String("path", w.path),
			zap.Error(err),
		)
		return
	}
	w.gate.SetPolicy(policy)
	w.logger.Info("qa policy reloaded",
		zap.String("path", w.path),
		zap.Int("max_major_issues", policy.MaxMajorIssues),
		zap.Bool("fail_on_critical", policy.FailOnCritical),
	)
}

// Close stops the watcher and cleans up resources.
func (w *Watcher) Close() {
	select {
	case <-w.stop:
		return
	default:
		close(w.stop)
		_ = w.watcher.Close()
	}
}
