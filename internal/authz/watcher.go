package authz

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// PolicyWatcher reloads a PolicyAuthorizer when its policy file changes on disk.
// The file is only read. An update that fails to parse leaves the previous
// policies active.
type PolicyWatcher struct {
	path       string
	authorizer *PolicyAuthorizer
	watcher    *fsnotify.Watcher
	done       chan struct{}
}

// WatchPolicyFile starts watching path for a. The parent directory is watched
// so atomic replacements, such as ConfigMap symlink swaps, are observed.
func WatchPolicyFile(path string, a *PolicyAuthorizer) (*PolicyWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	path = filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch policy file %s: %w", path, err)
	}

	pw := &PolicyWatcher{path: path, authorizer: a, watcher: watcher, done: make(chan struct{})}
	go pw.run()
	slog.Info("Started watching policy file", "path", path)
	return pw, nil
}

func (pw *PolicyWatcher) run() {
	defer close(pw.done)
	for {
		select {
		case event, ok := <-pw.watcher.Events:
			if !ok {
				return
			}
			if !pw.affects(event) {
				continue
			}
			if err := pw.Reload(); err != nil {
				slog.Error("Failed to reload policies, keeping the previous set", "path", pw.path, "error", err)
			}
		case err, ok := <-pw.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Policy file watcher error", "path", pw.path, "error", err)
		}
	}
}

func (pw *PolicyWatcher) affects(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return false
	}
	// mounted ConfigMaps swap their ..data symlink instead of writing the file
	return filepath.Clean(event.Name) == pw.path || strings.HasPrefix(filepath.Base(event.Name), "..")
}

// Reload reads the policy file and applies it
func (pw *PolicyWatcher) Reload() error {
	data, err := os.ReadFile(pw.path)
	if err != nil {
		return fmt.Errorf("failed to read policy file: %w", err)
	}
	if err := pw.authorizer.SetPolicies(data); err != nil {
		return err
	}
	slog.Info("Policies reloaded", "path", pw.path)
	return nil
}

// Close stops the watcher
func (pw *PolicyWatcher) Close() error {
	err := pw.watcher.Close()
	<-pw.done
	if err != nil {
		return fmt.Errorf("failed to close policy watcher: %w", err)
	}
	return nil
}
