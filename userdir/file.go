package userdir

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// File is a Directory backed by a YAML users file:
//
//	users:
//	  - root
//	  - analytics
//
// Watch keeps the in-memory set current when the file is rewritten, so user
// provisioning does not require a service restart.
type File struct {
	path string
	log  *slog.Logger

	mu    sync.RWMutex
	users map[string]struct{}
}

var _ Directory = (*File)(nil)

type usersFile struct {
	Users []string `yaml:"users"`
}

func NewFile(path string, log *slog.Logger) (*File, error) {
	if log == nil {
		log = slog.Default()
	}
	f := &File{path: path, log: log}
	if err := f.reload(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) Exists(ctx context.Context, user string) (bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.users[user]
	return ok, nil
}

// Watch blocks until ctx is done, reloading the users file whenever it
// changes. Editors often replace files via rename, so the parent directory is
// watched rather than the file itself.
func (f *File) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("users file watcher: %w", err)
	}
	defer func() {
		// Best-effort watcher close; no actionable error handling path.
		_ = w.Close()
	}()

	if err := w.Add(filepath.Dir(f.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(f.path), err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(f.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := f.reload(); err != nil {
				// Keep serving the last good set.
				f.log.Warn("users file reload failed", slog.String("path", f.path), slog.String("err", err.Error()))
				continue
			}
			f.log.Info("users file reloaded", slog.String("path", f.path))
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			f.log.Warn("users file watcher error", slog.String("err", err.Error()))
		}
	}
}

func (f *File) reload() error {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("read users file: %w", err)
	}
	var parsed usersFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("parse users file: %w", err)
	}
	users := make(map[string]struct{}, len(parsed.Users))
	for _, u := range parsed.Users {
		users[u] = struct{}{}
	}
	f.mu.Lock()
	f.users = users
	f.mu.Unlock()
	return nil
}
