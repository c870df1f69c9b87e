package prefs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// File keeps preferences in a YAML document. Writes replace the file
// atomically; edits made by other processes are picked up through a
// directory watch and reported to subscribers.
type File struct {
	path string
	log  *slog.Logger

	mu     sync.Mutex
	values map[string]string
	subs   subscribers

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// OpenFile loads path, which may not exist yet, and starts watching it.
func OpenFile(path string) (*File, error) {
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create preferences dir: %w", ErrUnavailable, err)
	}
	values, err := readYAML(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: watch preferences: %w", ErrUnavailable, err)
	}
	// Watch the directory: atomic replaces swap the file's inode.
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("%w: watch preferences: %w", ErrUnavailable, err)
	}
	f := &File{
		path:    path,
		log:     slog.Default().With("component", "prefs", "path", path),
		values:  values,
		watcher: w,
		done:    make(chan struct{}),
	}
	go f.watch()
	return f, nil
}

func (f *File) Path() string { return f.path }

func readYAML(path string) (map[string]string, error) {
	values := make(map[string]string)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return values, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read preferences: %w", ErrUnavailable, err)
	}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("parse preferences %s: %w", path, err)
	}
	if values == nil {
		values = make(map[string]string)
	}
	return values, nil
}

func (f *File) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	return v, ok, nil
}

func (f *File) Set(_ context.Context, values map[string]string) error {
	f.mu.Lock()
	next := copyValues(f.values)
	for k, v := range values {
		next[k] = v
	}
	if err := f.writeLocked(next); err != nil {
		f.mu.Unlock()
		return err
	}
	changed := changedKeys(f.values, next)
	f.values = next
	f.mu.Unlock()
	f.subs.notify(changed...)
	return nil
}

func (f *File) Clear(context.Context) error {
	f.mu.Lock()
	if err := f.writeLocked(map[string]string{}); err != nil {
		f.mu.Unlock()
		return err
	}
	changed := changedKeys(f.values, nil)
	f.values = make(map[string]string)
	f.mu.Unlock()
	f.subs.notify(changed...)
	return nil
}

func (f *File) writeLocked(values map[string]string) error {
	data, err := yaml.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	if err := atomicWriteFile(f.path, data, 0o644); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

func (f *File) Subscribe(fn func(key string)) func() {
	return f.subs.add(fn)
}

func (f *File) watch() {
	defer close(f.done)
	for {
		select {
		case ev, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != f.path || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			f.reload()
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.log.Warn("watch preferences", "error", err)
		}
	}
}

// reload re-reads the document after an outside edit. Our own writes
// produce no changed keys.
func (f *File) reload() {
	f.mu.Lock()
	values, err := readYAML(f.path)
	if err != nil {
		f.mu.Unlock()
		f.log.Warn("reload preferences", "error", err)
		return
	}
	changed := changedKeys(f.values, values)
	f.values = values
	f.mu.Unlock()
	if len(changed) > 0 {
		f.log.Debug("preferences changed on disk", "keys", changed)
	}
	f.subs.notify(changed...)
}

func (f *File) Close() error {
	err := f.watcher.Close()
	<-f.done
	return err
}

// atomicWriteFile writes data next to filename and renames it into place.
func atomicWriteFile(filename string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(filename), ".catbike-prefs-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("writing to temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filename); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
