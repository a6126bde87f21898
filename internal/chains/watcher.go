package chains

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/fsnotify/fsnotify"

	"markovsim/internal/markov"
	"markovsim/internal/store"
)

// Watcher loads chain files from a directory into the store and keeps them
// registered under their base name as they are created or edited. Invalid
// files are logged and skipped.
type Watcher struct {
	Dir      string
	Store    store.ChainStore
	Registry *Registry
	Logger   *slog.Logger
	// OnLoad, when set, is called after a file has been stored and registered.
	OnLoad func(key string, c *markov.Chain)

	last map[string][]byte
	done chan struct{}
}

// Start scans the directory once and then watches it until ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	if w.Logger == nil {
		w.Logger = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(w.Dir); err != nil {
		fw.Close()
		return fmt.Errorf("watch %s: %w", w.Dir, err)
	}
	w.last = make(map[string][]byte)
	w.done = make(chan struct{})

	entries, err := os.ReadDir(w.Dir)
	if err != nil {
		fw.Close()
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && IsChainFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, n := range names {
		w.load(ctx, filepath.Join(w.Dir, n))
	}

	go w.loop(ctx, fw)
	w.Logger.Info("watching chain directory", "dir", w.Dir, "loaded", len(names))
	return nil
}

// Wait blocks until the watch loop has stopped.
func (w *Watcher) Wait() {
	if w.done != nil {
		<-w.done
	}
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher) {
	defer close(w.done)
	defer fw.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if !IsChainFile(ev.Name) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.load(ctx, ev.Name)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.Logger.Warn("chain watcher error", "err", err)
		}
	}
}

func (w *Watcher) load(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		w.Logger.Warn("cannot read chain file", "path", path, "err", err)
		return
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return
	}
	if prev, ok := w.last[path]; ok && bytes.Equal(prev, data) {
		return
	}
	c, err := Parse(filepath.Base(path), data)
	if err != nil {
		w.Logger.Warn("skipping invalid chain file", "path", path, "err", err)
		return
	}
	err = w.Store.CreateChain(ctx, c)
	if errors.Is(err, store.ErrDuplicateID) {
		// A file with a fixed id replaces its previous version.
		if _, err = w.Store.DeleteChain(ctx, c.ID()); err == nil {
			err = w.Store.CreateChain(ctx, c)
		}
	}
	if err != nil {
		w.Logger.Error("cannot store chain", "path", path, "err", err)
		return
	}
	w.last[path] = data
	key := Key(path)
	if prevID, ok := w.Registry.Lookup(key); ok && prevID != c.ID() {
		if _, err := w.Store.DeleteChain(ctx, prevID); err != nil {
			w.Logger.Warn("cannot remove previous chain version", "key", key, "chain_id", prevID, "err", err)
		}
	}
	w.Registry.Set(key, c.ID())
	w.Logger.Info("loaded chain file", "key", key, "chain_id", c.ID(), "states", c.Len())
	if w.OnLoad != nil {
		w.OnLoad(key, c)
	}
}
