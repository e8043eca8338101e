// Package importer loads a directory on disk into the workbench and keeps
// following changes to it.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/petervdpas/protobench/internal/content"
	"github.com/petervdpas/protobench/internal/util"
	"github.com/petervdpas/protobench/internal/workbench"
)

// Target receives imported files. *workbench.Workbench implements it.
type Target interface {
	Tree() *content.Tree
	Create(parentPath, name string, kind content.Kind) (*content.Node, error)
	Delete(id string) (*content.Node, error)
	UploadFiles(ctx context.Context, parentPath string, sources []content.UploadSource) (*workbench.UploadBatch, error)
}

const DefaultSettle = 100 * time.Millisecond

type Options struct {
	// Skip lists base names never imported. Dot-names are always skipped.
	Skip []string
	// Mirror deletes tree nodes when their file is removed on disk.
	Mirror bool
	// Settle is how long the watcher waits for a burst of events to end.
	Settle time.Duration
}

// Report summarizes an import.
type Report struct {
	Folders int `json:"folders"`
	Files   int `json:"files"`
	// Kept counts files whose tree copy is at least as new as the disk copy.
	Kept   int                      `json:"kept"`
	Failed []workbench.UploadResult `json:"failed,omitempty"`
}

type Importer struct {
	dir    string
	target Target
	opts   Options
	skip   map[string]bool

	mu      sync.Mutex
	pending map[string]fsnotify.Op
	settle  *util.Debouncer
	watcher *fsnotify.Watcher
	ctx     context.Context
	closed  chan struct{}
	done    chan struct{}
}

func New(dir string, target Target, opts Options) *Importer {
	if opts.Settle <= 0 {
		opts.Settle = DefaultSettle
	}
	skip := map[string]bool{"node_modules": true}
	for _, s := range opts.Skip {
		skip[s] = true
	}
	im := &Importer{
		dir:     dir,
		target:  target,
		opts:    opts,
		skip:    skip,
		pending: make(map[string]fsnotify.Op),
		closed:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	im.settle = util.NewDebouncer(opts.Settle, im.applyPending)
	return im
}

func (im *Importer) skipped(name string) bool {
	return strings.HasPrefix(name, ".") || im.skip[name]
}

// treePath maps a path on disk to its path in the document tree.
func (im *Importer) treePath(p string) (string, error) {
	rel, err := filepath.Rel(im.dir, p)
	if err != nil {
		return "", err
	}
	if rel == "." {
		return "/", nil
	}
	if strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%s is outside %s", p, im.dir)
	}
	return "/" + filepath.ToSlash(rel), nil
}

// Import copies the directory into the target. A file already in the tree is
// overwritten only when the disk copy was modified after it, so edits saved
// in the tree survive a restart. Per-file failures are reported, not
// returned.
func (im *Importer) Import(ctx context.Context) (Report, error) {
	var rep Report
	byParent := make(map[string][]content.UploadSource)

	err := filepath.WalkDir(im.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == im.dir {
			return nil
		}
		if im.skipped(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		tp, err := im.treePath(p)
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := im.ensureFolder(tp); err != nil {
				return err
			}
			rep.Folders++
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if im.treeIsNewer(tp, d) {
			rep.Kept++
			return nil
		}
		parent := path.Dir(tp)
		byParent[parent] = append(byParent[parent], content.FileSource{Path: p})
		return nil
	})
	if err != nil {
		return rep, fmt.Errorf("walk %s: %w", im.dir, err)
	}

	parents := make([]string, 0, len(byParent))
	for p := range byParent {
		parents = append(parents, p)
	}
	sort.Strings(parents)

	for _, parent := range parents {
		batch, err := im.target.UploadFiles(ctx, parent, byParent[parent])
		if err != nil {
			return rep, err
		}
		for _, r := range batch.Wait() {
			if r.Err != nil {
				rep.Failed = append(rep.Failed, r)
				continue
			}
			rep.Files++
		}
	}
	log.Printf("IMPORT: %s: %d files, %d folders, %d kept, %d failed", im.dir, rep.Files, rep.Folders, rep.Kept, len(rep.Failed))
	return rep, nil
}

// treeIsNewer reports whether the tree holds a file at tp modified at or
// after the disk copy.
func (im *Importer) treeIsNewer(tp string, d fs.DirEntry) bool {
	n, ok := im.target.Tree().FindPath(tp)
	if !ok || !n.IsFile() {
		return false
	}
	info, err := d.Info()
	if err != nil {
		return false
	}
	return !n.Modified.Before(info.ModTime())
}

// ensureFolder creates the folder at tp and any missing ancestors.
func (im *Importer) ensureFolder(tp string) error {
	if tp == "/" {
		return nil
	}
	if n, ok := im.target.Tree().FindPath(tp); ok {
		if n.IsFolder() {
			return nil
		}
		return fmt.Errorf("%s: %w", tp, content.ErrDuplicateName)
	}
	parent := path.Dir(tp)
	if err := im.ensureFolder(parent); err != nil {
		return err
	}
	_, err := im.target.Create(parent, path.Base(tp), content.KindFolder)
	if errors.Is(err, content.ErrDuplicateName) {
		return nil
	}
	return err
}

// Watch follows changes below the directory until ctx is done or Close is
// called.
func (im *Importer) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	err = filepath.WalkDir(im.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != im.dir && im.skipped(d.Name()) {
			return filepath.SkipDir
		}
		return w.Add(p)
	})
	if err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", im.dir, err)
	}

	im.mu.Lock()
	im.watcher = w
	im.ctx = ctx
	im.mu.Unlock()

	go im.watchLoop(ctx, w)
	log.Printf("IMPORT: watching %s", im.dir)
	return nil
}

func (im *Importer) watchLoop(ctx context.Context, w *fsnotify.Watcher) {
	defer close(im.done)
	for {
		select {
		case <-im.closed:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if im.skipped(filepath.Base(event.Name)) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if st, err := os.Stat(event.Name); err == nil && st.IsDir() {
					if err := w.Add(event.Name); err != nil {
						log.Printf("IMPORT: watch %s: %v", event.Name, err)
					}
				}
			}
			im.mu.Lock()
			im.pending[event.Name] |= event.Op
			im.mu.Unlock()
			im.settle.Trigger()
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			log.Printf("IMPORT: watcher error: %v", err)
		}
	}
}

// applyPending applies the events collected since the last settle.
func (im *Importer) applyPending() {
	im.mu.Lock()
	events := im.pending
	im.pending = make(map[string]fsnotify.Op)
	ctx := im.ctx
	im.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	names := make([]string, 0, len(events))
	for name := range events {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := im.applyOne(ctx, name); err != nil {
			log.Printf("IMPORT: %s: %v", name, err)
		}
	}
}

// applyOne syncs one path from disk. The current disk state wins over the
// event kind, so a create followed by a remove is a remove.
func (im *Importer) applyOne(ctx context.Context, name string) error {
	tp, err := im.treePath(name)
	if err != nil {
		return err
	}
	st, err := os.Stat(name)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if !im.opts.Mirror {
			return nil
		}
		n, ok := im.target.Tree().FindPath(tp)
		if !ok {
			return nil
		}
		_, err := im.target.Delete(n.ID)
		return err
	case err != nil:
		return err
	case st.IsDir():
		return im.ensureFolder(tp)
	case !st.Mode().IsRegular():
		return nil
	}

	parent := path.Dir(tp)
	if err := im.ensureFolder(parent); err != nil {
		return err
	}
	batch, err := im.target.UploadFiles(ctx, parent, []content.UploadSource{content.FileSource{Path: name}})
	if err != nil {
		return err
	}
	if res := batch.Wait(); res[0].Err != nil {
		return res[0].Err
	}
	log.Printf("IMPORT: synced %s", tp)
	return nil
}

// Close stops watching. Pending events are dropped.
func (im *Importer) Close() error {
	im.mu.Lock()
	w := im.watcher
	im.watcher = nil
	im.mu.Unlock()

	im.settle.Close()
	if w == nil {
		return nil
	}
	close(im.closed)
	err := w.Close()
	<-im.done
	return err
}
