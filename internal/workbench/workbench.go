// Package workbench owns the current project state: the document tree, the
// open edit session and the preview process. All tree mutations go through
// it so that debounced flushes, uploads and refreshes always act on the
// latest tree.
package workbench

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/petervdpas/protobench/internal/content"
	"github.com/petervdpas/protobench/internal/editor"
	"github.com/petervdpas/protobench/internal/preview"
	"github.com/petervdpas/protobench/internal/snapshot"
	"github.com/petervdpas/protobench/internal/util"
)

var (
	ErrNoSelection = errors.New("no file selected")
	ErrClosed      = errors.New("workbench closed")
)

// PersistFunc stores a tree. It is called on save and auto-save.
type PersistFunc func(ctx context.Context, tree *content.Tree) error

const DefaultFlushDelay = 150 * time.Millisecond

type Options struct {
	// Tree is the initial project. Nil seeds the default project.
	Tree    *content.Tree
	Persist PersistFunc

	FlushDelay time.Duration
	// AutosaveDelay enables auto-save when positive.
	AutosaveDelay time.Duration
	History       editor.Options
	Snapshot      []snapshot.Option

	Preview     preview.Options
	AutoRefresh bool
}

type Workbench struct {
	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	tree     *content.Tree
	session  *editor.Session
	history  editor.Options
	snapOpts []snapshot.Option
	persist  PersistFunc

	flush    *util.Debouncer
	autosave *util.Debouncer

	preview     *preview.Process
	autoRefresh bool

	listeners map[int]func(snapshot.Snapshot)
	nextID    int

	uploads sync.WaitGroup
	closed  bool
}

func New(opts Options) *Workbench {
	if opts.Tree == nil {
		opts.Tree = content.DefaultProject()
	}
	if opts.FlushDelay <= 0 {
		opts.FlushDelay = DefaultFlushDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &Workbench{
		ctx:         ctx,
		cancel:      cancel,
		tree:        opts.Tree,
		history:     opts.History,
		snapOpts:    opts.Snapshot,
		persist:     opts.Persist,
		autoRefresh: opts.AutoRefresh,
		listeners:   make(map[int]func(snapshot.Snapshot)),
	}
	w.flush = util.NewDebouncer(opts.FlushDelay, func() { w.flushNow() })
	if opts.AutosaveDelay > 0 {
		w.autosave = util.NewDebouncer(opts.AutosaveDelay, w.autoSave)
	}
	popts := opts.Preview
	if popts.Source == nil {
		popts.Source = w.Snapshot
	}
	w.preview = preview.NewProcess(popts)
	return w
}

// Tree returns the current tree. Trees are immutable and safe to share.
func (w *Workbench) Tree() *content.Tree {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tree
}

func (w *Workbench) Preview() *preview.Process { return w.preview }

// setTreeLocked publishes next and reports whether it differs from the
// current tree.
func (w *Workbench) setTreeLocked(next *content.Tree) bool {
	if next == w.tree {
		return false
	}
	w.tree = next
	if w.autosave != nil && !w.closed {
		w.autosave.Trigger()
	}
	return true
}

// changed fans the new snapshot out to listeners and schedules a preview
// refresh. It must be called without w.mu held.
func (w *Workbench) changed() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	fns := make([]func(snapshot.Snapshot), 0, len(w.listeners))
	for _, fn := range w.listeners {
		fns = append(fns, fn)
	}
	w.mu.Unlock()

	if len(fns) > 0 {
		snap := w.Snapshot()
		for _, fn := range fns {
			fn(snap)
		}
	}
	if w.autoRefresh {
		w.preview.ScheduleRefresh()
	}
}

// Snapshot compiles the current tree.
func (w *Workbench) Snapshot() snapshot.Snapshot {
	return snapshot.Compile(w.Tree(), w.snapOpts...)
}

// OnSnapshotChanged registers fn to receive a fresh snapshot after every tree
// change. The returned func unregisters it.
func (w *Workbench) OnSnapshotChanged(fn func(snapshot.Snapshot)) func() {
	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.listeners[id] = fn
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		delete(w.listeners, id)
		w.mu.Unlock()
	}
}

func (w *Workbench) Create(parentPath, name string, kind content.Kind) (*content.Node, error) {
	w.mu.Lock()
	next, n, err := w.tree.Create(parentPath, name, kind)
	if err != nil {
		w.mu.Unlock()
		return nil, err
	}
	w.setTreeLocked(next)
	w.mu.Unlock()

	log.Printf("TREE: created %s %s", kind, n.Path)
	w.changed()
	return n, nil
}

// Delete removes a node and its subtree. An edit session on a removed file
// is discarded along with its pending flush.
func (w *Workbench) Delete(id string) (*content.Node, error) {
	w.mu.Lock()
	next, n, err := w.tree.Delete(id)
	if err != nil {
		w.mu.Unlock()
		return nil, err
	}
	w.setTreeLocked(next)
	w.dropOrphanSessionLocked()
	w.mu.Unlock()

	log.Printf("TREE: deleted %s", n.Path)
	w.changed()
	return n, nil
}

func (w *Workbench) dropOrphanSessionLocked() {
	if w.session == nil {
		return
	}
	if _, ok := w.tree.Find(w.session.FileID()); ok {
		return
	}
	w.flush.Cancel()
	w.session = nil
}

func (w *Workbench) Rename(id, name string) (*content.Node, error) {
	return w.mutate("renamed", id, func(t *content.Tree) (*content.Tree, error) {
		return t.Rename(id, name)
	})
}

func (w *Workbench) Move(id, parentPath string) (*content.Node, error) {
	return w.mutate("moved", id, func(t *content.Tree) (*content.Tree, error) {
		return t.Move(id, parentPath)
	})
}

// UpdateContent replaces a file's content from outside the editor. An open
// session on the file takes the new content as an external history entry.
func (w *Workbench) UpdateContent(id, body string) (*content.Node, error) {
	return w.updateContent(id, body, time.Now())
}

func (w *Workbench) updateContent(id, body string, modified time.Time) (*content.Node, error) {
	return w.mutate("updated", id, func(t *content.Tree) (*content.Tree, error) {
		next, err := t.UpdateContentAt(id, body, modified)
		if err == nil && w.session != nil && w.session.FileID() == id {
			w.flush.Cancel()
			if body != w.session.Buffer() {
				w.session.Replace(body)
			}
			w.session.MarkFlushed()
		}
		return next, err
	})
}

// mutate runs op against the current tree under the lock and returns the
// node with id as found in the resulting tree.
func (w *Workbench) mutate(verb, id string, op func(*content.Tree) (*content.Tree, error)) (*content.Node, error) {
	w.mu.Lock()
	next, err := op(w.tree)
	if err != nil {
		w.mu.Unlock()
		return nil, err
	}
	n, _ := next.Find(id)
	changed := w.setTreeLocked(next)
	w.mu.Unlock()

	if changed {
		log.Printf("TREE: %s %s", verb, n.Path)
		w.changed()
	}
	return n, nil
}

// ReplaceTree swaps in a whole new project, e.g. after an import. The edit
// session is closed.
func (w *Workbench) ReplaceTree(t *content.Tree) {
	w.mu.Lock()
	w.flush.Cancel()
	w.session = nil
	changed := w.setTreeLocked(t)
	w.mu.Unlock()

	if changed {
		files, folders := t.Count()
		log.Printf("TREE: project replaced (%d files, %d folders)", files, folders)
		w.changed()
	}
}

func (w *Workbench) persistNow(ctx context.Context) error {
	if w.persist == nil {
		return nil
	}
	t := w.Tree()
	if err := w.persist(ctx, t); err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	files, folders := t.Count()
	log.Printf("TREE: persisted %d files, %d folders", files, folders)
	return nil
}

func (w *Workbench) autoSave() {
	if err := w.persistNow(w.ctx); err != nil {
		log.Printf("TREE: auto-save failed: %v", err)
	}
}

// StartPreview starts the preview on the current snapshot.
func (w *Workbench) StartPreview() error {
	return w.preview.Start(w.ctx, w.Snapshot())
}

// Close cancels pending flush and auto-save timers, waits for uploads in
// flight and releases the preview.
func (w *Workbench) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()

	w.flush.Close()
	if w.autosave != nil {
		w.autosave.Close()
	}
	w.cancel()
	w.uploads.Wait()
	w.preview.Close()
}
