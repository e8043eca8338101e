package workbench

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/petervdpas/protobench/internal/content"
)

// UploadResult is the outcome for one file of an upload batch.
type UploadResult struct {
	Name   string `json:"name"`
	NodeID string `json:"nodeId,omitempty"`
	Path   string `json:"path,omitempty"`
	Size   int64  `json:"size"`
	Err    error  `json:"-"`
	Error  string `json:"error,omitempty"`
}

// UploadBatch tracks the reads of one UploadFiles call.
type UploadBatch struct {
	wg      sync.WaitGroup
	mu      sync.Mutex
	results []UploadResult
	done    chan struct{}
}

func (b *UploadBatch) set(i int, r UploadResult) {
	if r.Err != nil {
		r.Error = r.Err.Error()
	}
	b.mu.Lock()
	b.results[i] = r
	b.mu.Unlock()
}

// Done is closed once every file has been read and applied.
func (b *UploadBatch) Done() <-chan struct{} { return b.done }

// Wait blocks until the batch completes and returns the results in input
// order.
func (b *UploadBatch) Wait() []UploadResult {
	<-b.done
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]UploadResult, len(b.results))
	copy(out, b.results)
	return out
}

// UploadFiles places every source under parentPath and reads the contents
// concurrently. A node is created (or an existing file of the same name
// reused) before its read starts; each read updates exactly that node by id
// as it arrives, in whatever order the reads finish. A name repeated within
// the batch fails with ErrDuplicateName. One failing file never aborts the
// others.
func (w *Workbench) UploadFiles(ctx context.Context, parentPath string, sources []content.UploadSource) (*UploadBatch, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, ErrClosed
	}
	b := &UploadBatch{results: make([]UploadResult, len(sources)), done: make(chan struct{})}

	type pending struct {
		idx     int
		id      string
		created bool
		src     content.UploadSource
	}
	var reads []pending
	tree := w.tree
	seen := make(map[string]bool, len(sources))
	for i, src := range sources {
		name := src.Name()
		if seen[name] {
			b.set(i, UploadResult{Name: name, Err: fmt.Errorf("upload %s: %w", name, content.ErrDuplicateName)})
			continue
		}
		seen[name] = true
		n, created, err := placeUpload(&tree, parentPath, name)
		if err != nil {
			b.set(i, UploadResult{Name: name, Err: err})
			continue
		}
		b.results[i] = UploadResult{Name: name, NodeID: n.ID, Path: n.Path}
		reads = append(reads, pending{idx: i, id: n.ID, created: created, src: src})
	}
	changed := w.setTreeLocked(tree)

	readCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(w.ctx, cancel)
	w.uploads.Add(len(reads))
	b.wg.Add(len(reads))
	w.mu.Unlock()

	if changed {
		w.changed()
	}

	for _, p := range reads {
		go func(p pending) {
			defer w.uploads.Done()
			defer b.wg.Done()
			b.set(p.idx, w.applyUpload(readCtx, p.id, p.created, p.src))
		}(p)
	}
	go func() {
		b.wg.Wait()
		stop()
		cancel()
		close(b.done)
	}()
	return b, nil
}

// placeUpload finds or creates the file node an upload lands in.
func placeUpload(tree **content.Tree, parentPath, name string) (*content.Node, bool, error) {
	t := *tree
	parent, ok := t.FindPath(parentPath)
	if !ok || !parent.IsFolder() {
		return nil, false, fmt.Errorf("upload %s: %w", name, content.ErrInvalidParent)
	}
	for _, c := range parent.Children {
		if c.Name != name {
			continue
		}
		if !c.IsFile() {
			return nil, false, fmt.Errorf("upload %s: %w", name, content.ErrDuplicateName)
		}
		return c, false, nil
	}
	next, n, err := t.Create(parentPath, name, content.KindFile)
	if err != nil {
		return nil, false, fmt.Errorf("upload %s: %w", name, err)
	}
	*tree = next
	return n, true, nil
}

func (w *Workbench) applyUpload(ctx context.Context, id string, created bool, src content.UploadSource) UploadResult {
	res := UploadResult{Name: src.Name(), NodeID: id}
	up, err := src.Read(ctx)
	if err != nil {
		res.Err = err
		if created {
			w.discardPlaceholder(id)
		}
		log.Printf("TREE: upload %s failed: %v", res.Name, err)
		return res
	}
	n, err := w.updateContent(id, up.Content, up.ModifiedAt)
	if err != nil {
		res.Err = fmt.Errorf("upload %s: %w", res.Name, err)
		return res
	}
	res.Path, res.Size = n.Path, n.Size
	return res
}

// discardPlaceholder removes an empty node created for an upload whose read
// failed. Nodes that have been edited since are kept.
func (w *Workbench) discardPlaceholder(id string) {
	w.mu.Lock()
	n, ok := w.tree.Find(id)
	if !ok || n.Content != "" {
		w.mu.Unlock()
		return
	}
	next, _, err := w.tree.Delete(id)
	if err != nil {
		w.mu.Unlock()
		return
	}
	w.setTreeLocked(next)
	w.dropOrphanSessionLocked()
	w.mu.Unlock()
	w.changed()
}
