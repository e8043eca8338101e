package workbench

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/petervdpas/protobench/internal/content"
	"github.com/petervdpas/protobench/internal/editor"
)

// EditorState is what the editor surface renders.
type EditorState struct {
	FileID   string `json:"fileId"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	Language string `json:"language"`
	Buffer   string `json:"buffer"`
	Dirty    bool   `json:"dirty"`
	CanUndo  bool   `json:"canUndo"`
	CanRedo  bool   `json:"canRedo"`
}

// Select opens an edit session on a file. Pending edits of the previous
// session are flushed first. Selecting the open file keeps its session.
func (w *Workbench) Select(id string) (EditorState, error) {
	w.flush.Flush()

	w.mu.Lock()
	defer w.mu.Unlock()
	n, ok := w.tree.Find(id)
	if !ok {
		return EditorState{}, fmt.Errorf("select %s: %w", id, content.ErrNotFound)
	}
	if !n.IsFile() {
		return EditorState{}, fmt.Errorf("select %s: %w", n.Path, content.ErrNotAFile)
	}
	if w.session == nil || w.session.FileID() != id {
		w.session = editor.Open(id, n.Content, w.history)
	}
	return w.stateLocked(), nil
}

// Deselect closes the session after flushing it.
func (w *Workbench) Deselect() {
	w.flush.Flush()
	w.mu.Lock()
	w.session = nil
	w.mu.Unlock()
}

func (w *Workbench) Editor() (EditorState, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.session == nil {
		return EditorState{}, ErrNoSelection
	}
	return w.stateLocked(), nil
}

func (w *Workbench) stateLocked() EditorState {
	s := w.session
	st := EditorState{
		FileID:  s.FileID(),
		Buffer:  s.Buffer(),
		Dirty:   s.Dirty(),
		CanUndo: s.CanUndo(),
		CanRedo: s.CanRedo(),
	}
	if n, ok := w.tree.Find(s.FileID()); ok {
		st.Name, st.Path, st.Language = n.Name, n.Path, n.Language
	}
	return st
}

// Edit records a new buffer value and restarts the flush timer.
func (w *Workbench) Edit(buffer string) (EditorState, error) {
	return w.withSession(func(s *editor.Session) bool {
		before := s.Buffer()
		s.Record(buffer)
		return s.Buffer() != before
	})
}

func (w *Workbench) Undo() (EditorState, error) {
	return w.withSession(func(s *editor.Session) bool { return s.Undo() })
}

func (w *Workbench) Redo() (EditorState, error) {
	return w.withSession(func(s *editor.Session) bool { return s.Redo() })
}

// ReplaceAll replaces every match in the buffer as one history entry.
func (w *Workbench) ReplaceAll(query, replacement string) (int, EditorState, error) {
	var n int
	st, err := w.withSession(func(s *editor.Session) bool {
		n = s.ReplaceAll(query, replacement)
		return n > 0
	})
	return n, st, err
}

func (w *Workbench) Find(query string) ([]editor.Range, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.session == nil {
		return nil, ErrNoSelection
	}
	return w.session.Find(query), nil
}

// withSession applies op to the open session and restarts the flush timer
// when op reports a buffer change.
func (w *Workbench) withSession(op func(*editor.Session) bool) (EditorState, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.session == nil {
		return EditorState{}, ErrNoSelection
	}
	if op(w.session) && !w.closed {
		w.flush.Trigger()
	}
	return w.stateLocked(), nil
}

// flushNow writes a dirty buffer into the tree. It reports whether the tree
// changed.
func (w *Workbench) flushNow() bool {
	w.mu.Lock()
	s := w.session
	if s == nil || !s.Dirty() {
		w.mu.Unlock()
		return false
	}
	next, err := w.tree.UpdateContentAt(s.FileID(), s.Buffer(), time.Now())
	if err != nil {
		// the file went away underneath the session
		w.session = nil
		w.mu.Unlock()
		log.Printf("TREE: flush dropped: %v", err)
		return false
	}
	s.MarkFlushed()
	changed := w.setTreeLocked(next)
	w.mu.Unlock()

	if changed {
		w.changed()
	}
	return changed
}

// Save flushes the open buffer immediately and persists the tree.
func (w *Workbench) Save(ctx context.Context) error {
	w.flush.Cancel()
	w.flushNow()
	if w.autosave != nil {
		w.autosave.Cancel()
	}
	return w.persistNow(ctx)
}
