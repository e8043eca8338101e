package editor

import (
	"strings"
	"testing"
)

func TestUndoRedoRestoresBufferExactly(t *testing.T) {
	s := Open("f1", "start", Options{})
	var states []string
	for i := 0; i < 5; i++ {
		next := s.Buffer() + strings.Repeat(string(rune('a'+i)), 20)
		s.Record(next)
		states = append(states, next)
	}
	final := s.Buffer()

	for i := 0; i < len(states); i++ {
		if !s.Undo() {
			t.Fatalf("undo %d failed", i)
		}
	}
	if s.Buffer() != "start" {
		t.Fatalf("after undos buffer = %q", s.Buffer())
	}
	if s.Undo() {
		t.Fatal("undo at the start of history must be a no-op")
	}

	for i := 0; i < len(states); i++ {
		if !s.Redo() {
			t.Fatalf("redo %d failed", i)
		}
	}
	if s.Buffer() != final {
		t.Fatalf("after redos buffer = %q, want %q", s.Buffer(), final)
	}
	if s.Redo() {
		t.Fatal("redo at the end of history must be a no-op")
	}
}

func TestSmallEditsCoalesce(t *testing.T) {
	s := Open("f1", "", Options{})
	text := ""
	for _, ch := range "hello world" {
		text += string(ch)
		s.Record(text)
	}
	// open entry + one entry amended by every keystroke
	if s.HistoryLen() != 2 {
		t.Fatalf("history len = %d, want 2", s.HistoryLen())
	}
	s.Undo()
	if s.Buffer() != "" {
		t.Fatalf("undo of typed run = %q", s.Buffer())
	}
	s.Redo()
	if s.Buffer() != "hello world" {
		t.Fatalf("redo = %q", s.Buffer())
	}
}

func TestSignificantEditStartsEntry(t *testing.T) {
	s := Open("f1", "", Options{SignificantDelta: 3})
	s.Record("a")
	s.Record("ab")
	s.Record("ab" + "0123456789")
	if s.HistoryLen() != 3 {
		t.Fatalf("history len = %d, want 3", s.HistoryLen())
	}
	s.Undo()
	if s.Buffer() != "ab" {
		t.Fatalf("undo = %q", s.Buffer())
	}
}

func TestEditAfterUndoDropsRedo(t *testing.T) {
	s := Open("f1", "x", Options{})
	s.Record("x" + strings.Repeat("1", 20))
	s.Undo()
	s.Record("xy")
	if s.CanRedo() {
		t.Fatal("a new edit must discard the redo tail")
	}
	s.Undo()
	if s.Buffer() != "x" {
		t.Fatalf("undo = %q, want the sealed undo target", s.Buffer())
	}
}

func TestHistoryIsBounded(t *testing.T) {
	s := Open("f1", "", Options{HistoryLimit: 4})
	for i := 0; i < 10; i++ {
		s.Record(strings.Repeat("z", (i+1)*20))
	}
	if s.HistoryLen() != 4 {
		t.Fatalf("history len = %d, want 4", s.HistoryLen())
	}
	undos := 0
	for s.Undo() {
		undos++
	}
	if undos != 3 {
		t.Fatalf("undos = %d, want 3", undos)
	}
}

func TestDirtyTracking(t *testing.T) {
	s := Open("f1", "abc", Options{})
	if s.Dirty() {
		t.Fatal("fresh session is clean")
	}
	s.Record("abcd")
	if !s.Dirty() {
		t.Fatal("edited session is dirty")
	}
	s.MarkFlushed()
	if s.Dirty() || s.Base() != "abcd" {
		t.Fatal("flush should clear dirty")
	}
	s.Undo()
	if !s.Dirty() {
		t.Fatal("undo past the flushed content is dirty again")
	}
}

func TestFindReplaceAll(t *testing.T) {
	s := Open("f1", "a-b-a-b", Options{})
	got := s.Find("a")
	if len(got) != 2 || got[1] != (Range{Start: 4, End: 5}) {
		t.Fatalf("Find = %v", got)
	}
	if s.Find("") != nil {
		t.Fatal("empty query finds nothing")
	}
	if n := s.ReplaceAll("b", "c"); n != 2 || s.Buffer() != "a-c-a-c" {
		t.Fatalf("ReplaceAll = %d, buffer %q", n, s.Buffer())
	}
	s.Undo()
	if s.Buffer() != "a-b-a-b" {
		t.Fatalf("undo replace = %q", s.Buffer())
	}
}

func TestReplaceIsExternalEntry(t *testing.T) {
	s := Open("f1", "old", Options{})
	s.Replace("new")
	if s.HistoryLen() != 2 || s.Buffer() != "new" {
		t.Fatalf("len=%d buffer=%q", s.HistoryLen(), s.Buffer())
	}
	s.Record("new!")
	if s.HistoryLen() != 3 {
		t.Fatalf("edit after replace should append, len=%d", s.HistoryLen())
	}
}
