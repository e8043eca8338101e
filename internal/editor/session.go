// Package editor holds the per-file edit session: the working buffer, a
// bounded undo/redo history and dirty tracking against the tree content.
package editor

import "strings"

const (
	// DefaultSignificantDelta is the length change (in bytes) above which an
	// edit starts a new history entry instead of amending the current one.
	DefaultSignificantDelta = 10

	DefaultHistoryLimit = 100
)

// Range is a byte range [Start, End) within the buffer.
type Range struct {
	Start, End int
}

// Options tunes history granularity.
type Options struct {
	SignificantDelta int
	HistoryLimit     int
}

func (o Options) withDefaults() Options {
	if o.SignificantDelta <= 0 {
		o.SignificantDelta = DefaultSignificantDelta
	}
	if o.HistoryLimit < 2 {
		o.HistoryLimit = DefaultHistoryLimit
	}
	return o
}

// Session is the transient editing state of one open file. It is not safe
// for concurrent use; the workbench serializes access.
type Session struct {
	fileID  string
	opts    Options
	buffer  string
	base    string // content last flushed into the tree
	history []string
	cursor  int
	// sealed marks the current entry as a fixed point (open, undo, redo,
	// external replace); the next edit appends instead of amending it.
	sealed bool
}

// Open starts a session on a file's current content.
func Open(fileID, content string, opts Options) *Session {
	return &Session{
		fileID:  fileID,
		opts:    opts.withDefaults(),
		buffer:  content,
		base:    content,
		history: []string{content},
		sealed:  true,
	}
}

func (s *Session) FileID() string { return s.fileID }
func (s *Session) Buffer() string { return s.buffer }
func (s *Session) Base() string   { return s.base }

// Dirty reports whether the buffer differs from the content in the tree.
func (s *Session) Dirty() bool { return s.buffer != s.base }

// Record applies a new buffer value. Small edits amend the current history
// entry so typing does not produce one entry per keystroke.
func (s *Session) Record(buffer string) {
	if buffer == s.buffer {
		return
	}
	prev := s.buffer
	s.buffer = buffer
	s.history = s.history[:s.cursor+1]

	delta := len(buffer) - len(prev)
	if delta < 0 {
		delta = -delta
	}
	if s.sealed || delta > s.opts.SignificantDelta {
		s.push(buffer)
		return
	}
	s.history[s.cursor] = buffer
}

// Replace records an external content replacement (a reload or an upload
// landing on the open file). It always creates a history entry.
func (s *Session) Replace(content string) {
	s.buffer = content
	s.history = s.history[:s.cursor+1]
	s.push(content)
	s.sealed = true
}

func (s *Session) push(v string) {
	s.history = append(s.history, v)
	if len(s.history) > s.opts.HistoryLimit {
		drop := len(s.history) - s.opts.HistoryLimit
		s.history = append([]string(nil), s.history[drop:]...)
	}
	s.cursor = len(s.history) - 1
	s.sealed = false
}

// Undo steps back one entry. It returns false at the start of history.
func (s *Session) Undo() bool {
	if s.cursor == 0 {
		return false
	}
	s.cursor--
	s.buffer = s.history[s.cursor]
	s.sealed = true
	return true
}

// Redo steps forward one entry. It returns false at the end of history.
func (s *Session) Redo() bool {
	if s.cursor >= len(s.history)-1 {
		return false
	}
	s.cursor++
	s.buffer = s.history[s.cursor]
	s.sealed = true
	return true
}

func (s *Session) CanUndo() bool { return s.cursor > 0 }
func (s *Session) CanRedo() bool { return s.cursor < len(s.history)-1 }

// HistoryLen returns the number of stored entries.
func (s *Session) HistoryLen() int { return len(s.history) }

// MarkFlushed records that the buffer has been written to the tree.
func (s *Session) MarkFlushed() { s.base = s.buffer }

// Find returns all byte ranges where query occurs in the buffer.
func (s *Session) Find(query string) []Range {
	if query == "" {
		return nil
	}
	var out []Range
	start := 0
	for {
		idx := strings.Index(s.buffer[start:], query)
		if idx < 0 {
			break
		}
		abs := start + idx
		out = append(out, Range{Start: abs, End: abs + len(query)})
		start = abs + len(query)
	}
	return out
}

// ReplaceAll replaces every occurrence of query and records the result as
// a single history entry. It returns the number of replacements.
func (s *Session) ReplaceAll(query, replacement string) int {
	n := len(s.Find(query))
	if n == 0 {
		return 0
	}
	s.history = s.history[:s.cursor+1]
	s.buffer = strings.ReplaceAll(s.buffer, query, replacement)
	s.push(s.buffer)
	return n
}
