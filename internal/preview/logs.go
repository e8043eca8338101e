package preview

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/petervdpas/protobench/internal/util"
)

type LogEntry struct {
	TS  time.Time `json:"ts"`
	Msg string    `json:"msg"`
}

// LogBuffer keeps the newest log entries and fans new ones out to
// subscribers. It also implements io.Writer so it can capture log output
// line by line.
type LogBuffer struct {
	mu      sync.Mutex
	entries *util.RingBuffer[LogEntry]
	subs    map[chan LogEntry]struct{}
	partial bytes.Buffer
	now     func() time.Time
}

func NewLogBuffer(max int) *LogBuffer {
	if max <= 0 {
		max = 500
	}
	return &LogBuffer{
		entries: util.NewRingBuffer[LogEntry](max),
		subs:    make(map[chan LogEntry]struct{}),
		now:     time.Now,
	}
}

// Append stamps msg with the current time and stores it.
func (b *LogBuffer) Append(msg string) LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := LogEntry{TS: b.now(), Msg: msg}
	b.entries.Push(e)
	b.broadcastLocked(e)
	return e
}

func (b *LogBuffer) Appendf(format string, args ...any) LogEntry {
	return b.Append(fmt.Sprintf(format, args...))
}

// Write implements io.Writer for log.SetOutput/io.MultiWriter.
func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.partial.Write(p)
	for {
		data := b.partial.Bytes()
		i := bytes.IndexByte(data, '\n')
		if i == -1 {
			break
		}
		line := strings.TrimRight(string(data[:i]), "\r")
		b.partial.Next(i + 1)
		if strings.TrimSpace(line) == "" {
			continue
		}
		e := LogEntry{TS: b.now(), Msg: line}
		b.entries.Push(e)
		b.broadcastLocked(e)
	}
	return len(p), nil
}

func (b *LogBuffer) broadcastLocked(e LogEntry) {
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// drop on slow subscriber
		}
	}
}

// Snapshot returns all retained entries, oldest first.
func (b *LogBuffer) Snapshot() []LogEntry {
	return b.entries.Snapshot()
}

// Tail returns up to n of the newest entries.
func (b *LogBuffer) Tail(n int) []LogEntry {
	return b.entries.Last(n)
}

func (b *LogBuffer) Len() int { return b.entries.Len() }

func (b *LogBuffer) Clear() { b.entries.Clear() }

func (b *LogBuffer) Subscribe() (ch chan LogEntry, cancel func()) {
	ch = make(chan LogEntry, 64)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel = func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}
