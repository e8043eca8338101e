package preview

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/petervdpas/protobench/internal/snapshot"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitStatus(t *testing.T, p *Process, want Status) {
	t.Helper()
	waitFor(t, "status "+string(want), func() bool { return p.Status() == want })
}

func get(t *testing.T, h http.Handler, url string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
	body, _ := io.ReadAll(rec.Result().Body)
	return rec.Code, string(body)
}

func hasLog(p *Process, substr string) bool {
	for _, e := range p.Logs().Snapshot() {
		if strings.Contains(e.Msg, substr) {
			return true
		}
	}
	return false
}

// source is a swappable snapshot source.
type source struct {
	mu   sync.Mutex
	snap snapshot.Snapshot
}

func (s *source) set(snap snapshot.Snapshot) {
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
}

func (s *source) get() snapshot.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func TestStartServeStop(t *testing.T) {
	p := NewProcess(Options{})
	defer p.Close()

	if err := p.Start(context.Background(), snapshot.Snapshot{"index.html": "<h1>hi</h1>"}); err != nil {
		t.Fatal(err)
	}
	waitStatus(t, p, StatusRunning)

	st := p.State()
	if !strings.HasPrefix(st.URL, PathPrefix) || st.Handle == "" {
		t.Fatalf("state = %+v", st)
	}
	code, body := get(t, p.Host(), st.URL)
	if code != http.StatusOK || !strings.Contains(body, "<h1>hi</h1>") {
		t.Fatalf("GET %s = %d %q", st.URL, code, body)
	}
	if p.Logs().Len() == 0 {
		t.Fatal("expected lifecycle logs")
	}

	// a second start while running is a no-op
	if err := p.Start(context.Background(), snapshot.Snapshot{"index.html": "other"}); err != nil {
		t.Fatal(err)
	}
	if p.State().Handle != st.Handle || !hasLog(p, "start ignored") {
		t.Fatal("second start must leave the running preview alone")
	}

	p.Stop()
	if p.Status() != StatusStopped || p.Artifact() != nil || p.Snapshot() != nil {
		t.Fatalf("after stop: %+v", p.State())
	}
	if code, _ := get(t, p.Host(), st.URL); code != http.StatusNotFound {
		t.Fatalf("revoked handle served with %d", code)
	}

	n := p.Logs().Len()
	p.Stop()
	if p.Logs().Len() != n {
		t.Fatal("stopping a stopped preview must do nothing")
	}
}

func TestAutoRefreshReplacesHandle(t *testing.T) {
	src := &source{snap: snapshot.Snapshot{"index.html": "<h1>hi</h1>"}}
	p := NewProcess(Options{Source: src.get, RefreshDelay: 10 * time.Millisecond})
	defer p.Close()

	if err := p.Start(context.Background(), src.get()); err != nil {
		t.Fatal(err)
	}
	waitStatus(t, p, StatusRunning)
	first := p.State()

	src.set(snapshot.Snapshot{"index.html": "<h1>bye</h1>"})
	p.ScheduleRefresh()
	waitFor(t, "new handle", func() bool {
		st := p.State()
		return st.Status == StatusRunning && st.Handle != first.Handle
	})

	st := p.State()
	if code, body := get(t, p.Host(), st.URL); code != http.StatusOK || !strings.Contains(body, "bye") {
		t.Fatalf("GET new artifact = %d %q", code, body)
	}
	if code, _ := get(t, p.Host(), first.URL); code != http.StatusNotFound {
		t.Fatal("old handle must be revoked")
	}
	if p.Host().Len() != 1 {
		t.Fatalf("live handles = %d", p.Host().Len())
	}
	if p.Snapshot()["index.html"] != "<h1>bye</h1>" {
		t.Fatal("active snapshot not updated")
	}
}

func TestAutoRefreshSkipsUnchangedSnapshot(t *testing.T) {
	var builds atomic.Int32
	sb := NewSiteBuilder(false)
	b := BuildFunc(func(ctx context.Context, s snapshot.Snapshot) (*Artifact, error) {
		builds.Add(1)
		return sb.Build(ctx, s)
	})
	src := &source{snap: snapshot.Snapshot{"index.html": "same"}}
	p := NewProcess(Options{Builder: b, Source: src.get, RefreshDelay: 5 * time.Millisecond})
	defer p.Close()

	_ = p.Start(context.Background(), src.get())
	waitStatus(t, p, StatusRunning)
	p.ScheduleRefresh()
	waitFor(t, "skip log", func() bool { return hasLog(p, "auto-refresh skipped") })
	if n := builds.Load(); n != 1 {
		t.Fatalf("builds = %d, want 1", n)
	}
}

func TestBuildFailureAndRestart(t *testing.T) {
	p := NewProcess(Options{})
	defer p.Close()

	_ = p.Start(context.Background(), snapshot.Snapshot{})
	waitStatus(t, p, StatusError)
	st := p.State()
	if !strings.Contains(st.Error, ErrArtifactConstructionFailed.Error()) || st.Handle != "" {
		t.Fatalf("error state = %+v", st)
	}
	if err := p.Refresh(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("refresh in error state: %v", err)
	}

	_ = p.Start(context.Background(), snapshot.Snapshot{"page.html": "<p>ok</p>"})
	waitStatus(t, p, StatusRunning)
	if p.State().Error != "" {
		t.Fatal("restart must clear the error")
	}
}

func TestRefreshFailureReleasesHandle(t *testing.T) {
	src := &source{snap: snapshot.Snapshot{"index.html": "x"}}
	p := NewProcess(Options{Source: src.get})
	defer p.Close()

	_ = p.Start(context.Background(), src.get())
	waitStatus(t, p, StatusRunning)

	src.set(snapshot.Snapshot{"style.css": "body{}"})
	if err := p.Refresh(); err != nil {
		t.Fatal(err)
	}
	waitStatus(t, p, StatusError)
	if p.Host().Len() != 0 || p.State().URL != "" {
		t.Fatal("failed refresh must release the artifact")
	}
}

func TestStopWhileStarting(t *testing.T) {
	started := make(chan struct{})
	var cancelled atomic.Bool
	b := BuildFunc(func(ctx context.Context, s snapshot.Snapshot) (*Artifact, error) {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return nil, ctx.Err()
	})
	p := NewProcess(Options{Builder: b})
	defer p.Close()

	_ = p.Start(context.Background(), snapshot.Snapshot{"index.html": "x"})
	<-started
	if p.Status() != StatusStarting {
		t.Fatalf("status = %s", p.Status())
	}
	p.Stop()
	if !cancelled.Load() {
		t.Fatal("stop must wait for the cancelled build")
	}
	if p.Status() != StatusStopped || p.Host().Len() != 0 {
		t.Fatalf("after stop: %+v", p.State())
	}
}

func TestRefreshRequestsCoalesce(t *testing.T) {
	release := make(chan struct{})
	var builds atomic.Int32
	b := BuildFunc(func(ctx context.Context, s snapshot.Snapshot) (*Artifact, error) {
		builds.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &Artifact{Entry: "index.html", Files: map[string][]byte{"index.html": []byte(s["index.html"])}, Digest: s.Digest()}, nil
	})
	src := &source{snap: snapshot.Snapshot{"index.html": "v1"}}
	p := NewProcess(Options{Builder: b, Source: src.get})
	defer p.Close()

	_ = p.Start(context.Background(), src.get())
	release <- struct{}{}
	waitStatus(t, p, StatusRunning)

	src.set(snapshot.Snapshot{"index.html": "v2"})
	if err := p.Refresh(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := p.Refresh(); err != nil {
			t.Fatal(err)
		}
	}
	src.set(snapshot.Snapshot{"index.html": "v3"})

	release <- struct{}{} // first refresh
	release <- struct{}{} // the single follow-up
	waitStatus(t, p, StatusRunning)

	if n := builds.Load(); n != 3 {
		t.Fatalf("builds = %d, want 3", n)
	}
	if p.Snapshot()["index.html"] != "v3" {
		t.Fatalf("follow-up must build the latest snapshot, got %v", p.Snapshot())
	}
}

func TestRefreshRequiresRunning(t *testing.T) {
	p := NewProcess(Options{})
	defer p.Close()
	if err := p.Refresh(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("refresh while stopped: %v", err)
	}
}

func TestViewportDoesNotTouchLifecycle(t *testing.T) {
	p := NewProcess(Options{})
	defer p.Close()

	if _, err := ParseViewport("watch"); !errors.Is(err, ErrInvalidViewport) {
		t.Fatalf("ParseViewport: %v", err)
	}
	if err := p.SetViewport(ViewportMobile); err != nil {
		t.Fatal(err)
	}
	st := p.State()
	if st.Status != StatusStopped || st.Frame != (Frame{Width: "375px", Height: "667px"}) {
		t.Fatalf("state = %+v", st)
	}
}

func TestWatchReceivesTransitions(t *testing.T) {
	p := NewProcess(Options{})
	ch, cancel := p.Watch()
	defer cancel()

	_ = p.Start(context.Background(), snapshot.Snapshot{"index.html": "x"})
	seen := map[Status]bool{}
	timeout := time.After(3 * time.Second)
	for !seen[StatusRunning] {
		select {
		case st := <-ch:
			seen[st.Status] = true
		case <-timeout:
			t.Fatalf("saw %v", seen)
		}
	}
	if !seen[StatusStarting] {
		t.Fatal("expected starting before running")
	}

	p.Close()
	if err := p.Start(context.Background(), snapshot.Snapshot{"index.html": "x"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("start after close: %v", err)
	}
}
