package workbench

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/petervdpas/protobench/internal/content"
	"github.com/petervdpas/protobench/internal/preview"
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

// siteTree returns a tree with /index.html holding body.
func siteTree(t *testing.T, body string) (*content.Tree, string) {
	t.Helper()
	tr, n, err := content.New().Create("/", "index.html", content.KindFile)
	if err != nil {
		t.Fatal(err)
	}
	if tr, err = tr.UpdateContent(n.ID, body); err != nil {
		t.Fatal(err)
	}
	return tr, n.ID
}

func contentOf(t *testing.T, w *Workbench, id string) string {
	t.Helper()
	n, ok := w.Tree().Find(id)
	if !ok {
		t.Fatalf("node %s missing", id)
	}
	return n.Content
}

type persistRecorder struct {
	mu    sync.Mutex
	trees []*content.Tree
}

func (p *persistRecorder) persist(_ context.Context, t *content.Tree) error {
	p.mu.Lock()
	p.trees = append(p.trees, t)
	p.mu.Unlock()
	return nil
}

func (p *persistRecorder) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.trees)
}

func (p *persistRecorder) last() *content.Tree {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.trees[len(p.trees)-1]
}

func TestEditFlushesAfterDebounce(t *testing.T) {
	tr, id := siteTree(t, "<h1>hi</h1>")
	w := New(Options{Tree: tr, FlushDelay: 20 * time.Millisecond})
	defer w.Close()

	var mu sync.Mutex
	var seen []snapshot.Snapshot
	cancel := w.OnSnapshotChanged(func(s snapshot.Snapshot) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})
	defer cancel()

	if _, err := w.Select(id); err != nil {
		t.Fatal(err)
	}
	st, err := w.Edit("<h1>bye</h1>")
	if err != nil {
		t.Fatal(err)
	}
	if !st.Dirty || contentOf(t, w, id) != "<h1>hi</h1>" {
		t.Fatal("edit must stay in the buffer until the flush")
	}

	waitFor(t, "flush", func() bool { return contentOf(t, w, id) == "<h1>bye</h1>" })
	if st, _ := w.Editor(); st.Dirty {
		t.Fatal("flushed buffer is clean")
	}
	waitFor(t, "listener", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1 && seen[0]["index.html"] == "<h1>bye</h1>"
	})
}

func TestSaveFlushesImmediately(t *testing.T) {
	tr, id := siteTree(t, "a")
	rec := &persistRecorder{}
	w := New(Options{Tree: tr, FlushDelay: time.Hour, Persist: rec.persist})
	defer w.Close()

	_, _ = w.Select(id)
	_, _ = w.Edit("abc")
	if err := w.Save(context.Background()); err != nil {
		t.Fatal(err)
	}
	if contentOf(t, w, id) != "abc" || rec.count() != 1 {
		t.Fatalf("save: content %q, persists %d", contentOf(t, w, id), rec.count())
	}
	n, _ := rec.last().Find(id)
	if n.Content != "abc" {
		t.Fatalf("persisted %q", n.Content)
	}
	if w.flush.Pending() {
		t.Fatal("save must cancel the pending flush")
	}
}

func TestAutosave(t *testing.T) {
	rec := &persistRecorder{}
	w := New(Options{Tree: content.New(), AutosaveDelay: 20 * time.Millisecond, Persist: rec.persist})
	defer w.Close()

	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		if _, err := w.Create("/", name, content.KindFile); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, "autosave", func() bool {
		if rec.count() == 0 {
			return false
		}
		files, _ := rec.last().Count()
		return files == 3
	})
}

func TestDeleteDropsSession(t *testing.T) {
	w := New(Options{Tree: content.New(), FlushDelay: time.Hour})
	defer w.Close()

	dir, _ := w.Create("/", "a", content.KindFolder)
	f, err := w.Create("/a", "b.txt", content.KindFile)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = w.Select(f.ID)
	_, _ = w.Edit("pending")

	if _, err := w.Delete(dir.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Editor(); !errors.Is(err, ErrNoSelection) {
		t.Fatalf("editor after deleting its folder: %v", err)
	}
	if w.flush.Pending() {
		t.Fatal("pending flush must be cancelled with the session")
	}
	if _, err := w.Edit("x"); !errors.Is(err, ErrNoSelection) {
		t.Fatalf("edit without selection: %v", err)
	}
}

func TestSelectRules(t *testing.T) {
	w := New(Options{Tree: content.New()})
	defer w.Close()

	dir, _ := w.Create("/", "src", content.KindFolder)
	if _, err := w.Select(dir.ID); !errors.Is(err, content.ErrNotAFile) {
		t.Fatalf("select folder: %v", err)
	}
	if _, err := w.Select("nope"); !errors.Is(err, content.ErrNotFound) {
		t.Fatalf("select missing: %v", err)
	}
	if _, err := w.Create("/missing", "x.txt", content.KindFile); !errors.Is(err, content.ErrInvalidParent) {
		t.Fatalf("create under missing parent: %v", err)
	}
}

func TestSwitchingFileFlushesPrevious(t *testing.T) {
	w := New(Options{Tree: content.New(), FlushDelay: time.Hour})
	defer w.Close()

	a, _ := w.Create("/", "a.txt", content.KindFile)
	b, _ := w.Create("/", "b.txt", content.KindFile)
	_, _ = w.Select(a.ID)
	_, _ = w.Edit("draft")
	st, err := w.Select(b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if st.FileID != b.ID || contentOf(t, w, a.ID) != "draft" {
		t.Fatal("switching files must flush the previous buffer")
	}
}

func TestUndoRedoThroughWorkbench(t *testing.T) {
	tr, id := siteTree(t, "start")
	w := New(Options{Tree: tr, FlushDelay: time.Hour})
	defer w.Close()

	_, _ = w.Select(id)
	_, _ = w.Edit("start plus a much longer tail")
	st, _ := w.Undo()
	if st.Buffer != "start" || !st.CanRedo {
		t.Fatalf("undo = %+v", st)
	}
	st, _ = w.Redo()
	if st.Buffer != "start plus a much longer tail" {
		t.Fatalf("redo = %+v", st)
	}

	n, st, err := w.ReplaceAll("start", "begin")
	if err != nil || n != 1 || st.Buffer != "begin plus a much longer tail" {
		t.Fatalf("ReplaceAll = %d %+v %v", n, st, err)
	}
	if ranges, _ := w.Find("longer"); len(ranges) != 1 {
		t.Fatalf("Find = %v", ranges)
	}
}

func TestExternalUpdateReplacesOpenBuffer(t *testing.T) {
	tr, id := siteTree(t, "one")
	w := New(Options{Tree: tr, FlushDelay: time.Hour})
	defer w.Close()

	_, _ = w.Select(id)
	if _, err := w.UpdateContent(id, "two"); err != nil {
		t.Fatal(err)
	}
	st, _ := w.Editor()
	if st.Buffer != "two" || st.Dirty || !st.CanUndo {
		t.Fatalf("editor = %+v", st)
	}
}

func TestUploadFiles(t *testing.T) {
	tr, id := siteTree(t, "old")
	w := New(Options{Tree: tr})
	defer w.Close()

	mod := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	batch, err := w.UploadFiles(context.Background(), "/", []content.UploadSource{
		content.BytesSource{FileName: "notes.md", Data: []byte("# notes"), ModTime: mod},
		content.BytesSource{FileName: "blob.bin", Data: []byte{0xff, 0xfe}},
		content.BytesSource{FileName: "index.html", Data: []byte("new")},
	})
	if err != nil {
		t.Fatal(err)
	}
	res := batch.Wait()
	if len(res) != 3 {
		t.Fatalf("results = %+v", res)
	}

	if res[0].Err != nil || res[0].Path != "/notes.md" || res[0].Size != 7 {
		t.Fatalf("notes.md = %+v", res[0])
	}
	n, _ := w.Tree().Find(res[0].NodeID)
	if n.Content != "# notes" || !n.Modified.Equal(mod) {
		t.Fatalf("uploaded node = %+v", n)
	}

	if !errors.Is(res[1].Err, content.ErrNotText) || res[1].Error == "" {
		t.Fatalf("blob.bin = %+v", res[1])
	}
	if _, ok := w.Tree().FindPath("/blob.bin"); ok {
		t.Fatal("failed upload must not leave a placeholder")
	}

	if res[2].NodeID != id || contentOf(t, w, id) != "new" {
		t.Fatal("upload onto an existing file updates it in place")
	}

	batch, _ = w.UploadFiles(context.Background(), "/missing", []content.UploadSource{
		content.BytesSource{FileName: "x.txt", Data: []byte("x")},
	})
	if res := batch.Wait(); !errors.Is(res[0].Err, content.ErrInvalidParent) {
		t.Fatalf("upload to missing parent = %+v", res[0])
	}
}

// gatedSource holds its read until release is closed.
type gatedSource struct {
	name    string
	body    string
	release chan struct{}
}

func (s gatedSource) Name() string { return s.name }

func (s gatedSource) Read(ctx context.Context) (content.Upload, error) {
	select {
	case <-s.release:
	case <-ctx.Done():
		return content.Upload{}, ctx.Err()
	}
	return content.Upload{Name: s.name, Content: s.body, Size: int64(len(s.body)), ModifiedAt: time.Now()}, nil
}

func TestUploadReadsArriveOutOfOrder(t *testing.T) {
	tr, id := siteTree(t, "<h1>hi</h1>")
	w := New(Options{Tree: tr, FlushDelay: time.Hour})
	defer w.Close()
	if _, err := w.Select(id); err != nil {
		t.Fatal(err)
	}

	srcs := []gatedSource{
		{name: "a.txt", body: "alpha", release: make(chan struct{})},
		{name: "b.txt", body: "bravo", release: make(chan struct{})},
		{name: "c.txt", body: "charlie", release: make(chan struct{})},
	}
	sources := make([]content.UploadSource, len(srcs))
	for i, s := range srcs {
		sources[i] = s
	}
	batch, err := w.UploadFiles(context.Background(), "/", sources)
	if err != nil {
		t.Fatal(err)
	}

	// placeholders exist before any read lands
	for _, s := range srcs {
		if n, ok := w.Tree().FindPath("/" + s.name); !ok || n.Content != "" {
			t.Fatalf("placeholder %s = %+v", s.name, n)
		}
	}

	close(srcs[2].release)
	waitFor(t, "c.txt", func() bool {
		n, ok := w.Tree().FindPath("/c.txt")
		return ok && n.Content == "charlie"
	})

	if _, err := w.Edit("<h1>edited</h1>"); err != nil {
		t.Fatal(err)
	}
	if err := w.Save(context.Background()); err != nil {
		t.Fatal(err)
	}

	close(srcs[1].release)
	close(srcs[0].release)
	res := batch.Wait()

	for i, s := range srcs {
		if res[i].Err != nil || res[i].Name != s.name {
			t.Fatalf("result %d = %+v", i, res[i])
		}
		if got := contentOf(t, w, res[i].NodeID); got != s.body {
			t.Fatalf("%s = %q, want %q", s.name, got, s.body)
		}
	}
	if got := contentOf(t, w, id); got != "<h1>edited</h1>" {
		t.Fatalf("edit lost among uploads: %q", got)
	}
}

func TestUploadRejectsRepeatedName(t *testing.T) {
	w := New(Options{Tree: content.New()})
	defer w.Close()

	batch, err := w.UploadFiles(context.Background(), "/", []content.UploadSource{
		content.BytesSource{FileName: "a.txt", Data: []byte("first")},
		content.BytesSource{FileName: "a.txt", Data: []byte("second")},
	})
	if err != nil {
		t.Fatal(err)
	}
	res := batch.Wait()
	if res[0].Err != nil || !errors.Is(res[1].Err, content.ErrDuplicateName) {
		t.Fatalf("results = %+v", res)
	}
	if got := contentOf(t, w, res[0].NodeID); got != "first" {
		t.Fatalf("a.txt = %q", got)
	}
}

func TestPreviewAutoRefreshScenario(t *testing.T) {
	tr, id := siteTree(t, "<h1>hi</h1>")
	w := New(Options{
		Tree:        tr,
		FlushDelay:  10 * time.Millisecond,
		AutoRefresh: true,
		Preview:     preview.Options{RefreshDelay: 10 * time.Millisecond},
	})
	defer w.Close()
	p := w.Preview()

	if err := w.StartPreview(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "running", func() bool { return p.Status() == preview.StatusRunning })
	if !p.Snapshot().Equal(snapshot.Snapshot{"index.html": "<h1>hi</h1>"}) {
		t.Fatalf("snapshot = %v", p.Snapshot())
	}
	old := p.State()

	_, _ = w.Select(id)
	_, _ = w.Edit("<h1>bye</h1>")

	waitFor(t, "auto-refresh", func() bool {
		st := p.State()
		return st.Status == preview.StatusRunning && st.Handle != old.Handle
	})
	if !p.Snapshot().Equal(snapshot.Snapshot{"index.html": "<h1>bye</h1>"}) {
		t.Fatalf("snapshot = %v", p.Snapshot())
	}

	rec := httptest.NewRecorder()
	p.Host().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, old.URL, nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("old handle served with %d", rec.Code)
	}
}

func TestCloseReleasesEverything(t *testing.T) {
	w := New(Options{FlushDelay: time.Hour})
	if err := w.StartPreview(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "running", func() bool { return w.Preview().Status() == preview.StatusRunning })

	files, _ := w.Tree().Count()
	if files != 4 {
		t.Fatalf("default project has %d files", files)
	}
	w.Close()
	if w.Preview().Host().Len() != 0 || w.Preview().Status() != preview.StatusStopped {
		t.Fatal("close must release the preview")
	}
	if _, err := w.UploadFiles(context.Background(), "/", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("upload after close: %v", err)
	}
}
