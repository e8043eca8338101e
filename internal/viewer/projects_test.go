package viewer

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/petervdpas/protobench/internal/content"
	"github.com/petervdpas/protobench/internal/storage"
	"github.com/petervdpas/protobench/internal/workbench"
)

func newStoreServer(t *testing.T) (*workbench.Workbench, *storage.DB, *httptest.Server) {
	t.Helper()
	db, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	wb := workbench.New(workbench.Options{
		Tree:       content.New(),
		FlushDelay: 10 * time.Millisecond,
		Persist:    db.Persister("demo"),
	})
	s := New(Viewer{Bench: wb, Store: db, Project: "demo"})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Close()
		ts.Close()
		wb.Close()
		db.Close()
	})
	return wb, db, ts
}

func TestRevisionRestore(t *testing.T) {
	wb, _, ts := newStoreServer(t)
	ctx := context.Background()

	n, err := wb.Create("/", "index.html", content.KindFile)
	if err != nil {
		t.Fatal(err)
	}
	for _, body := range []string{"<h1>one</h1>", "<h1>two</h1>"} {
		if _, err := wb.UpdateContent(n.ID, body); err != nil {
			t.Fatal(err)
		}
		if err := wb.Save(ctx); err != nil {
			t.Fatal(err)
		}
	}

	resp, body := do(t, http.MethodGet, ts.URL+"/api/project/revisions", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("revisions = %d %s", resp.StatusCode, body)
	}
	revs := decode[[]storage.Revision](t, body)
	if len(revs) != 2 {
		t.Fatalf("revisions = %+v", revs)
	}

	oldest := revs[len(revs)-1].ID
	resp, body = do(t, http.MethodPost, fmt.Sprintf("%s/api/project/revisions/%d/restore", ts.URL, oldest), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("restore = %d %s", resp.StatusCode, body)
	}
	if got, _ := wb.Tree().FindPath("/index.html"); got == nil || got.Content != "<h1>one</h1>" {
		t.Fatalf("restored /index.html = %+v", got)
	}

	cases := []struct {
		url  string
		want int
	}{
		{"/api/project/revisions/abc/restore", http.StatusBadRequest},
		{"/api/project/revisions/9999/restore", http.StatusNotFound},
	}
	for _, c := range cases {
		if resp, body := do(t, http.MethodPost, ts.URL+c.url, nil); resp.StatusCode != c.want {
			t.Errorf("POST %s = %d %s, want %d", c.url, resp.StatusCode, body, c.want)
		}
	}
}

func TestProjectList(t *testing.T) {
	wb, db, ts := newStoreServer(t)
	ctx := context.Background()

	if err := wb.Save(ctx); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveProject(ctx, "scratch", content.DefaultProject()); err != nil {
		t.Fatal(err)
	}

	resp, body := do(t, http.MethodGet, ts.URL+"/api/projects", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("projects = %d %s", resp.StatusCode, body)
	}
	list := decode[struct {
		Active   string                `json:"active"`
		Projects []storage.ProjectInfo `json:"projects"`
	}](t, body)
	if list.Active != "demo" || len(list.Projects) != 2 || list.Projects[1].Name != "scratch" {
		t.Fatalf("projects = %+v", list)
	}

	cases := []struct {
		name string
		want int
	}{
		{"demo", http.StatusConflict},
		{"scratch", http.StatusOK},
		{"scratch", http.StatusNotFound},
	}
	for _, c := range cases {
		if resp, body := do(t, http.MethodDelete, ts.URL+"/api/projects/"+c.name, nil); resp.StatusCode != c.want {
			t.Errorf("DELETE %s = %d %s, want %d", c.name, resp.StatusCode, body, c.want)
		}
	}
}

func TestProjectRoutesNeedStore(t *testing.T) {
	_, _, ts := newTestServer(t)
	if resp, _ := do(t, http.MethodGet, ts.URL+"/api/projects", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("projects without store = %d", resp.StatusCode)
	}
}

func TestEditorClose(t *testing.T) {
	wb, _, ts := newTestServer(t)
	n, err := wb.Create("/", "a.txt", content.KindFile)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wb.Select(n.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := wb.Edit("pending"); err != nil {
		t.Fatal(err)
	}

	if resp, _ := do(t, http.MethodDelete, ts.URL+"/api/editor", nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("close = %d", resp.StatusCode)
	}
	if got, _ := wb.Tree().FindPath("/a.txt"); got.Content != "pending" {
		t.Fatalf("close did not flush: %q", got.Content)
	}
	if resp, _ := do(t, http.MethodGet, ts.URL+"/api/editor", nil); resp.StatusCode != http.StatusConflict {
		t.Fatalf("editor after close = %d", resp.StatusCode)
	}
}
