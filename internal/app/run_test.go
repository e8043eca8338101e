package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/petervdpas/protobench/internal/config"
	"github.com/petervdpas/protobench/internal/content"
	"github.com/petervdpas/protobench/internal/storage"
)

func writeFile(t *testing.T, p, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

func TestNormalizeLocalViewer(t *testing.T) {
	cases := map[string]string{
		":7878":         "127.0.0.1:7878",
		"0.0.0.0:9000":  "127.0.0.1:9000",
		"localhost:80":  "localhost:80",
		" 127.0.0.1:1 ": "127.0.0.1:1",
	}
	for in, want := range cases {
		addr, url := NormalizeLocalViewer(in)
		if addr != want || url != "http://"+want {
			t.Errorf("NormalizeLocalViewer(%q) = %q, %q", in, addr, url)
		}
	}
}

func TestExportWithoutStorage(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "index.html"), "<h1>hi</h1>")
	writeFile(t, filepath.Join(dir, "protobench.json"), "{}")

	cfg := config.Default()
	cfg.Storage.Enabled = false

	var out bytes.Buffer
	err := Export(context.Background(), Options{
		ProjectDir: dir,
		CfgPath:    filepath.Join(dir, "protobench.json"),
		Cfg:        cfg,
	}, &out, false)
	if err != nil {
		t.Fatal(err)
	}
	tree, err := content.ImportProject(out.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if n, ok := tree.FindPath("/index.html"); !ok || n.Content != "<h1>hi</h1>" {
		t.Fatalf("/index.html = %+v", n)
	}
	if _, ok := tree.FindPath("/protobench.json"); ok {
		t.Fatal("config file must not be exported")
	}
}

func TestExportEmptyDirectoryGetsStarterFiles(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Enabled = false

	var out bytes.Buffer
	if err := Export(context.Background(), Options{ProjectDir: t.TempDir(), Cfg: cfg}, &out, false); err != nil {
		t.Fatal(err)
	}
	tree, err := content.ImportProject(out.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if files, _ := tree.Count(); files == 0 {
		t.Fatal("expected the starter project")
	}
}

func TestRunServesAndSaves(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "index.html"), "<h1>hi</h1>")

	cfg := config.Default()
	cfg.Viewer.HTTPAddr = freeAddr(t)
	cfg.Import.Watch = false

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, Options{
			ProjectDir: dir,
			CfgPath:    filepath.Join(dir, "protobench.json"),
			Cfg:        cfg,
			Ready:      func(url string) { ready <- url },
		})
	}()

	var url string
	select {
	case url = <-ready:
	case err := <-done:
		t.Fatalf("Run returned early: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("viewer never became ready")
	}

	resp, err := http.Get(url + "/api/tree")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	var tree struct {
		Files int `json:"files"`
	}
	if err := json.Unmarshal(body, &tree); err != nil || tree.Files != 1 {
		t.Fatalf("tree = %s (%v)", body, err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not stop")
	}

	db, err := storage.Open(filepath.Join(dir, cfg.Paths.DataDir))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	saved, err := db.LoadProject(context.Background(), cfg.Storage.Project)
	if err != nil {
		t.Fatal(err)
	}
	if n, ok := saved.FindPath("/index.html"); !ok || n.Content != "<h1>hi</h1>" {
		t.Fatalf("saved /index.html = %+v", n)
	}
}

func TestExportSeedsConfiguredTemplate(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Enabled = false
	cfg.Import.Template = "notes"

	var out bytes.Buffer
	if err := Export(context.Background(), Options{ProjectDir: t.TempDir(), Cfg: cfg}, &out, true); err != nil {
		t.Fatal(err)
	}
	var doc content.ProjectFile
	if err := json.Unmarshal(out.Bytes(), &doc); err != nil {
		t.Fatal(err)
	}
	if !doc.Metadata.OptimizeForLowEnd {
		t.Fatal("low-end flag not recorded")
	}
	tree, err := content.ImportProject(out.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := tree.FindPath("/notes.md"); !ok {
		t.Fatal("template file missing")
	}
}

func TestReopenKeepsSavedEdits(t *testing.T) {
	dir := t.TempDir()
	index := filepath.Join(dir, "index.html")
	writeFile(t, index, "<h1>disk</h1>")
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(index, old, old); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Import.Watch = false
	cfg.Editor.AutoSave = false
	opt := Options{ProjectDir: dir, Cfg: cfg}
	ctx := context.Background()

	p, err := openProject(ctx, opt)
	if err != nil {
		t.Fatal(err)
	}
	n, _ := p.bench.Tree().FindPath("/index.html")
	if _, err := p.bench.UpdateContent(n.ID, "<h1>edited</h1>"); err != nil {
		t.Fatal(err)
	}
	if _, err := p.bench.Select(n.ID); err != nil {
		t.Fatal(err)
	}
	if err := p.bench.Save(ctx); err != nil {
		t.Fatal(err)
	}
	p.rememberOpenFile(cfg.Storage.Project)
	p.close()

	p, err = openProject(ctx, opt)
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := p.bench.Tree().FindPath("/index.html"); n.Content != "<h1>edited</h1>" {
		t.Fatalf("after reopen /index.html = %q", n.Content)
	}
	p.reopenLastFile(cfg.Storage.Project)
	if st, err := p.bench.Editor(); err != nil || st.Path != "/index.html" {
		t.Fatalf("reopened editor = %+v, %v", st, err)
	}

	// a disk copy changed while the workbench was closed wins
	writeFile(t, index, "<h1>disk again</h1>")
	newer := time.Now().Add(time.Hour)
	if err := os.Chtimes(index, newer, newer); err != nil {
		t.Fatal(err)
	}
	p.close()

	p, err = openProject(ctx, opt)
	if err != nil {
		t.Fatal(err)
	}
	defer p.close()
	if n, _ := p.bench.Tree().FindPath("/index.html"); n.Content != "<h1>disk again</h1>" {
		t.Fatalf("newer disk copy ignored: %q", n.Content)
	}
}
