package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/petervdpas/protobench/internal/config"
	"github.com/petervdpas/protobench/internal/content"
	"github.com/petervdpas/protobench/internal/editor"
	"github.com/petervdpas/protobench/internal/importer"
	"github.com/petervdpas/protobench/internal/preview"
	"github.com/petervdpas/protobench/internal/sitetemplates"
	"github.com/petervdpas/protobench/internal/snapshot"
	"github.com/petervdpas/protobench/internal/storage"
	"github.com/petervdpas/protobench/internal/util"
	"github.com/petervdpas/protobench/internal/viewer"
	"github.com/petervdpas/protobench/internal/workbench"
)

type Options struct {
	ProjectDir string
	CfgPath    string
	Cfg        config.Config
	// Ready is called with the viewer URL once the server is listening.
	Ready func(url string)
}

// Run serves the workbench for one project directory until ctx is done.
func Run(ctx context.Context, opt Options) error {
	cfg := opt.Cfg

	logBuf := preview.NewLogBuffer(cfg.Viewer.LogLimit)
	log.SetOutput(io.MultiWriter(os.Stderr, logBuf))
	defer log.SetOutput(os.Stderr)

	logBanner(opt.ProjectDir, opt.CfgPath, cfg)

	p, err := openProject(ctx, opt)
	if err != nil {
		return err
	}
	defer p.close()

	wb := p.bench
	if v, err := preview.ParseViewport(cfg.Preview.Viewport); err == nil {
		_ = wb.Preview().SetViewport(v)
	}

	if cfg.Import.Watch {
		if err := p.imp.Watch(ctx); err != nil {
			log.Printf("IMPORT: watch disabled: %v", err)
		}
	}

	v := viewer.Viewer{Bench: wb, Logs: logBuf, Debug: cfg.Viewer.Debug}
	if p.db != nil {
		v.Store, v.Project = p.db, cfg.Storage.Project
		p.reopenLastFile(cfg.Storage.Project)
	}
	srv := viewer.New(v)
	defer srv.Close()

	addr, url := NormalizeLocalViewer(cfg.Viewer.HTTPAddr)
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe(ctx, addr) }()

	if err := WaitTCP(addr, readyTimeout); err != nil {
		return fmt.Errorf("viewer: %w", err)
	}
	log.Printf("🌐 Workbench: %s", url)
	if opt.Ready != nil {
		opt.Ready(url)
	}

	if err := wb.StartPreview(); err != nil {
		log.Printf("PREVIEW: start: %v", err)
	}

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("viewer: %w", err)
		}
	case <-ctx.Done():
		<-errc
	}

	log.Println("========================================")
	log.Println("WORKBENCH: shutting down, saving project...")
	log.Println("========================================")
	saveCtx, cancel := context.WithTimeout(context.Background(), util.DefaultShutdownTimeout)
	defer cancel()
	if err := wb.Save(saveCtx); err != nil {
		log.Printf("STORE: final save failed: %v", err)
	}
	if p.db != nil {
		p.rememberOpenFile(cfg.Storage.Project)
	}
	return nil
}

// project is the composed state of one project directory.
type project struct {
	bench *workbench.Workbench
	imp   *importer.Importer
	db    *storage.DB
}

func (p *project) close() {
	if p.imp != nil {
		_ = p.imp.Close()
	}
	p.bench.Close()
	if p.db != nil {
		_ = p.db.Close()
	}
}

// lastFileKey is the _meta key holding the file open at shutdown.
func lastFileKey(project string) string { return "last_file:" + project }

// rememberOpenFile records the editor's file so the next start reopens it.
func (p *project) rememberOpenFile(name string) {
	var path string
	if st, err := p.bench.Editor(); err == nil {
		path = st.Path
	}
	if err := p.db.SetMeta(lastFileKey(name), path); err != nil {
		log.Printf("STORE: remember open file: %v", err)
	}
}

// reopenLastFile selects the file that was open at the last shutdown, if it
// still exists.
func (p *project) reopenLastFile(name string) {
	path, err := p.db.GetMeta(lastFileKey(name))
	if err != nil || path == "" {
		return
	}
	n, ok := p.bench.Tree().FindPath(path)
	if !ok || !n.IsFile() {
		return
	}
	if _, err := p.bench.Select(n.ID); err == nil {
		log.Printf("EDITOR: reopened %s", path)
	}
}

// openProject loads the saved tree (if storage is enabled), builds the
// workbench and imports the project directory over it. Files on disk win
// over the stored copy. An empty project gets the starter files.
func openProject(ctx context.Context, opt Options) (*project, error) {
	cfg := opt.Cfg
	t := cfg.Timings()
	p := &project{}

	var (
		tree    *content.Tree
		persist workbench.PersistFunc
		err     error
	)
	if cfg.Storage.Enabled {
		var db *storage.DB
		db, err = storage.Open(util.ResolvePath(opt.ProjectDir, cfg.Paths.DataDir))
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		p.db = db
		log.Printf("STORE: %s", db.Path())
		if cfg.Storage.Revisions > 0 {
			db.SetRevisionLimit(cfg.Storage.Revisions)
		}
		tree, err = db.LoadProject(ctx, cfg.Storage.Project)
		switch {
		case errors.Is(err, storage.ErrNoProject):
			log.Printf("STORE: no saved project %q", cfg.Storage.Project)
		case err != nil:
			db.Close()
			return nil, fmt.Errorf("load project: %w", err)
		default:
			files, folders := tree.Count()
			log.Printf("STORE: loaded %q (%d files, %d folders)", cfg.Storage.Project, files, folders)
		}
		persist = db.Persister(cfg.Storage.Project)
	}
	if tree == nil {
		tree = content.New()
	}

	p.bench = workbench.New(benchOptions(cfg, t, tree, persist))

	p.imp = importer.New(opt.ProjectDir, p.bench, importer.Options{
		Skip:   importSkips(cfg, opt.CfgPath),
		Mirror: cfg.Import.Mirror,
		Settle: util.Millis(cfg.Import.SettleMs),
	})
	if _, err = p.imp.Import(ctx); err != nil {
		p.close()
		return nil, err
	}

	if files, _ := p.bench.Tree().Count(); files == 0 {
		seed := content.DefaultProject()
		if name := cfg.Import.Template; name != "" {
			if seed, err = sitetemplates.Project(name); err != nil {
				p.close()
				return nil, err
			}
		}
		p.bench.ReplaceTree(seed)
	}
	return p, nil
}

func benchOptions(cfg config.Config, t config.Timings, tree *content.Tree, persist workbench.PersistFunc) workbench.Options {
	var snapOpts []snapshot.Option
	if cfg.Preview.KeyBy == "path" {
		snapOpts = append(snapOpts, snapshot.WithKeyMode(snapshot.KeyByPath))
	}
	return workbench.Options{
		Tree:          tree,
		Persist:       persist,
		FlushDelay:    t.Flush,
		AutosaveDelay: t.AutoSave,
		History: editor.Options{
			SignificantDelta: t.SignificantDelta,
			HistoryLimit:     t.HistoryLimit,
		},
		Snapshot: snapOpts,
		Preview: preview.Options{
			Builder:      preview.NewSiteBuilder(t.Minify),
			RefreshDelay: t.Refresh,
			LogLimit:     t.LogLimit,
		},
		AutoRefresh: cfg.Preview.AutoRefresh,
	}
}

// importSkips keeps the config file and data dir out of the tree.
func importSkips(cfg config.Config, cfgPath string) []string {
	skip := append([]string(nil), cfg.Import.Skip...)
	if cfgPath != "" {
		skip = append(skip, filepath.Base(cfgPath))
	}
	if d := filepath.Base(filepath.Clean(cfg.Paths.DataDir)); d != "." && d != string(filepath.Separator) {
		skip = append(skip, d)
	}
	return skip
}

// Export writes the project directory as a project document. The saved
// copy is used as the base when storage is enabled.
func Export(ctx context.Context, opt Options, w io.Writer, lowEnd bool) error {
	o := opt
	o.Cfg.Import.Watch = false
	o.Cfg.Editor.AutoSave = false

	p, err := openProject(ctx, o)
	if err != nil {
		return err
	}
	defer p.close()

	b, err := content.ExportProject(p.bench.Tree(), lowEnd)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}
