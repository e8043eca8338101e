package viewer

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/petervdpas/protobench/internal/content"
	"github.com/petervdpas/protobench/internal/editor"
	"github.com/petervdpas/protobench/internal/preview"
	"github.com/petervdpas/protobench/internal/sitetemplates"
	"github.com/petervdpas/protobench/internal/workbench"
)

// maxUpload caps a multipart upload request.
const maxUpload = 64 << 20

func registerTreeRoutes(r chi.Router, wb *workbench.Workbench) {
	r.Get("/tree", func(w http.ResponseWriter, r *http.Request) {
		t := wb.Tree()
		files, folders := t.Count()
		writeJSON(w, http.StatusOK, map[string]any{
			"root":    t.Root(),
			"files":   files,
			"folders": folders,
		})
	})

	// POST /api/nodes {"parent":"/src","name":"app.js","type":"file"}
	// An empty type is inferred from the name.
	r.Post("/nodes", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Parent string       `json:"parent"`
			Name   string       `json:"name"`
			Type   content.Kind `json:"type"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		if req.Parent == "" {
			req.Parent = "/"
		}
		if req.Type == "" {
			req.Type = content.InferKind(req.Name)
		}
		n, err := wb.Create(req.Parent, req.Name, req.Type)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, n)
	})

	r.Delete("/nodes/{id}", func(w http.ResponseWriter, r *http.Request) {
		n, err := wb.Delete(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, n)
	})

	r.Post("/nodes/{id}/rename", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name string `json:"name"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		n, err := wb.Rename(chi.URLParam(r, "id"), req.Name)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, n)
	})

	r.Post("/nodes/{id}/move", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Parent string `json:"parent"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		n, err := wb.Move(chi.URLParam(r, "id"), req.Parent)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, n)
	})

	r.Put("/nodes/{id}/content", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Content string `json:"content"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		n, err := wb.UpdateContent(chi.URLParam(r, "id"), req.Content)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, n)
	})

	// POST /api/upload (multipart: "parent" field, one or more "files")
	r.Post("/upload", func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
		if err := r.ParseMultipartForm(maxUpload); err != nil {
			writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}
		defer r.MultipartForm.RemoveAll()

		parent := r.FormValue("parent")
		if parent == "" {
			parent = "/"
		}
		headers := r.MultipartForm.File["files"]
		if len(headers) == 0 {
			writeError(w, fmt.Errorf("%w: no files", errBadRequest))
			return
		}
		sources := make([]content.UploadSource, len(headers))
		for i, fh := range headers {
			sources[i] = content.MultipartSource{Header: fh}
		}

		batch, err := wb.UploadFiles(r.Context(), parent, sources)
		if err != nil {
			writeError(w, err)
			return
		}
		results := batch.Wait()
		failed := 0
		for _, res := range results {
			if res.Err != nil {
				failed++
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"results": results,
			"failed":  failed,
		})
	})

	// GET /api/project/export?lowEnd=true
	r.Get("/project/export", func(w http.ResponseWriter, r *http.Request) {
		b, err := content.ExportProject(wb.Tree(), queryBool(r, "lowEnd"))
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="project.json"`)
		_, _ = w.Write(b)
	})

	r.Get("/snapshot", func(w http.ResponseWriter, r *http.Request) {
		snap := wb.Snapshot()
		writeJSON(w, http.StatusOK, map[string]any{
			"digest": snap.Digest(),
			"files":  snap,
		})
	})
}

func registerEditorRoutes(r chi.Router, wb *workbench.Workbench) {
	r.Get("/editor", func(w http.ResponseWriter, r *http.Request) {
		st, err := wb.Editor()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	})

	// DELETE /api/editor closes the open file after flushing it.
	r.Delete("/editor", func(w http.ResponseWriter, r *http.Request) {
		wb.Deselect()
		w.WriteHeader(http.StatusNoContent)
	})

	r.Post("/editor/select", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID string `json:"id"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		st, err := wb.Select(req.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	})

	r.Put("/editor/buffer", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Buffer string `json:"buffer"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		st, err := wb.Edit(req.Buffer)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	})

	r.Post("/editor/undo", editorAction(wb.Undo))
	r.Post("/editor/redo", editorAction(wb.Redo))

	r.Post("/editor/save", func(w http.ResponseWriter, r *http.Request) {
		if err := wb.Save(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
	})

	// GET /api/editor/find?q=needle
	r.Get("/editor/find", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		if q == "" {
			writeError(w, fmt.Errorf("%w: missing q", errBadRequest))
			return
		}
		ranges, err := wb.Find(q)
		if err != nil {
			writeError(w, err)
			return
		}
		if ranges == nil {
			ranges = []editor.Range{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"query": q, "matches": ranges})
	})

	r.Post("/editor/replace", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query       string `json:"query"`
			Replacement string `json:"replacement"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		if req.Query == "" {
			writeError(w, fmt.Errorf("%w: empty query", errBadRequest))
			return
		}
		n, st, err := wb.ReplaceAll(req.Query, req.Replacement)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"replaced": n, "editor": st})
	})
}

func editorAction(op func() (workbench.EditorState, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := op()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func registerPreviewRoutes(r chi.Router, wb *workbench.Workbench) {
	p := wb.Preview()

	r.Get("/preview", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, p.State())
	})

	r.Post("/preview/start", func(w http.ResponseWriter, r *http.Request) {
		if err := wb.StartPreview(); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, p.State())
	})

	r.Post("/preview/stop", func(w http.ResponseWriter, r *http.Request) {
		p.Stop()
		writeJSON(w, http.StatusOK, p.State())
	})

	r.Post("/preview/refresh", func(w http.ResponseWriter, r *http.Request) {
		if err := p.Refresh(); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, p.State())
	})

	r.Put("/preview/viewport", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Viewport string `json:"viewport"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		v, err := preview.ParseViewport(strings.TrimSpace(req.Viewport))
		if err == nil {
			err = p.SetViewport(v)
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p.State())
	})

	r.Get("/preview/logs", serveLogsJSON(p.Logs()))
	r.Get("/preview/logs/stream", serveLogsSSE(p.Logs()))
}

func registerTemplateRoutes(r chi.Router, wb *workbench.Workbench) {
	r.Get("/templates", func(w http.ResponseWriter, r *http.Request) {
		metas, err := sitetemplates.List()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, metas)
	})

	// POST /api/project/template {"dir":"landing"} replaces the whole project.
	r.Post("/project/template", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Dir string `json:"dir"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		t, err := sitetemplates.Project(req.Dir)
		if err != nil {
			writeError(w, err)
			return
		}
		wb.ReplaceTree(t)
		files, folders := t.Count()
		writeJSON(w, http.StatusOK, map[string]any{"dir": req.Dir, "files": files, "folders": folders})
	})
}
