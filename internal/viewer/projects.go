package viewer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/petervdpas/protobench/internal/content"
	"github.com/petervdpas/protobench/internal/storage"
	"github.com/petervdpas/protobench/internal/workbench"
)

// ProjectStore is the saved-project store behind the project routes.
// *storage.DB implements it.
type ProjectStore interface {
	ListProjects(ctx context.Context) ([]storage.ProjectInfo, error)
	DeleteProject(ctx context.Context, name string) error
	Revisions(ctx context.Context, name string) ([]storage.Revision, error)
	LoadRevision(ctx context.Context, name string, id int64, opts ...content.Option) (*content.Tree, error)
}

var errActiveProject = errors.New("project is open")

func registerProjectRoutes(r chi.Router, wb *workbench.Workbench, store ProjectStore, active string) {
	r.Get("/projects", func(w http.ResponseWriter, r *http.Request) {
		list, err := store.ListProjects(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		if list == nil {
			list = []storage.ProjectInfo{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"active": active, "projects": list})
	})

	r.Delete("/projects/{name}", func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if name == active {
			writeError(w, fmt.Errorf("delete %s: %w", name, errActiveProject))
			return
		}
		if err := store.DeleteProject(r.Context(), name); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"deleted": name})
	})

	r.Get("/project/revisions", func(w http.ResponseWriter, r *http.Request) {
		revs, err := store.Revisions(r.Context(), active)
		if err != nil {
			writeError(w, err)
			return
		}
		if revs == nil {
			revs = []storage.Revision{}
		}
		writeJSON(w, http.StatusOK, revs)
	})

	// POST /api/project/revisions/{id}/restore replaces the tree with a
	// saved revision. The restore itself is saved as a new revision.
	r.Post("/project/revisions/{id}/restore", func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			writeError(w, fmt.Errorf("%w: revision id %q", errBadRequest, chi.URLParam(r, "id")))
			return
		}
		t, err := store.LoadRevision(r.Context(), active, id)
		if err != nil {
			writeError(w, err)
			return
		}
		wb.ReplaceTree(t)
		files, folders := t.Count()
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "files": files, "folders": folders})
	})
}
