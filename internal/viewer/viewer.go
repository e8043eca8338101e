// Package viewer is the HTTP surface of the workbench: a JSON API over the
// tree, editor and preview, artifact serving, log streams and a websocket
// for live updates.
package viewer

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/petervdpas/protobench/internal/preview"
	"github.com/petervdpas/protobench/internal/sdk"
	"github.com/petervdpas/protobench/internal/snapshot"
	"github.com/petervdpas/protobench/internal/util"
	"github.com/petervdpas/protobench/internal/workbench"
)

type Viewer struct {
	Bench *workbench.Workbench
	// Logs captures the process log (log.SetOutput). Optional.
	Logs *preview.LogBuffer
	// Debug adds request logging.
	Debug bool
	// Store enables the saved-project routes for Project. Optional.
	Store   ProjectStore
	Project string
}

// Server is a running viewer.
type Server struct {
	v   Viewer
	hub *Hub

	unsubscribe []func()
	handler     http.Handler
}

// New wires the routes and subscribes the websocket hub to snapshot and
// preview changes.
func New(v Viewer) *Server {
	s := &Server{v: v, hub: NewHub()}

	s.unsubscribe = append(s.unsubscribe, v.Bench.OnSnapshotChanged(func(snap snapshot.Snapshot) {
		s.hub.Broadcast(snapshotEvent(snap))
	}))

	states, cancel := v.Bench.Preview().Watch()
	s.unsubscribe = append(s.unsubscribe, cancel)
	go func() {
		for st := range states {
			s.hub.Broadcast(previewEvent(st))
		}
	}()

	s.handler = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.handler }
func (s *Server) Hub() *Hub               { return s.hub }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if s.v.Debug {
		r.Use(middleware.Logger)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(noCache)
		registerTreeRoutes(r, s.v.Bench)
		registerEditorRoutes(r, s.v.Bench)
		registerPreviewRoutes(r, s.v.Bench)
		registerTemplateRoutes(r, s.v.Bench)
		if s.v.Store != nil {
			registerProjectRoutes(r, s.v.Bench, s.v.Store, s.v.Project)
		}
		if s.v.Logs != nil {
			r.Get("/logs", serveLogsJSON(s.v.Logs))
			r.Get("/logs/stream", serveLogsSSE(s.v.Logs))
		}
	})

	r.Method(http.MethodGet, preview.PathPrefix+"*", s.v.Bench.Preview().Host())
	r.Method(http.MethodHead, preview.PathPrefix+"*", s.v.Bench.Preview().Host())

	r.Handle("/sdk/*", http.StripPrefix("/sdk/", sdk.Handler()))

	r.Get("/ws", s.hub.serve(func() []Event {
		return []Event{
			snapshotEvent(s.v.Bench.Snapshot()),
			previewEvent(s.v.Bench.Preview().State()),
		}
	}))
	return r
}

// Serve runs an HTTP server on l until ctx is done, then shuts it down.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(l) }()
	log.Printf("VIEWER: listening on http://%s", l.Addr())

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	// streaming handlers end with ctx
	s.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), util.DefaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		srv.Close()
	}
	return nil
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

// Close unsubscribes from the workbench and disconnects websocket clients.
func (s *Server) Close() {
	for _, fn := range s.unsubscribe {
		fn()
	}
	s.unsubscribe = nil
	s.hub.Close()
}
