package preview

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PathPrefix is where the Host serves artifacts.
const PathPrefix = "/preview/"

// Artifact is a built preview: file bodies keyed like the snapshot it came
// from, plus the entry file to open.
type Artifact struct {
	Handle  string
	Entry   string
	Files   map[string][]byte
	Digest  string
	Created time.Time
}

// URL returns the address the artifact is served at.
func (a *Artifact) URL() string {
	if a == nil || a.Handle == "" {
		return ""
	}
	return PathPrefix + a.Handle + "/"
}

// Host owns the registry of live artifact handles. A revoked handle is never
// served again.
type Host struct {
	mu        sync.RWMutex
	artifacts map[string]*Artifact
}

func NewHost() *Host {
	return &Host{artifacts: make(map[string]*Artifact)}
}

// Register assigns a fresh handle to a and makes it servable.
func (h *Host) Register(a *Artifact) string {
	a.Handle = uuid.NewString()
	h.mu.Lock()
	h.artifacts[a.Handle] = a
	h.mu.Unlock()
	return a.Handle
}

// Revoke releases a handle. It reports whether the handle was live.
func (h *Host) Revoke(handle string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.artifacts[handle]; !ok {
		return false
	}
	delete(h.artifacts, handle)
	return true
}

func (h *Host) Lookup(handle string) (*Artifact, bool) {
	h.mu.RLock()
	a, ok := h.artifacts[handle]
	h.mu.RUnlock()
	return a, ok
}

// Len returns the number of live handles.
func (h *Host) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.artifacts)
}

// ServeHTTP serves /preview/<handle>/<name>. An empty name serves the entry.
func (h *Host) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, PathPrefix)
	handle, name, _ := strings.Cut(rest, "/")

	a, ok := h.Lookup(handle)
	if !ok {
		http.NotFound(w, r)
		return
	}
	if name == "" {
		name = a.Entry
	}
	body, ok := a.Files[name]
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", contentTypeFor(name, body))
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(body)
}
