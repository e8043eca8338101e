package viewer

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/petervdpas/protobench/internal/content"
	"github.com/petervdpas/protobench/internal/preview"
	"github.com/petervdpas/protobench/internal/sitetemplates"
	"github.com/petervdpas/protobench/internal/storage"
	"github.com/petervdpas/protobench/internal/workbench"
)

// maxBody caps JSON request bodies. Uploads have their own limit.
const maxBody = 8 << 20

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

// statusFor maps core errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, content.ErrNotFound),
		errors.Is(err, sitetemplates.ErrUnknownTemplate),
		errors.Is(err, storage.ErrNoProject),
		errors.Is(err, storage.ErrNoRevision):
		return http.StatusNotFound
	case errors.Is(err, content.ErrDuplicateName):
		return http.StatusConflict
	case errors.Is(err, content.ErrInvalidParent),
		errors.Is(err, content.ErrInvalidName),
		errors.Is(err, content.ErrNotAFile),
		errors.Is(err, content.ErrCyclicMove),
		errors.Is(err, content.ErrRootImmutable),
		errors.Is(err, content.ErrInvalidTree),
		errors.Is(err, preview.ErrInvalidViewport),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, workbench.ErrNoSelection),
		errors.Is(err, preview.ErrNotRunning),
		errors.Is(err, errActiveProject):
		return http.StatusConflict
	case errors.Is(err, workbench.ErrClosed),
		errors.Is(err, preview.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

var errBadRequest = errors.New("bad request")

// decodeJSON reads a JSON body into v. Failures wrap errBadRequest.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func queryBool(r *http.Request, key string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return v
}
