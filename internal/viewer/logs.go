package viewer

import (
	"encoding/json"
	"net/http"

	"github.com/petervdpas/protobench/internal/preview"
)

// serveLogsJSON returns the buffered entries, or the last ?tail=n of them.
func serveLogsJSON(b *preview.LogBuffer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries := b.Snapshot()
		if n := queryInt(r, "tail", 0); n > 0 {
			entries = b.Tail(n)
		}
		if entries == nil {
			entries = []preview.LogEntry{}
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

// serveLogsSSE streams new entries as Server-Sent Events. With ?replay=1 the
// buffered entries are sent first; otherwise it is tail only.
func serveLogsSSE(b *preview.LogBuffer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		ch, cancel := b.Subscribe()
		defer cancel()

		if queryBool(r, "replay") {
			for _, e := range b.Snapshot() {
				writeSSE(w, e)
			}
		}
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case e, ok := <-ch:
				if !ok {
					return
				}
				writeSSE(w, e)
				flusher.Flush()
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, e preview.LogEntry) {
	b, _ := json.Marshal(e)
	_, _ = w.Write([]byte("event: message\n"))
	_, _ = w.Write([]byte("data: " + string(b) + "\n\n"))
}
