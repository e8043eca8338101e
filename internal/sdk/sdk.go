// Package sdk serves the browser-side helpers of the workbench, such as the
// live-reload client. Files are available at /sdk/protobench-*.js.
package sdk

import (
	"embed"
	"encoding/hex"
	"hash/fnv"
	"log"
	"net/http"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/js"
)

//go:embed *.js
var rawFS embed.FS

type asset struct {
	body []byte
	etag string
}

var (
	buildOnce sync.Once
	assets    map[string]asset
)

// load minifies every embedded script once. A script that fails to minify
// is served as written.
func load() map[string]asset {
	buildOnce.Do(func() {
		m := minify.New()
		m.AddFunc("application/javascript", js.Minify)

		assets = make(map[string]asset)
		entries, err := rawFS.ReadDir(".")
		if err != nil {
			log.Printf("SDK: %v", err)
			return
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || !strings.EqualFold(path.Ext(name), ".js") {
				continue
			}
			raw, err := rawFS.ReadFile(name)
			if err != nil {
				continue
			}
			body, err := m.Bytes("application/javascript", raw)
			if err != nil {
				log.Printf("SDK: minify %s: %v (serving original)", name, err)
				body = raw
			}
			h := fnv.New64a()
			h.Write(body)
			assets[name] = asset{body: body, etag: `"` + hex.EncodeToString(h.Sum(nil)) + `"`}
		}
	})
	return assets
}

// Files lists the served file names in sorted order.
func Files() []string {
	a := load()
	out := make([]string, 0, len(a))
	for name := range a {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Handler serves the scripts. Mount it at /sdk/ with a StripPrefix.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		a, ok := load()[strings.TrimPrefix(r.URL.Path, "/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("ETag", a.etag)
		if r.Header.Get("If-None-Match") == a.etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		if r.Method == http.MethodHead {
			return
		}
		_, _ = w.Write(a.body)
	})
}
