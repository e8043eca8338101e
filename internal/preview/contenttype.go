package preview

import (
	"mime"
	"net/http"
	"path"
	"strings"
)

// contentTypeFor returns a browser-safe Content-Type for an artifact file.
// Sniffing is overridden for .css/.js so browsers do not block them.
func contentTypeFor(name string, data []byte) string {
	ext := strings.ToLower(path.Ext(name))

	switch ext {
	case ".css":
		return "text/css; charset=utf-8"
	case ".js", ".mjs", ".jsx", ".ts", ".tsx":
		return "application/javascript; charset=utf-8"
	case ".html", ".htm":
		return "text/html; charset=utf-8"
	case ".json":
		return "application/json; charset=utf-8"
	case ".svg":
		return "image/svg+xml"
	case ".md", ".txt":
		return "text/plain; charset=utf-8"
	}

	if ext != "" {
		if mt := mime.TypeByExtension(ext); mt != "" {
			return mt
		}
	}

	return http.DetectContentType(data)
}

// minifyType maps a file name to the media type registered with the
// minifier, or "" when the file is served as-is.
func minifyType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".html", ".htm":
		return "text/html"
	case ".css":
		return "text/css"
	case ".js", ".mjs":
		return "application/javascript"
	case ".json":
		return "application/json"
	case ".svg":
		return "image/svg+xml"
	}
	return ""
}
