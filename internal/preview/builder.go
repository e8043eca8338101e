package preview

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log"
	"path"
	"regexp"
	"strings"
	"time"

	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/microcosm-cc/bluemonday"
	"github.com/tdewolff/minify/v2"
	mincss "github.com/tdewolff/minify/v2/css"
	minhtml "github.com/tdewolff/minify/v2/html"
	minjs "github.com/tdewolff/minify/v2/js"
	minjson "github.com/tdewolff/minify/v2/json"
	minsvg "github.com/tdewolff/minify/v2/svg"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"

	"github.com/petervdpas/protobench/internal/snapshot"
)

// ErrArtifactConstructionFailed is returned when a snapshot cannot be turned
// into a servable artifact.
var ErrArtifactConstructionFailed = errors.New("artifact construction failed")

// Builder turns a snapshot into an artifact. Implementations must honour
// ctx cancellation.
type Builder interface {
	Build(ctx context.Context, snap snapshot.Snapshot) (*Artifact, error)
}

// BuildFunc adapts a function to Builder.
type BuildFunc func(ctx context.Context, snap snapshot.Snapshot) (*Artifact, error)

func (f BuildFunc) Build(ctx context.Context, snap snapshot.Snapshot) (*Artifact, error) {
	return f(ctx, snap)
}

// SiteBuilder builds static site artifacts. The entry is index.html, else
// the first .html file, else the first .md file rendered to a page.
type SiteBuilder struct {
	minify bool
	md     goldmark.Markdown
	policy *bluemonday.Policy
	min    *minify.M
	css    string
	now    func() time.Time
}

const highlightStyle = "github"

var classPattern = regexp.MustCompile(`^[a-zA-Z0-9 _-]+$`)

func NewSiteBuilder(minifyOutput bool) *SiteBuilder {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			highlighting.NewHighlighting(
				highlighting.WithStyle(highlightStyle),
				highlighting.WithFormatOptions(chromahtml.WithClasses(true)),
			),
		),
		goldmark.WithParserOptions(parser.WithAutoHeadingID()),
	)

	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("class").Matching(classPattern).OnElements("span", "pre", "code", "div")

	m := minify.New()
	m.AddFunc("text/html", minhtml.Minify)
	m.AddFunc("text/css", mincss.Minify)
	m.AddFunc("application/javascript", minjs.Minify)
	m.AddFunc("application/json", minjson.Minify)
	m.AddFunc("image/svg+xml", minsvg.Minify)

	var css bytes.Buffer
	if err := chromahtml.New(chromahtml.WithClasses(true)).WriteCSS(&css, styles.Get(highlightStyle)); err != nil {
		log.Printf("PREVIEW: highlight stylesheet: %v", err)
	}

	return &SiteBuilder{
		minify: minifyOutput,
		md:     md,
		policy: policy,
		min:    m,
		css:    css.String(),
		now:    time.Now,
	}
}

// Minify reports whether text bodies are minified.
func (b *SiteBuilder) Build(ctx context.Context, snap snapshot.Snapshot) (*Artifact, error) {
	if len(snap) == 0 {
		return nil, fmt.Errorf("%w: snapshot is empty", ErrArtifactConstructionFailed)
	}
	keys := snap.Keys()
	entry, fromMarkdown := resolveEntry(keys)
	if entry == "" {
		return nil, fmt.Errorf("%w: no html or markdown entry among %d files", ErrArtifactConstructionFailed, len(keys))
	}

	art := &Artifact{
		Files:   make(map[string][]byte, len(keys)+1),
		Digest:  snap.Digest(),
		Created: b.now(),
	}
	for _, name := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		art.Files[name] = b.shrink(name, []byte(snap[name]))
	}

	art.Entry = entry
	if fromMarkdown {
		page, err := b.renderMarkdown(entry, snap[entry])
		if err != nil {
			return nil, fmt.Errorf("%w: render %s: %v", ErrArtifactConstructionFailed, entry, err)
		}
		art.Entry = "index.html"
		art.Files[art.Entry] = b.shrink(art.Entry, page)
	}
	return art, nil
}

// resolveEntry picks the entry file from sorted keys.
func resolveEntry(keys []string) (entry string, markdown bool) {
	for _, k := range keys {
		if k == "index.html" {
			return k, false
		}
	}
	for _, k := range keys {
		if strings.EqualFold(path.Ext(k), ".html") {
			return k, false
		}
	}
	for _, k := range keys {
		if strings.EqualFold(path.Ext(k), ".md") {
			return k, true
		}
	}
	return "", false
}

func (b *SiteBuilder) shrink(name string, body []byte) []byte {
	if !b.minify {
		return body
	}
	mt := minifyType(name)
	if mt == "" {
		return body
	}
	out, err := b.min.Bytes(mt, body)
	if err != nil {
		log.Printf("PREVIEW: minify warning: %s: %v (using original)", name, err)
		return body
	}
	return out
}

var pageTmpl = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>{{.CSS}}</style>
</head>
<body>
<main>{{.Body}}</main>
</body>
</html>
`))

func (b *SiteBuilder) renderMarkdown(name, src string) ([]byte, error) {
	var raw bytes.Buffer
	if err := b.md.Convert([]byte(src), &raw); err != nil {
		return nil, err
	}
	clean := b.policy.SanitizeBytes(raw.Bytes())

	var page bytes.Buffer
	err := pageTmpl.Execute(&page, struct {
		Title string
		CSS   template.CSS
		Body  template.HTML
	}{
		Title: strings.TrimSuffix(name, path.Ext(name)),
		CSS:   template.CSS(b.css),
		Body:  template.HTML(clean),
	})
	if err != nil {
		return nil, err
	}
	return page.Bytes(), nil
}
