// internal/sitetemplates/embed.go

package sitetemplates

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/petervdpas/protobench/internal/content"
)

//go:embed all:blank all:landing all:notes
var templateFS embed.FS

var ErrUnknownTemplate = errors.New("unknown template")

// TemplateMeta holds template metadata from manifest.json
type TemplateMeta struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Icon        string `json:"icon"`
	Dir         string `json:"dir"` // directory name (e.g. "landing")
}

// List returns metadata for all available templates.
func List() ([]TemplateMeta, error) {
	entries, err := templateFS.ReadDir(".")
	if err != nil {
		return nil, err
	}

	var out []TemplateMeta
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m, err := readManifest(e.Name())
		if err != nil {
			continue // skip broken templates
		}
		out = append(out, m)
	}
	return out, nil
}

// SiteFiles returns all site files (everything but the manifest) for a
// template. Returns a map of relative path → file content.
func SiteFiles(dir string) (map[string][]byte, error) {
	if _, err := readManifest(dir); err != nil {
		return nil, err
	}
	out := make(map[string][]byte)

	err := fs.WalkDir(templateFS, dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		base := strings.TrimPrefix(p, dir+"/")
		if base == "manifest.json" {
			return nil
		}
		data, err := templateFS.ReadFile(p)
		if err != nil {
			return err
		}
		out[base] = data
		return nil
	})

	return out, err
}

// Project builds a document tree holding the template's files.
func Project(dir string, opts ...content.Option) (*content.Tree, error) {
	files, err := SiteFiles(dir)
	if err != nil {
		return nil, err
	}
	rels := make([]string, 0, len(files))
	for rel := range files {
		rels = append(rels, rel)
	}
	sort.Strings(rels)

	t := content.New(opts...)
	for _, rel := range rels {
		parent := "/"
		parts := strings.Split(rel, "/")
		for _, folder := range parts[:len(parts)-1] {
			p := path.Join(parent, folder)
			if _, ok := t.FindPath(p); !ok {
				if t, _, err = t.Create(parent, folder, content.KindFolder); err != nil {
					return nil, fmt.Errorf("template %s: %w", dir, err)
				}
			}
			parent = p
		}
		next, n, err := t.Create(parent, parts[len(parts)-1], content.KindFile)
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", dir, err)
		}
		if t, err = next.UpdateContent(n.ID, string(files[rel])); err != nil {
			return nil, fmt.Errorf("template %s: %w", dir, err)
		}
	}
	return t, nil
}

// GetMeta returns the manifest metadata for a specific template directory.
func GetMeta(dir string) (TemplateMeta, error) {
	return readManifest(dir)
}

func readManifest(dir string) (TemplateMeta, error) {
	var m TemplateMeta
	if dir == "" || dir == "." || strings.ContainsAny(dir, `/\`) {
		return m, fmt.Errorf("%w: %q", ErrUnknownTemplate, dir)
	}
	b, err := templateFS.ReadFile(path.Join(dir, "manifest.json"))
	if errors.Is(err, fs.ErrNotExist) {
		return m, fmt.Errorf("%w: %q", ErrUnknownTemplate, dir)
	}
	if err != nil {
		return m, err
	}
	if err = json.Unmarshal(b, &m); err != nil {
		return m, err
	}
	m.Dir = dir
	return m, nil
}
