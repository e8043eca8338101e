package content

import (
	"path"
	"strings"
	"time"
)

// Kind distinguishes files from folders.
type Kind string

const (
	KindFile   Kind = "file"
	KindFolder Kind = "folder"
)

func (k Kind) Valid() bool {
	return k == KindFile || k == KindFolder
}

// Node is a single entry of the document tree. Nodes reachable from a
// published Tree are never modified; mutations copy the spine instead.
type Node struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Kind     Kind      `json:"type"`
	Path     string    `json:"path"`
	Content  string    `json:"content,omitempty"`  // files only
	Children []*Node   `json:"children,omitempty"` // folders only
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
	Language string    `json:"language,omitempty"`
}

func (n *Node) IsFile() bool   { return n != nil && n.Kind == KindFile }
func (n *Node) IsFolder() bool { return n != nil && n.Kind == KindFolder }

func (n *Node) clone() *Node {
	c := *n
	return &c
}

// InferKind applies the "has an extension" heuristic: names containing a dot
// are files, everything else is a folder. It misclassifies Makefile-style
// names and dotted folders, so it is only a UI convenience; tree operations
// always take an explicit Kind.
func InferKind(name string) Kind {
	if strings.Contains(strings.TrimPrefix(name, "."), ".") {
		return KindFile
	}
	return KindFolder
}

var languageByExt = map[string]string{
	"js":    "javascript",
	"jsx":   "javascript",
	"ts":    "typescript",
	"tsx":   "typescript",
	"py":    "python",
	"html":  "html",
	"css":   "css",
	"json":  "json",
	"md":    "markdown",
	"yml":   "yaml",
	"yaml":  "yaml",
	"xml":   "xml",
	"sql":   "sql",
	"sh":    "bash",
	"rs":    "rust",
	"go":    "go",
	"java":  "java",
	"cpp":   "cpp",
	"c":     "c",
	"php":   "php",
	"rb":    "ruby",
	"swift": "swift",
	"kt":    "kotlin",
	"scala": "scala",
}

// LanguageFor classifies a file name for syntax hinting.
func LanguageFor(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	if lang, ok := languageByExt[ext]; ok {
		return lang
	}
	return "text"
}

// Equal reports whether two subtrees are structurally equal. Modification
// times are ignored; nil and empty child lists compare equal.
func Equal(a, b *Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.ID != b.ID || a.Name != b.Name || a.Kind != b.Kind || a.Path != b.Path ||
		a.Content != b.Content || a.Size != b.Size || a.Language != b.Language {
		return false
	}
	if len(a.Children) != len(b.Children) {
		return false
	}
	for i := range a.Children {
		if !Equal(a.Children[i], b.Children[i]) {
			return false
		}
	}
	return true
}

func childPath(parent, name string) string {
	if parent == "/" || parent == "" {
		return "/" + name
	}
	return parent + "/" + name
}

// normalizePath turns user input into an absolute slash path ("/" for root).
func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	p = strings.ReplaceAll(p, `\`, "/")
	return path.Clean("/" + p)
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." {
		return ErrInvalidName
	}
	if strings.ContainsAny(name, `/\`) {
		return ErrInvalidName
	}
	return nil
}

// repath copies n and its descendants so every Path reflects p as n's path.
func repath(n *Node, p string) *Node {
	c := n.clone()
	c.Path = p
	if n.Kind == KindFolder && len(n.Children) > 0 {
		c.Children = make([]*Node, len(n.Children))
		for i, ch := range n.Children {
			c.Children[i] = repath(ch, childPath(p, ch.Name))
		}
	}
	return c
}
