package content

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const ProjectVersion = "1.0.0"

// ProjectMeta is the metadata block of an exported project.
type ProjectMeta struct {
	Created           time.Time `json:"created"`
	Version           string    `json:"version"`
	OptimizeForLowEnd bool      `json:"optimizeForLowEnd"`
}

// ProjectFile is the downloadable project document.
type ProjectFile struct {
	Files    []*Node     `json:"files"`
	Metadata ProjectMeta `json:"metadata"`
}

// ExportProject serializes the tree as an indented project document.
func ExportProject(t *Tree, lowEnd bool) ([]byte, error) {
	doc := ProjectFile{
		Files: []*Node{t.Root()},
		Metadata: ProjectMeta{
			Created:           t.now().UTC(),
			Version:           ProjectVersion,
			OptimizeForLowEnd: lowEnd,
		},
	}
	return json.MarshalIndent(doc, "", "  ")
}

// ImportProject parses a project document produced by ExportProject. A
// document with several top-level entries is wrapped in a fresh root.
func ImportProject(b []byte, opts ...Option) (*Tree, error) {
	var doc ProjectFile
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode project: %w", err)
	}
	switch len(doc.Files) {
	case 0:
		return nil, errors.New("project has no files")
	case 1:
		if doc.Files[0] != nil && doc.Files[0].Kind == KindFolder && doc.Files[0].Path == "/" {
			return FromRoot(doc.Files[0], opts...)
		}
	}
	root := &Node{ID: "root", Name: RootName, Kind: KindFolder, Children: doc.Files}
	return FromRoot(root, opts...)
}

// DefaultProject seeds a new workbench with a small static site.
func DefaultProject(opts ...Option) *Tree {
	t := New(opts...)
	seed := []struct{ name, body string }{
		{"index.html", defaultIndex},
		{"styles.css", defaultStyles},
		{"script.js", defaultScript},
		{"README.md", defaultReadme},
	}
	for _, f := range seed {
		next, n, err := t.Create("/", f.name, KindFile)
		if err != nil {
			continue
		}
		if next, err = next.UpdateContent(n.ID, f.body); err == nil {
			t = next
		}
	}
	return t
}

const defaultIndex = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Rapid Prototype</title>
    <link rel="stylesheet" href="styles.css">
</head>
<body>
    <div class="container">
        <h1>Rapid Prototyping Environment</h1>
        <p>Start building your ideas instantly!</p>
        <button onclick="showDemo()">Demo Interaction</button>
    </div>
    <script src="script.js"></script>
</body>
</html>
`

const defaultStyles = `* {
    margin: 0;
    padding: 0;
    box-sizing: border-box;
}

body {
    font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
    background: linear-gradient(135deg, #667eea 0%, #764ba2 100%);
    min-height: 100vh;
    display: flex;
    align-items: center;
    justify-content: center;
    padding: 20px;
}

.container {
    background: white;
    padding: 2rem;
    border-radius: 15px;
    text-align: center;
    max-width: 500px;
    width: 100%;
}

button {
    background: #667eea;
    color: white;
    border: none;
    padding: 12px 30px;
    border-radius: 8px;
    cursor: pointer;
}

@media (max-width: 480px) {
    body {
        background: #667eea;
    }
}
`

const defaultScript = `console.log('Rapid prototyping environment loaded');

function showDemo() {
    alert('Interactive prototype working!');
}
`

const defaultReadme = "# Rapid Prototyping Environment\n\n" +
	"Edit files in the explorer and watch the preview update.\n\n" +
	"## Quick Start\n\n" +
	"1. Edit files in the file explorer\n" +
	"2. See changes instantly in the preview\n" +
	"3. Test on different device sizes\n"
