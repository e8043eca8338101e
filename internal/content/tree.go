package content

import (
	"fmt"
	"strings"
	"time"
)

const RootName = "project"

// Tree is an immutable snapshot of the document tree. Every mutating method
// returns a new Tree and leaves the receiver valid; only the spine from the
// root to the mutated node is copied, sibling subtrees are shared.
type Tree struct {
	root  *Node
	now   func() time.Time
	newID IDGenerator
}

type Option func(*Tree)

// WithClock overrides the time source used for Modified stamps.
func WithClock(now func() time.Time) Option {
	return func(t *Tree) { t.now = now }
}

// WithIDGenerator overrides node id assignment.
func WithIDGenerator(gen IDGenerator) Option {
	return func(t *Tree) { t.newID = gen }
}

// New returns a tree holding only an empty root folder at "/".
func New(opts ...Option) *Tree {
	t := &Tree{now: time.Now, newID: UUIDv7IDs()}
	for _, o := range opts {
		o(t)
	}
	t.root = &Node{
		ID:       "root",
		Name:     RootName,
		Kind:     KindFolder,
		Path:     "/",
		Modified: t.now(),
	}
	return t
}

// FromRoot adopts an externally built node hierarchy (an import or a stored
// project). Paths, sizes and languages are recomputed; structural invariants
// are checked and violations are reported as ErrInvalidTree.
func FromRoot(root *Node, opts ...Option) (*Tree, error) {
	t := New(opts...)
	if root == nil || root.Kind != KindFolder {
		return nil, fmt.Errorf("%w: root must be a folder", ErrInvalidTree)
	}
	seen := make(map[string]bool)
	r, err := adopt(root, "/", seen)
	if err != nil {
		return nil, err
	}
	if r.Name == "" {
		r.Name = RootName
	}
	t.root = r
	return t, nil
}

func adopt(n *Node, p string, seen map[string]bool) (*Node, error) {
	if n.ID == "" || seen[n.ID] {
		return nil, fmt.Errorf("%w: missing or duplicate id %q at %s", ErrInvalidTree, n.ID, p)
	}
	seen[n.ID] = true

	c := n.clone()
	c.Path = p
	switch n.Kind {
	case KindFile:
		if len(n.Children) > 0 {
			return nil, fmt.Errorf("%w: file %s has children", ErrInvalidTree, p)
		}
		c.Children = nil
		c.Size = int64(len(n.Content))
		c.Language = LanguageFor(n.Name)
	case KindFolder:
		if n.Content != "" {
			return nil, fmt.Errorf("%w: folder %s has content", ErrInvalidTree, p)
		}
		c.Size = 0
		c.Language = ""
		names := make(map[string]bool, len(n.Children))
		c.Children = make([]*Node, 0, len(n.Children))
		for _, ch := range n.Children {
			if ch == nil {
				continue
			}
			if err := validateName(ch.Name); err != nil {
				return nil, fmt.Errorf("%w: %q under %s", err, ch.Name, p)
			}
			if names[ch.Name] {
				return nil, fmt.Errorf("%w: %q under %s", ErrDuplicateName, ch.Name, p)
			}
			names[ch.Name] = true
			a, err := adopt(ch, childPath(p, ch.Name), seen)
			if err != nil {
				return nil, err
			}
			c.Children = append(c.Children, a)
		}
	default:
		return nil, fmt.Errorf("%w: unknown kind %q at %s", ErrInvalidTree, n.Kind, p)
	}
	return c, nil
}

func (t *Tree) derive(root *Node) *Tree {
	return &Tree{root: root, now: t.now, newID: t.newID}
}

// Root returns the root folder. Callers must not modify the returned nodes.
func (t *Tree) Root() *Node { return t.root }

// Find returns the node with the given id.
func (t *Tree) Find(id string) (*Node, bool) {
	spine := t.locate(id)
	if spine == nil {
		return nil, false
	}
	return spine[len(spine)-1], true
}

// FindPath returns the node at an absolute path ("/" is the root).
func (t *Tree) FindPath(p string) (*Node, bool) {
	spine := t.locatePath(p)
	if spine == nil {
		return nil, false
	}
	return spine[len(spine)-1], true
}

// Walk visits nodes depth-first in child order. Returning false from fn
// skips the node's descendants.
func (t *Tree) Walk(fn func(n *Node) bool) {
	var visit func(n *Node)
	visit = func(n *Node) {
		if !fn(n) {
			return
		}
		for _, ch := range n.Children {
			visit(ch)
		}
	}
	visit(t.root)
}

// Count returns the number of files and folders, the root included.
func (t *Tree) Count() (files, folders int) {
	t.Walk(func(n *Node) bool {
		if n.IsFile() {
			files++
		} else {
			folders++
		}
		return true
	})
	return files, folders
}

// Create adds an empty file or folder named name under the folder at parentPath.
func (t *Tree) Create(parentPath, name string, kind Kind) (*Tree, *Node, error) {
	if !kind.Valid() {
		return t, nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidName, kind)
	}
	name = strings.TrimSpace(name)
	if err := validateName(name); err != nil {
		return t, nil, err
	}
	spine := t.locatePath(parentPath)
	if spine == nil || !spine[len(spine)-1].IsFolder() {
		return t, nil, fmt.Errorf("%w: %s", ErrInvalidParent, normalizePath(parentPath))
	}
	parent := spine[len(spine)-1]
	if childNamed(parent, name) != nil {
		return t, nil, fmt.Errorf("%w: %s", ErrDuplicateName, childPath(parent.Path, name))
	}

	n := &Node{
		ID:       t.newID(kind),
		Name:     name,
		Kind:     kind,
		Path:     childPath(parent.Path, name),
		Modified: t.now(),
	}
	if kind == KindFile {
		n.Language = LanguageFor(name)
	}

	p := parent.clone()
	p.Children = make([]*Node, 0, len(parent.Children)+1)
	p.Children = append(p.Children, parent.Children...)
	p.Children = append(p.Children, n)
	return t.derive(rebuild(spine, p)), n, nil
}

// Delete removes the node and its subtree. The removed node is returned so
// callers can tell whether an open selection lived inside it.
func (t *Tree) Delete(id string) (*Tree, *Node, error) {
	spine := t.locate(id)
	if spine == nil {
		return t, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if len(spine) == 1 {
		return t, nil, ErrRootImmutable
	}
	return t.derive(rebuild(spine, nil)), spine[len(spine)-1], nil
}

// Rename changes a node's name and recomputes the path of it and every
// descendant. Renaming to the current name is a no-op.
func (t *Tree) Rename(id, newName string) (*Tree, error) {
	newName = strings.TrimSpace(newName)
	if err := validateName(newName); err != nil {
		return t, err
	}
	spine := t.locate(id)
	if spine == nil {
		return t, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if len(spine) == 1 {
		return t, ErrRootImmutable
	}
	n := spine[len(spine)-1]
	if n.Name == newName {
		return t, nil
	}
	parent := spine[len(spine)-2]
	if childNamed(parent, newName) != nil {
		return t, fmt.Errorf("%w: %s", ErrDuplicateName, childPath(parent.Path, newName))
	}

	r := repath(n, childPath(parent.Path, newName))
	r.Name = newName
	r.Modified = t.now()
	if r.Kind == KindFile {
		r.Language = LanguageFor(newName)
	}
	return t.derive(rebuild(spine, r)), nil
}

// Move reparents a node under the folder at newParentPath. Moving a folder
// into itself or one of its descendants fails with ErrCyclicMove.
func (t *Tree) Move(id, newParentPath string) (*Tree, error) {
	spine := t.locate(id)
	if spine == nil {
		return t, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if len(spine) == 1 {
		return t, ErrRootImmutable
	}
	n := spine[len(spine)-1]
	target := normalizePath(newParentPath)
	if n.IsFolder() && (target == n.Path || strings.HasPrefix(target, n.Path+"/")) {
		return t, fmt.Errorf("%w: %s into %s", ErrCyclicMove, n.Path, target)
	}
	dst := t.locatePath(target)
	if dst == nil || !dst[len(dst)-1].IsFolder() {
		return t, fmt.Errorf("%w: %s", ErrInvalidParent, target)
	}
	if dst[len(dst)-1].ID == spine[len(spine)-2].ID {
		return t, nil
	}
	if childNamed(dst[len(dst)-1], n.Name) != nil {
		return t, fmt.Errorf("%w: %s", ErrDuplicateName, childPath(target, n.Name))
	}

	detached := t.derive(rebuild(spine, nil))
	// target is outside the moved subtree, so its path is unchanged.
	dst = detached.locatePath(target)
	parent := dst[len(dst)-1]
	moved := repath(n, childPath(parent.Path, n.Name))
	moved.Modified = t.now()

	p := parent.clone()
	p.Children = make([]*Node, 0, len(parent.Children)+1)
	p.Children = append(p.Children, parent.Children...)
	p.Children = append(p.Children, moved)
	return t.derive(rebuild(dst, p)), nil
}

// UpdateContent replaces a file's content, stamping it with the tree clock.
// Writing identical content returns the receiver unchanged.
func (t *Tree) UpdateContent(id, content string) (*Tree, error) {
	n, ok := t.Find(id)
	if ok && n.IsFile() && n.Content == content {
		return t, nil
	}
	return t.UpdateContentAt(id, content, t.now())
}

// UpdateContentAt replaces a file's content with an explicit modification time.
func (t *Tree) UpdateContentAt(id, content string, modified time.Time) (*Tree, error) {
	spine := t.locate(id)
	if spine == nil {
		return t, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	n := spine[len(spine)-1]
	if !n.IsFile() {
		return t, fmt.Errorf("%w: %s", ErrNotAFile, n.Path)
	}
	c := n.clone()
	c.Content = content
	c.Size = int64(len(content))
	c.Modified = modified
	return t.derive(rebuild(spine, c)), nil
}

// --- traversal internals ---

// locate returns the chain of nodes from the root to the node with id.
func (t *Tree) locate(id string) []*Node {
	var spine []*Node
	var visit func(n *Node) bool
	visit = func(n *Node) bool {
		spine = append(spine, n)
		if n.ID == id {
			return true
		}
		for _, ch := range n.Children {
			if visit(ch) {
				return true
			}
		}
		spine = spine[:len(spine)-1]
		return false
	}
	if visit(t.root) {
		return spine
	}
	return nil
}

func (t *Tree) locatePath(p string) []*Node {
	p = normalizePath(p)
	spine := []*Node{t.root}
	if p == "/" {
		return spine
	}
	cur := t.root
	for _, seg := range strings.Split(strings.TrimPrefix(p, "/"), "/") {
		next := childNamed(cur, seg)
		if next == nil {
			return nil
		}
		spine = append(spine, next)
		cur = next
	}
	return spine
}

func childNamed(parent *Node, name string) *Node {
	for _, ch := range parent.Children {
		if ch.Name == name {
			return ch
		}
	}
	return nil
}

// rebuild swaps the last node of spine for replacement (or removes it when
// replacement is nil) and copies each ancestor up to a new root.
func rebuild(spine []*Node, replacement *Node) *Node {
	old := spine[len(spine)-1]
	cur := replacement
	for i := len(spine) - 2; i >= 0; i-- {
		parent := spine[i]
		p := parent.clone()
		p.Children = make([]*Node, 0, len(parent.Children))
		for _, ch := range parent.Children {
			if ch != old {
				p.Children = append(p.Children, ch)
			} else if cur != nil {
				p.Children = append(p.Children, cur)
			}
		}
		old = parent
		cur = p
	}
	return cur
}
