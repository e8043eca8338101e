// Package snapshot flattens a document tree into the file map a preview is
// built from.
package snapshot

import (
	"encoding/hex"
	"sort"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/petervdpas/protobench/internal/content"
)

// Snapshot maps a file key to its content. A Snapshot is a fresh projection
// of a tree and is never modified after Compile returns it.
type Snapshot map[string]string

// KeyMode selects how files are keyed.
type KeyMode int

const (
	// KeyByName keys files by bare name; a later file in traversal order
	// overwrites an earlier one with the same name.
	KeyByName KeyMode = iota
	// KeyByPath keys files by their path relative to the root ("a/b.txt").
	KeyByPath
)

type options struct {
	mode KeyMode
}

type Option func(*options)

func WithKeyMode(m KeyMode) Option {
	return func(o *options) { o.mode = m }
}

// Compile walks the tree depth-first in child order and collects every file.
func Compile(t *content.Tree, opts ...Option) Snapshot {
	o := options{}
	for _, fn := range opts {
		fn(&o)
	}
	out := make(Snapshot)
	if t == nil {
		return out
	}
	t.Walk(func(n *content.Node) bool {
		if !n.IsFile() {
			return true
		}
		key := n.Name
		if o.mode == KeyByPath {
			key = strings.TrimPrefix(n.Path, "/")
		}
		out[key] = n.Content
		return true
	})
	return out
}

// Keys returns the snapshot keys in sorted order.
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Equal reports whether both snapshots hold the same keys and contents.
func (s Snapshot) Equal(o Snapshot) bool {
	if len(s) != len(o) {
		return false
	}
	for k, v := range s {
		if ov, ok := o[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Digest is a stable fingerprint of the snapshot, used to skip refreshes
// that would rebuild identical content.
func (s Snapshot) Digest() string {
	h, _ := blake2b.New256(nil)
	for _, k := range s.Keys() {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(s[k]))
		h.Write([]byte{0})
	}
	return "blake2b:" + hex.EncodeToString(h.Sum(nil))
}
