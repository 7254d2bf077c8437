// Package tree assembles scan events into an in-memory directory tree with
// per-directory totals.
package tree

import (
	"errors"
	"fmt"

	"github.com/agentic-research/indu/internal/entry"
)

// ErrUnbalanced is returned for a close without an open directory, an item
// after the root was closed, or Finish with directories still open.
var ErrUnbalanced = errors.New("tree: unbalanced scan events")

// Node is one item. For directories Size, ASize and Items include every
// descendant.
type Node struct {
	Name     string
	Flags    entry.Flags
	Size     int64
	ASize    int64
	Dev      uint64
	Ino      uint64
	Mtime    uint64
	Nlink    uint32
	Items    int
	Children []*Node
}

// Child returns the direct child called name, or nil.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Builder implements entry.Sink. The first item is the root; a directory
// item opens a scope that lasts until the matching close event.
type Builder struct {
	root  *Node
	stack []*Node
	done  bool
	links *LinkSet
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{links: NewLinkSet()}
}

// Item implements entry.Sink.
func (b *Builder) Item(d *entry.Dir, name string, ext *entry.Ext, nlink uint32) error {
	if d == nil {
		return b.close()
	}
	if b.done {
		return fmt.Errorf("%w: item %q after root closed", ErrUnbalanced, name)
	}

	n := &Node{
		Name:  name,
		Flags: d.Flags,
		Size:  d.Size,
		ASize: d.ASize,
		Dev:   d.Dev,
		Ino:   d.Ino,
		Nlink: nlink,
	}
	if ext != nil && ext.Flags&entry.ExtMtime != 0 {
		n.Mtime = ext.Mtime
	}

	if b.root == nil {
		b.root = n
		b.stack = append(b.stack, n)
		if n.Flags&entry.FlagDir == 0 {
			return b.close()
		}
		return nil
	}
	if len(b.stack) == 0 {
		return fmt.Errorf("%w: item %q outside any directory", ErrUnbalanced, name)
	}

	parent := b.stack[len(b.stack)-1]
	parent.Children = append(parent.Children, n)
	parent.Items++

	if n.Flags&entry.FlagDir != 0 {
		b.stack = append(b.stack, n)
		return nil
	}
	if b.links.Counts(d) {
		parent.Size += n.Size
		parent.ASize += n.ASize
	}
	return nil
}

func (b *Builder) close() error {
	if len(b.stack) == 0 {
		return fmt.Errorf("%w: close without open directory", ErrUnbalanced)
	}
	n := b.stack[len(b.stack)-1]
	b.stack = b.stack[:len(b.stack)-1]
	if len(b.stack) == 0 {
		b.done = true
		return nil
	}
	parent := b.stack[len(b.stack)-1]
	parent.Items += n.Items
	if !n.Flags.Skipped() {
		parent.Size += n.Size
		parent.ASize += n.ASize
	}
	return nil
}

// Finish checks that every directory was closed and returns the root.
func (b *Builder) Finish() (*Node, error) {
	if len(b.stack) != 0 {
		return nil, fmt.Errorf("%w: %d directories still open", ErrUnbalanced, len(b.stack))
	}
	return b.root, nil
}

// HardLinks returns how many distinct hard-linked inodes were counted.
func (b *Builder) HardLinks() uint64 { return b.links.Len() }
