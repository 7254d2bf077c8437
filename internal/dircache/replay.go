package dircache

import (
	"strings"

	"github.com/agentic-research/indu/internal/entry"
)

// Join builds the cache key of a child directory.
func Join(parent, name string) string {
	if strings.HasSuffix(parent, "/") {
		return parent + name
	}
	return parent + "/" + name
}

// Replay emits the cached subtree below e to sink as a live scan would.
//
// The caller has already emitted the item that opened e. Replay emits each
// child, descends into child directories that have their own entry (marking
// them used), closes every directory it opened and finally closes e. A child
// directory without an entry is emitted empty. The first sink error stops
// the replay.
func (s *Store) Replay(e *Entry, sink entry.Sink) error {
	n := 0
	err := s.replay(e, sink, &n)
	s.metrics.CacheReplayed(n)
	return err
}

func (s *Store) replay(e *Entry, sink entry.Sink, n *int) error {
	for i := range e.Children {
		c := &e.Children[i]
		d := entry.Dir{
			Flags: c.Flags,
			Size:  c.Size,
			ASize: c.ASize,
			Dev:   c.Dev,
			Ino:   c.Ino,
		}

		var sub *Entry
		if c.IsDir() && !c.Flags.Skipped() && ValidName(c.Name) {
			sub = s.entries[Join(e.Path, c.Name)]
			if sub == e {
				sub = nil
			}
		}

		if err := sink.Item(&d, c.Name, childExt(c), c.Nlink); err != nil {
			return err
		}
		*n++
		if !c.IsDir() {
			continue
		}
		if sub == nil {
			if err := sink.Item(nil, "", nil, 0); err != nil {
				return err
			}
			continue
		}
		sub.Used = true
		if err := s.replay(sub, sink, n); err != nil {
			return err
		}
	}
	return sink.Item(nil, "", nil, 0)
}

func childExt(c *entry.Child) *entry.Ext {
	var ext entry.Ext
	if c.Mtime != 0 {
		ext.Flags |= entry.ExtMtime
		ext.Mtime = c.Mtime
	}
	if c.UID != 0 {
		ext.Flags |= entry.ExtUID
		ext.UID = c.UID
	}
	if c.GID != 0 {
		ext.Flags |= entry.ExtGID
		ext.GID = c.GID
	}
	if c.Mode != 0 {
		ext.Flags |= entry.ExtMode
		ext.Mode = c.Mode
	}
	if ext.Flags == 0 {
		return nil
	}
	return &ext
}
