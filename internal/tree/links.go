package tree

import (
	"github.com/RoaringBitmap/roaring/roaring64"

	"github.com/agentic-research/indu/internal/entry"
)

// LinkSet remembers hard-linked inodes already counted, one bitmap per
// device. The zero value is not usable; call NewLinkSet.
type LinkSet struct {
	devs map[uint64]*roaring64.Bitmap
}

// NewLinkSet returns an empty set.
func NewLinkSet() *LinkSet {
	return &LinkSet{devs: make(map[uint64]*roaring64.Bitmap)}
}

// Counts reports whether an item contributes its size to the totals.
// Skipped items never do; a hard-linked file does only the first time its
// (dev, ino) is seen.
func (s *LinkSet) Counts(d *entry.Dir) bool {
	if d.Flags.Skipped() {
		return false
	}
	if d.Flags&entry.FlagHardlink == 0 || d.Flags&entry.FlagDir != 0 {
		return true
	}
	bm := s.devs[d.Dev]
	if bm == nil {
		bm = roaring64.New()
		s.devs[d.Dev] = bm
	}
	return bm.CheckedAdd(d.Ino)
}

// Len returns the number of distinct hard-linked inodes counted.
func (s *LinkSet) Len() uint64 {
	var n uint64
	for _, bm := range s.devs {
		n += bm.GetCardinality()
	}
	return n
}
