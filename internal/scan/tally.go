package scan

import (
	"github.com/agentic-research/indu/internal/entry"
	"github.com/agentic-research/indu/internal/tree"
)

type frame struct {
	size  int64
	asize int64
	items int
}

// tally sits in front of the caller's sink and keeps running totals for
// every open directory and for the whole scan. Live and replayed events
// pass through it alike, so a warm scan sums exactly what a cold one did.
type tally struct {
	next   entry.Sink
	frames []frame
	total  frame
	links  *tree.LinkSet
}

func newTally(next entry.Sink) *tally {
	return &tally{next: next, links: tree.NewLinkSet()}
}

func (t *tally) Item(d *entry.Dir, name string, ext *entry.Ext, nlink uint32) error {
	if d == nil {
		t.pop()
	} else {
		t.push(d)
	}
	if t.next == nil {
		return nil
	}
	return t.next.Item(d, name, ext, nlink)
}

func (t *tally) push(d *entry.Dir) {
	var size, asize int64
	if t.links.Counts(d) {
		size, asize = d.Size, d.ASize
	}
	t.total.items++
	t.total.size += size
	t.total.asize += asize

	if n := len(t.frames); n > 0 {
		top := &t.frames[n-1]
		top.items++
		if d.Flags&entry.FlagDir == 0 {
			top.size += size
			top.asize += asize
		}
	}
	if d.Flags&entry.FlagDir != 0 {
		t.frames = append(t.frames, frame{size: size, asize: asize})
	}
}

func (t *tally) pop() {
	n := len(t.frames)
	if n == 0 {
		return
	}
	f := t.frames[n-1]
	t.frames = t.frames[:n-1]
	if n > 1 {
		p := &t.frames[n-2]
		p.size += f.size
		p.asize += f.asize
		p.items += f.items
	}
}

// top returns the totals of the innermost open directory, itself included.
func (t *tally) top() frame {
	if n := len(t.frames); n > 0 {
		return t.frames[n-1]
	}
	return frame{}
}
