// Package scan walks a directory tree and reports every item to a sink,
// reusing cached directories where their metadata is unchanged.
package scan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/agentic-research/indu/internal/dircache"
	"github.com/agentic-research/indu/internal/entry"
	"github.com/agentic-research/indu/internal/metrics"
)

// Options configures Run.
type Options struct {
	// Cache is consulted before descending and refreshed after each fully
	// read directory. Nil disables caching.
	Cache *dircache.Store
	// Sink receives the scan events. May be nil.
	Sink entry.Sink
	// OneFileSystem skips directories on a different device than root.
	OneFileSystem bool
	// ExcludeKernFS skips Linux pseudo filesystems such as /proc.
	ExcludeKernFS bool
	// Extended records uid, gid and mode.
	Extended bool
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

// Summary totals a scan. Items includes the root. Hard-linked files are
// counted once per device and inode.
type Summary struct {
	Items  int
	Size   int64
	ASize  int64
	Hits   int
	Misses int
	Errors int
}

type walker struct {
	ctx     context.Context
	opts    Options
	log     *zap.Logger
	root    string
	rootDev uint64
	tally   *tally
	sum     Summary
}

// Run scans root. Unreadable items are flagged, logged and counted; only a
// root that cannot be scanned at all, a sink error or cancellation of ctx
// end the scan early.
func Run(ctx context.Context, root string, opts Options) (Summary, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return Summary{}, fmt.Errorf("resolve %s: %w", root, err)
	}
	var st unix.Stat_t
	if err := unix.Stat(abs, &st); err != nil {
		return Summary{}, fmt.Errorf("stat %s: %w", abs, err)
	}
	if uint32(st.Mode)&unix.S_IFMT != unix.S_IFDIR {
		return Summary{}, fmt.Errorf("%s: not a directory", abs)
	}

	w := &walker{
		ctx:     ctx,
		opts:    opts,
		log:     opts.Logger,
		root:    abs,
		rootDev: uint64(st.Dev),
		tally:   newTally(opts.Sink),
	}
	if w.log == nil {
		w.log = zap.NewNop()
	}

	_, err = w.dir(abs, abs, &st)
	w.sum.Items = w.tally.total.items
	w.sum.Size = w.tally.total.size
	w.sum.ASize = w.tally.total.asize
	return w.sum, err
}

// dir scans one directory whose stat is st. It reports whether the whole
// subtree was read without errors; only such directories are cached, so a
// cached parent never points at a missing or partial child entry.
func (w *walker) dir(path, name string, st *unix.Stat_t) (bool, error) {
	if err := w.ctx.Err(); err != nil {
		return false, err
	}
	d, ext, _ := fromStat(st, w.opts.Extended)

	if c := w.opts.Cache; c != nil {
		if hit := c.Lookup(path, ext.Mtime, d.Dev, d.Ino); hit != nil {
			w.sum.Hits++
			if err := w.tally.Item(&d, name, ext, 0); err != nil {
				return false, err
			}
			return true, c.Replay(hit, w.tally)
		}
		w.sum.Misses++
	}

	names, err := readNames(path)
	if err != nil && path == w.root {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if err != nil {
		d.Flags |= entry.FlagErr
		w.fail(path, err)
		if err := w.emit(&d, name, ext, 0); err != nil {
			return false, err
		}
		return false, w.tally.Item(nil, "", nil, 0)
	}
	if err := w.emit(&d, name, ext, 0); err != nil {
		return false, err
	}

	complete := true
	children := make([]entry.Child, 0, len(names))
	for _, n := range names {
		ok, snap, err := w.child(path, n)
		if err != nil {
			return false, err
		}
		children = append(children, snap)
		complete = complete && ok
	}

	if complete && w.opts.Cache != nil {
		agg := d
		f := w.tally.top()
		agg.Size, agg.ASize, agg.Items = f.size, f.asize, f.items
		w.opts.Cache.Store(path, &agg, ext, children)
	}
	return complete, w.tally.Item(nil, "", nil, 0)
}

// child emits one directory entry and returns its snapshot for the parent's
// cache record.
func (w *walker) child(parent, name string) (bool, entry.Child, error) {
	if err := w.ctx.Err(); err != nil {
		return false, entry.Child{}, err
	}
	path := dircache.Join(parent, name)

	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		w.fail(path, err)
		d := entry.Dir{Flags: entry.FlagErr}
		return false, entry.NewChild(name, &d, nil, 0), w.emit(&d, name, nil, 0)
	}
	d, ext, nlink := fromStat(&st, w.opts.Extended)
	if d.Flags&entry.FlagDir == 0 {
		return true, entry.NewChild(name, &d, ext, nlink), w.emit(&d, name, ext, nlink)
	}

	switch {
	case w.opts.OneFileSystem && d.Dev != w.rootDev:
		d.Flags |= entry.FlagOtherFS
	case w.opts.ExcludeKernFS && isKernFS(path):
		d.Flags |= entry.FlagKernFS
	}
	snap := entry.NewChild(name, &d, ext, 0)
	if d.Flags.Skipped() {
		if err := w.emit(&d, name, ext, 0); err != nil {
			return false, snap, err
		}
		return true, snap, w.tally.Item(nil, "", nil, 0)
	}

	ok, err := w.dir(path, name, &st)
	return ok, snap, err
}

func (w *walker) emit(d *entry.Dir, name string, ext *entry.Ext, nlink uint32) error {
	w.opts.Metrics.ScanItem(d.Flags&entry.FlagErr != 0)
	return w.tally.Item(d, name, ext, nlink)
}

func (w *walker) fail(path string, err error) {
	w.sum.Errors++
	w.log.Warn("cannot read", zap.String("path", path), zap.Error(err))
}

func readNames(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	names, err := f.Readdirnames(-1)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}
