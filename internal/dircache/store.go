// Package dircache keeps per-directory scan results between runs so that a
// scanner can skip subtrees whose directory metadata has not changed.
//
// Each directory is one flat record holding its own metadata and a shallow
// snapshot of its immediate children. A record is valid only while the
// directory's mtime, device and inode all match the live filesystem. The
// registry is persisted as a single file guarded by a sidecar lock and
// rewritten atomically; records that were not used during a run are dropped
// on save.
package dircache

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agentic-research/indu/internal/codec"
	"github.com/agentic-research/indu/internal/entry"
	"github.com/agentic-research/indu/internal/lock"
	"github.com/agentic-research/indu/internal/metrics"
)

const (
	// DefaultLoadTimeout bounds the wait for a shared lock in Load.
	DefaultLoadTimeout = 5 * time.Second
	// DefaultSaveTimeout bounds the wait for an exclusive lock in Save.
	DefaultSaveTimeout = 10 * time.Second
)

// Entry is the cached state of one directory.
type Entry struct {
	Path  string
	Mtime uint64
	Dev   uint64
	Ino   uint64
	Size  int64
	ASize int64
	Items int
	// Used marks entries touched this run. Only used entries are saved.
	Used     bool
	Children []entry.Child
}

// Store is the in-memory registry of cached directories plus the lock that
// guards its backing file. It is not safe for concurrent use.
type Store struct {
	path    string
	entries map[string]*Entry
	lock    *lock.Manager

	log         *zap.Logger
	metrics     *metrics.Metrics
	loadTimeout time.Duration
	saveTimeout time.Duration
	progName    string
	progVer     string
	now         func() time.Time

	// replaced in tests to simulate a crash before publish
	rename func(oldpath, newpath string) error
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics records cache and lock activity in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithLockTimeouts overrides the lock bounds used by Load and Save.
func WithLockTimeouts(load, save time.Duration) Option {
	return func(s *Store) {
		s.loadTimeout = load
		s.saveTimeout = save
	}
}

// WithProgram sets the progname and progver written to the file header.
func WithProgram(name, version string) Option {
	return func(s *Store) {
		s.progName = name
		s.progVer = version
	}
}

// WithClock replaces time.Now for the header timestamp and save timing.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty Store bound to the cache file at path.
func New(path string, opts ...Option) *Store {
	s := &Store{
		log:         zap.NewNop(),
		loadTimeout: DefaultLoadTimeout,
		saveTimeout: DefaultSaveTimeout,
		progName:    "indu",
		progVer:     "dev",
		now:         time.Now,
		rename:      os.Rename,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Init(path)
	return s
}

// Init resets the registry and binds the Store to the cache file at path.
func (s *Store) Init(path string) {
	if s.lock != nil {
		s.lock.Close()
	}
	s.path = path
	s.entries = make(map[string]*Entry)
	s.lock = lock.New(path, lock.WithLogger(s.log), lock.WithObserver(s.metrics))
}

// Path returns the cache file path.
func (s *Store) Path() string { return s.path }

// Len returns the number of entries in the registry.
func (s *Store) Len() int { return len(s.entries) }

// Entries returns the registry sorted by path.
func (s *Store) Entries() []*Entry {
	out := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Load merges the cache file into the registry. A missing file or a lock
// that cannot be taken in time leaves the registry empty and returns nil.
// A malformed file returns an error and leaves the registry unchanged;
// callers log it and continue with a cold cache.
func (s *Store) Load() error {
	if err := s.lock.Acquire(lock.Shared, s.loadTimeout); err != nil {
		s.log.Warn("cache lock unavailable, scanning without cache",
			zap.String("path", s.path), zap.Error(err))
		return nil
	}
	defer s.lock.Release()

	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer func() { _ = f.Close() }()

	_, loaded, err := ReadEntries(f)
	if err != nil {
		return fmt.Errorf("read cache %s: %w", s.path, err)
	}
	n := 0
	for _, e := range loaded {
		if _, ok := s.entries[e.Path]; ok {
			continue
		}
		s.entries[e.Path] = e
		n++
	}
	s.metrics.CacheLoaded(n)
	s.log.Debug("cache loaded", zap.String("path", s.path), zap.Int("entries", n))
	return nil
}

// ReadEntries parses a whole cache file. When a path occurs more than once
// the first record wins. Top-level items that are not directories are
// ignored.
func ReadEntries(r io.Reader) (codec.Header, []*Entry, error) {
	p := codec.NewParser(r)
	h, err := p.ReadHeader()
	if err != nil {
		return h, nil, err
	}
	seen := make(map[string]bool)
	var out []*Entry
	for {
		c, err := p.Next()
		if errors.Is(err, io.EOF) {
			return h, out, nil
		}
		if err != nil {
			return h, nil, err
		}
		if !c.IsDir() || seen[c.Name] {
			continue
		}
		seen[c.Name] = true
		out = append(out, fromItem(c))
	}
}

// fromItem turns a top-level record into an entry. Children whose name
// could not come from a directory listing are dropped, so no child key can
// resolve back to its parent.
func fromItem(c *entry.Child) *Entry {
	kids := c.Children[:0]
	for _, k := range c.Children {
		if !ValidName(k.Name) {
			continue
		}
		k.Children = nil
		kids = append(kids, k)
	}
	return &Entry{
		Path:     c.Name,
		Mtime:    c.Mtime,
		Dev:      c.Dev,
		Ino:      c.Ino,
		Size:     c.Size,
		ASize:    c.ASize,
		Items:    len(kids),
		Children: kids,
	}
}

// ValidName reports whether name is a single path component.
func ValidName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.Contains(name, "/")
}

// Lookup returns the entry for path if its mtime, device and inode all
// match, marking it used. Any mismatch is a miss.
func (s *Store) Lookup(path string, mtime, dev, ino uint64) *Entry {
	e := s.entries[path]
	if e == nil || e.Mtime != mtime || e.Dev != dev || e.Ino != ino {
		s.metrics.CacheLookup(false)
		return nil
	}
	e.Used = true
	s.metrics.CacheLookup(true)
	return e
}

// Store records a freshly scanned directory and its immediate children,
// replacing any previous entry for path. The mtime is taken from ext when
// ext carries one.
func (s *Store) Store(path string, d *entry.Dir, ext *entry.Ext, children []entry.Child) {
	e := &Entry{
		Path:     path,
		Dev:      d.Dev,
		Ino:      d.Ino,
		Size:     d.Size,
		ASize:    d.ASize,
		Items:    d.Items,
		Used:     true,
		Children: make([]entry.Child, len(children)),
	}
	if ext != nil && ext.Flags&entry.ExtMtime != 0 {
		e.Mtime = ext.Mtime
	}
	for i := range children {
		e.Children[i] = children[i].Shallow()
	}
	if old := s.entries[path]; old != nil {
		old.Used = false
	}
	s.entries[path] = e
	s.metrics.CacheStore()
}

// Save writes every used entry to a temporary file next to the cache file
// and renames it into place. On any failure the previous cache file is left
// untouched and the temporary file is removed.
func (s *Store) Save() error {
	start := s.now()
	if err := s.lock.Acquire(lock.Exclusive, s.saveTimeout); err != nil {
		s.metrics.CacheSaveFailed()
		return fmt.Errorf("lock cache for save: %w", err)
	}
	defer s.lock.Release()

	n, err := s.write()
	if err != nil {
		s.metrics.CacheSaveFailed()
		return err
	}
	s.metrics.CacheSaved(n, s.now().Sub(start))
	s.log.Debug("cache saved", zap.String("path", s.path), zap.Int("entries", n))
	return nil
}

func (s *Store) write() (int, error) {
	dir, base := filepath.Split(s.path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, base+".*")
	if err != nil {
		return 0, fmt.Errorf("create temp cache: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	w := codec.NewWriter(tmp)
	if err := w.WriteHeader(codec.Header{
		Major:     codec.Major,
		Minor:     codec.Minor,
		ProgName:  s.progName,
		ProgVer:   s.progVer,
		Timestamp: uint64(s.now().Unix()),
	}); err != nil {
		return 0, fmt.Errorf("write cache header: %w", err)
	}
	n := 0
	for _, e := range s.Entries() {
		if !e.Used {
			continue
		}
		info := codec.Info{Path: e.Path, Size: e.Size, ASize: e.ASize, Dev: e.Dev, Ino: e.Ino, Mtime: e.Mtime}
		if err := w.WriteEntry(info, e.Children); err != nil {
			return 0, fmt.Errorf("write cache entry: %w", err)
		}
		n++
	}
	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("flush cache: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return 0, fmt.Errorf("sync cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("close cache: %w", err)
	}
	if err := s.rename(tmpPath, s.path); err != nil {
		return 0, fmt.Errorf("publish cache: %w", err)
	}
	cleanup = false

	if err := syncDir(dir); err != nil {
		// the new file is already visible; only its durability is in doubt
		s.log.Warn("sync cache directory", zap.String("dir", dir), zap.Error(err))
	}
	return n, nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()
	return d.Sync()
}

// Destroy releases the lock and empties the registry.
func (s *Store) Destroy() {
	if s.lock != nil {
		s.lock.Close()
	}
	s.entries = make(map[string]*Entry)
}
