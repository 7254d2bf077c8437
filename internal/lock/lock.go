// Package lock implements a sidecar advisory lock guarding a cache file
// shared by independent processes.
//
// The lock lives in "<cache>.lock" and is taken with flock(2). A process
// holding it exclusively records "<pid> <unix-ts>\n" so that a later
// contender can tell whether the holder died or got stuck, and reclaim it.
package lock

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Mode selects shared (readers) or exclusive (sole writer) access.
type Mode int

const (
	Shared Mode = iota
	Exclusive
)

func (m Mode) String() string {
	if m == Exclusive {
		return "exclusive"
	}
	return "shared"
}

const (
	// Suffix is appended to the cache path to form the lock file path.
	Suffix = ".lock"

	// StaleAfter is the age past which a recorded holder is presumed stuck.
	StaleAfter = 300 * time.Second

	initialRetryDelay = 10 * time.Millisecond
	maxRetryDelay     = 500 * time.Millisecond
)

var (
	// ErrTimeout is returned when the lock stays contended for the whole wait.
	ErrTimeout = errors.New("lock: timed out waiting for lock")
	// ErrClosed is returned by Acquire after Close.
	ErrClosed = errors.New("lock: manager closed")
)

// Observer is notified about lock activity. metrics.Metrics implements it.
type Observer interface {
	LockWait(mode string, d time.Duration, acquired bool)
	LockReclaimed()
}

// Manager owns at most one open lock file descriptor.
type Manager struct {
	path string
	file *os.File
	mode Mode
	held bool

	log     *zap.Logger
	obs     Observer
	now     func() time.Time
	sleep   func(time.Duration)
	alive   func(pid int) bool
	tryLock func(f *os.File, mode Mode) error
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for reclaim and failure messages.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithObserver reports waits and reclaims to o.
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.obs = o }
}

// New returns a Manager for the lock file belonging to cachePath.
func New(cachePath string, opts ...Option) *Manager {
	m := &Manager{
		path:    cachePath + Suffix,
		log:     zap.NewNop(),
		now:     time.Now,
		sleep:   time.Sleep,
		alive:   processAlive,
		tryLock: flock,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Path returns the lock file path.
func (m *Manager) Path() string { return m.path }

// Held reports the current mode and whether a lock is held.
func (m *Manager) Held() (Mode, bool) { return m.mode, m.held }

// Acquire takes the lock in the given mode. A zero timeout makes a single
// non-blocking attempt, a negative timeout waits indefinitely.
func (m *Manager) Acquire(mode Mode, timeout time.Duration) error {
	if m.path == "" {
		return ErrClosed
	}

	if m.held {
		if m.mode == Exclusive || mode == Shared {
			return nil
		}
		// shared -> exclusive cannot be upgraded in place
		m.Release()
	}

	f, err := os.OpenFile(m.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	// os.OpenFile sets O_CLOEXEC

	start := m.now()
	delay := initialRetryDelay
	firstContended := true

	for {
		err := m.tryLock(f, mode)
		if err == nil {
			if mode == Exclusive {
				if err := writeHolder(f, os.Getpid(), m.now()); err != nil {
					_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
					_ = f.Close()
					return fmt.Errorf("record lock holder: %w", err)
				}
			}
			m.adopt(f, mode)
			m.observeWait(mode, start, true)
			return nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EAGAIN) {
			_ = f.Close()
			return fmt.Errorf("flock %s: %w", m.path, err)
		}

		if firstContended {
			firstContended = false
			if m.isStale(f) {
				ok, err := m.reclaim(f, mode)
				if err != nil {
					_ = f.Close()
					return err
				}
				if ok {
					m.adopt(f, mode)
					m.observeWait(mode, start, true)
					return nil
				}
			}
		}

		if timeout == 0 {
			_ = f.Close()
			m.observeWait(mode, start, false)
			return ErrTimeout
		}
		if timeout > 0 && m.now().Sub(start) >= timeout {
			_ = f.Close()
			m.observeWait(mode, start, false)
			return ErrTimeout
		}

		m.sleep(delay)
		delay *= 2
		if delay > maxRetryDelay {
			delay = maxRetryDelay
		}
	}
}

// reclaim tries to take over a lock whose holder looks stale. It reports
// false when someone still holds it.
func (m *Manager) reclaim(f *os.File, mode Mode) (bool, error) {
	if err := m.tryLock(f, Exclusive); err != nil {
		return false, nil
	}
	m.log.Warn("reclaimed stale cache lock", zap.String("path", m.path))
	if m.obs != nil {
		m.obs.LockReclaimed()
	}
	if mode == Exclusive {
		if err := writeHolder(f, os.Getpid(), m.now()); err != nil {
			_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
			return false, fmt.Errorf("record lock holder: %w", err)
		}
		return true, nil
	}
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
	if err := m.tryLock(f, Shared); err != nil {
		return false, fmt.Errorf("downgrade reclaimed lock: %w", err)
	}
	return true, nil
}

func (m *Manager) isStale(f *os.File) bool {
	h, err := readHolder(f)
	if err != nil {
		return true
	}
	return h.Stale(m.now(), m.alive)
}

func (m *Manager) adopt(f *os.File, mode Mode) {
	m.file = f
	m.mode = mode
	m.held = true
}

func (m *Manager) observeWait(mode Mode, start time.Time, acquired bool) {
	if m.obs != nil {
		m.obs.LockWait(mode.String(), m.now().Sub(start), acquired)
	}
}

// Release drops the lock. It is a no-op when nothing is held.
func (m *Manager) Release() {
	if !m.held || m.file == nil {
		return
	}
	_ = unix.Flock(int(m.file.Fd()), unix.LOCK_UN)
	_ = m.file.Close()
	m.file = nil
	m.held = false
}

// Close releases any lock and disables further Acquire calls.
func (m *Manager) Close() {
	m.Release()
	m.path = ""
}

func flock(f *os.File, mode Mode) error {
	how := unix.LOCK_SH
	if mode == Exclusive {
		how = unix.LOCK_EX
	}
	return unix.Flock(int(f.Fd()), how|unix.LOCK_NB)
}

// Holder is the content of a lock file.
type Holder struct {
	PID       int
	Timestamp int64
}

// Stale reports whether the holder is dead or has held the lock for longer
// than StaleAfter.
func (h Holder) Stale(now time.Time, alive func(pid int) bool) bool {
	if !alive(h.PID) {
		return true
	}
	return h.Timestamp > 0 && now.Unix()-h.Timestamp > int64(StaleAfter/time.Second)
}

// ParseHolder parses "<pid> <timestamp>" with optional surrounding space.
func ParseHolder(s string) (Holder, error) {
	fields := strings.Fields(s)
	if len(fields) < 2 {
		return Holder{}, fmt.Errorf("malformed lock file %q", s)
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil {
		return Holder{}, fmt.Errorf("parse pid: %w", err)
	}
	ts, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return Holder{}, fmt.Errorf("parse timestamp: %w", err)
	}
	return Holder{PID: pid, Timestamp: ts}, nil
}

// ReadHolder reads the holder recorded in the lock file at lockPath without
// taking the lock.
func ReadHolder(lockPath string) (Holder, error) {
	f, err := os.Open(lockPath)
	if err != nil {
		return Holder{}, err
	}
	defer func() { _ = f.Close() }()
	return readHolder(f)
}

// IsAlive reports whether a process with the given pid exists.
func IsAlive(pid int) bool { return processAlive(pid) }

func readHolder(f *os.File) (Holder, error) {
	buf := make([]byte, 64)
	n, err := f.ReadAt(buf, 0)
	if n == 0 {
		if err == nil {
			err = errors.New("empty lock file")
		}
		return Holder{}, err
	}
	return ParseHolder(string(buf[:n]))
}

func writeHolder(f *os.File, pid int, now time.Time) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	line := fmt.Sprintf("%d %d\n", pid, now.Unix())
	if _, err := f.WriteAt([]byte(line), 0); err != nil {
		return err
	}
	return f.Sync()
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
