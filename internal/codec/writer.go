// Package codec reads and writes the cache file dialect.
//
// A cache file is a JSON-like document:
//
//	[1, 2, {"progname":"indu","progver":"0.3.0","timestamp":1700000000},
//	[{"name":"/a","dsize":4096,"dev":1,"ino":5,"mtime":1000},
//	{"name":"f","asize":100,"dsize":4096,"ino":6},
//	[{"name":"sub","ino":7}]]]
//
// Every top-level item after the meta object is one directory with its
// immediate children. A bracketed item is a directory; a bare object is
// anything else. Object fields are omitted when they hold their zero value.
package codec

import (
	"bufio"
	"io"
	"strconv"

	"github.com/agentic-research/indu/internal/entry"
)

const (
	// Major must match exactly on load.
	Major = 1
	// Minor is informational; newer minors only add keys.
	Minor = 2
)

// Header is the start of a cache file.
type Header struct {
	Major     int64
	Minor     int64
	ProgName  string
	ProgVer   string
	Timestamp uint64
}

// Info is the metadata of one top-level directory entry.
type Info struct {
	Path  string
	Size  int64
	ASize int64
	Dev   uint64
	Ino   uint64
	Mtime uint64
}

// Writer streams a cache file. Errors are sticky: after the first failure
// every call is a no-op and Close returns that error.
type Writer struct {
	w       *bufio.Writer
	err     error
	scratch []byte
}

// NewWriter returns a Writer buffering output to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriterSize(w, 64*1024)}
}

// WriteHeader writes the root bracket, versions and meta object.
func (w *Writer) WriteHeader(h Header) error {
	w.str("[")
	w.int(h.Major)
	w.str(",")
	w.int(h.Minor)
	w.str(`,{"progname":`)
	w.quote(h.ProgName)
	w.str(`,"progver":`)
	w.quote(h.ProgVer)
	w.str(`,"timestamp":`)
	w.uint(h.Timestamp)
	w.str("}")
	return w.err
}

// WriteEntry writes one directory and its shallow children.
func (w *Writer) WriteEntry(info Info, children []entry.Child) error {
	w.str(",\n[{\"name\":")
	w.quote(info.Path)
	w.optInt("asize", info.ASize)
	w.optInt("dsize", info.Size)
	w.optUint("dev", info.Dev)
	w.optUint("ino", info.Ino)
	w.optUint("mtime", info.Mtime)
	w.str("}")
	for i := range children {
		w.str(",\n")
		w.child(&children[i])
	}
	w.str("]")
	return w.err
}

// Close terminates the root array and flushes buffered output. It does not
// close the underlying writer.
func (w *Writer) Close() error {
	w.str("]\n")
	if w.err != nil {
		return w.err
	}
	w.err = w.w.Flush()
	return w.err
}

func (w *Writer) child(c *entry.Child) {
	dir := c.Flags&entry.FlagDir != 0
	if dir {
		w.str("[")
	}
	w.str(`{"name":`)
	w.quote(c.Name)
	w.optInt("asize", c.ASize)
	w.optInt("dsize", c.Size)
	w.optUint("dev", c.Dev)
	w.optUint("ino", c.Ino)
	w.optUint("mtime", c.Mtime)
	w.optUint("uid", uint64(c.UID))
	w.optUint("gid", uint64(c.GID))
	w.optUint("mode", uint64(c.Mode))
	if c.Nlink > 1 {
		w.str(`,"hlnkc":true`)
		w.optUint("nlink", uint64(c.Nlink))
	}
	if c.Flags&entry.FlagErr != 0 {
		w.str(`,"read_error":true`)
	}
	if c.Flags.NotRegular() {
		w.str(`,"notreg":true`)
	}
	switch {
	case c.Flags&entry.FlagExcluded != 0:
		w.str(`,"excluded":"pattern"`)
	case c.Flags&entry.FlagOtherFS != 0:
		w.str(`,"excluded":"otherfs"`)
	case c.Flags&entry.FlagKernFS != 0:
		w.str(`,"excluded":"kernfs"`)
	case c.Flags&entry.FlagFirmlink != 0:
		w.str(`,"excluded":"frmlnk"`)
	}
	w.str("}")
	for i := range c.Children {
		w.str(",\n")
		w.child(&c.Children[i])
	}
	if dir {
		w.str("]")
	}
}

func (w *Writer) optInt(key string, v int64) {
	if v == 0 {
		return
	}
	w.key(key)
	w.int(v)
}

func (w *Writer) optUint(key string, v uint64) {
	if v == 0 {
		return
	}
	w.key(key)
	w.uint(v)
}

func (w *Writer) key(k string) {
	w.str(`,"`)
	w.str(k)
	w.str(`":`)
}

func (w *Writer) int(v int64) {
	w.scratch = strconv.AppendInt(w.scratch[:0], v, 10)
	w.bytes(w.scratch)
}

func (w *Writer) uint(v uint64) {
	w.scratch = strconv.AppendUint(w.scratch[:0], v, 10)
	w.bytes(w.scratch)
}

const hexDigits = "0123456789abcdef"

func (w *Writer) quote(s string) {
	b := append(w.scratch[:0], '"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\n':
			b = append(b, '\\', 'n')
		case '\r':
			b = append(b, '\\', 'r')
		case '\b':
			b = append(b, '\\', 'b')
		case '\t':
			b = append(b, '\\', 't')
		case '\f':
			b = append(b, '\\', 'f')
		case '\\':
			b = append(b, '\\', '\\')
		case '"':
			b = append(b, '\\', '"')
		default:
			if c <= 31 || c == 127 {
				b = append(b, '\\', 'u', '0', '0', hexDigits[c>>4], hexDigits[c&0xf])
			} else {
				b = append(b, c)
			}
		}
	}
	b = append(b, '"')
	w.scratch = b
	w.bytes(b)
}

func (w *Writer) str(s string) {
	if w.err != nil {
		return
	}
	_, w.err = w.w.WriteString(s)
}

func (w *Writer) bytes(b []byte) {
	if w.err != nil {
		return
	}
	_, w.err = w.w.Write(b)
}
