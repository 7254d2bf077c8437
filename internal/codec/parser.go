package codec

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/agentic-research/indu/internal/entry"
)

const (
	// readBufferSize bounds the parser's memory; the file is never loaded whole.
	readBufferSize = 64 * 1024
	// maxValue caps a decoded string. Longer strings are truncated.
	maxValue = 32 * 1024
)

// ErrVersion is returned when the header's major version is not Major.
var ErrVersion = errors.New("codec: unsupported cache file version")

// SyntaxError describes malformed input.
type SyntaxError struct {
	Line int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("codec: line %d: %s", e.Line, e.Msg)
}

// Parser is a streaming pull parser for cache files.
type Parser struct {
	r    *bufio.Reader
	line int
	done bool
	val  []byte
}

// NewParser returns a Parser reading from r.
func NewParser(r io.Reader) *Parser {
	return &Parser{
		r:    bufio.NewReaderSize(r, readBufferSize),
		line: 1,
	}
}

// ReadHeader consumes "[major, minor, {meta}" and validates the major
// version. Unknown meta keys are skipped.
func (p *Parser) ReadHeader() (Header, error) {
	var h Header
	if err := p.expect('['); err != nil {
		return h, err
	}
	major, err := p.int64()
	if err != nil {
		return h, err
	}
	if major != Major {
		return h, fmt.Errorf("%w: major %d", ErrVersion, major)
	}
	h.Major = major
	if err := p.expect(','); err != nil {
		return h, err
	}
	if h.Minor, err = p.int64(); err != nil {
		return h, err
	}
	if err := p.expect(','); err != nil {
		return h, err
	}
	err = p.object(func(key string) error {
		var err error
		switch key {
		case "progname":
			h.ProgName, err = p.stringValue()
		case "progver":
			h.ProgVer, err = p.stringValue()
		case "timestamp":
			h.Timestamp, err = p.uint64()
		default:
			err = p.skipValue()
		}
		return err
	})
	return h, err
}

// Next returns the next top-level item, or io.EOF after the closing
// bracket of the root array.
func (p *Parser) Next() (*entry.Child, error) {
	if p.done {
		return nil, io.EOF
	}
	c, err := p.peek()
	if err != nil {
		return nil, err
	}
	switch c {
	case ']':
		p.advance()
		p.done = true
		return nil, io.EOF
	case ',':
		p.advance()
	default:
		return nil, p.errorf("expected ',' or ']' in root array, got %q", c)
	}
	var item entry.Child
	if err := p.item(&item, 0); err != nil {
		return nil, err
	}
	return &item, nil
}

// item parses a file object or a bracketed directory with its children.
// A child without a "dev" key inherits parentDev.
func (p *Parser) item(c *entry.Child, parentDev uint64) error {
	open, err := p.peek()
	if err != nil {
		return err
	}
	c.Flags = entry.FlagFile
	isDir := open == '['
	if isDir {
		p.advance()
		c.Flags = entry.FlagDir
	}
	if err := p.info(c, parentDev); err != nil {
		return err
	}
	if !isDir {
		return nil
	}
	for {
		b, err := p.peek()
		if err != nil {
			return err
		}
		if b == ']' {
			p.advance()
			return nil
		}
		if b != ',' {
			return p.errorf("expected ',' or ']' after directory item, got %q", b)
		}
		p.advance()
		c.Children = append(c.Children, entry.Child{})
		if err := p.item(&c.Children[len(c.Children)-1], c.Dev); err != nil {
			return err
		}
	}
}

func (p *Parser) info(c *entry.Child, parentDev uint64) error {
	c.Dev = parentDev
	return p.object(func(key string) error {
		var (
			err error
			u   uint64
			on  bool
		)
		switch key {
		case "name":
			c.Name, err = p.stringValue()
		case "asize":
			c.ASize, err = p.int64()
		case "dsize":
			c.Size, err = p.int64()
		case "dev":
			c.Dev, err = p.uint64()
		case "ino":
			c.Ino, err = p.uint64()
		case "mtime":
			c.Mtime, err = p.uint64()
		case "uid":
			u, err = p.uint64()
			c.UID = uint32(u)
		case "gid":
			u, err = p.uint64()
			c.GID = uint32(u)
		case "mode":
			u, err = p.uint64()
			c.Mode = uint32(u)
		case "nlink":
			u, err = p.uint64()
			c.Nlink = uint32(u)
			if u > 1 {
				c.Flags |= entry.FlagHardlink
			}
		case "hlnkc":
			if on, err = p.boolean(); on {
				c.Flags |= entry.FlagHardlink
			}
		case "read_error":
			if on, err = p.boolean(); on {
				c.Flags |= entry.FlagErr
			}
		case "notreg":
			if on, err = p.boolean(); on {
				c.Flags &^= entry.FlagFile
			}
		case "excluded":
			var reason string
			if reason, err = p.stringValue(); err == nil {
				c.Flags |= excludedFlag(reason)
			}
		default:
			err = p.skipValue()
		}
		return err
	})
}

func excludedFlag(reason string) entry.Flags {
	switch reason {
	case "otherfs", "othfs":
		return entry.FlagOtherFS
	case "kernfs":
		return entry.FlagKernFS
	case "frmlnk":
		return entry.FlagFirmlink
	default:
		return entry.FlagExcluded
	}
}

// object parses {"key": value, ...}, calling field for each key with the
// parser positioned at the value.
func (p *Parser) object(field func(key string) error) error {
	if err := p.expect('{'); err != nil {
		return err
	}
	c, err := p.peek()
	if err != nil {
		return err
	}
	if c == '}' {
		p.advance()
		return nil
	}
	for {
		key, err := p.stringValue()
		if err != nil {
			return err
		}
		if err := p.expect(':'); err != nil {
			return err
		}
		if err := field(key); err != nil {
			return err
		}
		c, err := p.peek()
		if err != nil {
			return err
		}
		p.advance()
		switch c {
		case '}':
			return nil
		case ',':
		default:
			return p.errorf("expected ',' or '}' in object, got %q", c)
		}
	}
}

func (p *Parser) skipValue() error {
	c, err := p.peek()
	if err != nil {
		return err
	}
	switch {
	case c == '{':
		return p.object(func(string) error { return p.skipValue() })
	case c == '[':
		return p.skipArray()
	case c == '"':
		return p.str(false)
	case c == 't':
		return p.literal("true")
	case c == 'f':
		return p.literal("false")
	case c == 'n':
		return p.literal("null")
	case c == '-' || isDigit(c):
		for {
			b, err := p.r.ReadByte()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			if !isDigit(b) && b != '-' && b != '+' && b != '.' && b != 'e' && b != 'E' {
				return p.r.UnreadByte()
			}
		}
	default:
		return p.errorf("unexpected %q", c)
	}
}

func (p *Parser) skipArray() error {
	if err := p.expect('['); err != nil {
		return err
	}
	c, err := p.peek()
	if err != nil {
		return err
	}
	if c == ']' {
		p.advance()
		return nil
	}
	for {
		if err := p.skipValue(); err != nil {
			return err
		}
		c, err := p.peek()
		if err != nil {
			return err
		}
		p.advance()
		switch c {
		case ']':
			return nil
		case ',':
		default:
			return p.errorf("expected ',' or ']' in array, got %q", c)
		}
	}
}

func (p *Parser) boolean() (bool, error) {
	c, err := p.peek()
	if err != nil {
		return false, err
	}
	if c == 't' {
		return true, p.literal("true")
	}
	return false, p.literal("false")
}

func (p *Parser) literal(word string) error {
	for i := 0; i < len(word); i++ {
		b, err := p.r.ReadByte()
		if err != nil {
			return p.eof(err)
		}
		if b != word[i] {
			return p.errorf("invalid literal, expected %q", word)
		}
	}
	return nil
}

func (p *Parser) stringValue() (string, error) {
	if err := p.str(true); err != nil {
		return "", err
	}
	return string(p.val), nil
}

// str consumes a quoted string, storing it in p.val when keep is set.
// \uXXXX escapes are consumed but not decoded.
func (p *Parser) str(keep bool) error {
	if err := p.expect('"'); err != nil {
		return err
	}
	p.val = p.val[:0]
	for {
		b, err := p.r.ReadByte()
		if err != nil {
			return p.eof(err)
		}
		switch b {
		case '"':
			return nil
		case '\n':
			p.line++
		case '\\':
			esc, err := p.r.ReadByte()
			if err != nil {
				return p.eof(err)
			}
			switch esc {
			case '"', '\\', '/':
				b = esc
			case 'b':
				b = '\b'
			case 'f':
				b = '\f'
			case 'n':
				b = '\n'
			case 'r':
				b = '\r'
			case 't':
				b = '\t'
			case 'u':
				if _, err := p.r.Discard(4); err != nil {
					return p.eof(err)
				}
				continue
			default:
				return p.errorf("invalid escape '\\%c'", esc)
			}
		}
		if keep && len(p.val) < maxValue {
			p.val = append(p.val, b)
		}
	}
}

func (p *Parser) int64() (int64, error) {
	neg, digits, err := p.number(true)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(string(digits), 10, 64)
	if err != nil || v > 1<<63 || (!neg && v == 1<<63) {
		return 0, p.errorf("integer out of range: %s", digits)
	}
	if neg {
		return -int64(v), nil
	}
	return int64(v), nil
}

func (p *Parser) uint64() (uint64, error) {
	_, digits, err := p.number(false)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(string(digits), 10, 64)
	if err != nil {
		return 0, p.errorf("integer out of range: %s", digits)
	}
	return v, nil
}

// number reads an optionally signed run of digits and drops a trailing
// fractional part, which older writers emitted for sizes.
func (p *Parser) number(signed bool) (neg bool, digits []byte, err error) {
	if err := p.skipSpace(); err != nil {
		return false, nil, p.eof(err)
	}
	p.val = p.val[:0]
	b, err := p.r.ReadByte()
	if err != nil {
		return false, nil, p.eof(err)
	}
	if signed && b == '-' {
		neg = true
		if b, err = p.r.ReadByte(); err != nil {
			return false, nil, p.eof(err)
		}
	}
	if !isDigit(b) {
		return false, nil, p.errorf("expected number, got %q", b)
	}
	inFraction := false
	for {
		switch {
		case isDigit(b) && !inFraction:
			p.val = append(p.val, b)
		case isDigit(b):
		case b == '.' && !inFraction:
			inFraction = true
		default:
			return neg, p.val, p.r.UnreadByte()
		}
		if b, err = p.r.ReadByte(); err == io.EOF {
			return neg, p.val, nil
		} else if err != nil {
			return false, nil, err
		}
	}
}

func (p *Parser) expect(want byte) error {
	c, err := p.peek()
	if err != nil {
		return err
	}
	if c != want {
		return p.errorf("expected %q, got %q", want, c)
	}
	p.advance()
	return nil
}

// peek returns the next non-space byte without consuming it.
func (p *Parser) peek() (byte, error) {
	if err := p.skipSpace(); err != nil {
		return 0, p.eof(err)
	}
	b, err := p.r.Peek(1)
	if err != nil {
		return 0, p.eof(err)
	}
	return b[0], nil
}

func (p *Parser) advance() { _, _ = p.r.ReadByte() }

func (p *Parser) skipSpace() error {
	for {
		b, err := p.r.ReadByte()
		if err != nil {
			return err
		}
		switch b {
		case ' ', '\t', '\r':
		case '\n':
			p.line++
		default:
			return p.r.UnreadByte()
		}
	}
}

func (p *Parser) eof(err error) error {
	if err == io.EOF {
		return p.errorf("unexpected end of file")
	}
	return err
}

func (p *Parser) errorf(format string, args ...any) error {
	return &SyntaxError{Line: p.line, Msg: fmt.Sprintf(format, args...)}
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
