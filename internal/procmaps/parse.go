// Package procmaps parses the kernel memory map of a process and groups its
// lines into per-file modules whose file offsets can be translated back into
// mapped addresses.
package procmaps

import "bytes"

// Line is one decoded line of /proc/<pid>/maps. Path borrows the buffer the
// line was parsed from.
type Line struct {
	Start, End uint64
	Perms      [4]byte
	Offset     uint64
	Major      uint32
	Minor      uint32
	Inode      uint64
	Path       []byte
	HasPath    bool
}

// ParseLine decodes the line at the start of buf. Example format:
//
//	7f1234560000-7f1234580000 r-xp 00000000 08:01 131073 /lib/x86_64-linux-gnu/libc.so.6
//
// It returns the number of bytes consumed, trailing newline included, or 0 if
// buf does not start with a well-formed line.
func ParseLine(buf []byte) (Line, int) {
	var l Line
	c := cursor{buf: buf}

	var ok bool
	if l.Start, ok = c.hex(); !ok || !c.expect('-') {
		return Line{}, 0
	}
	if l.End, ok = c.hex(); !ok || l.End < l.Start {
		return Line{}, 0
	}
	c.skipBlank()
	if c.pos+len(l.Perms) > len(buf) {
		return Line{}, 0
	}
	copy(l.Perms[:], buf[c.pos:c.pos+len(l.Perms)])
	if bytes.ContainsAny(l.Perms[:], " \t\n") {
		return Line{}, 0
	}
	c.pos += len(l.Perms)

	if l.Offset, ok = c.hex(); !ok {
		return Line{}, 0
	}
	major, ok := c.hex()
	if !ok || major > 0xffffffff || !c.expect(':') {
		return Line{}, 0
	}
	minor, ok := c.hex()
	if !ok || minor > 0xffffffff {
		return Line{}, 0
	}
	l.Major, l.Minor = uint32(major), uint32(minor)
	if l.Inode, ok = c.dec(); !ok {
		return Line{}, 0
	}

	c.skipBlank()
	rest := buf[c.pos:]
	nl := bytes.IndexByte(rest, '\n')
	switch {
	case nl == 0:
		return l, c.pos + 1
	case nl > 0:
		l.Path, l.HasPath = rest[:nl], true
		return l, c.pos + nl + 1
	case len(rest) == 0:
		return l, c.pos
	default:
		l.Path, l.HasPath = rest, true
		return l, len(buf)
	}
}

// ParseAll calls fn for every line of buf, stopping at the first line that
// does not parse.
func ParseAll(buf []byte, fn func(Line)) {
	for len(buf) > 0 {
		l, n := ParseLine(buf)
		if n == 0 {
			return
		}
		fn(l)
		buf = buf[n:]
	}
}

type cursor struct {
	buf []byte
	pos int
}

// skipBlank skips the blanks separating two fields of a line.
func (c *cursor) skipBlank() {
	for c.pos < len(c.buf) && (c.buf[c.pos] == ' ' || c.buf[c.pos] == '\t') {
		c.pos++
	}
}

func (c *cursor) expect(b byte) bool {
	if c.pos < len(c.buf) && c.buf[c.pos] == b {
		c.pos++
		return true
	}
	return false
}

func (c *cursor) hex() (uint64, bool) {
	c.skipBlank()
	var v uint64
	start := c.pos
	for c.pos < len(c.buf) {
		var d byte
		switch b := c.buf[c.pos]; {
		case b >= '0' && b <= '9':
			d = b - '0'
		case b >= 'a' && b <= 'f':
			d = b - 'a' + 10
		case b >= 'A' && b <= 'F':
			d = b - 'A' + 10
		default:
			return v, c.pos > start
		}
		if v>>60 != 0 {
			return 0, false
		}
		v = v<<4 | uint64(d)
		c.pos++
	}
	return v, c.pos > start
}

func (c *cursor) dec() (uint64, bool) {
	c.skipBlank()
	var v uint64
	start := c.pos
	for c.pos < len(c.buf) && c.buf[c.pos] >= '0' && c.buf[c.pos] <= '9' {
		d := uint64(c.buf[c.pos] - '0')
		if v > (^uint64(0)-d)/10 {
			return 0, false
		}
		v = v*10 + d
		c.pos++
	}
	return v, c.pos > start
}
