// Package auxv reads the auxiliary vector the kernel hands to a process.
package auxv

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"math/bits"
	"os"
)

const (
	atNull        = 0
	atSysinfoEHDR = 33 // base address of the vDSO
)

// Layout is the width of one (type, value) record.
type Layout int

const (
	Layout32 Layout = 4
	Layout64 Layout = 8
)

// Native is the record layout of the running platform.
var Native = func() Layout {
	if bits.UintSize == 32 {
		return Layout32
	}
	return Layout64
}()

type Entry struct {
	Type  uint64
	Value uint64
}

// Decoder reads records from an auxv stream.
type Decoder struct {
	r      io.Reader
	layout Layout
	order  binary.ByteOrder
	buf    [16]byte
}

func NewDecoder(r io.Reader, layout Layout) *Decoder {
	return &Decoder{r: r, layout: layout, order: binary.NativeEndian}
}

// Next returns the next record. It returns io.EOF at the terminating AT_NULL
// record or at the end of the stream, whichever comes first.
func (d *Decoder) Next() (Entry, error) {
	n := 2 * int(d.layout)
	if _, err := io.ReadFull(d.r, d.buf[:n]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Entry{}, io.EOF
		}
		return Entry{}, err
	}
	var e Entry
	if d.layout == Layout32 {
		e = Entry{Type: uint64(d.order.Uint32(d.buf[0:4])), Value: uint64(d.order.Uint32(d.buf[4:8]))}
	} else {
		e = Entry{Type: d.order.Uint64(d.buf[0:8]), Value: d.order.Uint64(d.buf[8:16])}
	}
	if e.Type == atNull {
		return Entry{}, io.EOF
	}
	return e, nil
}

// Lookup scans the stream for the first record of type typ.
func Lookup(d *Decoder, typ uint64) (uint64, bool) {
	for {
		e, err := d.Next()
		if err != nil {
			return 0, false
		}
		if e.Type == typ {
			return e.Value, true
		}
	}
}

// Reader locates values in an auxv file such as /proc/self/auxv.
type Reader struct {
	Path   string
	Layout Layout
}

func NewReader(path string) *Reader {
	return &Reader{Path: path, Layout: Native}
}

// VDSOBase returns the address the vDSO is mapped at. It reports false when
// the file cannot be read or carries no AT_SYSINFO_EHDR record.
func (r *Reader) VDSOBase() (uint64, bool) {
	f, err := os.Open(r.Path)
	if err != nil {
		slog.Debug("Auxiliary vector not readable", "path", r.Path, "error", err)
		return 0, false
	}
	defer f.Close()

	base, ok := Lookup(NewDecoder(bufio.NewReader(f), r.Layout), atSysinfoEHDR)
	if !ok || base == 0 {
		return 0, false
	}
	return base, true
}
