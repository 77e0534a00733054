// Package procmem gives read access to the memory of a process.
//
// Callers are expected to have validated every address range against the
// memory map (see procmaps.Module.Translate) before asking for its bytes.
package procmem

import (
	"errors"
	"fmt"
	"math"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/VladMinzatu/modulefinder/internal/procfs"
)

var ErrOutOfRange = errors.New("address range outside of memory")

// Memory returns size bytes mapped at addr.
type Memory interface {
	Bytes(addr, size uint64) ([]byte, error)
}

// Self reads the address space of the current process directly. The returned
// slices alias the mapped memory and must not be written to.
type Self struct{}

func (Self) Bytes(addr, size uint64) ([]byte, error) {
	if addr == 0 {
		return nil, ErrOutOfRange
	}
	if size == 0 {
		return []byte{}, nil
	}
	if size > math.MaxInt || size > uint64(^uintptr(0)-uintptr(addr)) {
		return nil, ErrOutOfRange
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), int(size)), nil
}

// Proc reads the address space of another process through /proc/<pid>/mem.
type Proc struct {
	fd int
}

func OpenProc(pid int) (*Proc, error) {
	fd, err := procfs.OpenRetry(procfs.MemPath(pid))
	if err != nil {
		return nil, fmt.Errorf("open memory of pid %d: %w", pid, err)
	}
	return &Proc{fd: fd}, nil
}

func (p *Proc) Bytes(addr, size uint64) ([]byte, error) {
	if addr > uint64(1<<63-1) || size > uint64(1<<63-1)-addr {
		return nil, ErrOutOfRange
	}
	buf := make([]byte, size)
	read := 0
	for read < len(buf) {
		n, err := unix.Pread(p.fd, buf[read:], int64(addr)+int64(read))
		if err != nil && procfs.IsTransient(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("pread 0x%x: %w", addr, err)
		}
		if n == 0 {
			return nil, ErrOutOfRange
		}
		read += n
	}
	return buf, nil
}

func (p *Proc) Close() error {
	return unix.Close(p.fd)
}

// Buffer serves a byte slice as if it were mapped at Base. It backs ELF images
// loaded from files rather than from a live address space.
type Buffer struct {
	Base uint64
	Data []byte
}

func (b *Buffer) Bytes(addr, size uint64) ([]byte, error) {
	if addr < b.Base {
		return nil, ErrOutOfRange
	}
	off := addr - b.Base
	if off > uint64(len(b.Data)) || size > uint64(len(b.Data))-off {
		return nil, ErrOutOfRange
	}
	return b.Data[off : off+size], nil
}
