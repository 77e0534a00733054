// Package procfs reads files of the /proc pseudo-filesystem.
package procfs

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"
)

const readChunkSize = 4096

// DataLoader reads a whole procfs (pseudo-)file. procfs files report a size of
// zero, so the content is accumulated chunk by chunk until EOF.
type DataLoader struct {
	Path string
}

func NewDataLoader(path string) *DataLoader {
	return &DataLoader{Path: path}
}

func MapsPath(pid int) string {
	return fmt.Sprintf("/proc/%d/maps", pid)
}

func AuxvPath(pid int) string {
	return fmt.Sprintf("/proc/%d/auxv", pid)
}

func MemPath(pid int) string {
	return fmt.Sprintf("/proc/%d/mem", pid)
}

// ReadAll returns the full content of the file. Interrupted and would-block
// reads are retried; a zero-byte read or any other error ends the loop.
func (d *DataLoader) ReadAll() ([]byte, error) {
	slog.Debug("Loading (pseudo-)file", "path", d.Path)
	fd, err := OpenRetry(d.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.Path, err)
	}
	defer unix.Close(fd)

	var sb bytes.Buffer
	chunk := make([]byte, readChunkSize)
	for {
		n, err := unix.Read(fd, chunk)
		if err != nil && IsTransient(err) {
			continue
		}
		if err != nil || n <= 0 {
			break
		}
		sb.Write(chunk[:n])
	}
	return sb.Bytes(), nil
}

// OpenRetry opens path read-only, retrying interrupted calls.
func OpenRetry(path string) (int, error) {
	for {
		fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
		if err != nil && errors.Is(err, unix.EINTR) {
			continue
		}
		return fd, err
	}
}

// IsTransient reports whether a failed read should simply be retried.
func IsTransient(err error) bool {
	return errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN)
}
