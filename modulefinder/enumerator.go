package modulefinder

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/VladMinzatu/modulefinder/internal/auxv"
	"github.com/VladMinzatu/modulefinder/internal/elfid"
	"github.com/VladMinzatu/modulefinder/internal/procfs"
	"github.com/VladMinzatu/modulefinder/internal/procmaps"
	"github.com/VladMinzatu/modulefinder/internal/procmem"
)

// vDSO images have no backing file; they are reported under this name.
var linuxGate = []byte("linux-gate.so")

// Options select the process to enumerate and where its procfs data lives.
type Options struct {
	PID      int
	MapsPath string
	AuxvPath string
	// Memory reads the address space of the process. When nil, the current
	// process is read directly and other processes through /proc/<pid>/mem.
	Memory procmem.Memory
}

// DefaultOptions enumerate the current process.
func DefaultOptions() Options {
	return Options{
		PID:      os.Getpid(),
		MapsPath: "/proc/self/maps",
		AuxvPath: "/proc/self/auxv",
		Memory:   procmem.Self{},
	}
}

func OptionsForPID(pid int) Options {
	if pid == os.Getpid() {
		return DefaultOptions()
	}
	return Options{
		PID:      pid,
		MapsPath: procfs.MapsPath(pid),
		AuxvPath: procfs.AuxvPath(pid),
	}
}

type MapsReader interface {
	ReadAll() ([]byte, error)
}

type VDSOLocator interface {
	VDSOBase() (uint64, bool)
}

// Enumerator builds the module list of one process. Every call to Enumerate
// re-reads the memory map.
type Enumerator struct {
	pid    int
	maps   MapsReader
	auxv   VDSOLocator
	memory procmem.Memory
}

func NewEnumerator(opts Options) *Enumerator {
	return &Enumerator{
		pid:    opts.PID,
		maps:   procfs.NewDataLoader(opts.MapsPath),
		auxv:   auxv.NewReader(opts.AuxvPath),
		memory: opts.Memory,
	}
}

func newEnumerator(maps MapsReader, vdso VDSOLocator, memory procmem.Memory) *Enumerator {
	return &Enumerator{maps: maps, auxv: vdso, memory: memory}
}

func (e *Enumerator) openMemory() (procmem.Memory, func(), error) {
	if e.memory != nil {
		return e.memory, func() {}, nil
	}
	if e.pid == os.Getpid() {
		return procmem.Self{}, func() {}, nil
	}
	p, err := procmem.OpenProc(e.pid)
	if err != nil {
		return nil, nil, err
	}
	return p, func() { _ = p.Close() }, nil
}

// Enumerate lists the ELF modules of the process in memory map order. Failures
// are not fatal: an unreadable memory map gives an empty list and modules that
// cannot be identified are skipped.
func (e *Enumerator) Enumerate() []Module {
	contents, err := e.maps.ReadAll()
	if err != nil {
		slog.Warn("Failed to read memory map", "pid", e.pid, "error", err)
		return nil
	}
	mem, closeMem, err := e.openMemory()
	if err != nil {
		slog.Warn("Failed to open process memory", "pid", e.pid, "error", err)
		return nil
	}
	defer closeMem()

	vdso, _ := e.auxv.VDSOBase()

	var (
		modules []Module
		current procmaps.Module
	)
	flush := func() {
		if current.Empty() || len(current.Path) == 0 {
			return
		}
		if m, ok := describe(&current, mem); ok {
			modules = append(modules, m)
		}
	}

	// Lines of one file are adjacent in the map, so a change of path ends a
	// module.
	procmaps.ParseAll(contents, func(l procmaps.Line) {
		path := l.Path
		if l.Start != 0 && l.Start == vdso {
			path = linuxGate
		} else if !isModulePath(l) {
			return
		}
		if len(current.Path) > 0 && !bytes.Equal(current.Path, path) {
			flush()
			current.Reset(nil)
		}
		current.Path = path
		current.Push(l)
	})
	flush()

	slog.Debug("Enumerated modules", "pid", e.pid, "count", len(modules))
	return modules
}

// isModulePath filters out lines that cannot belong to a loaded image:
// anonymous and unreadable mappings, pseudo paths such as [heap], devices and
// files marked "(deleted)", whose pages may fault when touched.
func isModulePath(l procmaps.Line) bool {
	p := l.Path
	switch {
	case l.Start == 0, len(p) == 0, l.Perms[0] != 'r':
		return false
	case p[len(p)-1] == ')':
		return false
	case bytes.IndexByte(p, '/') < 0:
		return false
	case bytes.HasPrefix(p, []byte("/dev/")):
		return false
	}
	return true
}

// describe identifies a finished module. It reports false for mappings that
// are not ELF images or that fault while being read.
func describe(m *procmaps.Module, mem procmem.Memory) (mod Module, ok bool) {
	defer debug.SetPanicOnFault(debug.SetPanicOnFault(true))
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("Fault while reading module headers", "path", string(m.Path), "error", fmt.Sprint(r))
			mod, ok = Module{}, false
		}
	}()

	img := elfid.Image{Module: m, Memory: mem}
	if !elfid.IsELF(img) {
		slog.Debug("Skipping non-ELF mapping", "path", string(m.Path))
		return Module{}, false
	}
	ids := elfid.ReadIDs(img)
	return Module{
		Type:      TypeELF,
		ImageAddr: Addr(m.ImageAddr()),
		ImageSize: m.ImageSize(),
		CodeFile:  string(m.Path),
		CodeID:    elfid.CodeIDString(ids.CodeID),
		DebugID:   ids.DebugID,
	}, true
}
