package procmaps

import "math"

// MaxRegions caps the number of file fragments kept per module. Fragments past
// the cap are dropped, so offsets living only in them cannot be translated.
const MaxRegions = 5

// Region is a contiguous chunk of a module's backing file mapped into memory.
type Region struct {
	Offset uint64
	Size   uint64
	Addr   uint64
}

func (r Region) end() uint64       { return r.Addr + r.Size }
func (r Region) offsetEnd() uint64 { return r.Offset + r.Size }

// Module accumulates the mappings of one file while the memory map is walked.
// Regions are kept in the ascending address order of the map.
type Module struct {
	Path    []byte
	regions [MaxRegions]Region
	n       int
}

// NewModule returns a module for path holding the given regions, at most
// MaxRegions of them.
func NewModule(path []byte, regions ...Region) *Module {
	m := &Module{Path: path}
	for _, r := range regions {
		if m.n == MaxRegions {
			break
		}
		m.regions[m.n] = r
		m.n++
	}
	return m
}

func (m *Module) Regions() []Region {
	return m.regions[:m.n]
}

func (m *Module) Empty() bool {
	return m.n == 0
}

// Reset clears the module so that it can accumulate the next file.
func (m *Module) Reset(path []byte) {
	*m = Module{Path: path}
}

// Push adds the mapping described by l. It extends the last region when the
// new mapping continues it both in memory and in the file.
func (m *Module) Push(l Line) {
	size := l.End - l.Start
	if m.n > 0 {
		last := &m.regions[m.n-1]
		if last.end() == l.Start && last.offsetEnd() == l.Offset {
			last.Size += size
			return
		}
	}
	if m.n < MaxRegions {
		m.regions[m.n] = Region{Offset: l.Offset, Size: size, Addr: l.Start}
		m.n++
	}
}

// ImageAddr is the address the first region is mapped at.
func (m *Module) ImageAddr() uint64 {
	if m.n == 0 {
		return 0
	}
	return m.regions[0].Addr
}

// ImageSize is the file extent covered by the mappings, measured up to the end
// of the last region.
func (m *Module) ImageSize() uint64 {
	if m.n == 0 {
		return 0
	}
	return m.regions[m.n-1].offsetEnd()
}

// Translate returns the address at which size bytes starting at file offset
// offset are mapped. It fails unless the whole range lies in memory that is
// contiguous both in address and in file offset; a range is never stitched
// together across a gap.
func (m *Module) Translate(offset, size uint64) (uint64, bool) {
	var (
		addr      uint64
		found     bool
		runEnd    uint64
		runOffEnd uint64
	)
	for i, r := range m.Regions() {
		if i > 0 && (runEnd != r.Addr || runOffEnd != r.Offset) {
			if found {
				return 0, false
			}
		}
		runEnd, runOffEnd = r.end(), r.offsetEnd()

		if offset >= r.Offset && offset-r.Offset < r.Size {
			addr, found = offset-r.Offset+r.Addr, true
		}
		if found && size <= math.MaxUint64-addr && addr+size <= runEnd {
			return addr, true
		}
	}
	return 0, false
}
