// Package elfid extracts identifying metadata from ELF images that are mapped
// into memory: the GNU build id when there is one, a hash of the text section
// otherwise.
//
// Every byte is read through Image, which only hands out ranges that the
// module's memory map proves to be mapped. A malformed image therefore makes
// introspection fail, never read out of bounds.
package elfid

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"log/slog"
	"math"

	"github.com/VladMinzatu/modulefinder/internal/procmaps"
	"github.com/VladMinzatu/modulefinder/internal/procmem"
)

const (
	ntGNUBuildID = 3

	noteHeaderSize = 12
	maxTextHashLen = 4096
)

var (
	header32Size  = uint64(binary.Size(elf.Header32{}))
	header64Size  = uint64(binary.Size(elf.Header64{}))
	prog32Size    = uint64(binary.Size(elf.Prog32{}))
	prog64Size    = uint64(binary.Size(elf.Prog64{}))
	section32Size = uint64(binary.Size(elf.Section32{}))
	section64Size = uint64(binary.Size(elf.Section64{}))
)

// Image is a module whose file offsets are resolved through its memory map.
type Image struct {
	Module *procmaps.Module
	Memory procmem.Memory
}

func (img Image) bytes(offset, size uint64) ([]byte, bool) {
	return img.prefix(offset, size, size)
}

// prefix validates the whole range [offset, offset+size) but only reads its
// first limit bytes.
func (img Image) prefix(offset, size, limit uint64) ([]byte, bool) {
	addr, ok := img.Module.Translate(offset, size)
	if !ok {
		return nil, false
	}
	b, err := img.Memory.Bytes(addr, min(size, limit))
	if err != nil {
		slog.Debug("Failed to read validated range", "path", string(img.Module.Path), "addr", addr, "error", err)
		return nil, false
	}
	return b, true
}

// IsELF reports whether the image starts with the ELF magic.
func IsELF(img Image) bool {
	ident, ok := img.bytes(0, elf.EI_NIDENT)
	return ok && string(ident[:len(elf.ELFMAG)]) == elf.ELFMAG
}

type header struct {
	class     elf.Class
	order     binary.ByteOrder
	phoff     uint64
	phentsize uint64
	phnum     uint64
	shoff     uint64
	shentsize uint64
	shnum     uint64
	shstrndx  uint64
}

type prog struct {
	typ    elf.ProgType
	offset uint64
	filesz uint64
	align  uint64
}

type section struct {
	name   uint32
	typ    elf.SectionType
	offset uint64
	size   uint64
}

func readHeader(img Image) (*header, bool) {
	ident, ok := img.bytes(0, elf.EI_NIDENT)
	if !ok || string(ident[:len(elf.ELFMAG)]) != elf.ELFMAG {
		return nil, false
	}
	h := &header{class: elf.Class(ident[elf.EI_CLASS])}
	switch elf.Data(ident[elf.EI_DATA]) {
	case elf.ELFDATA2LSB:
		h.order = binary.LittleEndian
	case elf.ELFDATA2MSB:
		h.order = binary.BigEndian
	default:
		return nil, false
	}

	if h.class == elf.ELFCLASS64 {
		var eh elf.Header64
		if !decode(img, 0, header64Size, h.order, &eh) {
			return nil, false
		}
		h.phoff, h.phentsize, h.phnum = eh.Phoff, uint64(eh.Phentsize), uint64(eh.Phnum)
		h.shoff, h.shentsize, h.shnum = eh.Shoff, uint64(eh.Shentsize), uint64(eh.Shnum)
		h.shstrndx = uint64(eh.Shstrndx)
		return h, true
	}
	var eh elf.Header32
	if !decode(img, 0, header32Size, h.order, &eh) {
		return nil, false
	}
	h.phoff, h.phentsize, h.phnum = uint64(eh.Phoff), uint64(eh.Phentsize), uint64(eh.Phnum)
	h.shoff, h.shentsize, h.shnum = uint64(eh.Shoff), uint64(eh.Shentsize), uint64(eh.Shnum)
	h.shstrndx = uint64(eh.Shstrndx)
	return h, true
}

func decode(img Image, offset, size uint64, order binary.ByteOrder, v any) bool {
	b, ok := img.bytes(offset, size)
	if !ok {
		return false
	}
	return binary.Read(bytes.NewReader(b), order, v) == nil
}

// entry returns the file offset of entry i of a table at base.
func entry(base, i, entsize uint64) (uint64, bool) {
	rel := i * entsize
	if base > math.MaxUint64-rel {
		return 0, false
	}
	return base + rel, true
}

func (h *header) prog(img Image, i uint64) (prog, bool) {
	off, ok := entry(h.phoff, i, h.phentsize)
	if !ok {
		return prog{}, false
	}
	if h.class == elf.ELFCLASS64 {
		var p elf.Prog64
		if h.phentsize < prog64Size || !decode(img, off, prog64Size, h.order, &p) {
			return prog{}, false
		}
		return prog{typ: elf.ProgType(p.Type), offset: p.Off, filesz: p.Filesz, align: p.Align}, true
	}
	var p elf.Prog32
	if h.phentsize < prog32Size || !decode(img, off, prog32Size, h.order, &p) {
		return prog{}, false
	}
	return prog{typ: elf.ProgType(p.Type), offset: uint64(p.Off), filesz: uint64(p.Filesz), align: uint64(p.Align)}, true
}

func (h *header) section(img Image, i uint64) (section, bool) {
	off, ok := entry(h.shoff, i, h.shentsize)
	if !ok {
		return section{}, false
	}
	if h.class == elf.ELFCLASS64 {
		var s elf.Section64
		if h.shentsize < section64Size || !decode(img, off, section64Size, h.order, &s) {
			return section{}, false
		}
		return section{name: s.Name, typ: elf.SectionType(s.Type), offset: s.Off, size: s.Size}, true
	}
	var s elf.Section32
	if h.shentsize < section32Size || !decode(img, off, section32Size, h.order, &s) {
		return section{}, false
	}
	return section{name: s.Name, typ: elf.SectionType(s.Type), offset: uint64(s.Off), size: uint64(s.Size)}, true
}

// CodeID returns the descriptor of the first GNU build id note found in the
// PT_NOTE segments of the image. The returned slice is a copy.
func CodeID(img Image) ([]byte, bool) {
	h, ok := readHeader(img)
	if !ok {
		return nil, false
	}
	for i := uint64(0); i < h.phnum; i++ {
		p, ok := h.prog(img, i)
		if !ok {
			slog.Debug("Program header not mapped", "path", string(img.Module.Path), "index", i)
			return nil, false
		}
		if p.typ != elf.PT_NOTE {
			continue
		}
		addr, ok := img.Module.Translate(p.offset, p.filesz)
		if !ok {
			return nil, false
		}
		notes, ok := img.bytes(p.offset, p.filesz)
		if !ok {
			return nil, false
		}
		if id, ok := buildIDFromNotes(notes, addr, p.align, h.order); ok {
			return bytes.Clone(id), true
		}
	}
	return nil, false
}

// buildIDFromNotes walks the notes of a segment mapped at base. Name and
// descriptor fields are padded to align, which must be 4 or 8 once raised to
// at least 4.
func buildIDFromNotes(notes []byte, base, align uint64, order binary.ByteOrder) ([]byte, bool) {
	if align < 4 {
		align = 4
	} else if align != 4 && align != 8 {
		return nil, false
	}

	end := uint64(len(notes))
	pad := func(pos uint64) uint64 {
		if rem := (base + pos) % align; rem != 0 {
			return pos + align - rem
		}
		return pos
	}

	pos := uint64(0)
	for pos < end {
		if end-pos < noteHeaderSize {
			return nil, false
		}
		namesz := uint64(order.Uint32(notes[pos:]))
		descsz := uint64(order.Uint32(notes[pos+4:]))
		typ := order.Uint32(notes[pos+8:])

		pos = pad(pos + noteHeaderSize + namesz)
		if typ == ntGNUBuildID {
			if pos > end || descsz > end-pos {
				return nil, false
			}
			return notes[pos : pos+descsz], true
		}
		pos = pad(pos + descsz)
	}
	return nil, false
}

// TextHash folds the first 4096 bytes of the .text section into 16 bytes. It
// identifies images that were linked without a build id.
func TextHash(img Image) ([16]byte, bool) {
	var sum [16]byte

	h, ok := readHeader(img)
	if !ok {
		return sum, false
	}
	strtab, ok := h.section(img, h.shstrndx)
	if !ok {
		return sum, false
	}
	names, ok := img.bytes(strtab.offset, strtab.size)
	if !ok {
		return sum, false
	}

	for i := uint64(0); i < h.shnum; i++ {
		s, ok := h.section(img, i)
		if !ok {
			slog.Debug("Section header not mapped", "path", string(img.Module.Path), "index", i)
			return sum, false
		}
		if s.typ != elf.SHT_PROGBITS || sectionName(names, s.name) != ".text" {
			continue
		}
		text, ok := img.prefix(s.offset, s.size, maxTextHashLen)
		if !ok {
			return sum, false
		}
		for j, b := range text {
			sum[j%len(sum)] ^= b
		}
		return sum, true
	}
	return sum, false
}

func sectionName(names []byte, off uint32) string {
	if uint64(off) >= uint64(len(names)) {
		return ""
	}
	name := names[off:]
	n := bytes.IndexByte(name, 0)
	if n < 0 {
		return ""
	}
	return string(name[:n])
}
