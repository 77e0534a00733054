// Package elftest builds small ELF images for tests.
package elftest

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
)

// NTGNUBuildID is the note type of a GNU build id.
const NTGNUBuildID = 3

// Note is one entry of a PT_NOTE segment.
type Note struct {
	Name string
	Type uint32
	Desc []byte
}

// Image describes a minimal little-endian ELF file: one PT_LOAD covering the
// whole file, an optional PT_NOTE segment, an optional .text section and the
// section name table.
type Image struct {
	Class     elf.Class
	Notes     []Note
	NoteAlign uint64
	Text      []byte
}

func alignUp(v, a uint64) uint64 {
	if r := v % a; r != 0 {
		return v + a - r
	}
	return v
}

func padTo(buf *bytes.Buffer, off uint64) {
	for uint64(buf.Len()) < off {
		buf.WriteByte(0)
	}
}

func (e Image) encodeNotes() []byte {
	align := e.NoteAlign
	if align == 0 {
		align = 4
	}
	var buf bytes.Buffer
	for _, n := range e.Notes {
		name := []byte(n.Name + "\x00")
		_ = binary.Write(&buf, binary.LittleEndian, [3]uint32{uint32(len(name)), uint32(len(n.Desc)), n.Type})
		buf.Write(name)
		padTo(&buf, alignUp(uint64(buf.Len()), max(align, 4)))
		buf.Write(n.Desc)
		padTo(&buf, alignUp(uint64(buf.Len()), max(align, 4)))
	}
	return buf.Bytes()
}

// Build lays out the ELF header, program headers, notes, .text, .shstrtab and
// the section header table, in that order.
func (e Image) Build() []byte {
	is64 := e.Class == elf.ELFCLASS64
	hdrSize, phSize, shSize := uint64(52), uint64(32), uint64(40)
	if is64 {
		hdrSize, phSize, shSize = 64, 56, 64
	}

	notes := e.encodeNotes()
	phnum := uint64(1)
	if len(e.Notes) > 0 {
		phnum++
	}
	strtab := []byte("\x00.text\x00.shstrtab\x00")

	phoff := hdrSize
	notesOff := alignUp(phoff+phnum*phSize, 8)
	textOff := alignUp(notesOff+uint64(len(notes)), 16)
	strtabOff := textOff + uint64(len(e.Text))
	shoff := alignUp(strtabOff+uint64(len(strtab)), 8)

	type sect struct {
		name, typ    uint32
		offset, size uint64
	}
	sections := []sect{{}}
	if e.Text != nil {
		sections = append(sections, sect{name: 1, typ: uint32(elf.SHT_PROGBITS), offset: textOff, size: uint64(len(e.Text))})
	}
	sections = append(sections, sect{name: 7, typ: uint32(elf.SHT_STRTAB), offset: strtabOff, size: uint64(len(strtab))})
	fileSize := shoff + uint64(len(sections))*shSize

	var ident [elf.EI_NIDENT]byte
	copy(ident[:], elf.ELFMAG)
	ident[elf.EI_CLASS] = byte(e.Class)
	ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	le := binary.LittleEndian
	var buf bytes.Buffer
	if is64 {
		_ = binary.Write(&buf, le, elf.Header64{
			Ident: ident, Type: uint16(elf.ET_DYN), Machine: uint16(elf.EM_X86_64), Version: uint32(elf.EV_CURRENT),
			Phoff: phoff, Shoff: shoff, Ehsize: uint16(hdrSize),
			Phentsize: uint16(phSize), Phnum: uint16(phnum),
			Shentsize: uint16(shSize), Shnum: uint16(len(sections)), Shstrndx: uint16(len(sections) - 1),
		})
		_ = binary.Write(&buf, le, elf.Prog64{Type: uint32(elf.PT_LOAD), Off: 0, Filesz: fileSize, Memsz: fileSize, Align: 0x1000})
		if len(e.Notes) > 0 {
			_ = binary.Write(&buf, le, elf.Prog64{Type: uint32(elf.PT_NOTE), Off: notesOff, Filesz: uint64(len(notes)), Memsz: uint64(len(notes)), Align: e.NoteAlign})
		}
	} else {
		_ = binary.Write(&buf, le, elf.Header32{
			Ident: ident, Type: uint16(elf.ET_DYN), Machine: uint16(elf.EM_386), Version: uint32(elf.EV_CURRENT),
			Phoff: uint32(phoff), Shoff: uint32(shoff), Ehsize: uint16(hdrSize),
			Phentsize: uint16(phSize), Phnum: uint16(phnum),
			Shentsize: uint16(shSize), Shnum: uint16(len(sections)), Shstrndx: uint16(len(sections) - 1),
		})
		_ = binary.Write(&buf, le, elf.Prog32{Type: uint32(elf.PT_LOAD), Off: 0, Filesz: uint32(fileSize), Memsz: uint32(fileSize), Align: 0x1000})
		if len(e.Notes) > 0 {
			_ = binary.Write(&buf, le, elf.Prog32{Type: uint32(elf.PT_NOTE), Off: uint32(notesOff), Filesz: uint32(len(notes)), Memsz: uint32(len(notes)), Align: uint32(e.NoteAlign)})
		}
	}

	padTo(&buf, notesOff)
	buf.Write(notes)
	padTo(&buf, textOff)
	buf.Write(e.Text)
	buf.Write(strtab)
	padTo(&buf, shoff)
	for _, s := range sections {
		if is64 {
			_ = binary.Write(&buf, le, elf.Section64{Name: s.name, Type: s.typ, Off: s.offset, Size: s.size})
		} else {
			_ = binary.Write(&buf, le, elf.Section32{Name: s.name, Type: s.typ, Off: uint32(s.offset), Size: uint32(s.size)})
		}
	}
	return buf.Bytes()
}

// WithBuildID returns an image carrying an ABI tag note followed by a GNU
// build id note holding id.
func WithBuildID(class elf.Class, id []byte) Image {
	return Image{
		Class:     class,
		NoteAlign: 4,
		Notes: []Note{
			{Name: "GNU", Type: 1, Desc: []byte{0, 0, 0, 0, 3, 0, 0, 0, 2, 0, 0, 0, 0, 0, 0, 0}},
			{Name: "GNU", Type: NTGNUBuildID, Desc: id},
		},
		Text: bytes.Repeat([]byte{0x90}, 64),
	}
}
