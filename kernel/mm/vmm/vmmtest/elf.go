// Package vmmtest builds executable images for tests.
package vmmtest

import (
	"bytes"
	"debug/elf"
	"encoding/binary"

	"rvos/kernel/mm"
)

// Segment describes one PT_LOAD program header of a test image.
type Segment struct {
	Vaddr uint64
	Flags elf.ProgFlag
	Data  []byte

	// Memsz is raised to len(Data) if smaller.
	Memsz uint64
}

// BuildELF returns a minimal little-endian ELF64 executable with one
// PT_LOAD program header per segment and no section headers.
func BuildELF(machine elf.Machine, entry uint64, segs ...Segment) []byte {
	const (
		ehsize    = 64
		phentsize = 56
	)

	hdr := elf.Header64{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(machine),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     entry,
		Phoff:     ehsize,
		Ehsize:    ehsize,
		Phentsize: phentsize,
		Phnum:     uint16(len(segs)),
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, &hdr)

	off := uint64(ehsize + phentsize*len(segs))
	for _, seg := range segs {
		memsz := seg.Memsz
		if memsz < uint64(len(seg.Data)) {
			memsz = uint64(len(seg.Data))
		}
		prog := elf.Prog64{
			Type:   uint32(elf.PT_LOAD),
			Flags:  uint32(seg.Flags),
			Off:    off,
			Vaddr:  seg.Vaddr,
			Paddr:  seg.Vaddr,
			Filesz: uint64(len(seg.Data)),
			Memsz:  memsz,
			Align:  uint64(mm.PageSize),
		}
		_ = binary.Write(&buf, binary.LittleEndian, &prog)
		off += uint64(len(seg.Data))
	}

	for _, seg := range segs {
		buf.Write(seg.Data)
	}
	return buf.Bytes()
}

const (
	// ProgramEntry is the entry point of images built by Program.
	ProgramEntry = 0x10000

	// ProgramData is the start of the writable page of images built by
	// Program.
	ProgramData = 0x11000
)

// Program returns a RISC-V image with a text page holding code at
// ProgramEntry and a writable data page at ProgramData holding data. With
// two user stack pages its stack spans [0x13000, 0x15000).
func Program(code, data []byte) []byte {
	if len(code) == 0 {
		// nop
		code = []byte{0x13, 0, 0, 0}
	}

	return BuildELF(elf.EM_RISCV, ProgramEntry,
		Segment{Vaddr: ProgramEntry, Flags: elf.PF_R | elf.PF_X, Data: code},
		Segment{Vaddr: ProgramData, Flags: elf.PF_R | elf.PF_W, Data: data, Memsz: uint64(mm.PageSize)},
	)
}
