package vmm

import (
	"bytes"
	"debug/elf"
	"io"

	"rvos/kernel"
	"rvos/kernel/mm"
)

var errBadImage = &kernel.Error{Module: "vmm", Message: "not a RISC-V ELF64 executable"}

// ImageLayout describes where FromELF placed the parts of a user program.
type ImageLayout struct {
	// Entry is the program entry point.
	Entry uintptr

	// UserSP is the initial user stack pointer.
	UserSP uintptr

	// HeapBottom is the lowest address of the (initially empty) heap.
	HeapBottom uintptr
}

// FromELF builds a user address space from an executable image. The layout,
// from low to high addresses, is: one area per loadable segment, a guard
// page, the user stack, the empty heap, and at the top of the address space
// the trap context page and the trampoline.
func FromELF(image []byte, stackPages uintptr) (*AddressSpace, ImageLayout, *kernel.Error) {
	var layout ImageLayout

	f, perr := elf.NewFile(bytes.NewReader(image))
	if perr != nil {
		return nil, layout, errBadImage
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS64 || f.Machine != elf.EM_RISCV || f.Type != elf.ET_EXEC {
		return nil, layout, errBadImage
	}

	as, err := NewBareAddressSpace()
	if err != nil {
		return nil, layout, err
	}

	if layout, err = as.loadImage(f, stackPages); err != nil {
		as.Destroy()
		return nil, layout, err
	}
	return as, layout, nil
}

func (as *AddressSpace) loadImage(f *elf.File, stackPages uintptr) (ImageLayout, *kernel.Error) {
	var (
		layout  ImageLayout
		maxPage mm.Page
	)

	if err := as.mapTrampoline(); err != nil {
		return layout, err
	}

	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}

		if prog.Filesz > prog.Memsz {
			return layout, errBadImage
		}

		start := uintptr(prog.Vaddr)
		end := start + uintptr(prog.Memsz)
		if end < start {
			return layout, errBadImage
		}

		perm := PermUser
		if prog.Flags&elf.PF_R != 0 {
			perm |= PermRead
		}
		if prog.Flags&elf.PF_W != 0 {
			perm |= PermWrite
		}
		if prog.Flags&elf.PF_X != 0 {
			perm |= PermExec
		}

		data, rerr := io.ReadAll(prog.Open())
		if rerr != nil {
			return layout, errBadImage
		}

		area := NewMapArea(start, end, MapFramed, perm)
		if err := as.push(area, data, mm.PageOffset(start)); err != nil {
			return layout, err
		}
		if area.pages.End > maxPage {
			maxPage = area.pages.End
		}
	}

	// Leave an unmapped guard page below the user stack.
	stackBottom := maxPage.Address() + mm.PageSize
	stackTop := stackBottom + stackPages*mm.PageSize
	if err := as.InsertFramedArea(stackBottom, stackTop, PermRead|PermWrite|PermUser); err != nil {
		return layout, err
	}

	if err := as.InsertFramedArea(stackTop, stackTop, PermRead|PermWrite|PermUser); err != nil {
		return layout, err
	}

	if err := as.InsertFramedArea(TrapContextBase, Trampoline, PermRead|PermWrite); err != nil {
		return layout, err
	}

	layout.Entry = uintptr(f.Entry)
	layout.UserSP = stackTop
	layout.HeapBottom = stackTop
	return layout, nil
}
