package vmm

import (
	"rvos/kernel"
	"rvos/kernel/mm"
)

var (
	// ErrNoSuchArea is returned when a request names a range that does not
	// match a tracked area.
	ErrNoSuchArea = &kernel.Error{Module: "vmm", Message: "range does not match a mapped area"}

	// ErrOverlap is returned when a new mapping would cover a page that is
	// already mapped.
	ErrOverlap = &kernel.Error{Module: "vmm", Message: "range overlaps an existing mapping"}

	// ErrAccessViolation is returned by CheckAccess when a page in the
	// range is missing or lacks the requested rights.
	ErrAccessViolation = &kernel.Error{Module: "vmm", Message: "access violation"}

	errBadRange     = &kernel.Error{Module: "vmm", Message: "invalid virtual address range"}
	errNoTrampoline = &kernel.Error{Module: "vmm", Message: "kernel space has not been initialized"}
)

// AddressSpace is a page table together with the areas whose pages it maps.
// Apart from the shared trampoline page, every valid translation in the page
// table belongs to exactly one area.
type AddressSpace struct {
	pageTable *PageTable
	areas     []*MapArea
}

// NewBareAddressSpace returns an address space with an empty page table.
func NewBareAddressSpace() (*AddressSpace, *kernel.Error) {
	pt, err := NewPageTable()
	if err != nil {
		return nil, err
	}
	return &AddressSpace{pageTable: pt}, nil
}

// Token returns the satp value that activates this address space.
func (as *AddressSpace) Token() uintptr {
	return as.pageTable.Token()
}

// PageTable returns the page table of the address space.
func (as *AddressSpace) PageTable() *PageTable {
	return as.pageTable
}

// Areas returns the areas of the address space in insertion order.
func (as *AddressSpace) Areas() []*MapArea {
	return append([]*MapArea(nil), as.areas...)
}

// Activate switches translation to this address space.
func (as *AddressSpace) Activate() {
	Activate(as.Token())
}

// mapTrampoline maps the shared trampoline frame. The frame is not owned by
// any area so it survives the address space.
func (as *AddressSpace) mapTrampoline() *kernel.Error {
	if !trampolineFrame.Valid() {
		return errNoTrampoline
	}
	return as.pageTable.Map(mm.PageFromAddress(Trampoline), trampolineFrame, FlagRead|FlagExec)
}

// checkFree returns ErrOverlap if any page of r is mapped or claimed by an
// area other than skip.
func (as *AddressSpace) checkFree(r mm.PageRange, skip *MapArea) *kernel.Error {
	if r.End < r.Start || r.End > mm.PageFromAddress(mm.MaxVirtAddr) {
		return errBadRange
	}

	for _, area := range as.areas {
		if area != skip && area.pages.Overlaps(r) {
			return ErrOverlap
		}
	}

	for page := r.Start; page < r.End; page++ {
		if _, mapped := as.pageTable.Translate(page); mapped {
			return ErrOverlap
		}
	}
	return nil
}

// push maps area and copies data into it, starting offset bytes into its
// first page. On failure the address space is left unmodified.
func (as *AddressSpace) push(area *MapArea, data []byte, offset uintptr) *kernel.Error {
	if err := as.checkFree(area.pages, nil); err != nil {
		return err
	}

	if err := area.mapAll(as.pageTable); err != nil {
		return err
	}

	if len(data) > 0 {
		area.copyData(data, offset)
	}
	as.areas = append(as.areas, area)
	return nil
}

// InsertFramedArea maps [startVA, endVA), rounded outwards to pages, onto
// fresh frames with the given permission. It fails with ErrOverlap if any
// page of the range is already mapped.
func (as *AddressSpace) InsertFramedArea(startVA, endVA uintptr, perm MapPermission) *kernel.Error {
	return as.push(NewMapArea(startVA, endVA, MapFramed, perm), nil, 0)
}

// findArea returns the index of the area starting at page or -1.
func (as *AddressSpace) findArea(start mm.Page) int {
	for i, area := range as.areas {
		if area.pages.Start == start {
			return i
		}
	}
	return -1
}

func (as *AddressSpace) removeAt(index int) {
	as.areas[index].unmapAll(as.pageTable)
	as.areas = append(as.areas[:index], as.areas[index+1:]...)
}

// RemoveAreaWithStartPage unmaps and drops the area that starts at page.
// It returns false if no such area exists.
func (as *AddressSpace) RemoveAreaWithStartPage(start mm.Page) bool {
	index := as.findArea(start)
	if index < 0 {
		return false
	}
	as.removeAt(index)
	return true
}

// RemoveAreaRange unmaps the user area whose range is exactly [start, end)
// and releases its frames. Any other range, including part of an area, a
// range spanning two areas or a kernel-only area such as the trap context,
// fails with ErrNoSuchArea and leaves the address space untouched.
func (as *AddressSpace) RemoveAreaRange(start, end mm.Page) *kernel.Error {
	index := as.findArea(start)
	if index < 0 || as.areas[index].pages.End != end || !as.areas[index].perm.Has(PermUser) {
		return ErrNoSuchArea
	}
	as.removeAt(index)
	return nil
}

// AppendTo grows the area starting at start so it ends at the page
// containing newEndVA - 1. The new pages must not be mapped.
func (as *AddressSpace) AppendTo(start mm.Page, newEndVA uintptr) *kernel.Error {
	index := as.findArea(start)
	if index < 0 {
		return ErrNoSuchArea
	}

	area := as.areas[index]
	newEnd := mm.PageCeil(newEndVA)
	if newEnd <= area.pages.End {
		return nil
	}

	if err := as.checkFree(mm.PageRange{Start: area.pages.End, End: newEnd}, area); err != nil {
		return err
	}
	return area.appendTo(as.pageTable, newEnd)
}

// ShrinkTo trims the area starting at start so it ends at the page
// containing newEndVA - 1, releasing the frames past the new end.
func (as *AddressSpace) ShrinkTo(start mm.Page, newEndVA uintptr) *kernel.Error {
	index := as.findArea(start)
	if index < 0 {
		return ErrNoSuchArea
	}

	area := as.areas[index]
	newEnd := mm.PageCeil(newEndVA)
	if newEnd < area.pages.Start {
		return errBadRange
	}
	if newEnd < area.pages.End {
		area.shrinkTo(as.pageTable, newEnd)
	}
	return nil
}

// Translate returns the leaf entry for page if it is mapped.
func (as *AddressSpace) Translate(page mm.Page) (PageTableEntry, bool) {
	return as.pageTable.Translate(page)
}

// TranslateVA returns the physical address backing virtAddr.
func (as *AddressSpace) TranslateVA(virtAddr uintptr) (uintptr, *kernel.Error) {
	return as.pageTable.TranslateVA(virtAddr)
}

// CheckAccess verifies that a user-mode access of length bytes at virtAddr
// with the given rights would succeed.
func (as *AddressSpace) CheckAccess(virtAddr, length uintptr, perm MapPermission) *kernel.Error {
	if length == 0 {
		return nil
	}

	end := virtAddr + length
	if end < virtAddr || end > mm.MaxVirtAddr {
		return ErrAccessViolation
	}

	required := (perm | PermUser).flags()
	for page := mm.PageFromAddress(virtAddr); page < mm.PageCeil(end); page++ {
		pte, ok := as.pageTable.Translate(page)
		if !ok || !pte.HasFlags(required) {
			return ErrAccessViolation
		}
	}
	return nil
}

// RecycleDataPages unmaps every area and releases the frames they own. The
// page table nodes are kept until Destroy.
func (as *AddressSpace) RecycleDataPages() {
	for _, area := range as.areas {
		area.unmapAll(as.pageTable)
	}
	as.areas = nil
}

// Destroy releases every frame owned by the address space.
func (as *AddressSpace) Destroy() {
	as.RecycleDataPages()
	as.pageTable.Destroy()
}

// FromExistedUser returns a deep copy of src: the same areas backed by new
// frames holding the same bytes.
func FromExistedUser(src *AddressSpace) (*AddressSpace, *kernel.Error) {
	as, err := NewBareAddressSpace()
	if err != nil {
		return nil, err
	}

	if err = as.mapTrampoline(); err != nil {
		as.Destroy()
		return nil, err
	}

	for _, srcArea := range src.areas {
		area := &MapArea{
			pages:   srcArea.pages,
			frames:  make(map[mm.Page]mm.Frame, len(srcArea.frames)),
			mapType: srcArea.mapType,
			perm:    srcArea.perm,
		}
		if err = as.push(area, nil, 0); err != nil {
			as.Destroy()
			return nil, err
		}

		for page, srcFrame := range srcArea.frames {
			copy(mm.FrameData(area.frames[page]), mm.FrameData(srcFrame))
		}
	}

	return as, nil
}

var (
	// trampolineFrame holds the trap entry code shared by every address
	// space.
	trampolineFrame = mm.InvalidFrame

	kernelSpace *AddressSpace
)

// InitKernelSpace allocates the trampoline frame and builds the kernel
// address space, which direct-maps the frameCount frames of physical memory
// starting at physBase.
func InitKernelSpace(physBase, frameCount uintptr) *kernel.Error {
	var err *kernel.Error

	if trampolineFrame, err = mm.AllocFrame(); err != nil {
		return err
	}

	space, err := NewBareAddressSpace()
	if err != nil {
		return err
	}

	if err = space.mapTrampoline(); err != nil {
		return err
	}

	direct := NewMapArea(physBase, physBase+frameCount<<mm.PageShift, MapIdentical, PermRead|PermWrite)
	if err = space.push(direct, nil, 0); err != nil {
		return err
	}

	kernelSpace = space
	return nil
}

// KernelSpace returns the kernel address space built by InitKernelSpace.
func KernelSpace() *AddressSpace {
	return kernelSpace
}
