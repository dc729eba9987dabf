package vmm

import (
	"encoding/binary"

	"rvos/kernel/mm"
)

// PageTableEntryFlag describes a flag that can be applied to a page table entry.
type PageTableEntryFlag uintptr

const (
	// FlagValid is set when the entry holds a usable translation.
	FlagValid PageTableEntryFlag = 1 << iota

	// FlagRead is set if the page can be read from.
	FlagRead

	// FlagWrite is set if the page can be written to.
	FlagWrite

	// FlagExec is set if instructions can be fetched from the page.
	FlagExec

	// FlagUser is set if user-mode tasks can access this page. If not set
	// only kernel code can access this page.
	FlagUser

	// FlagGlobal marks a mapping that exists in all address spaces.
	FlagGlobal

	// FlagAccessed is set by the MMU when this page is accessed.
	FlagAccessed

	// FlagDirty is set by the MMU when this page is modified.
	FlagDirty
)

const (
	// pteFlagBits is the number of low bits reserved for flags and the
	// two RSW bits.
	pteFlagBits = 10

	ptePhysPageMask = uintptr((1<<mm.PPNBits)-1) << pteFlagBits
)

// PageTableEntry describes an Sv39 page table entry. These entries encode a
// physical frame number and a set of flags.
type PageTableEntry uintptr

// NewPageTableEntry returns an entry pointing to frame with the given flags.
func NewPageTableEntry(frame mm.Frame, flags PageTableEntryFlag) PageTableEntry {
	pte := PageTableEntry(0)
	pte.SetFrame(frame)
	pte.SetFlags(flags)
	return pte
}

// HasFlags returns true if this entry has all the input flags set.
func (pte PageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return (uintptr(pte) & uintptr(flags)) == uintptr(flags)
}

// HasAnyFlag returns true if this entry has at least one of the input flags set.
func (pte PageTableEntry) HasAnyFlag(flags PageTableEntryFlag) bool {
	return (uintptr(pte) & uintptr(flags)) != 0
}

// SetFlags sets the input list of flags to the page table entry.
func (pte *PageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte = (PageTableEntry)(uintptr(*pte) | uintptr(flags))
}

// Flags returns the flag bits of the entry.
func (pte PageTableEntry) Flags() PageTableEntryFlag {
	return PageTableEntryFlag(uintptr(pte) & 0xff)
}

// Valid returns true if the entry holds a usable translation.
func (pte PageTableEntry) Valid() bool {
	return pte.HasFlags(FlagValid)
}

// Frame returns the physical page frame that this page table entry points to.
func (pte PageTableEntry) Frame() mm.Frame {
	return mm.Frame((uintptr(pte) & ptePhysPageMask) >> pteFlagBits)
}

// SetFrame updates the page table entry to point the the given physical frame.
func (pte *PageTableEntry) SetFrame(frame mm.Frame) {
	*pte = (PageTableEntry)((uintptr(*pte) &^ ptePhysPageMask) | (uintptr(frame)<<pteFlagBits)&ptePhysPageMask)
}

// tableEntry addresses one entry inside a page table frame.
type tableEntry struct {
	table []byte
	index uintptr
}

func (e tableEntry) load() PageTableEntry {
	return PageTableEntry(binary.LittleEndian.Uint64(e.table[e.index<<mm.PointerShift:]))
}

func (e tableEntry) store(pte PageTableEntry) {
	binary.LittleEndian.PutUint64(e.table[e.index<<mm.PointerShift:], uint64(pte))
}
