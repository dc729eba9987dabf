package vmm

import (
	"rvos/kernel"
	"rvos/kernel/kfmt"
	"rvos/kernel/mm"
)

const (
	// satpModeSv39 is the MODE field of the satp register selecting Sv39.
	satpModeSv39 = uintptr(8) << 60
)

var (
	// ErrInvalidMapping is returned when trying to lookup a virtual memory address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	errRemap       = &kernel.Error{Module: "vmm", Message: "page is already mapped"}
	errUnmapAbsent = &kernel.Error{Module: "vmm", Message: "unmap of a page that is not mapped"}
)

// PageTable is a three level Sv39 page table. The tables themselves live in
// physical frames obtained through mm.AllocFrame; the PageTable owns every
// frame it allocated for its nodes but never the frames its leaves point to.
type PageTable struct {
	root mm.Frame

	// frames lists the node frames owned by this table (including root).
	frames []mm.Frame
}

// NewPageTable allocates a root node and returns an empty page table.
func NewPageTable() (*PageTable, *kernel.Error) {
	root, err := mm.AllocFrame()
	if err != nil {
		return nil, err
	}

	return &PageTable{root: root, frames: []mm.Frame{root}}, nil
}

// PageTableFromToken returns a view of the page table that a satp token
// refers to. The view owns no frames and is only meant for translations.
func PageTableFromToken(satp uintptr) *PageTable {
	return &PageTable{root: mm.Frame(satp & ((1 << mm.PPNBits) - 1))}
}

// Token returns the satp value that activates this page table.
func (pt *PageTable) Token() uintptr {
	return satpModeSv39 | uintptr(pt.root)
}

// pageTableWalker is a function that can be passed to the walk method. The
// function receives the current page level and page table entry as its
// arguments. If the function returns false, then the page walk is aborted.
type pageTableWalker func(level uint8, entry tableEntry) bool

// walk performs a page table walk for the given page. It calls the supplied
// walkFn with the entry that corresponds to each page table level. The walk
// descends through whatever the entry holds once walkFn returns, so walkFn
// must abort the walk or install a valid entry for intermediate levels.
func (pt *PageTable) walk(page mm.Page, walkFn pageTableWalker) {
	var (
		indexes = page.Indexes()
		table   = mm.FrameData(pt.root)
	)

	for level := uint8(0); level < mm.PageLevels; level++ {
		entry := tableEntry{table: table, index: indexes[level]}
		if !walkFn(level, entry) || level == mm.PageLevels-1 {
			return
		}
		table = mm.FrameData(entry.load().Frame())
	}
}

// Map establishes a mapping between a virtual page and a physical frame.
// Missing intermediate tables are allocated on the way down. Mapping a page
// that already has a valid translation is a kernel bug.
func (pt *PageTable) Map(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error {
	var err *kernel.Error

	pt.walk(page, func(level uint8, entry tableEntry) bool {
		pte := entry.load()

		// If we reached the last level all we need to do is to map the
		// frame in place and flag it as valid
		if level == mm.PageLevels-1 {
			if pte.Valid() {
				kfmt.Panic(errRemap)
				err = errRemap
				return false
			}
			entry.store(NewPageTableEntry(frame, flags|FlagValid))
			return true
		}

		// Next table does not yet exist; we need to allocate a
		// physical frame for it. Frames come back zeroed.
		if !pte.Valid() {
			var tableFrame mm.Frame
			if tableFrame, err = mm.AllocFrame(); err != nil {
				return false
			}
			pt.frames = append(pt.frames, tableFrame)
			entry.store(NewPageTableEntry(tableFrame, FlagValid))
		}

		return true
	})

	return err
}

// Unmap removes a mapping previously installed via a call to Map. Unmapping
// a page with no valid translation is a kernel bug.
func (pt *PageTable) Unmap(page mm.Page) {
	pt.walk(page, func(level uint8, entry tableEntry) bool {
		pte := entry.load()
		if !pte.Valid() {
			kfmt.Panic(errUnmapAbsent)
			return false
		}

		if level == mm.PageLevels-1 {
			entry.store(0)
		}
		return true
	})
}

// Translate returns the leaf entry for page if it holds a valid translation.
func (pt *PageTable) Translate(page mm.Page) (PageTableEntry, bool) {
	var leaf PageTableEntry

	pt.walk(page, func(level uint8, entry tableEntry) bool {
		pte := entry.load()
		if !pte.Valid() {
			return false
		}

		if level == mm.PageLevels-1 {
			leaf = pte
			return true
		}

		// Rights on an upper level entry make it a huge page leaf, which
		// is never installed by Map.
		return !pte.HasAnyFlag(FlagRead | FlagWrite | FlagExec)
	})

	return leaf, leaf.Valid()
}

// TranslateVA returns the physical address that corresponds to the supplied
// virtual address or ErrInvalidMapping if the virtual address does not
// correspond to a mapped physical address.
func (pt *PageTable) TranslateVA(virtAddr uintptr) (uintptr, *kernel.Error) {
	if virtAddr >= mm.MaxVirtAddr {
		return 0, ErrInvalidMapping
	}

	pte, ok := pt.Translate(mm.PageFromAddress(virtAddr))
	if !ok {
		return 0, ErrInvalidMapping
	}

	// Calculate the physical address by taking the physical frame address and
	// appending the offset from the virtual address
	return pte.Frame().Address() + mm.PageOffset(virtAddr), nil
}

// Destroy releases the node frames owned by the table. Leaf frames belong to
// whoever mapped them and must have been released already.
func (pt *PageTable) Destroy() {
	for _, frame := range pt.frames {
		mm.FreeFrame(frame)
	}
	pt.frames = nil
	pt.root = mm.InvalidFrame
}

var (
	// activeToken holds the satp value of the address space in use.
	activeToken uintptr

	// activateFn is used by tests to observe address space switches.
	activateFn = func(token uintptr) { activeToken = token }
)

// Activate installs the page table identified by token, so subsequent user
// memory accesses are translated through it.
func Activate(token uintptr) {
	activateFn(token)
}

// ActiveToken returns the satp value most recently passed to Activate.
func ActiveToken() uintptr {
	return activeToken
}
