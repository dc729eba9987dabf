package mm

import (
	"math"

	"rvos/kernel"
)

// Frame describes a physical memory page index (a PPN).
type Frame uintptr

const (
	// InvalidFrame is returned by page allocators when
	// they fail to reserve the requested frame.
	InvalidFrame = Frame(math.MaxUint64)
)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical memory address pointed to by this Frame.
func (f Frame) Address() uintptr {
	return uintptr(f << PageShift)
}

// FrameFromAddress returns a Frame that corresponds to
// the given physical address. This function can handle
// both page-aligned and not aligned addresses. in the
// latter case, the input address will be rounded down
// to the frame that contains it.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame((physAddr & ^(uintptr(PageSize - 1))) >> PageShift)
}

// Page describes a virtual memory page index (a VPN).
type Page uintptr

// Address returns the virtual memory address pointed to by this Page.
func (p Page) Address() uintptr {
	return uintptr(p << PageShift)
}

// Indexes returns the page table index for each paging level, top level
// first.
func (p Page) Indexes() [PageLevels]uintptr {
	var (
		idx [PageLevels]uintptr
		vpn = uintptr(p)
	)
	for level := PageLevels - 1; level >= 0; level-- {
		idx[level] = vpn & ((1 << PageLevelBits) - 1)
		vpn >>= PageLevelBits
	}
	return idx
}

// PageFromAddress returns a Page that corresponds to the given virtual
// address. This function can handle both page-aligned and not aligned virtual
// addresses. in the latter case, the input address will be rounded down to the
// page that contains it.
func PageFromAddress(virtAddr uintptr) Page {
	return Page((virtAddr & ^(uintptr(PageSize - 1))) >> PageShift)
}

// PageCeil returns the first page that starts at or after virtAddr.
func PageCeil(virtAddr uintptr) Page {
	page := PageFromAddress(virtAddr)
	if PageOffset(virtAddr) != 0 {
		page++
	}
	return page
}

// PageOffset returns the offset within the page specified by an address.
func PageOffset(addr uintptr) uintptr {
	return addr & (PageSize - 1)
}

// IsPageAligned returns true if addr is a multiple of PageSize.
func IsPageAligned(addr uintptr) bool {
	return PageOffset(addr) == 0
}

// PageRange is a half-open range of virtual pages [Start, End).
type PageRange struct {
	Start, End Page
}

// Len returns the number of pages in the range.
func (r PageRange) Len() uintptr {
	if r.End <= r.Start {
		return 0
	}
	return uintptr(r.End - r.Start)
}

// Contains returns true if page is inside the range.
func (r PageRange) Contains(page Page) bool {
	return page >= r.Start && page < r.End
}

// Overlaps returns true if the two ranges share at least one page.
func (r PageRange) Overlaps(other PageRange) bool {
	return r.Start < other.End && other.Start < r.End
}

var (
	// frameAllocator points to a frame allocator function registered using
	// SetFrameAllocator.
	frameAllocator FrameAllocatorFn

	// frameReleaser points to the function that returns frames to the
	// allocator registered using SetFrameAllocator.
	frameReleaser FrameReleaserFn

	// frameMapper points to the direct-map accessor registered using
	// SetFrameMapper.
	frameMapper FrameMapperFn

	errNoFrameAllocator = &kernel.Error{Module: "mm", Message: "no frame allocator registered"}
)

// FrameAllocatorFn is a function that can allocate physical frames.
type FrameAllocatorFn func() (Frame, *kernel.Error)

// FrameReleaserFn is a function that returns a frame to its allocator.
type FrameReleaserFn func(Frame)

// FrameMapperFn returns the direct-mapped contents of a physical frame. The
// kernel shares a view of all physical memory with every address space so a
// frame can be read or written without switching page tables.
type FrameMapperFn func(Frame) []byte

// SetFrameAllocator registers the functions that will be used by the vmm and
// task code when physical frames need to be allocated or released.
func SetFrameAllocator(allocFn FrameAllocatorFn, releaseFn FrameReleaserFn) {
	frameAllocator = allocFn
	frameReleaser = releaseFn
}

// SetFrameMapper registers the direct-map accessor used by FrameData.
func SetFrameMapper(mapFn FrameMapperFn) { frameMapper = mapFn }

// AllocFrame allocates a new physical frame using the currently active
// physical frame allocator.
func AllocFrame() (Frame, *kernel.Error) {
	if frameAllocator == nil {
		return InvalidFrame, errNoFrameAllocator
	}
	return frameAllocator()
}

// FreeFrame returns a frame obtained via AllocFrame to the active allocator.
func FreeFrame(frame Frame) {
	if frameReleaser != nil {
		frameReleaser(frame)
	}
}

// FrameData returns the PageSize bytes backing frame.
func FrameData(frame Frame) []byte {
	return frameMapper(frame)
}
