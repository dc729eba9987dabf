package mm

const (
	// PointerShift is equal to log2(unsafe.Sizeof(uintptr)). Page table
	// entries are one machine word wide.
	PointerShift = uintptr(3)

	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a page number (shift right by PageShift)
	// and vice-versa.
	PageShift = uintptr(12)

	// PageSize defines the system's page size in bytes.
	PageSize = uintptr(1 << PageShift)

	// PageLevels is the number of page table levels used by Sv39.
	PageLevels = 3

	// PageLevelBits is the number of virtual address bits consumed by each
	// page table level (512 entries per table).
	PageLevelBits = uintptr(9)

	// PPNBits is the width of a physical page number in Sv39.
	PPNBits = uintptr(44)

	// MaxVirtAddr is one beyond the highest user virtual address. It is one
	// bit less than the maximum allowed by Sv39 to avoid having to
	// sign-extend virtual addresses that have the high bit set.
	MaxVirtAddr = uintptr(1) << (PageLevelBits*PageLevels + PageShift - 1)
)
