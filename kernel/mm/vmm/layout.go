package vmm

import "rvos/kernel/mm"

const (
	// Trampoline is the virtual address of the page holding the trap entry
	// and return code. It is mapped at the same address in every address
	// space.
	Trampoline = mm.MaxVirtAddr - mm.PageSize

	// TrapContextBase is the virtual address of the page that stores a
	// task's saved trap context inside its user address space.
	TrapContextBase = Trampoline - mm.PageSize

	// KernelStackSize is the size of each task kernel stack.
	KernelStackSize = 2 * mm.PageSize
)

// KernelStackPosition returns the [bottom, top) range of the kernel stack
// for the given pid. Stacks are laid out downwards from the trampoline with
// an unmapped guard page above each stack.
func KernelStackPosition(pid uintptr) (bottom, top uintptr) {
	top = Trampoline - (pid+1)*(KernelStackSize+mm.PageSize)
	bottom = top - KernelStackSize
	return bottom, top
}
