package task

import (
	"rvos/kernel"
	"rvos/kernel/kfmt"
	"rvos/kernel/mm"
	"rvos/kernel/mm/vmm"
)

var (
	errPidNotAllocated = &kernel.Error{Module: "task", Message: "release of a pid that is not allocated"}
	errNoKernelSpace   = &kernel.Error{Module: "task", Message: "kernel space has not been initialized"}
)

// pidAllocator hands out process ids, reusing released ones first.
type pidAllocator struct {
	next     uintptr
	recycled []uintptr
}

func (a *pidAllocator) alloc() uintptr {
	if n := len(a.recycled); n > 0 {
		pid := a.recycled[n-1]
		a.recycled = a.recycled[:n-1]
		return pid
	}
	a.next++
	return a.next - 1
}

func (a *pidAllocator) release(pid uintptr) {
	if pid >= a.next {
		kfmt.Panic(errPidNotAllocated)
		return
	}
	for _, free := range a.recycled {
		if free == pid {
			kfmt.Panic(errPidNotAllocated)
			return
		}
	}
	a.recycled = append(a.recycled, pid)
}

// pids is the process id allocator shared by every task.
var pids pidAllocator

// kernelStack is the kernel-space stack of a task. Its position is derived
// from the owning pid.
type kernelStack struct {
	pid uintptr
}

// newKernelStack maps the kernel stack of pid into the kernel space.
func newKernelStack(pid uintptr) (*kernelStack, *kernel.Error) {
	space := vmm.KernelSpace()
	if space == nil {
		return nil, errNoKernelSpace
	}

	bottom, top := vmm.KernelStackPosition(pid)
	if err := space.InsertFramedArea(bottom, top, vmm.PermRead|vmm.PermWrite); err != nil {
		return nil, err
	}
	return &kernelStack{pid: pid}, nil
}

// top returns the initial stack pointer of the kernel stack.
func (ks *kernelStack) top() uintptr {
	_, top := vmm.KernelStackPosition(ks.pid)
	return top
}

// release unmaps the stack and frees its frames.
func (ks *kernelStack) release() {
	bottom, _ := vmm.KernelStackPosition(ks.pid)
	vmm.KernelSpace().RemoveAreaWithStartPage(mm.PageFromAddress(bottom))
}
