// Package task implements process control blocks and the stride scheduler
// that multiplexes them onto the hart.
package task

import (
	"rvos/kernel"
	"rvos/kernel/mm"
	"rvos/kernel/mm/vmm"
	ksync "rvos/kernel/sync"

	log "github.com/sirupsen/logrus"
)

// MaxSyscallNum bounds the syscall ids counted per task.
const MaxSyscallNum = 500

// Status describes where a task is in its lifecycle.
type Status uint64

const (
	// StatusUnInit is only observed while a task is being built.
	StatusUnInit Status = iota
	StatusReady
	StatusRunning
	StatusZombie
)

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusRunning:
		return "running"
	case StatusZombie:
		return "zombie"
	default:
		return "uninit"
	}
}

// Params holds the scheduling and layout parameters applied to new tasks.
type Params struct {
	BigStride       uint64
	DefaultPriority uint64
	UserStackPages  uintptr
}

var params = Params{BigStride: 0x10000, DefaultPriority: 16, UserStackPages: 2}

// SetParams replaces the parameters used by tasks created afterwards.
func SetParams(p Params) {
	params = p
}

// TaskControlBlock is the kernel record of a process. The pid and kernel
// stack are fixed for the lifetime of the task; everything else sits behind
// its exclusive gate.
type TaskControlBlock struct {
	pid    uintptr
	kstack *kernelStack
	inner  *ksync.Exclusive[Inner]
}

// Inner is the mutable state of a task.
type Inner struct {
	Status   Status
	ExitCode int

	Space       *vmm.AddressSpace
	trapCxFrame mm.Frame

	// BaseSize is the top of the user stack.
	BaseSize   uintptr
	HeapBottom uintptr
	ProgramBrk uintptr

	// Parent is nil for the init process.
	Parent   *TaskControlBlock
	Children []*TaskControlBlock

	Priority uint64
	Pass     uint64

	SyscallTimes [MaxSyscallNum]uint32
	HasRun       bool
	FirstRunMs   uint64
}

// New builds a task from an executable image.
func New(image []byte) (*TaskControlBlock, *kernel.Error) {
	space, layout, err := vmm.FromELF(image, params.UserStackPages)
	if err != nil {
		return nil, err
	}

	tcb, err := newTask(space, Inner{
		Space:      space,
		BaseSize:   layout.UserSP,
		HeapBottom: layout.HeapBottom,
		ProgramBrk: layout.HeapBottom,
		Priority:   params.DefaultPriority,
	})
	if err != nil {
		return nil, err
	}

	in := tcb.Acquire()
	in.SetTrapContext(AppInitContext(layout.Entry, layout.UserSP, vmm.KernelSpace().Token(), tcb.kstack.top(), vmm.Trampoline))
	tcb.Release()

	log.WithFields(log.Fields{"pid": tcb.pid}).Info("task: created")
	return tcb, nil
}

// newTask allocates a pid and kernel stack for a task owning space. On
// failure space is destroyed.
func newTask(space *vmm.AddressSpace, inner Inner) (*TaskControlBlock, *kernel.Error) {
	pid := pids.alloc()
	kstack, err := newKernelStack(pid)
	if err != nil {
		pids.release(pid)
		space.Destroy()
		return nil, err
	}

	pte, _ := space.Translate(mm.PageFromAddress(vmm.TrapContextBase))
	inner.trapCxFrame = pte.Frame()
	inner.Status = StatusReady

	return &TaskControlBlock{
		pid:    pid,
		kstack: kstack,
		inner:  ksync.NewExclusive(inner),
	}, nil
}

// Pid returns the process id of the task.
func (t *TaskControlBlock) Pid() uintptr { return t.pid }

// Acquire grants sole access to the mutable task state. It must be paired
// with Release.
func (t *TaskControlBlock) Acquire() *Inner { return t.inner.Acquire() }

// Release ends the access granted by Acquire.
func (t *TaskControlBlock) Release() { t.inner.Release() }

// Fork returns a child whose address space is a copy of this task's. The
// child resumes from the same trap context on its own kernel stack.
func (t *TaskControlBlock) Fork() (*TaskControlBlock, *kernel.Error) {
	parent := t.Acquire()
	defer t.Release()

	space, err := vmm.FromExistedUser(parent.Space)
	if err != nil {
		return nil, err
	}

	child, err := newTask(space, Inner{
		Space:      space,
		BaseSize:   parent.BaseSize,
		HeapBottom: parent.HeapBottom,
		ProgramBrk: parent.ProgramBrk,
		Parent:     t,
		Priority:   parent.Priority,
	})
	if err != nil {
		return nil, err
	}

	in := child.Acquire()
	ctx := in.TrapContext()
	ctx.KernelSP = uint64(child.kstack.top())
	in.SetTrapContext(ctx)
	child.Release()

	parent.Children = append(parent.Children, child)

	log.WithFields(log.Fields{"pid": t.pid, "child": child.pid}).Info("task: forked")
	return child, nil
}

// Exec replaces the address space of the task with one built from image.
// The pid, scheduling state, accounting and children are kept.
func (t *TaskControlBlock) Exec(image []byte) *kernel.Error {
	space, layout, err := vmm.FromELF(image, params.UserStackPages)
	if err != nil {
		return err
	}

	in := t.Acquire()
	defer t.Release()

	old := in.Space
	pte, _ := space.Translate(mm.PageFromAddress(vmm.TrapContextBase))
	in.Space = space
	in.trapCxFrame = pte.Frame()
	in.BaseSize = layout.UserSP
	in.HeapBottom = layout.HeapBottom
	in.ProgramBrk = layout.HeapBottom
	in.SetTrapContext(AppInitContext(layout.Entry, layout.UserSP, vmm.KernelSpace().Token(), t.kstack.top(), vmm.Trampoline))
	old.Destroy()

	log.WithFields(log.Fields{"pid": t.pid}).Info("task: exec")
	return nil
}

// Spawn builds a new task from image and makes it a child of t.
func (t *TaskControlBlock) Spawn(image []byte) (*TaskControlBlock, *kernel.Error) {
	child, err := New(image)
	if err != nil {
		return nil, err
	}

	in := child.Acquire()
	in.Parent = t
	child.Release()

	in = t.Acquire()
	in.Children = append(in.Children, child)
	t.Release()

	return child, nil
}

// Destroy releases what a reaped task still holds: the page table of its
// address space, its kernel stack and its pid.
func (t *TaskControlBlock) Destroy() {
	in := t.Acquire()
	in.Space.Destroy()
	t.Release()

	t.kstack.release()
	pids.release(t.pid)

	log.WithFields(log.Fields{"pid": t.pid}).Info("task: reaped")
}

// Token returns the satp value of the task address space.
func (in *Inner) Token() uintptr {
	return in.Space.Token()
}

// TrapContext returns the saved user registers.
func (in *Inner) TrapContext() TrapContext {
	return loadTrapContext(in.trapCxFrame)
}

// SetTrapContext replaces the saved user registers.
func (in *Inner) SetTrapContext(ctx TrapContext) {
	storeTrapContext(in.trapCxFrame, ctx)
}

// Stride returns the pass increment of the task. It is never 0 so a task
// with a priority above BigStride still advances and cannot hold the hart.
func (in *Inner) Stride() uint64 {
	if stride := params.BigStride / in.Priority; stride > 0 {
		return stride
	}
	return 1
}

// SetPriority updates the priority of the task. Priorities below 2 are
// rejected.
func (in *Inner) SetPriority(prio uint64) bool {
	if prio < 2 {
		return false
	}
	in.Priority = prio
	return true
}

// ChangeProgramBrk moves the program break by delta bytes and returns the
// previous break. The break cannot move below the heap bottom.
func (in *Inner) ChangeProgramBrk(delta int64) (uintptr, bool) {
	old := in.ProgramBrk
	newBrk := int64(old) + delta
	if newBrk < int64(in.HeapBottom) {
		return 0, false
	}

	heapStart := mm.PageFromAddress(in.HeapBottom)

	var err *kernel.Error
	if delta < 0 {
		err = in.Space.ShrinkTo(heapStart, uintptr(newBrk))
	} else {
		err = in.Space.AppendTo(heapStart, uintptr(newBrk))
	}
	if err != nil {
		return 0, false
	}

	in.ProgramBrk = uintptr(newBrk)
	return old, true
}
