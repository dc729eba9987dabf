package trap

import (
	"bytes"
	"testing"

	"rvos/kernel/loader"
	"rvos/kernel/mm/pmm"
	"rvos/kernel/mm/vmm"
	"rvos/kernel/mm/vmm/vmmtest"
	"rvos/kernel/syscall"
	"rvos/kernel/task"
	"rvos/kernel/timer"
)

func boot(t *testing.T) (*task.Manager, *syscall.Dispatcher, *bytes.Buffer) {
	t.Helper()

	if err := pmm.Init(256); err != nil {
		t.Fatal(err)
	}
	if err := vmm.InitKernelSpace(pmm.KernBase, 256); err != nil {
		t.Fatal(err)
	}

	initProc, err := task.New(vmmtest.Program(nil, []byte("hi\n")))
	if err != nil {
		t.Fatal(err)
	}

	var console bytes.Buffer
	m := task.NewManager(&timer.Manual{})
	m.Boot(initProc)
	return m, syscall.NewDispatcher(m, loader.Map{}, &console), &console
}

// setRegs loads a syscall request into the trap context of the current task.
func setRegs(t *testing.T, m *task.Manager, id uintptr, args ...uintptr) {
	t.Helper()

	cur := m.Current()
	in := cur.Acquire()
	defer cur.Release()

	ctx := in.TrapContext()
	ctx.X[task.RegA7] = uint64(id)
	for i, arg := range args {
		ctx.X[task.RegA0+i] = uint64(arg)
	}
	in.SetTrapContext(ctx)
}

func regs(tcb *task.TaskControlBlock) task.TrapContext {
	in := tcb.Acquire()
	defer tcb.Release()
	return in.TrapContext()
}

func TestSyscallWritesResult(t *testing.T) {
	m, d, console := boot(t)
	cur := m.Current()

	before := regs(cur).Sepc
	setRegs(t, m, syscall.SysWrite, 1, vmmtest.ProgramData, 3)

	if got := Syscall(m, d); got != 3 {
		t.Fatalf("expected write to return 3; got %d", got)
	}
	if console.String() != "hi\n" {
		t.Fatalf("unexpected console output %q", console.String())
	}

	ctx := regs(cur)
	if ctx.Sepc != before+4 {
		t.Fatalf("expected sepc to advance past ecall; got %x want %x", ctx.Sepc, before+4)
	}
	if ctx.X[task.RegA0] != 3 {
		t.Fatalf("expected a0 to hold the result; got %d", ctx.X[task.RegA0])
	}

	setRegs(t, m, syscall.SysWrite, 7, 0, 0)
	Syscall(m, d)
	if got := int64(regs(cur).X[task.RegA0]); got != -1 {
		t.Fatalf("expected a0 to hold -1; got %d", got)
	}
}

func TestSyscallFork(t *testing.T) {
	m, d, _ := boot(t)
	parent := m.Current()

	setRegs(t, m, syscall.SysFork)
	childPid := Syscall(m, d)
	if childPid <= 0 {
		t.Fatalf("expected a child pid; got %d", childPid)
	}

	in := parent.Acquire()
	child := in.Children[0]
	parent.Release()

	pctx, cctx := regs(parent), regs(child)
	if int64(pctx.X[task.RegA0]) != childPid || cctx.X[task.RegA0] != 0 {
		t.Fatalf("expected parent a0 %d and child a0 0; got %d and %d", childPid, pctx.X[task.RegA0], cctx.X[task.RegA0])
	}
	if pctx.Sepc != cctx.Sepc {
		t.Fatal("expected both tasks to resume after the ecall")
	}
}

func TestSyscallExitLeavesZombieAlone(t *testing.T) {
	m, d, _ := boot(t)
	parent := m.Current()

	setRegs(t, m, syscall.SysFork)
	Syscall(m, d)

	// Timer expiry hands the hart to the child.
	Timer(m)
	child := m.Current()
	if child == parent {
		t.Fatal("expected the child to run after a timer trap")
	}

	setRegs(t, m, syscall.SysExit, 9)
	Syscall(m, d)

	in := child.Acquire()
	defer child.Release()
	if in.Status != task.StatusZombie || in.ExitCode != 9 {
		t.Fatalf("expected child to be a zombie with code 9; got %s %d", in.Status, in.ExitCode)
	}
	if m.Current() != parent {
		t.Fatal("expected the parent to run again")
	}
}

func TestPageFault(t *testing.T) {
	m, d, _ := boot(t)
	parent := m.Current()

	setRegs(t, m, syscall.SysFork)
	Syscall(m, d)
	Timer(m)
	child := m.Current()

	PageFault(m, 0xdead000)

	in := child.Acquire()
	defer child.Release()
	if in.Status != task.StatusZombie || in.ExitCode != -2 {
		t.Fatalf("expected faulting task to exit with -2; got %s %d", in.Status, in.ExitCode)
	}
	if m.Current() != parent {
		t.Fatal("expected the parent to run again")
	}
}
