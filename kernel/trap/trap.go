// Package trap applies the traps delivered by the hart to the running task.
package trap

import (
	"rvos/kernel/syscall"
	"rvos/kernel/task"

	log "github.com/sirupsen/logrus"
)

// Syscall handles an environment call from the current task: it steps sepc
// past the ecall instruction, dispatches a7 with a0..a2 as arguments and
// stores the result in a0 of the calling task, unless the call ended it.
func Syscall(m *task.Manager, d *syscall.Dispatcher) int64 {
	cur := m.Current()
	if cur == nil {
		return -1
	}

	in := cur.Acquire()
	ctx := in.TrapContext()
	ctx.Sepc += 4
	in.SetTrapContext(ctx)
	cur.Release()

	result := d.Dispatch(uintptr(ctx.X[task.RegA7]), [3]uintptr{
		uintptr(ctx.X[task.RegA0]),
		uintptr(ctx.X[task.RegA1]),
		uintptr(ctx.X[task.RegA2]),
	})

	in = cur.Acquire()
	if in.Status != task.StatusZombie {
		ctx = in.TrapContext()
		ctx.X[task.RegA0] = uint64(result)
		in.SetTrapContext(ctx)
	}
	cur.Release()

	return result
}

// Timer handles the expiry of the current timeslice.
func Timer(m *task.Manager) {
	log.Trace("trap: timer")
	m.SuspendCurrentAndRunNext()
}

// PageFault kills the current task after a user access to stval that its
// address space does not allow.
func PageFault(m *task.Manager, stval uintptr) {
	cur := m.Current()
	if cur == nil {
		return
	}

	log.WithFields(log.Fields{"pid": cur.Pid(), "stval": stval}).Warn("trap: page fault in application; killing it")
	m.ExitCurrentAndRunNext(-2)
}
