// Package syscall decodes system calls issued by user tasks and carries them
// out against the task manager.
package syscall

import (
	"io"

	"rvos/kernel/loader"
	"rvos/kernel/task"

	log "github.com/sirupsen/logrus"
)

// handlerFn carries out one syscall for the current task.
type handlerFn func(d *Dispatcher, cur *task.TaskControlBlock, args [3]uintptr) int64

type handler struct {
	name string
	fn   handlerFn
}

var handlers = map[uintptr]handler{
	SysWrite:       {"write", sysWrite},
	SysExit:        {"exit", sysExit},
	SysYield:       {"yield", sysYield},
	SysSetPriority: {"set_priority", sysSetPriority},
	SysGetTime:     {"get_time", sysGetTime},
	SysGetpid:      {"getpid", sysGetpid},
	SysSbrk:        {"sbrk", sysSbrk},
	SysMunmap:      {"munmap", sysMunmap},
	SysFork:        {"fork", sysFork},
	SysExec:        {"exec", sysExec},
	SysMmap:        {"mmap", sysMmap},
	SysWaitpid:     {"waitpid", sysWaitpid},
	SysSpawn:       {"spawn", sysSpawn},
	SysTaskInfo:    {"task_info", sysTaskInfo},
}

// Dispatcher routes syscalls to their handlers.
type Dispatcher struct {
	manager *task.Manager
	loader  loader.Loader
	console io.Writer
}

// NewDispatcher returns a dispatcher that schedules through manager, resolves
// exec and spawn names through ldr and sends write output to console.
func NewDispatcher(manager *task.Manager, ldr loader.Loader, console io.Writer) *Dispatcher {
	return &Dispatcher{manager: manager, loader: ldr, console: console}
}

// Dispatch carries out syscall id for the current task and returns the value
// for its a0 register. The call is counted against the task before the
// handler runs. An unknown id kills the calling task with exit code -1.
func (d *Dispatcher) Dispatch(id uintptr, args [3]uintptr) int64 {
	cur := d.manager.Current()
	if cur == nil {
		return -1
	}

	h, known := handlers[id]

	in := cur.Acquire()
	if known {
		in.SyscallTimes[id]++
	}
	cur.Release()

	if !known {
		log.WithFields(log.Fields{"pid": cur.Pid(), "id": id}).Warn("kernel: unsupported syscall; killing task")
		d.manager.ExitCurrentAndRunNext(-1)
		return -1
	}

	log.WithFields(log.Fields{"pid": cur.Pid(), "args": args}).Trace("kernel: sys_", h.name)
	return h.fn(d, cur, args)
}
