// Package kmain brings the kernel up and drives it from a command console.
package kmain

import (
	"io"

	"rvos/kernel"
	"rvos/kernel/config"
	"rvos/kernel/loader"
	"rvos/kernel/mm/pmm"
	"rvos/kernel/mm/vmm"
	"rvos/kernel/syscall"
	"rvos/kernel/task"
	"rvos/kernel/timer"

	log "github.com/sirupsen/logrus"
)

var errNoInitProc = &kernel.Error{Module: "kmain", Message: "init process image not found"}

// Machine is a booted kernel.
type Machine struct {
	Config     config.Config
	Manager    *task.Manager
	Dispatcher *syscall.Dispatcher
	Loader     loader.Loader
	Clock      timer.Clock
}

// Kmain initializes physical memory, the kernel space and the scheduler
// from cfg, then starts the init process. Output of the write syscall goes
// to console.
func Kmain(cfg config.Config, ldr loader.Loader, clock timer.Clock, console io.Writer) (*Machine, *kernel.Error) {
	var err *kernel.Error
	if err = cfg.Validate(); err != nil {
		return nil, err
	} else if err = pmm.Init(cfg.MemoryFrames); err != nil {
		return nil, err
	} else if err = vmm.InitKernelSpace(pmm.KernBase, uintptr(cfg.MemoryFrames)); err != nil {
		return nil, err
	}

	task.SetParams(task.Params{
		BigStride:       cfg.BigStride,
		DefaultPriority: cfg.DefaultPriority,
		UserStackPages:  uintptr(cfg.UserStackPages),
	})

	image, found := ldr.Lookup(cfg.InitProc)
	if !found {
		return nil, errNoInitProc
	}

	initProc, err := task.New(image)
	if err != nil {
		return nil, err
	}

	manager := task.NewManager(clock)
	manager.Boot(initProc)

	log.WithFields(log.Fields{
		"frames":    cfg.MemoryFrames,
		"free":      pmm.Allocator().FreeCount(),
		"init_proc": cfg.InitProc,
	}).Info("kmain: kernel started")

	return &Machine{
		Config:     cfg,
		Manager:    manager,
		Dispatcher: syscall.NewDispatcher(manager, ldr, console),
		Loader:     ldr,
		Clock:      clock,
	}, nil
}
