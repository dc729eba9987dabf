package syscall

import (
	"encoding/binary"

	"rvos/kernel/mm"
	"rvos/kernel/mm/vmm"
	"rvos/kernel/task"

	log "github.com/sirupsen/logrus"
)

func sysExit(d *Dispatcher, _ *task.TaskControlBlock, args [3]uintptr) int64 {
	d.manager.ExitCurrentAndRunNext(int(int32(args[0])))
	return 0
}

func sysYield(d *Dispatcher, _ *task.TaskControlBlock, _ [3]uintptr) int64 {
	d.manager.SuspendCurrentAndRunNext()
	return 0
}

func sysGetpid(_ *Dispatcher, cur *task.TaskControlBlock, _ [3]uintptr) int64 {
	return int64(cur.Pid())
}

func sysGetTime(d *Dispatcher, cur *task.TaskControlBlock, args [3]uintptr) int64 {
	us := d.manager.Clock().Microseconds()
	tv := TimeVal{Sec: us / 1000000, Usec: us % 1000000}

	in := cur.Acquire()
	token := in.Token()
	cur.Release()

	if err := vmm.CopyToUser(token, args[0], encode(&tv)); err != nil {
		log.WithFields(log.Fields{"pid": cur.Pid(), "ptr": args[0]}).Warn("kernel: get_time: ", err)
		return -1
	}
	return 0
}

func sysTaskInfo(d *Dispatcher, cur *task.TaskControlBlock, args [3]uintptr) int64 {
	now := d.manager.Clock().Milliseconds()

	in := cur.Acquire()
	info := TaskInfo{
		Status:       uint64(in.Status),
		SyscallTimes: in.SyscallTimes,
		Time:         now - in.FirstRunMs,
	}
	token := in.Token()
	cur.Release()

	if err := vmm.CopyToUser(token, args[0], encode(&info)); err != nil {
		log.WithFields(log.Fields{"pid": cur.Pid(), "ptr": args[0]}).Warn("kernel: task_info: ", err)
		return -1
	}
	return 0
}

func sysFork(d *Dispatcher, cur *task.TaskControlBlock, _ [3]uintptr) int64 {
	child, err := cur.Fork()
	if err != nil {
		log.WithFields(log.Fields{"pid": cur.Pid()}).Warn("kernel: fork: ", err)
		return -1
	}

	// The child sees fork return 0.
	in := child.Acquire()
	ctx := in.TrapContext()
	ctx.X[task.RegA0] = 0
	in.SetTrapContext(ctx)
	child.Release()

	d.manager.Add(child)
	return int64(child.Pid())
}

// lookupImage reads a path from user memory and resolves it to an image.
func (d *Dispatcher) lookupImage(cur *task.TaskControlBlock, ptr uintptr) ([]byte, bool) {
	in := cur.Acquire()
	token := in.Token()
	cur.Release()

	path, err := vmm.TranslatedString(token, ptr)
	if err != nil {
		log.WithFields(log.Fields{"pid": cur.Pid(), "ptr": ptr}).Warn("kernel: bad path: ", err)
		return nil, false
	}

	image, found := d.loader.Lookup(path)
	if !found {
		log.WithFields(log.Fields{"pid": cur.Pid(), "path": path}).Warn("kernel: no such application")
	}
	return image, found
}

func sysExec(d *Dispatcher, cur *task.TaskControlBlock, args [3]uintptr) int64 {
	image, found := d.lookupImage(cur, args[0])
	if !found {
		return -1
	}

	if err := cur.Exec(image); err != nil {
		log.WithFields(log.Fields{"pid": cur.Pid()}).Warn("kernel: exec: ", err)
		return -1
	}

	in := cur.Acquire()
	vmm.Activate(in.Token())
	cur.Release()
	return 0
}

func sysSpawn(d *Dispatcher, cur *task.TaskControlBlock, args [3]uintptr) int64 {
	image, found := d.lookupImage(cur, args[0])
	if !found {
		return -1
	}

	child, err := cur.Spawn(image)
	if err != nil {
		log.WithFields(log.Fields{"pid": cur.Pid()}).Warn("kernel: spawn: ", err)
		return -1
	}

	d.manager.Add(child)
	return int64(child.Pid())
}

// sysWaitpid reaps a zombie child. A pid of -1 matches any child. It
// returns -1 if no child matches and -2 if none of the matching children
// has exited yet.
func sysWaitpid(_ *Dispatcher, cur *task.TaskControlBlock, args [3]uintptr) int64 {
	var (
		pid      = int64(args[0])
		codePtr  = args[1]
		matched  bool
		zombieAt = -1
	)

	in := cur.Acquire()
	for i, child := range in.Children {
		if pid != -1 && int64(child.Pid()) != pid {
			continue
		}
		matched = true

		ci := child.Acquire()
		zombie := ci.Status == task.StatusZombie
		child.Release()
		if zombie {
			zombieAt = i
			break
		}
	}

	switch {
	case !matched:
		cur.Release()
		return -1
	case zombieAt < 0:
		cur.Release()
		return -2
	}

	// Make sure the exit code can be delivered before reaping.
	token := in.Token()
	if _, err := vmm.NewUserBuffer(token, codePtr, 4, vmm.PermWrite); err != nil {
		cur.Release()
		log.WithFields(log.Fields{"pid": cur.Pid(), "ptr": codePtr}).Warn("kernel: waitpid: ", err)
		return -1
	}

	child := in.Children[zombieAt]
	in.Children = append(in.Children[:zombieAt], in.Children[zombieAt+1:]...)
	cur.Release()

	ci := child.Acquire()
	code := ci.ExitCode
	child.Release()
	child.Destroy()

	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(int32(code)))
	if err := vmm.CopyToUser(token, codePtr, buf[:]); err != nil {
		log.WithFields(log.Fields{"pid": cur.Pid(), "child": child.Pid(), "ptr": codePtr}).Error("kernel: waitpid: exit code lost: ", err)
	}

	return int64(child.Pid())
}

func sysSetPriority(_ *Dispatcher, cur *task.TaskControlBlock, args [3]uintptr) int64 {
	prio := int64(args[0])
	if prio <= 1 {
		return -1
	}

	in := cur.Acquire()
	in.SetPriority(uint64(prio))
	cur.Release()
	return prio
}

func sysSbrk(_ *Dispatcher, cur *task.TaskControlBlock, args [3]uintptr) int64 {
	in := cur.Acquire()
	old, ok := in.ChangeProgramBrk(int64(args[0]))
	cur.Release()

	if !ok {
		return -1
	}
	return int64(old)
}

// sysMmap maps [start, start+length) with the rights encoded in port.
func sysMmap(_ *Dispatcher, cur *task.TaskControlBlock, args [3]uintptr) int64 {
	start, length, port := args[0], args[1], args[2]
	if !mm.IsPageAligned(start) || start+length < start {
		return -1
	}

	perm, err := vmm.PermissionFromPort(port)
	if err != nil {
		return -1
	}

	// An empty range overlaps nothing.
	if length == 0 {
		return 0
	}

	in := cur.Acquire()
	err = in.Space.InsertFramedArea(start, start+length, perm)
	cur.Release()

	if err != nil {
		log.WithFields(log.Fields{"pid": cur.Pid(), "start": start, "len": length}).Warn("kernel: mmap: ", err)
		return -1
	}
	return 0
}

// sysMunmap unmaps a range previously mapped by one mmap call.
func sysMunmap(_ *Dispatcher, cur *task.TaskControlBlock, args [3]uintptr) int64 {
	start, length := args[0], args[1]
	if !mm.IsPageAligned(start) || length == 0 || start+length < start {
		return -1
	}

	in := cur.Acquire()
	err := in.Space.RemoveAreaRange(mm.PageFromAddress(start), mm.PageCeil(start+length))
	cur.Release()

	if err != nil {
		log.WithFields(log.Fields{"pid": cur.Pid(), "start": start, "len": length}).Warn("kernel: munmap: ", err)
		return -1
	}
	return 0
}
