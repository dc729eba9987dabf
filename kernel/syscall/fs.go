package syscall

import (
	"rvos/kernel/mm/vmm"
	"rvos/kernel/task"

	log "github.com/sirupsen/logrus"
)

func sysWrite(d *Dispatcher, cur *task.TaskControlBlock, args [3]uintptr) int64 {
	fd, ptr, length := args[0], args[1], args[2]
	if fd != fdStdout {
		return -1
	}

	in := cur.Acquire()
	token := in.Token()
	cur.Release()

	buf, err := vmm.NewUserBuffer(token, ptr, length, vmm.PermRead)
	if err != nil {
		log.WithFields(log.Fields{"pid": cur.Pid(), "ptr": ptr, "len": length}).Warn("kernel: write: ", err)
		return -1
	}

	if _, werr := buf.WriteTo(d.console); werr != nil {
		log.WithFields(log.Fields{"pid": cur.Pid()}).Warn("kernel: write: ", werr)
		return -1
	}
	return int64(length)
}
