package syscall

import (
	"bytes"
	"encoding/binary"

	"rvos/kernel/task"
)

// Syscall ids.
const (
	SysWrite       = 64
	SysExit        = 93
	SysYield       = 124
	SysSetPriority = 140
	SysGetTime     = 169
	SysGetpid      = 172
	SysSbrk        = 214
	SysMunmap      = 215
	SysFork        = 220
	SysExec        = 221
	SysMmap        = 222
	SysWaitpid     = 260
	SysSpawn       = 400
	SysTaskInfo    = 410
)

// fdStdout is the only file descriptor write accepts.
const fdStdout = 1

// TimeVal is the user layout of a get_time result.
type TimeVal struct {
	Sec  uint64
	Usec uint64
}

// TaskInfo is the user layout of a task_info result.
type TaskInfo struct {
	Status       uint64
	SyscallTimes [task.MaxSyscallNum]uint32

	// Time is in milliseconds since the task first ran.
	Time uint64
}

// encode returns the little-endian user representation of v.
func encode(v interface{}) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, v)
	return buf.Bytes()
}
