package task

import (
	"encoding/binary"
	"fmt"
	"io"

	"rvos/kernel/mm"
)

// General purpose register numbers used by the syscall ABI.
const (
	RegRA = 1
	RegSP = 2
	RegA0 = 10
	RegA1 = 11
	RegA2 = 12
	RegA7 = 17
)

const (
	// sstatusSPP is set when the trap came from supervisor mode. It is
	// left clear so sret returns to user mode.
	sstatusSPP = uint64(1) << 8

	// sstatusSPIE enables interrupts once sret returns to user mode.
	sstatusSPIE = uint64(1) << 5
)

// TrapContext contains a snapshot of the user registers saved when a trap
// occurred, together with what the trampoline needs to enter the kernel.
// It lives at the start of the task's trap context page.
type TrapContext struct {
	X           [32]uint64
	Sstatus     uint64
	Sepc        uint64
	KernelSatp  uint64
	KernelSP    uint64
	TrapHandler uint64
}

// AppInitContext returns the context a task starts from: user mode at entry
// with the stack pointer at sp.
func AppInitContext(entry, sp, kernelSatp, kernelSP, trapHandler uintptr) TrapContext {
	ctx := TrapContext{
		Sstatus:     sstatusSPIE &^ sstatusSPP,
		Sepc:        uint64(entry),
		KernelSatp:  uint64(kernelSatp),
		KernelSP:    uint64(kernelSP),
		TrapHandler: uint64(trapHandler),
	}
	ctx.X[RegSP] = uint64(sp)
	return ctx
}

// words lists the context fields in their in-memory order.
func (c *TrapContext) words() []*uint64 {
	words := make([]*uint64, 0, len(c.X)+5)
	for i := range c.X {
		words = append(words, &c.X[i])
	}
	return append(words, &c.Sstatus, &c.Sepc, &c.KernelSatp, &c.KernelSP, &c.TrapHandler)
}

// loadTrapContext decodes the context stored in a trap context frame.
func loadTrapContext(frame mm.Frame) TrapContext {
	var (
		ctx  TrapContext
		data = mm.FrameData(frame)
	)
	for i, w := range ctx.words() {
		*w = binary.LittleEndian.Uint64(data[i*8:])
	}
	return ctx
}

// storeTrapContext encodes ctx into a trap context frame.
func storeTrapContext(frame mm.Frame, ctx TrapContext) {
	data := mm.FrameData(frame)
	for i, w := range ctx.words() {
		binary.LittleEndian.PutUint64(data[i*8:], *w)
	}
}

// Print outputs a dump of the register values to w.
func (c *TrapContext) Print(w io.Writer) {
	for i := 0; i < len(c.X); i += 2 {
		fmt.Fprintf(w, "x%-2d = %16x x%-2d = %16x\n", i, c.X[i], i+1, c.X[i+1])
	}
	fmt.Fprintf(w, "SEPC = %16x SSTATUS = %16x\n", c.Sepc, c.Sstatus)
	fmt.Fprintf(w, "KSATP = %16x KSP = %16x\n", c.KernelSatp, c.KernelSP)
}
