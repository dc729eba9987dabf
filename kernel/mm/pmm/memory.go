package pmm

import (
	"rvos/kernel"
	"rvos/kernel/mm"
)

const (
	// KernBase is the physical address where RAM starts on the target
	// machine (qemu -machine virt).
	KernBase = uintptr(0x80000000)
)

var errBadPhysAddr = &kernel.Error{Module: "pmm", Message: "physical address outside of installed memory"}

// Memory models the machine's RAM: a contiguous run of frames starting at
// frame firstFrame. Every address space shares a direct-mapped view of it, so
// the kernel reaches any frame's contents through Memory without switching
// page tables.
type Memory struct {
	firstFrame mm.Frame
	data       []byte
}

// NewMemory returns frameCount zero-filled frames of RAM starting at the
// physical address base.
func NewMemory(base uintptr, frameCount uint) *Memory {
	return &Memory{
		firstFrame: mm.FrameFromAddress(base),
		data:       make([]byte, uintptr(frameCount)<<mm.PageShift),
	}
}

// FirstFrame returns the lowest frame backed by this memory.
func (m *Memory) FirstFrame() mm.Frame { return m.firstFrame }

// FrameCount returns the number of frames backed by this memory.
func (m *Memory) FrameCount() uint { return uint(uintptr(len(m.data)) >> mm.PageShift) }

// Contains returns true if frame is backed by this memory.
func (m *Memory) Contains(frame mm.Frame) bool {
	return frame >= m.firstFrame && uint(frame-m.firstFrame) < m.FrameCount()
}

// FrameData returns the PageSize bytes backing frame.
func (m *Memory) FrameData(frame mm.Frame) ([]byte, *kernel.Error) {
	if !m.Contains(frame) {
		return nil, errBadPhysAddr
	}
	off := uintptr(frame-m.firstFrame) << mm.PageShift
	return m.data[off : off+mm.PageSize : off+mm.PageSize], nil
}

// Bytes returns size bytes starting at the physical address physAddr. The
// range must not cross a frame boundary; physically adjacent frames are
// unrelated as far as any virtual mapping is concerned.
func (m *Memory) Bytes(physAddr, size uintptr) ([]byte, *kernel.Error) {
	data, err := m.FrameData(mm.FrameFromAddress(physAddr))
	if err != nil {
		return nil, err
	}

	off := mm.PageOffset(physAddr)
	if size > mm.PageSize-off {
		return nil, errBadPhysAddr
	}
	return data[off : off+size], nil
}
