package pmm

import (
	"math/bits"

	"rvos/kernel"
	"rvos/kernel/kfmt"
	"rvos/kernel/mm"
)

var (
	errOutOfMemory     = &kernel.Error{Module: "bitmap_alloc", Message: "out of memory"}
	errFrameNotManaged = &kernel.Error{Module: "bitmap_alloc", Message: "frame is not managed by this allocator"}
	errDoubleFree      = &kernel.Error{Module: "bitmap_alloc", Message: "frame freed while not allocated"}
)

// BitmapAllocator implements a physical frame allocator that tracks frame
// reservations for a Memory using a bitmap. A set bit marks a reserved frame.
type BitmapAllocator struct {
	mem *Memory

	// freeCount tracks the available frames. The allocator can use this
	// field to fail fast without scanning the bitmap.
	freeCount uint

	// nextHint is the bitmap word where the next scan starts.
	nextHint int

	// freeBitmap tracks used/free frames; bit i corresponds to frame
	// (mem.FirstFrame() + i).
	freeBitmap []uint64
}

// NewBitmapAllocator returns an allocator that hands out every frame of mem.
func NewBitmapAllocator(mem *Memory) *BitmapAllocator {
	frameCount := mem.FrameCount()
	alloc := &BitmapAllocator{
		mem:        mem,
		freeCount:  frameCount,
		freeBitmap: make([]uint64, (frameCount+63)>>6),
	}

	// Frames past the end of memory in the last bitmap word are flagged as
	// reserved so they are never handed out.
	if rem := frameCount & 63; rem != 0 {
		alloc.freeBitmap[len(alloc.freeBitmap)-1] = ^uint64(0) << rem
	}

	return alloc
}

// AllocFrame reserves the next free frame, clears its contents and returns
// it. AllocFrame returns an error if no more memory can be allocated.
func (alloc *BitmapAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	if alloc.freeCount == 0 {
		return mm.InvalidFrame, errOutOfMemory
	}

	for i := 0; i < len(alloc.freeBitmap); i++ {
		wordIndex := (alloc.nextHint + i) % len(alloc.freeBitmap)
		word := alloc.freeBitmap[wordIndex]
		if word == ^uint64(0) {
			continue
		}

		bit := bits.TrailingZeros64(^word)
		alloc.freeBitmap[wordIndex] |= 1 << uint(bit)
		alloc.freeCount--
		alloc.nextHint = wordIndex

		frame := alloc.mem.FirstFrame() + mm.Frame(wordIndex<<6+bit)
		data, _ := alloc.mem.FrameData(frame)
		clear(data)
		return frame, nil
	}

	return mm.InvalidFrame, errOutOfMemory
}

// FreeFrame releases a frame previously returned by AllocFrame. Releasing a
// frame that is free or not managed by the allocator is a kernel bug and
// halts the machine.
func (alloc *BitmapAllocator) FreeFrame(frame mm.Frame) {
	if !alloc.mem.Contains(frame) {
		kfmt.Panic(errFrameNotManaged)
		return
	}

	index := uint(frame - alloc.mem.FirstFrame())
	mask := uint64(1) << (index & 63)
	if alloc.freeBitmap[index>>6]&mask == 0 {
		kfmt.Panic(errDoubleFree)
		return
	}

	alloc.freeBitmap[index>>6] &^= mask
	alloc.freeCount++
}

// IsReserved returns true if frame is currently allocated.
func (alloc *BitmapAllocator) IsReserved(frame mm.Frame) bool {
	if !alloc.mem.Contains(frame) {
		return false
	}
	index := uint(frame - alloc.mem.FirstFrame())
	return alloc.freeBitmap[index>>6]&(1<<(index&63)) != 0
}

// FreeCount returns the number of frames available for allocation.
func (alloc *BitmapAllocator) FreeCount() uint { return alloc.freeCount }

// TotalCount returns the number of frames managed by the allocator.
func (alloc *BitmapAllocator) TotalCount() uint { return alloc.mem.FrameCount() }
