// Package pmm manages the machine's physical memory and hands out frames.
package pmm

import (
	"rvos/kernel"
	"rvos/kernel/mm"
)

var (
	// physMem is the installed RAM.
	physMem *Memory

	// bitmapAllocator is the standard allocator used by the kernel.
	bitmapAllocator *BitmapAllocator

	errNoMemory = &kernel.Error{Module: "pmm", Message: "machine needs at least one frame of memory"}
)

// Init sets up the kernel physical memory allocation sub-system with
// frameCount frames of RAM at KernBase and registers the allocator and the
// direct map with the mm package.
func Init(frameCount uint) *kernel.Error {
	if frameCount == 0 {
		return errNoMemory
	}

	physMem = NewMemory(KernBase, frameCount)
	bitmapAllocator = NewBitmapAllocator(physMem)
	mm.SetFrameAllocator(bitmapAllocFrame, bitmapFreeFrame)
	mm.SetFrameMapper(directMapFrame)

	return nil
}

// PhysicalMemory returns the RAM installed by Init.
func PhysicalMemory() *Memory { return physMem }

// Allocator returns the allocator installed by Init.
func Allocator() *BitmapAllocator { return bitmapAllocator }

func bitmapAllocFrame() (mm.Frame, *kernel.Error) {
	return bitmapAllocator.AllocFrame()
}

func bitmapFreeFrame(frame mm.Frame) {
	bitmapAllocator.FreeFrame(frame)
}

func directMapFrame(frame mm.Frame) []byte {
	data, _ := physMem.FrameData(frame)
	return data
}
