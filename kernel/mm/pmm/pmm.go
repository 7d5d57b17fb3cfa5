package pmm

import (
	"hermit/kernel"
	"hermit/kernel/hal/bootinfo"
	"hermit/kernel/kfmt"
	"hermit/kernel/mm"
)

var (
	// frameAllocator is the bitmap allocator used for all physical page
	// allocations while the kernel runs.
	frameAllocator bitmapAllocator
)

// Init sets up the kernel physical memory allocation sub-system using the
// loader-provided memory map. Frames that overlap the kernel image or do not
// belong to an available region are never handed out.
func Init(inf *bootinfo.Info) *kernel.Error {
	if err := frameAllocator.init(inf); err != nil {
		return err
	}
	frameAllocator.printMemoryMap(inf)

	mm.SetFrameAllocator(allocFrame)
	mm.SetFrameReleaser(freeFrame)
	return nil
}

func allocFrame() (mm.Frame, *kernel.Error) {
	addr, err := frameAllocator.getPages(1)
	if err != nil {
		return mm.InvalidFrame, err
	}
	return mm.FrameFromAddress(addr), nil
}

func freeFrame(frame mm.Frame) *kernel.Error {
	return frameAllocator.putPages(frame.Address(), 1)
}

// GetPages reserves a physically contiguous run of npages pages and returns
// the physical address of the first one.
func GetPages(npages uint32) (uintptr, *kernel.Error) {
	return frameAllocator.getPages(npages)
}

// GetPage reserves a single physical page.
func GetPage() (uintptr, *kernel.Error) {
	return frameAllocator.getPages(1)
}

// PutPages releases a run of npages pages previously reserved via GetPages.
func PutPages(physAddr uintptr, npages uint32) *kernel.Error {
	return frameAllocator.putPages(physAddr, npages)
}

// TotalPages returns the number of physical pages tracked by the allocator.
func TotalPages() int64 {
	return frameAllocator.totalPages.Get()
}

// UsedPages returns the number of physical pages currently reserved.
func UsedPages() int64 {
	return frameAllocator.usedPages.Get()
}

// FreePages returns the number of physical pages available for reservation.
func FreePages() int64 {
	return frameAllocator.totalPages.Get() - frameAllocator.usedPages.Get()
}

func (alloc *bitmapAllocator) printMemoryMap(inf *bootinfo.Info) {
	kfmt.Printf("[pmm] memory map:\n")
	inf.VisitMemRegions(func(region *bootinfo.MemRegion) bool {
		kfmt.Printf("\t[0x%10x - 0x%10x], size: %10d, type: %s\n",
			region.Base, region.Base+region.Length, region.Length, region.Type.String())
		return true
	})
	kfmt.Printf("[pmm] free memory: %dKb\n", (alloc.totalPages.Get()-alloc.usedPages.Get())*int64(mm.PageSize)>>10)
}
