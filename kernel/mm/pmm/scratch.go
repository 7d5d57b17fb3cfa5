package pmm

import (
	"unsafe"

	"hermit/kernel"
	"hermit/kernel/mm"
	"hermit/kernel/sync"
)

var (
	// mapScratchFn and unmapScratchFn establish short-lived kernel
	// mappings for physical pages that need their contents touched. Until
	// paging is configured physical memory is identity mapped by the
	// loader, so the defaults pass addresses through unchanged. The vmm
	// package installs the real temporary mapper during its Init.
	mapScratchFn = func(physAddr uintptr) (uintptr, *kernel.Error) {
		return physAddr, nil
	}
	unmapScratchFn = func(virtAddr uintptr) {}

	// scratchLock serializes users of the scratch mapping and the page
	// bounce buffer below.
	scratchLock sync.Spinlock

	// pageBuf is a page-sized bounce buffer used by CopyPage so only one
	// scratch mapping needs to be live at a time.
	pageBuf [mm.PageSize]byte
)

// SetScratchMapper installs the functions used to temporarily map physical
// pages into the kernel address space.
func SetScratchMapper(mapFn func(uintptr) (uintptr, *kernel.Error), unmapFn func(uintptr)) {
	mapScratchFn = mapFn
	unmapScratchFn = unmapFn
}

// GetZeroedPage reserves a single physical page and clears its contents.
func GetZeroedPage() (uintptr, *kernel.Error) {
	physAddr, err := GetPage()
	if err != nil {
		return 0, err
	}

	scratchLock.Acquire()
	virtAddr, err := mapScratchFn(physAddr)
	if err != nil {
		scratchLock.Release()
		frameAllocator.putPages(physAddr, 1)
		return 0, err
	}
	mm.ZeroRegion(virtAddr, mm.PageSize)
	unmapScratchFn(virtAddr)
	scratchLock.Release()

	return physAddr, nil
}

// CopyPage copies the contents of the physical page at src to the physical
// page at dest. Both addresses must be page aligned.
func CopyPage(dest, src uintptr) *kernel.Error {
	if dest&(mm.PageSize-1) != 0 || src&(mm.PageSize-1) != 0 {
		return errBitmapInvalidRegion
	}

	scratchLock.Acquire()
	defer scratchLock.Release()

	virtAddr, err := mapScratchFn(src)
	if err != nil {
		return err
	}
	bufAddr := uintptr(unsafe.Pointer(&pageBuf[0]))
	mm.CopyRegion(virtAddr, bufAddr, mm.PageSize)
	unmapScratchFn(virtAddr)

	if virtAddr, err = mapScratchFn(dest); err != nil {
		return err
	}
	mm.CopyRegion(bufAddr, virtAddr, mm.PageSize)
	unmapScratchFn(virtAddr)

	return nil
}
