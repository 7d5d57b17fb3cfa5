package kmalloc

import (
	"hermit/kernel"
	"hermit/kernel/mm"
	"hermit/kernel/mm/pmm"
	"hermit/kernel/mm/vmm"
)

var (
	// the following functions are swapped by tests so the heap can be
	// exercised without a live paging setup.
	getPagesFn    = pmm.GetPages
	putPagesFn    = pmm.PutPages
	mapRegionFn   = vmm.MapRegion
	unmapRegionFn = vmm.UnmapRegion
	translateFn   = vmm.Translate

	errPallocInvalid = &kernel.Error{Module: "kmalloc", Code: kernel.EInvalidArg, Message: "invalid page-granular region"}
)

// heapGrow maps a fresh physically backed region of size bytes into the
// kernel address space and returns its virtual address. It feeds the buddy
// allocator when all suitable free lists are empty.
func heapGrow(size uintptr) (uintptr, *kernel.Error) {
	physAddr, err := getPagesFn(uint32(size >> mm.PageShift))
	if err != nil {
		return 0, err
	}

	page, err := mapRegionFn(mm.FrameFromAddress(physAddr), size, vmm.FlagPresent|vmm.FlagRW|vmm.FlagNoExecute)
	if err != nil {
		putPagesFn(physAddr, uint32(size>>mm.PageShift))
		return 0, err
	}

	return page.Address(), nil
}

// Palloc reserves a physically contiguous, page-aligned region of at least
// size bytes and maps it into the kernel address space. It serves callers
// that need page granularity (stacks, DMA buffers, page tables) and bypasses
// the buddy heap entirely.
func Palloc(size uintptr) (uintptr, *kernel.Error) {
	if size == 0 {
		return 0, errPallocInvalid
	}
	size = (size + mm.PageSize - 1) & ^(mm.PageSize - 1)
	return heapGrow(size)
}

// Pfree releases a region previously reserved via Palloc. size must match
// the original request rounded up to the page size.
func Pfree(addr, size uintptr) *kernel.Error {
	if size == 0 || addr&(mm.PageSize-1) != 0 {
		return errPallocInvalid
	}
	size = (size + mm.PageSize - 1) & ^(mm.PageSize - 1)

	physAddr, err := translateFn(addr)
	if err != nil {
		return err
	}

	if err = unmapRegionFn(mm.PageFromAddress(addr), size>>mm.PageShift); err != nil {
		return err
	}
	return putPagesFn(physAddr, uint32(size>>mm.PageShift))
}
