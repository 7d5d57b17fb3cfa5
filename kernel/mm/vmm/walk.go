package vmm

import (
	"unsafe"

	"hermit/kernel/mm"
)

// ptePtrFn turns an entry address inside the recursive mapping window into a
// live entry pointer. Tests swap it to redirect the walk into fake tables;
// the kernel build inlines the conversion.
var ptePtrFn = func(entryAddr uintptr) unsafe.Pointer {
	return unsafe.Pointer(entryAddr)
}

// walk visits the page table entries that translate virtAddr, one per paging
// level starting at the root table. visit receives the level together with a
// pointer to the live entry; returning false stops the descent. The entries
// are reached through the recursive mapping slot, so writes through the
// supplied pointers modify the active tree.
func walk(virtAddr uintptr, visit func(level uint8, entry *pageTableEntry) bool) {
	tableAddr := pdtVirtualAddr
	for level := uint8(0); level < pageLevels; level++ {
		index := (virtAddr >> pageLevelShifts[level]) & ((1 << pageLevelBits[level]) - 1)
		entryAddr := tableAddr + index<<mm.PointerShift

		if !visit(level, (*pageTableEntry)(ptePtrFn(entryAddr))) {
			return
		}

		// shifting the entry address by this level's bit count yields
		// the recursive virtual address of the table it points to
		tableAddr = entryAddr << pageLevelBits[level]
	}
}
