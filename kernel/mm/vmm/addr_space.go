package vmm

import (
	"hermit/kernel"
	"hermit/kernel/mm"
	"hermit/kernel/sync"
)

var (
	// earlyReserveLastUsed tracks the last reserved page address and is
	// decreased after each allocation request. Initially, it points to
	// tempMappingAddr which coincides with the end of the kernel address
	// space.
	earlyReserveLastUsed = tempMappingAddr

	errEarlyReserveNoSpace = &kernel.Error{Module: "early_reserve", Code: kernel.EOutOfMemory, Message: "remaining virtual address space not large enough to satisfy reservation request"}
)

// EarlyReserveRegion reserves a page-aligned contiguous virtual memory region
// with the requested size in the kernel address space and returns its virtual
// address. If size is not a multiple of mm.PageSize it will be automatically
// rounded up.
//
// This function allocates regions starting at the end of the kernel address
// space moving downwards. Reservations are never returned.
func EarlyReserveRegion(size uintptr) (uintptr, *kernel.Error) {
	size = (size + (mm.PageSize - 1)) & ^(mm.PageSize - 1)

	// reserving a region of the requested size will cause an underflow
	if size > earlyReserveLastUsed {
		return 0, errEarlyReserveNoSpace
	}

	earlyReserveLastUsed -= size
	return earlyReserveLastUsed, nil
}

// maxOnDemandRegions bounds the number of concurrently registered
// lazily-populated regions.
const maxOnDemandRegions = 64

// onDemandRegion describes a virtual address range whose pages get physical
// frames assigned on first touch instead of at registration time.
type onDemandRegion struct {
	start, end uintptr
	flags      PageTableEntryFlag
	active     bool
}

var (
	onDemandLock    sync.IrqSpinlock
	onDemandRegions [maxOnDemandRegions]onDemandRegion

	errOnDemandExhausted = &kernel.Error{Module: "vmm", Code: kernel.EOutOfMemory, Message: "on-demand region table exhausted"}
	errOnDemandInvalid   = &kernel.Error{Module: "vmm", Code: kernel.EInvalidArg, Message: "invalid on-demand region"}
)

// ReserveOnDemandRegion registers [start, start+size) as a lazily populated
// region. Faulting accesses inside it allocate and map a zeroed frame with
// the supplied flags instead of being treated as segmentation faults. Both
// bounds are rounded outwards to page boundaries.
func ReserveOnDemandRegion(start, size uintptr, flags PageTableEntryFlag) *kernel.Error {
	if size == 0 {
		return errOnDemandInvalid
	}

	end := (start + size + mm.PageSize - 1) & ^(mm.PageSize - 1)
	start &= ^(mm.PageSize - 1)

	onDemandLock.Lock()
	defer onDemandLock.Unlock()

	for i := range onDemandRegions {
		if !onDemandRegions[i].active {
			onDemandRegions[i] = onDemandRegion{start: start, end: end, flags: flags, active: true}
			return nil
		}
	}
	return errOnDemandExhausted
}

// ReleaseOnDemandRegion removes the registration for the region starting at
// start. Already materialized pages remain mapped and must be unmapped by the
// caller.
func ReleaseOnDemandRegion(start uintptr) *kernel.Error {
	start &= ^(mm.PageSize - 1)

	onDemandLock.Lock()
	defer onDemandLock.Unlock()

	for i := range onDemandRegions {
		if onDemandRegions[i].active && onDemandRegions[i].start == start {
			onDemandRegions[i] = onDemandRegion{}
			return nil
		}
	}
	return errOnDemandInvalid
}

// onDemandFlagsFor returns the mapping flags for addr if it falls within a
// registered on-demand region.
func onDemandFlagsFor(addr uintptr) (PageTableEntryFlag, bool) {
	onDemandLock.Lock()
	defer onDemandLock.Unlock()

	for i := range onDemandRegions {
		region := &onDemandRegions[i]
		if region.active && addr >= region.start && addr < region.end {
			return region.flags, true
		}
	}
	return 0, false
}
