package vmm

import (
	"hermit/kernel"
	"hermit/kernel/mm"
	"hermit/kernel/mm/pmm"
)

// ReservedZeroedFrame is a special zero-cleared frame allocated by the
// vmm package's Init function. It backs freshly materialized pages in
// lazily-populated regions: the page is initially mapped to this frame
// read-only with FlagCopyOnWrite, so reads observe zeros without consuming
// memory and the first write allocates a private copy through the
// copy-on-write fault path.
var ReservedZeroedFrame mm.Frame

var (
	// protectReservedZeroedPage is set to true once ReservedZeroedFrame
	// has been initialized to reject writable mappings of it.
	protectReservedZeroedPage bool
)

// Init initializes the vmm system, installs paging-related exception handlers
// and hands the pmm a temporary mapper for touching unreachable frames.
func Init() *kernel.Error {
	installFaultHandlers()

	pmm.SetScratchMapper(
		func(physAddr uintptr) (uintptr, *kernel.Error) {
			page, err := mapTemporaryFn(mm.FrameFromAddress(physAddr))
			if err != nil {
				return 0, err
			}
			return page.Address(), nil
		},
		func(virtAddr uintptr) {
			_ = unmapFn(mm.PageFromAddress(virtAddr))
		},
	)

	return reserveZeroedFrame()
}

// reserveZeroedFrame reserves a physical frame to be used together with
// FlagCopyOnWrite for lazy allocation requests.
func reserveZeroedFrame() *kernel.Error {
	var (
		err      *kernel.Error
		tempPage mm.Page
	)

	if ReservedZeroedFrame, err = mm.AllocFrame(); err != nil {
		return err
	} else if tempPage, err = mapTemporaryFn(ReservedZeroedFrame); err != nil {
		return err
	}
	mm.ZeroRegion(tempPage.Address(), mm.PageSize)
	_ = unmapFn(tempPage)

	// From this point on, ReservedZeroedFrame cannot be mapped with a RW flag
	protectReservedZeroedPage = true
	return nil
}
