package vmm

import (
	"hermit/kernel"
	"hermit/kernel/mm"
)

var errStackInvalid = &kernel.Error{Module: "vmm", Code: kernel.EInvalidArg, Message: "invalid stack descriptor"}

// Stack describes a kernel or task stack carved out of the virtual address
// space. The usable range [Start, Top) is bracketed by one guard page on
// each side; any access spilling past the range lands on a guard entry and
// gets reported as a stack overflow instead of silently corrupting the
// neighboring allocation.
type Stack struct {
	// Start is the lowest usable stack address.
	Start uintptr

	// Top is the address one byte past the usable range. Stacks grow
	// downwards so this is the initial stack pointer.
	Top uintptr
}

// Pages returns the number of usable pages in the stack.
func (s Stack) Pages() uintptr {
	return (s.Top - s.Start) >> mm.PageShift
}

// CreateStack reserves a virtual region of npages usable pages plus two guard
// pages, eagerly maps the usable pages to freshly allocated frames and marks
// the guard entries.
func CreateStack(npages uintptr) (Stack, *kernel.Error) {
	if npages == 0 {
		return Stack{}, errStackInvalid
	}

	regionAddr, err := earlyReserveRegionFn((npages + 2) << mm.PageShift)
	if err != nil {
		return Stack{}, err
	}

	lowGuard := mm.PageFromAddress(regionAddr)
	highGuard := lowGuard + mm.Page(npages) + 1

	if err = mapFn(lowGuard, 0, FlagGuard); err != nil {
		return Stack{}, err
	}
	if err = mapFn(highGuard, 0, FlagGuard); err != nil {
		return Stack{}, err
	}

	for page := lowGuard + 1; page < highGuard; page++ {
		frame, err := mm.AllocFrame()
		if err != nil {
			return Stack{}, err
		}
		if err = mapFn(page, frame, FlagPresent|FlagRW|FlagNoExecute); err != nil {
			return Stack{}, err
		}
	}

	return Stack{
		Start: (lowGuard + 1).Address(),
		Top:   highGuard.Address(),
	}, nil
}

// DestroyStack unmaps the stack's usable pages, releases their frames and
// clears the guard entries. The virtual region itself is not recycled.
func DestroyStack(s Stack) *kernel.Error {
	if s.Top <= s.Start || s.Start&(mm.PageSize-1) != 0 || s.Top&(mm.PageSize-1) != 0 {
		return errStackInvalid
	}

	for page := mm.PageFromAddress(s.Start); page < mm.PageFromAddress(s.Top); page++ {
		physAddr, err := translateFn(page.Address())
		if err != nil {
			return err
		}
		if err = unmapFn(page); err != nil {
			return err
		}
		if err = mm.FreeFrame(mm.FrameFromAddress(physAddr)); err != nil {
			return err
		}
	}

	// Clear the guard markings so the entries do not masquerade as guard
	// pages for a future tenant of this address range.
	clearGuardEntry(mm.PageFromAddress(s.Start) - 1)
	clearGuardEntry(mm.PageFromAddress(s.Top))

	return nil
}

func clearGuardEntry(page mm.Page) {
	walk(page.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		if pteLevel == pageLevels-1 {
			pte.ClearFlags(FlagGuard)
			return true
		}
		return pte.HasFlags(FlagPresent)
	})
}

// translateFn is swapped by tests exercising DestroyStack.
var translateFn = Translate
