package vmm

import (
	"hermit/kernel"
	"hermit/kernel/mm"
)

// ErrInvalidMapping is returned when resolving a virtual address that no
// present page table entry translates.
var ErrInvalidMapping = &kernel.Error{Module: "vmm", Code: kernel.ENotMapped, Message: "virtual address does not point to a mapped physical page"}

// PageTableEntryFlag is a bit that can be set on a page table entry. The
// exported Flag constants name the architectural bits plus the OS-reserved
// ones this kernel claims.
type PageTableEntryFlag uintptr

// pageTableEntry packs a frame number and its attribute flags into one
// machine word, matching the in-memory layout the MMU consumes.
type pageTableEntry uintptr

// Frame extracts the physical frame the entry points to.
func (pte pageTableEntry) Frame() mm.Frame {
	return mm.Frame((uintptr(pte) & ptePhysPageMask) >> mm.PageShift)
}

// SetFrame points the entry at the given physical frame, leaving the flag
// bits untouched.
func (pte *pageTableEntry) SetFrame(frame mm.Frame) {
	*pte = pageTableEntry((uintptr(*pte) &^ ptePhysPageMask) | frame.Address())
}

// HasFlags reports whether every one of the given flags is set.
func (pte pageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return uintptr(pte)&uintptr(flags) == uintptr(flags)
}

// HasAnyFlag reports whether at least one of the given flags is set.
func (pte pageTableEntry) HasAnyFlag(flags PageTableEntryFlag) bool {
	return uintptr(pte)&uintptr(flags) != 0
}

// SetFlags sets the given flags, silently discarding bits outside the
// installable mask so the frame number cannot be clobbered.
func (pte *pageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte = pageTableEntry(uintptr(*pte) | uintptr(flags&installableFlagsMask))
}

// ClearFlags unsets the given flags.
func (pte *pageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte = pageTableEntry(uintptr(*pte) &^ uintptr(flags))
}

// pteForAddress walks down to the leaf entry translating virtAddr. The walk
// stops with ErrInvalidMapping at the first non-present level.
func pteForAddress(virtAddr uintptr) (*pageTableEntry, *kernel.Error) {
	var (
		entry *pageTableEntry
		err   *kernel.Error
	)

	walk(virtAddr, func(_ uint8, pte *pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			entry = nil
			err = ErrInvalidMapping
			return false
		}
		entry = pte
		return true
	})

	return entry, err
}
