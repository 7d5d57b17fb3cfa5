package vmm

import (
	"hermit/kernel"
	"hermit/kernel/cpu"
	"hermit/kernel/irq"
	"hermit/kernel/kfmt"
	"hermit/kernel/mm"
)

// FaultKind classifies a recoverable-by-termination page fault.
type FaultKind uint8

const (
	// FaultSegV is an access to an address with no valid mapping or
	// registered region.
	FaultSegV FaultKind = iota

	// FaultStackOverflow is an access that landed on a stack guard page.
	FaultStackOverflow
)

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	readCR2Fn         = cpu.ReadCR2
	handleInterruptFn = irq.InstallHandler

	// killTaskFn terminates the task whose access faulted. Until the task
	// subsystem installs the real implementation any such fault is fatal.
	killTaskFn = func(kind FaultKind, faultAddr uintptr) {
		panicFn(errUnrecoverableFault)
	}

	panicFn = kfmt.Panic

	errUnrecoverableFault = &kernel.Error{Module: "vmm", Code: kernel.ESegFault, Message: "page/gpf fault"}
)

// SetFaultTaskKiller installs the function used to terminate tasks that
// trigger unrecoverable-for-them page faults.
func SetFaultTaskKiller(fn func(FaultKind, uintptr)) {
	killTaskFn = fn
}

func installFaultHandlers() {
	handleInterruptFn(irq.PageFaultException, pageFaultHandler)
	handleInterruptFn(irq.GPFException, generalProtectionFaultHandler)
}

// pageFaultHandler is invoked when a PDT or PDT-entry is not present or when a
// RW protection check fails. Faults are resolved in the following order:
// stack guard hits terminate the task, copy-on-write pages get a private
// copy, accesses inside registered on-demand regions get a lazily
// materialized page, kernel-space faults are fatal and anything else
// terminates the task with a segmentation fault.
func pageFaultHandler(regs *irq.Registers) {
	var (
		faultAddress = uintptr(readCR2Fn())
		faultPage    = mm.PageFromAddress(faultAddress)
		pageEntry    *pageTableEntry
	)

	// Lookup entry for the page where the fault occurred. The leaf entry
	// is recorded even when non-present so guard markings stay visible.
	walk(faultPage.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		if pteLevel == pageLevels-1 {
			pageEntry = pte
			return true
		}
		return pte.HasFlags(FlagPresent)
	})

	if pageEntry != nil && !pageEntry.HasFlags(FlagPresent) && pageEntry.HasAnyFlag(FlagGuard) {
		kfmt.Printf("\nstack overflow: access to guard page at 0x%16x\n", faultAddress)
		killTaskFn(FaultStackOverflow, faultAddress)
		return
	}

	// CoW is supported for RO pages with the CoW flag set
	if pageEntry != nil && pageEntry.HasFlags(FlagPresent) && !pageEntry.HasFlags(FlagRW) && pageEntry.HasAnyFlag(FlagCopyOnWrite) {
		var (
			copy    mm.Frame
			tmpPage mm.Page
			err     *kernel.Error
		)

		if copy, err = mm.AllocFrame(); err != nil {
			nonRecoverablePageFault(faultAddress, regs, err)
		} else if tmpPage, err = mapTemporaryFn(copy); err != nil {
			nonRecoverablePageFault(faultAddress, regs, err)
		} else {
			// Copy page contents, mark as RW and remove CoW flag
			mm.CopyRegion(faultPage.Address(), tmpPage.Address(), mm.PageSize)
			_ = unmapFn(tmpPage)

			// Update mapping to point to the new frame, flag it as RW and
			// remove the CoW flag
			pageEntry.ClearFlags(FlagCopyOnWrite)
			pageEntry.SetFlags(FlagPresent | FlagRW)
			pageEntry.SetFrame(copy)
			flushTLBEntryFn(faultPage.Address())

			// Fault recovered; retry the instruction that caused the fault
		}
		return
	}

	// Accesses inside a registered on-demand region get the zeroed frame
	// mapped read-only with CoW; a write fault on it is then resolved by
	// the CoW path above.
	if flags, ok := onDemandFlagsFor(faultAddress); ok {
		mapFlags := (flags &^ FlagRW) | FlagPresent | FlagCopyOnWrite
		if err := mapFn(faultPage, ReservedZeroedFrame, mapFlags); err != nil {
			nonRecoverablePageFault(faultAddress, regs, err)
		}
		return
	}

	if faultAddress >= mm.KernelSpaceStart {
		nonRecoverablePageFault(faultAddress, regs, errUnrecoverableFault)
		return
	}

	kfmt.Printf("\nsegmentation fault: access to unmapped address 0x%16x\n", faultAddress)
	killTaskFn(FaultSegV, faultAddress)
}

// generalProtectionFaultHandler is invoked for various reasons:
// - segment errors (privilege, type or limit violations)
// - executing privileged instructions outside ring-0
// - attempts to access reserved or unimplemented CPU registers
func generalProtectionFaultHandler(regs *irq.Registers) {
	kfmt.Printf("\nGeneral protection fault while accessing address: 0x%x\n", readCR2Fn())
	kfmt.Printf("Registers:\n")
	regs.DumpTo(kfmt.GetOutputSink())

	panicFn(errUnrecoverableFault)
}

func nonRecoverablePageFault(faultAddress uintptr, regs *irq.Registers, err *kernel.Error) {
	kfmt.Printf("\nPage fault while accessing address: 0x%16x\nReason: ", faultAddress)
	switch {
	case regs.Info == 0:
		kfmt.Printf("read from non-present page")
	case regs.Info == 1:
		kfmt.Printf("page protection violation (read)")
	case regs.Info == 2:
		kfmt.Printf("write to non-present page")
	case regs.Info == 3:
		kfmt.Printf("page protection violation (write)")
	case regs.Info == 4:
		kfmt.Printf("page-fault in user-mode")
	case regs.Info == 8:
		kfmt.Printf("page table has reserved bit set")
	case regs.Info == 16:
		kfmt.Printf("instruction fetch")
	default:
		kfmt.Printf("unknown")
	}

	kfmt.Printf("\n\nRegisters:\n")
	regs.DumpTo(kfmt.GetOutputSink())

	panicFn(err)
}
