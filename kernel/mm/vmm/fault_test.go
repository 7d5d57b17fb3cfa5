package vmm

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"unsafe"

	"hermit/kernel"
	"hermit/kernel/cpu"
	"hermit/kernel/irq"
	"hermit/kernel/kfmt"
	"hermit/kernel/mm"
)

func TestRecoverablePageFault(t *testing.T) {
	var (
		regs       irq.Registers
		pageEntry  pageTableEntry
		origPage   = make([]byte, mm.PageSize)
		clonedPage = make([]byte, mm.PageSize)
		fakeErr    = &kernel.Error{Module: "test", Message: "something went wrong"}
	)

	defer func(origPtePtr func(uintptr) unsafe.Pointer, origKillTask func(FaultKind, uintptr), origPanic func(interface{})) {
		ptePtrFn = origPtePtr
		readCR2Fn = cpu.ReadCR2
		mm.SetFrameAllocator(nil)
		mapTemporaryFn = MapTemporary
		unmapFn = Unmap
		flushTLBEntryFn = cpu.FlushTLBEntry
		killTaskFn = origKillTask
		panicFn = origPanic
	}(ptePtrFn, killTaskFn, panicFn)

	specs := []struct {
		pteFlags   PageTableEntryFlag
		allocError *kernel.Error
		mapError   *kernel.Error
		expKilled  bool
		expPanic   bool
	}{
		// Missing page
		{0, nil, nil, true, false},
		// Page is present but CoW flag not set
		{FlagPresent, nil, nil, true, false},
		// Page is present but both CoW and RW flags set
		{FlagPresent | FlagRW | FlagCopyOnWrite, nil, nil, true, false},
		// Page is present with CoW flag set but allocating a page copy fails
		{FlagPresent | FlagCopyOnWrite, fakeErr, nil, false, true},
		// Page is present with CoW flag set but mapping the page copy fails
		{FlagPresent | FlagCopyOnWrite, nil, fakeErr, false, true},
		// Page is present with CoW flag set
		{FlagPresent | FlagCopyOnWrite, nil, nil, false, false},
	}

	ptePtrFn = func(entry uintptr) unsafe.Pointer { return unsafe.Pointer(&pageEntry) }
	readCR2Fn = func() uint64 { return uint64(uintptr(unsafe.Pointer(&origPage[0]))) }
	unmapFn = func(_ mm.Page) *kernel.Error { return nil }
	flushTLBEntryFn = func(_ uintptr) {}

	var killed, panicked bool
	killTaskFn = func(FaultKind, uintptr) { killed = true }
	panicFn = func(interface{}) { panicked = true }

	for specIndex, spec := range specs {
		t.Run(fmt.Sprint(specIndex), func(t *testing.T) {
			mapTemporaryFn = func(f mm.Frame) (mm.Page, *kernel.Error) { return mm.Page(f), spec.mapError }
			mm.SetFrameAllocator(func() (mm.Frame, *kernel.Error) {
				addr := uintptr(unsafe.Pointer(&clonedPage[0]))
				return mm.Frame(addr >> mm.PageShift), spec.allocError
			})

			for i := 0; i < len(origPage); i++ {
				origPage[i] = byte(i % 256)
				clonedPage[i] = 0
			}

			pageEntry = 0
			pageEntry.SetFlags(spec.pteFlags)
			killed, panicked = false, false

			regs.Info = 2
			pageFaultHandler(&regs)

			if killed != spec.expKilled {
				t.Errorf("expected killed=%t; got %t", spec.expKilled, killed)
			}
			if panicked != spec.expPanic {
				t.Errorf("expected panicked=%t; got %t", spec.expPanic, panicked)
			}

			if !spec.expKilled && !spec.expPanic {
				for i := 0; i < len(origPage); i++ {
					if origPage[i] != clonedPage[i] {
						t.Fatalf("expected clone page to be a copy of the original page; mismatch at index %d", i)
					}
				}
				if !pageEntry.HasFlags(FlagPresent | FlagRW) {
					t.Error("expected recovered page entry to be present and writable")
				}
				if pageEntry.HasAnyFlag(FlagCopyOnWrite) {
					t.Error("expected CoW flag to be cleared on the recovered entry")
				}
			}
		})
	}
}

func TestStackOverflowFault(t *testing.T) {
	fake := newFakePageTables()
	defer fake.install()()
	defer func(origKillTask func(FaultKind, uintptr)) {
		killTaskFn = origKillTask
		readCR2Fn = cpu.ReadCR2
	}(killTaskFn)

	guardAddr := uintptr(0x7000_0000_0000)
	if err := Map(mm.PageFromAddress(guardAddr), 0, FlagGuard); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var gotKind FaultKind
	var gotAddr uintptr
	killCount := 0
	killTaskFn = func(kind FaultKind, faultAddr uintptr) {
		gotKind, gotAddr = kind, faultAddr
		killCount++
	}
	readCR2Fn = func() uint64 { return uint64(guardAddr + 64) }

	pageFaultHandler(&irq.Registers{Info: 2})

	if killCount != 1 {
		t.Fatalf("expected the faulting task to be killed once; got %d", killCount)
	}
	if gotKind != FaultStackOverflow {
		t.Fatalf("expected FaultStackOverflow; got %d", gotKind)
	}
	if gotAddr != guardAddr+64 {
		t.Fatalf("expected fault address %x; got %x", guardAddr+64, gotAddr)
	}
}

func TestOnDemandFault(t *testing.T) {
	fake := newFakePageTables()
	defer fake.install()()
	defer func() {
		resetOnDemandRegions()
		readCR2Fn = cpu.ReadCR2
		ReservedZeroedFrame = 0
	}()
	resetOnDemandRegions()

	ReservedZeroedFrame = mm.Frame(0xfeed)
	regionStart := uintptr(0x3000_0000)
	if err := ReserveOnDemandRegion(regionStart, 4*uintptr(mm.PageSize), FlagRW); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	faultAddr := regionStart + uintptr(mm.PageSize) + 42
	readCR2Fn = func() uint64 { return uint64(faultAddr) }

	pageFaultHandler(&irq.Registers{Info: 0})

	leaf := fake.leafEntry(faultAddr)
	if !leaf.HasFlags(FlagPresent) {
		t.Fatal("expected on-demand page to be materialized")
	}
	if got := leaf.Frame(); got != ReservedZeroedFrame {
		t.Fatalf("expected page to be backed by the zeroed frame; got %x", got)
	}
	if !leaf.HasAnyFlag(FlagCopyOnWrite) || leaf.HasFlags(FlagRW) {
		t.Fatal("expected a read-only CoW mapping of the zeroed frame")
	}
}

func TestKernelSpaceFaultPanics(t *testing.T) {
	fake := newFakePageTables()
	defer fake.install()()
	defer func(origPanic func(interface{})) {
		panicFn = origPanic
		readCR2Fn = cpu.ReadCR2
	}(panicFn)

	panicked := false
	panicFn = func(interface{}) { panicked = true }
	readCR2Fn = func() uint64 { return uint64(mm.KernelSpaceStart + 0x1234) }

	pageFaultHandler(&irq.Registers{Info: 0})

	if !panicked {
		t.Fatal("expected a kernel-space fault to panic")
	}
}

func TestNonRecoverablePageFaultReasons(t *testing.T) {
	defer func(origPanic func(interface{})) {
		panicFn = origPanic
		kfmt.SetOutputSink(nil)
	}(panicFn)
	panicFn = func(interface{}) {}

	specs := []struct {
		errCode   uint64
		expReason string
	}{
		{0, "read from non-present page"},
		{1, "page protection violation (read)"},
		{2, "write to non-present page"},
		{3, "page protection violation (write)"},
		{4, "page-fault in user-mode"},
		{8, "page table has reserved bit set"},
		{16, "instruction fetch"},
		{0xbad, "unknown"},
	}

	for specIndex, spec := range specs {
		var buf bytes.Buffer
		kfmt.SetOutputSink(&buf)

		nonRecoverablePageFault(0xbadf00d, &irq.Registers{Info: spec.errCode}, errUnrecoverableFault)

		if !strings.Contains(buf.String(), spec.expReason) {
			t.Errorf("[spec %d] expected fault report to contain %q", specIndex, spec.expReason)
		}
		kfmt.SetOutputSink(nil)
	}
}

func TestGeneralProtectionFaultHandler(t *testing.T) {
	defer func(origPanic func(interface{})) {
		panicFn = origPanic
		readCR2Fn = cpu.ReadCR2
	}(panicFn)

	panicked := false
	panicFn = func(interface{}) { panicked = true }
	readCR2Fn = func() uint64 { return 0xbadf00d }

	generalProtectionFaultHandler(&irq.Registers{})

	if !panicked {
		t.Fatal("expected a general protection fault to panic")
	}
}

func TestInstallFaultHandlers(t *testing.T) {
	defer func() { handleInterruptFn = irq.InstallHandler }()

	var vectors []irq.InterruptNumber
	handleInterruptFn = func(vector irq.InterruptNumber, handler irq.HandlerFn) *kernel.Error {
		vectors = append(vectors, vector)
		return nil
	}

	installFaultHandlers()

	if len(vectors) != 2 || vectors[0] != irq.PageFaultException || vectors[1] != irq.GPFException {
		t.Fatalf("expected page fault and GPF handlers to be installed; got %v", vectors)
	}
}
