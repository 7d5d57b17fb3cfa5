package vmm

import (
	"testing"
	"unsafe"

	"hermit/kernel"
	"hermit/kernel/mm"
)

// fakePageTables materializes page table entries on demand so arbitrary
// sequences of Map/Unmap/Translate calls and fault handler invocations can be
// exercised without a live MMU. The recursive-mapping arithmetic in walk()
// produces a unique entry address per (virtual address, level) pair, which is
// used as the lookup key.
type fakePageTables struct {
	entries map[uintptr]*pageTableEntry

	nextFrame   mm.Frame
	flushCount  int
	scratchPage [mm.PageSize]byte
}

func newFakePageTables() *fakePageTables {
	return &fakePageTables{
		entries:   make(map[uintptr]*pageTableEntry),
		nextFrame: mm.Frame(0x1000),
	}
}

// install redirects the vmm package hooks at the fake tables and returns a
// restore function for a deferred call.
func (f *fakePageTables) install() func() {
	origPtePtr, origNextAddr, origFlush := ptePtrFn, nextAddrFn, flushTLBEntryFn

	ptePtrFn = func(entryAddr uintptr) unsafe.Pointer {
		entry, ok := f.entries[entryAddr]
		if !ok {
			entry = new(pageTableEntry)
			f.entries[entryAddr] = entry
		}
		return unsafe.Pointer(entry)
	}
	nextAddrFn = func(uintptr) uintptr {
		return uintptr(unsafe.Pointer(&f.scratchPage[0]))
	}
	flushTLBEntryFn = func(uintptr) {
		f.flushCount++
	}
	mm.SetFrameAllocator(func() (mm.Frame, *kernel.Error) {
		frame := f.nextFrame
		f.nextFrame++
		return frame, nil
	})
	mm.SetFrameReleaser(func(mm.Frame) *kernel.Error { return nil })

	return func() {
		ptePtrFn, nextAddrFn, flushTLBEntryFn = origPtePtr, origNextAddr, origFlush
		mm.SetFrameAllocator(nil)
		mm.SetFrameReleaser(nil)
	}
}

// leafEntry returns the level-3 entry for virtAddr without modifying the
// fake tables.
func (f *fakePageTables) leafEntry(virtAddr uintptr) *pageTableEntry {
	var leaf *pageTableEntry
	walk(virtAddr, func(pteLevel uint8, pte *pageTableEntry) bool {
		if pteLevel == pageLevels-1 {
			leaf = pte
		}
		return true
	})
	return leaf
}

func TestMapAndTranslate(t *testing.T) {
	fake := newFakePageTables()
	defer fake.install()()

	virtAddr := uintptr(0x4000_0000_0000)
	frame := mm.Frame(0xbeef)

	if err := Map(mm.PageFromAddress(virtAddr), frame, FlagPresent|FlagRW); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	physAddr, err := Translate(virtAddr + 123)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exp := frame.Address() + 123; physAddr != exp {
		t.Fatalf("expected physical address %x; got %x", exp, physAddr)
	}

	if fake.flushCount != 1 {
		t.Fatalf("expected 1 TLB flush; got %d", fake.flushCount)
	}
}

func TestMapConflictAndRemap(t *testing.T) {
	fake := newFakePageTables()
	defer fake.install()()

	page := mm.PageFromAddress(uintptr(0x4000_0000_0000))

	if err := Map(page, mm.Frame(1), FlagPresent|FlagRW); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Mapping the same page again must be rejected.
	if err := Map(page, mm.Frame(2), FlagPresent|FlagRW); err == nil || err.Code != kernel.EBusy {
		t.Fatalf("expected EBusy on mapping conflict; got %v", err)
	}

	// Unless the caller explicitly asks for a remap.
	if err := Map(page, mm.Frame(2), FlagPresent|FlagRW|FlagRemap); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	leaf := fake.leafEntry(page.Address())
	if got := leaf.Frame(); got != mm.Frame(2) {
		t.Fatalf("expected remapped frame 2; got %d", got)
	}
	if leaf.HasAnyFlag(FlagRemap) {
		t.Fatal("expected FlagRemap to be stripped from the installed entry")
	}
}

func TestTranslateUnmappedAddress(t *testing.T) {
	fake := newFakePageTables()
	defer fake.install()()

	if _, err := Translate(uintptr(0x2000_0000_0000)); err == nil || err.Code != kernel.ENotMapped {
		t.Fatalf("expected ENotMapped; got %v", err)
	}
}

func TestUnmap(t *testing.T) {
	fake := newFakePageTables()
	defer fake.install()()

	virtAddr := uintptr(0x4000_0000_0000)
	page := mm.PageFromAddress(virtAddr)

	if err := Unmap(page); err == nil || err.Code != kernel.ENotMapped {
		t.Fatalf("expected ENotMapped when unmapping an unmapped page; got %v", err)
	}

	if err := Map(page, mm.Frame(7), FlagPresent|FlagRW); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Unmap(page); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := Translate(virtAddr); err == nil || err.Code != kernel.ENotMapped {
		t.Fatalf("expected ENotMapped after Unmap; got %v", err)
	}
}

func TestUnmapRegionShootdown(t *testing.T) {
	fake := newFakePageTables()
	defer fake.install()()

	origShootdown := ipiShootdownFn
	defer func() { ipiShootdownFn = origShootdown }()

	var shootdowns []uintptr
	ipiShootdownFn = func(virtAddr uintptr) {
		shootdowns = append(shootdowns, virtAddr)
	}

	startPage := mm.PageFromAddress(uintptr(0x4000_0000_0000))
	for page := startPage; page < startPage+4; page++ {
		if err := Map(page, mm.Frame(page), FlagPresent|FlagRW); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if err := UnmapRegion(startPage, 4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(shootdowns) != 4 {
		t.Fatalf("expected 4 shootdown broadcasts; got %d", len(shootdowns))
	}
	for i, addr := range shootdowns {
		if exp := (startPage + mm.Page(i)).Address(); addr != exp {
			t.Fatalf("shootdown %d: expected address %x; got %x", i, exp, addr)
		}
	}
}

func TestMapRegion(t *testing.T) {
	defer func() {
		mapFn = Map
		earlyReserveRegionFn = EarlyReserveRegion
	}()

	t.Run("success", func(t *testing.T) {
		mapCallCount := 0
		mapFn = func(_ mm.Page, _ mm.Frame, flags PageTableEntryFlag) *kernel.Error {
			mapCallCount++
			return nil
		}

		earlyReserveRegionCallCount := 0
		earlyReserveRegionFn = func(_ uintptr) (uintptr, *kernel.Error) {
			earlyReserveRegionCallCount++
			return 0xf00, nil
		}

		if _, err := MapRegion(mm.Frame(0xdf0000), 4097, FlagPresent|FlagRW); err != nil {
			t.Fatal(err)
		}

		if exp := 2; mapCallCount != exp {
			t.Errorf("expected Map to be called %d time(s); got %d", exp, mapCallCount)
		}

		if exp := 1; earlyReserveRegionCallCount != exp {
			t.Errorf("expected EarlyReserveRegion to be called %d time(s); got %d", exp, earlyReserveRegionCallCount)
		}
	})

	t.Run("EarlyReserveRegion fails", func(t *testing.T) {
		expErr := &kernel.Error{Module: "test", Message: "out of address space"}

		earlyReserveRegionFn = func(_ uintptr) (uintptr, *kernel.Error) {
			return 0, expErr
		}

		if _, err := MapRegion(mm.Frame(0xdf0000), 128000, FlagPresent|FlagRW); err != expErr {
			t.Fatalf("expected error: %v; got %v", expErr, err)
		}
	})

	t.Run("Map fails", func(t *testing.T) {
		expErr := &kernel.Error{Module: "test", Message: "map failed"}

		mapFn = func(_ mm.Page, _ mm.Frame, flags PageTableEntryFlag) *kernel.Error {
			return expErr
		}
		earlyReserveRegionFn = func(_ uintptr) (uintptr, *kernel.Error) {
			return 0xf00, nil
		}

		if _, err := MapRegion(mm.Frame(0xdf0000), 128000, FlagPresent|FlagRW); err != expErr {
			t.Fatalf("expected error: %v; got %v", expErr, err)
		}
	})
}

func TestIdentityMapRegion(t *testing.T) {
	defer func() { mapFn = Map }()

	var mappedPages []mm.Page
	mapFn = func(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error {
		if mm.Frame(page) != frame {
			t.Errorf("expected identity mapping; got page %d -> frame %d", page, frame)
		}
		mappedPages = append(mappedPages, page)
		return nil
	}

	startPage, err := IdentityMapRegion(mm.Frame(0x100), 2*uintptr(mm.PageSize)+1, FlagPresent)
	if err != nil {
		t.Fatal(err)
	}
	if startPage != mm.Page(0x100) {
		t.Fatalf("expected start page 0x100; got %x", startPage)
	}
	if len(mappedPages) != 3 {
		t.Fatalf("expected 3 mapped pages; got %d", len(mappedPages))
	}
}

func TestReserveZeroedFrameProtection(t *testing.T) {
	fake := newFakePageTables()
	defer fake.install()()
	defer func() {
		protectReservedZeroedPage = false
		ReservedZeroedFrame = 0
	}()

	// reserveZeroedFrame needs a dereferenceable scratch mapping; redirect
	// the temporary mapping at a heap page.
	var scratch [2 * mm.PageSize]byte
	scratchAddr := (uintptr(unsafe.Pointer(&scratch[0])) + mm.PageSize - 1) & ^(mm.PageSize - 1)
	origMapTemporary := mapTemporaryFn
	origUnmap := unmapFn
	defer func() { mapTemporaryFn, unmapFn = origMapTemporary, origUnmap }()
	mapTemporaryFn = func(mm.Frame) (mm.Page, *kernel.Error) {
		return mm.PageFromAddress(scratchAddr), nil
	}
	unmapFn = func(mm.Page) *kernel.Error { return nil }

	if err := reserveZeroedFrame(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := Map(mm.Page(0x8000), ReservedZeroedFrame, FlagPresent|FlagRW); err == nil || err.Code != kernel.EInvalidArg {
		t.Fatalf("expected EInvalidArg when RW-mapping the zeroed frame; got %v", err)
	}
	if err := Map(mm.Page(0x8000), ReservedZeroedFrame, FlagPresent|FlagCopyOnWrite); err != nil {
		t.Fatalf("unexpected error for CoW mapping of the zeroed frame: %v", err)
	}
	if _, err := MapTemporary(ReservedZeroedFrame); err == nil || err.Code != kernel.EInvalidArg {
		t.Fatalf("expected EInvalidArg when temp-mapping the zeroed frame; got %v", err)
	}
}
