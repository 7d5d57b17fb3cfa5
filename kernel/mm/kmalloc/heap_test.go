package kmalloc

import (
	"testing"

	"hermit/kernel"
	"hermit/kernel/mm"
	"hermit/kernel/mm/pmm"
	"hermit/kernel/mm/vmm"
)

func restoreHeapFns() {
	getPagesFn = pmm.GetPages
	putPagesFn = pmm.PutPages
	mapRegionFn = vmm.MapRegion
	unmapRegionFn = vmm.UnmapRegion
	translateFn = vmm.Translate
}

func TestPalloc(t *testing.T) {
	defer restoreHeapFns()

	var gotPages uint32
	getPagesFn = func(npages uint32) (uintptr, *kernel.Error) {
		gotPages = npages
		return 0x100000, nil
	}
	mapRegionFn = func(frame mm.Frame, size uintptr, flags vmm.PageTableEntryFlag) (mm.Page, *kernel.Error) {
		if frame != mm.FrameFromAddress(0x100000) {
			t.Errorf("expected region to start at frame %x; got %x", mm.FrameFromAddress(0x100000), frame)
		}
		if flags&vmm.FlagNoExecute == 0 {
			t.Error("expected heap pages to be non-executable")
		}
		return mm.PageFromAddress(0x8000_0000), nil
	}

	addr, err := Palloc(uintptr(mm.PageSize) + 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr != 0x8000_0000 {
		t.Fatalf("expected virtual address 0x8000_0000; got %x", addr)
	}
	if gotPages != 2 {
		t.Fatalf("expected request to be rounded up to 2 pages; got %d", gotPages)
	}

	if _, err := Palloc(0); err == nil || err.Code != kernel.EInvalidArg {
		t.Fatalf("expected EInvalidArg for zero size; got %v", err)
	}
}

func TestPallocReleasesPagesOnMapFailure(t *testing.T) {
	defer restoreHeapFns()

	expErr := &kernel.Error{Module: "test", Message: "map failed"}
	getPagesFn = func(uint32) (uintptr, *kernel.Error) { return 0x100000, nil }
	mapRegionFn = func(mm.Frame, uintptr, vmm.PageTableEntryFlag) (mm.Page, *kernel.Error) {
		return 0, expErr
	}

	putCalled := false
	putPagesFn = func(physAddr uintptr, npages uint32) *kernel.Error {
		putCalled = true
		if physAddr != 0x100000 || npages != 1 {
			t.Errorf("expected release of 1 page at 0x100000; got %d pages at %x", npages, physAddr)
		}
		return nil
	}

	if _, err := Palloc(8); err != expErr {
		t.Fatalf("expected map error to propagate; got %v", err)
	}
	if !putCalled {
		t.Fatal("expected physical pages to be released after map failure")
	}
}

func TestPfree(t *testing.T) {
	defer restoreHeapFns()

	translateFn = func(virtAddr uintptr) (uintptr, *kernel.Error) {
		return 0x100000 + vmm.PageOffset(virtAddr), nil
	}

	var unmappedPages uintptr
	unmapRegionFn = func(startPage mm.Page, pageCount uintptr) *kernel.Error {
		unmappedPages = pageCount
		return nil
	}

	var putPages uint32
	putPagesFn = func(physAddr uintptr, npages uint32) *kernel.Error {
		putPages = npages
		return nil
	}

	if err := Pfree(0x8000_0000, 3*uintptr(mm.PageSize)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if unmappedPages != 3 || putPages != 3 {
		t.Fatalf("expected 3 pages unmapped and released; got %d and %d", unmappedPages, putPages)
	}

	if err := Pfree(0x8000_0001, uintptr(mm.PageSize)); err == nil || err.Code != kernel.EInvalidArg {
		t.Fatalf("expected EInvalidArg for unaligned address; got %v", err)
	}
	if err := Pfree(0x8000_0000, 0); err == nil || err.Code != kernel.EInvalidArg {
		t.Fatalf("expected EInvalidArg for zero size; got %v", err)
	}
}
