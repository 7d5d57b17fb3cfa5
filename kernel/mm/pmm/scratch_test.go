package pmm

import (
	"testing"
	"unsafe"

	"hermit/kernel"
	"hermit/kernel/mm"
)

// installArenaMapper points the scratch mapper at a heap-backed arena that
// stands in for physical memory starting at physBase.
func installArenaMapper(t *testing.T, arena []byte, physBase uintptr) func() {
	t.Helper()

	origMap, origUnmap := mapScratchFn, unmapScratchFn
	mapScratchFn = func(physAddr uintptr) (uintptr, *kernel.Error) {
		offset := physAddr - physBase
		if offset >= uintptr(len(arena)) {
			t.Fatalf("scratch map request outside arena: %x", physAddr)
		}
		return uintptr(unsafe.Pointer(&arena[offset])), nil
	}
	unmapScratchFn = func(uintptr) {}

	return func() {
		mapScratchFn, unmapScratchFn = origMap, origUnmap
	}
}

func TestGetZeroedPage(t *testing.T) {
	defer func() { frameAllocator = bitmapAllocator{} }()
	if err := frameAllocator.init(testBootInfo()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	arena := make([]byte, 0x100000)
	for i := range arena {
		arena[i] = 0xff
	}
	defer installArenaMapper(t, arena, 0x100000)()

	physAddr, err := GetZeroedPage()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	offset := physAddr - 0x100000
	for i := uintptr(0); i < mm.PageSize; i++ {
		if arena[offset+i] != 0 {
			t.Fatalf("expected byte %d of returned page to be zeroed; got %x", i, arena[offset+i])
		}
	}
}

func TestCopyPage(t *testing.T) {
	defer func() { frameAllocator = bitmapAllocator{} }()
	if err := frameAllocator.init(testBootInfo()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	arena := make([]byte, 0x100000)
	defer installArenaMapper(t, arena, 0x100000)()

	src, err := GetPage()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dest, err := GetPage()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := uintptr(0); i < mm.PageSize; i++ {
		arena[src-0x100000+i] = byte(i)
	}

	if err = CopyPage(dest, src); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := uintptr(0); i < mm.PageSize; i++ {
		if got := arena[dest-0x100000+i]; got != byte(i) {
			t.Fatalf("expected byte %d of dest page to be %x; got %x", i, byte(i), got)
		}
	}

	if err = CopyPage(dest+123, src); err == nil || err.Code != kernel.EInvalidArg {
		t.Fatalf("expected EInvalidArg for unaligned dest; got %v", err)
	}
}
