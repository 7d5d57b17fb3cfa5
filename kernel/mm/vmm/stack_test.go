package vmm

import (
	"testing"

	"hermit/kernel"
	"hermit/kernel/mm"
)

func TestCreateStack(t *testing.T) {
	fake := newFakePageTables()
	defer fake.install()()

	defer func(origLastUsed uintptr) {
		earlyReserveRegionFn = EarlyReserveRegion
		earlyReserveLastUsed = origLastUsed
	}(earlyReserveLastUsed)

	regionBase := uintptr(0x6000_0000_0000)
	earlyReserveRegionFn = func(size uintptr) (uintptr, *kernel.Error) {
		if exp := uintptr(6) << mm.PageShift; size != exp {
			t.Errorf("expected region reservation of %d bytes; got %d", exp, size)
		}
		return regionBase, nil
	}

	stack, err := CreateStack(4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if exp := regionBase + uintptr(mm.PageSize); stack.Start != exp {
		t.Fatalf("expected stack start %x; got %x", exp, stack.Start)
	}
	if exp := regionBase + 5*uintptr(mm.PageSize); stack.Top != exp {
		t.Fatalf("expected stack top %x; got %x", exp, stack.Top)
	}
	if got := stack.Pages(); got != 4 {
		t.Fatalf("expected 4 usable pages; got %d", got)
	}

	// Guard entries bracket the usable range and are not present.
	for _, guardAddr := range []uintptr{regionBase, stack.Top} {
		leaf := fake.leafEntry(guardAddr)
		if leaf.HasFlags(FlagPresent) {
			t.Errorf("expected guard entry at %x to be non-present", guardAddr)
		}
		if !leaf.HasAnyFlag(FlagGuard) {
			t.Errorf("expected guard entry at %x to carry FlagGuard", guardAddr)
		}
	}

	// Usable pages are mapped RW and non-executable.
	for addr := stack.Start; addr < stack.Top; addr += uintptr(mm.PageSize) {
		leaf := fake.leafEntry(addr)
		if !leaf.HasFlags(FlagPresent | FlagRW) {
			t.Errorf("expected stack page at %x to be present and writable", addr)
		}
		if !leaf.HasAnyFlag(FlagNoExecute) {
			t.Errorf("expected stack page at %x to be non-executable", addr)
		}
	}
}

func TestCreateStackValidation(t *testing.T) {
	if _, err := CreateStack(0); err == nil || err.Code != kernel.EInvalidArg {
		t.Fatalf("expected EInvalidArg for zero-page stack; got %v", err)
	}
}

func TestDestroyStack(t *testing.T) {
	fake := newFakePageTables()
	defer fake.install()()

	defer func(origLastUsed uintptr) {
		earlyReserveRegionFn = EarlyReserveRegion
		earlyReserveLastUsed = origLastUsed
	}(earlyReserveLastUsed)

	regionBase := uintptr(0x6000_0000_0000)
	earlyReserveRegionFn = func(uintptr) (uintptr, *kernel.Error) {
		return regionBase, nil
	}

	freedFrames := 0
	mm.SetFrameReleaser(func(mm.Frame) *kernel.Error {
		freedFrames++
		return nil
	})

	stack, err := CreateStack(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err = DestroyStack(stack); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if freedFrames != 2 {
		t.Fatalf("expected 2 freed frames; got %d", freedFrames)
	}

	for addr := stack.Start; addr < stack.Top; addr += uintptr(mm.PageSize) {
		if _, err := Translate(addr); err == nil {
			t.Errorf("expected stack page at %x to be unmapped", addr)
		}
	}

	// The guard markings must be gone as well.
	for _, guardAddr := range []uintptr{stack.Start - uintptr(mm.PageSize), stack.Top} {
		if fake.leafEntry(guardAddr).HasAnyFlag(FlagGuard) {
			t.Errorf("expected guard entry at %x to be cleared", guardAddr)
		}
	}
}

func TestDestroyStackValidation(t *testing.T) {
	specs := []Stack{
		{Start: 0x2000, Top: 0x1000},
		{Start: 0x2001, Top: 0x4000},
		{Start: 0x2000, Top: 0x4001},
	}

	for specIndex, spec := range specs {
		if err := DestroyStack(spec); err == nil || err.Code != kernel.EInvalidArg {
			t.Errorf("[spec %d] expected EInvalidArg; got %v", specIndex, err)
		}
	}
}
