package vmm

import (
	"testing"

	"hermit/kernel"
	"hermit/kernel/mm"
)

func TestEarlyReserveRegion(t *testing.T) {
	defer func(origLastUsed uintptr) {
		earlyReserveLastUsed = origLastUsed
	}(earlyReserveLastUsed)

	earlyReserveLastUsed = 4096
	if _, err := EarlyReserveRegion(42); err != nil {
		t.Fatal(err)
	}

	if exp, got := uintptr(0), earlyReserveLastUsed; got != exp {
		t.Fatalf("expected earlyReserveLastUsed to be %d; got %d", exp, got)
	}

	if _, err := EarlyReserveRegion(1); err == nil || err.Code != kernel.EOutOfMemory {
		t.Fatalf("expected EOutOfMemory when the address space is exhausted; got %v", err)
	}
}

func resetOnDemandRegions() {
	for i := range onDemandRegions {
		onDemandRegions[i] = onDemandRegion{}
	}
}

func TestOnDemandRegionRegistry(t *testing.T) {
	defer resetOnDemandRegions()
	resetOnDemandRegions()

	start := uintptr(0x1000_0000)
	if err := ReserveOnDemandRegion(start+5, 2*uintptr(mm.PageSize), FlagRW); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Bounds are rounded outwards to page boundaries.
	specs := []struct {
		addr    uintptr
		expHit  bool
		expFlag PageTableEntryFlag
	}{
		{start, true, FlagRW},
		{start + uintptr(mm.PageSize), true, FlagRW},
		{start + 3*uintptr(mm.PageSize) - 1, true, FlagRW},
		{start + 3*uintptr(mm.PageSize), false, 0},
		{start - 1, false, 0},
	}

	for specIndex, spec := range specs {
		flags, hit := onDemandFlagsFor(spec.addr)
		if hit != spec.expHit {
			t.Errorf("[spec %d] expected hit=%t for address %x", specIndex, spec.expHit, spec.addr)
			continue
		}
		if hit && flags != spec.expFlag {
			t.Errorf("[spec %d] expected flags %x; got %x", specIndex, spec.expFlag, flags)
		}
	}

	if err := ReleaseOnDemandRegion(start); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, hit := onDemandFlagsFor(start); hit {
		t.Fatal("expected region to be gone after release")
	}
	if err := ReleaseOnDemandRegion(start); err == nil || err.Code != kernel.EInvalidArg {
		t.Fatalf("expected EInvalidArg for unknown region; got %v", err)
	}
}

func TestOnDemandRegionValidation(t *testing.T) {
	defer resetOnDemandRegions()
	resetOnDemandRegions()

	if err := ReserveOnDemandRegion(0x1000, 0, FlagRW); err == nil || err.Code != kernel.EInvalidArg {
		t.Fatalf("expected EInvalidArg for zero size; got %v", err)
	}

	for i := 0; i < maxOnDemandRegions; i++ {
		if err := ReserveOnDemandRegion(uintptr(i)<<20, uintptr(mm.PageSize), FlagRW); err != nil {
			t.Fatalf("unexpected error at region %d: %v", i, err)
		}
	}
	if err := ReserveOnDemandRegion(1<<30, uintptr(mm.PageSize), FlagRW); err == nil || err.Code != kernel.EOutOfMemory {
		t.Fatalf("expected EOutOfMemory when the registry is full; got %v", err)
	}
}
