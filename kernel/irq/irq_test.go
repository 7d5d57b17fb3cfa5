package irq

import (
	"testing"

	"hermit/kernel"
	"hermit/kernel/cpu"
)

func resetDispatchState() {
	for i := range handlers {
		handlers[i] = nil
	}
	for core := range vectorCounts {
		for vec := range vectorCounts[core] {
			vectorCounts[core][vec].Set(0)
		}
	}
	spuriousCount.Set(0)
	eoiFn = func(InterruptNumber) {}
	syscallFn = unsupportedSyscall
	drainSignalsFn = nil
	checkSchedulingFn = nil
}

func TestDispatchRoutesToHandler(t *testing.T) {
	defer resetDispatchState()
	resetDispatchState()

	var gotInfo uint64
	if err := InstallHandler(PageFaultException, func(regs *Registers) {
		gotInfo = regs.Info
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	Dispatch(PageFaultException, &Registers{Info: 2})

	if gotInfo != 2 {
		t.Fatalf("expected handler to observe error code 2; got %d", gotInfo)
	}
	if got := VectorCount(cpu.CoreID(), PageFaultException); got != 1 {
		t.Fatalf("expected vector count 1; got %d", got)
	}
}

func TestInstallHandlerValidation(t *testing.T) {
	defer resetDispatchState()
	resetDispatchState()

	if err := InstallHandler(TimerVector, nil); err == nil || err.Code != kernel.EInvalidArg {
		t.Fatalf("expected EInvalidArg for nil handler; got %v", err)
	}
}

func TestDispatchHardwareInterrupt(t *testing.T) {
	defer resetDispatchState()
	resetDispatchState()

	var calls []string
	InstallHandler(TimerVector, func(*Registers) {
		calls = append(calls, "handler")
	})
	SetEOIFn(func(vector InterruptNumber) {
		if vector != TimerVector {
			t.Errorf("expected EOI for vector %d; got %d", TimerVector, vector)
		}
		calls = append(calls, "eoi")
	})
	SetReturnHooks(
		func() { calls = append(calls, "signals") },
		func() { calls = append(calls, "scheduling") },
	)

	Dispatch(TimerVector, &Registers{Info: uint64(TimerVector)})

	exp := []string{"handler", "eoi", "signals", "scheduling"}
	if len(calls) != len(exp) {
		t.Fatalf("expected calls %v; got %v", exp, calls)
	}
	for i, step := range exp {
		if calls[i] != step {
			t.Fatalf("expected calls %v; got %v", exp, calls)
		}
	}
}

func TestDispatchSpuriousInterrupt(t *testing.T) {
	defer resetDispatchState()
	resetDispatchState()

	Dispatch(IRQBase+7, &Registers{})

	if got := SpuriousCount(); got != 1 {
		t.Fatalf("expected spurious count 1; got %d", got)
	}
}

func TestDispatchSyscallVector(t *testing.T) {
	defer resetDispatchState()
	resetDispatchState()

	eoiCalled := false
	SetEOIFn(func(InterruptNumber) { eoiCalled = true })

	// without an installed table every syscall is rejected through RAX,
	// never counted as spurious
	regs := Registers{Info: 39}
	Dispatch(SyscallVector, &regs)
	if got := SpuriousCount(); got != 0 {
		t.Fatalf("expected no spurious accounting for a syscall; got %d", got)
	}
	expErrno := -int64(kernel.EUnsupported)
	if exp := uint64(expErrno); regs.RAX != exp {
		t.Fatalf("expected RAX %x for an unsupported syscall; got %x", exp, regs.RAX)
	}

	var gotNum uint64
	if err := SetSyscallHandler(func(regs *Registers) {
		gotNum = regs.Info
		regs.RAX = 0
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := SetSyscallHandler(nil); err == nil || err.Code != kernel.EInvalidArg {
		t.Fatalf("expected EInvalidArg for a nil syscall handler; got %v", err)
	}

	returned := false
	SetReturnHooks(func() {}, func() { returned = true })

	regs = Registers{Info: 39}
	Dispatch(SyscallVector, &regs)

	if gotNum != 39 {
		t.Fatalf("expected the handler to observe syscall number 39; got %d", gotNum)
	}
	if regs.RAX != 0 {
		t.Fatalf("expected RAX 0 from the installed handler; got %x", regs.RAX)
	}
	if eoiCalled {
		t.Fatal("expected no EOI for a software interrupt vector")
	}
	if !returned {
		t.Fatal("expected the return-to-task hooks to run after the syscall")
	}
}

func TestUnhandledExceptionPanics(t *testing.T) {
	defer func() {
		panicFn = origPanicFn
		resetDispatchState()
	}()
	resetDispatchState()

	var panicked bool
	panicFn = func(interface{}) { panicked = true }

	Dispatch(InvalidOpcode, &Registers{})

	if !panicked {
		t.Fatal("expected unhandled exception to panic")
	}
}

func TestUninstallHandler(t *testing.T) {
	defer resetDispatchState()
	resetDispatchState()

	InstallHandler(IRQBase+3, func(*Registers) {
		t.Fatal("expected handler to be uninstalled")
	})
	UninstallHandler(IRQBase + 3)

	Dispatch(IRQBase+3, &Registers{})

	if got := SpuriousCount(); got != 1 {
		t.Fatalf("expected spurious count 1; got %d", got)
	}
}

var origPanicFn = panicFn
