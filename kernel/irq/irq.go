package irq

import (
	"hermit/kernel"
	"hermit/kernel/cpu"
	"hermit/kernel/kfmt"
	"hermit/kernel/sync"
)

// HandlerFn processes a routed interrupt. If the handler returns, any
// modifications to the supplied Registers snapshot are propagated back to the
// interrupted context.
type HandlerFn func(*Registers)

var (
	errBadVector = &kernel.Error{Module: "irq", Code: kernel.EInvalidArg, Message: "vector outside installable range"}

	handlers [numVectors]HandlerFn

	// vectorCounts tracks per-core delivery counts for each vector.
	vectorCounts [cpu.MaxCores][numVectors]sync.Int64

	// spuriousCount tracks interrupts that arrived on vectors without a
	// registered handler.
	spuriousCount sync.Int64

	// eoiFn signals end-of-interrupt to the interrupt controller after a
	// hardware interrupt handler returns.
	eoiFn = func(vector InterruptNumber) {}

	// drainSignalsFn and checkSchedulingFn run on the way out of every
	// hardware interrupt and syscall, before control returns to the
	// interrupted task. The signal and task packages install them during
	// boot.
	drainSignalsFn    func()
	checkSchedulingFn func()

	// syscallFn services software interrupts on the syscall vector. It
	// rejects every call until a syscall table is installed.
	syscallFn = unsupportedSyscall

	// panicFn is swapped by tests that exercise fatal exception paths.
	panicFn = kfmt.Panic

	errUnhandledException = &kernel.Error{Module: "irq", Code: kernel.EUnsupported, Message: "unhandled exception"}
)

// Init builds the interrupt descriptor table and loads it into the CPU. Gates
// start out routed to the default handlers; subsystems claim their vectors
// via InstallHandler afterwards.
func Init() {
	installIDT()
}

// InstallHandler routes vector to the supplied handler, replacing any
// previous registration.
func InstallHandler(vector InterruptNumber, handler HandlerFn) *kernel.Error {
	if handler == nil {
		return errBadVector
	}
	handlers[vector] = handler
	return nil
}

// UninstallHandler removes the handler for vector, reverting it to the
// default treatment (panic for exceptions, spurious accounting otherwise).
func UninstallHandler(vector InterruptNumber) {
	handlers[vector] = nil
}

// SetEOIFn installs the end-of-interrupt callback invoked after hardware
// interrupt handlers complete.
func SetEOIFn(fn func(InterruptNumber)) {
	eoiFn = fn
}

// SetSyscallHandler routes software interrupts on SyscallVector to fn. The
// handler reads the syscall number from the Info field of the register
// snapshot and reports the result through RAX.
func SetSyscallHandler(fn HandlerFn) *kernel.Error {
	if fn == nil {
		return errBadVector
	}
	syscallFn = fn
	return nil
}

// SetReturnHooks installs the callbacks that run when an interrupt hands
// control back to task context: pending signal delivery first, then a
// preemption check.
func SetReturnHooks(drainSignals, checkScheduling func()) {
	drainSignalsFn = drainSignals
	checkSchedulingFn = checkScheduling
}

// VectorCount returns the number of times vector has been delivered on the
// given core.
func VectorCount(coreID uint32, vector InterruptNumber) int64 {
	if coreID >= cpu.MaxCores {
		return 0
	}
	return vectorCounts[coreID][vector].Get()
}

// SpuriousCount returns the number of interrupts that arrived without a
// registered handler.
func SpuriousCount() int64 {
	return spuriousCount.Get()
}

// Dispatch routes an incoming interrupt to its registered handler. It is
// invoked by the per-vector entry stubs with a snapshot of the interrupted
// register state whose Info field carries the exception error code (or the
// vector number for hardware interrupts).
func Dispatch(vector InterruptNumber, regs *Registers) {
	vectorCounts[cpu.CoreID()][vector].Add(1)

	handler := handlers[vector]

	switch {
	case vector < exceptionCount:
		if handler == nil {
			unhandledException(vector, regs)
			return
		}
		handler(regs)

	case vector == SyscallVector:
		syscallFn(regs)
		returnToTask()

	default:
		if handler != nil {
			handler(regs)
		} else {
			spuriousCount.Add(1)
		}
		if vector >= IRQBase && vector < IRQBase+irqLineCount {
			eoiFn(vector)
		}
		returnToTask()
	}
}

// unsupportedSyscall reports the negated unsupported error code through the
// caller's RAX, the syscall ABI's errno convention.
func unsupportedSyscall(regs *Registers) {
	errno := -int64(kernel.EUnsupported)
	regs.RAX = uint64(errno)
}

// returnToTask runs on the way back from an interrupt or syscall to task
// context: pending signals are delivered first, then the scheduler decides
// whether the interrupted task keeps the core.
func returnToTask() {
	if drainSignalsFn != nil {
		drainSignalsFn()
	}
	if checkSchedulingFn != nil {
		checkSchedulingFn()
	}
}

// unhandledException reports a fatal exception and halts the core. Faults
// that can be attributed to a misbehaving task are expected to be claimed by
// the vmm fault handlers before reaching this point.
func unhandledException(vector InterruptNumber, regs *Registers) {
	kfmt.Printf("\nexception %d (%s), error code 0x%x\n\nRegisters:\n", uint8(vector), vector.Name(), regs.Info)
	regs.DumpTo(kfmt.GetOutputSink())
	panicFn(errUnhandledException)
}
