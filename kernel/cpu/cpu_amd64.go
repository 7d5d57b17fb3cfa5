// Package cpu provides access to per-core processor state: the logical core
// identifier, the interrupt flag and a handful of privileged instructions.
//
// Hardware touchpoints are exposed as package-level function variables. The
// platform entry code installs the privileged implementations at boot; the
// defaults model a single-core machine so the kernel packages remain fully
// exercisable in a hosted test run.
package cpu

import "sync/atomic"

// MaxCores defines the maximum number of logical cores supported by the
// kernel. Per-core state is kept in fixed arrays indexed by core id.
const MaxCores = 64

var (
	// onlineCores tracks the number of cores that completed their boot
	// sequence. The boot core is always online.
	onlineCores uint32 = 1

	// irqEnabled holds the per-core interrupt flag; non-zero means the
	// core accepts maskable interrupts.
	irqEnabled [MaxCores]uint32

	// coreIDFn reports the id of the executing core. The boot stub
	// replaces it with a GS-relative lookup once the cores are up.
	coreIDFn = func() uint32 { return 0 }

	// haltFn idles the executing core until the next interrupt.
	haltFn = func() {
		for {
			Pause()
		}
	}

	// rdtscFn reads the timestamp counter. The default advances a
	// monotonic software counter.
	rdtscFn = defaultRdtsc

	softTsc uint64

	// cr2 mirrors the per-core CR2 register which holds the faulting
	// address of the most recent page fault.
	cr2 [MaxCores]uint64
)

func defaultRdtsc() uint64 {
	return atomic.AddUint64(&softTsc, 1)
}

func init() {
	// interrupts start enabled on the boot core
	atomic.StoreUint32(&irqEnabled[0], 1)
}

// CoreID returns the id of the executing core.
func CoreID() uint32 {
	return coreIDFn()
}

// CoreCount returns the number of online cores.
func CoreCount() uint32 {
	return atomic.LoadUint32(&onlineCores)
}

// SetCoreCount records the number of online cores as reported by the boot
// loader and marks their interrupt flag as enabled.
func SetCoreCount(count uint32) {
	if count == 0 {
		count = 1
	} else if count > MaxCores {
		count = MaxCores
	}

	atomic.StoreUint32(&onlineCores, count)
	for id := uint32(0); id < count; id++ {
		atomic.StoreUint32(&irqEnabled[id], 1)
	}
}

// InterruptsEnabled returns true if the executing core currently accepts
// maskable interrupts.
func InterruptsEnabled() bool {
	return atomic.LoadUint32(&irqEnabled[CoreID()]) != 0
}

// DisableInterrupts masks maskable interrupts on the executing core and
// returns the previous state of the interrupt flag so it can be restored by
// a matching RestoreInterrupts call. This pairing is what makes nested
// critical sections safe.
func DisableInterrupts() bool {
	prev := atomic.SwapUint32(&irqEnabled[CoreID()], 0)
	return prev != 0
}

// RestoreInterrupts restores the interrupt flag saved by DisableInterrupts.
func RestoreInterrupts(enabled bool) {
	if enabled {
		atomic.StoreUint32(&irqEnabled[CoreID()], 1)
	}
}

// EnableInterrupts unconditionally enables maskable interrupts on the
// executing core.
func EnableInterrupts() {
	atomic.StoreUint32(&irqEnabled[CoreID()], 1)
}

// Halt idles the executing core until the next interrupt arrives.
func Halt() {
	haltFn()
}

// Pause hints to the core that it is inside a busy-wait loop.
func Pause() {}

// Rdtsc returns the current value of the timestamp counter.
func Rdtsc() uint64 {
	return rdtscFn()
}

// ReadCR2 returns the faulting address recorded for the executing core by
// the most recent page fault.
func ReadCR2() uint64 {
	return atomic.LoadUint64(&cr2[CoreID()])
}

// SetCR2 records a faulting address for the executing core. It is invoked by
// the interrupt trampoline before the page fault handler runs.
func SetCR2(addr uint64) {
	atomic.StoreUint64(&cr2[CoreID()], addr)
}

// FlushTLBEntry invalidates the cached translation for a virtual address on
// the executing core.
func FlushTLBEntry(virtAddr uintptr) {
	flushTLBEntryFn(virtAddr)
}

var flushTLBEntryFn = func(virtAddr uintptr) {}

// SendIPI delivers an inter-processor interrupt with the given vector to the
// target core. The default implementation is a no-op until the platform
// wires in the local APIC.
func SendIPI(coreID uint32, vector uint8) {
	sendIPIFn(coreID, vector)
}

var sendIPIFn = func(coreID uint32, vector uint8) {}
