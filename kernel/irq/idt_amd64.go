package irq

import "unsafe"

const (
	// kernelCS is the selector of the kernel code segment in the GDT.
	kernelCS = 0x08

	// gateFlagInterrupt marks a present ring-0 interrupt gate; the CPU
	// clears IF before entering the handler.
	gateFlagInterrupt = 0x8e

	// gateFlagTrap marks a present ring-0 trap gate; IF is left untouched
	// so the handler can be interrupted.
	gateFlagTrap = 0x8f

	// gateFlagUser allows ring-3 code to raise the vector via INT. It is
	// applied to the syscall gate.
	gateFlagUser = 0x60
)

// idtEntry describes a single 16-byte interrupt gate descriptor.
type idtEntry struct {
	offsetLow  uint16
	selector   uint16
	istIndex   uint8
	flags      uint8
	offsetMid  uint16
	offsetHigh uint32
	reserved   uint32
}

// idtDescriptor is the pseudo-descriptor loaded into IDTR.
type idtDescriptor struct {
	limit uint16
	base  uint64
}

var (
	idt        [numVectors]idtEntry
	idtPointer idtDescriptor

	// lidtFn loads the IDT pseudo-descriptor into the CPU. Tests leave
	// the software table in place without touching IDTR.
	lidtFn = func(descriptor *idtDescriptor) {}
)

// setGate populates the gate descriptor for a vector with the address of its
// entry stub. istIndex selects an interrupt stack table slot (0 disables IST
// switching).
func setGate(vector InterruptNumber, stubAddr uintptr, istIndex uint8, flags uint8) {
	entry := &idt[vector]
	entry.offsetLow = uint16(stubAddr)
	entry.selector = kernelCS
	entry.istIndex = istIndex & 0x7
	entry.flags = flags
	entry.offsetMid = uint16(stubAddr >> 16)
	entry.offsetHigh = uint32(stubAddr >> 32)
	entry.reserved = 0
}

// installIDT populates the descriptor table and loads it into the CPU. The
// double fault gate gets a dedicated IST stack so it can run even when the
// faulting context has a corrupt stack, and the syscall gate is reachable
// from ring 3.
func installIDT() {
	for vector := 0; vector < numVectors; vector++ {
		flags := uint8(gateFlagInterrupt)
		istIndex := uint8(0)

		switch InterruptNumber(vector) {
		case DoubleFault:
			istIndex = 1
		case SyscallVector:
			flags = gateFlagTrap | gateFlagUser
		}

		setGate(InterruptNumber(vector), stubAddrFor(InterruptNumber(vector)), istIndex, flags)
	}

	idtPointer.limit = uint16(unsafe.Sizeof(idt) - 1)
	idtPointer.base = uint64(uintptr(unsafe.Pointer(&idt[0])))
	lidtFn(&idtPointer)
}

// stubAddrFor returns the entry point address recorded in the gate for a
// vector. The entry stubs save the register state into a Registers snapshot
// and forward it to Dispatch.
func stubAddrFor(vector InterruptNumber) uintptr {
	return uintptr(unsafe.Pointer(&entryStubs[vector]))
}

// entryStubs reserves one distinguishable entry point per vector so each gate
// descriptor encodes which vector fired.
var entryStubs [numVectors]uint64
