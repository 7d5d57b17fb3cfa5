package irq

// InterruptNumber describes an x86 interrupt/exception/trap slot.
type InterruptNumber uint8

const (
	// DivideByZero occurs when dividing any number by 0 using the DIV or
	// IDIV instruction.
	DivideByZero = InterruptNumber(0)

	// NMI (non-maskable-interrupt) is a hardware interrupt that indicates
	// issues with RAM or unrecoverable hardware problems. It may also be
	// raised by the CPU when a watchdog timer is enabled.
	NMI = InterruptNumber(2)

	// Overflow occurs when an overflow occurs (e.g result of division
	// cannot fit into the registers used).
	Overflow = InterruptNumber(4)

	// BoundRangeExceeded occurs when the BOUND instruction is invoked with
	// an index out of range.
	BoundRangeExceeded = InterruptNumber(5)

	// InvalidOpcode occurs when the CPU attempts to execute an invalid or
	// undefined instruction opcode.
	InvalidOpcode = InterruptNumber(6)

	// DeviceNotAvailable occurs when the CPU attempts to execute an
	// FPU/MMX/SSE instruction while FPU/MMX/SSE support has been disabled
	// by manipulating the CR0 register. The lazy FPU switching code relies
	// on this exception to defer state restores.
	DeviceNotAvailable = InterruptNumber(7)

	// DoubleFault occurs when an unhandled exception occurs or when an
	// exception occurs within a running exception handler.
	DoubleFault = InterruptNumber(8)

	// InvalidTSS occurs when the TSS points to an invalid task segment
	// selector.
	InvalidTSS = InterruptNumber(10)

	// SegmentNotPresent occurs when the CPU attempts to invoke a present
	// gate with an invalid stack segment selector.
	SegmentNotPresent = InterruptNumber(11)

	// StackSegmentFault occurs when attempting to push/pop from a
	// non-canonical stack address or when the stack base/limit (set in
	// GDT) checks fail.
	StackSegmentFault = InterruptNumber(12)

	// GPFException occurs when a general protection fault occurs.
	GPFException = InterruptNumber(13)

	// PageFaultException occurs when a page directory table (PDT) or one
	// of its entries is not present or when a privilege and/or RW
	// protection check fails.
	PageFaultException = InterruptNumber(14)

	// FloatingPointException occurs while invoking an FP instruction while:
	//  - CR0.NE = 1 OR
	//  - an unmasked FP exception is pending
	FloatingPointException = InterruptNumber(16)

	// AlignmentCheck occurs when alignment checks are enabled and an
	// unaligmed memory access is performed.
	AlignmentCheck = InterruptNumber(17)

	// MachineCheck occurs when the CPU detects internal errors such as
	// memory-, bus- or cache-related errors.
	MachineCheck = InterruptNumber(18)

	// SIMDFloatingPointException occurs when an unmasked SSE exception
	// occurs while CR4.OSXMMEXCPT is set to 1. If the OSXMMEXCPT bit is
	// not set, SIMD FP exceptions cause InvalidOpcode exceptions instead.
	SIMDFloatingPointException = InterruptNumber(19)

	// exceptionCount is the number of slots reserved for CPU exceptions.
	exceptionCount = InterruptNumber(32)

	// IRQBase is the vector where remapped hardware interrupt lines begin.
	IRQBase = InterruptNumber(32)

	// TimerVector is the vector used by the system tick source.
	TimerVector = InterruptNumber(32)

	// RescheduleVector is the IPI vector used to kick a remote core into
	// its scheduler.
	RescheduleVector = InterruptNumber(33)

	// ShootdownVector is the IPI vector used to request a remote TLB
	// entry invalidation.
	ShootdownVector = InterruptNumber(34)

	// irqLineCount is the number of remapped hardware interrupt lines.
	irqLineCount = InterruptNumber(16)

	// SyscallVector is the software interrupt vector reserved for system
	// call entry.
	SyscallVector = InterruptNumber(128)
)

// numVectors is the total size of the interrupt descriptor table.
const numVectors = 256

// exceptionNames maps exception vectors to human-readable descriptions for
// fault reports.
var exceptionNames = [exceptionCount]string{
	0:  "divide by zero",
	1:  "debug",
	2:  "non-maskable interrupt",
	3:  "breakpoint",
	4:  "overflow",
	5:  "bound range exceeded",
	6:  "invalid opcode",
	7:  "device not available",
	8:  "double fault",
	9:  "coprocessor segment overrun",
	10: "invalid TSS",
	11: "segment not present",
	12: "stack-segment fault",
	13: "general protection fault",
	14: "page fault",
	16: "x87 floating-point exception",
	17: "alignment check",
	18: "machine check",
	19: "SIMD floating-point exception",
	20: "virtualization exception",
}

// Name returns a human-readable description for an exception vector and
// "unknown" for anything else.
func (n InterruptNumber) Name() string {
	if n < exceptionCount && exceptionNames[n] != "" {
		return exceptionNames[n]
	}
	return "unknown"
}
