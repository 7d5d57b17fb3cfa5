package sync

import (
	"sync/atomic"

	"hermit/kernel/cpu"
)

// spinAttempts is the number of failed acquisition attempts before a spinning
// task calls the yield hook (when one is installed).
const spinAttempts = 100

var (
	// yieldFn is invoked while busy-waiting so another task can make
	// progress. It stays nil inside the kernel where spinning cores
	// simply pause; hosted tests substitute runtime.Gosched.
	yieldFn func()
)

// Spinlock implements a test-and-set lock where each task trying to acquire
// it busy-waits till the lock becomes available. A task holding a spinlock
// must not yield to the scheduler or allocate memory.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Any attempt to re-acquire a lock already held by the current task will cause
// a deadlock.
func (l *Spinlock) Acquire() {
	for attempt := uint32(1); !l.TryToAcquire(); attempt++ {
		cpu.Pause()
		if yieldFn != nil && attempt%spinAttempts == 0 {
			yieldFn()
		}
	}
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.SwapUint32(&l.state, 1) == 0
}

// Release relinquishes a held lock allowing other tasks to acquire it. Calling
// Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}

// freeOwner marks an IrqSpinlock without a holding core.
const freeOwner = ^uint32(0)

// IrqSpinlock is a spinlock variant that additionally masks interrupts on
// the executing core for the duration of the critical section. It is the
// only lock that may be taken from interrupt context. The lock tracks its
// holding core and may be re-acquired by it; the critical section ends when
// the lock has been released as many times as it was acquired.
type IrqSpinlock struct {
	lock Spinlock

	// owner is the id of the core holding the lock; valid while counter
	// is non-zero. The zero value of counter marks the lock as free.
	owner   uint32
	counter uint32

	// irqFlag preserves the interrupt state of the acquiring core so the
	// final Unlock can restore it. Only valid while the lock is held.
	irqFlag bool
}

// Lock disables interrupts on the executing core and acquires the lock.
// Re-acquisition by the holding core only deepens the nesting counter.
func (l *IrqSpinlock) Lock() {
	flag := cpu.DisableInterrupts()
	coreID := cpu.CoreID()

	if atomic.LoadUint32(&l.counter) > 0 && atomic.LoadUint32(&l.owner) == coreID {
		atomic.AddUint32(&l.counter, 1)
		cpu.RestoreInterrupts(flag)
		return
	}

	l.lock.Acquire()
	atomic.StoreUint32(&l.owner, coreID)
	atomic.StoreUint32(&l.counter, 1)
	l.irqFlag = flag
}

// TryLock attempts a non-blocking acquisition. On failure the interrupt flag
// is restored immediately and false is returned.
func (l *IrqSpinlock) TryLock() bool {
	flag := cpu.DisableInterrupts()
	coreID := cpu.CoreID()

	if atomic.LoadUint32(&l.counter) > 0 && atomic.LoadUint32(&l.owner) == coreID {
		atomic.AddUint32(&l.counter, 1)
		cpu.RestoreInterrupts(flag)
		return true
	}

	if !l.lock.TryToAcquire() {
		cpu.RestoreInterrupts(flag)
		return false
	}
	atomic.StoreUint32(&l.owner, coreID)
	atomic.StoreUint32(&l.counter, 1)
	l.irqFlag = flag
	return true
}

// Unlock drops one level of nesting; the final call releases the lock and
// restores the interrupt flag that was active before the matching Lock.
func (l *IrqSpinlock) Unlock() {
	if atomic.LoadUint32(&l.counter) > 1 {
		atomic.AddUint32(&l.counter, ^uint32(0))
		return
	}

	flag := l.irqFlag
	atomic.StoreUint32(&l.counter, 0)
	atomic.StoreUint32(&l.owner, freeOwner)
	l.lock.Release()
	cpu.RestoreInterrupts(flag)
}
