package task

import (
	"hermit/kernel/cpu"
	"hermit/kernel/irq"
)

// FPU contexts are handed over lazily: the context switch raises the
// device-not-available trap instead of saving and restoring the register
// file eagerly, and only tasks that actually touched the FPU pay for it.
var (
	// fpuOwner remembers which task's FPU state is live on each core.
	fpuOwner [cpu.MaxCores]ID

	// saveFPUFn / restoreFPUFn move the FPU register file to and from a
	// task context. Installed by the boot stub.
	saveFPUFn    = func(id ID) {}
	restoreFPUFn = func(id ID) {}

	// clearFPUTrapFn re-enables FPU instructions after the trap handler
	// restored the proper context.
	clearFPUTrapFn = func() {}
)

// fpuTrapHandler runs when a task executes its first FPU instruction since
// being switched in. It retires the previous owner's register file, loads
// the current task's and marks the task as an FPU user so later traps can
// tell a fresh context from a restored one.
func fpuTrapHandler(_ *irq.Registers) {
	clearFPUTrapFn()

	coreID := cpu.CoreID()
	rq := &runQueues[coreID]
	rq.lock.Lock()
	cur := bySlot(rq.current)
	rq.lock.Unlock()
	if cur == nil {
		return
	}

	if owner := fpuOwner[coreID]; owner != cur.id && owner != 0 {
		if prev, err := byID(owner); err == nil && prev.usedFPU {
			saveFPUFn(owner)
		}
	}

	if cur.usedFPU {
		restoreFPUFn(cur.id)
	}
	cur.usedFPU = true
	fpuOwner[coreID] = cur.id
}
