package task

import (
	"hermit/kernel"
	"hermit/kernel/cpu"
	"hermit/kernel/kfmt"
	"hermit/kernel/mm/vmm"
)

var (
	// switchContextFn performs the low level stack switch: it stores the
	// outgoing stack pointer through oldSP and resumes execution on
	// newSP. The boot stub installs the privileged implementation; the
	// default leaves the scheduler bookkeeping exercisable in hosted
	// runs where every task shares one stack.
	switchContextFn = func(oldSP *uintptr, newSP uintptr) {}

	// discardSP receives the outgoing stack pointer when the scheduler
	// switches away from a core that never ran a task before.
	discardSP uintptr

	errIdleExit = &kernel.Error{Module: "task", Code: kernel.EInvalidArg, Message: "idle task attempted to exit"}
)

// Current returns the task executing on the calling core.
func Current() *Task {
	flags := cpu.DisableInterrupts()
	rq := &runQueues[cpu.CoreID()]
	rq.lock.Lock()
	t := bySlot(rq.current)
	rq.lock.Unlock()
	cpu.RestoreInterrupts(flags)
	return t
}

// Schedule selects the highest priority ready task on the calling core and
// switches to it. A running task that is neither blocked nor finished is
// pushed back to its ready queue first, so equal priority tasks round-robin.
func Schedule() {
	flags := cpu.DisableInterrupts()
	coreID := cpu.CoreID()
	rq := &runQueues[coreID]
	rq.lock.Lock()

	cur := bySlot(rq.current)
	if cur != nil && rq.current != rq.idleSlot {
		switch cur.state {
		case StateRunning:
			cur.state = StateReady
			rq.enqueueLocked(cur)
		case StateFinished:
			// reclaimed by the task switched in next
			cur.next = rq.finished
			rq.finished = rq.current
		}
	}

	next := rq.dequeueHighestLocked()
	if next == nil {
		next = bySlot(rq.idleSlot)
		if next == nil {
			// core not initialized yet
			rq.lock.Unlock()
			cpu.RestoreInterrupts(flags)
			return
		}
	}
	next.state = StateRunning
	next.coreID = coreID

	if next == cur {
		rq.lock.Unlock()
		// even without a switch, tasks finished remotely still await
		// reclamation
		finishTaskSwitch(coreID)
		cpu.RestoreInterrupts(flags)
		return
	}

	rq.current = next.id.slot()
	quantumUsed[coreID] = 0

	oldSP := &discardSP
	if cur != nil {
		oldSP = &cur.stackPtr
	}
	rq.lock.Unlock()

	switchContextFn(oldSP, next.stackPtr)

	// executes on the incoming task's stack
	finishTaskSwitch(coreID)
	cpu.RestoreInterrupts(flags)
}

// Yield voluntarily hands the core to the scheduler. The calling task is
// requeued behind its priority peers.
func Yield() {
	Schedule()
}

// Reschedule yields the core to the scheduler. It is the hook behind the
// blocking primitives in the sync package.
func Reschedule() {
	Schedule()
}

// CheckScheduling preempts the running task if a higher priority task became
// ready on this core. It runs on the interrupt return path.
func CheckScheduling() {
	flags := cpu.DisableInterrupts()
	rq := &runQueues[cpu.CoreID()]

	rq.lock.Lock()
	cur := bySlot(rq.current)
	var preempt bool
	switch {
	case cur == nil:
	case rq.current != rq.idleSlot && cur.state != StateRunning:
		// blocked or remotely terminated while owning the core
		preempt = true
	default:
		curPrio := -1
		if rq.current != rq.idleSlot {
			curPrio = int(cur.prio)
		}
		preempt = rq.highestReadyPrioLocked() > curPrio
	}
	rq.lock.Unlock()

	if preempt {
		Schedule()
	}
	cpu.RestoreInterrupts(flags)
}

// finishTaskSwitch reclaims the resources of tasks that finished on this
// core. It runs on the stack of the task that was switched in, never on the
// stack being torn down.
func finishTaskSwitch(coreID uint32) {
	rq := &runQueues[coreID]
	rq.lock.Lock()
	slot := rq.finished
	rq.finished = nilSlot
	rq.lock.Unlock()

	for slot != nilSlot {
		t := &table.tasks[slot]
		slot = t.next
		reclaimTask(t)
	}
}

func reclaimTask(t *Task) {
	if t.stack.Pages() != 0 {
		if err := destroyStackFn(t.stack); err != nil {
			kfmt.Printf("[task] failed to release stack of task %d: %s\n", uint32(t.id), err.Message)
		}
	}

	table.lock.Lock()
	t.stack = vmm.Stack{}
	joined := t.joined
	table.lock.Unlock()

	// An unjoined task keeps its finished slot so the exit code stays
	// fetchable; the Join that consumes the code frees the slot.
	if joined {
		t.exitBox.Destroy()
		freeSlot(t)
	}
}
