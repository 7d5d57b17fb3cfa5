package task

import (
	"sync/atomic"

	"hermit/kernel"
	"hermit/kernel/cpu"
	"hermit/kernel/irq"
	"hermit/kernel/kfmt"
	"hermit/kernel/mm/vmm"
)

var (
	createStackFn  = vmm.CreateStack
	destroyStackFn = vmm.DestroyStack

	// initStackFrameFn prepares a fresh stack so the first switch to the
	// task lands in its entry trampoline. The boot stub installs the
	// implementation that lays out the initial register frame.
	initStackFrameFn = func(t *Task) uintptr { return t.stack.Top }

	// panicFn allows tests to intercept fatal scheduler conditions.
	panicFn = kfmt.Panic

	// spawnCounter drives the round-robin core assignment for new tasks.
	spawnCounter uint32
)

// SetStackAllocator overrides the functions used to allocate and release
// task stacks. The platform wiring may substitute differently sized or
// differently backed stacks.
func SetStackAllocator(create func(uintptr) (vmm.Stack, *kernel.Error), destroy func(vmm.Stack) *kernel.Error) {
	if create != nil {
		createStackFn = create
	}
	if destroy != nil {
		destroyStackFn = destroy
	}
}

// Create spawns a new task running entry with the given priority and places
// it on the ready queue of one of the online cores.
func Create(entry func(), prio uint8) (ID, *kernel.Error) {
	coreID := (atomic.AddUint32(&spawnCounter, 1) - 1) % cpu.CoreCount()
	return CreateOnCore(entry, prio, coreID)
}

// Clone spawns a task that inherits the calling task's priority. Placement
// follows the same round-robin core assignment as Create.
func Clone(entry func()) (ID, *kernel.Error) {
	prio := uint8(NormPrio)
	if cur := Current(); cur != nil && cur.prio != IdlePrio {
		prio = cur.prio
	}
	return Create(entry, prio)
}

// CreateOnCore spawns a new task pinned to the given core. Priority 0 is
// reserved for the idle tasks.
func CreateOnCore(entry func(), prio uint8, coreID uint32) (ID, *kernel.Error) {
	if entry == nil || prio == IdlePrio || prio > MaxPrio || coreID >= cpu.CoreCount() {
		return 0, errTaskInvalidArg
	}

	t, err := allocSlot()
	if err != nil {
		return 0, err
	}

	stack, err := createStackFn(DefaultStackPages)
	if err != nil {
		freeSlot(t)
		return 0, err
	}

	t.prio = prio
	t.coreID = coreID
	t.entry = entry
	t.stack = stack
	t.exitBox.Init(1)
	t.sigPending.Init(sigQueueSize)
	t.stackPtr = initStackFrameFn(t)
	t.state = StateReady

	flags := cpu.DisableInterrupts()
	rq := &runQueues[coreID]
	rq.lock.Lock()
	rq.enqueueLocked(t)
	rq.lock.Unlock()
	cpu.RestoreInterrupts(flags)

	return t.id, nil
}

// Exit terminates the calling task with the given exit code and hands the
// core to the scheduler. The task's stack is reclaimed by the task that gets
// switched in; the table slot survives until a joiner consumed the exit
// code. Exit does not return.
func Exit(code int32) {
	flags := cpu.DisableInterrupts()
	coreID := cpu.CoreID()
	rq := &runQueues[coreID]

	rq.lock.Lock()
	cur := bySlot(rq.current)
	if cur == nil || rq.current == rq.idleSlot {
		rq.lock.Unlock()
		cpu.RestoreInterrupts(flags)
		panicFn(errIdleExit)
		return
	}
	cur.exitCode = code
	rq.lock.Unlock()
	cpu.RestoreInterrupts(flags)

	// joiners blocked on the exit box are woken before the slot is
	// reclaimed
	cur.exitBox.TryPost(code)

	flags = cpu.DisableInterrupts()
	rq.lock.Lock()
	cur.state = StateFinished
	rq.lock.Unlock()
	cpu.RestoreInterrupts(flags)

	// the scheduler moves finished current tasks to the reclaim list
	Schedule()
}

// Join blocks until the task identified by id exits and returns its exit
// code. A zero timeout waits forever; otherwise Join gives up after timeout
// clock ticks. A finished task keeps its table slot until a joiner consumed
// the exit code; joining a task whose code was already consumed fails with
// ENotFound.
func Join(id ID, timeout uint64) (int32, *kernel.Error) {
	t, err := byID(id)
	if err != nil {
		return 0, err
	}
	if cur := Current(); cur != nil && cur.id == id {
		return 0, errTaskInvalidArg
	}

	code, err := t.exitBox.Fetch(timeout)
	if err != nil {
		return 0, err
	}

	// The slot is released once both the exit code was consumed and the
	// stack was torn down; whichever happens last frees it.
	table.lock.Lock()
	t.joined = true
	reclaim := t.state == StateFinished && t.stack.Pages() == 0
	table.lock.Unlock()

	if reclaim {
		t.exitBox.Destroy()
		freeSlot(t)
	}
	return code, nil
}

// Terminate forcibly finishes the task identified by id with the given exit
// code. Terminating the calling task is equivalent to Exit.
func Terminate(id ID, code int32) *kernel.Error {
	flags := cpu.DisableInterrupts()

	t, err := byID(id)
	if err != nil {
		cpu.RestoreInterrupts(flags)
		return err
	}

	rq := &runQueues[t.coreID]
	rq.lock.Lock()
	if t.id.slot() == rq.idleSlot {
		rq.lock.Unlock()
		cpu.RestoreInterrupts(flags)
		return errTaskInvalidArg
	}
	if t.state == StateFinished {
		// already on its way out
		rq.lock.Unlock()
		cpu.RestoreInterrupts(flags)
		return nil
	}

	if t.state == StateRunning {
		if t.coreID != cpu.CoreID() {
			// mark the remote task finished and nudge its core; the
			// remote scheduler parks it on the reclaim list
			t.exitCode = code
			t.state = StateFinished
			rq.lock.Unlock()
			cpu.RestoreInterrupts(flags)
			t.exitBox.TryPost(code)
			cpu.SendIPI(t.coreID, uint8(irq.RescheduleVector))
			return nil
		}
		rq.lock.Unlock()
		cpu.RestoreInterrupts(flags)
		Exit(code)
		return nil
	}

	rq.removeLocked(t)
	rq.timerRemoveLocked(t)
	t.exitCode = code
	t.state = StateFinished
	t.next = rq.finished
	rq.finished = t.id.slot()
	rq.lock.Unlock()
	cpu.RestoreInterrupts(flags)

	t.exitBox.TryPost(code)
	return nil
}

// CurrentID returns the id of the calling task, or zero before tasking is
// initialized.
func CurrentID() ID {
	if t := Current(); t != nil {
		return t.id
	}
	return 0
}

// GetPriority returns the scheduling priority of the task identified by id.
func GetPriority(id ID) (uint8, *kernel.Error) {
	t, err := byID(id)
	if err != nil {
		return 0, err
	}
	return t.prio, nil
}

// SetPriority changes the scheduling priority of the task identified by id.
// A ready task is requeued at the tail of its new priority level; a running
// task keeps the core until the next scheduling point.
func SetPriority(id ID, prio uint8) *kernel.Error {
	if prio == IdlePrio || prio > MaxPrio {
		return errTaskInvalidArg
	}

	flags := cpu.DisableInterrupts()
	defer cpu.RestoreInterrupts(flags)

	t, err := byID(id)
	if err != nil {
		return err
	}

	rq := &runQueues[t.coreID]
	rq.lock.Lock()
	defer rq.lock.Unlock()

	if t.id.slot() == rq.idleSlot {
		return errTaskInvalidArg
	}

	if t.state == StateReady {
		rq.removeLocked(t)
		t.prio = prio
		rq.enqueueLocked(t)
	} else {
		t.prio = prio
	}
	return nil
}

// blockCurrent marks the running task as blocked. It stays the core owner
// until the following Schedule call, which will not requeue it.
func blockCurrent() {
	flags := cpu.DisableInterrupts()
	rq := &runQueues[cpu.CoreID()]
	rq.lock.Lock()
	cur := bySlot(rq.current)
	if cur != nil && rq.current != rq.idleSlot && cur.state == StateRunning {
		cur.state = StateBlocked
	}
	rq.lock.Unlock()
	cpu.RestoreInterrupts(flags)
}

// Wakeup transitions a blocked task back to ready and queues it on its
// core. Waking a task that is already ready or running is a no-op; waking a
// finished task fails with EInvalidArg.
func Wakeup(id ID) *kernel.Error {
	flags := cpu.DisableInterrupts()
	defer cpu.RestoreInterrupts(flags)

	t, err := byID(id)
	if err != nil {
		return err
	}

	rq := &runQueues[t.coreID]
	rq.lock.Lock()
	defer rq.lock.Unlock()

	switch t.state {
	case StateReady, StateRunning:
		return nil
	case StateBlocked:
	default:
		return errTaskInvalidArg
	}

	rq.timerRemoveLocked(t)
	t.state = StateReady
	rq.enqueueLocked(t)
	return nil
}

// killFaultingTask is installed as the vmm fault task killer. Faults on the
// idle task have no task context to sacrifice and panic instead.
func killFaultingTask(kind vmm.FaultKind, faultAddr uintptr) {
	rq := &runQueues[cpu.CoreID()]
	if rq.current == rq.idleSlot || rq.current == nilSlot {
		panicFn(&kernel.Error{Module: "task", Code: kernel.ESegFault, Message: "page fault with no task context"})
		return
	}

	switch kind {
	case vmm.FaultStackOverflow:
		kfmt.Printf("[task] task %d killed: stack overflow at %x\n", uint32(bySlot(rq.current).id), uint64(faultAddr))
	default:
		kfmt.Printf("[task] task %d killed: segmentation fault at %x\n", uint32(bySlot(rq.current).id), uint64(faultAddr))
	}

	Exit(-sigSegV)
}
