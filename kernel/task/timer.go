package task

import "hermit/kernel/cpu"

// quantum is the number of timer ticks a task may run before equal priority
// peers are given the core.
const quantum = 10

var quantumUsed [cpu.MaxCores]uint32

// clockSourceFn reports the current timer tick. The time package installs
// its tick counter here during boot; the default makes every deadline
// relative to tick zero.
var clockSourceFn = func() uint64 { return 0 }

// SetClockSource installs the tick counter consulted for timer deadlines.
func SetClockSource(fn func() uint64) {
	if fn != nil {
		clockSourceFn = fn
	}
}

// setTimer blocks the current task until the given clock tick. The blocking
// primitives mark the task blocked before arming the timeout, so a task that
// is already blocked is accepted and merely parked on the timer queue. The
// wakeup happens either through CheckTimers or through an explicit Wakeup,
// whichever comes first.
func setTimer(deadline uint64) {
	flags := cpu.DisableInterrupts()
	rq := &runQueues[cpu.CoreID()]
	rq.lock.Lock()

	cur := bySlot(rq.current)
	if cur != nil && rq.current != rq.idleSlot &&
		(cur.state == StateRunning || cur.state == StateBlocked) {
		cur.state = StateBlocked
		cur.timerDeadline = deadline
		rq.timerInsertLocked(cur)
	}

	rq.lock.Unlock()
	cpu.RestoreInterrupts(flags)
}

// TickQuantum accounts one timer tick against the running task and hands the
// core to an equal priority peer once the quantum is used up. Higher
// priority arrivals are handled by the scheduling check on the interrupt
// return path instead.
func TickQuantum() {
	flags := cpu.DisableInterrupts()
	coreID := cpu.CoreID()
	rq := &runQueues[coreID]

	rq.lock.Lock()
	cur := bySlot(rq.current)
	var resched bool
	if cur != nil && rq.current != rq.idleSlot && cur.state == StateRunning {
		quantumUsed[coreID]++
		if quantumUsed[coreID] >= quantum && rq.highestReadyPrioLocked() == int(cur.prio) {
			resched = true
		}
	}
	rq.lock.Unlock()

	if resched {
		Schedule()
	}
	cpu.RestoreInterrupts(flags)
}

// CheckTimers wakes every task on the calling core whose deadline has been
// reached. It runs from the timer interrupt handler.
func CheckTimers(now uint64) {
	flags := cpu.DisableInterrupts()
	rq := &runQueues[cpu.CoreID()]
	rq.lock.Lock()

	for rq.timerHead != nilSlot {
		t := &table.tasks[rq.timerHead]
		if t.timerDeadline > now {
			break
		}

		rq.timerHead = t.timerNext
		t.timerNext = nilSlot
		if t.state == StateBlocked {
			t.state = StateReady
			rq.enqueueLocked(t)
		}
	}

	rq.lock.Unlock()
	cpu.RestoreInterrupts(flags)
}
