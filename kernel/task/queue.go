package task

import (
	"math/bits"

	"hermit/kernel/cpu"
	"hermit/kernel/sync"
)

// runQueue tracks the ready tasks of one core. Each priority level keeps a
// FIFO list threaded through the task table's prev/next fields; prioBitmap
// has bit p set whenever level p is non-empty.
type runQueue struct {
	lock       sync.IrqSpinlock
	prioBitmap uint32
	head       [MaxPrio + 1]int16
	tail       [MaxPrio + 1]int16
	current    int16
	idleSlot   int16
	finished   int16
	timerHead  int16
	nrTasks    int32
}

var runQueues [cpu.MaxCores]runQueue

func initRunQueues() {
	for i := range runQueues {
		rq := &runQueues[i]
		rq.lock = sync.IrqSpinlock{}
		rq.prioBitmap = 0
		for p := range rq.head {
			rq.head[p] = nilSlot
			rq.tail[p] = nilSlot
		}
		rq.current = nilSlot
		rq.idleSlot = nilSlot
		rq.finished = nilSlot
		rq.timerHead = nilSlot
		rq.nrTasks = 0
	}
}

// enqueueLocked appends t to the tail of its priority level.
func (rq *runQueue) enqueueLocked(t *Task) {
	slot := t.id.slot()
	prio := t.prio

	t.next = nilSlot
	t.prev = rq.tail[prio]
	if rq.tail[prio] == nilSlot {
		rq.head[prio] = slot
	} else {
		table.tasks[rq.tail[prio]].next = slot
	}
	rq.tail[prio] = slot
	rq.prioBitmap |= 1 << prio
	rq.nrTasks++
}

// dequeueHighestLocked pops the head of the highest non-empty priority level.
func (rq *runQueue) dequeueHighestLocked() *Task {
	if rq.prioBitmap == 0 {
		return nil
	}

	prio := uint8(31 - bits.LeadingZeros32(rq.prioBitmap))
	slot := rq.head[prio]
	t := &table.tasks[slot]

	rq.head[prio] = t.next
	if t.next == nilSlot {
		rq.tail[prio] = nilSlot
		rq.prioBitmap &^= 1 << prio
	} else {
		table.tasks[t.next].prev = nilSlot
	}
	t.prev = nilSlot
	t.next = nilSlot
	rq.nrTasks--
	return t
}

// removeLocked unlinks t from its priority level wherever it sits.
func (rq *runQueue) removeLocked(t *Task) {
	slot := t.id.slot()
	prio := t.prio

	if t.prev != nilSlot {
		table.tasks[t.prev].next = t.next
	} else if rq.head[prio] == slot {
		rq.head[prio] = t.next
	} else {
		// not queued at this level
		return
	}

	if t.next != nilSlot {
		table.tasks[t.next].prev = t.prev
	} else if rq.tail[prio] == slot {
		rq.tail[prio] = t.prev
	}

	if rq.head[prio] == nilSlot {
		rq.prioBitmap &^= 1 << prio
	}
	t.prev = nilSlot
	t.next = nilSlot
	rq.nrTasks--
}

// highestReadyPrioLocked reports the best queued priority, or -1 when the
// queue is empty.
func (rq *runQueue) highestReadyPrioLocked() int {
	if rq.prioBitmap == 0 {
		return -1
	}
	return 31 - bits.LeadingZeros32(rq.prioBitmap)
}

// timerInsertLocked places t into the core's deadline-sorted timer list.
func (rq *runQueue) timerInsertLocked(t *Task) {
	slot := t.id.slot()
	t.timerNext = nilSlot

	if rq.timerHead == nilSlot || table.tasks[rq.timerHead].timerDeadline > t.timerDeadline {
		t.timerNext = rq.timerHead
		rq.timerHead = slot
		return
	}

	prev := rq.timerHead
	for {
		next := table.tasks[prev].timerNext
		if next == nilSlot || table.tasks[next].timerDeadline > t.timerDeadline {
			t.timerNext = next
			table.tasks[prev].timerNext = slot
			return
		}
		prev = next
	}
}

// timerRemoveLocked drops t from the timer list if queued there.
func (rq *runQueue) timerRemoveLocked(t *Task) {
	slot := t.id.slot()

	if rq.timerHead == slot {
		rq.timerHead = t.timerNext
		t.timerNext = nilSlot
		return
	}

	for prev := rq.timerHead; prev != nilSlot; prev = table.tasks[prev].timerNext {
		if table.tasks[prev].timerNext == slot {
			table.tasks[prev].timerNext = t.timerNext
			t.timerNext = nilSlot
			return
		}
	}
}
