package task

import (
	"hermit/kernel"
	"hermit/kernel/sync"
)

// table is the static task table. Slots are chained into a free list through
// their next field while unused.
var table struct {
	lock        sync.IrqSpinlock
	tasks       [MaxTasks]Task
	generations [MaxTasks]uint16
	freeHead    int16
	used        int32
}

// initTable resets every slot and rebuilds the free list. Generations are
// preserved across re-initialization so IDs from a previous epoch stay dead.
func initTable() {
	table.lock.Lock()
	defer table.lock.Unlock()

	table.freeHead = 0
	table.used = 0
	for slot := int16(0); slot < MaxTasks; slot++ {
		t := &table.tasks[slot]
		*t = Task{state: StateInvalid, prev: nilSlot, timerNext: nilSlot}
		if slot == MaxTasks-1 {
			t.next = nilSlot
		} else {
			t.next = slot + 1
		}
	}
}

// allocSlot reserves a table slot and stamps it with a fresh generation.
func allocSlot() (*Task, *kernel.Error) {
	table.lock.Lock()
	defer table.lock.Unlock()

	slot := table.freeHead
	if slot == nilSlot {
		return nil, errTaskExhausted
	}

	t := &table.tasks[slot]
	table.freeHead = t.next
	table.used++

	table.generations[slot]++
	*t = Task{
		id:        makeID(slot, table.generations[slot]),
		state:     StateInvalid,
		prev:      nilSlot,
		next:      nilSlot,
		timerNext: nilSlot,
	}
	return t, nil
}

// freeSlot returns a slot to the free list. The caller must have removed the
// task from every queue first.
func freeSlot(t *Task) {
	table.lock.Lock()
	defer table.lock.Unlock()

	slot := t.id.slot()
	*t = Task{state: StateInvalid, prev: nilSlot, timerNext: nilSlot}
	t.next = table.freeHead
	table.freeHead = slot
	table.used--
}

// byID resolves an ID to its table slot, rejecting stale generations.
func byID(id ID) (*Task, *kernel.Error) {
	slot := id.slot()
	if slot < 0 || slot >= MaxTasks {
		return nil, errTaskNotFound
	}

	t := &table.tasks[slot]
	if t.state == StateInvalid || t.id != id {
		return nil, errTaskNotFound
	}
	return t, nil
}

// bySlot returns the task in a slot or nil for the sentinel index.
func bySlot(slot int16) *Task {
	if slot == nilSlot {
		return nil
	}
	return &table.tasks[slot]
}

// Count returns the number of occupied table slots (including idle tasks).
func Count() int32 {
	table.lock.Lock()
	defer table.lock.Unlock()
	return table.used
}
