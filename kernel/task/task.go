package task

import (
	"hermit/kernel"
	"hermit/kernel/mm/vmm"
	"hermit/kernel/sync"
)

const (
	// MaxTasks is the size of the static task table.
	MaxTasks = 130

	// MaxPrio is the highest usable task priority. Priority 0 is reserved
	// for the per-core idle tasks.
	MaxPrio = 31

	// NormPrio is the default priority for tasks created without an
	// explicit one.
	NormPrio = 8

	// IdlePrio is the priority of the per-core idle tasks.
	IdlePrio = 0

	// DefaultStackPages is the stack size for tasks that do not request
	// a specific one.
	DefaultStackPages = 8

	// nilSlot terminates the arena-index linked lists below.
	nilSlot = int16(-1)
)

// State describes the lifecycle state of a task table slot.
type State uint8

const (
	// StateInvalid marks a free table slot.
	StateInvalid State = iota

	// StateReady marks a task waiting on a run queue.
	StateReady

	// StateRunning marks the task currently owning a core.
	StateRunning

	// StateBlocked marks a task waiting on a semaphore, mailbox, timer
	// or join.
	StateBlocked

	// StateFinished marks a task that exited but whose resources have
	// not been reclaimed yet. Reclamation happens on the next task
	// switch, never on the exiting task's own stack.
	StateFinished
)

// String implements fmt.Stringer for State.
func (s State) String() string {
	switch s {
	case StateInvalid:
		return "invalid"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateBlocked:
		return "blocked"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// ID identifies a task. The low 16 bits address the table slot; the upper
// bits carry a generation counter so a recycled slot yields a fresh ID and
// stale references fail lookup instead of aliasing the new tenant.
type ID uint32

func makeID(slot int16, generation uint16) ID {
	return ID(uint32(uint16(slot)) | uint32(generation)<<16)
}

func (id ID) slot() int16 {
	return int16(uint16(id))
}

func (id ID) generation() uint16 {
	return uint16(id >> 16)
}

// Task is one slot of the static task table. Link fields are arena indices
// into the table rather than pointers, keeping the scheduler free of
// allocations and the lists trivially serializable.
type Task struct {
	id    ID
	state State
	prio  uint8

	// coreID is the core whose run queues own this task.
	coreID uint32

	// stackPtr holds the saved stack pointer while the task is switched
	// out. The context switch primitive stores into and loads from this
	// slot.
	stackPtr uintptr

	// stack is the task's kernel stack including its guard pages.
	stack vmm.Stack

	// entry is the task body.
	entry func()

	// prev/next link the task into a run queue; timerNext links it into
	// the deadline-sorted timer queue.
	prev, next int16
	timerNext  int16

	// timerDeadline is the wakeup tick while the task sits on the timer
	// queue.
	timerDeadline uint64

	// exitBox transports the exit code to tasks joining on this one.
	exitBox sync.Mailbox

	// exitCode is the value passed to Exit (or the negated signal number
	// for signal-terminated tasks).
	exitCode int32

	// joined is set once a joiner consumed the exit code. A finished
	// task keeps its table slot until then so the code is not lost.
	joined bool

	// usedFPU is set the first time the task touches FPU state; only
	// then is its FPU context saved and restored across switches.
	usedFPU bool

	// signal delivery state; owned by the signal package through the
	// accessors in signal.go.
	sigHandler func(uint8)
	sigPending sync.Mailbox
}

// ID returns the task's identifier.
func (t *Task) ID() ID { return t.id }

// State returns the task's lifecycle state.
func (t *Task) State() State { return t.state }

// Priority returns the task's scheduling priority.
func (t *Task) Priority() uint8 { return t.prio }

// Core returns the id of the core whose queues own the task.
func (t *Task) Core() uint32 { return t.coreID }

var (
	errTaskInvalidArg = &kernel.Error{Module: "task", Code: kernel.EInvalidArg, Message: "invalid task argument"}
	errTaskNotFound   = &kernel.Error{Module: "task", Code: kernel.ENotFound, Message: "no task with that id"}
	errTaskExhausted  = &kernel.Error{Module: "task", Code: kernel.EOutOfMemory, Message: "task table exhausted"}
)
