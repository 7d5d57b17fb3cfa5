package sync

// TaskHooks connects the blocking primitives to the scheduler. The task
// package installs the real implementations during its initialization; until
// then the defaults degrade every blocking operation into a busy-wait, which
// is also what hosted tests rely on (combined with a yield hook).
type TaskHooks struct {
	// CurrentTaskID returns the id of the task executing on this core.
	CurrentTaskID func() uint32

	// BlockCurrentTask marks the current task as blocked and removes it
	// from its ready queue. The actual context switch happens on the
	// following Reschedule call.
	BlockCurrentTask func()

	// WakeupTask transitions a blocked task back to ready.
	WakeupTask func(id uint32)

	// Reschedule hands the core to the scheduler.
	Reschedule func()

	// SetTimer blocks the current task until the given clock tick.
	SetTimer func(deadline uint64)

	// ClockTick returns the current timer tick.
	ClockTick func() uint64
}

var hooks TaskHooks

// SetTaskHooks installs the scheduler callbacks used by semaphores and
// mailboxes when they need to suspend or resume tasks.
func SetTaskHooks(h TaskHooks) {
	hooks = h
}

func currentTaskID() uint32 {
	if hooks.CurrentTaskID != nil {
		return hooks.CurrentTaskID()
	}
	return 0
}

func blockCurrentTask() {
	if hooks.BlockCurrentTask != nil {
		hooks.BlockCurrentTask()
	}
}

func wakeupTask(id uint32) {
	if hooks.WakeupTask != nil {
		hooks.WakeupTask(id)
	}
}

func reschedule() {
	if hooks.Reschedule != nil {
		hooks.Reschedule()
		return
	}
	if yieldFn != nil {
		yieldFn()
	}
}

func setTimer(deadline uint64) {
	if hooks.SetTimer != nil {
		hooks.SetTimer(deadline)
	}
}

func clockTick() uint64 {
	if hooks.ClockTick != nil {
		return hooks.ClockTick()
	}
	return 0
}
