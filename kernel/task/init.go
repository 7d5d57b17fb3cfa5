package task

import (
	"hermit/kernel"
	"hermit/kernel/cpu"
	"hermit/kernel/irq"
	"hermit/kernel/mm/vmm"
	"hermit/kernel/sync"
)

// Init sets up the task table, creates one idle task per online core and
// connects the scheduler to the blocking primitives, the memory fault path
// and the FPU trap.
func Init() *kernel.Error {
	initTable()
	initRunQueues()
	if err := initIdleTasks(); err != nil {
		return err
	}

	sync.SetTaskHooks(sync.TaskHooks{
		CurrentTaskID: func() uint32 {
			if t := Current(); t != nil {
				return uint32(t.id)
			}
			return 0
		},
		BlockCurrentTask: blockCurrent,
		WakeupTask:       func(id uint32) { Wakeup(ID(id)) },
		Reschedule:       Reschedule,
		SetTimer:         setTimer,
		ClockTick:        func() uint64 { return clockSourceFn() },
	})

	vmm.SetFaultTaskKiller(killFaultingTask)

	if err := irq.InstallHandler(irq.DeviceNotAvailable, fpuTrapHandler); err != nil {
		return err
	}

	// reschedule IPIs need no body of their own; the scheduling check on
	// the interrupt return path does the work
	return irq.InstallHandler(irq.RescheduleVector, func(_ *irq.Registers) {})
}

// initIdleTasks creates the per-core idle tasks and makes each the current
// task of its core. Idle tasks run on the boot stack of their core and need
// no stack allocation of their own.
func initIdleTasks() *kernel.Error {
	for coreID := uint32(0); coreID < cpu.CoreCount(); coreID++ {
		idle, err := allocSlot()
		if err != nil {
			return err
		}

		idle.prio = IdlePrio
		idle.coreID = coreID
		idle.entry = idleLoop
		idle.exitBox.Init(1)
		idle.sigPending.Init(sigQueueSize)
		idle.state = StateRunning

		rq := &runQueues[coreID]
		rq.idleSlot = idle.id.slot()
		rq.current = idle.id.slot()
	}
	return nil
}

// idleLoop parks a core until an interrupt delivers work.
func idleLoop() {
	for {
		cpu.Halt()
	}
}
