// Package time maintains the system tick counter driven by the timer
// interrupt and provides tick based waiting primitives.
package time

import (
	"sync/atomic"

	"hermit/kernel"
	"hermit/kernel/cpu"
	"hermit/kernel/irq"
	"hermit/kernel/sync"
	"hermit/kernel/task"
)

// TimerFreq is the programmed timer interrupt frequency in Hz.
const TimerFreq = 100

// ticks counts timer interrupts on the boot core since Init.
var ticks uint64

// Init connects the tick counter to the timer interrupt vector and
// installs it as the scheduler's clock source.
func Init() *kernel.Error {
	task.SetClockSource(GetClockTick)
	return irq.InstallHandler(irq.TimerVector, timerHandler)
}

// timerHandler runs on every timer interrupt. Only the boot core advances
// the global tick counter; every core checks its own timer queue.
func timerHandler(_ *irq.Registers) {
	if cpu.CoreID() == 0 {
		atomic.AddUint64(&ticks, 1)
	}
	task.CheckTimers(GetClockTick())
	task.TickQuantum()
}

// GetClockTick returns the number of timer interrupts since boot.
func GetClockTick() uint64 {
	return atomic.LoadUint64(&ticks)
}

// Uptime returns the seconds elapsed since the timer was armed.
func Uptime() uint64 {
	return GetClockTick() / TimerFreq
}

// TimerWait spins until nticks timer interrupts have elapsed. It does not
// involve the scheduler and stays usable before tasking is up.
func TimerWait(nticks uint64) {
	deadline := GetClockTick() + nticks
	for GetClockTick() < deadline {
		cpu.Pause()
	}
}

// Sleep blocks the calling task for the given number of milliseconds,
// rounded up to the timer resolution.
func Sleep(ms uint64) {
	nticks := msToTicks(ms)
	if nticks == 0 {
		return
	}
	sleepTicks(nticks)
}

// sleepTicks parks the calling task on the scheduler's timer queue by
// waiting on a semaphore nobody posts; the deadline does the waking.
func sleepTicks(nticks uint64) {
	var sem sync.Semaphore
	sem.Init(0)
	sem.Wait(nticks)
}

func msToTicks(ms uint64) uint64 {
	return (ms*TimerFreq + 999) / 1000
}
