package kmain

import (
	"hermit/kernel"
	"hermit/kernel/cpu"
	"hermit/kernel/hal/bootinfo"
	"hermit/kernel/irq"
	"hermit/kernel/kfmt"
	"hermit/kernel/mm/pmm"
	"hermit/kernel/mm/vmm"
	"hermit/kernel/signal"
	"hermit/kernel/task"
	"hermit/kernel/time"
)

// Kmain is the only Go symbol visible (exported) to the rt0 initialization
// code. It is invoked on the boot core after the boot stub has set up a
// minimal execution environment and collected the boot information handed
// over by the loader.
//
// Kmain brings up the memory subsystems, the interrupt core and the
// scheduler, spawns the application entry task and then turns the calling
// context into the boot core's idle loop. It does not return.
//
//go:noinline
func Kmain(info *bootinfo.Info, entry func()) {
	bootinfo.Set(info)
	cpu.SetCoreCount(info.CoreCount)

	kfmt.Printf("kernel starting: %d core(s), cmdline: %s\n", cpu.CoreCount(), info.CmdLine)

	var err *kernel.Error
	if err = pmm.Init(info); err != nil {
		kfmt.Panic(err)
	} else if err = vmm.Init(); err != nil {
		kfmt.Panic(err)
	}

	irq.Init()

	if err = task.Init(); err != nil {
		kfmt.Panic(err)
	} else if err = time.Init(); err != nil {
		kfmt.Panic(err)
	}

	// interrupt returns deliver pending signals before the preemption
	// check so a task never resumes with deliverable signals queued
	irq.SetReturnHooks(signal.DrainPending, task.CheckScheduling)

	if entry != nil {
		if _, err = task.Create(entry, task.NormPrio); err != nil {
			kfmt.Panic(err)
		}
	}

	cpu.EnableInterrupts()

	// the boot context becomes the idle task of core 0
	for {
		task.Schedule()
		cpu.Halt()
	}
}
