// Package signal implements asynchronous inter-task signals. Signals sent to
// a remote task are queued in its pending mailbox and delivered on the next
// interrupt return of its core; signals sent to the calling task invoke the
// handler immediately.
package signal

import (
	"hermit/kernel"
	"hermit/kernel/kfmt"
	"hermit/kernel/sync"
	"hermit/kernel/task"
)

// Conventional signal numbers. Only a subset carries kernel semantics; the
// rest is free for application protocols.
const (
	SigHup  = 1
	SigInt  = 2
	SigQuit = 3
	SigIll  = 4
	SigAbrt = 6
	SigFPE  = 8
	SigKill = 9
	SigUsr1 = 10
	SigSegV = 11
	SigUsr2 = 12
	SigTerm = 15
	SigChld = 17

	// MaxSignal bounds the usable signal number range.
	MaxSignal = 32
)

var (
	droppedSignals sync.Int64

	errSigInvalid   = &kernel.Error{Module: "signal", Code: kernel.EInvalidArg, Message: "invalid signal number"}
	errSigQueueFull = &kernel.Error{Module: "signal", Code: kernel.EBusy, Message: "signal queue full"}

	// terminateFn allows tests to intercept default-action terminations.
	terminateFn = task.Terminate
)

// Register installs a handler for signals delivered to the calling task. A
// nil handler restores the default actions.
func Register(handler func(uint8)) *kernel.Error {
	return task.SetSignalHandler(handler)
}

// Kill sends a signal to the task identified by id. Delivery to the calling
// task is synchronous; delivery to any other task is queued and happens on
// that task's next interrupt return. When the target's queue is full the
// signal is dropped and Kill fails with EBusy.
func Kill(id task.ID, signum uint8) *kernel.Error {
	if signum == 0 || signum >= MaxSignal {
		return errSigInvalid
	}

	if cur := task.Current(); cur != nil && cur.ID() == id {
		deliver(id, signum)
		return nil
	}

	pending, err := task.PendingSignals(id)
	if err != nil {
		return err
	}

	if err = pending.TryPost(int32(signum)); err != nil {
		droppedSignals.Add(1)
		return errSigQueueFull
	}
	return nil
}

// DrainPending delivers every queued signal to the calling task. It runs on
// the interrupt return path; a default-action termination does not return.
func DrainPending() {
	cur := task.Current()
	if cur == nil {
		return
	}

	pending, err := task.PendingSignals(cur.ID())
	if err != nil {
		return
	}

	for {
		signum, err := pending.TryFetch()
		if err != nil {
			return
		}
		deliver(cur.ID(), uint8(signum))
	}
}

// DroppedSignals returns the number of signals dropped due to full queues.
func DroppedSignals() int64 {
	return droppedSignals.Get()
}

func deliver(id task.ID, signum uint8) {
	handler, err := task.SignalHandler(id)
	if err != nil {
		return
	}

	// SigKill cannot be caught
	if handler != nil && signum != SigKill {
		handler(signum)
		return
	}
	defaultAction(id, signum)
}

// defaultAction terminates the target with the negated signal number as its
// exit code. Child-status notifications are ignored.
func defaultAction(id task.ID, signum uint8) {
	switch signum {
	case SigChld:
		return
	default:
		kfmt.Printf("[signal] task %d terminated by signal %d\n", uint32(id), signum)
		terminateFn(id, -int32(signum))
	}
}
