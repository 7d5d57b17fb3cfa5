package task

import (
	"hermit/kernel"
	"hermit/kernel/sync"
)

const (
	// sigQueueSize bounds the per-task queue of pending signal numbers.
	sigQueueSize = 32

	// sigSegV is the conventional signal number reported for memory
	// access violations.
	sigSegV = 11
)

// SetSignalHandler installs the handler invoked for signals delivered to
// the calling task. A nil handler restores the default action.
func SetSignalHandler(handler func(uint8)) *kernel.Error {
	cur := Current()
	if cur == nil {
		return errTaskNotFound
	}
	cur.sigHandler = handler
	return nil
}

// SignalHandler returns the handler registered by the task identified by id.
func SignalHandler(id ID) (func(uint8), *kernel.Error) {
	t, err := byID(id)
	if err != nil {
		return nil, err
	}
	return t.sigHandler, nil
}

// PendingSignals exposes the per-task signal queue to the signal delivery
// code.
func PendingSignals(id ID) (*sync.Mailbox, *kernel.Error) {
	t, err := byID(id)
	if err != nil {
		return nil, err
	}
	return &t.sigPending, nil
}
