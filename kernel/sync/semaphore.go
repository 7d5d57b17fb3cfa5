package sync

import (
	"hermit/kernel"
)

// semQueueSize bounds the number of tasks that can wait on one semaphore.
// It matches the size of the task table so enqueueing can never fail.
const semQueueSize = 130

var (
	errSemInvalid   = &kernel.Error{Module: "sync.Semaphore", Code: kernel.EInvalidArg, Message: "nil semaphore"}
	errSemBusy      = &kernel.Error{Module: "sync.Semaphore", Code: kernel.EBusy, Message: "semaphore unavailable"}
	errSemTimeout   = &kernel.Error{Module: "sync.Semaphore", Code: kernel.ETimedOut, Message: "wait timed out"}
	errSemDestroyed = &kernel.Error{Module: "sync.Semaphore", Code: kernel.EInvalidArg, Message: "semaphore destroyed"}
)

// Semaphore is a counting semaphore with a FIFO wait queue. Waiters are
// suspended through the scheduler hooks rather than spinning, so a Semaphore
// is only usable after the task subsystem has been initialized (or, in tests,
// with a yield hook installed).
type Semaphore struct {
	lock  Spinlock
	value int32

	queue [semQueueSize]uint32
	wpos  uint32
	rpos  uint32
	count uint32

	destroyed bool
}

// Init sets the initial counter value and empties the wait queue.
func (s *Semaphore) Init(value int32) *kernel.Error {
	if s == nil || value < 0 {
		return errSemInvalid
	}

	s.lock.Acquire()
	s.value = value
	s.wpos = 0
	s.rpos = 0
	s.count = 0
	s.destroyed = false
	s.lock.Release()
	return nil
}

// Destroy invalidates the semaphore and wakes every queued waiter; their
// pending and any future operations fail with EInvalidArg.
func (s *Semaphore) Destroy() *kernel.Error {
	if s == nil {
		return errSemInvalid
	}

	s.lock.Acquire()
	s.destroyed = true
	var waiters [semQueueSize]uint32
	n := s.count
	for i := uint32(0); i < n; i++ {
		waiters[i] = s.queue[(s.rpos+i)%semQueueSize]
	}
	s.rpos = 0
	s.wpos = 0
	s.count = 0
	s.lock.Release()

	for i := uint32(0); i < n; i++ {
		wakeupTask(waiters[i])
	}
	return nil
}

// TryWait attempts to decrement the counter without blocking. It returns
// EBusy when the counter is zero.
func (s *Semaphore) TryWait() *kernel.Error {
	if s == nil {
		return errSemInvalid
	}

	var err *kernel.Error = errSemBusy
	s.lock.Acquire()
	if s.destroyed {
		s.lock.Release()
		return errSemDestroyed
	}
	if s.value > 0 {
		s.value--
		err = nil
	}
	s.lock.Release()
	return err
}

// Wait decrements the counter, blocking the calling task until the counter
// becomes positive. A non-zero timeout is a number of clock ticks after which
// the wait is abandoned with ETimedOut.
func (s *Semaphore) Wait(timeout uint64) *kernel.Error {
	if s == nil {
		return errSemInvalid
	}

	var deadline uint64
	if timeout != 0 {
		deadline = clockTick() + timeout
	}

	for {
		s.lock.Acquire()
		if s.destroyed {
			s.lock.Release()
			return errSemDestroyed
		}
		if s.value > 0 {
			s.value--
			s.lock.Release()
			return nil
		}

		if deadline != 0 && clockTick() >= deadline {
			s.lock.Release()
			return errSemTimeout
		}

		id := currentTaskID()
		s.enqueueLocked(id)
		blockCurrentTask()
		s.lock.Release()

		if deadline != 0 {
			setTimer(deadline)
		}
		reschedule()

		// Woken up either by a Post or by the timer; in the timeout
		// case our id may still sit in the queue and must not receive
		// a future wakeup on our behalf.
		if deadline != 0 {
			s.lock.Acquire()
			s.removeLocked(id)
			s.lock.Release()
		}
	}
}

// Post increments the counter and wakes the longest-waiting task, if any.
func (s *Semaphore) Post() *kernel.Error {
	if s == nil {
		return errSemInvalid
	}

	s.lock.Acquire()
	if s.destroyed {
		s.lock.Release()
		return errSemDestroyed
	}
	s.value++
	if s.count > 0 {
		id := s.queue[s.rpos]
		s.rpos = (s.rpos + 1) % semQueueSize
		s.count--
		s.lock.Release()
		wakeupTask(id)
		return nil
	}
	s.lock.Release()
	return nil
}

// Value returns the current counter value. It is inherently racy and meant
// for diagnostics only.
func (s *Semaphore) Value() int32 {
	s.lock.Acquire()
	v := s.value
	s.lock.Release()
	return v
}

func (s *Semaphore) enqueueLocked(id uint32) {
	if s.count == semQueueSize {
		// Cannot happen with a correctly sized task table.
		return
	}
	s.queue[s.wpos] = id
	s.wpos = (s.wpos + 1) % semQueueSize
	s.count++
}

// removeLocked drops every queued entry for id, compacting the ring.
func (s *Semaphore) removeLocked(id uint32) {
	n := s.count
	pos := s.rpos
	s.rpos = 0
	s.wpos = 0
	s.count = 0
	for i := uint32(0); i < n; i++ {
		v := s.queue[(pos+i)%semQueueSize]
		if v != id {
			s.enqueueLocked(v)
		}
	}
}
