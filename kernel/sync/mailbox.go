package sync

import (
	"hermit/kernel"
)

// MailboxSize is the fixed backing capacity of every mailbox. Init may
// restrict the effective capacity to a smaller value.
const MailboxSize = 128

var (
	errMboxInvalid = &kernel.Error{Module: "sync.Mailbox", Code: kernel.EInvalidArg, Message: "invalid mailbox or capacity"}
)

// Mailbox is a bounded FIFO channel of int32 messages. Producers block when
// the box is full and consumers block when it is empty. Reads and writes are
// serialized independently so one producer and one consumer can make
// progress concurrently.
type Mailbox struct {
	buffer [MailboxSize]int32
	wpos   uint32
	rpos   uint32
	size   uint32

	mails Semaphore
	boxes Semaphore

	rlock Spinlock
	wlock Spinlock
}

// Init prepares the mailbox for use with the given effective capacity.
func (m *Mailbox) Init(capacity uint32) *kernel.Error {
	if m == nil || capacity == 0 || capacity > MailboxSize {
		return errMboxInvalid
	}

	m.wpos = 0
	m.rpos = 0
	m.size = capacity
	m.mails.Init(0)
	m.boxes.Init(int32(capacity))
	return nil
}

// Destroy invalidates the mailbox and wakes all blocked producers and
// consumers; their pending and any future operations fail with EInvalidArg.
func (m *Mailbox) Destroy() *kernel.Error {
	if m == nil {
		return errMboxInvalid
	}

	m.size = 0
	m.mails.Destroy()
	m.boxes.Destroy()
	return nil
}

// Post enqueues msg, blocking until a free slot is available.
func (m *Mailbox) Post(msg int32) *kernel.Error {
	if m == nil || m.size == 0 {
		return errMboxInvalid
	}

	if err := m.boxes.Wait(0); err != nil {
		return err
	}
	m.deposit(msg)
	return m.mails.Post()
}

// TryPost enqueues msg if a slot is free, returning EBusy otherwise.
func (m *Mailbox) TryPost(msg int32) *kernel.Error {
	if m == nil || m.size == 0 {
		return errMboxInvalid
	}

	if err := m.boxes.TryWait(); err != nil {
		return err
	}
	m.deposit(msg)
	return m.mails.Post()
}

// Fetch dequeues the oldest message, blocking until one arrives. A non-zero
// timeout is a number of clock ticks after which ETimedOut is returned.
func (m *Mailbox) Fetch(timeout uint64) (int32, *kernel.Error) {
	if m == nil || m.size == 0 {
		return 0, errMboxInvalid
	}

	if err := m.mails.Wait(timeout); err != nil {
		return 0, err
	}
	msg := m.withdraw()
	return msg, m.boxes.Post()
}

// TryFetch dequeues the oldest message if one is present, returning EBusy
// otherwise.
func (m *Mailbox) TryFetch() (int32, *kernel.Error) {
	if m == nil || m.size == 0 {
		return 0, errMboxInvalid
	}

	if err := m.mails.TryWait(); err != nil {
		return 0, err
	}
	msg := m.withdraw()
	return msg, m.boxes.Post()
}

// Pending returns the number of messages currently queued. Diagnostic only.
func (m *Mailbox) Pending() int32 {
	return m.mails.Value()
}

func (m *Mailbox) deposit(msg int32) {
	m.wlock.Acquire()
	m.buffer[m.wpos] = msg
	m.wpos = (m.wpos + 1) % m.size
	m.wlock.Release()
}

func (m *Mailbox) withdraw() int32 {
	m.rlock.Acquire()
	msg := m.buffer[m.rpos]
	m.rpos = (m.rpos + 1) % m.size
	m.rlock.Release()
	return msg
}
