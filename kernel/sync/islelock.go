package sync

import "hermit/kernel/cpu"

// IsleLock is a ticket lock that serializes access to resources shared
// between isles (logical groups of cores running the same kernel instance).
// Each acquirer draws a monotonically increasing ticket and spins until the
// now-serving counter reaches it, which makes the hand-off strictly fair.
//
// Unlike the spinlock variants, an IsleLock is acquired with interrupts
// enabled and may be held for comparatively long stretches; ticket fairness
// prevents starvation of remote isles. At any moment (queue - dequeue + 1)
// equals the number of waiters plus the holder.
type IsleLock struct {
	queue   Int32
	dequeue Int32
}

// Init prepares the lock for use. The now-serving counter starts at 1 so the
// first drawn ticket acquires immediately.
func (l *IsleLock) Init() {
	l.queue.Set(0)
	l.dequeue.Set(1)
}

// Destroy releases any resources held by the lock.
func (l *IsleLock) Destroy() {
	l.queue.Set(0)
	l.dequeue.Set(1)
}

// Lock draws a ticket and spins until it is being served.
func (l *IsleLock) Lock() {
	ticket := l.queue.Inc()
	for attempt := uint32(1); l.dequeue.Get() != ticket; attempt++ {
		cpu.Pause()
		if yieldFn != nil && attempt%spinAttempts == 0 {
			yieldFn()
		}
	}
}

// Unlock hands the lock to the next ticket holder.
func (l *IsleLock) Unlock() {
	l.dequeue.Inc()
}
