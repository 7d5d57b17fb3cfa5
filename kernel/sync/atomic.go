// Package sync provides the kernel synchronization primitives: atomic
// counters, spinlocks, the island ticket lock, counting semaphores and the
// bounded mailboxes built on top of them.
package sync

import "sync/atomic"

// Int32 is a 32-bit counter which can be manipulated atomically by multiple
// cores. All operations carry sequential-consistency semantics.
type Int32 struct {
	value int32
}

// Get returns the current counter value.
func (a *Int32) Get() int32 {
	return atomic.LoadInt32(&a.value)
}

// Set replaces the counter value.
func (a *Int32) Set(v int32) {
	atomic.StoreInt32(&a.value, v)
}

// Inc atomically increments the counter and returns the new value.
func (a *Int32) Inc() int32 {
	return atomic.AddInt32(&a.value, 1)
}

// Dec atomically decrements the counter and returns the new value.
func (a *Int32) Dec() int32 {
	return atomic.AddInt32(&a.value, -1)
}

// Add atomically adds delta to the counter and returns the new value.
func (a *Int32) Add(delta int32) int32 {
	return atomic.AddInt32(&a.value, delta)
}

// CompareExchange atomically replaces the counter value with next if it
// currently equals expected. It returns true if the swap took place.
func (a *Int32) CompareExchange(expected, next int32) bool {
	return atomic.CompareAndSwapInt32(&a.value, expected, next)
}

// Int64 is the 64-bit variant of Int32. It backs the global page accounting
// counters which can exceed the 32-bit range on large machines.
type Int64 struct {
	value int64
}

// Get returns the current counter value.
func (a *Int64) Get() int64 {
	return atomic.LoadInt64(&a.value)
}

// Set replaces the counter value.
func (a *Int64) Set(v int64) {
	atomic.StoreInt64(&a.value, v)
}

// Add atomically adds delta to the counter and returns the new value.
func (a *Int64) Add(delta int64) int64 {
	return atomic.AddInt64(&a.value, delta)
}
