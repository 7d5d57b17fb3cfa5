package kmalloc

import (
	"unsafe"

	"hermit/kernel"
	"hermit/kernel/kfmt"
	"hermit/kernel/sync"
)

const (
	// buddyMin is the exponent of the smallest block the allocator hands
	// out. Smaller requests are rounded up to 1<<buddyMin bytes.
	buddyMin = 6

	// buddyMax is the largest supported block exponent.
	buddyMax = 32

	// buddyAlloc is the exponent threshold at which the allocator stops
	// splitting larger buddies and instead grows the heap by mapping
	// fresh page runs of exactly that size.
	buddyAlloc = 16

	// buddyMagic tags the header of every live block so Kfree can detect
	// corrupted or foreign pointers.
	buddyMagic = 0xbabe

	// headerSize is the per-allocation bookkeeping prefix. The header
	// keeps the block exponent and the magic tag; the remaining bytes
	// keep payloads 8-byte aligned.
	headerSize = 8

	// maxPayload is the largest request that still fits the biggest
	// block together with its header. Larger sizes must be rejected up
	// front: adding the header to them can wrap the address space.
	maxPayload = uintptr(1)<<buddyMax - headerSize
)

// buddyHeader is the prefix of every block handed out by Kmalloc. For blocks
// sitting on a free list the same memory holds the free list link instead.
type buddyHeader struct {
	exponent uint8
	_        uint8
	magic    uint16
	_        uint32
}

// freeBlock overlays a block on a free list; next links blocks of the same
// exponent.
type freeBlock struct {
	next *freeBlock
}

var (
	errInvalidExponent = &kernel.Error{Module: "kmalloc", Code: kernel.EInvalidArg, Message: "block exponent out of range"}
	errOutOfMemory     = &kernel.Error{Module: "kmalloc", Code: kernel.EOutOfMemory, Message: "heap exhausted"}
	errCorruptedHeap   = &kernel.Error{Module: "kmalloc", Code: kernel.ECorrupt, Message: "block header corrupted"}

	// pageAllocFn maps a fresh physically backed region of the given byte
	// size into the kernel address space and returns its virtual address.
	// It defaults to the pmm/vmm bridge in heap.go and is swapped by
	// tests for a heap carved out of a plain byte slice.
	pageAllocFn = heapGrow

	panicFn = kfmt.Panic
)

// allocator is a binary buddy allocator. Blocks are split on demand; freed
// blocks return to the free list of their exponent and are never coalesced,
// matching the allocation pattern of a long-running kernel where block sizes
// recur constantly.
type allocator struct {
	lock      sync.IrqSpinlock
	freeLists [buddyMax + 1]*freeBlock
}

var heap allocator

// blockExponent returns the smallest exponent whose block fits size payload
// bytes plus the header. The caller must have bounded size by maxPayload;
// anything larger yields buddyMax+1 which every consumer rejects.
func blockExponent(size uintptr) uint8 {
	total := size + headerSize
	exp := uint8(buddyMin)
	for exp <= buddyMax && uintptr(1)<<exp < total {
		exp++
	}
	return exp
}

// get returns a block of exactly 1<<exp bytes, splitting or growing as
// needed. The allocator lock must be held.
func (a *allocator) get(exp uint8) (*freeBlock, *kernel.Error) {
	if exp < buddyMin || exp > buddyMax {
		return nil, errInvalidExponent
	}

	if block := a.freeLists[exp]; block != nil {
		a.freeLists[exp] = block.next
		return block, nil
	}

	// Large blocks are not split off even larger ones; the heap grows by
	// exactly the requested amount instead.
	if exp >= buddyAlloc && !a.hasLarger(exp) {
		addr, err := pageAllocFn(uintptr(1) << exp)
		if err != nil {
			return nil, err
		}
		return (*freeBlock)(unsafe.Pointer(addr)), nil
	}

	buddy, err := a.get(exp + 1)
	if err != nil {
		return nil, err
	}

	// Keep the upper half and return the lower one.
	upper := (*freeBlock)(unsafe.Pointer(uintptr(unsafe.Pointer(buddy)) + uintptr(1)<<exp))
	upper.next = a.freeLists[exp]
	a.freeLists[exp] = upper
	return buddy, nil
}

// hasLarger reports whether any free list above exp holds a block. The
// allocator lock must be held.
func (a *allocator) hasLarger(exp uint8) bool {
	for e := exp + 1; e <= buddyMax; e++ {
		if a.freeLists[e] != nil {
			return true
		}
	}
	return false
}

// put pushes a block back on the free list of its exponent. The allocator
// lock must be held.
func (a *allocator) put(block *freeBlock, exp uint8) {
	block.next = a.freeLists[exp]
	a.freeLists[exp] = block
}

// Kmalloc reserves size bytes of kernel heap and returns their virtual
// address. The returned region is 8-byte aligned and carries a hidden header
// directly in front of it.
func Kmalloc(size uintptr) (uintptr, *kernel.Error) {
	if size == 0 || size > maxPayload {
		return 0, errInvalidExponent
	}

	exp := blockExponent(size)
	if exp > buddyMax {
		return 0, errInvalidExponent
	}

	heap.lock.Lock()
	block, err := heap.get(exp)
	heap.lock.Unlock()
	if err != nil {
		return 0, err
	}

	header := (*buddyHeader)(unsafe.Pointer(block))
	header.exponent = exp
	header.magic = buddyMagic

	return uintptr(unsafe.Pointer(block)) + headerSize, nil
}

// Kfree releases a region previously returned by Kmalloc. Passing a pointer
// whose header fails validation panics: a corrupt header means the heap
// bookkeeping can no longer be trusted.
func Kfree(addr uintptr) {
	if addr == 0 {
		return
	}

	header := (*buddyHeader)(unsafe.Pointer(addr - headerSize))
	if header.magic != buddyMagic || header.exponent < buddyMin || header.exponent > buddyMax {
		panicFn(errCorruptedHeap)
		return
	}

	exp := header.exponent
	header.magic = 0

	heap.lock.Lock()
	heap.put((*freeBlock)(unsafe.Pointer(addr-headerSize)), exp)
	heap.lock.Unlock()
}

// BuddyDump prints the number of free blocks per exponent for diagnostics.
func BuddyDump() {
	heap.lock.Lock()
	defer heap.lock.Unlock()

	kfmt.Printf("[kmalloc] buddy free lists:\n")
	for exp := buddyMin; exp <= buddyMax; exp++ {
		count := 0
		for block := heap.freeLists[exp]; block != nil; block = block.next {
			count++
		}
		if count != 0 {
			kfmt.Printf("\texp %2d (%9d bytes): %d block(s)\n", exp, uintptr(1)<<uint(exp), count)
		}
	}
}
