package pmm

import (
	"hermit/kernel"
	"hermit/kernel/hal/bootinfo"
	"hermit/kernel/mm"
	"hermit/kernel/sync"
)

const (
	// maxFrames is the number of physical frames the allocator can track.
	maxFrames = mm.MaxPhysMem >> mm.PageShift

	// bitmapWords is the size of the frame bitmap in 64-bit words. The
	// bitmap lives in the kernel image so the allocator needs no memory
	// to bootstrap itself.
	bitmapWords = maxFrames / 64
)

var (
	errBitmapInvalidRegion = &kernel.Error{Module: "pmm", Code: kernel.EInvalidArg, Message: "invalid page region"}
	errBitmapOutOfMemory   = &kernel.Error{Module: "pmm", Code: kernel.EOutOfMemory, Message: "out of physical memory"}
	errBitmapDoubleFree    = &kernel.Error{Module: "pmm", Code: kernel.EInvalidArg, Message: "page region not reserved"}
)

// bitmapAllocator tracks physical frames in a fixed bitmap where a set bit
// indicates a reserved or unavailable frame. Frames are handed out first-fit
// starting at a rolling cursor so successive allocations tend to stay
// clustered without rescanning low memory every time.
type bitmapAllocator struct {
	lock sync.IrqSpinlock

	bitmap [bitmapWords]uint64
	cursor uintptr

	totalPages sync.Int64
	usedPages  sync.Int64
}

// init populates the bitmap from the loader memory map. All frames start out
// reserved; frames inside available regions are then released and frames
// overlapping the kernel image (plus the zero frame) are reserved again.
func (alloc *bitmapAllocator) init(inf *bootinfo.Info) *kernel.Error {
	for i := uintptr(0); i < bitmapWords; i++ {
		alloc.bitmap[i] = ^uint64(0)
	}
	alloc.cursor = 0
	alloc.totalPages.Set(0)
	alloc.usedPages.Set(0)

	var total int64
	inf.VisitMemRegions(func(region *bootinfo.MemRegion) bool {
		if region.Type != bootinfo.RegionAvailable {
			return true
		}

		// Shrink the region to page boundaries and clip it to the
		// tracked physical range.
		start := (uintptr(region.Base) + mm.PageSize - 1) & ^(mm.PageSize - 1)
		end := uintptr(region.Base+region.Length) & ^(mm.PageSize - 1)
		if end > mm.MaxPhysMem {
			end = mm.MaxPhysMem
		}

		for addr := start; addr < end; addr += mm.PageSize {
			alloc.clearBit(addr >> mm.PageShift)
			total++
		}
		return true
	})

	if total == 0 {
		return errBitmapOutOfMemory
	}
	alloc.totalPages.Set(total)

	// The zero frame stays reserved so a returned address of 0 can never
	// be a valid allocation.
	alloc.reserveRange(0, mm.PageSize)
	alloc.reserveRange(inf.KernelStart, inf.KernelEnd)
	return nil
}

// reserveRange marks the frames overlapping [start, end) as unavailable,
// adjusting the page counters for frames that were free.
func (alloc *bitmapAllocator) reserveRange(start, end uintptr) {
	start &= ^(mm.PageSize - 1)
	end = (end + mm.PageSize - 1) & ^(mm.PageSize - 1)
	if end > mm.MaxPhysMem {
		end = mm.MaxPhysMem
	}

	for addr := start; addr < end; addr += mm.PageSize {
		frame := addr >> mm.PageShift
		if !alloc.testBit(frame) {
			alloc.setBit(frame)
			alloc.totalPages.Add(-1)
		}
	}
}

func (alloc *bitmapAllocator) getPages(npages uint32) (uintptr, *kernel.Error) {
	if npages == 0 {
		return 0, errBitmapInvalidRegion
	}

	alloc.lock.Lock()
	defer alloc.lock.Unlock()

	if first, found := alloc.findRun(alloc.cursor, maxFrames, uintptr(npages)); found {
		return alloc.commitRun(first, npages), nil
	}
	// Wrap around and retry the skipped low frames.
	if first, found := alloc.findRun(0, alloc.cursor, uintptr(npages)); found {
		return alloc.commitRun(first, npages), nil
	}

	return 0, errBitmapOutOfMemory
}

// findRun scans frames [start, limit) for a run of npages clear bits and
// returns the first frame of the run.
func (alloc *bitmapAllocator) findRun(start, limit, npages uintptr) (uintptr, bool) {
	var runStart, runLen uintptr

	for frame := start; frame < limit; frame++ {
		// Skip whole words of reserved frames.
		if runLen == 0 && frame%64 == 0 && alloc.bitmap[frame/64] == ^uint64(0) {
			frame += 63
			continue
		}

		if alloc.testBit(frame) {
			runLen = 0
			continue
		}
		if runLen == 0 {
			runStart = frame
		}
		if runLen++; runLen == npages {
			return runStart, true
		}
	}

	return 0, false
}

func (alloc *bitmapAllocator) commitRun(first uintptr, npages uint32) uintptr {
	for frame := first; frame < first+uintptr(npages); frame++ {
		alloc.setBit(frame)
	}
	alloc.cursor = first + uintptr(npages)
	if alloc.cursor >= maxFrames {
		alloc.cursor = 0
	}
	alloc.usedPages.Add(int64(npages))
	return first << mm.PageShift
}

func (alloc *bitmapAllocator) putPages(physAddr uintptr, npages uint32) *kernel.Error {
	if npages == 0 || physAddr&(mm.PageSize-1) != 0 || physAddr+uintptr(npages)<<mm.PageShift > mm.MaxPhysMem {
		return errBitmapInvalidRegion
	}

	first := physAddr >> mm.PageShift

	alloc.lock.Lock()
	defer alloc.lock.Unlock()

	// Refuse the whole request if any frame in it is not reserved;
	// releasing a partial region would corrupt the counters.
	for frame := first; frame < first+uintptr(npages); frame++ {
		if !alloc.testBit(frame) {
			return errBitmapDoubleFree
		}
	}

	for frame := first; frame < first+uintptr(npages); frame++ {
		alloc.clearBit(frame)
	}
	alloc.usedPages.Add(-int64(npages))
	return nil
}

func (alloc *bitmapAllocator) testBit(frame uintptr) bool {
	return alloc.bitmap[frame/64]&(1<<(frame%64)) != 0
}

func (alloc *bitmapAllocator) setBit(frame uintptr) {
	alloc.bitmap[frame/64] |= 1 << (frame % 64)
}

func (alloc *bitmapAllocator) clearBit(frame uintptr) {
	alloc.bitmap[frame/64] &= ^(uint64(1) << (frame % 64))
}
