package mm

import (
	"reflect"
	"unsafe"
)

// byteRegion overlays a byte slice on a raw virtual address range. The range
// must be mapped for its whole length.
func byteRegion(addr, size uintptr) []byte {
	return *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Data: addr,
		Len:  int(size),
		Cap:  int(size),
	}))
}

// ZeroRegion clears size bytes starting at addr. Freshly mapped page tables
// and frames handed to tasks go through here so no stale data leaks.
func ZeroRegion(addr, size uintptr) {
	region := byteRegion(addr, size)
	for i := range region {
		region[i] = 0
	}
}

// CopyRegion copies size bytes from src to dst. The regions may not overlap.
func CopyRegion(src, dst, size uintptr) {
	copy(byteRegion(dst, size), byteRegion(src, size))
}
