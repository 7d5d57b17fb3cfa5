package kfmt

import "io"

// KmsgSize defines the size of the kernel message ring buffer. All kernel
// output is recorded here regardless of any attached console so that a
// debugger can dump the log post-mortem. The buffer is placed in its own
// section by the linker script and its size must always be a power of 2.
const KmsgSize = 0x1000

// kmsgBuffer is a ring buffer that retains the most recent KmsgSize bytes of
// kernel output. Unlike a pipe, writes never block and old content is simply
// overwritten; readers inspect the buffer without consuming it.
type kmsgBuffer struct {
	buffer  [KmsgSize]byte
	wIndex  int
	wrapped bool
}

// Write appends len(p) bytes from p to the ring, overwriting the oldest
// content when the ring is full.
func (kb *kmsgBuffer) Write(p []byte) (int, error) {
	for _, b := range p {
		kb.buffer[kb.wIndex] = b
		kb.wIndex = (kb.wIndex + 1) & (KmsgSize - 1)
		if kb.wIndex == 0 {
			kb.wrapped = true
		}
	}

	return len(p), nil
}

// CopyTo writes the retained log contents to w in chronological order
// without consuming them.
func (kb *kmsgBuffer) CopyTo(w io.Writer) {
	if kb.wrapped {
		w.Write(kb.buffer[kb.wIndex:])
	}
	w.Write(kb.buffer[:kb.wIndex])
}

// kmessages is the global kernel log ring.
var kmessages kmsgBuffer
