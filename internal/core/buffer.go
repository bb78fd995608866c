// Package core contains the runtime of BootBridge.
package core

// BufferSize is the capacity of the local-input transfer buffer.
const BufferSize = 65536

// TransferBuffer queues local keystrokes until the device accepts them.
// Unsent bytes live in data[start:end], with 0 <= start <= end <= len(data).
type TransferBuffer struct {
	data  []byte
	start int
	end   int
}

// NewTransferBuffer allocates a buffer of the given capacity.
func NewTransferBuffer(capacity int) *TransferBuffer {
	return &TransferBuffer{data: make([]byte, capacity)}
}

// Cap returns the fixed capacity.
func (b *TransferBuffer) Cap() int { return len(b.data) }

// Len returns the number of unsent bytes.
func (b *TransferBuffer) Len() int { return b.end - b.start }

// Empty reports whether nothing is waiting.
func (b *TransferBuffer) Empty() bool { return b.start == b.end }

// HasRoom reports whether another local read can be accepted.
func (b *TransferBuffer) HasRoom() bool { return b.end < len(b.data) }

// Tail returns the free space after the unsent bytes, for the next local read.
func (b *TransferBuffer) Tail() []byte { return b.data[b.end:] }

// Filled records n bytes read into Tail.
func (b *TransferBuffer) Filled(n int) { b.end += n }

// Pending returns the unsent bytes.
func (b *TransferBuffer) Pending() []byte { return b.data[b.start:b.end] }

// Consumed records n bytes written to the device. A drained buffer rewinds to
// offset 0; a full one is compacted so local reads can continue.
func (b *TransferBuffer) Consumed(n int) {
	b.start += n
	if b.start == b.end {
		b.start, b.end = 0, 0
	}
	if b.end == len(b.data) {
		b.end = copy(b.data, b.data[b.start:b.end])
		b.start = 0
	}
}

// Discard drops everything unsent and returns how much that was.
func (b *TransferBuffer) Discard() int {
	n := b.Len()
	b.start, b.end = 0, 0
	return n
}
