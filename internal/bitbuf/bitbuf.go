// Package bitbuf holds a received hardware message and hands it back as
// arbitrary-width bit fields.
//
// Bytes are appended in arrival order. Fields are read least significant bit
// first: bit 0 of the first byte is the first bit of the message.
package bitbuf

import (
	"errors"
	"fmt"
)

// MaxFieldBits is the widest field Get can return.
const MaxFieldBits = 64

// growBlock is the allocation step for the backing store.
const growBlock = 512

var (
	ErrFieldTooWide = errors.New("bitbuf: field wider than 64 bits")
	ErrShortBuffer  = errors.New("bitbuf: read past end of message")
)

// Buffer is an append-only byte store with a bit-granular read cursor.
// The zero value is ready to use. A Buffer is not safe for concurrent use.
type Buffer struct {
	buf     []byte
	writeAt int    // next free byte
	readAt  uint64 // next unread bit
}

// Reset rewinds both cursors. Storage is kept for the next message.
func (b *Buffer) Reset() {
	b.writeAt = 0
	b.readAt = 0
}

// Put appends one byte.
func (b *Buffer) Put(v byte) {
	if b.writeAt >= len(b.buf) {
		grown := make([]byte, len(b.buf)+growBlock)
		copy(grown, b.buf)
		b.buf = grown
	}
	b.buf[b.writeAt] = v
	b.writeAt++
}

// Get consumes nBits and returns them with the first bit read in bit 0.
func (b *Buffer) Get(nBits int) (uint64, error) {
	if nBits < 0 || nBits > MaxFieldBits {
		return 0, fmt.Errorf("%w: requested %d", ErrFieldTooWide, nBits)
	}
	if uint64(nBits) > b.MsgBitsLeft() {
		return 0, fmt.Errorf("%w: requested %d bits, %d left", ErrShortBuffer, nBits, b.MsgBitsLeft())
	}

	var out uint64
	for i := 0; i < nBits; {
		byteIdx := b.readAt >> 3
		shift := uint(b.readAt & 7)
		take := 8 - int(shift)
		if take > nBits-i {
			take = nBits - i
		}
		chunk := uint64(b.buf[byteIdx]>>shift) & (1<<uint(take) - 1)
		out |= chunk << uint(i)
		i += take
		b.readAt += uint64(take)
	}
	return out, nil
}

// MsgBits is the number of bits written since the last Reset.
func (b *Buffer) MsgBits() uint64 {
	return uint64(b.writeAt) * 8
}

// MsgBitsLeft is the number of bits not yet returned by Get.
func (b *Buffer) MsgBitsLeft() uint64 {
	return b.MsgBits() - b.readAt
}

// Cap reports the retained storage size in bytes.
func (b *Buffer) Cap() int {
	return len(b.buf)
}
