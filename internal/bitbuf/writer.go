package bitbuf

// Writer packs fields in the order Buffer.Get reads them back. It is the
// producing side used by the hardware simulator and tests.
type Writer struct {
	out   []byte
	nbits uint64
}

// PutBits appends the low n bits of v. n is clamped to 0..64.
func (w *Writer) PutBits(v uint64, n int) {
	if n <= 0 {
		return
	}
	if n > MaxFieldBits {
		n = MaxFieldBits
	}
	for i := 0; i < n; i++ {
		if w.nbits&7 == 0 {
			w.out = append(w.out, 0)
		}
		if v>>uint(i)&1 == 1 {
			w.out[len(w.out)-1] |= 1 << (w.nbits & 7)
		}
		w.nbits++
	}
}

// PutBytes appends whole bytes, each occupying the next 8 bits.
func (w *Writer) PutBytes(p []byte) {
	for _, b := range p {
		w.PutBits(uint64(b), 8)
	}
}

// Bits is the number of bits written so far.
func (w *Writer) Bits() uint64 { return w.nbits }

// Bytes returns the packed message, zero padded to a byte boundary.
func (w *Writer) Bytes() []byte {
	out := make([]byte, len(w.out))
	copy(out, w.out)
	return out
}
