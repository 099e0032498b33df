package hwsim

import (
	"github.com/danmuck/leapscan/internal/bitbuf"
	"github.com/danmuck/leapscan/internal/strtab"
)

// Field is one value packed into a record, low bit first.
type Field struct {
	Width int
	Value uint64
}

// Record is one scan message: a tag uid followed by its fields and then
// any literal bytes.
type Record struct {
	Tag    uint32
	Fields []Field
	Bytes  []byte
}

// Encode packs r the way hardware does: tag uid in layout.UIDBits bits,
// then each field, zero padded to a byte.
func (r Record) Encode(layout strtab.Layout) []byte {
	var w bitbuf.Writer
	w.PutBits(uint64(r.Tag), layout.UIDBits)
	for _, f := range r.Fields {
		w.PutBits(f.Value, f.Width)
	}
	w.PutBytes(r.Bytes)
	return w.Bytes()
}

// ConnectionEntry builds the fields of one soft connection entry.
func ConnectionEntry(layout strtab.Layout, local uint32, notEmpty, notFull bool) []Field {
	return []Field{
		{Width: layout.LocalBits, Value: uint64(local)},
		{Width: 1, Value: boolBit(notEmpty)},
		{Width: 1, Value: boolBit(notFull)},
	}
}

func boolBit(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
