// Package bstruct implements typed offset-based access to fixed layout
// binary structures such as protocol headers and capture file records.
//
// A [Struct] is a view over an existing byte slice: writes through a Struct
// mutate the shared bytes. A [Layout] names the fields of a structure so it may be
// constructed from field values and dumped field by field.
package bstruct

import (
	"encoding/binary"
	"errors"
)

var (
	errShort        = errors.New("bstruct: short buffer")
	errUnknownField = errors.New("bstruct: unknown field")
	errOverflow     = errors.New("bstruct: value overflows field")
	errUnsupported  = errors.New("bstruct: unsupported field value")
	errBadBitField  = errors.New("bstruct: bit-field outside storage word")
)

// Struct provides typed reads and writes at byte offsets of a buffer
// with a fixed byte order. Accessors panic on out of range offsets like
// slice indexing does; use [Make] to check the buffer size once up front.
type Struct struct {
	buf   []byte
	order binary.ByteOrder
}

// Make returns a Struct over buf. An error is returned if buf is shorter than size.
// A nil order selects big endian (network order).
func Make(buf []byte, size int, order binary.ByteOrder) (Struct, error) {
	if len(buf) < size {
		return Struct{}, errShort
	}
	if order == nil {
		order = binary.BigEndian
	}
	return Struct{buf: buf, order: order}, nil
}

// Alloc returns a Struct over a freshly allocated zeroed buffer of the given size.
func Alloc(size int, order binary.ByteOrder) Struct {
	s, _ := Make(make([]byte, size), size, order)
	return s
}

// RawData returns the underlying slice with which the Struct was created.
func (s Struct) RawData() []byte { return s.buf }

// Order returns the byte order of multi-byte fields.
func (s Struct) Order() binary.ByteOrder { return s.order }

// WithOrder returns a view of the same bytes with a different byte order.
func (s Struct) WithOrder(order binary.ByteOrder) Struct {
	s.order = order
	return s
}

func (s Struct) U8(off int) uint8 { return s.buf[off] }
func (s Struct) PutU8(off int, v uint8) { s.buf[off] = v }
func (s Struct) U16(off int) uint16 { return s.order.Uint16(s.buf[off:]) }
func (s Struct) PutU16(off int, v uint16) { s.order.PutUint16(s.buf[off:], v) }
func (s Struct) U32(off int) uint32 { return s.order.Uint32(s.buf[off:]) }
func (s Struct) PutU32(off int, v uint32) { s.order.PutUint32(s.buf[off:], v) }
func (s Struct) U64(off int) uint64 { return s.order.Uint64(s.buf[off:]) }
func (s Struct) PutU64(off int, v uint64) { s.order.PutUint64(s.buf[off:], v) }
func (s Struct) I8(off int) int8 { return int8(s.buf[off]) }
func (s Struct) PutI8(off int, v int8) { s.buf[off] = uint8(v) }
func (s Struct) I16(off int) int16 { return int16(s.U16(off)) }
func (s Struct) PutI16(off int, v int16) { s.PutU16(off, uint16(v)) }
func (s Struct) I32(off int) int32 { return int32(s.U32(off)) }
func (s Struct) PutI32(off int, v int32) { s.PutU32(off, uint32(v)) }
func (s Struct) I64(off int) int64 { return int64(s.U64(off)) }
func (s Struct) PutI64(off int, v int64) { s.PutU64(off, uint64(v)) }

// Array returns the n bytes at off. The returned slice aliases the Struct's buffer.
func (s Struct) Array(off, n int) []byte { return s.buf[off : off+n : off+n] }

// PutArray copies src into the field at off. Bytes of the field past len(src) are zeroed.
func (s Struct) PutArray(off, n int, src []byte) {
	dst := s.buf[off : off+n]
	c := copy(dst, src)
	clear(dst[c:])
}

// BitField describes a run of bits packed in a 1, 2 or 4 byte storage word.
// Shift counts from the least significant bit of the word once it has been
// read in the Struct's byte order.
type BitField struct {
	Offset int   // Byte offset of the storage word.
	Size   uint8 // Storage word size in bytes: 1, 2 or 4.
	Shift  uint8 // Position of the field's least significant bit.
	Width  uint8 // Field width in bits.
}

func (bf BitField) mask() uint32 { return (1<<bf.Width - 1) << bf.Shift }

func (bf BitField) valid() bool {
	return (bf.Size == 1 || bf.Size == 2 || bf.Size == 4) &&
		bf.Width > 0 && int(bf.Shift)+int(bf.Width) <= 8*int(bf.Size)
}

func (s Struct) word(bf BitField) uint32 {
	switch bf.Size {
	case 1:
		return uint32(s.U8(bf.Offset))
	case 2:
		return uint32(s.U16(bf.Offset))
	}
	return s.U32(bf.Offset)
}

func (s Struct) putWord(bf BitField, w uint32) {
	switch bf.Size {
	case 1:
		s.PutU8(bf.Offset, uint8(w))
	case 2:
		s.PutU16(bf.Offset, uint16(w))
	default:
		s.PutU32(bf.Offset, w)
	}
}

// Bits returns the value of the bit-field.
func (s Struct) Bits(bf BitField) uint32 {
	return (s.word(bf) & bf.mask()) >> bf.Shift
}

// SetBits sets the bit-field to v leaving the other bits of the storage word untouched.
// Bits of v beyond the field width are discarded.
func (s Struct) SetBits(bf BitField, v uint32) {
	m := bf.mask()
	s.putWord(bf, s.word(bf)&^m|(v<<bf.Shift)&m)
}

// Flag returns true if the single bit field is set.
func (s Struct) Flag(bf BitField) bool { return s.Bits(bf) != 0 }

// SetFlag sets or clears a single bit field.
func (s Struct) SetFlag(bf BitField, set bool) {
	var v uint32
	if set {
		v = 1
	}
	s.SetBits(bf, v)
}
