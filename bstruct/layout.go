package bstruct

import (
	"encoding/binary"
	"fmt"
)

// Kind is the type of value stored in a [Field].
type Kind uint8

const (
	KindUint  Kind = iota // unsigned integer
	KindInt               // signed integer
	KindBytes             // byte array
	KindBits              // bit-field
)

// Field describes a named field of a [Layout].
// Uint and Int fields are 1, 2, 4 or 8 bytes wide.
type Field struct {
	Name   string
	Kind   Kind
	Offset int
	Size   int
	// Bits is used by KindBits fields only.
	Bits BitField
}

// Uint returns an unsigned integer field descriptor.
func Uint(name string, off, size int) Field {
	return Field{Name: name, Kind: KindUint, Offset: off, Size: size}
}

// Int returns a signed integer field descriptor.
func Int(name string, off, size int) Field {
	return Field{Name: name, Kind: KindInt, Offset: off, Size: size}
}

// Bytes returns a fixed size byte array field descriptor.
func Bytes(name string, off, size int) Field {
	return Field{Name: name, Kind: KindBytes, Offset: off, Size: size}
}

// Bits returns a bit-field descriptor.
func Bits(name string, bf BitField) Field {
	return Field{Name: name, Kind: KindBits, Offset: bf.Offset, Size: int(bf.Size), Bits: bf}
}

// Layout is a fixed size binary structure made up of named fields.
type Layout struct {
	Name   string
	Size   int
	Fields []Field
}

// Values maps field names to values used to construct a Struct with [Layout.Alloc].
// Integer fields accept any Go integer type or bool, byte arrays accept []byte or string.
type Values map[string]any

// Validate checks that all fields lie within the layout size.
func (l *Layout) Validate() error {
	for _, f := range l.Fields {
		if f.Offset < 0 || f.Offset+f.Size > l.Size {
			return fmt.Errorf("%s.%s: %w", l.Name, f.Name, errShort)
		}
		switch f.Kind {
		case KindUint, KindInt:
			if f.Size != 1 && f.Size != 2 && f.Size != 4 && f.Size != 8 {
				return fmt.Errorf("%s.%s: %w", l.Name, f.Name, errUnsupported)
			}
		case KindBits:
			if !f.Bits.valid() {
				return fmt.Errorf("%s.%s: %w", l.Name, f.Name, errBadBitField)
			}
		}
	}
	return nil
}

// Field returns the named field descriptor.
func (l *Layout) Field(name string) (Field, bool) {
	for _, f := range l.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// View returns a zero-copy Struct over buf. Only the buffer length is checked.
func (l *Layout) View(buf []byte, order binary.ByteOrder) (Struct, error) {
	return Make(buf, l.Size, order)
}

// Alloc allocates a zeroed buffer of the layout's size and writes the supplied values.
func (l *Layout) Alloc(order binary.ByteOrder, vals Values) (Struct, error) {
	s := Alloc(l.Size, order)
	for name, v := range vals {
		err := l.Set(s, name, v)
		if err != nil {
			return Struct{}, err
		}
	}
	return s, nil
}

// Get returns the value of the named field: uint64 for Uint and Bits fields,
// int64 for Int fields and an aliased []byte for byte arrays.
func (l *Layout) Get(s Struct, name string) (any, error) {
	f, ok := l.Field(name)
	if !ok {
		return nil, fmt.Errorf("%s.%s: %w", l.Name, name, errUnknownField)
	}
	return f.get(s), nil
}

// Uint returns the named integer or bit-field value. It panics if the field does not exist.
func (l *Layout) Uint(s Struct, name string) uint64 {
	f, ok := l.Field(name)
	if !ok {
		panic(l.Name + "." + name + ": unknown field")
	}
	switch f.Kind {
	case KindInt:
		return uint64(f.get(s).(int64))
	case KindBytes:
		panic(l.Name + "." + name + ": not an integer field")
	}
	return f.get(s).(uint64)
}

// Set writes v into the named field. Values that do not fit the field are rejected.
func (l *Layout) Set(s Struct, name string, v any) error {
	f, ok := l.Field(name)
	if !ok {
		return fmt.Errorf("%s.%s: %w", l.Name, name, errUnknownField)
	}
	err := f.set(s, v)
	if err != nil {
		return fmt.Errorf("%s.%s: %w", l.Name, name, err)
	}
	return nil
}

// Object returns every field of s keyed by name.
func (l *Layout) Object(s Struct) map[string]any {
	obj := make(map[string]any, len(l.Fields))
	for _, f := range l.Fields {
		v := f.get(s)
		if b, ok := v.([]byte); ok {
			v = append([]byte(nil), b...)
		}
		obj[f.Name] = v
	}
	return obj
}

func (f Field) get(s Struct) any {
	switch f.Kind {
	case KindBytes:
		return s.Array(f.Offset, f.Size)
	case KindBits:
		return uint64(s.Bits(f.Bits))
	case KindInt:
		switch f.Size {
		case 1:
			return int64(s.I8(f.Offset))
		case 2:
			return int64(s.I16(f.Offset))
		case 4:
			return int64(s.I32(f.Offset))
		}
		return s.I64(f.Offset)
	}
	switch f.Size {
	case 1:
		return uint64(s.U8(f.Offset))
	case 2:
		return uint64(s.U16(f.Offset))
	case 4:
		return uint64(s.U32(f.Offset))
	}
	return s.U64(f.Offset)
}

func (f Field) set(s Struct, v any) error {
	if f.Kind == KindBytes {
		var b []byte
		switch vv := v.(type) {
		case []byte:
			b = vv
		case string:
			b = []byte(vv)
		default:
			return errUnsupported
		}
		if len(b) > f.Size {
			return errOverflow
		}
		s.PutArray(f.Offset, f.Size, b)
		return nil
	}
	u, neg, ok := toUint(v)
	if !ok {
		return errUnsupported
	}
	switch f.Kind {
	case KindBits:
		if neg || u >= 1<<f.Bits.Width {
			return errOverflow
		}
		s.SetBits(f.Bits, uint32(u))
		return nil
	case KindInt:
		bits := 8 * uint(f.Size)
		if bits < 64 {
			i := int64(u)
			lim := int64(1) << (bits - 1)
			if i < -lim || i >= lim {
				return errOverflow
			}
		}
	default:
		if neg || (f.Size < 8 && u >= 1<<(8*uint(f.Size))) {
			return errOverflow
		}
	}
	switch f.Size {
	case 1:
		s.PutU8(f.Offset, uint8(u))
	case 2:
		s.PutU16(f.Offset, uint16(u))
	case 4:
		s.PutU32(f.Offset, uint32(u))
	default:
		s.PutU64(f.Offset, u)
	}
	return nil
}

// toUint returns the two's complement bits of an integer value and whether it is negative.
func toUint(v any) (u uint64, neg, ok bool) {
	switch vv := v.(type) {
	case bool:
		if vv {
			u = 1
		}
	case uint8:
		u = uint64(vv)
	case uint16:
		u = uint64(vv)
	case uint32:
		u = uint64(vv)
	case uint64:
		u = vv
	case uint:
		u = uint64(vv)
	case int8:
		u, neg = uint64(vv), vv < 0
	case int16:
		u, neg = uint64(vv), vv < 0
	case int32:
		u, neg = uint64(vv), vv < 0
	case int64:
		u, neg = uint64(vv), vv < 0
	case int:
		u, neg = uint64(vv), vv < 0
	default:
		return 0, false, false
	}
	return u, neg, true
}
