// Package tlv implements the type-length-value option records carried by
// IPv4, TCP and DHCP headers.
package tlv

import (
	"errors"
	"iter"
	"slices"
)

var (
	errValueTooLong = errors.New("tlv: option value too long")
	errSkipValue    = errors.New("tlv: skip-type option cannot carry a value")
	errShortBuf     = errors.New("tlv: short buffer")
)

// Option is a single option record. Records of a skip-type carry only Type.
type Option struct {
	Type uint8 `json:"type" yaml:"type"`
	// Length is the length byte as found on the wire. It is filled in by
	// decoding only: [Codec.Encode] and [Codec.Put] recompute the length byte
	// from Value and ignore this field.
	Length uint8  `json:"recLength,omitempty" yaml:"recLength,omitempty"`
	Value  []byte `json:"value,omitempty" yaml:"value,omitempty"`
}

// Codec selects how records are laid out.
//
// The zero value decodes records where the length byte counts only the value bytes
// and no type is a skip-type.
type Codec struct {
	// LengthIsTotal is set when the length byte counts the type and length bytes too, as in TCP.
	LengthIsTotal bool
	// SkipTypes are decoded as bare 1-byte records with no length or value, i.e: TCP NOP and EOL.
	SkipTypes []uint8
}

// IsSkip reports whether typ is encoded as a bare type byte.
func (c Codec) IsSkip(typ uint8) bool {
	return slices.Contains(c.SkipTypes, typ)
}

// ForEach calls fn for every record fully contained in buf. Iteration stops
// without error at the first record that would overrun buf; the bytes from that
// point on are left unparsed. The Value passed to fn aliases buf.
func (c Codec) ForEach(buf []byte, fn func(Option) error) error {
	for off := 0; off < len(buf); {
		opt, n := c.next(buf[off:])
		if n == 0 {
			return nil // Truncated record.
		}
		if err := fn(opt); err != nil {
			return err
		}
		off += n
	}
	return nil
}

// Decode returns a sequence of the records in buf. Each call of the returned
// sequence walks buf from the start. See [Codec.ForEach] for truncation handling.
func (c Codec) Decode(buf []byte) iter.Seq[Option] {
	return func(yield func(Option) bool) {
		for off := 0; off < len(buf); {
			opt, n := c.next(buf[off:])
			if n == 0 || !yield(opt) {
				return
			}
			off += n
		}
	}
}

// next decodes the record at the start of buf and returns its encoded size, or zero if truncated.
func (c Codec) next(buf []byte) (Option, int) {
	typ := buf[0]
	if c.IsSkip(typ) {
		return Option{Type: typ}, 1
	}
	if len(buf) < 2 {
		return Option{}, 0
	}
	dataLen := int(buf[1])
	if c.LengthIsTotal {
		dataLen -= 2
	}
	if dataLen < 0 || 2+dataLen > len(buf) {
		return Option{}, 0
	}
	return Option{Type: typ, Length: buf[1], Value: buf[2 : 2+dataLen : 2+dataLen]}, 2 + dataLen
}

// DecodeAll returns all records in buf. Values alias buf.
func (c Codec) DecodeAll(buf []byte) []Option {
	return slices.Collect(c.Decode(buf))
}

// recordLen returns the encoded size of opt before padding.
func (c Codec) recordLen(opt Option) int {
	if c.IsSkip(opt.Type) {
		return 1
	}
	return 2 + len(opt.Value)
}

// EncodedLength returns the size in bytes of opts once encoded and padded to a 4 byte boundary.
func (c Codec) EncodedLength(opts []Option) int {
	n := 0
	for _, opt := range opts {
		n += c.recordLen(opt)
	}
	return pad4(n)
}

// Validate checks that every record can be encoded.
func (c Codec) Validate(opts []Option) error {
	maxValue := 255
	if c.LengthIsTotal {
		maxValue -= 2
	}
	for _, opt := range opts {
		if c.IsSkip(opt.Type) {
			if len(opt.Value) != 0 {
				return errSkipValue
			}
		} else if len(opt.Value) > maxValue {
			return errValueTooLong
		}
	}
	return nil
}

// Encode appends the encoded records to dst followed by zero padding up to
// a 4 byte boundary of the encoded records. The length byte of each record is
// derived from its value; [Option.Length] is ignored.
func (c Codec) Encode(dst []byte, opts []Option) ([]byte, error) {
	if err := c.Validate(opts); err != nil {
		return dst, err
	}
	start := len(dst)
	for _, opt := range opts {
		dst = append(dst, opt.Type)
		if c.IsSkip(opt.Type) {
			continue
		}
		length := len(opt.Value)
		if c.LengthIsTotal {
			length += 2
		}
		dst = append(dst, uint8(length))
		dst = append(dst, opt.Value...)
	}
	for (len(dst)-start)%4 != 0 {
		dst = append(dst, 0)
	}
	return dst, nil
}

// Put encodes opts into dst and returns the number of bytes written, padding included.
// dst must be at least [Codec.EncodedLength] bytes long.
func (c Codec) Put(dst []byte, opts []Option) (int, error) {
	need := c.EncodedLength(opts)
	if len(dst) < need {
		return 0, errShortBuf
	}
	b, err := c.Encode(dst[:0:need], opts)
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

func pad4(n int) int { return (n + 3) &^ 3 }
