// Package icmp implements the ICMP for IPv4 and ICMP for IPv6 message headers.
// Both share the 4 byte type, code and checksum header, followed by a trailer
// whose layout depends on the message type.
package icmp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"

	"github.com/soypat/pktwire"
	"github.com/soypat/pktwire/bstruct"
)

var errFieldOverflow = errors.New("icmp: field value overflows type trailer")

type header struct {
	s bstruct.Struct
}

func newHeader(buf []byte) (header, error) {
	s, err := bstruct.Make(buf, sizeHeader, binary.BigEndian)
	if err != nil {
		return header{}, errShortFrame
	}
	return header{s: s}, nil
}

// RawData returns the underlying slice with which the frame was created.
func (h header) RawData() []byte { return h.s.RawData() }

func (h header) typ() uint8 { return h.s.U8(0) }

// Code returns the code field which qualifies the message type.
func (h header) Code() uint8 { return h.s.U8(1) }

// SetCode sets the code field.
func (h header) SetCode(code uint8) { h.s.PutU8(1, code) }

// CRC returns the checksum field of the frame.
func (h header) CRC() uint16 { return h.s.U16(2) }

// SetCRC sets the checksum field of the frame.
func (h header) SetCRC(crc uint16) { h.s.PutU16(2, crc) }

// CRCWrite adds the whole message to crc treating the checksum field as zero as per RFC 792.
func (h header) CRCWrite(crc *pktwire.CRC791) {
	buf := h.RawData()
	crc.AddUint16(binary.BigEndian.Uint16(buf[0:2]))
	crc.Write(buf[4:])
}

// fits reports whether the buffer holds a trailer of size n.
func (h header) fits(n int) bool { return len(h.RawData()) >= n }

func (h header) u16(off int) uint16 { return h.s.U16(off) }
func (h header) u32(off int) uint32 { return h.s.U32(off) }

// Frame is an ICMP for IPv4 message. See [RFC792].
//
// [RFC792]: https://tools.ietf.org/html/rfc792
type Frame struct {
	header
}

// NewFrame returns a Frame over buf. An error is returned if buf is shorter than 4 bytes.
// Trailer fields are only read when buf holds the full header for the message type, see [Frame.HeaderLength].
func NewFrame(buf []byte) (Frame, error) {
	h, err := newHeader(buf)
	return Frame{header: h}, err
}

// Fields is the field set of an ICMPv4 header. Only the trailer fields
// belonging to Type are encoded; the rest are ignored.
type Fields struct {
	Type     Type   `json:"type" yaml:"type" mapstructure:"type"`
	Code     uint8  `json:"code" yaml:"code" mapstructure:"code"`
	Checksum uint16 `json:"checksum" yaml:"checksum" mapstructure:"checksum"`
	// Echo and timestamp messages.
	ID       uint16 `json:"id,omitempty" yaml:"id,omitempty" mapstructure:"id"`
	Sequence uint16 `json:"sequence,omitempty" yaml:"sequence,omitempty" mapstructure:"sequence"`
	// Timestamp is the 8 byte echo timestamp.
	Timestamp          uint64 `json:"timestamp,omitempty" yaml:"timestamp,omitempty" mapstructure:"timestamp"`
	OriginateTimestamp uint32 `json:"originateTimestamp,omitempty" yaml:"originateTimestamp,omitempty" mapstructure:"originateTimestamp"`
	ReceiveTimestamp   uint32 `json:"receiveTimestamp,omitempty" yaml:"receiveTimestamp,omitempty" mapstructure:"receiveTimestamp"`
	TransmitTimestamp  uint32 `json:"transmitTimestamp,omitempty" yaml:"transmitTimestamp,omitempty" mapstructure:"transmitTimestamp"`
	// Unused holds the reserved trailer bits of error messages:
	// 16 bits for destination unreachable, 32 for time exceeded and 24 for parameter problem.
	Unused     uint32 `json:"unused,omitempty" yaml:"unused,omitempty" mapstructure:"unused"`
	NextHopMTU uint16 `json:"nextHopMTU,omitempty" yaml:"nextHopMTU,omitempty" mapstructure:"nextHopMTU"`
	Pointer    uint8  `json:"errorOctetPointer,omitempty" yaml:"errorOctetPointer,omitempty" mapstructure:"errorOctetPointer"`
}

// Size returns the number of bytes needed to build a header with fields f.
func Size(f Fields) int { return HeaderSize(f.Type) }

// Validate checks the field values fit the trailer of the message type.
func (f *Fields) Validate(v *pktwire.Validator) {
	switch f.Type {
	case TypeDestinationUnreachable:
		if f.Unused > 0xffff {
			v.AddFieldErr("icmp", "unused", errFieldOverflow)
		}
	case TypeParameterProblem:
		if f.Unused > 0xff_ffff {
			v.AddFieldErr("icmp", "unused", errFieldOverflow)
		}
	}
}

// Type returns the message type.
func (frm Frame) Type() Type { return Type(frm.typ()) }

// SetType sets the message type. The frame length depends on it, see [HeaderSize].
func (frm Frame) SetType(t Type) { frm.s.PutU8(0, uint8(t)) }

// HeaderLength returns the header length for the frame's type.
func (frm Frame) HeaderLength() int { return HeaderSize(frm.Type()) }

// Payload returns the data after the type dependent header.
// Call [Frame.ValidateSize] beforehand to avoid panic.
func (frm Frame) Payload() []byte { return frm.RawData()[frm.HeaderLength():] }

// IsEcho returns true for echo requests and replies, whose id and sequence
// number are at offset 4 and 6.
func (frm Frame) IsEcho() bool {
	t := frm.Type()
	return t == TypeEcho || t == TypeEchoReply
}

// Identifier returns the echo or timestamp identifier.
func (frm Frame) Identifier() uint16 { return frm.u16(4) }

// SetIdentifier sets the echo or timestamp identifier.
func (frm Frame) SetIdentifier(id uint16) { frm.s.PutU16(4, id) }

// SequenceNumber returns the echo or timestamp sequence number.
func (frm Frame) SequenceNumber() uint16 { return frm.u16(6) }

// SetSequenceNumber sets the echo or timestamp sequence number.
func (frm Frame) SetSequenceNumber(seq uint16) { frm.s.PutU16(6, seq) }

// Fields returns the header fields for the frame's type. If the buffer is too
// short to hold the trailer only the base header is returned.
func (frm Frame) Fields() Fields {
	f := Fields{Type: frm.Type(), Code: frm.Code(), Checksum: frm.CRC()}
	if !frm.fits(HeaderSize(f.Type)) {
		return f
	}
	switch f.Type {
	case TypeEcho, TypeEchoReply:
		f.ID, f.Sequence = frm.Identifier(), frm.SequenceNumber()
		f.Timestamp = frm.s.U64(8)
	case TypeTimestamp, TypeTimestampReply:
		f.ID, f.Sequence = frm.Identifier(), frm.SequenceNumber()
		f.OriginateTimestamp = frm.u32(8)
		f.ReceiveTimestamp = frm.u32(12)
		f.TransmitTimestamp = frm.u32(16)
	case TypeDestinationUnreachable:
		f.Unused = uint32(frm.u16(4))
		f.NextHopMTU = frm.u16(6)
	case TypeTimeExceeded:
		f.Unused = frm.u32(4)
	case TypeParameterProblem:
		f.Pointer = frm.s.U8(4)
		f.Unused = frm.u32(4) & 0xff_ffff
	}
	return f
}

// Put writes the non-zero fields of f to the frame. The frame must be at least [Size] bytes long.
func (frm Frame) Put(f Fields) {
	if f.Type != 0 {
		frm.SetType(f.Type)
	}
	if f.Code != 0 {
		frm.SetCode(f.Code)
	}
	if f.Checksum != 0 {
		frm.SetCRC(f.Checksum)
	}
	s := frm.s
	switch f.Type {
	case TypeEcho, TypeEchoReply:
		s.PutU16(4, f.ID)
		s.PutU16(6, f.Sequence)
		s.PutU64(8, f.Timestamp)
	case TypeTimestamp, TypeTimestampReply:
		s.PutU16(4, f.ID)
		s.PutU16(6, f.Sequence)
		s.PutU32(8, f.OriginateTimestamp)
		s.PutU32(12, f.ReceiveTimestamp)
		s.PutU32(16, f.TransmitTimestamp)
	case TypeDestinationUnreachable:
		s.PutU16(4, uint16(f.Unused))
		s.PutU16(6, f.NextHopMTU)
	case TypeTimeExceeded:
		s.PutU32(4, f.Unused)
	case TypeParameterProblem:
		s.PutU32(4, uint32(f.Pointer)<<24|f.Unused&0xff_ffff)
	}
}

// CalculateCRC returns the checksum of the whole message as if the checksum field were zero.
func (frm Frame) CalculateCRC() uint16 {
	var crc pktwire.CRC791
	frm.CRCWrite(&crc)
	return crc.Sum16()
}

// ValidateSize checks the buffer holds the header of the frame's type.
func (frm Frame) ValidateSize(v *pktwire.Validator) {
	if !frm.fits(frm.HeaderLength()) {
		v.AddError(errShortFrame)
	}
}

func (frm Frame) String() string {
	return fmt.Sprintf("ICMP %s code=%d len=%d", frm.Type(), frm.Code(), len(frm.RawData()))
}

// FrameV6 is an ICMP for IPv6 message. See [RFC4443].
//
// [RFC4443]: https://tools.ietf.org/html/rfc4443
type FrameV6 struct {
	header
}

// NewFrameV6 returns a FrameV6 over buf. An error is returned if buf is shorter than 4 bytes.
func NewFrameV6(buf []byte) (FrameV6, error) {
	h, err := newHeader(buf)
	return FrameV6{header: h}, err
}

// FieldsV6 is the field set of an ICMPv6 header. Only the trailer fields
// belonging to Type are encoded.
type FieldsV6 struct {
	Type     TypeV6 `json:"type" yaml:"type" mapstructure:"type"`
	Code     uint8  `json:"code" yaml:"code" mapstructure:"code"`
	Checksum uint16 `json:"checksum" yaml:"checksum" mapstructure:"checksum"`
	ID       uint16 `json:"id,omitempty" yaml:"id,omitempty" mapstructure:"id"`
	Sequence uint16 `json:"sequence,omitempty" yaml:"sequence,omitempty" mapstructure:"sequence"`
	Unused   uint32 `json:"unused,omitempty" yaml:"unused,omitempty" mapstructure:"unused"`
	Pointer  uint32 `json:"pointer,omitempty" yaml:"pointer,omitempty" mapstructure:"pointer"`
}

// SizeV6 returns the number of bytes needed to build a header with fields f.
func SizeV6(f FieldsV6) int { return HeaderSizeV6(f.Type) }

// Type returns the message type.
func (frm FrameV6) Type() TypeV6 { return TypeV6(frm.typ()) }

// SetType sets the message type.
func (frm FrameV6) SetType(t TypeV6) { frm.s.PutU8(0, uint8(t)) }

// HeaderLength returns the header length for the frame's type.
func (frm FrameV6) HeaderLength() int { return HeaderSizeV6(frm.Type()) }

// Payload returns the data after the type dependent header.
// Call [FrameV6.ValidateSize] beforehand to avoid panic.
func (frm FrameV6) Payload() []byte { return frm.RawData()[frm.HeaderLength():] }

// Fields returns the header fields for the frame's type.
func (frm FrameV6) Fields() FieldsV6 {
	f := FieldsV6{Type: frm.Type(), Code: frm.Code(), Checksum: frm.CRC()}
	if !frm.fits(HeaderSizeV6(f.Type)) {
		return f
	}
	switch f.Type {
	case TypeV6EchoRequest, TypeV6EchoReply:
		f.ID, f.Sequence = frm.u16(4), frm.u16(6)
	case TypeV6DestinationUnreachable, TypeV6TimeExceeded:
		f.Unused = frm.u32(4)
	case TypeV6ParameterProblem:
		f.Pointer = frm.u32(4)
	}
	return f
}

// Put writes the non-zero fields of f to the frame. The frame must be at least [SizeV6] bytes long.
func (frm FrameV6) Put(f FieldsV6) {
	if f.Type != 0 {
		frm.SetType(f.Type)
	}
	if f.Code != 0 {
		frm.SetCode(f.Code)
	}
	if f.Checksum != 0 {
		frm.SetCRC(f.Checksum)
	}
	switch f.Type {
	case TypeV6EchoRequest, TypeV6EchoReply:
		frm.s.PutU16(4, f.ID)
		frm.s.PutU16(6, f.Sequence)
	case TypeV6DestinationUnreachable, TypeV6TimeExceeded:
		frm.s.PutU32(4, f.Unused)
	case TypeV6ParameterProblem:
		frm.s.PutU32(4, f.Pointer)
	}
}

// CalculateCRC returns the checksum of the whole message prefixed by the IPv6
// pseudo-header of src and dst, as if the checksum field were zero. See RFC 4443 section 2.3.
func (frm FrameV6) CalculateCRC(src, dst netip.Addr) uint16 {
	var crc pktwire.CRC791
	crc.WritePseudoHeader(src, dst, pktwire.IPProtoIPv6ICMP, len(frm.RawData()))
	frm.CRCWrite(&crc)
	return crc.Sum16()
}

// ValidateSize checks the buffer holds the header of the frame's type.
func (frm FrameV6) ValidateSize(v *pktwire.Validator) {
	if !frm.fits(frm.HeaderLength()) {
		v.AddError(errShortFrame)
	}
}

func (frm FrameV6) String() string {
	return fmt.Sprintf("ICMPv6 %s code=%d len=%d", frm.Type(), frm.Code(), len(frm.RawData()))
}
