package tcp

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/soypat/pktwire"
	"github.com/soypat/pktwire/bstruct"
	"github.com/soypat/pktwire/tlv"
)

// NewFrame returns a new TCPFrame with data set to buf.
// An error is returned if the buffer size is smaller than 20.
// Users should still call [Frame.ValidateSize] before working
// with payload/options of frames to avoid panics.
func NewFrame(buf []byte) (Frame, error) {
	s, err := bstruct.Make(buf, sizeHeaderTCP, binary.BigEndian)
	if err != nil {
		return Frame{}, errShortBuf
	}
	return Frame{s: s}, nil
}

// Frame encapsulates the raw data of a TCP segment
// and provides methods for manipulating, validating and
// retrieving fields and payload data. See [RFC9293].
//
// [RFC9293]: https://datatracker.ietf.org/doc/html/rfc9293
type Frame struct {
	s bstruct.Struct
}

// Fields is the field set of a TCP header. Zero valued fields are unset.
type Fields struct {
	SourcePort      uint16       `json:"src" yaml:"src" mapstructure:"src"`
	DestinationPort uint16       `json:"dst" yaml:"dst" mapstructure:"dst"`
	Seq             uint32       `json:"seq" yaml:"seq" mapstructure:"seq"`
	Ack             uint32       `json:"ack" yaml:"ack" mapstructure:"ack"`
	Reserved        uint8        `json:"reserved" yaml:"reserved" mapstructure:"reserved"`
	DataOffset      uint8        `json:"dataOffset" yaml:"dataOffset" mapstructure:"dataOffset"`
	Flags           FlagBits     `json:"flags" yaml:"flags" mapstructure:"flags"`
	WindowSize      uint16       `json:"windowSize" yaml:"windowSize" mapstructure:"windowSize"`
	Checksum        uint16       `json:"checksum" yaml:"checksum" mapstructure:"checksum"`
	UrgentPointer   uint16       `json:"urgentPointer" yaml:"urgentPointer" mapstructure:"urgentPointer"`
	Options         []tlv.Option `json:"options,omitempty" yaml:"options,omitempty" mapstructure:"options"`
}

// Size returns the number of bytes needed to build a header with fields f.
func Size(f Fields) int { return sizeHeaderTCP + OptionCodec.EncodedLength(f.Options) }

// Validate checks the field values can be encoded in a TCP header.
func (f *Fields) Validate(v *pktwire.Validator) {
	if f.Reserved > 0xf {
		v.AddFieldErr("tcp", "reserved", errReservedOverflow)
	}
	if f.DataOffset > 0xf || (f.DataOffset != 0 && int(f.DataOffset)*4 < Size(*f)) {
		v.AddFieldErr("tcp", "dataOffset", errBadDataOffset)
	}
	if err := ValidateOptions(f.Options); err != nil {
		v.AddFieldErr("tcp", "options", err)
	} else if Size(*f) > maxHeaderTCP {
		v.AddFieldErr("tcp", "options", errOptionsTooLong)
	}
}

// RawData returns the underlying slice with which the frame was created.
func (tfrm Frame) RawData() []byte { return tfrm.s.RawData() }

// SourcePort identifies the sending port of the TCP packet. Must be non-zero.
func (tfrm Frame) SourcePort() uint16 { return tfrm.s.U16(0) }

// SetSourcePort sets TCP source port. See [Frame.SourcePort]
func (tfrm Frame) SetSourcePort(src uint16) { tfrm.s.PutU16(0, src) }

// DestinationPort identifies the receiving port for the TCP packet. Must be non-zero.
func (tfrm Frame) DestinationPort() uint16 { return tfrm.s.U16(2) }

// SetDestinationPort sets TCP destination port. See [Frame.DestinationPort]
func (tfrm Frame) SetDestinationPort(dst uint16) { tfrm.s.PutU16(2, dst) }

// Seq returns sequence number of the first data octet in this segment (except when SYN present)
// If SYN present this is the Initial Sequence Number (ISN) and the first data octet would be ISN+1.
func (tfrm Frame) Seq() uint32 { return tfrm.s.U32(4) }

// SetSeq sets Seq field. See [Frame.Seq].
func (tfrm Frame) SetSeq(v uint32) { tfrm.s.PutU32(4, v) }

// Ack is the next sequence number (Seq field) the sender is expecting to receive (when ACK is present).
// In other words an Ack of X indicates all octets up to but not including X have been received.
func (tfrm Frame) Ack() uint32 { return tfrm.s.U32(8) }

// SetAck sets Ack field. See [Frame.Ack].
func (tfrm Frame) SetAck(v uint32) { tfrm.s.PutU32(8, v) }

// OffsetAndFlags returns the offset and flag fields of TCP header.
// Offset is amount of 32-bit words used for TCP header including TCP options (see [Frame.HeaderLength]).
// See [Flags] for more information on TCP flags.
func (tfrm Frame) OffsetAndFlags() (offset uint8, flags Flags) {
	return uint8(tfrm.s.Bits(bfDataOffset)), Flags(tfrm.s.Bits(bfFlags))
}

// SetOffsetAndFlags sets offset and flag fields of TCP header leaving reserved bits untouched. See [Frame.OffsetAndFlags].
func (tfrm Frame) SetOffsetAndFlags(offset uint8, flags Flags) {
	tfrm.s.SetBits(bfDataOffset, uint32(offset))
	tfrm.s.SetBits(bfFlags, uint32(flags.Mask()))
}

// Reserved returns the 4 reserved bits between the data offset and the flags.
func (tfrm Frame) Reserved() uint8 { return uint8(tfrm.s.Bits(bfReserved)) }

// HeaderLength uses Offset field to calculate the total length of
// the TCP header including options. Performs no validation.
func (tfrm Frame) HeaderLength() (lengthInBytes int) {
	return 4 * int(tfrm.s.Bits(bfDataOffset))
}

func (tfrm Frame) WindowSize() uint16     { return tfrm.s.U16(14) }
func (tfrm Frame) SetWindowSize(v uint16) { tfrm.s.PutU16(14, v) }

// CRC returns the checksum field in the TCP header.
func (tfrm Frame) CRC() uint16 { return tfrm.s.U16(16) }

// SetCRC sets the checksum field of the TCP header. See [Frame.CRC].
func (tfrm Frame) SetCRC(checksum uint16) { tfrm.s.PutU16(16, checksum) }

func (tfrm Frame) UrgentPtr() uint16      { return tfrm.s.U16(18) }
func (tfrm Frame) SetUrgentPtr(up uint16) { tfrm.s.PutU16(18, up) }

// Payload returns the payload content section of the TCP packet (not including TCP options).
// Be sure to call [Frame.ValidateSize] beforehand to avoid panic.
func (tfrm Frame) Payload() []byte {
	return tfrm.RawData()[tfrm.HeaderLength():]
}

// Options returns the TCP option buffer portion of the frame. The returned slice may be zero length.
// Be sure to call [Frame.ValidateSize] beforehand to avoid panic.
func (tfrm Frame) Options() []byte {
	return tfrm.RawData()[sizeHeaderTCP:tfrm.HeaderLength()]
}

// ClearHeader zeros out the fixed(non-variable) header contents.
func (tfrm Frame) ClearHeader() {
	clear(tfrm.RawData()[:sizeHeaderTCP])
}

// CalculateCRC returns the checksum of the whole segment held by the frame
// prefixed by the pseudo-header of src and dst, as if the checksum field were zero.
func (tfrm Frame) CalculateCRC(src, dst netip.Addr) uint16 {
	var crc pktwire.CRC791
	buf := tfrm.RawData()
	crc.WritePseudoHeader(src, dst, pktwire.IPProtoTCP, len(buf))
	crc.Write(buf[:16])
	crc.Write(buf[18:])
	return crc.Sum16()
}

// Fields returns the header fields. Option values alias the frame's buffer.
// Call [Frame.ValidateSize] beforehand to avoid panic.
func (tfrm Frame) Fields() Fields {
	offset, flags := tfrm.OffsetAndFlags()
	return Fields{
		SourcePort:      tfrm.SourcePort(),
		DestinationPort: tfrm.DestinationPort(),
		Seq:             tfrm.Seq(),
		Ack:             tfrm.Ack(),
		Reserved:        tfrm.Reserved(),
		DataOffset:      offset,
		Flags:           flags.Bits(),
		WindowSize:      tfrm.WindowSize(),
		Checksum:        tfrm.CRC(),
		UrgentPointer:   tfrm.UrgentPtr(),
		Options:         OptionCodec.DecodeAll(tfrm.Options()),
	}
}

// Put writes the non-zero fields of f to the frame. Options are written
// after the fixed header; the frame must be at least [Size] bytes long.
func (tfrm Frame) Put(f Fields) error {
	if len(f.Options) > 0 {
		_, err := OptionCodec.Put(tfrm.RawData()[sizeHeaderTCP:], f.Options)
		if err != nil {
			return err
		}
	}
	if f.SourcePort != 0 {
		tfrm.SetSourcePort(f.SourcePort)
	}
	if f.DestinationPort != 0 {
		tfrm.SetDestinationPort(f.DestinationPort)
	}
	if f.Seq != 0 {
		tfrm.SetSeq(f.Seq)
	}
	if f.Ack != 0 {
		tfrm.SetAck(f.Ack)
	}
	if f.Reserved != 0 {
		tfrm.s.SetBits(bfReserved, uint32(f.Reserved))
	}
	if f.DataOffset != 0 {
		tfrm.s.SetBits(bfDataOffset, uint32(f.DataOffset))
	}
	if flags := f.Flags.Flags(); flags != 0 {
		tfrm.s.SetBits(bfFlags, uint32(flags))
	}
	if f.WindowSize != 0 {
		tfrm.SetWindowSize(f.WindowSize)
	}
	if f.Checksum != 0 {
		tfrm.SetCRC(f.Checksum)
	}
	if f.UrgentPointer != 0 {
		tfrm.SetUrgentPtr(f.UrgentPointer)
	}
	return nil
}

func (tfrm Frame) String() string {
	_, flags := tfrm.OffsetAndFlags()
	return fmt.Sprintf("TCP :%d -> :%d SEQ=%d ACK=%d WND=%d %s", tfrm.SourcePort(), tfrm.DestinationPort(),
		tfrm.Seq(), tfrm.Ack(), tfrm.WindowSize(), flags)
}

//
// Validation API
//

// ValidateSize checks the frame's size fields and compares with the actual buffer
// the frame. It returns a non-nil error on finding an inconsistency.
func (tfrm Frame) ValidateSize(v *pktwire.Validator) {
	off := tfrm.HeaderLength()
	if off < sizeHeaderTCP || off > len(tfrm.RawData()) {
		v.AddBitPosErr(12*8, 4, errBadDataOffset)
	}
}

// ValidateExceptCRC checks the size fields and ports of the frame.
func (tfrm Frame) ValidateExceptCRC(v *pktwire.Validator) {
	tfrm.ValidateSize(v)
	if tfrm.DestinationPort() == 0 {
		v.AddBitPosErr(2*8, 16, errZeroDestPort)
	}
	if tfrm.SourcePort() == 0 {
		v.AddBitPosErr(0, 16, errZeroSourcePort)
	}
}
