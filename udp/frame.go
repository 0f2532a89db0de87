package udp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"

	"github.com/soypat/pktwire"
	"github.com/soypat/pktwire/bstruct"
)

const sizeHeader = 8

// NewFrame returns a new UDPFrame with data set to buf.
// An error is returned if the buffer size is smaller than 8.
// Users should still call [Frame.ValidateSize] before working
// with payload/options of frames to avoid panics.
func NewFrame(buf []byte) (Frame, error) {
	s, err := bstruct.Make(buf, sizeHeader, binary.BigEndian)
	if err != nil {
		return Frame{}, errShort
	}
	return Frame{s: s}, nil
}

// Frame encapsulates the raw data of a UDP datagram
// and provides methods for manipulating, validating and
// retrieving fields and payload data. See [RFC768].
//
// [RFC768]: https://tools.ietf.org/html/rfc768
type Frame struct {
	s bstruct.Struct
}

// Fields is the field set of a UDP header. Zero valued fields are unset.
type Fields struct {
	SourcePort      uint16 `json:"src" yaml:"src" mapstructure:"src"`
	DestinationPort uint16 `json:"dst" yaml:"dst" mapstructure:"dst"`
	Length          uint16 `json:"totalLength" yaml:"totalLength" mapstructure:"totalLength"`
	Checksum        uint16 `json:"checksum" yaml:"checksum" mapstructure:"checksum"`
}

// Size returns the UDP header size. Fields of a UDP header are fixed size.
func Size(Fields) int { return sizeHeader }

// Validate checks the field values can be encoded in a UDP header.
func (f *Fields) Validate(v *pktwire.Validator) {
	if f.Length != 0 && f.Length < sizeHeader {
		v.AddFieldErr("udp", "totalLength", errBadLen)
	}
}

// RawData returns the underlying slice with which the frame was created.
func (ufrm Frame) RawData() []byte { return ufrm.s.RawData() }

// HeaderLength returns the size of the UDP header, which is always 8.
func (ufrm Frame) HeaderLength() int { return sizeHeader }

// SourcePort identifies the sending port for the UDP packet. Must be non-zero.
func (ufrm Frame) SourcePort() uint16 { return ufrm.s.U16(0) }

// SetSourcePort sets UDP source port. See [Frame.SourcePort]
func (ufrm Frame) SetSourcePort(src uint16) { ufrm.s.PutU16(0, src) }

// DestinationPort identifies the receiving port for the UDP packet. Must be non-zero.
func (ufrm Frame) DestinationPort() uint16 { return ufrm.s.U16(2) }

// SetDestinationPort sets UDP destination port. See [Frame.DestinationPort]
func (ufrm Frame) SetDestinationPort(dst uint16) { ufrm.s.PutU16(2, dst) }

// Length specifies length in bytes of UDP header and UDP payload. The minimum length
// is 8 bytes (UDP header length). This field should match the result of the IP header
// TotalLength field minus the IP header size: udp.Length == ip.TotalLength - 4*ip.IHL
func (ufrm Frame) Length() uint16 { return ufrm.s.U16(4) }

// SetLength sets the UDP header's length field. See [Frame.Length].
func (ufrm Frame) SetLength(length uint16) { ufrm.s.PutU16(4, length) }

// CRC returns the checksum field in the UDP header.
func (ufrm Frame) CRC() uint16 { return ufrm.s.U16(6) }

// SetCRC sets the UDP header's CRC field. See [Frame.CRC].
func (ufrm Frame) SetCRC(checksum uint16) { ufrm.s.PutU16(6, checksum) }

// Payload returns the payload content section of the UDP packet.
// Be sure to call [Frame.ValidateSize] beforehand to avoid panic.
func (ufrm Frame) Payload() []byte {
	l := ufrm.Length()
	return ufrm.RawData()[sizeHeader:l]
}

// CalculateCRC returns the checksum of the datagram held by the frame prefixed
// by the pseudo-header of src and dst, as if the checksum field were zero.
// A computed zero is returned as 0xffff since zero means no checksum over IPv4.
func (ufrm Frame) CalculateCRC(src, dst netip.Addr) uint16 {
	var crc pktwire.CRC791
	buf := ufrm.RawData()
	crc.WritePseudoHeader(src, dst, pktwire.IPProtoUDP, len(buf))
	crc.Write(buf[:6])
	crc.Write(buf[8:])
	return pktwire.NeverZeroChecksum(crc.Sum16())
}

// ClearHeader zeros out the header contents.
func (ufrm Frame) ClearHeader() {
	clear(ufrm.RawData()[:sizeHeader])
}

// Fields returns the header fields.
func (ufrm Frame) Fields() Fields {
	return Fields{
		SourcePort:      ufrm.SourcePort(),
		DestinationPort: ufrm.DestinationPort(),
		Length:          ufrm.Length(),
		Checksum:        ufrm.CRC(),
	}
}

// Put writes the non-zero fields of f to the frame.
func (ufrm Frame) Put(f Fields) {
	if f.SourcePort != 0 {
		ufrm.SetSourcePort(f.SourcePort)
	}
	if f.DestinationPort != 0 {
		ufrm.SetDestinationPort(f.DestinationPort)
	}
	if f.Length != 0 {
		ufrm.SetLength(f.Length)
	}
	if f.Checksum != 0 {
		ufrm.SetCRC(f.Checksum)
	}
}

func (ufrm Frame) String() string {
	return fmt.Sprintf("UDP :%d -> :%d LEN=%d", ufrm.SourcePort(), ufrm.DestinationPort(), ufrm.Length())
}

//
// Validation API.
//

var (
	errBadLen         = errors.New("udp: bad UDP length")
	errShort          = errors.New("udp: short buffer")
	errZeroDestPort   = errors.New("udp: zero destination port")
	errZeroSourcePort = errors.New("udp: zero source port")
)

// ValidateSize checks the frame's size fields and compares with the actual buffer
// the frame. It returns a non-nil error on finding an inconsistency.
func (ufrm Frame) ValidateSize(v *pktwire.Validator) {
	ul := ufrm.Length()
	if ul < sizeHeader {
		v.AddBitPosErr(4*8, 16, errBadLen)
	}
	if int(ul) > len(ufrm.RawData()) {
		v.AddError(errShort)
	}
}

// ValidateExceptCRC checks the size fields and ports of the frame.
func (ufrm Frame) ValidateExceptCRC(v *pktwire.Validator) {
	ufrm.ValidateSize(v)
	if ufrm.DestinationPort() == 0 {
		v.AddBitPosErr(2*8, 16, errZeroDestPort)
	}
	if ufrm.SourcePort() == 0 {
		v.AddBitPosErr(0, 16, errZeroSourcePort)
	}
}
