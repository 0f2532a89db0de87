package ipv6

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"

	"github.com/soypat/pktwire"
	"github.com/soypat/pktwire/bstruct"
)

const sizeHeader = 40

var (
	bfVersion = bstruct.BitField{Offset: 0, Size: 4, Shift: 28, Width: 4}
	bfTraffic = bstruct.BitField{Offset: 0, Size: 4, Shift: 20, Width: 8}
	bfFlow    = bstruct.BitField{Offset: 0, Size: 4, Shift: 0, Width: 20}
)

// NewFrame returns a new Frame with data set to buf.
// An error is returned if the buffer size is smaller than 40.
// Users should still call [Frame.ValidateSize] before working
// with payload of frames to avoid panics.
func NewFrame(buf []byte) (Frame, error) {
	s, err := bstruct.Make(buf, sizeHeader, binary.BigEndian)
	if err != nil {
		return Frame{}, errShortBuf
	}
	return Frame{s: s}, nil
}

// Frame encapsulates the raw data of an IPv6 packet
// and provides methods for manipulating, validating and
// retrieving fields and payload data. See [RFC8200].
//
// [RFC8200]: https://tools.ietf.org/html/rfc8200
type Frame struct {
	s bstruct.Struct
}

// Fields is the field set of the fixed IPv6 header. Extension headers are
// not decoded and are part of the payload.
type Fields struct {
	Version       uint8           `json:"version" yaml:"version" mapstructure:"version"`
	TrafficClass  uint8           `json:"trafficClass" yaml:"trafficClass" mapstructure:"trafficClass"`
	FlowLabel     uint32          `json:"flowLabel" yaml:"flowLabel" mapstructure:"flowLabel"`
	PayloadLength uint16          `json:"payloadLength" yaml:"payloadLength" mapstructure:"payloadLength"`
	NextHeader    pktwire.IPProto `json:"nextHeader" yaml:"nextHeader" mapstructure:"nextHeader"`
	HopLimit      uint8           `json:"hopLimit" yaml:"hopLimit" mapstructure:"hopLimit"`
	Source        netip.Addr      `json:"src" yaml:"src" mapstructure:"src"`
	Destination   netip.Addr      `json:"dst" yaml:"dst" mapstructure:"dst"`
}

// Size returns the number of bytes needed to build a header. Always 40.
func Size(Fields) int { return sizeHeader }

// Validate checks the field values can be encoded in an IPv6 header.
func (f *Fields) Validate(v *pktwire.Validator) {
	if f.Version > 0xf {
		v.AddFieldErr("ipv6", "version", pktwire.ErrFieldOverflow)
	}
	if f.FlowLabel > 0xf_ffff {
		v.AddFieldErr("ipv6", "flowLabel", pktwire.ErrFieldOverflow)
	}
	if f.Source.IsValid() && !f.Source.Is6() {
		v.AddFieldErr("ipv6", "src", pktwire.ErrAddrFamily)
	}
	if f.Destination.IsValid() && !f.Destination.Is6() {
		v.AddFieldErr("ipv6", "dst", pktwire.ErrAddrFamily)
	}
}

// RawData returns the underlying slice with which the frame was created.
func (i6frm Frame) RawData() []byte { return i6frm.s.RawData() }

// HeaderLength returns the length of the fixed header. Always 40.
func (i6frm Frame) HeaderLength() int { return sizeHeader }

// Payload returns the contents of the IPv6 packet, which may be zero sized.
// Be sure to call [Frame.ValidateSize] beforehand to avoid panic.
func (i6frm Frame) Payload() []byte {
	pl := int(i6frm.PayloadLength())
	return i6frm.RawData()[sizeHeader : sizeHeader+pl]
}

// VersionTrafficAndFlow returns the version, Traffic class and Flow label fields of the IPv6 header.
// Version should be 6 for IPv6.
func (i6frm Frame) VersionTrafficAndFlow() (version, traffic uint8, flow uint32) {
	return uint8(i6frm.s.Bits(bfVersion)), uint8(i6frm.s.Bits(bfTraffic)), i6frm.s.Bits(bfFlow)
}

// SetVersionTrafficAndFlow sets the version, traffic class and Flow label in the IPv6 header.
// See [Frame.VersionTrafficAndFlow].
func (i6frm Frame) SetVersionTrafficAndFlow(version, traffic uint8, flow uint32) {
	i6frm.s.SetBits(bfVersion, uint32(version))
	i6frm.s.SetBits(bfTraffic, uint32(traffic))
	i6frm.s.SetBits(bfFlow, flow)
}

// PayloadLength returns the size of payload in octets(bytes) including any extension headers.
// The length is set to zero when a Hop-by-Hop extension header carries a Jumbo Payload option.
func (i6frm Frame) PayloadLength() uint16 { return i6frm.s.U16(4) }

// SetPayloadLength sets the payload length field of the IPv6 header. See [Frame.PayloadLength].
func (i6frm Frame) SetPayloadLength(pl uint16) { i6frm.s.PutU16(4, pl) }

// NextHeader returns the Next Header field of the IPv6 header which usually specifies the transport layer
// protocol used by packet's payload.
func (i6frm Frame) NextHeader() pktwire.IPProto { return pktwire.IPProto(i6frm.s.U8(6)) }

// SetNextHeader sets the Next Header (protocol) field of the IPv6 header. See [Frame.NextHeader].
func (i6frm Frame) SetNextHeader(proto pktwire.IPProto) { i6frm.s.PutU8(6, uint8(proto)) }

// HopLimit returns the Hop Limit of the IPv6 header.
// This value is decremented by one at each forwarding node and the packet is discarded if it becomes 0.
// However, the destination node should process the packet normally even if received with a hop limit of 0.
func (i6frm Frame) HopLimit() uint8 { return i6frm.s.U8(7) }

// SetHopLimit sets the Hop Limit field of the IPv6 header. See [Frame.HopLimit].
func (i6frm Frame) SetHopLimit(hop uint8) { i6frm.s.PutU8(7, hop) }

// SourceAddr returns pointer to the sending node unicast IPv6 address in the IP header.
func (i6frm Frame) SourceAddr() *[16]byte { return (*[16]byte)(i6frm.s.Array(8, 16)) }

// DestinationAddr returns pointer to the destination node unicast or multicast IPv6 address in the IP header.
func (i6frm Frame) DestinationAddr() *[16]byte { return (*[16]byte)(i6frm.s.Array(24, 16)) }

// CRCWritePseudo adds the upper layer pseudo-header of RFC 8200 to crc using the
// payload length and next header fields of the frame.
func (i6frm Frame) CRCWritePseudo(crc *pktwire.CRC791) {
	src := netip.AddrFrom16(*i6frm.SourceAddr())
	dst := netip.AddrFrom16(*i6frm.DestinationAddr())
	crc.WritePseudoHeader(src, dst, i6frm.NextHeader(), int(i6frm.PayloadLength()))
}

// ClearHeader zeros out the header contents.
func (i6frm Frame) ClearHeader() {
	clear(i6frm.RawData()[:sizeHeader])
}

// Fields returns the header fields of the frame.
func (i6frm Frame) Fields() Fields {
	version, traffic, flow := i6frm.VersionTrafficAndFlow()
	return Fields{
		Version:       version,
		TrafficClass:  traffic,
		FlowLabel:     flow,
		PayloadLength: i6frm.PayloadLength(),
		NextHeader:    i6frm.NextHeader(),
		HopLimit:      i6frm.HopLimit(),
		Source:        netip.AddrFrom16(*i6frm.SourceAddr()),
		Destination:   netip.AddrFrom16(*i6frm.DestinationAddr()),
	}
}

// Put writes the non-zero fields of f to the frame.
func (i6frm Frame) Put(f Fields) {
	if f.Version != 0 {
		i6frm.s.SetBits(bfVersion, uint32(f.Version))
	}
	if f.TrafficClass != 0 {
		i6frm.s.SetBits(bfTraffic, uint32(f.TrafficClass))
	}
	if f.FlowLabel != 0 {
		i6frm.s.SetBits(bfFlow, f.FlowLabel)
	}
	if f.PayloadLength != 0 {
		i6frm.SetPayloadLength(f.PayloadLength)
	}
	if f.NextHeader != 0 {
		i6frm.SetNextHeader(f.NextHeader)
	}
	if f.HopLimit != 0 {
		i6frm.SetHopLimit(f.HopLimit)
	}
	if f.Source.Is6() {
		*i6frm.SourceAddr() = f.Source.As16()
	}
	if f.Destination.Is6() {
		*i6frm.DestinationAddr() = f.Destination.As16()
	}
}

func (i6frm Frame) String() string {
	src := netip.AddrFrom16(*i6frm.SourceAddr())
	dst := netip.AddrFrom16(*i6frm.DestinationAddr())
	return fmt.Sprintf("IPv6 %s SRC=%s DST=%s LEN=%d HOP=%d", i6frm.NextHeader(), src, dst, i6frm.PayloadLength(), i6frm.HopLimit())
}

//
// Validate API.
//

var (
	errShortFrame = errors.New("ipv6: short frame")
	errShortBuf   = errors.New("ipv6: short buffer for frame")
	errBadVersion = errors.New("ipv6: bad version")
)

// ValidateSize checks the frame's size fields and compares with the actual buffer
// the frame. It returns a non-nil error on finding an inconsistency.
func (i6frm Frame) ValidateSize(v *pktwire.Validator) {
	tl := i6frm.PayloadLength()
	if int(tl)+sizeHeader > len(i6frm.RawData()) {
		v.AddError(errShortFrame)
	}
}

// Validate checks the version and size fields of the frame.
func (i6frm Frame) Validate(v *pktwire.Validator) {
	i6frm.ValidateSize(v)
	if ver, _, _ := i6frm.VersionTrafficAndFlow(); ver != 6 {
		v.AddError(errBadVersion)
	}
}
