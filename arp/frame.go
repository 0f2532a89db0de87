package arp

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/soypat/pktwire"
	"github.com/soypat/pktwire/bstruct"
)

// NewFrame returns a Frame with data set to buf.
// An error is returned if the buffer size is smaller than 28 (IPv4 over Ethernet size).
func NewFrame(buf []byte) (Frame, error) {
	s, err := bstruct.Make(buf, sizeHeaderv4, binary.BigEndian)
	if err != nil {
		return Frame{}, errShortARP
	}
	return Frame{s: s}, nil
}

// Frame encapsulates the raw data of an ARP packet for IPv4 over Ethernet
// and provides methods for manipulating and retrieving fields. See [RFC826].
//
// [RFC826]: https://tools.ietf.org/html/rfc826
type Frame struct {
	s bstruct.Struct
}

// Fields is the field set of an ARP packet. Zero valued fields are unset.
type Fields struct {
	HardwareType uint16            `json:"hardwareType" yaml:"hardwareType" mapstructure:"hardwareType"`
	ProtocolType pktwire.EtherType `json:"protocolType" yaml:"protocolType" mapstructure:"protocolType"`
	HardwareSize uint8             `json:"hardwareSize" yaml:"hardwareSize" mapstructure:"hardwareSize"`
	ProtocolSize uint8             `json:"protocolSize" yaml:"protocolSize" mapstructure:"protocolSize"`
	Opcode       Operation         `json:"opcode" yaml:"opcode" mapstructure:"opcode"`
	HardwareSrc  pktwire.MAC       `json:"hardwareSrc" yaml:"hardwareSrc" mapstructure:"hardwareSrc"`
	ProtocolSrc  netip.Addr        `json:"protocolSrc" yaml:"protocolSrc" mapstructure:"protocolSrc"`
	HardwareDst  pktwire.MAC       `json:"hardwareDst" yaml:"hardwareDst" mapstructure:"hardwareDst"`
	ProtocolDst  netip.Addr        `json:"protocolDst" yaml:"protocolDst" mapstructure:"protocolDst"`
}

// Size returns the number of bytes needed to build a packet with fields f.
func Size(Fields) int { return sizeHeaderv4 }

// Validate checks that protocol addresses are IPv4.
func (f *Fields) Validate(v *pktwire.Validator) {
	if f.ProtocolSrc.IsValid() && !f.ProtocolSrc.Is4() {
		v.AddFieldErr("arp", "protocolSrc", pktwire.ErrAddrFamily)
	}
	if f.ProtocolDst.IsValid() && !f.ProtocolDst.Is4() {
		v.AddFieldErr("arp", "protocolDst", pktwire.ErrAddrFamily)
	}
}

// RawData returns the underlying slice with which the frame was created.
func (afrm Frame) RawData() []byte { return afrm.s.RawData() }

// Hardware returns the network link protocol type (Ethernet is 1) and the hardware address length.
func (afrm Frame) Hardware() (Type uint16, length uint8) {
	return afrm.s.U16(0), afrm.s.U8(4)
}

// SetHardware sets the network link protocol type and address length. See [Frame.Hardware].
func (afrm Frame) SetHardware(Type uint16, length uint8) {
	afrm.s.PutU16(0, Type)
	afrm.s.PutU8(4, length)
}

// Protocol returns the internet protocol type and address length.
func (afrm Frame) Protocol() (Type pktwire.EtherType, length uint8) {
	return pktwire.EtherType(afrm.s.U16(2)), afrm.s.U8(5)
}

// SetProtocol sets the protocol type and length fields of the ARP frame. See [Frame.Protocol].
func (afrm Frame) SetProtocol(Type pktwire.EtherType, length uint8) {
	afrm.s.PutU16(2, uint16(Type))
	afrm.s.PutU8(5, length)
}

// Operation returns the ARP header operation field. See [Operation].
func (afrm Frame) Operation() Operation { return Operation(afrm.s.U16(6)) }

// SetOperation sets the ARP header operation field. See [Operation].
func (afrm Frame) SetOperation(op Operation) { afrm.s.PutU16(6, uint16(op)) }

// Sender returns the hardware (MAC) and protocol addresses of sender of ARP packet.
// In an ARP request MAC address is used to indicate
// the address of the host sending the request. In an ARP reply MAC address is
// used to indicate the address of the host that the request was looking for.
func (afrm Frame) Sender() (hardwareAddr *[6]byte, proto *[4]byte) {
	return (*[6]byte)(afrm.s.Array(8, 6)), (*[4]byte)(afrm.s.Array(14, 4))
}

// Target returns the hardware (MAC) and protocol addresses of target of ARP packet.
// In an ARP request MAC target is ignored. In ARP reply MAC is used to indicate the address of host that originated request.
func (afrm Frame) Target() (hardwareAddr *[6]byte, proto *[4]byte) {
	return (*[6]byte)(afrm.s.Array(18, 6)), (*[4]byte)(afrm.s.Array(24, 4))
}

// ClearHeader zeros out the header contents.
func (afrm Frame) ClearHeader() { clear(afrm.RawData()[:sizeHeaderv4]) }

// Fields returns the packet fields.
func (afrm Frame) Fields() Fields {
	htype, hlen := afrm.Hardware()
	ptype, plen := afrm.Protocol()
	shw, sproto := afrm.Sender()
	thw, tproto := afrm.Target()
	return Fields{
		HardwareType: htype,
		ProtocolType: ptype,
		HardwareSize: hlen,
		ProtocolSize: plen,
		Opcode:       afrm.Operation(),
		HardwareSrc:  *shw,
		ProtocolSrc:  netip.AddrFrom4(*sproto),
		HardwareDst:  *thw,
		ProtocolDst:  netip.AddrFrom4(*tproto),
	}
}

// Put writes the non-zero fields of f to the frame.
func (afrm Frame) Put(f Fields) {
	if f.HardwareType != 0 {
		afrm.s.PutU16(0, f.HardwareType)
	}
	if f.ProtocolType != 0 {
		afrm.s.PutU16(2, uint16(f.ProtocolType))
	}
	if f.HardwareSize != 0 {
		afrm.s.PutU8(4, f.HardwareSize)
	}
	if f.ProtocolSize != 0 {
		afrm.s.PutU8(5, f.ProtocolSize)
	}
	if f.Opcode != 0 {
		afrm.SetOperation(f.Opcode)
	}
	shw, sproto := afrm.Sender()
	thw, tproto := afrm.Target()
	if !f.HardwareSrc.IsZero() {
		*shw = f.HardwareSrc
	}
	if f.ProtocolSrc.Is4() {
		*sproto = f.ProtocolSrc.As4()
	}
	if !f.HardwareDst.IsZero() {
		*thw = f.HardwareDst
	}
	if f.ProtocolDst.Is4() {
		*tproto = f.ProtocolDst.As4()
	}
}

// SetDefaults fills unset header fields with the values for IPv4 over Ethernet.
// An unset operation defaults to a request.
func (afrm Frame) SetDefaults() {
	htype, hlen := afrm.Hardware()
	if htype == 0 {
		htype = 1
	}
	if hlen == 0 {
		hlen = 6
	}
	afrm.SetHardware(htype, hlen)
	ptype, plen := afrm.Protocol()
	if ptype == 0 {
		ptype = pktwire.EtherTypeIPv4
	}
	if plen == 0 {
		plen = 4
	}
	afrm.SetProtocol(ptype, plen)
	if afrm.Operation() == 0 {
		afrm.SetOperation(OpRequest)
	}
}

func (afrm Frame) String() string {
	f := afrm.Fields()
	return fmt.Sprintf("ARP %s %s %s > %s %s", f.Opcode, f.HardwareSrc, f.ProtocolSrc, f.HardwareDst, f.ProtocolDst)
}
