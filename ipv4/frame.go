package ipv4

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"

	"github.com/soypat/pktwire"
	"github.com/soypat/pktwire/bstruct"
	"github.com/soypat/pktwire/tlv"
)

// NewFrame returns a new Frame with data set to buf.
// An error is returned if the buffer size is smaller than 20.
// Users should still call [Frame.ValidateSize] before working
// with payload/options of frames to avoid panics.
func NewFrame(buf []byte) (Frame, error) {
	s, err := bstruct.Make(buf, sizeHeader, binary.BigEndian)
	if err != nil {
		return Frame{}, errShortBuf
	}
	return Frame{s: s}, nil
}

// Frame encapsulates the raw data of an IPv4 packet
// and provides methods for manipulating, validating and
// retrieving fields and payload data. See [RFC791].
//
// [RFC791]: https://tools.ietf.org/html/rfc791
type Frame struct {
	s bstruct.Struct
}

// Fields is the field set of an IPv4 header. Zero valued fields are unset and
// filled in by the packet builder.
type Fields struct {
	Version        uint8           `json:"version" yaml:"version" mapstructure:"version"`
	HeaderLength   uint8           `json:"headerLength" yaml:"headerLength" mapstructure:"headerLength"`
	TypeOfService  ToS             `json:"typeOfService" yaml:"typeOfService" mapstructure:"typeOfService"`
	TotalLength    uint16          `json:"totalLength" yaml:"totalLength" mapstructure:"totalLength"`
	ID             uint16          `json:"id" yaml:"id" mapstructure:"id"`
	Flags          FlagBits        `json:"flags" yaml:"flags" mapstructure:"flags"`
	FragmentOffset uint16          `json:"fragmentOffset" yaml:"fragmentOffset" mapstructure:"fragmentOffset"`
	TTL            uint8           `json:"ttl" yaml:"ttl" mapstructure:"ttl"`
	Protocol       pktwire.IPProto `json:"protocol" yaml:"protocol" mapstructure:"protocol"`
	Checksum       uint16          `json:"checksum" yaml:"checksum" mapstructure:"checksum"`
	Source         netip.Addr      `json:"src" yaml:"src" mapstructure:"src"`
	Destination    netip.Addr      `json:"dst" yaml:"dst" mapstructure:"dst"`
	Options        []tlv.Option    `json:"options,omitempty" yaml:"options,omitempty" mapstructure:"options"`
}

// Size returns the number of bytes needed to build a header with fields f.
func Size(f Fields) int { return sizeHeader + OptionCodec.EncodedLength(f.Options) }

// Validate checks the field values can be encoded in an IPv4 header.
func (f *Fields) Validate(v *pktwire.Validator) {
	if f.Version > 0xf {
		v.AddFieldErr("ipv4", "version", pktwire.ErrFieldOverflow)
	}
	if f.HeaderLength > 0xf || (f.HeaderLength != 0 && int(f.HeaderLength)*4 < Size(*f)) {
		v.AddFieldErr("ipv4", "headerLength", errBadIHL)
	}
	if f.FragmentOffset > FlagOffsetMask {
		v.AddFieldErr("ipv4", "fragmentOffset", pktwire.ErrFieldOverflow)
	}
	if f.Source.IsValid() && !f.Source.Is4() {
		v.AddFieldErr("ipv4", "src", pktwire.ErrAddrFamily)
	}
	if f.Destination.IsValid() && !f.Destination.Is4() {
		v.AddFieldErr("ipv4", "dst", pktwire.ErrAddrFamily)
	}
	if err := OptionCodec.Validate(f.Options); err != nil {
		v.AddFieldErr("ipv4", "options", err)
	} else if Size(*f) > maxHeader {
		v.AddFieldErr("ipv4", "options", errOptionsTooLong)
	}
}

// RawData returns the underlying slice with which the frame was created.
func (ifrm Frame) RawData() []byte { return ifrm.s.RawData() }

// HeaderLength returns the length of the IPv4 header as calculated using IHL. It includes IP options.
func (ifrm Frame) HeaderLength() int {
	return int(ifrm.ihl()) * 4
}

func (ifrm Frame) ihl() uint8     { return uint8(ifrm.s.Bits(bfIHL)) }
func (ifrm Frame) version() uint8 { return uint8(ifrm.s.Bits(bfVersion)) }

// VersionAndIHL returns the version and IHL fields in the IPv4 header. Version should always be 4.
func (ifrm Frame) VersionAndIHL() (version, IHL uint8) {
	return ifrm.version(), ifrm.ihl()
}

// SetVersionAndIHL sets the version and IHL fields in the IPv4 header. Version should always be 4.
func (ifrm Frame) SetVersionAndIHL(version, IHL uint8) {
	ifrm.s.SetBits(bfVersion, uint32(version))
	ifrm.s.SetBits(bfIHL, uint32(IHL))
}

// ToS (Type of Service) contains Differential Services Code Point (DSCP) and
// Explicit Congestion Notification (ECN) union data.
func (ifrm Frame) ToS() ToS { return ToS(ifrm.s.U8(1)) }

// SetToS sets ToS field. See [Frame.ToS].
func (ifrm Frame) SetToS(tos ToS) { ifrm.s.PutU8(1, uint8(tos)) }

// TotalLength defines the entire packet size in bytes, including IP header and data.
// The minimum size is 20 bytes (IPv4 header without data) and the maximum is 65,535 bytes.
func (ifrm Frame) TotalLength() uint16 { return ifrm.s.U16(2) }

// SetTotalLength sets TotalLength field. See [Frame.TotalLength].
func (ifrm Frame) SetTotalLength(tl uint16) { ifrm.s.PutU16(2, tl) }

// ID is an identification field and is primarily used for uniquely
// identifying the group of fragments of a single IP datagram.
func (ifrm Frame) ID() uint16 { return ifrm.s.U16(4) }

// SetID sets ID field. See [Frame.ID].
func (ifrm Frame) SetID(id uint16) { ifrm.s.PutU16(4, id) }

// Flags returns the [Flags] of the IP packet.
func (ifrm Frame) Flags() Flags { return Flags(ifrm.s.U16(6)) }

// SetFlags sets the IPv4 flags field. See [Flags].
func (ifrm Frame) SetFlags(flags Flags) { ifrm.s.PutU16(6, uint16(flags)) }

// IsFragment returns true if the packet is a fragment of a larger datagram.
func (ifrm Frame) IsFragment() bool { return ifrm.Flags().IsFragment() }

// TTL is an eight-bit time to live field limits a datagram's lifetime to prevent
// network failure in the event of a routing loop.
func (ifrm Frame) TTL() uint8 { return ifrm.s.U8(8) }

// SetTTL sets the IP frame's TTL field. See [Frame.TTL].
func (ifrm Frame) SetTTL(ttl uint8) { ifrm.s.PutU8(8, ttl) }

// Protocol field defines the protocol used in the data portion of the IP datagram. TCP is 6, UDP is 17.
func (ifrm Frame) Protocol() pktwire.IPProto { return pktwire.IPProto(ifrm.s.U8(9)) }

// SetProtocol sets protocol field. See [Frame.Protocol].
func (ifrm Frame) SetProtocol(proto pktwire.IPProto) { ifrm.s.PutU8(9, uint8(proto)) }

// CRC returns the checksum field of the IPv4 header.
func (ifrm Frame) CRC() uint16 { return ifrm.s.U16(10) }

// SetCRC sets the CRC field of the IP packet. See [Frame.CRC].
func (ifrm Frame) SetCRC(cs uint16) { ifrm.s.PutU16(10, cs) }

// CalculateHeaderCRC calculates the checksum of the header, options included, as if the checksum field were zero.
// Call [Frame.ValidateSize] beforehand to avoid panic.
func (ifrm Frame) CalculateHeaderCRC() uint16 {
	var crc pktwire.CRC791
	buf := ifrm.RawData()
	crc.Write(buf[0:10])
	crc.Write(buf[12:ifrm.HeaderLength()])
	return crc.Sum16()
}

// SourceAddr returns pointer to the source IPv4 address in the IP header.
func (ifrm Frame) SourceAddr() *[4]byte { return (*[4]byte)(ifrm.s.Array(12, 4)) }

// DestinationAddr returns pointer to the destination IPv4 address in the IP header.
func (ifrm Frame) DestinationAddr() *[4]byte { return (*[4]byte)(ifrm.s.Array(16, 4)) }

// Payload returns the contents of the IPv4 packet, which may be zero sized.
// Be sure to call [Frame.ValidateSize] beforehand to avoid panic.
func (ifrm Frame) Payload() []byte {
	return ifrm.RawData()[ifrm.HeaderLength():ifrm.TotalLength()]
}

// Options returns the options portion of the IPv4 header. May be zero lengthed.
// Be sure to call [Frame.ValidateSize] beforehand to avoid panic.
func (ifrm Frame) Options() []byte {
	return ifrm.RawData()[sizeHeader:ifrm.HeaderLength()]
}

// ClearHeader zeros out the fixed(non-variable) header contents.
func (ifrm Frame) ClearHeader() {
	clear(ifrm.RawData()[:sizeHeader])
}

// Fields returns the header fields. Option values alias the frame's buffer.
// Call [Frame.ValidateSize] beforehand to avoid panic.
func (ifrm Frame) Fields() Fields {
	flags := ifrm.Flags()
	return Fields{
		Version:        ifrm.version(),
		HeaderLength:   ifrm.ihl(),
		TypeOfService:  ifrm.ToS(),
		TotalLength:    ifrm.TotalLength(),
		ID:             ifrm.ID(),
		Flags:          flags.Bits(),
		FragmentOffset: flags.FragmentOffset(),
		TTL:            ifrm.TTL(),
		Protocol:       ifrm.Protocol(),
		Checksum:       ifrm.CRC(),
		Source:         netip.AddrFrom4(*ifrm.SourceAddr()),
		Destination:    netip.AddrFrom4(*ifrm.DestinationAddr()),
		Options:        OptionCodec.DecodeAll(ifrm.Options()),
	}
}

// Put writes the non-zero fields of f to the frame. Options are written
// directly after the fixed header; the frame must be at least [Size] bytes long.
func (ifrm Frame) Put(f Fields) error {
	if len(f.Options) > 0 {
		_, err := OptionCodec.Put(ifrm.RawData()[sizeHeader:], f.Options)
		if err != nil {
			return err
		}
	}
	if f.Version != 0 {
		ifrm.s.SetBits(bfVersion, uint32(f.Version))
	}
	if f.HeaderLength != 0 {
		ifrm.s.SetBits(bfIHL, uint32(f.HeaderLength))
	}
	if f.TypeOfService != 0 {
		ifrm.SetToS(f.TypeOfService)
	}
	if f.TotalLength != 0 {
		ifrm.SetTotalLength(f.TotalLength)
	}
	if f.ID != 0 {
		ifrm.SetID(f.ID)
	}
	if flags := f.Flags.With(f.FragmentOffset); flags != 0 {
		ifrm.SetFlags(flags)
	}
	if f.TTL != 0 {
		ifrm.SetTTL(f.TTL)
	}
	if f.Protocol != 0 {
		ifrm.SetProtocol(f.Protocol)
	}
	if f.Checksum != 0 {
		ifrm.SetCRC(f.Checksum)
	}
	if f.Source.Is4() {
		*ifrm.SourceAddr() = f.Source.As4()
	}
	if f.Destination.Is4() {
		*ifrm.DestinationAddr() = f.Destination.As4()
	}
	return nil
}

//
// Validation API.
//

var (
	errShortBuf       = errors.New("ipv4: short buffer")
	errBadTL          = errors.New("ipv4: bad total length")
	errShort          = errors.New("ipv4: short data")
	errBadIHL         = errors.New("ipv4: bad IHL")
	errBadVersion     = errors.New("ipv4: bad version")
	errEvil           = errors.New("ipv4: evil packet")
	errOptionsTooLong = errors.New("ipv4: options exceed maximum header length")
)

// ValidateSize checks the frame's size fields and compares with the actual buffer
// the frame. It returns a non-nil error on finding an inconsistency.
func (ifrm Frame) ValidateSize(v *pktwire.Validator) {
	ihl := ifrm.ihl()
	tl := ifrm.TotalLength()
	if tl < sizeHeader || int(tl) < 4*int(ihl) {
		v.AddError(errBadTL)
	}
	if int(tl) > len(ifrm.RawData()) {
		v.AddError(errShort)
	}
	if ihl < 5 || 4*int(ihl) > len(ifrm.RawData()) {
		v.AddError(errBadIHL)
	}
}

// ValidateExceptCRC checks for invalid frame values but does not check CRC.
func (ifrm Frame) ValidateExceptCRC(v *pktwire.Validator) {
	ifrm.ValidateSize(v)
	if ifrm.version() != 4 {
		v.AddError(errBadVersion)
	}
	if ifrm.Flags().IsEvil() {
		v.AddError(errEvil)
	}
}

func (ifrm Frame) String() string {
	dst := netip.AddrFrom4(*ifrm.DestinationAddr())
	src := netip.AddrFrom4(*ifrm.SourceAddr())

	hl := ifrm.HeaderLength()
	tl := int(ifrm.TotalLength())
	ttl := ifrm.TTL()
	id := ifrm.ID()
	proto := ifrm.Protocol()
	tos := ifrm.ToS()
	return fmt.Sprintf("IP %s SRC=%s DST=%s LEN=%d OPT=%d TTL=%d ID=%d ToS=0x%x", proto.String(), src.String(), dst.String(), tl, hl-sizeHeader, ttl, id, tos)
}
