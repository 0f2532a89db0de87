package dhcpv4

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/soypat/pktwire"
	"github.com/soypat/pktwire/bstruct"
	"github.com/soypat/pktwire/tlv"
)

// NewFrame returns a new DHCPv4 Frame with data set to buf.
// An error is returned if the buffer size is smaller than 240.
// All bytes following the magic cookie are the frame's options.
func NewFrame(buf []byte) (Frame, error) {
	s, err := bstruct.Make(buf, optionsOffset, binary.BigEndian)
	if err != nil {
		return Frame{}, errShortFrame
	}
	return Frame{s: s}, nil
}

// Frame encapsulates the raw data of a DHCP packet
// and provides methods for manipulating, validating and
// retrieving fields and payload data. See [RFC2131].
//
// [RFC2131]: https://tools.ietf.org/html/rfc2131
type Frame struct {
	s bstruct.Struct
}

// Fields is the field set of a DHCP message. Only the first 6 bytes of the
// client hardware address are represented.
type Fields struct {
	Op                 Op           `json:"opCode" yaml:"opCode" mapstructure:"opCode"`
	HardwareType       uint8        `json:"hardwareType" yaml:"hardwareType" mapstructure:"hardwareType"`
	HardwareAddrLength uint8        `json:"hardwareAddressLength" yaml:"hardwareAddressLength" mapstructure:"hardwareAddressLength"`
	Hops               uint8        `json:"hops" yaml:"hops" mapstructure:"hops"`
	TransactionID      uint32       `json:"transactionId" yaml:"transactionId" mapstructure:"transactionId"`
	Secs               uint16       `json:"secondsElapsed" yaml:"secondsElapsed" mapstructure:"secondsElapsed"`
	Flags              Flags        `json:"flags" yaml:"flags" mapstructure:"flags"`
	ClientIP           netip.Addr   `json:"clientIp" yaml:"clientIp" mapstructure:"clientIp"`
	YourIP             netip.Addr   `json:"yourIp" yaml:"yourIp" mapstructure:"yourIp"`
	ServerIP           netip.Addr   `json:"serverIp" yaml:"serverIp" mapstructure:"serverIp"`
	GatewayIP          netip.Addr   `json:"gatewayIp" yaml:"gatewayIp" mapstructure:"gatewayIp"`
	ClientHardwareAddr pktwire.MAC  `json:"clientHardwareAddress" yaml:"clientHardwareAddress" mapstructure:"clientHardwareAddress"`
	ServerName         string       `json:"serverName" yaml:"serverName" mapstructure:"serverName"`
	BootFilename       string       `json:"bootFilename" yaml:"bootFilename" mapstructure:"bootFilename"`
	MagicNumber        uint32       `json:"magicNumber" yaml:"magicNumber" mapstructure:"magicNumber"`
	Options            []tlv.Option `json:"options,omitempty" yaml:"options,omitempty" mapstructure:"options"`
}

// Size returns the number of bytes needed to build a message with fields f.
func Size(f Fields) int { return optionsOffset + OptionCodec.EncodedLength(f.Options) }

// Validate checks the field values can be encoded in a DHCP message.
func (f *Fields) Validate(v *pktwire.Validator) {
	if len(f.ServerName) > sizeSName {
		v.AddFieldErr("dhcp", "serverName", errNameTooLong)
	}
	if len(f.BootFilename) > sizeBootFile {
		v.AddFieldErr("dhcp", "bootFilename", errFileTooLong)
	}
	if f.HardwareAddrLength > 16 {
		v.AddFieldErr("dhcp", "hardwareAddressLength", errBadHardwareLen)
	}
	for _, a := range [...]struct {
		name string
		addr netip.Addr
	}{{"clientIp", f.ClientIP}, {"yourIp", f.YourIP}, {"serverIp", f.ServerIP}, {"gatewayIp", f.GatewayIP}} {
		if a.addr.IsValid() && !a.addr.Is4() {
			v.AddFieldErr("dhcp", a.name, pktwire.ErrAddrFamily)
		}
	}
	if err := OptionCodec.Validate(f.Options); err != nil {
		v.AddFieldErr("dhcp", "options", err)
	}
}

// RawData returns the underlying slice with which the frame was created.
func (frm Frame) RawData() []byte { return frm.s.RawData() }

// TotalLength returns the length of the message in 32 bit words, rounded up.
func (frm Frame) TotalLength() int { return (len(frm.RawData()) + 3) / 4 }

// OptionsPayload returns the options portion of the DHCP frame. May be zero lengthed.
func (frm Frame) OptionsPayload() []byte {
	return frm.RawData()[optionsOffset:]
}

func (frm Frame) Op() Op      { return Op(frm.s.U8(0)) }
func (frm Frame) SetOp(op Op) { frm.s.PutU8(0, uint8(op)) }

func (frm Frame) Hardware() (Type, Len, Ops uint8) {
	return frm.s.U8(1), frm.s.U8(2), frm.s.U8(3)
}

func (frm Frame) SetHardware(Type, Len, Ops uint8) {
	frm.s.PutU8(1, Type)
	frm.s.PutU8(2, Len)
	frm.s.PutU8(3, Ops)
}

func (frm Frame) XID() uint32       { return frm.s.U32(4) }
func (frm Frame) SetXID(xid uint32) { frm.s.PutU32(4, xid) }

func (frm Frame) Secs() uint16        { return frm.s.U16(8) }
func (frm Frame) SetSecs(secs uint16) { frm.s.PutU16(8, secs) }

func (frm Frame) Flags() Flags         { return Flags(frm.s.U16(10)) }
func (frm Frame) SetFlags(flags Flags) { frm.s.PutU16(10, uint16(flags)) }

// CIAddr is the client IP address. If the client has not obtained an IP
// address yet, this field is set to 0.
func (frm Frame) CIAddr() *[4]byte { return (*[4]byte)(frm.s.Array(12, 4)) }

// YIAddr is the IP address offered by the server to the client.
func (frm Frame) YIAddr() *[4]byte { return (*[4]byte)(frm.s.Array(16, 4)) }

// SIAddr is the IP address of the next server to use in bootstrap. This
// field is used in DHCPOFFER and DHCPACK messages.
func (frm Frame) SIAddr() *[4]byte { return (*[4]byte)(frm.s.Array(20, 4)) }

// GIAddr is the gateway IP address.
func (frm Frame) GIAddr() *[4]byte { return (*[4]byte)(frm.s.Array(24, 4)) }

// CHAddrAs6 returns [Frame.CHAddr] but limited to first 6 bytes.
func (frm Frame) CHAddrAs6() *[6]byte { return (*[6]byte)(frm.s.Array(28, 6)) }

// CHAddr is the client hardware address. Can be up to 16 bytes in length but
// is usually 6 bytes for Ethernet.
func (frm Frame) CHAddr() *[16]byte { return (*[16]byte)(frm.s.Array(28, 16)) }

// ServerName returns the server host name up to the first NUL byte.
func (frm Frame) ServerName() string { return cstring(frm.s.Array(sizeHeader, sizeSName)) }

// SetServerName writes name NUL padded. Names longer than 64 bytes are truncated.
func (frm Frame) SetServerName(name string) {
	frm.s.PutArray(sizeHeader, sizeSName, []byte(name))
}

// BootFilename returns the boot file name up to the first NUL byte.
func (frm Frame) BootFilename() string {
	return cstring(frm.s.Array(sizeHeader+sizeSName, sizeBootFile))
}

// SetBootFilename writes name NUL padded. Names longer than 128 bytes are truncated.
func (frm Frame) SetBootFilename(name string) {
	frm.s.PutArray(sizeHeader+sizeSName, sizeBootFile, []byte(name))
}

func (frm Frame) MagicCookie() uint32 { return frm.s.U32(magicCookieOffset) }
func (frm Frame) SetMagicCookie(cookie uint32) {
	frm.s.PutU32(magicCookieOffset, cookie)
}

// ClearHeader zeros out the header contents.
func (frm Frame) ClearHeader() {
	clear(frm.RawData()[:optionsOffset])
}

// ForEachOption calls fn for every option record of the frame. See [tlv.Codec.ForEach].
func (frm Frame) ForEachOption(fn func(op OptNum, data []byte) error) error {
	return OptionCodec.ForEach(frm.OptionsPayload(), func(opt tlv.Option) error {
		return fn(OptNum(opt.Type), opt.Value)
	})
}

// Fields returns the message fields. Option values alias the frame's buffer.
func (frm Frame) Fields() Fields {
	htype, hlen, hops := frm.Hardware()
	return Fields{
		Op:                 frm.Op(),
		HardwareType:       htype,
		HardwareAddrLength: hlen,
		Hops:               hops,
		TransactionID:      frm.XID(),
		Secs:               frm.Secs(),
		Flags:              frm.Flags(),
		ClientIP:           netip.AddrFrom4(*frm.CIAddr()),
		YourIP:             netip.AddrFrom4(*frm.YIAddr()),
		ServerIP:           netip.AddrFrom4(*frm.SIAddr()),
		GatewayIP:          netip.AddrFrom4(*frm.GIAddr()),
		ClientHardwareAddr: *frm.CHAddrAs6(),
		ServerName:         frm.ServerName(),
		BootFilename:       frm.BootFilename(),
		MagicNumber:        frm.MagicCookie(),
		Options:            OptionCodec.DecodeAll(frm.OptionsPayload()),
	}
}

// Put writes the non-zero fields of f to the frame. Options are written after
// the magic cookie; the frame must be at least [Size] bytes long.
func (frm Frame) Put(f Fields) error {
	if len(f.Options) > 0 {
		if _, err := OptionCodec.Put(frm.OptionsPayload(), f.Options); err != nil {
			return err
		}
	}
	s := frm.s
	if f.Op != 0 {
		frm.SetOp(f.Op)
	}
	if f.HardwareType != 0 {
		s.PutU8(1, f.HardwareType)
	}
	if f.HardwareAddrLength != 0 {
		s.PutU8(2, f.HardwareAddrLength)
	}
	if f.Hops != 0 {
		s.PutU8(3, f.Hops)
	}
	if f.TransactionID != 0 {
		frm.SetXID(f.TransactionID)
	}
	if f.Secs != 0 {
		frm.SetSecs(f.Secs)
	}
	if f.Flags != 0 {
		frm.SetFlags(f.Flags)
	}
	if f.ClientIP.Is4() {
		*frm.CIAddr() = f.ClientIP.As4()
	}
	if f.YourIP.Is4() {
		*frm.YIAddr() = f.YourIP.As4()
	}
	if f.ServerIP.Is4() {
		*frm.SIAddr() = f.ServerIP.As4()
	}
	if f.GatewayIP.Is4() {
		*frm.GIAddr() = f.GatewayIP.As4()
	}
	if !f.ClientHardwareAddr.IsZero() {
		*frm.CHAddrAs6() = f.ClientHardwareAddr
	}
	if f.ServerName != "" {
		frm.SetServerName(f.ServerName)
	}
	if f.BootFilename != "" {
		frm.SetBootFilename(f.BootFilename)
	}
	if f.MagicNumber != 0 {
		frm.SetMagicCookie(f.MagicNumber)
	}
	return nil
}

func (frm Frame) String() string {
	return fmt.Sprintf("DHCP %s xid=%#x chaddr=%s yiaddr=%s", frm.Op(), frm.XID(),
		pktwire.MAC(*frm.CHAddrAs6()), netip.AddrFrom4(*frm.YIAddr()))
}

// IsMessage reports whether payload is large enough to be a DHCP message and
// carries the magic cookie.
func IsMessage(payload []byte) bool {
	return len(payload) >= optionsOffset &&
		binary.BigEndian.Uint32(payload[magicCookieOffset:]) == MagicCookie
}

func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
