package dhcpv4

import (
	"errors"
	"strconv"

	"github.com/soypat/pktwire/tlv"
)

const (
	sizeSName    = 64  // Server name, part of BOOTP too.
	sizeBootFile = 128 // Boot file name, Legacy.
	sizeHeader   = 44
	// Magic Cookie offset measured from the start of the UDP payload.
	magicCookieOffset = sizeHeader + sizeSName + sizeBootFile
	// Expected Magic Cookie value.
	MagicCookie uint32 = 0x63825363
	// DHCP Options offset measured from the start of the UDP payload.
	optionsOffset = magicCookieOffset + 4

	DefaultClientPort = 68
	DefaultServerPort = 67
)

var (
	errShortFrame     = errors.New("dhcpv4: short frame")
	errNameTooLong    = errors.New("dhcpv4: server name exceeds 64 bytes")
	errFileTooLong    = errors.New("dhcpv4: boot file name exceeds 128 bytes")
	errBadOp          = errors.New("dhcpv4: bad op")
	errBadHardwareLen = errors.New("dhcpv4: hardware address length exceeds 16")
)

// OptionCodec decodes and encodes DHCP options. The length byte counts the
// whole record and Pad and End are single byte records.
var OptionCodec = tlv.Codec{
	LengthIsTotal: true,
	SkipTypes:     []uint8{uint8(OptWordAligned), uint8(OptEnd)},
}

// Op is the BOOTP message op code.
type Op uint8

const (
	OpRequest Op = 1 // request
	OpReply   Op = 2 // reply
)

func (op Op) String() string {
	switch op {
	case OpRequest:
		return "request"
	case OpReply:
		return "reply"
	}
	return "Op(" + strconv.Itoa(int(op)) + ")"
}

func (op Op) MarshalText() ([]byte, error) { return []byte(op.String()), nil }

// UnmarshalText accepts "request", "reply" or a decimal op code.
func (op *Op) UnmarshalText(text []byte) error {
	switch s := string(text); s {
	case "request":
		*op = OpRequest
	case "reply":
		*op = OpReply
	default:
		n, err := strconv.ParseUint(s, 10, 8)
		if err != nil {
			return errBadOp
		}
		*op = Op(n)
	}
	return nil
}

// Flags is the BOOTP flags field. Only the most significant bit is defined.
type Flags uint16

const FlagBroadcast Flags = 1 << 15

// IsBroadcast returns true if the client requests replies be broadcast.
func (f Flags) IsBroadcast() bool { return f&FlagBroadcast != 0 }

// OptNum is a DHCP option type. Type 1 is decoded as a bare end marker and
// does not carry the RFC 2132 subnet mask.
type OptNum uint8

const (
	OptWordAligned          OptNum = 0   // word-aligned padding
	OptEnd                  OptNum = 1   // end of options
	OptTimeOffset           OptNum = 2   // time offset
	OptRouter               OptNum = 3   // router
	OptDNSServers           OptNum = 6   // domain name servers
	OptHostName             OptNum = 12  // host name
	OptDomainName           OptNum = 15  // domain name
	OptInterfaceMTUSize     OptNum = 26  // interface MTU
	OptBroadcastAddress     OptNum = 28  // broadcast address
	OptNTPServersAddresses  OptNum = 42  // NTP servers
	OptRequestedIPaddress   OptNum = 50  // requested IP address
	OptIPAddressLeaseTime   OptNum = 51  // IP address lease time
	OptMessageType          OptNum = 53  // DHCP message type
	OptServerIdentification OptNum = 54  // server identifier
	OptParameterRequestList OptNum = 55  // parameter request list
	OptMaximumMessageSize   OptNum = 57  // maximum DHCP message size
	OptRenewTimeValue       OptNum = 58  // renewal time value
	OptRebindingTimeValue   OptNum = 59  // rebinding time value
	OptClientIdentifier     OptNum = 61  // client identifier
)

// MessageType is the value of the DHCP message type option.
type MessageType uint8

const (
	MsgDiscover MessageType = iota + 1 // discover
	MsgOffer                           // offer
	MsgRequest                         // request
	MsgDecline                         // decline
	MsgAck                             // ack
	MsgNak                             // nak
	MsgRelease                         // release
	MsgInform                          // inform
)

func (mt MessageType) String() string {
	names := [...]string{"discover", "offer", "request", "decline", "ack", "nak", "release", "inform"}
	if mt >= MsgDiscover && mt <= MsgInform {
		return names[mt-1]
	}
	return "MessageType(" + strconv.Itoa(int(mt)) + ")"
}
