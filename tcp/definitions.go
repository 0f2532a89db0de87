package tcp

import (
	"errors"
	"math/bits"

	"github.com/soypat/pktwire/bstruct"
)

const (
	sizeHeaderTCP = 20
	// maxHeaderTCP is the largest header expressible by the 4 bit data offset.
	maxHeaderTCP = 15 * 4
)

var (
	errShortBuf         = errors.New("tcp: short buffer")
	errBadDataOffset    = errors.New("tcp: bad data offset")
	errOptionsTooLong   = errors.New("tcp: options exceed maximum header length")
	errBadOptionSize    = errors.New("tcp: bad option size for kind")
	errZeroSourcePort   = errors.New("tcp: zero source port")
	errZeroDestPort     = errors.New("tcp: zero destination port")
	errReservedOverflow = errors.New("tcp: reserved bits overflow")
)

// The 16 bit control word at offset 12: data offset in the top nibble,
// then 4 reserved bits and the 8 flag bits with FIN as least significant.
var (
	bfDataOffset = bstruct.BitField{Offset: 12, Size: 2, Shift: 12, Width: 4}
	bfReserved   = bstruct.BitField{Offset: 12, Size: 2, Shift: 8, Width: 4}
	bfFlags      = bstruct.BitField{Offset: 12, Size: 2, Shift: 0, Width: 8}
)

// Flags is a TCP flags bit-masked implementation i.e: SYN, FIN, ACK.
type Flags uint16

const (
	FlagFIN Flags = 1 << iota // FlagFIN - No more data from sender.
	FlagSYN                   // FlagSYN - Synchronize sequence numbers.
	FlagRST                   // FlagRST - Reset the connection.
	FlagPSH                   // FlagPSH - Push function.
	FlagACK                   // FlagACK - Acknowledgment field significant.
	FlagURG                   // FlagURG - Urgent pointer field significant.
	FlagECE                   // FlagECE - ECN-Echo has a nonce-sum in the SYN/ACK.
	FlagCWR                   // FlagCWR - Congestion Window Reduced.
)

const flagMask = 0x00ff

// The union of SYN|FIN|PSH and ACK flags is common so we define unexported shorthands.
const (
	synack = FlagSYN | FlagACK
	finack = FlagFIN | FlagACK
	pshack = FlagPSH | FlagACK
)

// HasAll checks if mask bits are all set in the receiver flags.
func (flags Flags) HasAll(mask Flags) bool { return flags&mask == mask }

// HasAny checks if one or more mask bits are set in receiver flags.
func (flags Flags) HasAny(mask Flags) bool { return flags&mask != 0 }

// Mask returns the flags with non-flag bits unset.
func (flags Flags) Mask() Flags { return flags & flagMask }

// String returns human readable flag string. i.e:
//
//	"[SYN,ACK]"
//
// Flags are printed in order from LSB (FIN) to MSB (CWR).
func (flags Flags) String() string {
	// Cover most common cases without heap allocating.
	switch flags {
	case 0:
		return "[]"
	case synack:
		return "[SYN,ACK]"
	case finack:
		return "[FIN,ACK]"
	case pshack:
		return "[PSH,ACK]"
	case FlagACK:
		return "[ACK]"
	case FlagSYN:
		return "[SYN]"
	case FlagFIN:
		return "[FIN]"
	case FlagRST:
		return "[RST]"
	}
	buf := make([]byte, 0, 2+4*bits.OnesCount16(uint16(flags)))
	buf = append(buf, '[')
	buf = flags.AppendFormat(buf)
	buf = append(buf, ']')
	return string(buf)
}

// AppendFormat appends a human readable flag string to b returning the extended buffer.
func (flags Flags) AppendFormat(b []byte) []byte {
	flags = flags.Mask()
	if flags == 0 {
		return b
	}
	const flaglen = 3
	const strflags = "FINSYNRSTPSHACKURGECECWR"
	var addcommas bool
	for flags != 0 {
		i := bits.TrailingZeros16(uint16(flags))
		if addcommas {
			b = append(b, ',')
		} else {
			addcommas = true
		}
		b = append(b, strflags[i*flaglen:i*flaglen+flaglen]...)
		flags &^= 1 << i
	}
	return b
}

// FlagBits is the named boolean form of [Flags].
type FlagBits struct {
	FIN bool `json:"fin" yaml:"fin" mapstructure:"fin"`
	SYN bool `json:"syn" yaml:"syn" mapstructure:"syn"`
	RST bool `json:"rst" yaml:"rst" mapstructure:"rst"`
	PSH bool `json:"psh" yaml:"psh" mapstructure:"psh"`
	ACK bool `json:"ack" yaml:"ack" mapstructure:"ack"`
	URG bool `json:"urg" yaml:"urg" mapstructure:"urg"`
	ECE bool `json:"ece" yaml:"ece" mapstructure:"ece"`
	CWR bool `json:"cwr" yaml:"cwr" mapstructure:"cwr"`
}

// Bits returns the named flag bits of flags.
func (flags Flags) Bits() FlagBits {
	return FlagBits{
		FIN: flags.HasAny(FlagFIN),
		SYN: flags.HasAny(FlagSYN),
		RST: flags.HasAny(FlagRST),
		PSH: flags.HasAny(FlagPSH),
		ACK: flags.HasAny(FlagACK),
		URG: flags.HasAny(FlagURG),
		ECE: flags.HasAny(FlagECE),
		CWR: flags.HasAny(FlagCWR),
	}
}

// Flags returns the bit-masked form of fb.
func (fb FlagBits) Flags() (flags Flags) {
	for i, set := range [...]bool{fb.FIN, fb.SYN, fb.RST, fb.PSH, fb.ACK, fb.URG, fb.ECE, fb.CWR} {
		if set {
			flags |= 1 << i
		}
	}
	return flags
}
