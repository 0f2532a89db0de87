package icmp

import (
	"errors"
	"strconv"
)

const sizeHeader = 4

var (
	errShortFrame = errors.New("icmp: short frame")
	errBadType    = errors.New("icmp: unknown type name")
)

// Type is an ICMP for IPv4 message type.
type Type uint8

const (
	TypeEchoReply Type = 0 // echo reply
	TypeEcho      Type = 8 // echo

	TypeDestinationUnreachable Type = 3 // destination unreachable
	TypeSourceQuench           Type = 4 // source quench
	TypeRedirect               Type = 5 // redirect

	TypeTimeExceeded     Type = 11 // time exceeded
	TypeParameterProblem Type = 12 // parameter problem

	TypeTimestamp      Type = 13 // timestamp
	TypeTimestampReply Type = 14 // timestamp reply

	TypeInfoRequest      Type = 15 // information request
	TypeInfoRequestReply Type = 16 // information request reply
)

var typeNames = map[Type]string{
	TypeEchoReply:              "EchoReply",
	TypeEcho:                   "EchoRequest",
	TypeDestinationUnreachable: "DestinationUnreachable",
	TypeSourceQuench:           "SourceQuench",
	TypeRedirect:               "Redirect",
	TypeTimeExceeded:           "TimeExceeded",
	TypeParameterProblem:       "ParameterProblem",
	TypeTimestamp:              "TimestampRequest",
	TypeTimestampReply:         "TimestampReply",
	TypeInfoRequest:            "InformationRequest",
	TypeInfoRequestReply:       "InformationReply",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return "Type(" + strconv.Itoa(int(t)) + ")"
}

func (t Type) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText accepts the name of a type or its decimal number.
func (t *Type) UnmarshalText(text []byte) error {
	v, err := lookupType(typeNames, string(text))
	*t = v
	return err
}

// HeaderSize returns the length of an ICMPv4 header of type t, the fixed 4 bytes
// plus the trailer that depends on the type. Unknown types have no trailer.
func HeaderSize(t Type) int {
	switch t {
	case TypeEcho, TypeEchoReply:
		return sizeHeader + 12 // id, sequence, 8 byte timestamp.
	case TypeTimestamp, TypeTimestampReply:
		return sizeHeader + 16 // id, sequence, originate, receive, transmit.
	case TypeDestinationUnreachable, TypeTimeExceeded, TypeParameterProblem:
		return sizeHeader + 4
	}
	return sizeHeader
}

// TypeV6 is an ICMP for IPv6 message type.
type TypeV6 uint8

const (
	TypeV6DestinationUnreachable TypeV6 = 1   // destination unreachable
	TypeV6PacketTooBig           TypeV6 = 2   // packet too big
	TypeV6TimeExceeded           TypeV6 = 3   // time exceeded
	TypeV6ParameterProblem       TypeV6 = 4   // parameter problem
	TypeV6EchoRequest            TypeV6 = 128 // echo request
	TypeV6EchoReply              TypeV6 = 129 // echo reply
	TypeV6RouterSolicitation     TypeV6 = 133 // router solicitation
	TypeV6RouterAdvertisement    TypeV6 = 134 // router advertisement
	TypeV6NeighborSolicitation   TypeV6 = 135 // neighbor solicitation
	TypeV6NeighborAdvertisement  TypeV6 = 136 // neighbor advertisement
)

var typeV6Names = map[TypeV6]string{
	TypeV6DestinationUnreachable: "DestinationUnreachable",
	TypeV6PacketTooBig:           "PacketTooBig",
	TypeV6TimeExceeded:           "TimeExceeded",
	TypeV6ParameterProblem:       "ParameterProblem",
	TypeV6EchoRequest:            "EchoRequest",
	TypeV6EchoReply:              "EchoReply",
	TypeV6RouterSolicitation:     "RouterSolicitation",
	TypeV6RouterAdvertisement:    "RouterAdvertisement",
	TypeV6NeighborSolicitation:   "NeighborSolicitation",
	TypeV6NeighborAdvertisement:  "NeighborAdvertisement",
}

func (t TypeV6) String() string {
	if s, ok := typeV6Names[t]; ok {
		return s
	}
	return "TypeV6(" + strconv.Itoa(int(t)) + ")"
}

func (t TypeV6) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText accepts the name of a type or its decimal number.
func (t *TypeV6) UnmarshalText(text []byte) error {
	v, err := lookupType(typeV6Names, string(text))
	*t = v
	return err
}

// HeaderSizeV6 returns the length of an ICMPv6 header of type t. Unknown types have no trailer.
func HeaderSizeV6(t TypeV6) int {
	switch t {
	case TypeV6EchoRequest, TypeV6EchoReply:
		return sizeHeader + 4 // id, sequence.
	case TypeV6DestinationUnreachable, TypeV6TimeExceeded, TypeV6ParameterProblem:
		return sizeHeader + 4
	}
	return sizeHeader
}

func lookupType[T ~uint8](names map[T]string, s string) (T, error) {
	for t, name := range names {
		if name == s {
			return t, nil
		}
	}
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, errBadType
	}
	return T(n), nil
}
