package arp

import (
	"errors"
	"strconv"
)

const sizeHeaderv4 = 28

var (
	errShortARP = errors.New("arp: packet too short")
	errBadOp    = errors.New("arp: unknown operation")
)

// Operation represents the type of ARP packet, either request or reply/response.
type Operation uint16

const (
	OpRequest Operation = 1 // who-has
	OpReply   Operation = 2 // is-at
)

func (op Operation) String() string {
	switch op {
	case OpRequest:
		return "who-has"
	case OpReply:
		return "is-at"
	}
	return "Operation(" + strconv.Itoa(int(op)) + ")"
}

func (op Operation) MarshalText() ([]byte, error) { return []byte(op.String()), nil }

func (op *Operation) UnmarshalText(text []byte) error {
	switch string(text) {
	case "who-has", "request":
		*op = OpRequest
	case "is-at", "reply":
		*op = OpReply
	default:
		n, err := strconv.ParseUint(string(text), 10, 16)
		if err != nil {
			return errBadOp
		}
		*op = Operation(n)
	}
	return nil
}
