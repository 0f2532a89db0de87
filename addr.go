package pktwire

import (
	"errors"
	"strconv"
)

// MAC is a 48-bit IEEE 802 hardware address.
type MAC [6]byte

var errBadMAC = errors.New("pktwire: invalid MAC address")

// BroadcastMAC returns the all 0xff's broadcast hardware address.
func BroadcastMAC() MAC { return MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff} }

// AppendText appends the colon separated lowercase hex representation
// of the hardware address to dst.
func (m MAC) AppendText(dst []byte) ([]byte, error) {
	for i, b := range m {
		if i != 0 {
			dst = append(dst, ':')
		}
		if b < 16 {
			dst = append(dst, '0')
		}
		dst = strconv.AppendUint(dst, uint64(b), 16)
	}
	return dst, nil
}

// String returns the canonical text form, i.e: "00:eb:d8:f4:bb:e7".
func (m MAC) String() string {
	b, _ := m.AppendText(make([]byte, 0, 17))
	return string(b)
}

func (m MAC) MarshalText() ([]byte, error) { return m.AppendText(nil) }

func (m *MAC) UnmarshalText(text []byte) error {
	mac, err := ParseMAC(string(text))
	if err != nil {
		return err
	}
	*m = mac
	return nil
}

// IsZero reports whether m is the all zeros address.
func (m MAC) IsZero() bool { return m == MAC{} }

// ParseMAC parses a 6 octet hardware address separated by colons or dashes.
func ParseMAC(s string) (mac MAC, err error) {
	if len(s) != 17 {
		return mac, errBadMAC
	}
	for i := range mac {
		if i > 0 {
			sep := s[3*i-1]
			if sep != ':' && sep != '-' {
				return mac, errBadMAC
			}
		}
		hi, ok1 := fromHex(s[3*i])
		lo, ok2 := fromHex(s[3*i+1])
		if !ok1 || !ok2 {
			return mac, errBadMAC
		}
		mac[i] = hi<<4 | lo
	}
	return mac, nil
}

func fromHex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
