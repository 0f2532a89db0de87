package packet

import "strconv"

// Kind identifies the protocol of a [Layer].
type Kind uint8

const (
	KindPayload  Kind = iota // Payload
	KindEthernet             // Ethernet
	KindARP                  // ARP
	KindIPv4                 // IPv4
	KindIPv6                 // IPv6
	KindTCP                  // TCP
	KindUDP                  // UDP
	KindICMP                 // ICMP
	KindICMPv6               // ICMPv6
	KindDHCP                 // DHCP
	numKinds
)

var kindNames = [numKinds]string{
	"Payload", "Ethernet", "ARP", "IPv4", "IPv6", "TCP", "UDP", "ICMP", "ICMPv6", "DHCP",
}

func (k Kind) String() string {
	if k < numKinds {
		return kindNames[k]
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText parses a layer name as returned by [Kind.String].
func (k *Kind) UnmarshalText(text []byte) error {
	for i, name := range kindNames {
		if name == string(text) {
			*k = Kind(i)
			return nil
		}
	}
	return errUnknownKind
}

// OSI tiers of the conventional network stack model.
const (
	TierDataLink    = 2
	TierNetwork     = 3
	TierTransport   = 4
	TierApplication = 7
)

// OSI returns the OSI tier the protocol belongs to.
func (k Kind) OSI() int {
	switch k {
	case KindEthernet, KindARP:
		return TierDataLink
	case KindIPv4, KindIPv6, KindICMP, KindICMPv6:
		return TierNetwork
	case KindTCP, KindUDP:
		return TierTransport
	}
	return TierApplication
}

// hasOptions reports whether layers of the kind carry TLV options.
func (k Kind) hasOptions() bool {
	return k == KindIPv4 || k == KindTCP || k == KindDHCP
}
