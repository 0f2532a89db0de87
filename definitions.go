package pktwire

import (
	"strconv"
)

// EtherType is the 16-bit type/size field of an Ethernet II header.
type EtherType uint16

// IsSize returns true if the EtherType is actually the size of the payload
// and should NOT be interpreted as an EtherType.
func (et EtherType) IsSize() bool { return et <= 1500 }

// Ethernet type flags
const (
	EtherTypeIPv4      EtherType = 0x0800 // IPv4
	EtherTypeARP       EtherType = 0x0806 // ARP
	EtherTypeWakeOnLAN EtherType = 0x0842 // wake on LAN
	EtherTypeRARP      EtherType = 0x8035 // RARP
	EtherTypeVLAN      EtherType = 0x8100 // VLAN
	EtherTypeIPv6      EtherType = 0x86DD // IPv6
	EtherTypeMPLS      EtherType = 0x8847 // MPLS unicast
	EtherTypePPPoE     EtherType = 0x8864 // PPPoE session
	EtherTypeLLDP      EtherType = 0x88CC // LLDP
)

func (et EtherType) String() string {
	switch et {
	case EtherTypeIPv4:
		return "IPv4"
	case EtherTypeARP:
		return "ARP"
	case EtherTypeWakeOnLAN:
		return "wake on LAN"
	case EtherTypeRARP:
		return "RARP"
	case EtherTypeVLAN:
		return "VLAN"
	case EtherTypeIPv6:
		return "IPv6"
	case EtherTypeMPLS:
		return "MPLS unicast"
	case EtherTypePPPoE:
		return "PPPoE session"
	case EtherTypeLLDP:
		return "LLDP"
	}
	return "EtherType(0x" + strconv.FormatUint(uint64(et), 16) + ")"
}

// IPProto represents the IP protocol number.
type IPProto uint8

// IP protocol numbers.
const (
	IPProtoHopByHop IPProto = 0   // IPv6 Hop-by-Hop Option [RFC8200]
	IPProtoICMP     IPProto = 1   // Internet Control Message [RFC792]
	IPProtoIGMP     IPProto = 2   // Internet Group Management [RFC1112]
	IPProtoIPv4     IPProto = 4   // IPv4 encapsulation [RFC2003]
	IPProtoTCP      IPProto = 6   // Transmission Control [RFC793]
	IPProtoUDP      IPProto = 17  // User Datagram [RFC768]
	IPProtoIPv6     IPProto = 41  // IPv6 encapsulation [RFC2473]
	IPProtoGRE      IPProto = 47  // Generic Routing Encapsulation [RFC2784]
	IPProtoESP      IPProto = 50  // Encap Security Payload [RFC4303]
	IPProtoAH       IPProto = 51  // Authentication Header [RFC4302]
	IPProtoIPv6ICMP IPProto = 58  // ICMP for IPv6 [RFC8200]
	IPProtoIPv6NoNx IPProto = 59  // No Next Header for IPv6 [RFC8200]
	IPProtoVRRP     IPProto = 112 // Virtual Router Redundancy Protocol
	IPProtoSCTP     IPProto = 132 // Stream Control Transmission Protocol
	IPProtoRaw      IPProto = 255 // Reserved, used for raw payload
)

func (p IPProto) String() string {
	switch p {
	case IPProtoHopByHop:
		return "HOPOPT"
	case IPProtoICMP:
		return "ICMP"
	case IPProtoIGMP:
		return "IGMP"
	case IPProtoIPv4:
		return "IPIP"
	case IPProtoTCP:
		return "TCP"
	case IPProtoUDP:
		return "UDP"
	case IPProtoIPv6:
		return "IPv6"
	case IPProtoGRE:
		return "GRE"
	case IPProtoESP:
		return "ESP"
	case IPProtoAH:
		return "AH"
	case IPProtoIPv6ICMP:
		return "ICMPv6"
	case IPProtoIPv6NoNx:
		return "IPv6-NoNxt"
	case IPProtoVRRP:
		return "VRRP"
	case IPProtoSCTP:
		return "SCTP"
	case IPProtoRaw:
		return "RAW"
	}
	return "IPProto(" + strconv.Itoa(int(p)) + ")"
}

// LinkType is the link-layer header type of a capture as registered by tcpdump.org.
// It identifies the framing at the start of each captured frame.
type LinkType uint16

const (
	LinkTypeNull     LinkType = 0   // NULL
	LinkTypeEthernet LinkType = 1   // ETHERNET
	LinkTypeRaw      LinkType = 101 // RAW
	LinkTypeLoop     LinkType = 108 // LOOP
	LinkTypeLinuxSLL LinkType = 113 // LINUX_SLL
	LinkTypeIPv4     LinkType = 228 // IPV4
	LinkTypeIPv6     LinkType = 229 // IPV6
)

func (lt LinkType) String() string {
	switch lt {
	case LinkTypeNull:
		return "NULL"
	case LinkTypeEthernet:
		return "ETHERNET"
	case LinkTypeRaw:
		return "RAW"
	case LinkTypeLoop:
		return "LOOP"
	case LinkTypeLinuxSLL:
		return "LINUX_SLL"
	case LinkTypeIPv4:
		return "IPV4"
	case LinkTypeIPv6:
		return "IPV6"
	}
	return "LinkType(" + strconv.Itoa(int(lt)) + ")"
}
