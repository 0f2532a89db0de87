package packet

import (
	"fmt"

	"github.com/soypat/pktwire/arp"
	"github.com/soypat/pktwire/dhcpv4"
	"github.com/soypat/pktwire/ethernet"
	"github.com/soypat/pktwire/icmp"
	"github.com/soypat/pktwire/ipv4"
	"github.com/soypat/pktwire/ipv6"
	"github.com/soypat/pktwire/payload"
	"github.com/soypat/pktwire/tcp"
	"github.com/soypat/pktwire/tlv"
	"github.com/soypat/pktwire/udp"
)

// Layer is a handle to one protocol header of a materialized packet. The
// zero value is invalid. Layers of a packet stay valid across
// [Layer.SetOptions] calls on any of its layers.
type Layer struct {
	c *chain
	i int
}

func (l Layer) info() layerInfo { return l.c.layers[l.i] }

// Kind returns the protocol of the layer.
func (l Layer) Kind() Kind { return l.info().kind }

// Name returns the protocol name of the layer, as in "IPv4".
func (l Layer) Name() string { return l.Kind().String() }

// OSI returns the OSI tier of the layer's protocol.
func (l Layer) OSI() int { return l.Kind().OSI() }

// Offset returns the position of the layer's first byte in the packet buffer.
func (l Layer) Offset() int { return l.info().off }

// Len returns the length of the layer's header in bytes. For payload and DHCP
// layers this is the length of the whole message.
func (l Layer) Len() int { return l.info().n }

// Bytes returns the layer's header bytes. The slice aliases the packet buffer.
func (l Layer) Bytes() []byte { return l.c.bytes(l.i) }

// Payload returns the bytes following the layer's header up to the end of the buffer.
func (l Layer) Payload() []byte {
	info := l.info()
	return l.c.buf[info.off+info.n:]
}

// Prev returns the layer preceding l.
func (l Layer) Prev() (Layer, bool) {
	prev := l.info().prev
	return Layer{c: l.c, i: prev}, prev >= 0
}

// Next returns the layer following l.
func (l Layer) Next() (Layer, bool) {
	next := l.info().next
	return Layer{c: l.c, i: next}, next >= 0
}

// Fields returns the decoded header fields. The dynamic type is the Fields
// type of the layer's protocol package, or [payload.Fields].
func (l Layer) Fields() any {
	b := l.c.buf[l.info().off:]
	switch l.Kind() {
	case KindEthernet:
		efrm, _ := ethernet.NewFrame(b)
		return efrm.Fields()
	case KindARP:
		afrm, _ := arp.NewFrame(b)
		return afrm.Fields()
	case KindIPv4:
		ifrm, _ := ipv4.NewFrame(b)
		return ifrm.Fields()
	case KindIPv6:
		i6frm, _ := ipv6.NewFrame(b)
		return i6frm.Fields()
	case KindTCP:
		tfrm, _ := tcp.NewFrame(b)
		return tfrm.Fields()
	case KindUDP:
		ufrm, _ := udp.NewFrame(b)
		return ufrm.Fields()
	case KindICMP:
		frm, _ := icmp.NewFrame(l.Bytes())
		return frm.Fields()
	case KindICMPv6:
		frm, _ := icmp.NewFrameV6(l.Bytes())
		return frm.Fields()
	case KindDHCP:
		dfrm, _ := dhcpv4.NewFrame(l.Bytes())
		return dfrm.Fields()
	}
	return payload.NewFrame(l.Bytes()).Fields()
}

// SetOptions replaces the TLV options of an IPv4, TCP or DHCP layer. The
// packet buffer is reallocated, later layers are shifted and the layer's own
// length field is rewritten. Checksums and the lengths held by enclosing
// layers are left untouched.
func (l Layer) SetOptions(opts []tlv.Option) error {
	k := l.Kind()
	if !k.hasOptions() {
		return fmt.Errorf("%w: %s", errNoOptions, k)
	}
	var codec tlv.Codec
	var fixed int
	switch k {
	case KindIPv4:
		codec, fixed = ipv4.OptionCodec, ipv4.Size(ipv4.Fields{})
	case KindTCP:
		codec, fixed = tcp.OptionCodec, tcp.Size(tcp.Fields{})
	case KindDHCP:
		codec, fixed = dhcpv4.OptionCodec, dhcpv4.Size(dhcpv4.Fields{})
	}
	encoded, err := codec.Encode(nil, opts)
	if err != nil {
		return err
	}
	n := fixed + len(encoded)
	if k != KindDHCP && n > 60 {
		return errOptionsTooLong
	}

	c := l.c
	info := c.layers[l.i]
	end := info.off + info.n
	buf := make([]byte, 0, len(c.buf)-info.n+n)
	buf = append(buf, c.buf[:info.off+fixed]...)
	buf = append(buf, encoded...)
	buf = append(buf, c.buf[end:]...)
	c.buf = buf
	delta := n - info.n
	c.layers[l.i].n = n
	for j := l.i + 1; j < len(c.layers); j++ {
		c.layers[j].off += delta
	}

	b := c.bytes(l.i)
	switch k {
	case KindIPv4:
		ifrm, _ := ipv4.NewFrame(b)
		version, _ := ifrm.VersionAndIHL()
		ifrm.SetVersionAndIHL(version, uint8(n/4))
	case KindTCP:
		tfrm, _ := tcp.NewFrame(b)
		_, flags := tfrm.OffsetAndFlags()
		tfrm.SetOffsetAndFlags(uint8(n/4), flags)
	}
	return nil
}

// Options returns the decoded TLV options of an IPv4, TCP or DHCP layer.
// Values alias the packet buffer.
func (l Layer) Options() []tlv.Option {
	switch f := l.Fields().(type) {
	case ipv4.Fields:
		return f.Options
	case tcp.Fields:
		return f.Options
	case dhcpv4.Fields:
		return f.Options
	}
	return nil
}

func (l Layer) String() string {
	b := l.c.buf[l.info().off:]
	var s fmt.Stringer
	switch l.Kind() {
	case KindEthernet:
		s, _ = ethernet.NewFrame(b)
	case KindARP:
		s, _ = arp.NewFrame(b)
	case KindIPv4:
		s, _ = ipv4.NewFrame(b)
	case KindIPv6:
		s, _ = ipv6.NewFrame(b)
	case KindTCP:
		s, _ = tcp.NewFrame(b)
	case KindUDP:
		s, _ = udp.NewFrame(b)
	case KindICMP:
		s, _ = icmp.NewFrame(l.Bytes())
	case KindICMPv6:
		s, _ = icmp.NewFrameV6(l.Bytes())
	case KindDHCP:
		s, _ = dhcpv4.NewFrame(l.Bytes())
	default:
		s = payload.NewFrame(l.Bytes())
	}
	return s.String()
}
