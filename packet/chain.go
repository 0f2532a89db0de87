package packet

import (
	"maps"
	"net/netip"
	"slices"

	"github.com/soypat/pktwire"
	"github.com/soypat/pktwire/arp"
	"github.com/soypat/pktwire/dhcpv4"
	"github.com/soypat/pktwire/ethernet"
	"github.com/soypat/pktwire/icmp"
	"github.com/soypat/pktwire/ipv4"
	"github.com/soypat/pktwire/ipv6"
	"github.com/soypat/pktwire/payload"
	"github.com/soypat/pktwire/tcp"
	"github.com/soypat/pktwire/udp"
)

// chain is an arena of layers over a single buffer. Layers refer to their
// neighbours by index, -1 meaning none.
type chain struct {
	buf    []byte
	layers []layerInfo
	names  map[string][]int
}

type layerInfo struct {
	kind       Kind
	off, n     int
	prev, next int
}

func newChain(buf []byte) *chain {
	return &chain{buf: buf, names: make(map[string][]int)}
}

func (c *chain) clone() *chain {
	cp := &chain{
		buf:    slices.Clone(c.buf),
		layers: slices.Clone(c.layers),
		names:  maps.Clone(c.names),
	}
	for name, idxs := range cp.names {
		cp.names[name] = slices.Clone(idxs)
	}
	return cp
}

// add appends a layer of n bytes at off linked after the current last layer.
func (c *chain) add(k Kind, off, n int) int {
	idx := len(c.layers)
	prev := idx - 1
	if prev >= 0 {
		c.layers[prev].next = idx
	}
	c.layers = append(c.layers, layerInfo{kind: k, off: off, n: n, prev: prev, next: -1})
	name := k.String()
	c.names[name] = append(c.names[name], idx)
	return idx
}

// bytes returns the header bytes of layer i.
func (c *chain) bytes(i int) []byte {
	l := c.layers[i]
	return c.buf[l.off : l.off+l.n : l.off+l.n]
}

// tailLen returns the length of layer i plus everything after it.
func (c *chain) tailLen(i int) int { return len(c.buf) - c.layers[i].off }

func (c *chain) nextKind(i int) (Kind, bool) {
	next := c.layers[i].next
	if next < 0 {
		return KindPayload, false
	}
	return c.layers[next].kind, true
}

//
// Parsing.
//

func parse(buf []byte, lt pktwire.LinkType) (*chain, error) {
	c := newChain(buf)
	kind := firstKind(lt, buf)
	off, end := 0, len(buf)
	var err error
	for off < end {
		n := headerLen(kind, buf[off:end])
		if n == 0 {
			kind, n = KindPayload, end-off
		}
		idx := c.add(kind, off, n)
		off += n
		kind, end, err = c.nextProto(idx, end)
		if err != nil {
			break
		}
	}
	if off < len(buf) {
		// Link layer trailers and bytes past an IP total length.
		c.add(KindPayload, off, len(buf)-off)
	}
	return c, err
}

func firstKind(lt pktwire.LinkType, buf []byte) Kind {
	switch lt {
	case pktwire.LinkTypeEthernet:
		return KindEthernet
	case pktwire.LinkTypeRaw, pktwire.LinkTypeIPv4:
		if len(buf) == 0 {
			return KindPayload
		}
		switch buf[0] >> 4 {
		case 4:
			return KindIPv4
		case 6:
			return KindIPv6
		}
	case pktwire.LinkTypeIPv6:
		return KindIPv6
	}
	return KindPayload
}

// headerLen returns the length of the header of kind at the start of b or
// zero if it does not fit.
func headerLen(k Kind, b []byte) (n int) {
	switch k {
	case KindEthernet:
		n = ethernet.Size(ethernet.Fields{})
	case KindARP:
		n = arp.Size(arp.Fields{})
	case KindIPv4:
		ifrm, err := ipv4.NewFrame(b)
		if err != nil || ifrm.HeaderLength() < ipv4.Size(ipv4.Fields{}) {
			return 0
		}
		n = ifrm.HeaderLength()
	case KindIPv6:
		n = ipv6.Size(ipv6.Fields{})
	case KindTCP:
		tfrm, err := tcp.NewFrame(b)
		if err != nil || tfrm.HeaderLength() < tcp.Size(tcp.Fields{}) {
			return 0
		}
		n = tfrm.HeaderLength()
	case KindUDP:
		n = udp.Size(udp.Fields{})
	case KindICMP:
		frm, err := icmp.NewFrame(b)
		if err != nil {
			return 0
		}
		n = frm.HeaderLength()
	case KindICMPv6:
		frm, err := icmp.NewFrameV6(b)
		if err != nil {
			return 0
		}
		n = frm.HeaderLength()
	case KindDHCP:
		if !dhcpv4.IsMessage(b) {
			return 0
		}
		n = len(b) // Options run to the end of the UDP payload.
	default:
		n = len(b)
	}
	if n > len(b) {
		return 0
	}
	return n
}

// nextProto returns the kind of the layer following layer i and the end of
// the region it may occupy.
func (c *chain) nextProto(i, end int) (Kind, int, error) {
	l := c.layers[i]
	b := c.buf[l.off:end]
	switch l.kind {
	case KindEthernet:
		efrm, _ := ethernet.NewFrame(b)
		switch efrm.EtherTypeOrSize() {
		case pktwire.EtherTypeIPv4:
			return KindIPv4, end, nil
		case pktwire.EtherTypeIPv6:
			return KindIPv6, end, nil
		case pktwire.EtherTypeARP:
			return KindARP, end, nil
		}

	case KindIPv4:
		ifrm, _ := ipv4.NewFrame(b)
		if tl := int(ifrm.TotalLength()); tl >= l.n && tl <= len(b) {
			end = l.off + tl
		}
		if ifrm.IsFragment() {
			return KindPayload, end, nil
		}
		k, err := c.ipProto(ifrm.Protocol(), l.off+l.n, end)
		return k, end, err

	case KindIPv6:
		i6frm, _ := ipv6.NewFrame(b)
		if pl := int(i6frm.PayloadLength()); l.n+pl <= len(b) {
			end = l.off + l.n + pl
		}
		k, err := c.ipProto(i6frm.NextHeader(), l.off+l.n, end)
		return k, end, err

	case KindUDP:
		ufrm, _ := udp.NewFrame(b)
		if ul := int(ufrm.Length()); ul >= l.n && ul <= len(b) {
			end = l.off + ul
		}
		if isDHCPPort(ufrm.SourcePort()) || isDHCPPort(ufrm.DestinationPort()) {
			if dhcpv4.IsMessage(c.buf[l.off+l.n : end]) {
				return KindDHCP, end, nil
			}
		}
	}
	return KindPayload, end, nil
}

// ipProto maps an IP protocol number to the kind of the header at c.buf[off:end].
func (c *chain) ipProto(proto pktwire.IPProto, off, end int) (Kind, error) {
	switch proto {
	case pktwire.IPProtoTCP:
		return KindTCP, nil
	case pktwire.IPProtoUDP:
		return KindUDP, nil
	case pktwire.IPProtoICMP:
		return KindICMP, nil
	case pktwire.IPProtoIPv6ICMP:
		return KindICMPv6, nil
	case pktwire.IPProtoIPv6:
		return KindIPv6, nil
	case pktwire.IPProtoIPv4:
		if off >= end {
			return KindPayload, nil
		}
		switch c.buf[off] >> 4 {
		case 4:
			return KindIPv4, nil
		case 6:
			return KindIPv6, nil
		}
		return KindPayload, ErrTunnelVersion
	}
	return KindPayload, nil
}

func isDHCPPort(port uint16) bool {
	return port == dhcpv4.DefaultServerPort || port == dhcpv4.DefaultClientPort
}

//
// Building.
//

// spec is a staged layer. fields holds the Fields type of the layer's package.
type spec struct {
	kind   Kind
	fields any
}

func fieldsKind(fields any) Kind {
	switch fields.(type) {
	case ethernet.Fields:
		return KindEthernet
	case arp.Fields:
		return KindARP
	case ipv4.Fields:
		return KindIPv4
	case ipv6.Fields:
		return KindIPv6
	case tcp.Fields:
		return KindTCP
	case udp.Fields:
		return KindUDP
	case icmp.Fields:
		return KindICMP
	case icmp.FieldsV6:
		return KindICMPv6
	case dhcpv4.Fields:
		return KindDHCP
	case payload.Fields:
		return KindPayload
	}
	return numKinds
}

// validate checks staged fields of kind k.
func validate(k Kind, fields any) error {
	var v pktwire.Validator
	switch k {
	case KindARP:
		f := fields.(arp.Fields)
		f.Validate(&v)
	case KindIPv4:
		f := fields.(ipv4.Fields)
		f.Validate(&v)
	case KindIPv6:
		f := fields.(ipv6.Fields)
		f.Validate(&v)
	case KindTCP:
		f := fields.(tcp.Fields)
		f.Validate(&v)
	case KindUDP:
		f := fields.(udp.Fields)
		f.Validate(&v)
	case KindICMP:
		f := fields.(icmp.Fields)
		f.Validate(&v)
	case KindDHCP:
		f := fields.(dhcpv4.Fields)
		f.Validate(&v)
	}
	return v.Err()
}

// size returns the number of bytes the layer occupies once built.
func (sp spec) size() int {
	switch f := sp.fields.(type) {
	case ethernet.Fields:
		return ethernet.Size(f)
	case arp.Fields:
		return arp.Size(f)
	case ipv4.Fields:
		return max(ipv4.Size(f), 4*int(f.HeaderLength))
	case ipv6.Fields:
		return ipv6.Size(f)
	case tcp.Fields:
		return max(tcp.Size(f), 4*int(f.DataOffset))
	case udp.Fields:
		return udp.Size(f)
	case icmp.Fields:
		return icmp.Size(f)
	case icmp.FieldsV6:
		return icmp.SizeV6(f)
	case dhcpv4.Fields:
		return dhcpv4.Size(f)
	case payload.Fields:
		return payload.Size(f)
	}
	return 0
}

// checksum returns the checksum supplied by the caller, zero meaning unset.
func (sp spec) checksum() uint16 {
	switch f := sp.fields.(type) {
	case ipv4.Fields:
		return f.Checksum
	case tcp.Fields:
		return f.Checksum
	case udp.Fields:
		return f.Checksum
	case icmp.Fields:
		return f.Checksum
	case icmp.FieldsV6:
		return f.Checksum
	}
	return 0
}

// build appends the staged layers to the chain's buffer, then fills in
// defaults and checksums in construction order.
func (c *chain) build(specs []spec) error {
	total := 0
	for _, sp := range specs {
		total += sp.size()
	}
	start := len(c.buf)
	buf := make([]byte, start+total)
	copy(buf, c.buf)
	c.buf = buf

	first := len(c.layers)
	off := start
	for _, sp := range specs {
		n := sp.size()
		idx := c.add(sp.kind, off, n)
		if err := c.put(idx, sp.fields); err != nil {
			return err
		}
		off += n
	}
	for i := first; i < len(c.layers); i++ {
		c.defaults(i)
	}
	for i, sp := range specs {
		if sp.checksum() == 0 {
			c.checksums(first + i)
		}
	}
	return nil
}

func (c *chain) put(i int, fields any) error {
	b := c.bytes(i)
	switch f := fields.(type) {
	case ethernet.Fields:
		efrm, _ := ethernet.NewFrame(b)
		efrm.Put(f)
	case arp.Fields:
		afrm, _ := arp.NewFrame(b)
		afrm.Put(f)
	case ipv4.Fields:
		ifrm, _ := ipv4.NewFrame(b)
		return ifrm.Put(f)
	case ipv6.Fields:
		i6frm, _ := ipv6.NewFrame(b)
		i6frm.Put(f)
	case tcp.Fields:
		tfrm, _ := tcp.NewFrame(b)
		return tfrm.Put(f)
	case udp.Fields:
		ufrm, _ := udp.NewFrame(b)
		ufrm.Put(f)
	case icmp.Fields:
		frm, _ := icmp.NewFrame(b)
		frm.Put(f)
	case icmp.FieldsV6:
		frm, _ := icmp.NewFrameV6(b)
		frm.Put(f)
	case dhcpv4.Fields:
		dfrm, _ := dhcpv4.NewFrame(b)
		return dfrm.Put(f)
	case payload.Fields:
		payload.NewFrame(b).Put(f)
	}
	return nil
}

// defaults fills unset fields of layer i that depend on its neighbours.
func (c *chain) defaults(i int) {
	l := c.layers[i]
	b := c.bytes(i)
	next, hasNext := c.nextKind(i)
	switch l.kind {
	case KindEthernet:
		efrm, _ := ethernet.NewFrame(b)
		if efrm.EtherTypeOrSize() == 0 {
			efrm.SetEtherType(etherTypeFor(next, hasNext))
		}

	case KindARP:
		afrm, _ := arp.NewFrame(b)
		afrm.SetDefaults()

	case KindIPv4:
		ifrm, _ := ipv4.NewFrame(b)
		version, ihl := ifrm.VersionAndIHL()
		if version == 0 {
			version = 4
		}
		if ihl == 0 {
			ihl = uint8(l.n / 4)
		}
		ifrm.SetVersionAndIHL(version, ihl)
		if ifrm.TTL() == 0 {
			ifrm.SetTTL(64)
		}
		if ifrm.Protocol() == 0 {
			ifrm.SetProtocol(ipProtoFor(next, hasNext, pktwire.IPProtoRaw))
		}
		if ifrm.TotalLength() == 0 {
			ifrm.SetTotalLength(uint16(min(c.tailLen(i), 0xffff)))
		}

	case KindIPv6:
		i6frm, _ := ipv6.NewFrame(b)
		version, traffic, flow := i6frm.VersionTrafficAndFlow()
		if version == 0 {
			i6frm.SetVersionTrafficAndFlow(6, traffic, flow)
		}
		if i6frm.HopLimit() == 0 {
			i6frm.SetHopLimit(64)
		}
		if i6frm.NextHeader() == 0 {
			i6frm.SetNextHeader(ipProtoFor(next, hasNext, pktwire.IPProtoIPv6NoNx))
		}
		if i6frm.PayloadLength() == 0 {
			i6frm.SetPayloadLength(uint16(min(c.tailLen(i)-l.n, 0xffff)))
		}

	case KindTCP:
		tfrm, _ := tcp.NewFrame(b)
		if tfrm.WindowSize() == 0 {
			tfrm.SetWindowSize(2048)
		}
		if offset, flags := tfrm.OffsetAndFlags(); offset == 0 {
			tfrm.SetOffsetAndFlags(uint8(l.n/4), flags)
		}

	case KindUDP:
		ufrm, _ := udp.NewFrame(b)
		if ufrm.Length() == 0 {
			ufrm.SetLength(uint16(min(c.tailLen(i), 0xffff)))
		}

	case KindDHCP:
		dfrm, _ := dhcpv4.NewFrame(b)
		if dfrm.MagicCookie() == 0 {
			dfrm.SetMagicCookie(dhcpv4.MagicCookie)
		}
	}
}

func etherTypeFor(next Kind, hasNext bool) pktwire.EtherType {
	if hasNext {
		switch next {
		case KindARP:
			return pktwire.EtherTypeARP
		case KindIPv6:
			return pktwire.EtherTypeIPv6
		}
	}
	return pktwire.EtherTypeIPv4
}

func ipProtoFor(next Kind, hasNext bool, none pktwire.IPProto) pktwire.IPProto {
	if !hasNext {
		return none
	}
	switch next {
	case KindTCP:
		return pktwire.IPProtoTCP
	case KindUDP:
		return pktwire.IPProtoUDP
	case KindICMP:
		return pktwire.IPProtoICMP
	case KindICMPv6:
		return pktwire.IPProtoIPv6ICMP
	case KindIPv4:
		return pktwire.IPProtoIPv4
	case KindIPv6:
		return pktwire.IPProtoIPv6
	}
	return none
}

// checksums calculates the checksum of layer i.
func (c *chain) checksums(i int) {
	l := c.layers[i]
	switch l.kind {
	case KindIPv4:
		ifrm, _ := ipv4.NewFrame(c.bytes(i))
		ifrm.SetCRC(ifrm.CalculateHeaderCRC())

	case KindTCP:
		src, dst, end, ok := c.pseudoHeader(i)
		if !ok {
			return
		}
		tfrm, _ := tcp.NewFrame(c.buf[l.off:end])
		tfrm.SetCRC(tfrm.CalculateCRC(src, dst))

	case KindUDP:
		src, dst, end, ok := c.pseudoHeader(i)
		if !ok {
			return
		}
		ufrm, _ := udp.NewFrame(c.buf[l.off:end])
		ufrm.SetCRC(ufrm.CalculateCRC(src, dst))

	case KindICMP:
		end := len(c.buf)
		if _, _, ipEnd, ok := c.pseudoHeader(i); ok {
			end = ipEnd
		}
		frm, _ := icmp.NewFrame(c.buf[l.off:end])
		frm.SetCRC(frm.CalculateCRC())

	case KindICMPv6:
		src, dst, end, ok := c.pseudoHeader(i)
		if !ok || !src.Is6() {
			return
		}
		frm, _ := icmp.NewFrameV6(c.buf[l.off:end])
		frm.SetCRC(frm.CalculateCRC(src, dst))
	}
}

// pseudoHeader returns the addresses of the IP layer preceding layer i and
// the end of its payload.
func (c *chain) pseudoHeader(i int) (src, dst netip.Addr, end int, ok bool) {
	prev := c.layers[i].prev
	if prev < 0 {
		return src, dst, 0, false
	}
	p := c.layers[prev]
	b := c.buf[p.off:]
	end = len(c.buf)
	switch p.kind {
	case KindIPv4:
		ifrm, _ := ipv4.NewFrame(b)
		if tl := int(ifrm.TotalLength()); tl >= p.n && tl <= len(b) {
			end = p.off + tl
		}
		return netip.AddrFrom4(*ifrm.SourceAddr()), netip.AddrFrom4(*ifrm.DestinationAddr()), end, true
	case KindIPv6:
		i6frm, _ := ipv6.NewFrame(b)
		if pl := int(i6frm.PayloadLength()); p.n+pl <= len(b) {
			end = p.off + p.n + pl
		}
		return netip.AddrFrom16(*i6frm.SourceAddr()), netip.AddrFrom16(*i6frm.DestinationAddr()), end, true
	}
	return src, dst, 0, false
}
