package packet

import (
	"encoding/hex"
	"math/rand"
	"net/netip"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soypat/pktwire"
	"github.com/soypat/pktwire/dhcpv4"
	"github.com/soypat/pktwire/ethernet"
	"github.com/soypat/pktwire/icmp"
	"github.com/soypat/pktwire/ipv4"
	"github.com/soypat/pktwire/ipv6"
	"github.com/soypat/pktwire/tcp"
	"github.com/soypat/pktwire/tlv"
	"github.com/soypat/pktwire/udp"
)

// Ethernet, IPv4 and TCP with timestamp options.
const testPacket = "424242424242424242424242080045000034000040004006a79ac0a80165a5162c06cd8e5debee16992ebea89919801008000d1200000101080a52d3c650dd04cdd6"

var cmpOpts = []cmp.Option{
	cmp.Comparer(func(a, b netip.Addr) bool { return a == b }),
	cmpopts.EquateEmpty(),
}

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func names(t *testing.T, p *Packet) []string {
	t.Helper()
	layers, err := p.Layers()
	require.NoError(t, err)
	var s []string
	for _, l := range layers {
		s = append(s, l.Name())
	}
	return s
}

func tcpFields(t *testing.T) tcp.Fields {
	return tcp.Fields{
		SourcePort:      52622,
		DestinationPort: 24043,
		Seq:             3994458414,
		Ack:             3198720281,
		Flags:           tcp.FlagBits{ACK: true},
		WindowSize:      2048,
		Options: []tlv.Option{
			{Type: 1}, {Type: 1},
			{Type: 8, Length: 10, Value: mustHex(t, "52d3c650dd04cdd6")},
		},
	}
}

func TestParseEthernetIPv4TCP(t *testing.T) {
	buf := mustHex(t, testPacket)
	p := New(buf, DefaultInterface(), Timestamp{})
	require.Equal(t, []string{"Ethernet", "IPv4", "TCP"}, names(t, p))

	obj, err := p.Object()
	require.NoError(t, err)
	mac := pktwire.MAC{0x42, 0x42, 0x42, 0x42, 0x42, 0x42}
	wantTCP := tcpFields(t)
	wantTCP.DataOffset = 8
	wantTCP.Checksum = 3346
	want := Object{
		Iface: Interface{LinkType: pktwire.LinkTypeEthernet, Snaplen: 65535},
		Layers: []LayerObject{
			{Name: "Ethernet", OSI: TierDataLink, Fields: ethernet.Fields{Destination: mac, Source: mac, Type: pktwire.EtherTypeIPv4}},
			{Name: "IPv4", OSI: TierNetwork, Fields: ipv4.Fields{
				Version:      4,
				HeaderLength: 5,
				TotalLength:  52,
				Flags:        ipv4.FlagBits{DontFragment: true},
				TTL:          64,
				Protocol:     pktwire.IPProtoTCP,
				Checksum:     42906,
				Source:       netip.MustParseAddr("192.168.1.101"),
				Destination:  netip.MustParseAddr("165.22.44.6"),
			}},
			{Name: "TCP", OSI: TierTransport, Fields: wantTCP},
		},
	}
	if diff := cmp.Diff(want, obj, cmpOpts...); diff != "" {
		t.Fatalf("object mismatch (-want +got):\n%s", diff)
	}

	ip, ok := p.Layer("IPv4")
	require.True(t, ok)
	ifrm, err := ipv4.NewFrame(ip.Bytes())
	require.NoError(t, err)
	assert.EqualValues(t, 42906, ifrm.CalculateHeaderCRC())
	assert.Equal(t, 14, ip.Offset())
	assert.Equal(t, 20, ip.Len())

	seg, _ := ip.Next()
	assert.Equal(t, KindTCP, seg.Kind())
	assert.Equal(t, 32, seg.Len())
	prev, ok := seg.Prev()
	require.True(t, ok)
	assert.Equal(t, KindIPv4, prev.Kind())
	_, ok = seg.Next()
	assert.False(t, ok)

	// Parsing never copies the buffer.
	got, err := p.Buffer()
	require.NoError(t, err)
	assert.Same(t, &buf[0], &got[0])
}

func TestBuildEthernetIPv4TCP(t *testing.T) {
	mac := pktwire.MAC{0x42, 0x42, 0x42, 0x42, 0x42, 0x42}
	p := Build(DefaultInterface()).
		Ethernet(ethernet.Fields{Destination: mac, Source: mac}).
		IPv4(ipv4.Fields{
			Flags:       ipv4.FlagBits{DontFragment: true},
			Source:      netip.MustParseAddr("192.168.1.101"),
			Destination: netip.MustParseAddr("165.22.44.6"),
		}).
		TCP(tcpFields(t))
	require.NoError(t, p.Err())
	got, err := p.Buffer()
	require.NoError(t, err)
	assert.Equal(t, testPacket, hex.EncodeToString(got))
}

func TestBuildDefaults(t *testing.T) {
	p := Build(DefaultInterface()).
		Ethernet(ethernet.Fields{
			Destination: pktwire.BroadcastMAC(),
			Source:      pktwire.MAC{0x11, 0x11, 0x11, 0x11, 0x11, 0x11},
		}).
		IPv4(ipv4.Fields{Destination: netip.MustParseAddr("192.168.1.1")}).
		Payload([]byte("kek"))
	buf, err := p.Buffer()
	require.NoError(t, err)
	require.Len(t, buf, 14+20+3)
	assert.Equal(t, "ffffffffffff1111111111110800", hex.EncodeToString(buf[:14]))
	assert.Equal(t, "450000170000000040ffb83f00000000c0a80101", hex.EncodeToString(buf[14:34]))
	assert.Equal(t, "kek", string(buf[34:]))

	parsed := New(buf, DefaultInterface(), Timestamp{})
	assert.Equal(t, []string{"Ethernet", "IPv4", "Payload"}, names(t, parsed))
}

func TestBuildUDPDHCP(t *testing.T) {
	chaddr := pktwire.MAC{0xde, 0xad, 0xbe, 0xef, 0, 1}
	p := Build(DefaultInterface()).
		Ethernet(ethernet.Fields{Destination: pktwire.BroadcastMAC(), Source: chaddr}).
		IPv4(ipv4.Fields{
			Source:      netip.IPv4Unspecified(),
			Destination: netip.MustParseAddr("255.255.255.255"),
		}).
		UDP(udp.Fields{SourcePort: dhcpv4.DefaultClientPort, DestinationPort: dhcpv4.DefaultServerPort}).
		DHCP(dhcpv4.Fields{
			Op:                 dhcpv4.OpRequest,
			HardwareType:       1,
			HardwareAddrLength: 6,
			TransactionID:      0xdeadbeef,
			ClientHardwareAddr: chaddr,
		})
	buf, err := p.Buffer()
	require.NoError(t, err)

	parsed := New(buf, DefaultInterface(), Timestamp{})
	require.Equal(t, []string{"Ethernet", "IPv4", "UDP", "DHCP"}, names(t, parsed))
	l, ok := parsed.Layer("DHCP")
	require.True(t, ok)
	f := l.Fields().(dhcpv4.Fields)
	assert.Equal(t, dhcpv4.MagicCookie, f.MagicNumber)
	assert.Equal(t, chaddr, f.ClientHardwareAddr)

	ul, _ := parsed.Layer("UDP")
	ufrm, _ := udp.NewFrame(buf[ul.Offset():])
	assert.EqualValues(t, len(buf)-ul.Offset(), ufrm.Length())
	assert.Equal(t, ufrm.CRC(), ufrm.CalculateCRC(netip.IPv4Unspecified(), netip.MustParseAddr("255.255.255.255")))

	gpkt := gopacket.NewPacket(buf, layers.LayerTypeEthernet, gopacket.Default)
	require.Nil(t, gpkt.ErrorLayer())
	gdhcp, ok := gpkt.Layer(layers.LayerTypeDHCPv4).(*layers.DHCPv4)
	require.True(t, ok)
	assert.EqualValues(t, 0xdeadbeef, gdhcp.Xid)
	assert.Equal(t, chaddr[:], []byte(gdhcp.ClientHWAddr))
}

func TestBuildIPv6ICMPv6(t *testing.T) {
	src := netip.MustParseAddr("fe80::1")
	dst := netip.MustParseAddr("ff02::1")
	p := Build(DefaultInterface()).
		Ethernet(ethernet.Fields{Destination: pktwire.MAC{0x33, 0x33, 0, 0, 0, 1}}).
		IPv6(ipv6.Fields{Source: src, Destination: dst}).
		ICMPv6(icmp.FieldsV6{Type: icmp.TypeV6EchoRequest, ID: 1, Sequence: 2}).
		Payload([]byte("ping"))
	buf, err := p.Buffer()
	require.NoError(t, err)

	parsed := New(buf, DefaultInterface(), Timestamp{})
	require.Equal(t, []string{"Ethernet", "IPv6", "ICMPv6", "Payload"}, names(t, parsed))
	l, _ := parsed.Layer("IPv6")
	f := l.Fields().(ipv6.Fields)
	assert.EqualValues(t, 6, f.Version)
	assert.EqualValues(t, 64, f.HopLimit)
	assert.Equal(t, pktwire.IPProtoIPv6ICMP, f.NextHeader)
	assert.EqualValues(t, len(buf)-14-40, f.PayloadLength)

	gpkt := gopacket.NewPacket(buf, layers.LayerTypeEthernet, gopacket.Default)
	gicmp, ok := gpkt.Layer(layers.LayerTypeICMPv6).(*layers.ICMPv6)
	require.True(t, ok)
	assert.EqualValues(t, icmp.TypeV6EchoRequest, gicmp.TypeCode.Type())

	// Summing the message with its checksum in place yields zero.
	icmpStart := 14 + 40
	var crc pktwire.CRC791
	crc.WritePseudoHeader(src, dst, pktwire.IPProtoIPv6ICMP, len(buf)-icmpStart)
	crc.Write(buf[icmpStart:])
	assert.Zero(t, crc.Sum16())
}

func TestBuildIPv6NoNextHeader(t *testing.T) {
	p := Build(Interface{LinkType: pktwire.LinkTypeIPv6}).
		IPv6(ipv6.Fields{Source: netip.IPv6Loopback(), Destination: netip.IPv6Loopback()})
	buf, err := p.Buffer()
	require.NoError(t, err)
	require.Len(t, buf, 40)
	i6frm, _ := ipv6.NewFrame(buf)
	assert.Equal(t, pktwire.IPProtoIPv6NoNx, i6frm.NextHeader())
	assert.Zero(t, i6frm.PayloadLength())
}

func TestBuildCallerChecksumKept(t *testing.T) {
	p := Build(Interface{LinkType: pktwire.LinkTypeRaw}).
		IPv4(ipv4.Fields{Checksum: 0xbeef}).
		ICMP(icmp.Fields{Type: icmp.TypeEcho, Checksum: 0x1234})
	buf, err := p.Buffer()
	require.NoError(t, err)
	ifrm, _ := ipv4.NewFrame(buf)
	assert.EqualValues(t, 0xbeef, ifrm.CRC())
	assert.Equal(t, pktwire.IPProtoICMP, ifrm.Protocol())
	frm, _ := icmp.NewFrame(buf[20:])
	assert.EqualValues(t, 0x1234, frm.CRC())
}

func TestParseIPinIP(t *testing.T) {
	inner := Build(Interface{LinkType: pktwire.LinkTypeRaw}).
		IPv4(ipv4.Fields{Source: netip.MustParseAddr("10.0.0.1"), Destination: netip.MustParseAddr("10.0.0.2")}).
		IPv4(ipv4.Fields{Source: netip.MustParseAddr("10.1.0.1"), Destination: netip.MustParseAddr("10.1.0.2")}).
		Payload([]byte{1, 2, 3, 4})
	buf, err := inner.Buffer()
	require.NoError(t, err)
	outer, _ := ipv4.NewFrame(buf)
	assert.Equal(t, pktwire.IPProtoIPv4, outer.Protocol())

	p := New(buf, Interface{LinkType: pktwire.LinkTypeRaw}, Timestamp{})
	assert.Equal(t, []string{"IPv4", "IPv4", "Payload"}, names(t, p))
	ips := p.LayersNamed("IPv4")
	require.Len(t, ips, 2)
	assert.Equal(t, 20, ips[1].Offset())
}

func TestParseTunnelVersion(t *testing.T) {
	buf := mustHex(t, "4500001c00000000400400000a0000010a000002"+"55aabbcc"+"00000000")
	p := New(buf, Interface{LinkType: pktwire.LinkTypeRaw}, Timestamp{})
	layers, err := p.Layers()
	require.ErrorIs(t, err, ErrTunnelVersion)
	require.Len(t, layers, 2)
	assert.Equal(t, KindPayload, layers[1].Kind())
	assert.Equal(t, 8, layers[1].Len())
	assert.ErrorIs(t, p.Err(), ErrTunnelVersion)
}

func TestParseFragmentIsPayload(t *testing.T) {
	buf, err := Build(Interface{LinkType: pktwire.LinkTypeIPv4}).
		IPv4(ipv4.Fields{Flags: ipv4.FlagBits{MoreFragments: true}, Protocol: pktwire.IPProtoUDP}).
		Payload(make([]byte, 16)).
		Buffer()
	require.NoError(t, err)
	p := New(buf, Interface{LinkType: pktwire.LinkTypeIPv4}, Timestamp{})
	assert.Equal(t, []string{"IPv4", "Payload"}, names(t, p))
}

func TestParseTrailer(t *testing.T) {
	// Ethernet frames shorter than 60 bytes are padded after the IP datagram.
	buf, err := Build(DefaultInterface()).
		Ethernet(ethernet.Fields{}).
		IPv4(ipv4.Fields{}).
		UDP(udp.Fields{SourcePort: 1000, DestinationPort: 2000}).
		Buffer()
	require.NoError(t, err)
	buf = append(buf, make([]byte, 60-len(buf))...)
	p := New(buf, DefaultInterface(), Timestamp{})
	layers, err := p.Layers()
	require.NoError(t, err)
	require.Equal(t, []string{"Ethernet", "IPv4", "UDP", "Payload"}, names(t, p))
	assert.Equal(t, 14+20+8, layers[3].Offset())
	assert.Equal(t, 60-14-20-8, layers[3].Len())
}

func TestParseFallbackTotality(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	linkTypes := []pktwire.LinkType{
		pktwire.LinkTypeNull, pktwire.LinkTypeEthernet, pktwire.LinkTypeRaw,
		pktwire.LinkTypeIPv4, pktwire.LinkTypeIPv6, pktwire.LinkTypeLinuxSLL, 1234,
	}
	seed := mustHex(t, testPacket)
	for i := 0; i < 2000; i++ {
		var buf []byte
		if i%2 == 0 {
			buf = make([]byte, rng.Intn(300))
			rng.Read(buf)
		} else {
			// Mutate a valid packet to reach deeper layers.
			buf = append([]byte(nil), seed[:rng.Intn(len(seed)+1)]...)
			for j := 0; j < 3 && len(buf) > 0; j++ {
				buf[rng.Intn(len(buf))] = byte(rng.Intn(256))
			}
		}
		lt := linkTypes[rng.Intn(len(linkTypes))]
		p := New(buf, Interface{LinkType: lt}, Timestamp{})
		var layers []Layer
		var err error
		require.NotPanics(t, func() { layers, err = p.Layers() }, "buf=%x lt=%d", buf, lt)
		if err != nil {
			require.ErrorIs(t, err, ErrTunnelVersion)
		}
		off := 0
		for _, l := range layers {
			require.Equal(t, off, l.Offset(), "layers must be contiguous")
			require.NotPanics(t, func() { _ = l.Fields(); _ = l.String() })
			off += l.Len()
		}
		require.Equal(t, len(buf), off)
	}
}

func TestSetOptions(t *testing.T) {
	buf := mustHex(t, "450000730000400040068cd2c0a80167cebd1ce6e33d5debb394ef8d")
	p := New(buf, Interface{LinkType: pktwire.LinkTypeRaw}, Timestamp{})
	require.Equal(t, []string{"IPv4", "Payload"}, names(t, p))
	ip, _ := p.Layer("IPv4")

	opts := []tlv.Option{
		{Type: 1, Length: 4, Value: []byte{0xaa, 0xaa, 0xaa, 0xaa}},
		{Type: 2, Length: 2, Value: []byte{0xbb, 0xbb}},
		{Type: 0, Length: 0},
	}
	require.NoError(t, ip.SetOptions(opts))
	assert.Equal(t, 32, ip.Len())
	if diff := cmp.Diff(opts, ip.Options(), cmpOpts...); diff != "" {
		t.Fatalf("options mismatch (-want +got):\n%s", diff)
	}
	pl, _ := ip.Next()
	assert.Equal(t, 32, pl.Offset())
	assert.Equal(t, "e33d5debb394ef8d", hex.EncodeToString(pl.Bytes()))
	got := p.Bytes()
	assert.Len(t, got, 40)
	assert.EqualValues(t, 0x48, got[0], "IHL must follow the options")

	opts = []tlv.Option{
		{Type: 1, Length: 4, Value: []byte{0xaa, 0xaa, 0xaa, 0xaa}},
		{Type: 0, Length: 0},
	}
	require.NoError(t, ip.SetOptions(opts))
	assert.Equal(t, 28, ip.Len())
	if diff := cmp.Diff(opts, ip.Options(), cmpOpts...); diff != "" {
		t.Fatalf("options mismatch (-want +got):\n%s", diff)
	}

	// Rebuilding from the dumped fields reproduces the header.
	f := ip.Fields().(ipv4.Fields)
	rebuilt, err := Build(Interface{LinkType: pktwire.LinkTypeRaw}).IPv4(f).Buffer()
	require.NoError(t, err)
	assert.Equal(t, ip.Bytes(), rebuilt)

	pl, _ = ip.Next()
	err = pl.SetOptions(nil)
	assert.ErrorIs(t, err, errNoOptions)
	err = ip.SetOptions([]tlv.Option{{Type: 7, Value: make([]byte, 40)}})
	assert.ErrorIs(t, err, errOptionsTooLong)
}

func TestSetOptionsTCP(t *testing.T) {
	p := New(mustHex(t, testPacket), DefaultInterface(), Timestamp{})
	seg, ok := p.Layer("TCP")
	require.True(t, ok)
	require.NoError(t, seg.SetOptions([]tlv.Option{tcp.Option16(tcp.OptMaxSegmentSize, 1460)}))
	assert.Equal(t, 24, seg.Len())
	assert.Len(t, p.Bytes(), 14+20+24)
	tfrm, _ := tcp.NewFrame(seg.Bytes())
	offset, flags := tfrm.OffsetAndFlags()
	assert.EqualValues(t, 6, offset)
	assert.True(t, flags.HasAll(tcp.FlagACK))
}

func TestStageOntoParsed(t *testing.T) {
	buf := mustHex(t, testPacket)
	p := New(buf, DefaultInterface(), Timestamp{Sec: 1})
	p.OrigLen = 1500
	p.Payload([]byte("tail"))
	got, err := p.Buffer()
	require.NoError(t, err)
	assert.Equal(t, testPacket+hex.EncodeToString([]byte("tail")), hex.EncodeToString(got))
	assert.Equal(t, []string{"Ethernet", "IPv4", "TCP", "Payload"}, names(t, p))
	assert.Zero(t, p.OrigLen, "building resets the original length")
	assert.Equal(t, len(got), p.WireLen())
}

func TestValidationErrors(t *testing.T) {
	p := Build(DefaultInterface()).
		Ethernet(ethernet.Fields{}).
		IPv4(ipv4.Fields{Source: netip.IPv6Loopback()}).
		Payload([]byte("x"))
	require.ErrorIs(t, p.Err(), pktwire.ErrAddrFamily)
	_, err := p.Buffer()
	require.ErrorIs(t, err, pktwire.ErrAddrFamily)

	p = Build(DefaultInterface()).Append(KindTCP, udp.Fields{})
	require.ErrorIs(t, p.Err(), errUnknownKind)

	p = Build(DefaultInterface()).Append(KindUDP, udp.Fields{SourcePort: 53, DestinationPort: 53})
	require.NoError(t, p.Err())
	assert.Equal(t, []string{"UDP"}, names(t, p))
}

func TestCloneEqual(t *testing.T) {
	ts := TimestampFromTime(time.Unix(1700000000, 123456789), pktwire.ResolutionNano)
	p := New(mustHex(t, testPacket), DefaultInterface(), ts)
	p.Comment = "first"
	cp := p.Clone()
	require.True(t, p.Equal(cp))
	require.True(t, cp.Equal(p))

	// Deep copy.
	cp.Bytes()[0] = 0
	assert.False(t, p.Equal(cp))
	assert.EqualValues(t, 0x42, p.Bytes()[0])

	cp = p.Clone()
	cp.Comment = "second"
	assert.False(t, p.Equal(cp))

	cp = p.Copy()
	assert.False(t, p.Equal(cp), "copy is timestamped now")
	assert.Equal(t, p.Bytes(), cp.Bytes())
	assert.False(t, p.Equal(nil))

	// Staged layers survive a clone unbuilt.
	staged := Build(DefaultInterface()).Ethernet(ethernet.Fields{}).Payload([]byte("abc"))
	scp := staged.Clone()
	_, ok := scp.st.(*stagedState)
	require.True(t, ok)
	assert.True(t, staged.Equal(scp))
}

func TestTimestamp(t *testing.T) {
	tm := time.Unix(1700000000, 123456789)
	ts := TimestampFromTime(tm, pktwire.ResolutionMicro)
	assert.Equal(t, Timestamp{Sec: 1700000000, Nsec: 123456000, Res: pktwire.ResolutionMicro}, ts)
	assert.EqualValues(t, 1700000000123456, ts.Units())
	assert.Equal(t, ts, TimestampFromUnits(ts.Units(), pktwire.ResolutionMicro))
	assert.Equal(t, 0, ts.Compare(Timestamp{Sec: ts.Sec, Nsec: ts.Nsec, Res: pktwire.ResolutionNano}))
	assert.Equal(t, -1, ts.Compare(TimestampFromTime(tm, pktwire.ResolutionNano)))
	assert.True(t, ts.Time().Equal(time.Unix(1700000000, 123456000)))
}

func TestKindText(t *testing.T) {
	for k := KindPayload; k < numKinds; k++ {
		text, err := k.MarshalText()
		require.NoError(t, err)
		var got Kind
		require.NoError(t, got.UnmarshalText(text))
		assert.Equal(t, k, got)
	}
	var k Kind
	assert.Error(t, k.UnmarshalText([]byte("SCTP")))
	assert.Equal(t, TierApplication, KindDHCP.OSI())
	assert.Equal(t, TierNetwork, KindICMPv6.OSI())
}

func TestFormatter(t *testing.T) {
	p := New(mustHex(t, testPacket), DefaultInterface(), Timestamp{Sec: 1})
	p.Comment = "hello"
	f := Formatter{LayerSep: " / ", ShowOffsets: true, TimeLayout: time.RFC3339}
	b, err := f.AppendPacket(nil, p)
	require.NoError(t, err)
	s := string(b)
	assert.Contains(t, s, "1970-01-01T00:00:01Z @0 ")
	assert.Contains(t, s, " / @14 ")
	assert.Contains(t, s, " / @34 ")
	assert.Contains(t, s, `comment="hello"`)
	assert.NotEmpty(t, p.String())
}
