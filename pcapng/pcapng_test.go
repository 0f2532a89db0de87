package pcapng

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"io"
	"math/rand"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soypat/pktwire"
	"github.com/soypat/pktwire/packet"
)

const testFrame = "424242424242424242424242080045000034000040004006a79ac0a80165a5162c06cd8e5debee16992ebea89919801008000d1200000101080a52d3c650dd04cdd6"

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

// block encodes a block of type bt with the given body.
func block(order binary.AppendByteOrder, bt BlockType, body []byte) []byte {
	length := uint32(sizeMinBlock + len(body))
	b := order.AppendUint32(nil, uint32(bt))
	b = order.AppendUint32(b, length)
	b = append(b, body...)
	return order.AppendUint32(b, length)
}

func shbBlock(order binary.AppendByteOrder) []byte {
	body := order.AppendUint32(nil, ByteOrderMagic)
	body = order.AppendUint16(body, 1)
	body = order.AppendUint16(body, 0)
	body = order.AppendUint64(body, ^uint64(0))
	return block(order, BlockSectionHeader, body)
}

func idbBlock(order binary.AppendByteOrder, lt pktwire.LinkType) []byte {
	body := order.AppendUint16(nil, uint16(lt))
	body = order.AppendUint16(body, 0)
	body = order.AppendUint32(body, 0)
	return block(order, BlockInterfaceDescription, body)
}

func spbBlock(order binary.AppendByteOrder, origLen uint32, data []byte) []byte {
	body := order.AppendUint32(nil, origLen)
	body = append(body, data...)
	body = appendPad(body, len(body))
	return block(order, BlockSimplePacket, body)
}

func testPackets(t *testing.T) []*packet.Packet {
	frame := mustHex(t, testFrame)
	eth := packet.Interface{LinkType: pktwire.LinkTypeEthernet, Name: "eth0", Snaplen: 262144}
	raw := packet.Interface{LinkType: pktwire.LinkTypeRaw, Name: "tun0", MTU: 1400}
	pkts := []*packet.Packet{
		packet.New(frame, eth, packet.Timestamp{Sec: 1700000000, Nsec: 123456000, Res: pktwire.ResolutionMicro}),
		packet.New(frame[14:], raw, packet.Timestamp{Sec: 1700000001, Nsec: 987654321, Res: pktwire.ResolutionNano}),
		packet.New(frame[:21], eth, packet.Timestamp{Sec: 1700000002, Nsec: 1000, Res: pktwire.ResolutionMicro}),
		packet.New(nil, eth, packet.Timestamp{Sec: 1700000003}),
		packet.New(frame[14:34], raw, packet.Timestamp{Sec: 1700000004, Nsec: 5}),
		packet.New(frame[:5], packet.Interface{LinkType: pktwire.LinkTypeEthernet, Name: "wlan0"},
			packet.Timestamp{Sec: 1700000005, Nsec: 500_000_001, Res: 0x80 | 20}),
	}
	pkts[0].Comment = "first packet"
	pkts[2].OrigLen = len(frame)
	pkts[4].Comment = "odd length comment"
	return pkts
}

func writeFile(t *testing.T, cfg WriterConfig, pkts []*packet.Packet) []byte {
	t.Helper()
	var out bytes.Buffer
	w, err := NewWriter(&out, cfg)
	require.NoError(t, err)
	for _, p := range pkts {
		require.NoError(t, w.WritePacket(p))
	}
	return out.Bytes()
}

// drain feeds chunks of file to a reader and returns every event.
func drain(t *testing.T, file []byte, chunk func() int) []Event {
	t.Helper()
	var r Reader
	var events []Event
	for len(file) > 0 {
		n := min(chunk(), len(file))
		written, err := r.Write(file[:n])
		require.NoError(t, err)
		require.Equal(t, n, written)
		file = file[n:]
		for ev, ok := r.Next(); ok; ev, ok = r.Next() {
			events = append(events, ev)
		}
	}
	require.Zero(t, r.Buffered())
	return events
}

func whole(file []byte) func() int { return func() int { return len(file) } }

func packets(events []Event) []*packet.Packet {
	var pkts []*packet.Packet
	for _, ev := range events {
		if p, ok := ev.(*packet.Packet); ok {
			pkts = append(pkts, p)
		}
	}
	return pkts
}

func TestSectionHeader(t *testing.T) {
	file := writeFile(t, WriterConfig{Hardware: "rp2040", OS: "tinygo"}, nil)
	events := drain(t, file, whole(file))
	require.Len(t, events, 1)
	shb, ok := events[0].(*SectionHeader)
	require.True(t, ok)
	assert.EqualValues(t, 439041101, shb.ByteOrderMagic)
	assert.EqualValues(t, 1, shb.VersionMajor)
	assert.EqualValues(t, 0, shb.VersionMinor)
	assert.EqualValues(t, -1, shb.SectionLength)
	assert.Equal(t, "rp2040", shb.Hardware)
	assert.Equal(t, "tinygo", shb.OS)
	assert.Equal(t, DefaultUserAppl, shb.UserAppl)
	assert.Equal(t, binary.LittleEndian, shb.ByteOrder)
	assert.Zero(t, len(file)%4)
}

func TestInterfaces(t *testing.T) {
	pkts := testPackets(t)
	events := drain(t, writeFile(t, WriterConfig{}, pkts), func() int { return 64 })
	var ifaces []*InterfaceDescription
	for _, ev := range events {
		if idb, ok := ev.(*InterfaceDescription); ok {
			ifaces = append(ifaces, idb)
		}
	}
	require.Len(t, ifaces, 3)
	assert.Equal(t, InterfaceDescription{ID: 0, LinkType: pktwire.LinkTypeEthernet, Snaplen: 262144, Name: "eth0", Resolution: pktwire.ResolutionMicro}, *ifaces[0])
	assert.Equal(t, InterfaceDescription{ID: 1, LinkType: pktwire.LinkTypeRaw, Snaplen: 1400, Name: "tun0", Resolution: pktwire.ResolutionNano}, *ifaces[1])
	assert.Equal(t, InterfaceDescription{ID: 2, LinkType: pktwire.LinkTypeEthernet, Snaplen: packet.DefaultSnaplen, Name: "wlan0", Resolution: 0x80 | 20}, *ifaces[2])

	// Interface blocks precede the first packet using them.
	_, ok := events[1].(*InterfaceDescription)
	assert.True(t, ok)
	_, ok = events[2].(*packet.Packet)
	assert.True(t, ok)
}

func assertSamePackets(t *testing.T, want, got []*packet.Packet) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.True(t, bytes.Equal(want[i].Bytes(), got[i].Bytes()), "packet %d buffer", i)
		assert.Equal(t, 0, want[i].Timestamp.Compare(got[i].Timestamp), "packet %d timestamp", i)
		assert.Equal(t, want[i].Comment, got[i].Comment, "packet %d comment", i)
		assert.Equal(t, want[i].Iface.LinkType, got[i].Iface.LinkType)
		assert.Equal(t, want[i].Iface.Name, got[i].Iface.Name)
		assert.Equal(t, want[i].WireLen(), got[i].WireLen())
	}
}

func TestReadWriteRead(t *testing.T) {
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		t.Run(order.String(), func(t *testing.T) {
			pkts := testPackets(t)
			first := packets(drain(t, writeFile(t, WriterConfig{ByteOrder: order}, pkts), func() int { return 9 }))
			require.Len(t, first, len(pkts))
			for i, p := range first[:5] {
				assert.Equal(t, 0, pkts[i].Timestamp.Compare(p.Timestamp), "packet %d", i)
			}
			// Base 2 fractions are rounded up when written.
			assert.GreaterOrEqual(t, first[5].Timestamp.Compare(pkts[5].Timestamp), 0)
			assert.Equal(t, pktwire.Resolution(0x80|20), first[5].Timestamp.Res)

			second := packets(drain(t, writeFile(t, WriterConfig{}, first), func() int { return 31 }))
			assertSamePackets(t, first, second)
		})
	}
}

func TestChunkedFeeding(t *testing.T) {
	file := writeFile(t, WriterConfig{UserAppl: "chunks"}, testPackets(t))
	want := packets(drain(t, file, whole(file)))
	rng := rand.New(rand.NewSource(2))
	for name, chunk := range map[string]func() int{
		"byte":   func() int { return 1 },
		"random": func() int { return rng.Intn(50) + 1 },
		"three":  func() int { return 3 },
	} {
		t.Run(name, func(t *testing.T) {
			assertSamePackets(t, want, packets(drain(t, file, chunk)))
		})
	}
}

func TestByteOrderToggle(t *testing.T) {
	frame := mustHex(t, testFrame)
	var file []byte
	file = append(file, shbBlock(binary.BigEndian)...)
	file = append(file, idbBlock(binary.BigEndian, pktwire.LinkTypeEthernet)...)
	file = append(file, spbBlock(binary.BigEndian, uint32(len(frame)), frame)...)
	file = append(file, shbBlock(binary.LittleEndian)...)
	file = append(file, idbBlock(binary.LittleEndian, pktwire.LinkTypeRaw)...)
	file = append(file, spbBlock(binary.LittleEndian, 20, frame[14:34])...)

	var r Reader
	_, err := r.Write(file)
	require.NoError(t, err)
	var sections []*SectionHeader
	var pkts []*packet.Packet
	for ev, ok := r.Next(); ok; ev, ok = r.Next() {
		switch ev := ev.(type) {
		case *SectionHeader:
			sections = append(sections, ev)
		case *packet.Packet:
			pkts = append(pkts, ev)
		}
	}
	require.Len(t, sections, 2)
	assert.Equal(t, binary.BigEndian, sections[0].ByteOrder)
	assert.Equal(t, binary.LittleEndian, sections[1].ByteOrder)
	assert.EqualValues(t, -1, sections[0].SectionLength)
	require.Len(t, pkts, 2)
	assert.True(t, bytes.Equal(frame, pkts[0].Bytes()))
	assert.Equal(t, pktwire.LinkTypeEthernet, pkts[0].Iface.LinkType)
	assert.True(t, bytes.Equal(frame[14:34], pkts[1].Bytes()))
	assert.Equal(t, pktwire.LinkTypeRaw, pkts[1].Iface.LinkType)

	// Interfaces are scoped to their section.
	require.Len(t, r.Interfaces(), 1)
	assert.Same(t, sections[1], r.Section())
}

func TestSimplePacket(t *testing.T) {
	var out bytes.Buffer
	w, err := NewWriter(&out, WriterConfig{})
	require.NoError(t, err)
	data := []byte{1, 2, 3, 4, 5}
	require.NoError(t, w.WriteRaw(data))
	require.NoError(t, w.WriteRaw(nil))

	events := drain(t, out.Bytes(), func() int { return 2 })
	require.Len(t, events, 4)
	idb := events[1].(*InterfaceDescription)
	assert.Equal(t, pktwire.LinkTypeEthernet, idb.LinkType)
	pkts := packets(events)
	require.Len(t, pkts, 2)
	assert.Equal(t, data, pkts[0].Bytes())
	assert.Zero(t, pkts[1].Len())

	// Original length shorter than the padded body.
	file := append(shbBlock(binary.LittleEndian), idbBlock(binary.LittleEndian, pktwire.LinkTypeEthernet)...)
	file = append(file, spbBlock(binary.LittleEndian, 3, data)...)
	// Original length longer than the captured data.
	file = append(file, spbBlock(binary.LittleEndian, 1500, data)...)
	pkts = packets(drain(t, file, whole(file)))
	require.Len(t, pkts, 2)
	assert.Equal(t, data[:3], pkts[0].Bytes())
	assert.Len(t, pkts[1].Bytes(), 8)
	assert.Equal(t, 1500, pkts[1].WireLen())
}

func TestSkipUnknownBlocks(t *testing.T) {
	frame := mustHex(t, testFrame)
	le := binary.LittleEndian
	file := append(shbBlock(le), block(le, 0x0BAD, []byte{1, 2, 3, 4, 5, 6, 7, 8})...)
	file = append(file, idbBlock(le, pktwire.LinkTypeEthernet)...)
	file = append(file, block(le, BlockPacket, make([]byte, 28))...)
	file = append(file, block(le, 5, nil)...) // Interface statistics, empty.
	file = append(file, spbBlock(le, uint32(len(frame)), frame)...)

	for _, chunk := range []func() int{whole(file), func() int { return 1 }} {
		events := drain(t, file, chunk)
		require.Len(t, events, 3)
		pkts := packets(events)
		require.Len(t, pkts, 1)
		assert.Equal(t, frame, pkts[0].Bytes())
	}
}

func TestCorrupt(t *testing.T) {
	le := binary.LittleEndian
	shb := shbBlock(le)
	idb := idbBlock(le, pktwire.LinkTypeEthernet)
	badTrailer := bytes.Clone(idb)
	le.PutUint32(badTrailer[len(badTrailer)-4:], 24)
	unaligned := block(le, 0x0BAD, []byte{1, 2, 3, 4})
	le.PutUint32(unaligned[4:], 18)
	short := block(le, 0x0BAD, nil)
	le.PutUint32(short[4:], 8)
	noIface := block(le, BlockEnhancedPacket, make([]byte, 20))
	badMagic := bytes.Clone(shb)
	le.PutUint32(badMagic[8:], 0xdeadbeef)
	hugeIDB := le.AppendUint32(nil, uint32(BlockInterfaceDescription))
	hugeIDB = le.AppendUint32(hugeIDB, 0xfffffff0)
	hugeUnknown := le.AppendUint32(nil, 0x0BAD)
	hugeUnknown = le.AppendUint32(hugeUnknown, MaxBlockSize+4)
	hugeSHB := bytes.Clone(shb)
	le.PutUint32(hugeSHB[4:], 0x7ffffffc)

	for _, tc := range []struct {
		name string
		file []byte
		want error
	}{
		{"trailer", append(bytes.Clone(shb), badTrailer...), ErrCorrupt},
		{"unaligned", append(bytes.Clone(shb), unaligned...), ErrCorrupt},
		{"short", append(bytes.Clone(shb), short...), ErrCorrupt},
		{"unknown interface", append(bytes.Clone(shb), noIface...), ErrCorrupt},
		{"huge block", append(bytes.Clone(shb), hugeIDB...), ErrCorrupt},
		{"huge unknown block", append(bytes.Clone(shb), hugeUnknown...), ErrCorrupt},
		{"huge section", hugeSHB, ErrCorrupt},
		{"magic", badMagic, ErrBadMagic},
		{"no section", idb, ErrBadMagic},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var r Reader
			_, err := r.Write(tc.file)
			require.ErrorIs(t, err, tc.want)
			_, err = r.Write(shb)
			require.ErrorIs(t, err, tc.want)
			require.ErrorIs(t, r.Err(), tc.want)
		})
	}
}

func TestPacketsOutliveLaterWrites(t *testing.T) {
	frame := mustHex(t, testFrame)
	le := binary.LittleEndian
	file := append(shbBlock(le), idbBlock(le, pktwire.LinkTypeEthernet)...)
	file = append(file, spbBlock(le, uint32(len(frame)), frame)...)
	file = append(file, spbBlock(le, 20, frame[14:34])...)
	tail := writeFile(t, WriterConfig{}, testPackets(t))

	var r Reader
	_, err := r.Write(file)
	require.NoError(t, err)
	got := packets(drainReader(&r))
	require.Len(t, got, 2)
	first, second := bytes.Clone(got[0].Bytes()), bytes.Clone(got[1].Bytes())
	require.Equal(t, frame, first)

	// A new section with packets and options of its own.
	_, err = r.Write(tail)
	require.NoError(t, err)
	assertSamePackets(t, testPackets(t)[:5], packets(drainReader(&r))[:5])
	assert.Equal(t, first, got[0].Bytes())
	assert.Equal(t, second, got[1].Bytes())
}

func drainReader(r *Reader) []Event {
	var events []Event
	for ev, ok := r.Next(); ok; ev, ok = r.Next() {
		events = append(events, ev)
	}
	return events
}

type plainOrder struct{ binary.ByteOrder }

func TestWriterByteOrder(t *testing.T) {
	_, err := NewWriter(io.Discard, WriterConfig{ByteOrder: plainOrder{binary.BigEndian}})
	require.ErrorIs(t, err, errByteOrder)

	file := writeFile(t, WriterConfig{ByteOrder: binary.BigEndian}, testPackets(t)[:1])
	assert.Equal(t, binary.BigEndian.AppendUint32(nil, ByteOrderMagic), file[8:12])
	events := drain(t, file, whole(file))
	assert.Equal(t, binary.BigEndian, events[0].(*SectionHeader).ByteOrder)
}

func TestEmptyWrite(t *testing.T) {
	var r Reader
	n, err := r.Write(nil)
	require.NoError(t, err)
	require.Zero(t, n)
	_, ok := r.Next()
	require.False(t, ok)
}

func TestScanner(t *testing.T) {
	file := writeFile(t, WriterConfig{}, testPackets(t))
	sc := NewScanner(bytes.NewReader(file))
	sc.Buffer(17)
	var n int
	for sc.Scan() {
		if sc.Packet() != nil {
			n++
		}
	}
	require.NoError(t, sc.Err())
	assert.Equal(t, len(testPackets(t)), n)
	assert.NotNil(t, sc.Section())

	sc = NewScanner(bytes.NewReader(file[:len(file)-1]))
	n = 0
	for sc.Scan() {
		if sc.Packet() != nil {
			n++
		}
	}
	require.ErrorIs(t, sc.Err(), io.ErrUnexpectedEOF)
	assert.Equal(t, len(testPackets(t))-1, n)
}

func TestGopacketReadsOurs(t *testing.T) {
	all := testPackets(t)
	pkts := []*packet.Packet{all[0], all[2], all[3]} // Single interface.
	file := writeFile(t, WriterConfig{}, pkts)
	r, err := pcapgo.NewNgReader(bytes.NewReader(file), pcapgo.DefaultNgReaderOptions)
	require.NoError(t, err)
	for i, p := range pkts {
		data, ci, err := r.ReadPacketData()
		require.NoError(t, err, "packet %d", i)
		assert.True(t, bytes.Equal(p.Bytes(), data))
		assert.Equal(t, p.Timestamp.Time().UTC(), ci.Timestamp.UTC())
		assert.Equal(t, p.WireLen(), ci.Length)
	}
	assert.Equal(t, 1, r.NInterfaces())
	assert.Equal(t, layers.LinkTypeEthernet, r.LinkType())
	_, _, err = r.ReadPacketData()
	require.ErrorIs(t, err, io.EOF)
}

func TestReadGopacketFile(t *testing.T) {
	frame := mustHex(t, testFrame)
	var buf bytes.Buffer
	w, err := pcapgo.NewNgWriter(&buf, layers.LinkTypeEthernet)
	require.NoError(t, err)
	stamps := []time.Time{time.Unix(1700000000, 1), time.Unix(1700000001, 999_999_999)}
	for _, ts := range stamps {
		ci := gopacket.CaptureInfo{Timestamp: ts, CaptureLength: len(frame), Length: len(frame)}
		require.NoError(t, w.WritePacket(ci, frame))
	}
	require.NoError(t, w.Flush())

	pkts := packets(drain(t, buf.Bytes(), func() int { return 7 }))
	require.Len(t, pkts, len(stamps))
	for i, p := range pkts {
		assert.True(t, bytes.Equal(frame, p.Bytes()))
		assert.Equal(t, stamps[i].UTC(), p.Timestamp.Time().UTC())
		assert.Equal(t, pktwire.LinkTypeEthernet, p.Iface.LinkType)
	}
}
