package pcap

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"io"
	"math/rand"
	"net/netip"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soypat/pktwire"
	"github.com/soypat/pktwire/ethernet"
	"github.com/soypat/pktwire/ipv4"
	"github.com/soypat/pktwire/packet"
)

const testHeader = "d4c3b2a10200040000000000000000000000040001000000"

type testRecord struct {
	sec, frac uint32
	data      []byte
	origLen   uint32
}

// appendFile encodes a capture file with the given header fields and records.
func appendFile(dst []byte, order binary.AppendByteOrder, magic uint32, records ...testRecord) []byte {
	dst = order.AppendUint32(dst, magic)
	dst = order.AppendUint16(dst, 2)
	dst = order.AppendUint16(dst, 4)
	dst = order.AppendUint32(dst, 0)
	dst = order.AppendUint32(dst, 0)
	dst = order.AppendUint32(dst, 262144)
	dst = order.AppendUint32(dst, uint32(pktwire.LinkTypeEthernet))
	for _, rec := range records {
		origLen := rec.origLen
		if origLen == 0 {
			origLen = uint32(len(rec.data))
		}
		dst = order.AppendUint32(dst, rec.sec)
		dst = order.AppendUint32(dst, rec.frac)
		dst = order.AppendUint32(dst, uint32(len(rec.data)))
		dst = order.AppendUint32(dst, origLen)
		dst = append(dst, rec.data...)
	}
	return dst
}

func testRecords(t *testing.T) []testRecord {
	frame, err := hex.DecodeString("424242424242424242424242080045000034000040004006a79ac0a80165a5162c06cd8e5debee16992ebea89919801008000d1200000101080a52d3c650dd04cdd6")
	require.NoError(t, err)
	return []testRecord{
		{sec: 1700000000, frac: 123456, data: frame},
		{sec: 1700000001, frac: 0, data: nil},
		{sec: 1700000002, frac: 999999, data: frame[:20], origLen: uint32(len(frame))},
		{sec: 1700000003, frac: 1, data: []byte{0xde, 0xad, 0xbe, 0xef, 0x45}},
	}
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

func packets(events []Event) []*packet.Packet {
	var pkts []*packet.Packet
	for _, ev := range events {
		if p, ok := ev.(*packet.Packet); ok {
			pkts = append(pkts, p)
		}
	}
	return pkts
}

func TestFileHeader(t *testing.T) {
	b, err := hex.DecodeString(testHeader)
	require.NoError(t, err)
	require.True(t, IsMagic(b))

	var r Reader
	_, err = r.Write(b[:10])
	require.NoError(t, err)
	_, ok := r.Next()
	require.False(t, ok)
	assert.Equal(t, 10, r.Buffered())

	_, err = r.Write(b[10:])
	require.NoError(t, err)
	ev, ok := r.Next()
	require.True(t, ok)
	hdr, ok := ev.(*FileHeader)
	require.True(t, ok)
	assert.EqualValues(t, 2712847316, hdr.Magic)
	assert.EqualValues(t, 2, hdr.VersionMajor)
	assert.EqualValues(t, 4, hdr.VersionMinor)
	assert.EqualValues(t, 262144, hdr.Snaplen)
	assert.Equal(t, pktwire.LinkTypeEthernet, hdr.LinkType)
	assert.Equal(t, binary.LittleEndian, hdr.ByteOrder)
	assert.Equal(t, pktwire.ResolutionMicro, hdr.Resolution())
	assert.Same(t, hdr, r.Header())
}

func TestReadRecords(t *testing.T) {
	recs := testRecords(t)
	file := appendFile(nil, binary.LittleEndian, MagicMicro, recs...)
	events := drain(t, file, func() int { return len(file) })
	require.Len(t, events, 1+len(recs))
	pkts := packets(events)
	require.Len(t, pkts, len(recs))
	for i, p := range pkts {
		rec := recs[i]
		assert.Equal(t, int64(rec.sec), p.Timestamp.Sec)
		assert.Equal(t, rec.frac*1000, p.Timestamp.Nsec)
		assert.Equal(t, pktwire.ResolutionMicro, p.Timestamp.Res)
		assert.Equal(t, len(rec.data), p.Len())
		assert.True(t, bytes.Equal(rec.data, p.Bytes()))
		assert.Equal(t, pktwire.LinkTypeEthernet, p.Iface.LinkType)
		assert.Equal(t, 262144, p.Iface.Snaplen)
	}
	assert.Equal(t, len(recs[0].data), pkts[2].WireLen())

	layers, err := pkts[0].Layers()
	require.NoError(t, err)
	require.Len(t, layers, 3)
	assert.Equal(t, "TCP", layers[2].Name())
}

func TestChunkedFeeding(t *testing.T) {
	file := appendFile(nil, binary.LittleEndian, MagicMicro, testRecords(t)...)
	whole := packets(drain(t, file, func() int { return len(file) }))

	rng := rand.New(rand.NewSource(1))
	feeds := map[string]func() int{
		"byte":   func() int { return 1 },
		"random": func() int { return rng.Intn(40) + 1 },
		"prime":  func() int { return 7 },
	}
	for name, chunk := range feeds {
		t.Run(name, func(t *testing.T) {
			got := packets(drain(t, file, chunk))
			require.Len(t, got, len(whole))
			for i := range got {
				assert.True(t, got[i].Equal(whole[i]), "packet %d", i)
				assert.Equal(t, whole[i].OrigLen, got[i].OrigLen)
			}
		})
	}
}

func TestEmptyWrite(t *testing.T) {
	var r Reader
	n, err := r.Write(nil)
	require.NoError(t, err)
	require.Zero(t, n)
	_, ok := r.Next()
	require.False(t, ok)
}

func TestBadMagicSticky(t *testing.T) {
	var r Reader
	_, err := r.Write([]byte("this is not a capture file"))
	require.ErrorIs(t, err, ErrBadMagic)
	_, err = r.Write(appendFile(nil, binary.LittleEndian, MagicMicro))
	require.ErrorIs(t, err, ErrBadMagic)
	require.ErrorIs(t, r.Err(), ErrBadMagic)
	require.False(t, IsMagic([]byte{0xa1, 0xb2}))
}

func TestRecordTooLong(t *testing.T) {
	file := appendFile(nil, binary.LittleEndian, MagicMicro)
	file = binary.LittleEndian.AppendUint32(file, 1)
	file = binary.LittleEndian.AppendUint32(file, 0)
	file = binary.LittleEndian.AppendUint32(file, 0x7ffffff0)
	file = binary.LittleEndian.AppendUint32(file, 0x7ffffff0)

	var r Reader
	_, err := r.Write(file)
	require.ErrorIs(t, err, ErrCorrupt)
	require.ErrorIs(t, r.Err(), ErrCorrupt)
	_, err = r.Write([]byte{0})
	require.ErrorIs(t, err, ErrCorrupt)
	ev, ok := r.Next()
	require.True(t, ok)
	require.IsType(t, &FileHeader{}, ev)

	// Records as long as the snapshot length are accepted when it exceeds MaxSnaplen.
	big := make([]byte, MaxSnaplen+10)
	file = appendFile(nil, binary.LittleEndian, MagicMicro, testRecord{data: big})
	binary.LittleEndian.PutUint32(file[16:], uint32(len(big)))
	pkts := packets(drain(t, file, func() int { return 1 << 16 }))
	require.Len(t, pkts, 1)
	assert.Equal(t, len(big), pkts[0].Len())
}

func TestPacketsOutliveLaterWrites(t *testing.T) {
	recs := testRecords(t)
	file := appendFile(nil, binary.LittleEndian, MagicMicro, recs...)
	split := 24 + 16 + len(recs[0].data) + 16 + 16 // First two records and the third header.

	var r Reader
	_, err := r.Write(file[:split])
	require.NoError(t, err)
	var got []*packet.Packet
	for ev, ok := r.Next(); ok; ev, ok = r.Next() {
		if p, ok := ev.(*packet.Packet); ok {
			got = append(got, p)
		}
	}
	require.Len(t, got, 2)
	first := bytes.Clone(got[0].Bytes())
	require.Equal(t, recs[0].data, first)

	_, err = r.Write(file[split:])
	require.NoError(t, err)
	for _, rec := range recs[2:] {
		ev, ok := r.Next()
		require.True(t, ok)
		assert.Equal(t, rec.data, ev.(*packet.Packet).Bytes())
	}
	assert.Equal(t, first, got[0].Bytes())
}

func TestLinkTypeFlags(t *testing.T) {
	file := appendFile(nil, binary.LittleEndian, MagicMicro, testRecords(t)...)
	// FCS present with 4 bytes of FCS on Ethernet.
	binary.LittleEndian.PutUint32(file[20:], 0x1000_0000|uint32(pktwire.LinkTypeEthernet))
	events := drain(t, file, func() int { return len(file) })
	hdr := events[0].(*FileHeader)
	assert.Equal(t, pktwire.LinkTypeEthernet, hdr.LinkType)
	assert.EqualValues(t, 0x1000, hdr.LinkTypeFlags)
	assert.Equal(t, pktwire.LinkTypeEthernet, packets(events)[0].Iface.LinkType)
	assert.Equal(t, sha256.Sum256(file), sha256.Sum256(copyFile(t, file)))
}

func TestBigEndianNano(t *testing.T) {
	recs := testRecords(t)
	recs[0].frac = 123456789
	file := appendFile(nil, binary.BigEndian, MagicNano, recs...)
	events := drain(t, file, func() int { return 3 })
	hdr := events[0].(*FileHeader)
	assert.Equal(t, binary.BigEndian, hdr.ByteOrder)
	assert.Equal(t, MagicNano, hdr.Magic)
	assert.Equal(t, pktwire.ResolutionNano, hdr.Resolution())

	p := events[1].(*packet.Packet)
	assert.EqualValues(t, 123456789, p.Timestamp.Nsec)
	assert.Equal(t, pktwire.ResolutionNano, p.Timestamp.Res)
}

// copyFile reads src and writes every event back with a new Writer.
func copyFile(t *testing.T, src []byte) []byte {
	t.Helper()
	var out bytes.Buffer
	w, err := NewWriter(&out, WriterConfig{})
	require.NoError(t, err)
	sc := NewScanner(bytes.NewReader(src))
	sc.Buffer(13)
	for sc.Scan() {
		switch ev := sc.Event().(type) {
		case *FileHeader:
			require.NoError(t, w.WriteHeader(*ev))
		case *packet.Packet:
			require.NoError(t, w.WritePacket(ev))
		}
	}
	require.NoError(t, sc.Err())
	return out.Bytes()
}

func TestReadWriteIdentical(t *testing.T) {
	for _, tc := range []struct {
		name  string
		order binary.AppendByteOrder
		magic uint32
	}{
		{"micro", binary.LittleEndian, MagicMicro},
		{"nano", binary.LittleEndian, MagicNano},
		{"bigendian", binary.BigEndian, MagicMicro},
	} {
		t.Run(tc.name, func(t *testing.T) {
			recs := testRecords(t)
			if tc.magic == MagicNano {
				recs[0].frac = 123456789
			}
			file := appendFile(nil, tc.order, tc.magic, recs...)
			got := copyFile(t, file)
			assert.Equal(t, sha256.Sum256(file), sha256.Sum256(got))
		})
	}
}

func TestScannerTruncated(t *testing.T) {
	file := appendFile(nil, binary.LittleEndian, MagicMicro, testRecords(t)...)
	sc := NewScanner(bytes.NewReader(file[:len(file)-2]))
	n := 0
	for sc.Scan() {
		if sc.Packet() != nil {
			n++
		}
	}
	require.ErrorIs(t, sc.Err(), io.ErrUnexpectedEOF)
	assert.Equal(t, 3, n)

	sc = NewScanner(bytes.NewReader(appendFile(nil, binary.LittleEndian, MagicMicro)))
	for sc.Scan() {
	}
	require.NoError(t, sc.Err())

	// A record header without its body.
	hdrOnly := appendFile(nil, binary.LittleEndian, MagicMicro, testRecord{data: []byte{1, 2, 3}})
	sc = NewScanner(bytes.NewReader(hdrOnly[:24+16]))
	for sc.Scan() {
	}
	require.ErrorIs(t, sc.Err(), io.ErrUnexpectedEOF)
	require.NotNil(t, sc.Header())
}

func TestScannerReadError(t *testing.T) {
	errBoom := errors.New("boom")
	sc := NewScanner(io.MultiReader(bytes.NewReader(appendFile(nil, binary.LittleEndian, MagicMicro)), &errReader{errBoom}))
	require.True(t, sc.Scan())
	require.NotNil(t, sc.Header())
	require.False(t, sc.Scan())
	require.ErrorIs(t, sc.Err(), errBoom)
}

type errReader struct{ err error }

func (r *errReader) Read([]byte) (int, error) { return 0, r.err }

func TestWriterLazyHeader(t *testing.T) {
	dst := pktwire.MAC{1, 2, 3, 4, 5, 6}
	build := func(iface packet.Interface) *packet.Packet {
		p := packet.Build(iface).
			Ethernet(ethernet.Fields{Destination: dst}).
			IPv4(ipv4.Fields{Destination: netip.MustParseAddr("10.0.0.1")}).
			Payload([]byte("kek"))
		p.Timestamp = packet.Timestamp{Sec: 10, Nsec: 250_000_000, Res: pktwire.ResolutionMicro}
		return p
	}
	for _, tc := range []struct {
		name    string
		cfg     WriterConfig
		iface   packet.Interface
		snaplen uint32
		lt      pktwire.LinkType
	}{
		{"iface", WriterConfig{Snaplen: 100}, packet.Interface{LinkType: pktwire.LinkTypeEthernet, Snaplen: 1600, MTU: 1500}, 1600, pktwire.LinkTypeEthernet},
		{"mtu", WriterConfig{Snaplen: 100}, packet.Interface{LinkType: pktwire.LinkTypeEthernet, MTU: 1500}, 1500, pktwire.LinkTypeEthernet},
		{"config", WriterConfig{Snaplen: 100, LinkType: pktwire.LinkTypeEthernet}, packet.Interface{}, 100, pktwire.LinkTypeEthernet},
		{"default", WriterConfig{}, packet.Interface{LinkType: pktwire.LinkTypeEthernet}, packet.DefaultSnaplen, pktwire.LinkTypeEthernet},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer
			w, err := NewWriter(&out, tc.cfg)
			require.NoError(t, err)
			assert.Zero(t, out.Len())
			p := build(tc.iface)
			require.NoError(t, w.WritePacket(p))

			events := drain(t, out.Bytes(), func() int { return out.Len() })
			require.Len(t, events, 2)
			hdr := events[0].(*FileHeader)
			assert.Equal(t, tc.snaplen, hdr.Snaplen)
			assert.Equal(t, tc.lt, hdr.LinkType)
			got := events[1].(*packet.Packet)
			assert.True(t, bytes.Equal(p.Bytes(), got.Bytes()))
			assert.Equal(t, 0, got.Timestamp.Compare(p.Timestamp))
			assert.Equal(t, 14+20+3, got.WireLen())
		})
	}
}

func TestWriterBadResolution(t *testing.T) {
	_, err := NewWriter(io.Discard, WriterConfig{Resolution: 3})
	require.Error(t, err)
	w, err := NewWriter(io.Discard, WriterConfig{})
	require.NoError(t, err)
	require.ErrorIs(t, w.WriteHeader(FileHeader{Magic: 0x12345678}), ErrBadMagic)
	require.NoError(t, w.WriteRaw([]byte{1, 2, 3}))
	require.Error(t, w.WriteHeader(FileHeader{Magic: MagicMicro}))
}

func TestWriterBuildError(t *testing.T) {
	var out bytes.Buffer
	w, err := NewWriter(&out, WriterConfig{})
	require.NoError(t, err)
	p := packet.Build(packet.DefaultInterface()).IPv4(ipv4.Fields{Version: 20})
	require.Error(t, w.WritePacket(p))
	assert.Zero(t, out.Len())
}

func TestGopacketReadsOurs(t *testing.T) {
	var out bytes.Buffer
	w, err := NewWriter(&out, WriterConfig{Resolution: pktwire.ResolutionNano})
	require.NoError(t, err)
	recs := testRecords(t)
	for _, rec := range recs {
		p := packet.New(rec.data, packet.DefaultInterface(), packet.Timestamp{Sec: int64(rec.sec), Nsec: rec.frac})
		p.OrigLen = int(rec.origLen)
		require.NoError(t, w.WritePacket(p))
	}

	r, err := pcapgo.NewReader(&out)
	require.NoError(t, err)
	assert.Equal(t, layers.LinkTypeEthernet, r.LinkType())
	assert.EqualValues(t, packet.DefaultSnaplen, r.Snaplen())
	for _, rec := range recs {
		data, ci, err := r.ReadPacketData()
		require.NoError(t, err)
		assert.True(t, bytes.Equal(rec.data, data))
		assert.Equal(t, time.Unix(int64(rec.sec), int64(rec.frac)).UTC(), ci.Timestamp.UTC())
		assert.Equal(t, max(int(rec.origLen), len(rec.data)), ci.Length)
	}
	_, _, err = r.ReadPacketData()
	require.ErrorIs(t, err, io.EOF)
}

func TestReadGopacketFile(t *testing.T) {
	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	recs := testRecords(t)
	for _, rec := range recs {
		ci := gopacket.CaptureInfo{
			Timestamp:     time.Unix(int64(rec.sec), int64(rec.frac)*1000),
			CaptureLength: len(rec.data),
			Length:        max(int(rec.origLen), len(rec.data)),
		}
		require.NoError(t, w.WritePacket(ci, rec.data))
	}
	file := buf.Bytes()
	pkts := packets(drain(t, file, func() int { return 5 }))
	require.Len(t, pkts, len(recs))
	for i, p := range pkts {
		assert.True(t, bytes.Equal(recs[i].data, p.Bytes()))
		assert.EqualValues(t, recs[i].frac*1000, p.Timestamp.Nsec)
	}
	assert.Equal(t, sha256.Sum256(file), sha256.Sum256(copyFile(t, file)))
}
