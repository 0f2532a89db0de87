package pcapng

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/soypat/pktwire"
	"github.com/soypat/pktwire/internal"
	"github.com/soypat/pktwire/packet"
)

// Event is a decoded unit of a capture file: a *SectionHeader, an
// *InterfaceDescription or a *packet.Packet.
type Event any

type stage uint8

const (
	stageBlockHeader stage = iota
	stageMagic             // Byte-order magic of a section header.
	stageFixed             // Fixed part of the block body.
	stageData              // Packet data.
	stageOptions
	stageTrailer
	stageSkip // Body of a block of unknown type.
)

// Reader decodes a pcapng file written to it in chunks of any size. Decoded
// events are queued and retrieved with [Reader.Next]. The zero value is ready to use.
type Reader struct {
	stage stage
	acc   internal.Accum
	order binary.ByteOrder
	hdr   [sizeBlockHeader]byte
	btype BlockType
	blen  uint32
	// remain is the number of bytes of the current block not yet consumed, trailer included.
	remain int
	skip   int
	// inBlock counts the bytes consumed of an incomplete block.
	inBlock int

	shb    *SectionHeader
	ifaces []*InterfaceDescription
	cur    Event // Event being decoded.
	pkt    pendingPacket

	events []Event
	err    error
	init   bool
}

type pendingPacket struct {
	iface   *InterfaceDescription
	ts      packet.Timestamp
	caplen  int
	origLen int
}

// Write feeds the next chunk of the file to the reader. It never retains b.
// Framing errors, including blocks longer than [MaxBlockSize], fail the
// reader for every later write.
func (r *Reader) Write(b []byte) (n int, err error) {
	if r.err != nil {
		return 0, r.err
	}
	if !r.init {
		r.acc.Reset(sizeBlockHeader, false)
		r.init = true
	}
	total := len(b)
	for {
		if r.stage == stageSkip {
			k := min(r.skip, len(b))
			b = b[k:]
			r.skip -= k
			r.inBlock += k
			if r.skip > 0 {
				break
			}
			r.remain = sizeBlockTrailer
			r.stage = stageTrailer
			r.acc.Reset(sizeBlockTrailer, false)
		}
		rest, done := r.acc.Feed(b)
		r.inBlock += len(b) - len(rest)
		b = rest
		if !done {
			break
		}
		if err = r.advance(); err != nil {
			r.err = err
			return total - len(b), err
		}
	}
	return total, nil
}

func (r *Reader) byteOrder() binary.ByteOrder {
	if r.order == nil {
		return binary.LittleEndian
	}
	return r.order
}

// advance processes the bytes gathered by the current stage and prepares the next.
func (r *Reader) advance() error {
	b := r.acc.Bytes()
	order := r.byteOrder()
	switch r.stage {
	case stageBlockHeader:
		copy(r.hdr[:], b)
		r.btype = BlockType(order.Uint32(b))
		if r.btype == BlockSectionHeader {
			// Length is decoded once the byte order of the section is known.
			r.stage = stageMagic
			r.acc.Reset(4, false)
			return nil
		} else if r.shb == nil {
			return fmt.Errorf("%w: file starts with %v block", ErrBadMagic, r.btype)
		}
		r.blen = order.Uint32(b[4:])
		if err := r.checkLength(sizeMinBlock); err != nil {
			return err
		}
		r.remain = int(r.blen) - sizeBlockHeader
		return r.startBody()

	case stageMagic:
		switch magic := order.Uint32(b); magic {
		case ByteOrderMagic:
		case byteOrderMagicSwapped:
			order = swapOrder(order)
		default:
			return fmt.Errorf("%w: %#08x", ErrBadMagic, magic)
		}
		r.order = order
		r.blen = order.Uint32(r.hdr[4:])
		if err := r.checkLength(sizeMinBlock + 4 + sectionHeaderLayout.Size); err != nil {
			return err
		}
		r.remain = int(r.blen) - sizeBlockHeader - 4
		r.shb = &SectionHeader{ByteOrderMagic: ByteOrderMagic, ByteOrder: order}
		r.ifaces = nil
		r.cur = r.shb
		return r.startBody()

	case stageFixed:
		r.remain -= len(b)
		if err := r.decodeFixed(b, order); err != nil {
			return err
		}

	case stageData:
		r.remain -= len(b)
		iface := r.pkt.iface
		p := packet.New(b[:r.pkt.caplen:r.pkt.caplen], packet.Interface{
			LinkType: iface.LinkType,
			Name:     iface.Name,
			Snaplen:  int(iface.Snaplen),
		}, r.pkt.ts)
		p.OrigLen = r.pkt.origLen
		r.cur = p
		r.startOptions()

	case stageOptions:
		r.remain -= len(b)
		forEachOption(b, order, r.setOption)
		r.stage = stageTrailer
		r.acc.Reset(sizeBlockTrailer, false)

	case stageTrailer:
		if trailer := order.Uint32(b); trailer != r.blen {
			return fmt.Errorf("%w: %v trailer length %d does not match %d", ErrCorrupt, r.btype, trailer, r.blen)
		}
		if idb, ok := r.cur.(*InterfaceDescription); ok {
			r.ifaces = append(r.ifaces, idb)
		}
		if r.cur != nil {
			r.events = append(r.events, r.cur)
			r.cur = nil
		}
		r.stage = stageBlockHeader
		r.inBlock = 0
		r.acc.Reset(sizeBlockHeader, false)
	}
	return nil
}

// checkLength validates the framing of the current block.
func (r *Reader) checkLength(minLen int) error {
	if r.blen < uint32(minLen) || r.blen > MaxBlockSize || r.blen%4 != 0 {
		return fmt.Errorf("%w: %v length %d", ErrCorrupt, r.btype, r.blen)
	}
	return nil
}

// startBody selects the stage following the block header.
func (r *Reader) startBody() error {
	l := fixedLayout(r.btype)
	if l == nil {
		r.stage = stageSkip
		r.skip = r.remain - sizeBlockTrailer
		return nil
	}
	if l.Size > r.remain-sizeBlockTrailer {
		return fmt.Errorf("%w: %v length %d too short", ErrCorrupt, r.btype, r.blen)
	}
	r.stage = stageFixed
	r.acc.Reset(l.Size, false)
	return nil
}

func (r *Reader) startOptions() {
	r.stage = stageOptions
	r.acc.Reset(r.remain-sizeBlockTrailer, false)
}

func (r *Reader) decodeFixed(b []byte, order binary.ByteOrder) error {
	l := fixedLayout(r.btype)
	s, err := l.View(b, order)
	if err != nil {
		return err
	}
	body := r.remain - sizeBlockTrailer
	switch r.btype {
	case BlockSectionHeader:
		r.shb.VersionMajor = uint16(l.Uint(s, "major_version"))
		r.shb.VersionMinor = uint16(l.Uint(s, "minor_version"))
		r.shb.SectionLength = int64(l.Uint(s, "section_length"))
		r.startOptions()

	case BlockInterfaceDescription:
		r.cur = &InterfaceDescription{
			ID:         len(r.ifaces),
			LinkType:   pktwire.LinkType(l.Uint(s, "linktype")),
			Snaplen:    uint32(l.Uint(s, "snaplen")),
			Resolution: pktwire.ResolutionMicro,
		}
		r.startOptions()

	case BlockEnhancedPacket:
		id := l.Uint(s, "interface_id")
		if id >= uint64(len(r.ifaces)) {
			return fmt.Errorf("%w: EPB references unknown interface %d", ErrCorrupt, id)
		}
		caplen := int(l.Uint(s, "captured_len"))
		if pad4(caplen) > body {
			return fmt.Errorf("%w: EPB captured length %d exceeds block", ErrCorrupt, caplen)
		}
		iface := r.ifaces[id]
		sec, nsec := iface.Resolution.ToNanos(l.Uint(s, "timestamp_high")<<32 | l.Uint(s, "timestamp_low"))
		r.pkt = pendingPacket{
			iface:   iface,
			ts:      packet.Timestamp{Sec: sec, Nsec: nsec, Res: iface.Resolution},
			caplen:  caplen,
			origLen: int(l.Uint(s, "original_len")),
		}
		r.stage = stageData
		r.acc.Reset(pad4(caplen), true)

	case BlockSimplePacket:
		if len(r.ifaces) == 0 {
			return fmt.Errorf("%w: SPB without interface", ErrCorrupt)
		}
		origLen := int(l.Uint(s, "original_len"))
		r.pkt = pendingPacket{
			iface:   r.ifaces[0],
			caplen:  min(origLen, body),
			origLen: origLen,
		}
		r.stage = stageData
		r.acc.Reset(body, true)
	}
	return nil
}

func (r *Reader) setOption(opt Option) {
	switch cur := r.cur.(type) {
	case *SectionHeader:
		cur.setOption(opt)
	case *InterfaceDescription:
		cur.setOption(opt)
	case *packet.Packet:
		if opt.Code == OptComment {
			cur.Comment = string(opt.Value)
		}
	}
}

func swapOrder(order binary.ByteOrder) binary.ByteOrder {
	if order == binary.ByteOrder(binary.BigEndian) {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// Next pops the oldest decoded event.
func (r *Reader) Next() (Event, bool) {
	if len(r.events) == 0 {
		return nil, false
	}
	ev := r.events[0]
	r.events[0] = nil
	r.events = r.events[1:]
	return ev, true
}

// Section returns the header of the section being read.
func (r *Reader) Section() *SectionHeader { return r.shb }

// Interfaces returns the interfaces described so far in the current section.
func (r *Reader) Interfaces() []*InterfaceDescription { return r.ifaces }

// Err returns the error that failed the reader.
func (r *Reader) Err() error { return r.err }

// Buffered returns the number of bytes consumed of a block not yet complete.
func (r *Reader) Buffered() int { return r.inBlock }

// Scanner reads a pcapng file from an [io.Reader] one event at a time,
// similar to [bufio.Scanner].
type Scanner struct {
	src   io.Reader
	rd    Reader
	chunk []byte
	ev    Event
	err   error
	eof   bool
}

// DefaultChunkSize is the read size of a [Scanner].
const DefaultChunkSize = 64 * 1024

// NewScanner returns a Scanner reading from src.
func NewScanner(src io.Reader) *Scanner {
	return &Scanner{src: src}
}

// Buffer sets the size of the reads issued to the source. It must be called before Scan.
func (s *Scanner) Buffer(chunkSize int) {
	s.chunk = make([]byte, max(chunkSize, 1))
}

// Scan advances to the next event, which is then available through [Scanner.Event].
// It returns false at the end of input or on error.
func (s *Scanner) Scan() bool {
	if s.chunk == nil {
		s.chunk = make([]byte, DefaultChunkSize)
	}
	for {
		if ev, ok := s.rd.Next(); ok {
			s.ev = ev
			return true
		}
		if s.eof || s.err != nil {
			s.ev = nil
			return false
		}
		n, err := s.src.Read(s.chunk)
		if n > 0 {
			if _, werr := s.rd.Write(s.chunk[:n]); werr != nil {
				s.err = werr
			}
		}
		if err == io.EOF {
			s.eof = true
			if s.err == nil && s.rd.Buffered() > 0 {
				s.err = errTruncated
			}
		} else if err != nil && s.err == nil {
			s.err = err
		}
	}
}

// Event returns the event decoded by the last call to Scan.
func (s *Scanner) Event() Event { return s.ev }

// Packet returns the packet decoded by the last call to Scan or nil if the
// event was not a packet.
func (s *Scanner) Packet() *packet.Packet {
	p, _ := s.ev.(*packet.Packet)
	return p
}

// Section returns the header of the section being scanned.
func (s *Scanner) Section() *SectionHeader { return s.rd.Section() }

// Err returns the first non-EOF error encountered.
func (s *Scanner) Err() error { return s.err }

var _ io.Writer = (*Reader)(nil)
