package pcap

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/soypat/pktwire"
	"github.com/soypat/pktwire/bstruct"
	"github.com/soypat/pktwire/internal"
	"github.com/soypat/pktwire/packet"
)

// Event is a decoded unit of a capture file: either a *FileHeader or a *packet.Packet.
type Event any

type stage uint8

const (
	stageFileHeader stage = iota
	stageRecordHeader
	stageBody
)

// Reader decodes a capture file written to it in chunks of any size. Decoded
// events are queued and retrieved with [Reader.Next]. The zero value is ready to use.
type Reader struct {
	stage  stage
	acc    internal.Accum
	hdr    *FileHeader
	iface  packet.Interface
	rec    record
	events []Event
	err    error
	init   bool
}

type record struct {
	ts      packet.Timestamp
	inclLen uint32
	origLen uint32
}

// Write feeds the next chunk of the file to the reader. It never retains b.
// An unknown magic number or a record longer than max(snaplen, [MaxSnaplen])
// fails the reader for every later write.
func (r *Reader) Write(b []byte) (n int, err error) {
	if r.err != nil {
		return 0, r.err
	}
	if !r.init {
		r.acc.Reset(sizeFileHeader, false)
		r.init = true
	}
	total := len(b)
	for len(b) > 0 {
		var done bool
		b, done = r.acc.Feed(b)
		if !done {
			break
		}
		if err = r.advance(); err != nil {
			r.err = err
			return total - len(b), err
		}
	}
	// A zero length record completes without input.
	for r.stage == stageBody && r.rec.inclLen == 0 {
		r.advance()
	}
	return total, nil
}

// advance processes the bytes gathered by the current stage and prepares the next.
func (r *Reader) advance() error {
	switch r.stage {
	case stageFileHeader:
		hdr, err := decodeFileHeader(r.acc.Bytes())
		if err != nil {
			return err
		}
		r.hdr = hdr
		r.iface = packet.Interface{LinkType: hdr.LinkType, Snaplen: int(hdr.Snaplen)}
		r.events = append(r.events, hdr)
		r.stage = stageRecordHeader
		r.acc.Reset(sizeRecordHeader, false)

	case stageRecordHeader:
		r.rec = decodeRecord(r.acc.Bytes(), r.hdr.ByteOrder, r.hdr.Resolution())
		if limit := max(r.hdr.Snaplen, MaxSnaplen); r.rec.inclLen > limit {
			return fmt.Errorf("%w: length %d exceeds %d", ErrCorrupt, r.rec.inclLen, limit)
		}
		r.stage = stageBody
		r.acc.Reset(int(r.rec.inclLen), true)

	case stageBody:
		p := packet.New(r.acc.Bytes(), r.iface, r.rec.ts)
		p.OrigLen = int(r.rec.origLen)
		r.events = append(r.events, p)
		r.stage = stageRecordHeader
		r.acc.Reset(sizeRecordHeader, false)
	}
	return nil
}

func decodeRecord(b []byte, order binary.ByteOrder, res pktwire.Resolution) record {
	l := &RecordHeaderLayout
	s, _ := l.View(b, order)
	sec, nsec := res.ToNanos(l.Uint(s, "ts_usec"))
	return record{
		ts:      packet.Timestamp{Sec: int64(l.Uint(s, "ts_sec")) + sec, Nsec: nsec, Res: res},
		inclLen: uint32(l.Uint(s, "incl_len")),
		origLen: uint32(l.Uint(s, "orig_len")),
	}
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

// Header returns the file header once it has been decoded.
func (r *Reader) Header() *FileHeader { return r.hdr }

// Err returns the error that failed the reader.
func (r *Reader) Err() error { return r.err }

// Buffered returns the number of bytes gathered towards an incomplete header or record.
func (r *Reader) Buffered() int { return r.acc.Pending() }

// Scanner reads a capture file from an [io.Reader] one event at a time,
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
			if s.rd.Buffered() > 0 || s.rd.stage == stageBody {
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

// Header returns the file header once it has been scanned.
func (s *Scanner) Header() *FileHeader { return s.rd.Header() }

// Err returns the first non-EOF error encountered.
func (s *Scanner) Err() error { return s.err }

var _ io.Writer = (*Reader)(nil)

func init() {
	for _, l := range []*bstruct.Layout{&FileHeaderLayout, &RecordHeaderLayout} {
		if err := l.Validate(); err != nil {
			panic(err)
		}
	}
}
