package pcap

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/soypat/pktwire"
	"github.com/soypat/pktwire/packet"
)

var errHeaderWritten = errors.New("pcap: file header already written")

// WriterConfig configures a [Writer]. Zero values select the defaults.
type WriterConfig struct {
	// Snaplen is used when the first packet's interface specifies neither a snapshot length nor an MTU.
	Snaplen int `json:"snaplen" yaml:"snaplen" mapstructure:"snaplen"`
	// LinkType is used when the first packet's interface does not specify one.
	LinkType pktwire.LinkType `json:"linktype" yaml:"linktype" mapstructure:"linktype"`
	// Resolution of record timestamps, microseconds or nanoseconds. Defaults to microseconds.
	Resolution pktwire.Resolution `json:"resolution" yaml:"resolution" mapstructure:"resolution"`
	// ByteOrder of the file. Defaults to little endian.
	ByteOrder binary.ByteOrder `json:"-" yaml:"-" mapstructure:"-"`
}

// Writer encodes packets into a capture file. The file header is written
// lazily on the first record so that it can take the first packet's interface.
type Writer struct {
	w       io.Writer
	cfg     WriterConfig
	hdr     *FileHeader
	scratch []byte
	rec     [sizeRecordHeader]byte
}

// NewWriter returns a Writer writing to w.
func NewWriter(w io.Writer, cfg WriterConfig) (*Writer, error) {
	switch cfg.Resolution {
	case 0:
		cfg.Resolution = pktwire.ResolutionMicro
	case pktwire.ResolutionMicro, pktwire.ResolutionNano:
	default:
		return nil, errBadResolution
	}
	if cfg.ByteOrder == nil {
		cfg.ByteOrder = binary.LittleEndian
	}
	return &Writer{w: w, cfg: cfg}, nil
}

// WriteHeader writes h as the file header, i.e: to copy the header of a file
// being read. The magic number selects the resolution of the records that follow.
func (w *Writer) WriteHeader(h FileHeader) error {
	if w.hdr != nil {
		return errHeaderWritten
	}
	if h.Magic != MagicMicro && h.Magic != MagicNano {
		return ErrBadMagic
	}
	if h.ByteOrder == nil {
		h.ByteOrder = w.cfg.ByteOrder
	}
	return w.writeHeader(&h)
}

func (w *Writer) writeHeader(h *FileHeader) (err error) {
	w.scratch, err = appendFileHeader(w.scratch[:0], h)
	if err != nil {
		return err
	}
	if _, err = w.w.Write(w.scratch); err != nil {
		return err
	}
	w.hdr = h
	return nil
}

// headerFor returns the header derived from the first packet's interface.
func (w *Writer) headerFor(iface packet.Interface) *FileHeader {
	snaplen := iface.Snaplen
	if snaplen == 0 {
		snaplen = iface.MTU
	}
	if snaplen == 0 {
		snaplen = w.cfg.Snaplen
	}
	if snaplen == 0 {
		snaplen = packet.DefaultSnaplen
	}
	linktype := iface.LinkType
	if linktype == 0 {
		linktype = w.cfg.LinkType
	}
	magic := MagicMicro
	if w.cfg.Resolution == pktwire.ResolutionNano {
		magic = MagicNano
	}
	return &FileHeader{
		Magic:        magic,
		VersionMajor: VersionMajor,
		VersionMinor: VersionMinor,
		Snaplen:      uint32(snaplen),
		LinkType:     linktype,
		ByteOrder:    w.cfg.ByteOrder,
	}
}

// WritePacket writes a record holding the packet's buffer, building the
// packet if it was staged.
func (w *Writer) WritePacket(p *packet.Packet) error {
	buf, err := p.Raw()
	if err != nil {
		return err
	}
	if w.hdr == nil {
		if err := w.writeHeader(w.headerFor(p.Iface)); err != nil {
			return err
		}
	}
	return w.writeRecord(p.Timestamp, buf, p.OrigLen)
}

// WriteRaw writes a record holding b timestamped now.
func (w *Writer) WriteRaw(b []byte) error {
	if w.hdr == nil {
		if err := w.writeHeader(w.headerFor(packet.Interface{})); err != nil {
			return err
		}
	}
	return w.writeRecord(packet.Now(), b, len(b))
}

func (w *Writer) writeRecord(ts packet.Timestamp, b []byte, origLen int) error {
	res := w.hdr.Resolution()
	units := res.FromNanos(0, ts.Nsec)
	// Fractions that round up to a whole second carry into ts_sec.
	sec, units := ts.Sec+int64(units/res.UnitsPerSecond()), units%res.UnitsPerSecond()
	s, err := RecordHeaderLayout.View(w.rec[:], w.hdr.ByteOrder)
	if err != nil {
		return err
	}
	s.PutU32(0, uint32(sec))
	s.PutU32(4, uint32(units))
	s.PutU32(8, uint32(len(b)))
	s.PutU32(12, uint32(max(origLen, len(b))))
	if _, err = w.w.Write(w.rec[:]); err != nil {
		return err
	}
	_, err = w.w.Write(b)
	return err
}
