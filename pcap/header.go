// Package pcap reads and writes classic libpcap capture files. The reader is
// a resumable state machine fed with chunks of any size through [Reader.Write].
package pcap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/bits"

	"github.com/soypat/pktwire"
	"github.com/soypat/pktwire/bstruct"
)

// Magic numbers of the file header as read in the writer's byte order.
const (
	MagicMicro uint32 = 0xa1b2c3d4
	MagicNano  uint32 = 0xa1b23c4d
)

const (
	VersionMajor = 2
	VersionMinor = 4

	sizeFileHeader   = 24
	sizeRecordHeader = 16

	// MaxSnaplen is the largest record length accepted regardless of the
	// snapshot length in the file header.
	MaxSnaplen = 262144
)

var (
	// ErrBadMagic is returned when the file header does not start with a known magic number.
	ErrBadMagic = errors.New("pcap: unknown magic number")
	// ErrCorrupt is returned for a record longer than the file can hold.
	ErrCorrupt = errors.New("pcap: corrupt record")

	errBadResolution = errors.New("pcap: resolution must be microseconds or nanoseconds")
	errTruncated     = fmt.Errorf("pcap: truncated file: %w", io.ErrUnexpectedEOF)
)

// FileHeaderLayout is the global header of a capture file.
var FileHeaderLayout = bstruct.Layout{
	Name: "pcap_file_header",
	Size: sizeFileHeader,
	Fields: []bstruct.Field{
		bstruct.Uint("magic", 0, 4),
		bstruct.Uint("version_major", 4, 2),
		bstruct.Uint("version_minor", 6, 2),
		bstruct.Int("thiszone", 8, 4),
		bstruct.Uint("sigfigs", 12, 4),
		bstruct.Uint("snaplen", 16, 4),
		bstruct.Uint("linktype", 20, 4),
	},
}

// RecordHeaderLayout precedes every packet of a capture file.
var RecordHeaderLayout = bstruct.Layout{
	Name: "pcap_pkthdr",
	Size: sizeRecordHeader,
	Fields: []bstruct.Field{
		bstruct.Uint("ts_sec", 0, 4),
		bstruct.Uint("ts_usec", 4, 4),
		bstruct.Uint("incl_len", 8, 4),
		bstruct.Uint("orig_len", 12, 4),
	},
}

// FileHeader is the decoded global header of a capture file.
type FileHeader struct {
	Magic        uint32           `json:"magic" yaml:"magic"`
	VersionMajor uint16           `json:"version_major" yaml:"version_major"`
	VersionMinor uint16           `json:"version_minor" yaml:"version_minor"`
	ThisZone     int32            `json:"thiszone" yaml:"thiszone"`
	SigFigs      uint32           `json:"sigfigs" yaml:"sigfigs"`
	Snaplen      uint32           `json:"snaplen" yaml:"snaplen"`
	LinkType     pktwire.LinkType `json:"linktype" yaml:"linktype"`
	// LinkTypeFlags holds the upper 16 bits of the linktype field, such as
	// the FCS length bits.
	LinkTypeFlags uint16 `json:"linktype_flags,omitempty" yaml:"linktype_flags,omitempty"`
	// ByteOrder is the byte order the file was written in.
	ByteOrder binary.ByteOrder `json:"-" yaml:"-"`
}

// Resolution returns the resolution of record timestamps.
func (h *FileHeader) Resolution() pktwire.Resolution {
	if h.Magic == MagicNano {
		return pktwire.ResolutionNano
	}
	return pktwire.ResolutionMicro
}

// IsMagic reports whether b starts with a pcap magic number in either byte order.
func IsMagic(b []byte) bool {
	_, _, err := sniffOrder(b)
	return err == nil
}

// sniffOrder returns the byte order and magic of the header starting at b.
func sniffOrder(b []byte) (binary.ByteOrder, uint32, error) {
	if len(b) < 4 {
		return nil, 0, ErrBadMagic
	}
	le := binary.LittleEndian.Uint32(b)
	switch le {
	case MagicMicro, MagicNano:
		return binary.LittleEndian, le, nil
	}
	switch be := bits.ReverseBytes32(le); be {
	case MagicMicro, MagicNano:
		return binary.BigEndian, be, nil
	}
	return nil, 0, fmt.Errorf("%w: %#08x", ErrBadMagic, le)
}

// decodeFileHeader decodes the 24 byte global header in b.
func decodeFileHeader(b []byte) (*FileHeader, error) {
	order, magic, err := sniffOrder(b)
	if err != nil {
		return nil, err
	}
	l := &FileHeaderLayout
	s, err := l.View(b, order)
	if err != nil {
		return nil, err
	}
	lt := l.Uint(s, "linktype")
	return &FileHeader{
		Magic:         magic,
		VersionMajor:  uint16(l.Uint(s, "version_major")),
		VersionMinor:  uint16(l.Uint(s, "version_minor")),
		ThisZone:      int32(l.Uint(s, "thiszone")),
		SigFigs:       uint32(l.Uint(s, "sigfigs")),
		Snaplen:       uint32(l.Uint(s, "snaplen")),
		LinkType:      pktwire.LinkType(lt),
		LinkTypeFlags: uint16(lt >> 16),
		ByteOrder:     order,
	}, nil
}

// appendFileHeader appends the encoded header to dst.
func appendFileHeader(dst []byte, h *FileHeader) ([]byte, error) {
	s, err := FileHeaderLayout.Alloc(h.ByteOrder, bstruct.Values{
		"magic":         h.Magic,
		"version_major": h.VersionMajor,
		"version_minor": h.VersionMinor,
		"thiszone":      h.ThisZone,
		"sigfigs":       h.SigFigs,
		"snaplen":       h.Snaplen,
		"linktype":      uint32(h.LinkType) | uint32(h.LinkTypeFlags)<<16,
	})
	if err != nil {
		return dst, err
	}
	return append(dst, s.RawData()...), nil
}
