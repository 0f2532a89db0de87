// Package pcapng reads and writes pcapng capture files. Like package pcap the
// reader is a resumable state machine fed through [Reader.Write]; blocks are
// decoded in stages so that no stage needs more than the bytes of its block.
package pcapng

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/soypat/pktwire"
	"github.com/soypat/pktwire/bstruct"
)

// BlockType identifies a block.
type BlockType uint32

const (
	BlockSectionHeader        BlockType = 0x0A0D0D0A
	BlockInterfaceDescription BlockType = 1
	BlockPacket               BlockType = 2 // Obsolete, skipped when read.
	BlockSimplePacket         BlockType = 3
	BlockEnhancedPacket       BlockType = 6
)

func (bt BlockType) String() string {
	switch bt {
	case BlockSectionHeader:
		return "SHB"
	case BlockInterfaceDescription:
		return "IDB"
	case BlockPacket:
		return "PB"
	case BlockSimplePacket:
		return "SPB"
	case BlockEnhancedPacket:
		return "EPB"
	}
	return fmt.Sprintf("BlockType(%#x)", uint32(bt))
}

// ByteOrderMagic as read in the writer's byte order. Read in the other order it is 0x4D3C2B1A.
const ByteOrderMagic uint32 = 0x1A2B3C4D

const byteOrderMagicSwapped uint32 = 0x4D3C2B1A

// Option codes. Codes other than the end-of-options and comment codes depend on the block type.
const (
	OptEndOfOpt      = 0
	OptComment       = 1
	OptSHBHardware   = 2
	OptSHBOS         = 3
	OptSHBUserAppl   = 4
	OptIfName        = 2
	OptIfDescription = 3
	OptIfTSResol     = 9
)

const (
	sizeBlockHeader  = 8 // type and total length.
	sizeBlockTrailer = 4 // total length repeated.
	sizeMinBlock     = sizeBlockHeader + sizeBlockTrailer
	sizeOptionHeader = 4
)

// MaxBlockSize is the largest block length accepted by a [Reader].
const MaxBlockSize = 16 << 20

var (
	// ErrCorrupt is returned for blocks whose framing cannot be trusted.
	ErrCorrupt = errors.New("pcapng: corrupt block")
	// ErrBadMagic is returned for an unknown byte-order magic or a file not starting with a section header.
	ErrBadMagic = errors.New("pcapng: bad byte-order magic")

	errTruncated = fmt.Errorf("pcapng: truncated file: %w", io.ErrUnexpectedEOF)
)

// Fixed block bodies. Each follows the block header.
var (
	sectionHeaderLayout = bstruct.Layout{
		Name: "shb",
		Size: 12,
		Fields: []bstruct.Field{
			bstruct.Uint("major_version", 0, 2),
			bstruct.Uint("minor_version", 2, 2),
			bstruct.Int("section_length", 4, 8),
		},
	}
	interfaceLayout = bstruct.Layout{
		Name: "idb",
		Size: 8,
		Fields: []bstruct.Field{
			bstruct.Uint("linktype", 0, 2),
			bstruct.Uint("reserved", 2, 2),
			bstruct.Uint("snaplen", 4, 4),
		},
	}
	enhancedPacketLayout = bstruct.Layout{
		Name: "epb",
		Size: 20,
		Fields: []bstruct.Field{
			bstruct.Uint("interface_id", 0, 4),
			bstruct.Uint("timestamp_high", 4, 4),
			bstruct.Uint("timestamp_low", 8, 4),
			bstruct.Uint("captured_len", 12, 4),
			bstruct.Uint("original_len", 16, 4),
		},
	}
	simplePacketLayout = bstruct.Layout{
		Name:   "spb",
		Size:   4,
		Fields: []bstruct.Field{bstruct.Uint("original_len", 0, 4)},
	}
)

// fixedLayout returns the layout of the fixed body of a known block type.
func fixedLayout(bt BlockType) *bstruct.Layout {
	switch bt {
	case BlockSectionHeader:
		return &sectionHeaderLayout
	case BlockInterfaceDescription:
		return &interfaceLayout
	case BlockEnhancedPacket:
		return &enhancedPacketLayout
	case BlockSimplePacket:
		return &simplePacketLayout
	}
	return nil
}

// SectionHeader is a decoded Section Header Block.
type SectionHeader struct {
	ByteOrderMagic uint32 `json:"byte_order_magic" yaml:"byte_order_magic"`
	VersionMajor   uint16 `json:"major_version" yaml:"major_version"`
	VersionMinor   uint16 `json:"minor_version" yaml:"minor_version"`
	// SectionLength is -1 when not specified.
	SectionLength int64  `json:"section_length" yaml:"section_length"`
	Hardware      string `json:"shb_hardware,omitempty" yaml:"shb_hardware,omitempty"`
	OS            string `json:"shb_os,omitempty" yaml:"shb_os,omitempty"`
	UserAppl      string `json:"shb_userappl,omitempty" yaml:"shb_userappl,omitempty"`
	Comment       string `json:"opt_comment,omitempty" yaml:"opt_comment,omitempty"`
	// ByteOrder is the byte order of the section.
	ByteOrder binary.ByteOrder `json:"-" yaml:"-"`
}

func (shb *SectionHeader) setOption(opt Option) {
	switch opt.Code {
	case OptComment:
		shb.Comment = string(opt.Value)
	case OptSHBHardware:
		shb.Hardware = string(opt.Value)
	case OptSHBOS:
		shb.OS = string(opt.Value)
	case OptSHBUserAppl:
		shb.UserAppl = string(opt.Value)
	}
}

// InterfaceDescription is a decoded Interface Description Block.
type InterfaceDescription struct {
	// ID is the index of the interface within its section.
	ID          int              `json:"id" yaml:"id"`
	LinkType    pktwire.LinkType `json:"linktype" yaml:"linktype"`
	Snaplen     uint32           `json:"snaplen" yaml:"snaplen"`
	Name        string           `json:"if_name,omitempty" yaml:"if_name,omitempty"`
	Description string           `json:"if_description,omitempty" yaml:"if_description,omitempty"`
	Comment     string           `json:"opt_comment,omitempty" yaml:"opt_comment,omitempty"`
	// Resolution of the timestamps of packets captured on the interface.
	Resolution pktwire.Resolution `json:"if_tsresol" yaml:"if_tsresol"`
}

func (idb *InterfaceDescription) setOption(opt Option) {
	switch opt.Code {
	case OptComment:
		idb.Comment = string(opt.Value)
	case OptIfName:
		idb.Name = string(opt.Value)
	case OptIfDescription:
		idb.Description = string(opt.Value)
	case OptIfTSResol:
		if len(opt.Value) > 0 {
			idb.Resolution = pktwire.Resolution(opt.Value[0])
		}
	}
}

// Option is a block option. Value aliases the block it was decoded from.
type Option struct {
	Code  uint16
	Value []byte
}

// forEachOption calls fn for every option in b up to the end-of-options
// marker. A truncated option ends iteration.
func forEachOption(b []byte, order binary.ByteOrder, fn func(Option)) {
	for len(b) >= sizeOptionHeader {
		code := order.Uint16(b)
		n := int(order.Uint16(b[2:]))
		if code == OptEndOfOpt {
			return
		}
		b = b[sizeOptionHeader:]
		if n > len(b) {
			return
		}
		fn(Option{Code: code, Value: b[:n:n]})
		b = b[min(pad4(n), len(b)):]
	}
}

// appendOption appends an option with its value padded to 4 bytes.
func appendOption(dst []byte, order binary.AppendByteOrder, code uint16, value []byte) []byte {
	dst = order.AppendUint16(dst, code)
	dst = order.AppendUint16(dst, uint16(len(value)))
	dst = append(dst, value...)
	return appendPad(dst, len(value))
}

func appendEndOfOpt(dst []byte, order binary.AppendByteOrder) []byte {
	return order.AppendUint32(dst, 0)
}

func appendPad(dst []byte, n int) []byte {
	var zeros [3]byte
	return append(dst, zeros[:pad4(n)-n]...)
}

func pad4(n int) int { return (n + 3) &^ 3 }

func init() {
	for _, l := range []*bstruct.Layout{&sectionHeaderLayout, &interfaceLayout, &enhancedPacketLayout, &simplePacketLayout} {
		if err := l.Validate(); err != nil {
			panic(err)
		}
	}
}
