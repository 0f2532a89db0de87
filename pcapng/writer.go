package pcapng

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/soypat/pktwire"
	"github.com/soypat/pktwire/bstruct"
	"github.com/soypat/pktwire/packet"
)

// DefaultUserAppl is written as the shb_userappl option when none is configured.
const DefaultUserAppl = "pktwire"

// WriterConfig configures the section header written by a [Writer].
type WriterConfig struct {
	UserAppl string `json:"userappl" yaml:"userappl" mapstructure:"userappl"`
	Hardware string `json:"hardware" yaml:"hardware" mapstructure:"hardware"`
	OS       string `json:"os" yaml:"os" mapstructure:"os"`
	// ByteOrder of the file. Defaults to little endian. It must also
	// implement binary.AppendByteOrder.
	ByteOrder binary.ByteOrder `json:"-" yaml:"-" mapstructure:"-"`
}

var errByteOrder = errors.New("pcapng: writer byte order must implement binary.AppendByteOrder")

// byteOrder is satisfied by binary.LittleEndian and binary.BigEndian.
type byteOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

type ifaceKey struct {
	linktype pktwire.LinkType
	name     string
}

// Writer encodes packets into a single section of a pcapng file. Interface
// description blocks are written the first time a packet's interface is seen.
type Writer struct {
	w      io.Writer
	order  byteOrder
	ifaces map[ifaceKey]uint32
	res    []pktwire.Resolution // Timestamp resolution by interface ID.
	buf    []byte
	opts   []byte
}

// NewWriter returns a Writer writing to w. The section header is written immediately.
func NewWriter(w io.Writer, cfg WriterConfig) (*Writer, error) {
	if cfg.ByteOrder == nil {
		cfg.ByteOrder = binary.LittleEndian
	}
	if cfg.UserAppl == "" {
		cfg.UserAppl = DefaultUserAppl
	}
	order, ok := cfg.ByteOrder.(byteOrder)
	if !ok {
		return nil, errByteOrder
	}
	wr := &Writer{
		w:      w,
		order:  order,
		ifaces: make(map[ifaceKey]uint32),
	}
	fixed, err := wr.fixed(&sectionHeaderLayout, bstruct.Values{
		"major_version":  uint16(1),
		"minor_version":  uint16(0),
		"section_length": int64(-1),
	})
	if err != nil {
		return nil, err
	}
	fixed = append(wr.order.AppendUint32(nil, ByteOrderMagic), fixed...)
	opts := wr.opts[:0]
	for _, opt := range []struct {
		code  uint16
		value string
	}{
		{OptSHBHardware, cfg.Hardware},
		{OptSHBOS, cfg.OS},
		{OptSHBUserAppl, cfg.UserAppl},
	} {
		if opt.value != "" {
			opts = appendOption(opts, wr.order, opt.code, []byte(opt.value))
		}
	}
	opts = appendEndOfOpt(opts, wr.order)
	wr.opts = opts
	if err := wr.writeBlock(BlockSectionHeader, fixed, nil, opts); err != nil {
		return nil, err
	}
	return wr, nil
}

func (w *Writer) fixed(l *bstruct.Layout, vals bstruct.Values) ([]byte, error) {
	s, err := l.Alloc(w.order, vals)
	if err != nil {
		return nil, err
	}
	return s.RawData(), nil
}

// writeBlock writes a block made of its fixed body, data padded to 4 bytes and encoded options.
func (w *Writer) writeBlock(bt BlockType, fixed, data, opts []byte) error {
	length := uint32(sizeMinBlock + len(fixed) + pad4(len(data)) + len(opts))
	b := w.order.AppendUint32(w.buf[:0], uint32(bt))
	b = w.order.AppendUint32(b, length)
	b = append(b, fixed...)
	b = append(b, data...)
	b = appendPad(b, len(data))
	b = append(b, opts...)
	b = w.order.AppendUint32(b, length)
	w.buf = b
	_, err := w.w.Write(b)
	return err
}

// iface returns the ID of the interface, writing its description block if new.
func (w *Writer) iface(iface packet.Interface, res pktwire.Resolution) (uint32, error) {
	key := ifaceKey{linktype: iface.LinkType, name: iface.Name}
	if id, ok := w.ifaces[key]; ok {
		return id, nil
	}
	if res == 0 {
		res = pktwire.ResolutionMicro
	}
	snaplen := iface.Snaplen
	if snaplen == 0 {
		snaplen = iface.MTU
	}
	if snaplen == 0 {
		snaplen = packet.DefaultSnaplen
	}
	fixed, err := w.fixed(&interfaceLayout, bstruct.Values{
		"linktype": uint16(iface.LinkType),
		"snaplen":  uint32(snaplen),
	})
	if err != nil {
		return 0, err
	}
	opts := w.opts[:0]
	if iface.Name != "" {
		opts = appendOption(opts, w.order, OptIfName, []byte(iface.Name))
	}
	opts = appendOption(opts, w.order, OptIfTSResol, []byte{byte(res)})
	opts = appendEndOfOpt(opts, w.order)
	w.opts = opts
	if err := w.writeBlock(BlockInterfaceDescription, fixed, nil, opts); err != nil {
		return 0, err
	}
	id := uint32(len(w.res))
	w.ifaces[key] = id
	w.res = append(w.res, res)
	return id, nil
}

// WritePacket writes an enhanced packet block holding the packet's buffer,
// building the packet if it was staged.
func (w *Writer) WritePacket(p *packet.Packet) error {
	buf, err := p.Raw()
	if err != nil {
		return err
	}
	id, err := w.iface(p.Iface, p.Timestamp.Res)
	if err != nil {
		return err
	}
	units := w.res[id].FromNanos(p.Timestamp.Sec, p.Timestamp.Nsec)
	fixed, err := w.fixed(&enhancedPacketLayout, bstruct.Values{
		"interface_id":   id,
		"timestamp_high": uint32(units >> 32),
		"timestamp_low":  uint32(units),
		"captured_len":   uint32(len(buf)),
		"original_len":   uint32(max(p.OrigLen, len(buf))),
	})
	if err != nil {
		return err
	}
	var opts []byte
	if p.Comment != "" {
		opts = appendOption(w.opts[:0], w.order, OptComment, []byte(p.Comment))
		opts = appendEndOfOpt(opts, w.order)
		w.opts = opts
	}
	return w.writeBlock(BlockEnhancedPacket, fixed, buf, opts)
}

// WriteRaw writes a simple packet block holding b on the first interface.
// An Ethernet interface is described first if none has been.
func (w *Writer) WriteRaw(b []byte) error {
	if len(w.res) == 0 {
		if _, err := w.iface(packet.Interface{LinkType: pktwire.LinkTypeEthernet}, pktwire.ResolutionMicro); err != nil {
			return err
		}
	}
	fixed, err := w.fixed(&simplePacketLayout, bstruct.Values{"original_len": uint32(len(b))})
	if err != nil {
		return err
	}
	return w.writeBlock(BlockSimplePacket, fixed, b, nil)
}
