package ethernet

import (
	"encoding/binary"
	"errors"

	"github.com/soypat/pktwire"
	"github.com/soypat/pktwire/bstruct"
)

const sizeHeader = 14

// NewFrame returns a Frame with data set to buf.
// An error is returned if the buffer size is smaller than 14.
func NewFrame(buf []byte) (Frame, error) {
	s, err := bstruct.Make(buf, sizeHeader, binary.BigEndian)
	if err != nil {
		return Frame{}, errShort
	}
	return Frame{s: s}, nil
}

// Frame encapsulates the raw data of an Ethernet II frame
// without including preamble (first byte is start of destination address)
// and provides methods for manipulating, validating and
// retrieving fields and payload data. See [IEEE 802.3].
//
// [IEEE 802.3]: https://standards.ieee.org/ieee/802.3/7071/
type Frame struct {
	s bstruct.Struct
}

// Fields is the field set of an Ethernet header. It is used both to describe
// a header to be built and to dump a parsed one. Zero valued fields are unset.
type Fields struct {
	Destination pktwire.MAC       `json:"dst" yaml:"dst" mapstructure:"dst"`
	Source      pktwire.MAC       `json:"src" yaml:"src" mapstructure:"src"`
	Type        pktwire.EtherType `json:"type" yaml:"type" mapstructure:"type"`
}

// Size returns the number of bytes needed to build a header with fields f.
func Size(Fields) int { return sizeHeader }

// RawData returns the underlying slice with which the frame was created.
func (efrm Frame) RawData() []byte { return efrm.s.RawData() }

// HeaderLength returns the length of the ethernet header. Always 14.
func (efrm Frame) HeaderLength() int { return sizeHeader }

// Payload returns the data portion of the ethernet frame. If the type field
// holds a size the payload is limited to it.
func (efrm Frame) Payload() []byte {
	buf := efrm.RawData()
	et := efrm.EtherTypeOrSize()
	if et.IsSize() && sizeHeader+int(et) <= len(buf) {
		return buf[sizeHeader : sizeHeader+int(et)]
	}
	return buf[sizeHeader:]
}

// DestinationHardwareAddr returns the target's MAC/hardware address for the ethernet frame.
func (efrm Frame) DestinationHardwareAddr() (dst *[6]byte) {
	return (*[6]byte)(efrm.s.Array(0, 6))
}

// SourceHardwareAddr returns the sender's MAC/hardware address of the ethernet frame.
func (efrm Frame) SourceHardwareAddr() (src *[6]byte) {
	return (*[6]byte)(efrm.s.Array(6, 6))
}

// IsBroadcast returns true if the destination is the broadcast address ff:ff:ff:ff:ff:ff, false otherwise.
func (efrm Frame) IsBroadcast() bool {
	return *efrm.DestinationHardwareAddr() == pktwire.BroadcastMAC()
}

// EtherTypeOrSize returns the EtherType/Size field of the ethernet frame.
// Caller should check if the field is actually a valid EtherType or if it represents the Ethernet payload size with [pktwire.EtherType.IsSize].
func (efrm Frame) EtherTypeOrSize() pktwire.EtherType {
	return pktwire.EtherType(efrm.s.U16(12))
}

// SetEtherType sets the EtherType field of the ethernet frame. See [Frame.EtherTypeOrSize].
func (efrm Frame) SetEtherType(v pktwire.EtherType) { efrm.s.PutU16(12, uint16(v)) }

// ClearHeader zeros out the header contents.
func (efrm Frame) ClearHeader() {
	clear(efrm.RawData()[:sizeHeader])
}

// Fields returns the header fields of the frame.
func (efrm Frame) Fields() Fields {
	return Fields{
		Destination: *efrm.DestinationHardwareAddr(),
		Source:      *efrm.SourceHardwareAddr(),
		Type:        efrm.EtherTypeOrSize(),
	}
}

// Put writes the non-zero fields of f to the frame.
func (efrm Frame) Put(f Fields) {
	if !f.Destination.IsZero() {
		*efrm.DestinationHardwareAddr() = f.Destination
	}
	if !f.Source.IsZero() {
		*efrm.SourceHardwareAddr() = f.Source
	}
	if f.Type != 0 {
		efrm.SetEtherType(f.Type)
	}
}

func (efrm Frame) String() string {
	var buf [64]byte
	b := append(buf[:0], "ETH "...)
	b, _ = pktwire.MAC(*efrm.SourceHardwareAddr()).AppendText(b)
	b = append(b, " > "...)
	b, _ = pktwire.MAC(*efrm.DestinationHardwareAddr()).AppendText(b)
	b = append(b, ' ')
	b = append(b, efrm.EtherTypeOrSize().String()...)
	return string(b)
}

//
// Validation API.
//

var errShort = errors.New("ethernet: too short")

// ValidateSize checks the frame's size fields and compares with the actual buffer
// the frame. It returns a non-nil error on finding an inconsistency.
func (efrm Frame) ValidateSize(v *pktwire.Validator) {
	sz := efrm.EtherTypeOrSize()
	if sz.IsSize() && len(efrm.RawData()) < sizeHeader+int(sz) {
		v.AddError(errShort)
	}
}
