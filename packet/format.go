package packet

import (
	"strconv"
)

var defaultFormatter Formatter

// Formatter prints packets on a single line, one layer after another.
type Formatter struct {
	// LayerSep separates layers. Defaults to " | ".
	LayerSep string
	// TimeLayout is the layout of the leading timestamp. Empty omits it.
	TimeLayout string
	// ShowOffsets prefixes each layer with its offset in the buffer.
	ShowOffsets bool
}

// AppendPacket appends the formatted packet to dst. A parse or build error is
// appended at the end of the line and returned.
func (f *Formatter) AppendPacket(dst []byte, p *Packet) ([]byte, error) {
	layers, err := p.Layers()
	if f.TimeLayout != "" {
		dst = p.Timestamp.Time().UTC().AppendFormat(dst, f.TimeLayout)
		dst = append(dst, ' ')
	}
	sep := f.layerSep()
	for i, l := range layers {
		if i != 0 {
			dst = append(dst, sep...)
		}
		dst = f.AppendLayer(dst, l)
	}
	if p.Comment != "" {
		dst = append(dst, " comment="...)
		dst = strconv.AppendQuote(dst, p.Comment)
	}
	if err != nil {
		dst = append(dst, " err=("...)
		dst = append(dst, err.Error()...)
		dst = append(dst, ')')
	}
	return dst, err
}

// AppendLayer appends the formatted layer to dst.
func (f *Formatter) AppendLayer(dst []byte, l Layer) []byte {
	if f.ShowOffsets {
		dst = append(dst, '@')
		dst = strconv.AppendInt(dst, int64(l.Offset()), 10)
		dst = append(dst, ' ')
	}
	return append(dst, l.String()...)
}

func (f *Formatter) layerSep() string {
	if f.LayerSep == "" {
		return " | "
	}
	return f.LayerSep
}
