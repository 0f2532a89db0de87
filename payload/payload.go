// Package payload implements the opaque catch-all layer that ends every
// layer chain. Its bytes are never interpreted.
package payload

import "fmt"

// Frame is a view over opaque bytes.
type Frame struct {
	buf []byte
}

// NewFrame returns a Frame over buf. Any length, including zero, is valid.
func NewFrame(buf []byte) Frame { return Frame{buf: buf} }

// Fields holds the payload data.
type Fields struct {
	Data []byte `json:"data" yaml:"data" mapstructure:"data"`
}

// Size returns the length of f.Data.
func Size(f Fields) int { return len(f.Data) }

// RawData returns the underlying slice with which the frame was created.
func (pfrm Frame) RawData() []byte { return pfrm.buf }

// HeaderLength returns the length of the whole payload.
func (pfrm Frame) HeaderLength() int { return len(pfrm.buf) }

// Fields returns the payload data. The slice aliases the frame's buffer.
func (pfrm Frame) Fields() Fields { return Fields{Data: pfrm.buf} }

// Put copies f.Data into the frame. Bytes past len(f.Data) are left untouched.
func (pfrm Frame) Put(f Fields) { copy(pfrm.buf, f.Data) }

func (pfrm Frame) String() string {
	const maxShown = 16
	if len(pfrm.buf) > maxShown {
		return fmt.Sprintf("Payload len=%d %x...", len(pfrm.buf), pfrm.buf[:maxShown])
	}
	return fmt.Sprintf("Payload len=%d %x", len(pfrm.buf), pfrm.buf)
}
