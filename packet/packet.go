// Package packet implements a capture unit that either parses a buffer into
// a chain of protocol layers or builds a buffer from a chain of layer fields.
//
// A Packet is created in one of two states: raw, holding bytes whose layers
// have not been walked yet, or staged, holding the layer fields to be built.
// The first call to [Packet.Buffer], [Packet.Layers] or any other accessor
// materializes the packet exactly once. Packets are not safe for concurrent use.
package packet

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/soypat/pktwire"
	"github.com/soypat/pktwire/arp"
	"github.com/soypat/pktwire/dhcpv4"
	"github.com/soypat/pktwire/ethernet"
	"github.com/soypat/pktwire/icmp"
	"github.com/soypat/pktwire/ipv4"
	"github.com/soypat/pktwire/ipv6"
	"github.com/soypat/pktwire/payload"
	"github.com/soypat/pktwire/tcp"
	"github.com/soypat/pktwire/udp"
)

var (
	// ErrTunnelVersion is returned when an IP-in-IP payload carries neither an IPv4 nor an IPv6 header.
	ErrTunnelVersion = errors.New("packet: tunneled IP version is neither 4 nor 6")

	errUnknownKind    = errors.New("packet: unknown layer kind")
	errNoOptions      = errors.New("packet: layer has no options")
	errOptionsTooLong = errors.New("packet: options exceed maximum header length")
)

// DefaultSnaplen is the snapshot length used when an interface specifies none.
const DefaultSnaplen = 65535

// Interface describes the link a packet was captured on or is destined to.
type Interface struct {
	LinkType pktwire.LinkType `json:"linktype" yaml:"linktype" mapstructure:"linktype"`
	Name     string           `json:"name,omitempty" yaml:"name,omitempty" mapstructure:"name"`
	MTU      int              `json:"mtu,omitempty" yaml:"mtu,omitempty" mapstructure:"mtu"`
	Snaplen  int              `json:"snaplen,omitempty" yaml:"snaplen,omitempty" mapstructure:"snaplen"`
}

// DefaultInterface returns an Ethernet interface with the default snapshot length.
func DefaultInterface() Interface {
	return Interface{LinkType: pktwire.LinkTypeEthernet, Snaplen: DefaultSnaplen}
}

// sameLink reports whether a and b identify the same link for packet comparison.
func (iface Interface) sameLink(b Interface) bool {
	return iface.LinkType == b.LinkType && iface.Name == b.Name && iface.MTU == b.MTU
}

// Timestamp is a capture time with nanosecond precision. Res is the resolution
// the time was captured with or is to be written with; zero means microseconds.
type Timestamp struct {
	Sec  int64              `json:"sec" yaml:"sec" mapstructure:"sec"`
	Nsec uint32             `json:"nsec" yaml:"nsec" mapstructure:"nsec"`
	Res  pktwire.Resolution `json:"resolution,omitempty" yaml:"resolution,omitempty" mapstructure:"resolution"`
}

// Now returns the current time truncated to microseconds.
func Now() Timestamp { return TimestampFromTime(time.Now(), pktwire.ResolutionMicro) }

// TimestampFromTime returns t truncated to the resolution res.
func TimestampFromTime(t time.Time, res pktwire.Resolution) Timestamp {
	ts := Timestamp{Sec: t.Unix(), Res: res}
	sec, nsec := res.ToNanos(res.FromNanos(0, uint32(t.Nanosecond())))
	ts.Sec += sec
	ts.Nsec = nsec
	return ts
}

// TimestampFromUnits returns the timestamp units counts of res after the Unix epoch.
func TimestampFromUnits(units uint64, res pktwire.Resolution) Timestamp {
	sec, nsec := res.ToNanos(units)
	return Timestamp{Sec: sec, Nsec: nsec, Res: res}
}

// Units returns the timestamp as a count of units of its resolution since the Unix epoch.
func (ts Timestamp) Units() uint64 { return ts.Res.FromNanos(ts.Sec, ts.Nsec) }

// Time returns the timestamp as a time.Time.
func (ts Timestamp) Time() time.Time { return time.Unix(ts.Sec, int64(ts.Nsec)) }

// Compare returns -1, 0 or 1 if ts is before, equal or after other. Resolutions are not compared.
func (ts Timestamp) Compare(other Timestamp) int {
	switch {
	case ts.Sec != other.Sec:
		if ts.Sec < other.Sec {
			return -1
		}
		return 1
	case ts.Nsec < other.Nsec:
		return -1
	case ts.Nsec > other.Nsec:
		return 1
	}
	return 0
}

// Packet is a captured or constructed packet. See the package documentation
// for its lifecycle.
type Packet struct {
	Iface     Interface
	Timestamp Timestamp
	Comment   string
	// OrigLen is the length of the packet on the wire, which may exceed the
	// captured length. Zero means the buffer length.
	OrigLen int

	st state
}

// state is one of *rawState, *stagedState or *materialized.
type state interface{ isState() }

type rawState struct {
	buf []byte
}

type stagedState struct {
	base  state // Bytes built layers are appended to. May be nil.
	specs []spec
	err   error // First field validation error.
}

type materialized struct {
	c     *chain
	err   error
	built bool
}

func (*rawState) isState()     {}
func (*stagedState) isState()  {}
func (*materialized) isState() {}

// New returns a packet over buf captured on iface at ts. buf is not copied and
// its layers are parsed on first access.
func New(buf []byte, iface Interface, ts Timestamp) *Packet {
	return &Packet{Iface: iface, Timestamp: ts, st: &rawState{buf: buf}}
}

// Build returns an empty packet to be built with the layer methods, i.e:
//
//	pkt := packet.Build(iface).Ethernet(efields).IPv4(ifields).Payload(data)
func Build(iface Interface) *Packet {
	return &Packet{Iface: iface, Timestamp: Now()}
}

func (p *Packet) Ethernet(f ethernet.Fields) *Packet { return p.stage(KindEthernet, f) }
func (p *Packet) ARP(f arp.Fields) *Packet           { return p.stage(KindARP, f) }
func (p *Packet) IPv4(f ipv4.Fields) *Packet         { return p.stage(KindIPv4, f) }
func (p *Packet) IPv6(f ipv6.Fields) *Packet         { return p.stage(KindIPv6, f) }
func (p *Packet) TCP(f tcp.Fields) *Packet           { return p.stage(KindTCP, f) }
func (p *Packet) UDP(f udp.Fields) *Packet           { return p.stage(KindUDP, f) }
func (p *Packet) ICMP(f icmp.Fields) *Packet         { return p.stage(KindICMP, f) }
func (p *Packet) ICMPv6(f icmp.FieldsV6) *Packet     { return p.stage(KindICMPv6, f) }
func (p *Packet) DHCP(f dhcpv4.Fields) *Packet       { return p.stage(KindDHCP, f) }

// Payload appends an opaque data layer. data is not copied.
func (p *Packet) Payload(data []byte) *Packet {
	return p.stage(KindPayload, payload.Fields{Data: data})
}

// Append stages a layer of kind k. fields must be the Fields type of the
// layer's protocol package, or [payload.Fields] for a payload.
func (p *Packet) Append(k Kind, fields any) *Packet {
	if fieldsKind(fields) != k {
		p.staged().setErr(fmt.Errorf("%w: %T for %s", errUnknownKind, fields, k))
		return p
	}
	return p.stage(k, fields)
}

// stage appends a layer spec. Layers staged onto a raw or materialized
// packet are appended after its bytes.
func (p *Packet) stage(k Kind, fields any) *Packet {
	st := p.staged()
	st.setErr(validate(k, fields))
	st.specs = append(st.specs, spec{kind: k, fields: fields})
	return p
}

func (p *Packet) staged() *stagedState {
	st, ok := p.st.(*stagedState)
	if !ok {
		st = &stagedState{base: p.st}
		p.st = st
	}
	return st
}

func (st *stagedState) setErr(err error) {
	if st.err == nil && err != nil {
		st.err = err
	}
}

// Err returns the first error found validating staged fields or
// materializing the packet. It does not trigger materialization.
func (p *Packet) Err() error {
	switch st := p.st.(type) {
	case *stagedState:
		return st.err
	case *materialized:
		return st.err
	}
	return nil
}

// materialize parses or builds the packet once and memoizes the result.
func (p *Packet) materialize() *materialized {
	m, ok := p.st.(*materialized)
	if ok {
		return m
	}
	m = p.resolve(p.st)
	if _, built := p.st.(*stagedState); built {
		p.OrigLen = 0
	}
	p.st = m
	return m
}

func (p *Packet) resolve(st state) *materialized {
	switch st := st.(type) {
	case *materialized:
		return st
	case *rawState:
		c, err := parse(st.buf, p.Iface.LinkType)
		return &materialized{c: c, err: err}
	case *stagedState:
		base := p.resolve(st.base)
		if base.err != nil {
			return base
		} else if st.err != nil {
			return &materialized{c: base.c, err: st.err, built: true}
		}
		c := base.c.clone()
		err := c.build(st.specs)
		return &materialized{c: c, err: err, built: true}
	}
	return &materialized{c: newChain(nil)}
}

// Buffer returns the packet bytes, building or parsing the packet if needed.
// The returned slice is owned by the packet.
func (p *Packet) Buffer() ([]byte, error) {
	m := p.materialize()
	return m.c.buf, m.err
}

// Raw is like [Packet.Buffer] but only reports errors of building staged
// layers. A parsed buffer is returned as it was captured.
func (p *Packet) Raw() ([]byte, error) {
	m := p.materialize()
	if !m.built {
		return m.c.buf, nil
	}
	return m.c.buf, m.err
}

// Bytes is like [Packet.Buffer] but ignores errors.
func (p *Packet) Bytes() []byte {
	return p.materialize().c.buf
}

// Len returns the length of the packet buffer.
func (p *Packet) Len() int { return len(p.Bytes()) }

// WireLen returns the length of the packet on the wire, which is never less
// than the buffer length.
func (p *Packet) WireLen() int {
	return max(p.OrigLen, p.Len())
}

// Layers returns the packet layers in order.
func (p *Packet) Layers() ([]Layer, error) {
	m := p.materialize()
	layers := make([]Layer, len(m.c.layers))
	for i := range layers {
		layers[i] = Layer{c: m.c, i: i}
	}
	return layers, m.err
}

// Layer returns the first layer with the given name, as returned by [Kind.String].
func (p *Packet) Layer(name string) (Layer, bool) {
	named := p.materialize().c.names[name]
	if len(named) == 0 {
		return Layer{}, false
	}
	return Layer{c: p.materialize().c, i: named[0]}, true
}

// LayersNamed returns every layer with the given name, i.e: both IPv4 headers
// of an IP-in-IP packet.
func (p *Packet) LayersNamed(name string) []Layer {
	m := p.materialize()
	named := m.c.names[name]
	layers := make([]Layer, len(named))
	for i, idx := range named {
		layers[i] = Layer{c: m.c, i: idx}
	}
	return layers
}

// Equal reports whether p and q were captured on the same link at the same
// time and hold the same comment and bytes.
func (p *Packet) Equal(q *Packet) bool {
	if q == nil {
		return false
	}
	return p.Iface.sameLink(q.Iface) && p.Comment == q.Comment &&
		p.Timestamp.Compare(q.Timestamp) == 0 && bytes.Equal(p.Bytes(), q.Bytes())
}

// Clone returns a deep copy of p. Staged layers are preserved unbuilt.
func (p *Packet) Clone() *Packet {
	cp := *p
	cp.st = cloneState(p.st)
	return &cp
}

// Copy returns a deep copy of p timestamped now.
func (p *Packet) Copy() *Packet {
	cp := p.Clone()
	cp.Timestamp = Now()
	return cp
}

func cloneState(st state) state {
	switch st := st.(type) {
	case *rawState:
		return &rawState{buf: bytes.Clone(st.buf)}
	case *stagedState:
		return &stagedState{base: cloneState(st.base), specs: slices.Clone(st.specs), err: st.err}
	case *materialized:
		return &materialized{c: st.c.clone(), err: st.err, built: st.built}
	}
	return nil
}

func (p *Packet) String() string {
	b, _ := defaultFormatter.AppendPacket(nil, p)
	return string(b)
}
