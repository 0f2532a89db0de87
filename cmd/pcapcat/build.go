package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/soypat/pktwire/arp"
	"github.com/soypat/pktwire/dhcpv4"
	"github.com/soypat/pktwire/ethernet"
	"github.com/soypat/pktwire/icmp"
	"github.com/soypat/pktwire/ipv4"
	"github.com/soypat/pktwire/ipv6"
	"github.com/soypat/pktwire/packet"
	"github.com/soypat/pktwire/payload"
	"github.com/soypat/pktwire/tcp"
	"github.com/soypat/pktwire/udp"
)

var errLayerSpec = errors.New("layer spec must have exactly one layer name key")

// buildSpec is the YAML input of the build command, i.e:
//
//	packets:
//	  - iface: {linktype: 1, name: eth0}
//	    comment: query
//	    layers:
//	      - Ethernet: {dst: "ff:ff:ff:ff:ff:ff"}
//	      - IPv4: {dst: 10.0.0.1}
//	      - UDP: {src: 5353, dst: 53}
//	      - Payload: kek
type buildSpec struct {
	Packets []packetSpec `yaml:"packets"`
}

type packetSpec struct {
	Iface     *packet.Interface `yaml:"iface"`
	Timestamp *packet.Timestamp `yaml:"timestamp"`
	Comment   string            `yaml:"comment"`
	Layers    []map[string]any  `yaml:"layers"`
}

func (a *app) buildCmd() *cobra.Command {
	var out, to string
	cmd := &cobra.Command{
		Use:   "build SPEC",
		Short: "Build packets from a YAML list of layers and write them to a capture file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.build(args[0], out, outputFormat(out, to))
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "output capture file (required)")
	cmd.Flags().StringVar(&to, "to", "", "output format (pcap or pcapng), by default from the output extension")
	cmd.MarkFlagRequired("output")
	return cmd
}

func (a *app) build(specFile, out, format string) (err error) {
	data, err := os.ReadFile(specFile)
	if err != nil {
		return err
	}
	pkts, err := parseBuildSpec(data)
	if err != nil {
		return fmt.Errorf("%s: %w", specFile, err)
	}
	bw, closeOut, err := createOutput(out)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, closeOut()) }()
	w, err := a.newWriter(bw, format)
	if err != nil {
		return err
	}
	for i, p := range pkts {
		if err := w.WritePacket(p); err != nil {
			return fmt.Errorf("packet %d: %w", i, err)
		}
		if a.log.IsDebugEnabled() {
			a.log.WithField("packet", i).Debug(p.String())
		}
	}
	a.log.WithField("out", out).Infof("built %d packets", len(pkts))
	return nil
}

// parseBuildSpec returns the staged packets described by the YAML document data.
func parseBuildSpec(data []byte) ([]*packet.Packet, error) {
	var spec buildSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, err
	}
	pkts := make([]*packet.Packet, len(spec.Packets))
	for i, ps := range spec.Packets {
		iface := packet.DefaultInterface()
		if ps.Iface != nil {
			iface = *ps.Iface
		}
		p := packet.Build(iface)
		if ps.Timestamp != nil {
			p.Timestamp = *ps.Timestamp
		}
		p.Comment = ps.Comment
		for j, layer := range ps.Layers {
			k, fields, err := decodeLayer(layer)
			if err != nil {
				return nil, fmt.Errorf("packet %d layer %d: %w", i, j, err)
			}
			p.Append(k, fields)
		}
		if err := p.Err(); err != nil {
			return nil, fmt.Errorf("packet %d: %w", i, err)
		}
		pkts[i] = p
	}
	return pkts, nil
}

func decodeLayer(layer map[string]any) (packet.Kind, any, error) {
	if len(layer) != 1 {
		return 0, nil, errLayerSpec
	}
	var name string
	var v any
	for name, v = range layer {
	}
	var k packet.Kind
	if err := k.UnmarshalText([]byte(name)); err != nil {
		return 0, nil, fmt.Errorf("%q: %w", name, err)
	}
	var fields any
	var err error
	switch k {
	case packet.KindEthernet:
		fields, err = decodeFields[ethernet.Fields](v)
	case packet.KindARP:
		fields, err = decodeFields[arp.Fields](v)
	case packet.KindIPv4:
		fields, err = decodeFields[ipv4.Fields](v)
	case packet.KindIPv6:
		fields, err = decodeFields[ipv6.Fields](v)
	case packet.KindTCP:
		fields, err = decodeFields[tcp.Fields](v)
	case packet.KindUDP:
		fields, err = decodeFields[udp.Fields](v)
	case packet.KindICMP:
		fields, err = decodeFields[icmp.Fields](v)
	case packet.KindICMPv6:
		fields, err = decodeFields[icmp.FieldsV6](v)
	case packet.KindDHCP:
		fields, err = decodeFields[dhcpv4.Fields](v)
	case packet.KindPayload:
		if s, ok := v.(string); ok {
			fields = payload.Fields{Data: []byte(s)}
		} else {
			fields, err = decodeFields[payload.Fields](v)
		}
	}
	if err != nil {
		return 0, nil, fmt.Errorf("%s: %w", k, err)
	}
	return k, fields, nil
}

// decodeFields decodes a YAML mapping into the Fields type T. Addresses are
// parsed by their UnmarshalText methods.
func decodeFields[T any](v any) (T, error) {
	var f T
	if v == nil {
		return f, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.TextUnmarshallerHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &f,
	})
	if err != nil {
		return f, err
	}
	err = dec.Decode(v)
	return f, err
}
