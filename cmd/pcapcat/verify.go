package main

import (
	"context"
	"fmt"
	"os"
	"slices"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/spf13/cobra"

	"github.com/soypat/pktwire/packet"
)

func (a *app) verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify FILE",
		Short: "Cross-check packet decoding against gopacket",
		Long: `verify decodes every packet of a capture file with both pktwire and gopacket
and reports packets whose protocol layers or header lengths differ.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.verify(cmd.Context(), args[0])
		},
	}
}

// layerKinds maps gopacket layers to the packet kinds decoded for them.
var layerKinds = map[gopacket.LayerType]packet.Kind{
	layers.LayerTypeEthernet: packet.KindEthernet,
	layers.LayerTypeARP:      packet.KindARP,
	layers.LayerTypeIPv4:     packet.KindIPv4,
	layers.LayerTypeIPv6:     packet.KindIPv6,
	layers.LayerTypeTCP:      packet.KindTCP,
	layers.LayerTypeUDP:      packet.KindUDP,
	layers.LayerTypeICMPv4:   packet.KindICMP,
	layers.LayerTypeICMPv6:   packet.KindICMPv6,
	layers.LayerTypeDHCPv4:   packet.KindDHCP,
}

type layerSummary struct {
	kind packet.Kind
	len  int
}

func (ls layerSummary) String() string { return fmt.Sprintf("%s(%d)", ls.kind, ls.len) }

// gopacketLayers returns the known header layers gopacket decodes from p.
func gopacketLayers(p *packet.Packet) []layerSummary {
	gp := gopacket.NewPacket(p.Bytes(), layers.LinkType(p.Iface.LinkType), gopacket.DecodeOptions{NoCopy: true, Lazy: true})
	var sums []layerSummary
	for _, l := range gp.Layers() {
		if l.LayerType() == layers.LayerTypeICMPv6Echo && len(sums) > 0 {
			// Echo identifier and sequence are part of the ICMPv6 header.
			sums[len(sums)-1].len += len(l.LayerContents())
			continue
		}
		k, ok := layerKinds[l.LayerType()]
		if !ok {
			continue
		}
		sums = append(sums, layerSummary{kind: k, len: len(l.LayerContents())})
	}
	return sums
}

// pktwireLayers returns the header layers of p. Payload layers are omitted.
func pktwireLayers(p *packet.Packet) []layerSummary {
	ls, _ := p.Layers()
	var sums []layerSummary
	for _, l := range ls {
		if l.Kind() == packet.KindPayload {
			continue
		}
		sums = append(sums, layerSummary{kind: l.Kind(), len: l.Len()})
	}
	return sums
}

// compareLayers returns a description of the difference between the layers
// decoded by gopacket and pktwire, or an empty string if they match.
func compareLayers(p *packet.Packet) string {
	want, got := gopacketLayers(p), pktwireLayers(p)
	if slices.Equal(want, got) {
		return ""
	}
	return fmt.Sprintf("gopacket %v, pktwire %v", want, got)
}

func (a *app) verify(ctx context.Context, name string) error {
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()
	c, err := openCapture(f, a.cfg.ChunkSize)
	if err != nil {
		return err
	}
	logger := a.log.WithField("file", name)
	n, mismatches := 0, 0
	for c.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		p := c.Packet()
		if p == nil {
			continue
		}
		if diff := compareLayers(p); diff != "" {
			mismatches++
			logger.WithField("packet", n).Warn(diff)
		}
		n++
	}
	if err := c.Err(); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%d packets, %d mismatches\n", n, mismatches)
	if mismatches > 0 {
		return fmt.Errorf("%d of %d packets decode differently", mismatches, n)
	}
	return nil
}
