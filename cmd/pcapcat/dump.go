package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/soypat/pktwire/packet"
	"github.com/soypat/pktwire/pcap"
	"github.com/soypat/pktwire/pcapng"
)

type encoder interface {
	Encode(v any) error
}

func (a *app) dumpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump FILE",
		Short: "Print the headers and decoded packets of a capture file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.dump(cmd.Context(), args[0])
		},
	}
	cmd.Flags().StringP("format", "f", "", "output format (yaml or json)")
	return cmd
}

// dumpEvent is a single document of the dump output. Exactly one field is set.
type dumpEvent struct {
	FileHeader    *pcap.FileHeader             `json:"file_header,omitempty" yaml:"file_header,omitempty"`
	SectionHeader *pcapng.SectionHeader        `json:"section_header,omitempty" yaml:"section_header,omitempty"`
	Interface     *pcapng.InterfaceDescription `json:"interface,omitempty" yaml:"interface,omitempty"`
	Packet        *packet.Object               `json:"packet,omitempty" yaml:"packet,omitempty"`
}

func (a *app) dump(ctx context.Context, name string) error {
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()
	c, err := openCapture(f, a.cfg.ChunkSize)
	if err != nil {
		return err
	}

	var enc encoder
	switch a.cfg.Format {
	case "json":
		enc = json.NewEncoder(a.out)
	case "yaml":
		ye := yaml.NewEncoder(a.out)
		ye.SetIndent(2)
		defer ye.Close()
		enc = ye
	default:
		return fmt.Errorf("unsupported output format %q", a.cfg.Format)
	}

	logger := a.log.WithField("file", name)
	n := 0
	for c.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var doc dumpEvent
		switch ev := c.event().(type) {
		case *pcap.FileHeader:
			doc.FileHeader = ev
		case *pcapng.SectionHeader:
			doc.SectionHeader = ev
		case *pcapng.InterfaceDescription:
			doc.Interface = ev
		case *packet.Packet:
			obj, err := ev.Object()
			if err != nil {
				logger.WithField("packet", n).WithError(err).Warn("packet partially decoded")
			}
			doc.Packet = &obj
			n++
		}
		if err := enc.Encode(doc); err != nil {
			return err
		}
	}
	if err := c.Err(); err != nil {
		logger.WithField("packets", n).WithError(err).Error("read failed")
		return err
	}
	logger.WithField("format", c.format).Debugf("dumped %d packets", n)
	return nil
}
