package main

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"
)

func (a *app) convertCmd() *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "convert IN OUT",
		Short: "Copy the packets of a capture file into a pcap or pcapng file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.convert(cmd.Context(), args[0], args[1], outputFormat(args[1], to))
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "output format (pcap or pcapng), by default from the OUT extension")
	return cmd
}

func (a *app) convert(ctx context.Context, in, out, format string) (err error) {
	f, err := os.Open(in)
	if err != nil {
		return err
	}
	defer f.Close()
	c, err := openCapture(f, a.cfg.ChunkSize)
	if err != nil {
		return err
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

	n := 0
	for c.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		p := c.Packet()
		if p == nil {
			continue
		}
		if err := w.WritePacket(p); err != nil {
			return err
		}
		n++
	}
	if err := c.Err(); err != nil {
		a.log.WithField("file", in).WithField("packets", n).WithError(err).Error("read failed")
		return err
	}
	a.log.WithFields(map[string]any{"in": in, "out": out, "from": c.format, "to": format}).Infof("converted %d packets", n)
	return nil
}
