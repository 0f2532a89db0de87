package main

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/soypat/pktwire/packet"
	"github.com/soypat/pktwire/pcap"
	"github.com/soypat/pktwire/pcapng"
)

var errUnknownFormat = errors.New("unknown capture file format")

// scanner is implemented by the pcap and pcapng scanners.
type scanner interface {
	Scan() bool
	Packet() *packet.Packet
	Err() error
}

// capture iterates over the events of a pcap or pcapng file.
type capture struct {
	scanner
	format string
	event  func() any
}

// openCapture sniffs the file format of r from its first bytes.
func openCapture(r io.Reader, chunkSize int) (*capture, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errUnknownFormat, err)
	}
	switch {
	case pcap.IsMagic(magic):
		sc := pcap.NewScanner(br)
		sc.Buffer(chunkSize)
		return &capture{scanner: sc, format: "pcap", event: func() any { return sc.Event() }}, nil
	case pcapng.BlockType(binary.LittleEndian.Uint32(magic)) == pcapng.BlockSectionHeader:
		sc := pcapng.NewScanner(br)
		sc.Buffer(chunkSize)
		return &capture{scanner: sc, format: "pcapng", event: func() any { return sc.Event() }}, nil
	}
	return nil, fmt.Errorf("%w: magic %x", errUnknownFormat, magic)
}

// packetWriter is implemented by the pcap and pcapng writers.
type packetWriter interface {
	WritePacket(p *packet.Packet) error
}

// outputFormat returns format or, if empty, the format implied by the file extension.
func outputFormat(name, format string) string {
	if format != "" {
		return strings.ToLower(format)
	}
	if strings.EqualFold(filepath.Ext(name), ".pcapng") {
		return "pcapng"
	}
	return "pcap"
}

func (a *app) newWriter(w io.Writer, format string) (packetWriter, error) {
	switch format {
	case "pcap":
		return pcap.NewWriter(w, a.cfg.Pcap)
	case "pcapng":
		return pcapng.NewWriter(w, a.cfg.Pcapng)
	}
	return nil, fmt.Errorf("%w: %q", errUnknownFormat, format)
}

// createOutput creates the named file and a buffered writer over it. The
// returned close function flushes and closes the file.
func createOutput(name string) (*bufio.Writer, func() error, error) {
	f, err := os.Create(name)
	if err != nil {
		return nil, nil, err
	}
	bw := bufio.NewWriter(f)
	return bw, func() error {
		return errors.Join(bw.Flush(), f.Close())
	}, nil
}
