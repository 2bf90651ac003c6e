package pcap

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

const snapLen = 65535

// Writer records every frame seen on the medium as raw 802.11 with FCS.
// Capture timestamps are the simulation time offset from a fixed epoch.
type Writer struct {
	w       *pcapgo.Writer
	closer  io.Closer
	epoch   time.Time
	packets int
}

// NewWriter writes the pcap file header to w.
func NewWriter(w io.Writer, epoch time.Time) (*Writer, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snapLen, layers.LinkTypeIEEE802_11); err != nil {
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}
	return &Writer{w: pw, epoch: epoch}, nil
}

// Create opens filename for writing and returns a Writer owning it.
func Create(filename string, epoch time.Time) (*Writer, error) {
	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace file %s: %w", filename, err)
	}
	w, err := NewWriter(f, epoch)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.closer = f
	return w, nil
}

// Capture appends one frame transmitted at simulation time at.
func (w *Writer) Capture(at time.Duration, data []byte) error {
	ci := gopacket.CaptureInfo{
		Timestamp:     w.epoch.Add(at),
		CaptureLength: len(data),
		Length:        len(data),
	}
	if err := w.w.WritePacket(ci, data); err != nil {
		return fmt.Errorf("failed to write packet: %w", err)
	}
	w.packets++
	return nil
}

// Packets returns how many frames were written.
func (w *Writer) Packets() int { return w.packets }

// Close closes the underlying file when the Writer owns one.
func (w *Writer) Close() error {
	if w.closer == nil {
		return nil
	}
	return w.closer.Close()
}
