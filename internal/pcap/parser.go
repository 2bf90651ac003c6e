package pcap

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	log "github.com/sirupsen/logrus"

	"rawsim/internal/dot11"
)

// Record is one frame read back from a trace.
type Record struct {
	Timestamp time.Time
	Type      layers.Dot11Type
	Size      int
}

// Summary aggregates a trace.
type Summary struct {
	Frames int
	Counts map[string]int
	Bytes  int
	First  time.Time
	Last   time.Time
}

// Duration is the time between the first and last frame.
func (s *Summary) Duration() time.Duration {
	return s.Last.Sub(s.First)
}

// Parser reads 802.11 traces written by Writer.
type Parser struct{}

// NewParser creates a new trace parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse reads filename and returns every frame in order.
func (p *Parser) Parse(filename string) ([]Record, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file %s: %w", filename, err)
	}
	defer f.Close()
	return p.ParseReader(f)
}

// ParseReader reads a pcap stream.
func (p *Parser) ParseReader(r io.Reader) ([]Record, error) {
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read pcap header: %w", err)
	}
	linkType := reader.LinkType()
	if linkType != layers.LinkTypeIEEE802_11 {
		return nil, fmt.Errorf("unsupported link type %s", linkType)
	}

	packetSource := gopacket.NewPacketSource(reader, linkType)
	packetSource.DecodeOptions.Lazy = true

	var records []Record
	for packet := range packetSource.Packets() {
		data := packet.Data()
		if len(data) == 0 {
			continue
		}
		rec := Record{
			Timestamp: packet.Metadata().Timestamp,
			Type:      layers.Dot11Type(data[0]>>2) & 0x3f,
			Size:      len(data),
		}
		if l := packet.Layer(layers.LayerTypeDot11); l != nil {
			if hdr, ok := l.(*layers.Dot11); ok {
				rec.Type = hdr.Type
			}
		}
		records = append(records, rec)
	}

	log.WithField("frames", len(records)).Debug("Trace parsing complete")
	return records, nil
}

// CountFrames returns a summary of the frame types found in filename.
func (p *Parser) CountFrames(filename string) (*Summary, error) {
	records, err := p.Parse(filename)
	if err != nil {
		return nil, err
	}
	return Summarize(records), nil
}

// Summarize aggregates records.
func Summarize(records []Record) *Summary {
	s := &Summary{Counts: make(map[string]int)}
	for i, rec := range records {
		if i == 0 {
			s.First = rec.Timestamp
		}
		s.Last = rec.Timestamp
		s.Frames++
		s.Bytes += rec.Size
		s.Counts[dot11.TypeName(rec.Type)]++
	}
	return s
}
