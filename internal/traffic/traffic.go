// Package traffic generates periodic uplink payloads and stamps them so the
// receiver can measure latency and loss.
package traffic

import (
	"encoding/binary"
	"errors"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"rawsim/internal/clock"
)

// StampLen is the size of the sequence/timestamp header at the start of
// every generated payload.
const StampLen = 12

// ErrShortPayload is returned when a payload is too small to hold a stamp.
var ErrShortPayload = errors.New("payload shorter than stamp")

// Stamp identifies one generated payload.
type Stamp struct {
	Seq         uint32
	GeneratedAt time.Duration
}

// Put writes s into the first StampLen bytes of b.
func (s Stamp) Put(b []byte) {
	binary.BigEndian.PutUint32(b[0:4], s.Seq)
	binary.BigEndian.PutUint64(b[4:12], uint64(s.GeneratedAt))
}

// ReadStamp extracts the stamp from the head of payload.
func ReadStamp(payload []byte) (Stamp, error) {
	if len(payload) < StampLen {
		return Stamp{}, ErrShortPayload
	}
	return Stamp{
		Seq:         binary.BigEndian.Uint32(payload[0:4]),
		GeneratedAt: time.Duration(binary.BigEndian.Uint64(payload[4:12])),
	}, nil
}

// Sink accepts generated payloads, typically Station.Enqueue.
type Sink func(payload []byte, dst net.HardwareAddr, tid uint8) error

// Config describes one periodic source.
type Config struct {
	Interval    time.Duration
	PayloadSize int
	TID         uint8
	Destination net.HardwareAddr
	Start       time.Duration
	// Limit stops the source after that many payloads, 0 means unlimited.
	Limit int
}

// Generator emits a stamped payload every Interval.
type Generator struct {
	cfg   Config
	clock clock.Clock
	sink  Sink
	timer *clock.Timer

	seq      uint32
	accepted int
	rejected int

	// OnGenerate is called for every payload, optional.
	OnGenerate func(s Stamp, err error)
}

// NewGenerator creates a stopped generator.
func NewGenerator(clk clock.Clock, cfg Config, sink Sink) *Generator {
	if cfg.PayloadSize < StampLen {
		cfg.PayloadSize = StampLen
	}
	return &Generator{cfg: cfg, clock: clk, sink: sink}
}

// Start schedules the first payload at the configured start instant.
func (g *Generator) Start() {
	g.timer.Cancel()
	g.timer = g.clock.ScheduleAt(g.cfg.Start, g.emit)
}

// Stop cancels the pending emission.
func (g *Generator) Stop() {
	g.timer.Cancel()
}

// Generated returns how many payloads were produced.
func (g *Generator) Generated() uint32 { return g.seq }

// Accepted returns how many payloads the sink took.
func (g *Generator) Accepted() int { return g.accepted }

// Rejected returns how many payloads the sink refused.
func (g *Generator) Rejected() int { return g.rejected }

func (g *Generator) emit() {
	st := Stamp{Seq: g.seq, GeneratedAt: g.clock.Now()}
	g.seq++
	payload := make([]byte, g.cfg.PayloadSize)
	st.Put(payload)

	err := g.sink(payload, g.cfg.Destination, g.cfg.TID)
	if err != nil {
		g.rejected++
	} else {
		g.accepted++
	}
	if g.OnGenerate != nil {
		g.OnGenerate(st, err)
	}

	if g.cfg.Limit > 0 && int(g.seq) >= g.cfg.Limit {
		log.WithFields(log.Fields{
			"generated": g.seq,
			"rejected":  g.rejected,
		}).Debug("Traffic source reached its limit")
		return
	}
	if g.cfg.Interval > 0 {
		g.timer = g.clock.Schedule(g.cfg.Interval, g.emit)
	}
}
