package medium

import (
	"bytes"
	"fmt"
	"net"
	"time"

	"github.com/google/gopacket/layers"
	log "github.com/sirupsen/logrus"

	"rawsim/internal/clock"
)

// Node is anything attached to the medium that receives frames.
type Node interface {
	Address() net.HardwareAddr
	Deliver(data []byte) error
}

// Tap observes every transmission on the medium.
type Tap interface {
	Capture(at time.Duration, data []byte) error
}

// Medium is a shared broadcast channel: every transmitted frame reaches
// every other attached node after the propagation delay. There is no
// collision model.
type Medium struct {
	clock   clock.Clock
	delay   time.Duration
	nodes   []Node
	taps    []Tap
	onError func(error)

	// OnTransmit is called for every frame put on the air, optional.
	OnTransmit func(at time.Duration, t layers.Dot11Type, size int)
}

// New creates a medium. onError receives delivery failures, typically the
// scheduler's Fail so that a malformed frame aborts the run.
func New(clk clock.Clock, delay time.Duration, onError func(error)) *Medium {
	if onError == nil {
		onError = func(err error) { log.WithError(err).Error("Medium delivery failed") }
	}
	return &Medium{clock: clk, delay: delay, onError: onError}
}

// Attach adds a receiving node.
func (m *Medium) Attach(n Node) {
	m.nodes = append(m.nodes, n)
}

// AddTap adds an observer.
func (m *Medium) AddTap(t Tap) {
	m.taps = append(m.taps, t)
}

// Transmit puts data on the air now. Delivery to the other nodes happens
// after airtime plus the propagation delay.
func (m *Medium) Transmit(from net.HardwareAddr, data []byte, airtime time.Duration) {
	now := m.clock.Now()
	for _, t := range m.taps {
		if err := t.Capture(now, data); err != nil {
			m.onError(fmt.Errorf("failed to capture frame: %w", err))
			return
		}
	}
	if m.OnTransmit != nil && len(data) > 0 {
		m.OnTransmit(now, layers.Dot11Type(data[0]>>2)&0x3f, len(data))
	}
	for _, n := range m.nodes {
		if bytes.Equal(n.Address(), from) {
			continue
		}
		node := n
		frame := append([]byte(nil), data...)
		m.clock.Schedule(airtime+m.delay, func() {
			if err := node.Deliver(frame); err != nil {
				m.onError(fmt.Errorf("delivery to %s failed: %w", node.Address(), err))
			}
		})
	}
}
