// Package ranging reads the ultrasonic range sensor through the serial bridge.
package ranging

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/leafpatrol/internal/monitoring"
	"github.com/banshee-data/leafpatrol/internal/patrol"
	"github.com/banshee-data/leafpatrol/internal/serialmux"
	"github.com/banshee-data/leafpatrol/internal/timeutil"
	"github.com/banshee-data/leafpatrol/internal/units"
)

// DefaultTimeout bounds a single poll. At the sensor's 400cm ceiling the echo
// takes about 23ms, so anything slower is a lost pulse.
const DefaultTimeout = 60 * time.Millisecond

// ErrBadReply is returned when the bridge answers a ping with a line that
// cannot be parsed as a distance.
var ErrBadReply = errors.New("malformed range reply")

// Bridge is the part of the serial mux the sensor needs.
type Bridge interface {
	Subscribe() (string, chan string)
	Unsubscribe(string)
	SendCommand(string) error
}

var _ Bridge = (serialmux.SerialMuxInterface)(nil)

// SerialRangeSensor implements patrol.RangeSensor by sending PING to the
// bridge and waiting for the D: or E: reply.
type SerialRangeSensor struct {
	bridge  Bridge
	timeout time.Duration
	clock   timeutil.Clock

	subID   string
	replies chan string

	pollMu sync.Mutex

	mu   sync.Mutex
	last patrol.DistanceSample
}

// NewSerialRangeSensor subscribes to the bridge. Close releases the
// subscription.
func NewSerialRangeSensor(bridge Bridge, timeout time.Duration) *SerialRangeSensor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	id, lines := bridge.Subscribe()
	s := &SerialRangeSensor{
		bridge:  bridge,
		timeout: timeout,
		clock:   timeutil.RealClock{},
		subID:   id,
		replies: make(chan string, 8),
	}
	go s.collect(lines)
	return s
}

// SetClock replaces the clock used for the poll timeout.
func (s *SerialRangeSensor) SetClock(c timeutil.Clock) {
	s.clock = c
}

// collect buffers distance lines so a reply arriving before Poll starts
// waiting is not dropped by the mux.
func (s *SerialRangeSensor) collect(lines chan string) {
	defer close(s.replies)
	for line := range lines {
		switch serialmux.ClassifyLine(line) {
		case serialmux.LineTypeDistance, serialmux.LineTypeEcho:
		default:
			continue
		}
		select {
		case s.replies <- line:
		default:
			// stale replies nobody is waiting for
		}
	}
}

// Poll pings the sensor and waits up to the configured timeout. A timeout or
// a missing echo yields NoReading with a nil error.
func (s *SerialRangeSensor) Poll(ctx context.Context) (patrol.DistanceSample, error) {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()

	s.drain()
	if err := s.bridge.SendCommand(serialmux.CommandPing); err != nil {
		return patrol.NoReading, fmt.Errorf("send ping: %w", err)
	}

	timer := s.clock.After(s.timeout)
	select {
	case line, ok := <-s.replies:
		if !ok {
			return patrol.NoReading, errors.New("bridge subscription closed")
		}
		cm, err := ParseReply(line)
		if err != nil {
			return patrol.NoReading, err
		}
		sample := patrol.NewDistanceSample(cm)
		s.setLast(sample)
		return sample, nil
	case <-timer:
		monitoring.Logf("range: no reply within %s", s.timeout)
		s.setLast(patrol.NoReading)
		return patrol.NoReading, nil
	case <-ctx.Done():
		return patrol.NoReading, ctx.Err()
	}
}

func (s *SerialRangeSensor) drain() {
	for {
		select {
		case <-s.replies:
		default:
			return
		}
	}
}

func (s *SerialRangeSensor) setLast(d patrol.DistanceSample) {
	s.mu.Lock()
	s.last = d
	s.mu.Unlock()
}

// Last returns the most recent sample.
func (s *SerialRangeSensor) Last() patrol.DistanceSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Close unsubscribes from the bridge.
func (s *SerialRangeSensor) Close() error {
	s.bridge.Unsubscribe(s.subID)
	return nil
}

// ParseReply converts a D:<cm> or E:<us> line into centimetres. A negative
// value means no echo was received.
func ParseReply(line string) (float64, error) {
	line = strings.TrimSpace(line)
	var (
		raw  string
		echo bool
	)
	switch {
	case strings.HasPrefix(line, "D:"):
		raw = line[2:]
	case strings.HasPrefix(line, "E:"):
		raw, echo = line[2:], true
	default:
		return 0, fmt.Errorf("%w: %q", ErrBadReply, line)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadReply, line)
	}
	if v < 0 {
		return -1, nil
	}
	if echo {
		return units.EchoToCM(v), nil
	}
	return v, nil
}
