package monitoring

import (
	"sync"
	"sync/atomic"
	"time"
)

// LoopStats counts patrol loop outcomes. All methods are safe for concurrent
// use; the loop writes while HTTP handlers read snapshots.
type LoopStats struct {
	cycles          atomic.Uint64
	idle            atomic.Uint64
	avoidances      atomic.Uint64
	noDetections    atomic.Uint64
	captureFailures atomic.Uint64
	classifyFails   atomic.Uint64
	actuatorFails   atomic.Uint64
	sensorFails     atomic.Uint64
	sinkFails       atomic.Uint64

	mu         sync.Mutex
	detections map[string]uint64
	lastCycle  time.Time
	lastLabel  string
}

// NewLoopStats returns an empty LoopStats.
func NewLoopStats() *LoopStats {
	return &LoopStats{detections: make(map[string]uint64)}
}

// StatsSnapshot is a point-in-time copy of LoopStats.
type StatsSnapshot struct {
	Cycles          uint64            `json:"cycles"`
	Idle            uint64            `json:"idle"`
	Avoidances      uint64            `json:"avoidances"`
	NoDetections    uint64            `json:"no_detections"`
	CaptureFailures uint64            `json:"capture_failures"`
	ClassifyFailure uint64            `json:"classify_failures"`
	ActuatorFailure uint64            `json:"actuator_failures"`
	SensorFailures  uint64            `json:"sensor_failures"`
	SinkFailures    uint64            `json:"sink_failures"`
	Detections      map[string]uint64 `json:"detections"`
	LastCycle       time.Time         `json:"last_cycle"`
	LastLabel       string            `json:"last_label,omitempty"`
}

func (s *LoopStats) Cycle(at time.Time) {
	s.cycles.Add(1)
	s.mu.Lock()
	s.lastCycle = at
	s.mu.Unlock()
}

func (s *LoopStats) Idle()           { s.idle.Add(1) }
func (s *LoopStats) Avoided()        { s.avoidances.Add(1) }
func (s *LoopStats) NoDetection()    { s.noDetections.Add(1) }
func (s *LoopStats) CaptureFailed()  { s.captureFailures.Add(1) }
func (s *LoopStats) ClassifyFailed() { s.classifyFails.Add(1) }
func (s *LoopStats) ActuatorFailed() { s.actuatorFails.Add(1) }
func (s *LoopStats) SensorFailed()   { s.sensorFails.Add(1) }
func (s *LoopStats) SinkFailed()     { s.sinkFails.Add(1) }

// Detected counts a recorded detection under its label.
func (s *LoopStats) Detected(label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detections[label]++
	s.lastLabel = label
}

// Snapshot copies the current counters.
func (s *LoopStats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	detections := make(map[string]uint64, len(s.detections))
	for k, v := range s.detections {
		detections[k] = v
	}
	lastCycle, lastLabel := s.lastCycle, s.lastLabel
	s.mu.Unlock()

	return StatsSnapshot{
		Cycles:          s.cycles.Load(),
		Idle:            s.idle.Load(),
		Avoidances:      s.avoidances.Load(),
		NoDetections:    s.noDetections.Load(),
		CaptureFailures: s.captureFailures.Load(),
		ClassifyFailure: s.classifyFails.Load(),
		ActuatorFailure: s.actuatorFails.Load(),
		SensorFailures:  s.sensorFails.Load(),
		SinkFailures:    s.sinkFails.Load(),
		Detections:      detections,
		LastCycle:       lastCycle,
		LastLabel:       lastLabel,
	}
}
