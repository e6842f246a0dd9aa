package patrol

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/banshee-data/leafpatrol/internal/monitoring"
	"github.com/banshee-data/leafpatrol/internal/timeutil"
)

// LoopConfig holds the speeds and intervals used by the decision loop.
type LoopConfig struct {
	Gate Gate

	CruiseSpeed     int
	ReverseSpeed    int
	ReverseDuration time.Duration
	TurnSpeed       int
	TurnDuration    time.Duration

	// IdleInterval is the poll period while the robot is stopped.
	IdleInterval time.Duration
	// DebounceInterval is the pause after a detection so one leaf is not
	// logged over several consecutive cycles.
	DebounceInterval time.Duration
}

// DefaultLoopConfig returns the stock tuning.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		Gate:             DefaultGate(),
		CruiseSpeed:      60,
		ReverseSpeed:     60,
		ReverseDuration:  300 * time.Millisecond,
		TurnSpeed:        50,
		TurnDuration:     400 * time.Millisecond,
		IdleInterval:     200 * time.Millisecond,
		DebounceInterval: time.Second,
	}
}

// Hardware bundles the collaborators a DecisionLoop owns.
type Hardware struct {
	Sensor     RangeSensor
	Camera     Camera
	Classifier Classifier
	Actuator   Actuator
	Sink       EventSink
}

func (h Hardware) validate() error {
	var errs []error
	if h.Sensor == nil {
		errs = append(errs, errors.New("range sensor is required"))
	}
	if h.Camera == nil {
		errs = append(errs, errors.New("camera is required"))
	}
	if h.Classifier == nil {
		errs = append(errs, errors.New("classifier is required"))
	}
	if h.Actuator == nil {
		errs = append(errs, errors.New("actuator is required"))
	}
	if h.Sink == nil {
		errs = append(errs, errors.New("event sink is required"))
	}
	return errors.Join(errs...)
}

// CycleOutcome describes how a single Step ended.
type CycleOutcome int

const (
	CycleIdle CycleOutcome = iota
	CycleAvoided
	CycleCaptureFailed
	CycleClassifyFailed
	CycleNoDetection
	CycleDetected
)

func (o CycleOutcome) String() string {
	switch o {
	case CycleIdle:
		return "idle"
	case CycleAvoided:
		return "avoided"
	case CycleCaptureFailed:
		return "capture-failed"
	case CycleClassifyFailed:
		return "classify-failed"
	case CycleNoDetection:
		return "no-detection"
	case CycleDetected:
		return "detected"
	}
	return "unknown"
}

// DecisionLoop fuses the run flag, range sensor and classifier into one
// actuation decision per cycle.
type DecisionLoop struct {
	cfg   LoopConfig
	run   *RunFlag
	hw    Hardware
	clock timeutil.Clock
	stats *monitoring.LoopStats

	mu      sync.Mutex
	current DriveCommand
}

// NewDecisionLoop wires a loop to its run flag and hardware.
func NewDecisionLoop(cfg LoopConfig, run *RunFlag, hw Hardware) (*DecisionLoop, error) {
	if run == nil {
		return nil, errors.New("run flag is required")
	}
	if err := hw.validate(); err != nil {
		return nil, err
	}
	if !cfg.Gate.UnsureReachable() {
		monitoring.Logf("gate: confidence threshold %.2f <= leaf threshold %.2f, UNSURE is unreachable",
			cfg.Gate.ConfidenceThreshold, cfg.Gate.LeafThreshold)
	}
	return &DecisionLoop{
		cfg:     cfg,
		run:     run,
		hw:      hw,
		clock:   timeutil.RealClock{},
		stats:   monitoring.NewLoopStats(),
		current: Stop(),
	}, nil
}

// SetClock replaces the clock used for waits and timestamps.
func (l *DecisionLoop) SetClock(c timeutil.Clock) {
	l.clock = c
}

// Stats returns the loop's counters.
func (l *DecisionLoop) Stats() *monitoring.LoopStats {
	return l.stats
}

// Current returns the last drive command issued.
func (l *DecisionLoop) Current() DriveCommand {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Run steps the loop until ctx is cancelled, then stops the wheels.
func (l *DecisionLoop) Run(ctx context.Context) error {
	monitoring.Logf("patrol loop active, waiting for start command")
	for {
		select {
		case <-ctx.Done():
			l.issue(context.WithoutCancel(ctx), Stop())
			monitoring.Logf("patrol loop stopped")
			return ctx.Err()
		default:
		}
		l.Step(ctx)
	}
}

// Step runs exactly one cycle: command check, obstacle check, then either
// the avoidance maneuver or perception and gating.
func (l *DecisionLoop) Step(ctx context.Context) CycleOutcome {
	l.stats.Cycle(l.clock.Now())

	if !l.run.Running() {
		l.issue(ctx, Stop())
		l.stats.Idle()
		l.wait(ctx, l.cfg.IdleInterval, true)
		return CycleIdle
	}

	distance := l.poll(ctx)
	if IsObstacle(distance) {
		monitoring.Logf("obstacle at %s, avoiding", distance)
		l.avoid(ctx)
		l.stats.Avoided()
		return CycleAvoided
	}

	l.issue(ctx, Forward(l.cfg.CruiseSpeed))

	frame, err := l.hw.Camera.Capture(ctx)
	if err != nil {
		monitoring.Warnf("capture failed: %v", err)
		l.stats.CaptureFailed()
		return CycleCaptureFailed
	}

	result, err := l.hw.Classifier.Classify(ctx, frame)
	if err != nil {
		monitoring.Warnf("classify failed: %v", err)
		l.stats.ClassifyFailed()
		return CycleClassifyFailed
	}

	label := l.cfg.Gate.Label(result)
	if !label.IsDetection() {
		l.stats.NoDetection()
		return CycleNoDetection
	}

	l.issue(ctx, Stop())
	monitoring.Logf("leaf detected: %s (class=%d conf=%.3f)", label, result.ClassIndex, result.Confidence)

	d := Detection{
		Timestamp: l.clock.Now(),
		Label:     label,
		Result:    result,
		Frame:     frame,
	}
	if err := l.hw.Sink.Record(ctx, d); err != nil {
		monitoring.Warnf("detection not recorded: %v", err)
		l.stats.SinkFailed()
	} else {
		l.stats.Detected(string(label))
	}

	l.wait(ctx, l.cfg.DebounceInterval, false)
	return CycleDetected
}

// poll reads the range sensor, failing open to NoReading.
func (l *DecisionLoop) poll(ctx context.Context) DistanceSample {
	d, err := l.hw.Sensor.Poll(ctx)
	if err != nil {
		monitoring.Warnf("range sensor: %v", err)
		l.stats.SensorFailed()
		return NoReading
	}
	return d
}

// avoid runs the fixed stop, reverse, turn sequence. Run flag changes are
// not observed until it completes.
func (l *DecisionLoop) avoid(ctx context.Context) {
	l.issue(ctx, Stop())
	l.issue(ctx, Backward(l.cfg.ReverseSpeed, l.cfg.ReverseDuration))
	l.issue(ctx, TurnLeft(l.cfg.TurnSpeed, l.cfg.TurnDuration))
}

func (l *DecisionLoop) issue(ctx context.Context, cmd DriveCommand) {
	l.mu.Lock()
	l.current = cmd
	l.mu.Unlock()

	if err := l.hw.Actuator.Execute(ctx, cmd); err != nil {
		monitoring.Warnf("actuator %s: %v", cmd, err)
		l.stats.ActuatorFailed()
	}

	// Timed maneuvers end with the wheels stopped.
	if cmd.Timed() {
		l.mu.Lock()
		l.current = Stop()
		l.mu.Unlock()
	}
}

// wait blocks for d. A run flag change ends the wait early when it means the
// loop has something new to do: a start while idle, a stop while pausing.
func (l *DecisionLoop) wait(ctx context.Context, d time.Duration, idle bool) {
	timer := l.clock.After(d)
	for {
		select {
		case <-timer:
			return
		case <-ctx.Done():
			return
		case <-l.run.Wake():
			if l.run.Running() == idle {
				return
			}
		}
	}
}
