package patrol

import "context"

// RangeSensor produces one distance reading per poll. Implementations bound
// the poll with their own timeout and return NoReading instead of blocking.
type RangeSensor interface {
	Poll(ctx context.Context) (DistanceSample, error)
}

// Camera captures a single frame.
type Camera interface {
	Capture(ctx context.Context) (Frame, error)
}

// Classifier maps a frame to a raw verdict.
type Classifier interface {
	Classify(ctx context.Context, f Frame) (ClassificationResult, error)
}

// Actuator executes drive commands. Timed commands block until the maneuver
// has finished and the wheels are stopped again.
type Actuator interface {
	Execute(ctx context.Context, cmd DriveCommand) error
}

// EventSink durably records a detection. The frame must be persisted before
// the record that references it.
type EventSink interface {
	Record(ctx context.Context, d Detection) error
}
