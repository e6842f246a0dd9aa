package patrol

import (
	"fmt"
	"math"
	"time"
)

// Distance limits in centimetres. Readings outside (MinValidDistanceCM,
// MaxValidDistanceCM] carry no information about obstacles.
const (
	MinValidDistanceCM = 2.0
	MaxValidDistanceCM = 400.0

	// ObstacleDistanceCM is the veto distance. There is no hysteresis.
	ObstacleDistanceCM = 20.0
)

// DistanceSample is one range sensor poll. The zero value is NoReading.
type DistanceSample struct {
	CM    float64
	Valid bool
}

// NoReading means "no obstacle known", not "no obstacle present".
var NoReading = DistanceSample{}

// NewDistanceSample normalises a raw measurement, mapping anything outside
// the valid range to NoReading.
func NewDistanceSample(cm float64) DistanceSample {
	if math.IsNaN(cm) || math.IsInf(cm, 0) || cm <= MinValidDistanceCM || cm > MaxValidDistanceCM {
		return NoReading
	}
	return DistanceSample{CM: cm, Valid: true}
}

func (d DistanceSample) String() string {
	if !d.Valid {
		return "no-reading"
	}
	return fmt.Sprintf("%.1fcm", d.CM)
}

// IsObstacle reports whether d vetoes forward motion.
func IsObstacle(d DistanceSample) bool {
	return d.Valid && d.CM < ObstacleDistanceCM
}

// Raw classifier class indices.
const (
	ClassDiseased = 0
	ClassHealthy  = 1
)

// ClassificationResult is the classifier's raw verdict for one frame.
type ClassificationResult struct {
	ClassIndex int     `json:"class_index"`
	Confidence float64 `json:"confidence"`
}

// SemanticLabel is the gated interpretation of a ClassificationResult.
type SemanticLabel string

const (
	LabelNotLeaf  SemanticLabel = "NOT_LEAF"
	LabelUnsure   SemanticLabel = "UNSURE"
	LabelHealthy  SemanticLabel = "HEALTHY"
	LabelDiseased SemanticLabel = "DISEASED"
)

// IsDetection reports whether the label produces a detection event.
func (l SemanticLabel) IsDetection() bool {
	return l == LabelHealthy || l == LabelDiseased
}

// ParseLabel converts a stored label back into a SemanticLabel.
func ParseLabel(s string) (SemanticLabel, error) {
	switch l := SemanticLabel(s); l {
	case LabelNotLeaf, LabelUnsure, LabelHealthy, LabelDiseased:
		return l, nil
	}
	return "", fmt.Errorf("unknown label %q", s)
}

// DriveKind enumerates the drive commands the actuator understands.
type DriveKind int

const (
	DriveStop DriveKind = iota
	DriveForward
	DriveBackward
	DriveTurnLeft
	DriveTurnRight
)

func (k DriveKind) String() string {
	switch k {
	case DriveStop:
		return "stop"
	case DriveForward:
		return "forward"
	case DriveBackward:
		return "backward"
	case DriveTurnLeft:
		return "turn-left"
	case DriveTurnRight:
		return "turn-right"
	default:
		return fmt.Sprintf("drive(%d)", int(k))
	}
}

// DriveCommand is an immutable actuation request. Speed is a duty
// percentage in [0,100]; Duration is only meaningful for timed maneuvers.
type DriveCommand struct {
	Kind     DriveKind
	Speed    int
	Duration time.Duration
}

func clampSpeed(speed int) int {
	switch {
	case speed < 0:
		return 0
	case speed > 100:
		return 100
	}
	return speed
}

// Forward drives straight ahead until the next command.
func Forward(speed int) DriveCommand {
	return DriveCommand{Kind: DriveForward, Speed: clampSpeed(speed)}
}

// Backward reverses for d and then stops.
func Backward(speed int, d time.Duration) DriveCommand {
	return DriveCommand{Kind: DriveBackward, Speed: clampSpeed(speed), Duration: d}
}

// TurnLeft spins left for d and then stops.
func TurnLeft(speed int, d time.Duration) DriveCommand {
	return DriveCommand{Kind: DriveTurnLeft, Speed: clampSpeed(speed), Duration: d}
}

// TurnRight spins right for d and then stops.
func TurnRight(speed int, d time.Duration) DriveCommand {
	return DriveCommand{Kind: DriveTurnRight, Speed: clampSpeed(speed), Duration: d}
}

// Stop halts both wheels.
func Stop() DriveCommand {
	return DriveCommand{Kind: DriveStop}
}

// Timed reports whether executing the command blocks for its Duration.
func (c DriveCommand) Timed() bool {
	switch c.Kind {
	case DriveBackward, DriveTurnLeft, DriveTurnRight:
		return true
	}
	return false
}

func (c DriveCommand) String() string {
	switch {
	case c.Kind == DriveStop:
		return "stop"
	case c.Timed():
		return fmt.Sprintf("%s(%d%%, %s)", c.Kind, c.Speed, c.Duration)
	default:
		return fmt.Sprintf("%s(%d%%)", c.Kind, c.Speed)
	}
}

// Frame is one encoded camera image.
type Frame struct {
	Data        []byte
	ContentType string
	CapturedAt  time.Time
}

// Detection is handed to the EventSink for HEALTHY and DISEASED verdicts.
type Detection struct {
	Timestamp time.Time
	Label     SemanticLabel
	Result    ClassificationResult
	Frame     Frame
}
