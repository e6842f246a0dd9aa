package patrol

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDistanceSample(t *testing.T) {
	tests := []struct {
		name  string
		cm    float64
		valid bool
	}{
		{"typical", 100, true},
		{"just above minimum", 2.01, true},
		{"minimum is excluded", 2, false},
		{"below minimum", 1.5, false},
		{"maximum is included", 400, true},
		{"above maximum", 400.5, false},
		{"timeout sentinel", 999, false},
		{"negative", -1, false},
		{"nan", math.NaN(), false},
		{"inf", math.Inf(1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDistanceSample(tt.cm)
			assert.Equal(t, tt.valid, d.Valid)
			if !tt.valid {
				assert.Equal(t, NoReading, d)
			}
		})
	}
}

func TestIsObstacle(t *testing.T) {
	assert.False(t, IsObstacle(NoReading))
	assert.True(t, IsObstacle(NewDistanceSample(19.99)))
	assert.False(t, IsObstacle(NewDistanceSample(20.0)))
	assert.True(t, IsObstacle(NewDistanceSample(15)))
	assert.False(t, IsObstacle(NewDistanceSample(100)))
	// Too close to measure is normalised away, not treated as an obstacle.
	assert.False(t, IsObstacle(NewDistanceSample(1)))
}

func TestDistanceSample_String(t *testing.T) {
	assert.Equal(t, "no-reading", NoReading.String())
	assert.Equal(t, "15.0cm", NewDistanceSample(15).String())
}

func TestDriveCommand_Constructors(t *testing.T) {
	assert.Equal(t, DriveCommand{Kind: DriveForward, Speed: 60}, Forward(60))
	assert.Equal(t, DriveCommand{Kind: DriveStop}, Stop())
	assert.Equal(t, 100, Forward(150).Speed)
	assert.Equal(t, 0, Backward(-5, time.Second).Speed)

	back := Backward(60, 300*time.Millisecond)
	assert.True(t, back.Timed())
	assert.Equal(t, 300*time.Millisecond, back.Duration)

	assert.True(t, TurnLeft(50, time.Second).Timed())
	assert.True(t, TurnRight(50, time.Second).Timed())
	assert.False(t, Forward(60).Timed())
	assert.False(t, Stop().Timed())
}

func TestDriveCommand_String(t *testing.T) {
	assert.Equal(t, "stop", Stop().String())
	assert.Equal(t, "forward(60%)", Forward(60).String())
	assert.Equal(t, "turn-left(50%, 400ms)", TurnLeft(50, 400*time.Millisecond).String())
	assert.Equal(t, "drive(42)", DriveKind(42).String())
}

func TestParseLabel(t *testing.T) {
	for _, l := range []SemanticLabel{LabelNotLeaf, LabelUnsure, LabelHealthy, LabelDiseased} {
		got, err := ParseLabel(string(l))
		require.NoError(t, err)
		assert.Equal(t, l, got)
	}
	_, err := ParseLabel("MAYBE")
	assert.Error(t, err)
}

func TestSemanticLabel_IsDetection(t *testing.T) {
	assert.True(t, LabelHealthy.IsDetection())
	assert.True(t, LabelDiseased.IsDetection())
	assert.False(t, LabelNotLeaf.IsDetection())
	assert.False(t, LabelUnsure.IsDetection())
}
