package drive

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/leafpatrol/internal/monitoring"
	"github.com/banshee-data/leafpatrol/internal/patrol"
	"github.com/banshee-data/leafpatrol/internal/serialmux"
	"github.com/banshee-data/leafpatrol/internal/timeutil"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

type recordingSender struct {
	mu    sync.Mutex
	lines []string
	errs  []error
}

func (s *recordingSender) SendCommand(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return err
	}
	return nil
}

func TestFormatCommand(t *testing.T) {
	tests := []struct {
		cmd  patrol.DriveCommand
		want string
	}{
		{patrol.Stop(), "M 0 0"},
		{patrol.Forward(60), "M 60 60"},
		{patrol.Backward(60, time.Second), "M -60 -60"},
		{patrol.TurnLeft(50, time.Second), "M -50 50"},
		{patrol.TurnRight(50, time.Second), "M 50 -50"},
		{patrol.Forward(250), "M 100 100"},
	}
	for _, tt := range tests {
		t.Run(tt.cmd.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, FormatCommand(tt.cmd))
		})
	}
}

func TestSerialActuator_Untimed(t *testing.T) {
	sender := &recordingSender{}
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	a := NewSerialActuator(sender)
	a.SetClock(clock)

	require.NoError(t, a.Execute(context.Background(), patrol.Forward(40)))
	assert.Equal(t, []string{"M 40 40"}, sender.lines)
	assert.Empty(t, clock.Sleeps())
	l, r := a.Wheels()
	assert.Equal(t, 40, l)
	assert.Equal(t, 40, r)
}

func TestSerialActuator_TimedEndsWithStop(t *testing.T) {
	sender := &recordingSender{}
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	a := NewSerialActuator(sender)
	a.SetClock(clock)

	var audited []string
	a.SetAudit(func(_ patrol.DriveCommand, line string) { audited = append(audited, line) })

	ctx := context.Background()
	require.NoError(t, a.Execute(ctx, patrol.Backward(60, 300*time.Millisecond)))
	require.NoError(t, a.Execute(ctx, patrol.TurnLeft(50, 400*time.Millisecond)))

	want := []string{"M -60 -60", "M 0 0", "M -50 50", "M 0 0"}
	if diff := cmp.Diff(want, sender.lines); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, want, audited)
	assert.Equal(t, []time.Duration{300 * time.Millisecond, 400 * time.Millisecond}, clock.Sleeps())
	l, r := a.Wheels()
	assert.Zero(t, l)
	assert.Zero(t, r)
}

func TestSerialActuator_AuditsDutyChangesOnly(t *testing.T) {
	sender := &recordingSender{}
	a := NewSerialActuator(sender)
	a.SetClock(timeutil.NewMockClock(time.Unix(0, 0)))

	var audited []string
	a.SetAudit(func(_ patrol.DriveCommand, line string) { audited = append(audited, line) })

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, a.Execute(ctx, patrol.Stop()))
	}
	assert.Len(t, sender.lines, 10, "every stop still reaches the bridge")
	assert.Equal(t, []string{"M 0 0"}, audited)

	require.NoError(t, a.Execute(ctx, patrol.Forward(60)))
	require.NoError(t, a.Execute(ctx, patrol.Forward(60)))
	require.NoError(t, a.Execute(ctx, patrol.Stop()))
	assert.Equal(t, []string{"M 0 0", "M 60 60", "M 0 0"}, audited)
}

func TestSerialActuator_FailedSendNotAudited(t *testing.T) {
	sender := &recordingSender{errs: []error{errors.New("port gone")}}
	a := NewSerialActuator(sender)

	var audited []string
	a.SetAudit(func(_ patrol.DriveCommand, line string) { audited = append(audited, line) })

	assert.Error(t, a.Execute(context.Background(), patrol.Forward(60)))
	assert.Empty(t, audited)
	require.NoError(t, a.Execute(context.Background(), patrol.Forward(60)))
	assert.Equal(t, []string{"M 60 60"}, audited)
}

func TestSerialActuator_FailedManeuverStillStops(t *testing.T) {
	sender := &recordingSender{errs: []error{errors.New("write failed")}}
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	a := NewSerialActuator(sender)
	a.SetClock(clock)

	err := a.Execute(context.Background(), patrol.TurnRight(50, time.Second))
	assert.ErrorContains(t, err, "write failed")
	assert.Equal(t, []string{"M 50 -50", "M 0 0"}, sender.lines)
	assert.Empty(t, clock.Sleeps(), "no sleep after a failed start")
}

func TestSerialActuator_StopFailureReported(t *testing.T) {
	sender := &recordingSender{errs: []error{nil, errors.New("stop lost")}}
	a := NewSerialActuator(sender)
	a.SetClock(timeutil.NewMockClock(time.Unix(0, 0)))

	err := a.Execute(context.Background(), patrol.Backward(60, time.Second))
	assert.ErrorContains(t, err, "stop lost")
}

func TestSerialActuator_DrivesSimulator(t *testing.T) {
	sim := serialmux.NewBridgeSimulator()
	mux := serialmux.NewSerialMux(sim)
	defer mux.Close()

	a := NewSerialActuator(mux)
	a.SetClock(timeutil.NewMockClock(time.Unix(0, 0)))

	require.NoError(t, a.Execute(context.Background(), patrol.Forward(70)))
	l, r := sim.Wheels()
	assert.Equal(t, 70, l)
	assert.Equal(t, 70, r)

	require.NoError(t, a.Execute(context.Background(), patrol.TurnLeft(30, time.Second)))
	l, r = sim.Wheels()
	assert.Zero(t, l)
	assert.Zero(t, r)
	assert.Equal(t, []string{"M 70 70", "M -30 30", "M 0 0"}, sim.Commands())
}
