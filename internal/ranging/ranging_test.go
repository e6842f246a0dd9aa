package ranging

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

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

// fakeBridge answers each PING with the next queued reply.
type fakeBridge struct {
	mu       sync.Mutex
	lines    chan string
	replies  []string
	sendErr  error
	commands []string
	unsubbed bool
}

func newFakeBridge(replies ...string) *fakeBridge {
	return &fakeBridge{lines: make(chan string), replies: replies}
}

func (b *fakeBridge) Subscribe() (string, chan string) { return "sub", b.lines }

func (b *fakeBridge) Unsubscribe(string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.unsubbed {
		b.unsubbed = true
		close(b.lines)
	}
}

func (b *fakeBridge) SendCommand(cmd string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.commands = append(b.commands, cmd)
	if b.sendErr != nil {
		return b.sendErr
	}
	if len(b.replies) == 0 {
		return nil
	}
	reply := b.replies[0]
	b.replies = b.replies[1:]
	go func() { b.lines <- reply }()
	return nil
}

func (b *fakeBridge) Commands() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.commands...)
}

func (b *fakeBridge) SetSendError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sendErr = err
}

func TestParseReply(t *testing.T) {
	tests := []struct {
		line    string
		want    float64
		wantErr bool
	}{
		{"D:42.5", 42.5, false},
		{"D: 17", 17, false},
		{"D:-1", -1, false},
		{"E:1166", 20.0, false},
		{"E:-1", -1, false},
		{"D:abc", 0, true},
		{"OK", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := ParseReply(tt.line)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrBadReply)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 0.01)
		})
	}
}

func TestSerialRangeSensor_Poll(t *testing.T) {
	bridge := newFakeBridge("D:35.0", "D:-1", "D:1.5", "D:900", "D:19.9")
	s := NewSerialRangeSensor(bridge, time.Second)
	defer s.Close()

	want := []patrol.DistanceSample{
		patrol.NewDistanceSample(35),
		patrol.NoReading,
		patrol.NoReading,
		patrol.NoReading,
		patrol.NewDistanceSample(19.9),
	}
	for i, w := range want {
		got, err := s.Poll(context.Background())
		require.NoError(t, err, "poll %d", i)
		assert.Equal(t, w, got, "poll %d", i)
	}
	assert.True(t, patrol.IsObstacle(s.Last()))
}

func TestSerialRangeSensor_IgnoresAcks(t *testing.T) {
	bridge := newFakeBridge("D:50")
	s := NewSerialRangeSensor(bridge, time.Second)
	defer s.Close()

	bridge.lines <- "OK"
	bridge.lines <- "ERR unknown command"

	got, err := s.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, patrol.NewDistanceSample(50), got)
}

func TestSerialRangeSensor_Timeout(t *testing.T) {
	bridge := newFakeBridge()
	s := NewSerialRangeSensor(bridge, 0)
	defer s.Close()
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	s.SetClock(clock)

	got, err := s.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, patrol.NoReading, got)
	assert.Equal(t, []time.Duration{DefaultTimeout}, clock.Waits())
	assert.Equal(t, []string{serialmux.CommandPing}, bridge.Commands())
}

func TestSerialRangeSensor_Errors(t *testing.T) {
	bridge := newFakeBridge("D:garbage")
	s := NewSerialRangeSensor(bridge, time.Second)
	defer s.Close()

	got, err := s.Poll(context.Background())
	assert.ErrorIs(t, err, ErrBadReply)
	assert.Equal(t, patrol.NoReading, got)

	bridge.SetSendError(errors.New("port gone"))
	_, err = s.Poll(context.Background())
	assert.ErrorContains(t, err, "port gone")
}

func TestSerialRangeSensor_ContextCancelled(t *testing.T) {
	s := NewSerialRangeSensor(newFakeBridge(), time.Hour)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Poll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSerialRangeSensor_WithSimulator(t *testing.T) {
	mux := serialmux.NewSimulatedSerialMux(120, 15, -1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mux.Monitor(ctx)
	defer mux.Close()

	s := NewSerialRangeSensor(mux, time.Second)
	defer s.Close()

	for _, want := range []patrol.DistanceSample{
		patrol.NewDistanceSample(120),
		patrol.NewDistanceSample(15),
		patrol.NoReading,
	} {
		got, err := s.Poll(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}
