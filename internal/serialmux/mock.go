package serialmux

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"
)

var errPortClosed = errors.New("serial port closed")

// BridgeSimulator implements SerialPorter by emulating the motor and ranging
// bridge firmware. PING is answered with the next distance from a cycling
// list, M and T with OK, anything else with ERR.
type BridgeSimulator struct {
	mu        sync.Mutex
	distances []float64
	next      int
	left      int
	right     int
	commands  []string
	partial   bytes.Buffer
	pending   []byte
	out       chan []byte
	done      chan struct{}
	closed    bool
}

// NewBridgeSimulator returns a simulator that reports the given distances in
// turn. A negative distance is reported as a missing echo.
func NewBridgeSimulator(distances ...float64) *BridgeSimulator {
	if len(distances) == 0 {
		distances = []float64{150}
	}
	return &BridgeSimulator{
		distances: distances,
		out:       make(chan []byte, 64),
		done:      make(chan struct{}),
	}
}

// NewSimulatedSerialMux creates a SerialMux instance backed by a bridge
// simulator, for running without the robot attached.
func NewSimulatedSerialMux(distances ...float64) *SerialMux[*BridgeSimulator] {
	return NewSerialMux(NewBridgeSimulator(distances...))
}

// Read returns the next reply line, blocking until one is available.
func (b *BridgeSimulator) Read(p []byte) (int, error) {
	b.mu.Lock()
	if len(b.pending) > 0 {
		n := copy(p, b.pending)
		b.pending = b.pending[n:]
		b.mu.Unlock()
		return n, nil
	}
	b.mu.Unlock()

	select {
	case line := <-b.out:
		b.mu.Lock()
		defer b.mu.Unlock()
		n := copy(p, line)
		b.pending = append(b.pending, line[n:]...)
		return n, nil
	case <-b.done:
		return 0, io.EOF
	}
}

// Write accepts newline terminated commands and queues their replies.
func (b *BridgeSimulator) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, errPortClosed
	}
	b.partial.Write(p)
	for {
		data := b.partial.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		cmd := strings.TrimSpace(string(data[:idx]))
		b.partial.Next(idx + 1)
		if cmd == "" {
			continue
		}
		b.commands = append(b.commands, cmd)
		reply := b.handle(cmd)
		select {
		case b.out <- []byte(reply + "\n"):
		default:
			// reader not keeping up; the real bridge drops replies too
		}
	}
	return len(p), nil
}

func (b *BridgeSimulator) handle(cmd string) string {
	fields := strings.Fields(cmd)
	switch fields[0] {
	case CommandPing:
		d := b.distances[b.next%len(b.distances)]
		b.next++
		if d < 0 {
			return "D:-1"
		}
		return "D:" + strconv.FormatFloat(d, 'f', 1, 64)
	case "M":
		if len(fields) != 3 {
			return "ERR usage: M <left> <right>"
		}
		l, errL := strconv.Atoi(fields[1])
		r, errR := strconv.Atoi(fields[2])
		if errL != nil || errR != nil || l < -100 || l > 100 || r < -100 || r > 100 {
			return "ERR duty out of range"
		}
		b.left, b.right = l, r
		return "OK"
	case "T":
		if len(fields) != 2 {
			return "ERR usage: T <us>"
		}
		if _, err := strconv.Atoi(fields[1]); err != nil {
			return "ERR bad timeout"
		}
		return "OK"
	}
	return fmt.Sprintf("ERR unknown command %q", fields[0])
}

// Close stops the simulator; pending Reads return io.EOF.
func (b *BridgeSimulator) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.done)
	}
	return nil
}

// Wheels returns the last duty set with M.
func (b *BridgeSimulator) Wheels() (left, right int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.left, b.right
}

// Commands returns every command received so far.
func (b *BridgeSimulator) Commands() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.commands...)
}

// TestableSerialPort implements SerialPorter with configurable behaviour for testing.
// It provides fine-grained control over reads, writes, errors, and latency.
type TestableSerialPort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls
	ReadBuffer *bytes.Buffer

	// WriteBuffer captures data written to the port
	WriteBuffer *bytes.Buffer

	// ReadLatency adds a delay to each Read call
	ReadLatency time.Duration

	// WriteLatency adds a delay to each Write call
	WriteLatency time.Duration

	// ReadError is returned by the next Read call if set
	ReadError error

	// WriteError is returned by the next Write call if set
	WriteError error

	// CloseError is returned by Close if set
	CloseError error

	// Closed indicates whether Close was called
	Closed bool

	// ReadCalls records the number of Read calls
	ReadCalls int

	// WriteCalls records the number of Write calls
	WriteCalls int

	// ReadTimeout is the current read timeout
	ReadTimeout time.Duration

	// BlockReads causes Read to block until data is added or Close is called
	BlockReads bool

	// readCond is used to signal blocked readers
	readCond *sync.Cond
}

// NewTestableSerialPort creates a new TestableSerialPort for testing.
func NewTestableSerialPort() *TestableSerialPort {
	tsp := &TestableSerialPort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
	}
	tsp.readCond = sync.NewCond(&tsp.mu)
	return tsp
}

// Read reads from the read buffer, optionally simulating latency and errors.
func (t *TestableSerialPort) Read(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadCalls++

	if t.Closed {
		return 0, errPortClosed
	}

	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}

	if t.ReadLatency > 0 {
		t.mu.Unlock()
		time.Sleep(t.ReadLatency)
		t.mu.Lock()
	}

	// If blocking reads are enabled and buffer is empty, wait for data
	if t.BlockReads && t.ReadBuffer.Len() == 0 {
		for !t.Closed && t.ReadBuffer.Len() == 0 {
			t.readCond.Wait()
		}
		if t.Closed {
			return 0, errPortClosed
		}
	}

	return t.ReadBuffer.Read(p)
}

// Write writes to the write buffer, optionally simulating latency and errors.
func (t *TestableSerialPort) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.WriteCalls++

	if t.Closed {
		return 0, errPortClosed
	}

	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}

	if t.WriteLatency > 0 {
		t.mu.Unlock()
		time.Sleep(t.WriteLatency)
		t.mu.Lock()
	}

	return t.WriteBuffer.Write(p)
}

// Close marks the port as closed.
func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Closed = true
	t.readCond.Broadcast() // Wake up any blocked readers

	return t.CloseError
}

// SetReadTimeout implements TimeoutSerialPorter.
func (t *TestableSerialPort) SetReadTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadTimeout = timeout
	return nil
}

// AddReadData adds data to be returned by subsequent Read calls.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Write(data)
	t.readCond.Signal() // Wake up a blocked reader
}

// GetWrittenData returns all data written to the port.
func (t *TestableSerialPort) GetWrittenData() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.WriteBuffer.Bytes()
}

// Reset clears all buffers and resets state.
func (t *TestableSerialPort) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Reset()
	t.WriteBuffer.Reset()
	t.ReadCalls = 0
	t.WriteCalls = 0
	t.Closed = false
	t.ReadError = nil
	t.WriteError = nil
	t.CloseError = nil
	t.ReadLatency = 0
	t.WriteLatency = 0
}
