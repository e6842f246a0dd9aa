package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/leafpatrol/internal/serialmux"
)

// BridgeFactory opens a mux for the bridge at path. It is injected so tests
// and dev mode can supply simulated bridges.
type BridgeFactory func(path string, opts serialmux.PortOptions) (serialmux.SerialMuxInterface, error)

// BridgeSnapshot describes the serial settings of the active bridge mux.
type BridgeSnapshot struct {
	PortPath string                `json:"port_path"`
	Source   string                `json:"source"`
	Options  serialmux.PortOptions `json:"options"`
}

// BridgeReloadRequest is the body of POST /api/bridge/reload. An empty
// PortPath keeps the current port.
type BridgeReloadRequest struct {
	PortPath string                `json:"port_path"`
	Options  serialmux.PortOptions `json:"options"`
}

// BridgeReloadResult is returned to API clients when a reload is processed.
type BridgeReloadResult struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Config  *BridgeSnapshot `json:"config,omitempty"`
}

var (
	ErrBridgeClosed      = errors.New("bridge manager is closed")
	ErrBridgeUnavailable = errors.New("bridge mux unavailable")
)

// BridgeManager wraps the bridge mux so the serial port can be reopened
// (cable replugged, baud changed) without restarting the robot. It implements
// serialmux.SerialMuxInterface itself, so the range sensor, the actuator and
// the debug routes keep working across a reload.
//
// Subscribers receive channels owned by the manager, not by the mux. A
// fanout goroutine subscribes to whichever mux is current and forwards every
// line; when a reload closes the old mux's channel it resubscribes to the
// new one.
type BridgeManager struct {
	mu       sync.RWMutex
	current  serialmux.SerialMuxInterface
	snapshot BridgeSnapshot
	closed   bool

	factory  BridgeFactory
	reloadMu sync.Mutex

	done        chan struct{}
	fanoutMu    sync.RWMutex
	subscribers map[string]chan string
}

var _ serialmux.SerialMuxInterface = (*BridgeManager)(nil)

// NewBridgeManager starts the fanout goroutine; it runs until Close.
func NewBridgeManager(initial serialmux.SerialMuxInterface, snapshot BridgeSnapshot, factory BridgeFactory) *BridgeManager {
	m := &BridgeManager{
		current:     initial,
		snapshot:    snapshot,
		factory:     factory,
		done:        make(chan struct{}),
		subscribers: make(map[string]chan string),
	}
	go m.runFanout()
	return m
}

// CurrentMux returns the mux currently in use. It is nil mid-reload.
func (m *BridgeManager) CurrentMux() serialmux.SerialMuxInterface {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Snapshot returns a copy of the active settings.
func (m *BridgeManager) Snapshot() BridgeSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

func (m *BridgeManager) runFanout() {
	var (
		subID string
		subCh chan string
		owner serialmux.SerialMuxInterface
	)

	defer func() {
		if subID != "" && owner != nil {
			owner.Unsubscribe(subID)
		}
		m.fanoutMu.Lock()
		for id, ch := range m.subscribers {
			close(ch)
			delete(m.subscribers, id)
		}
		m.fanoutMu.Unlock()
	}()

	for {
		if subID == "" {
			mux := m.CurrentMux()
			if mux != nil {
				subID, subCh = mux.Subscribe()
				owner = mux
			}
			if subID == "" {
				select {
				case <-m.done:
					return
				case <-time.After(250 * time.Millisecond):
				}
				continue
			}
		}

		select {
		case <-m.done:
			return

		case line, ok := <-subCh:
			if !ok {
				// the mux was closed by a reload; pick up its replacement
				subID, subCh, owner = "", nil, nil
				continue
			}

			m.fanoutMu.RLock()
			for _, ch := range m.subscribers {
				select {
				case ch <- line:
				default:
					log.Printf("bridge fanout: subscriber channel full, dropping line %q", line)
				}
			}
			m.fanoutMu.RUnlock()
		}
	}
}

// Subscribe returns a channel that stays valid across reloads. After Close it
// returns an empty ID and a closed channel.
func (m *BridgeManager) Subscribe() (string, chan string) {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()

	if closed {
		ch := make(chan string)
		close(ch)
		return "", ch
	}

	id := uuid.NewString()
	ch := make(chan string, serialmux.SubscriberBuffer)

	m.fanoutMu.Lock()
	m.subscribers[id] = ch
	m.fanoutMu.Unlock()

	return id, ch
}

// Unsubscribe closes and forgets the subscriber channel.
func (m *BridgeManager) Unsubscribe(id string) {
	m.fanoutMu.Lock()
	defer m.fanoutMu.Unlock()

	if ch, ok := m.subscribers[id]; ok {
		close(ch)
		delete(m.subscribers, id)
	}
}

func (m *BridgeManager) active() (serialmux.SerialMuxInterface, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrBridgeClosed
	}
	if m.current == nil {
		return nil, ErrBridgeUnavailable
	}
	return m.current, nil
}

// SendCommand delegates to the current mux.
func (m *BridgeManager) SendCommand(command string) error {
	mux, err := m.active()
	if err != nil {
		return err
	}
	return mux.SendCommand(command)
}

// Initialise delegates to the current mux.
func (m *BridgeManager) Initialise() error {
	mux, err := m.active()
	if err != nil {
		return err
	}
	return mux.Initialise()
}

// Monitor runs the current mux's Monitor and re-attaches to the replacement
// when a reload makes it return.
func (m *BridgeManager) Monitor(ctx context.Context) error {
	for {
		mux := m.CurrentMux()
		if mux == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(250 * time.Millisecond):
				continue
			}
		}

		err := mux.Monitor(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		pause := 100 * time.Millisecond
		if err != nil {
			log.Printf("bridge monitor terminated with error: %v", err)
			pause = 500 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pause):
		}
	}
}

// Close closes the active mux and shuts the fanout down. Subscriber channels
// are closed.
func (m *BridgeManager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	var err error
	if m.current != nil {
		err = m.current.Close()
	}
	m.current = nil
	m.mu.Unlock()

	close(m.done)
	return err
}

// AttachAdminRoutes mounts the bridge debug pages so they go through the
// manager.
func (m *BridgeManager) AttachAdminRoutes(mux *http.ServeMux) {
	serialmux.AttachAdminRoutesForMux(mux, m)
}

// Reload reopens the bridge with new settings. The old port is closed before
// the new one is opened since a serial device cannot be held twice.
func (m *BridgeManager) Reload(ctx context.Context, req BridgeReloadRequest) (*BridgeReloadResult, error) {
	if m.factory == nil {
		return nil, errors.New("bridge factory not configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	current := m.Snapshot()
	path := req.PortPath
	if path == "" {
		path = current.PortPath
	}
	if path == "" {
		return nil, errors.New("no port path given and none active")
	}

	opts, err := req.Options.Normalise()
	if err != nil {
		return nil, fmt.Errorf("invalid serial options: %w", err)
	}

	if current.PortPath == path {
		if same, err := current.Options.Equal(opts); err == nil && same && m.CurrentMux() != nil {
			snap := current
			return &BridgeReloadResult{
				Success: true,
				Message: fmt.Sprintf("Bridge on %s already active", path),
				Config:  &snap,
			}, nil
		}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrBridgeClosed
	}
	old := m.current
	m.current = nil
	m.mu.Unlock()

	if old != nil {
		log.Printf("Closing bridge on %s before reload", current.PortPath)
		if err := old.Close(); err != nil {
			log.Printf("warning: failed to close previous bridge mux: %v", err)
		}
	}

	next, err := m.factory(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open bridge on %s: %w", path, err)
	}
	if err := next.Initialise(); err != nil {
		next.Close()
		return nil, fmt.Errorf("failed to initialise bridge: %w", err)
	}

	snap := BridgeSnapshot{PortPath: path, Source: "api", Options: opts}
	m.mu.Lock()
	m.current = next
	m.snapshot = snap
	m.mu.Unlock()

	return &BridgeReloadResult{
		Success: true,
		Message: fmt.Sprintf("Reloaded bridge on %s", path),
		Config:  &snap,
	}, nil
}
