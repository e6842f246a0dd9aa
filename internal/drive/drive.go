// Package drive turns patrol drive commands into wheel duty commands for the
// motor bridge.
package drive

import (
	"context"
	"fmt"
	"sync"

	"github.com/banshee-data/leafpatrol/internal/monitoring"
	"github.com/banshee-data/leafpatrol/internal/patrol"
	"github.com/banshee-data/leafpatrol/internal/timeutil"
)

// CommandSender writes a line to the bridge.
type CommandSender interface {
	SendCommand(string) error
}

// AuditFunc is called when a sent command changes the wheel duty. The first
// command after construction is always reported.
type AuditFunc func(cmd patrol.DriveCommand, line string)

// WheelDuty returns the signed left and right duty percentages for cmd.
func WheelDuty(cmd patrol.DriveCommand) (left, right int) {
	s := cmd.Speed
	switch cmd.Kind {
	case patrol.DriveForward:
		return s, s
	case patrol.DriveBackward:
		return -s, -s
	case patrol.DriveTurnLeft:
		return -s, s
	case patrol.DriveTurnRight:
		return s, -s
	}
	return 0, 0
}

// FormatCommand renders the bridge line for cmd.
func FormatCommand(cmd patrol.DriveCommand) string {
	l, r := WheelDuty(cmd)
	return fmt.Sprintf("M %d %d", l, r)
}

// SerialActuator implements patrol.Actuator over the serial bridge.
type SerialActuator struct {
	sender CommandSender
	clock  timeutil.Clock
	audit  AuditFunc

	mu          sync.Mutex
	left, right int
	sent        bool
}

// NewSerialActuator returns an actuator writing to sender.
func NewSerialActuator(sender CommandSender) *SerialActuator {
	return &SerialActuator{sender: sender, clock: timeutil.RealClock{}}
}

// SetClock replaces the clock used to time maneuvers.
func (a *SerialActuator) SetClock(c timeutil.Clock) {
	a.clock = c
}

// SetAudit registers a callback for duty changes. Repeated identical
// commands, such as the idle loop's Stop, are sent but reported once.
func (a *SerialActuator) SetAudit(fn AuditFunc) {
	a.audit = fn
}

// Execute sends cmd. Timed commands hold the duty for their duration and then
// stop the wheels; a failed stop is reported even if the maneuver succeeded.
func (a *SerialActuator) Execute(ctx context.Context, cmd patrol.DriveCommand) error {
	if err := a.send(cmd); err != nil {
		if cmd.Timed() {
			// never leave the wheels spinning after a partial maneuver
			if stopErr := a.send(patrol.Stop()); stopErr != nil {
				monitoring.Warnf("drive: stop after failed %s: %v", cmd, stopErr)
			}
		}
		return err
	}
	if !cmd.Timed() {
		return nil
	}
	a.clock.Sleep(cmd.Duration)
	return a.send(patrol.Stop())
}

func (a *SerialActuator) send(cmd patrol.DriveCommand) error {
	line := FormatCommand(cmd)
	if err := a.sender.SendCommand(line); err != nil {
		return fmt.Errorf("drive %s: %w", cmd, err)
	}
	l, r := WheelDuty(cmd)
	a.mu.Lock()
	changed := !a.sent || l != a.left || r != a.right
	a.left, a.right, a.sent = l, r, true
	a.mu.Unlock()
	if changed && a.audit != nil {
		a.audit(cmd, line)
	}
	return nil
}

// Wheels returns the last duty successfully sent.
func (a *SerialActuator) Wheels() (left, right int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.left, a.right
}
