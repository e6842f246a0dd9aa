package patrol

import "sync/atomic"

// RunFlag is the operator's run/stop command. Writes are last-write-wins and
// immediately visible to readers; there is no queue of pending commands.
type RunFlag struct {
	running atomic.Bool
	changes atomic.Uint64
	wake    chan struct{}
}

// NewRunFlag returns a stopped RunFlag.
func NewRunFlag() *RunFlag {
	return &RunFlag{wake: make(chan struct{}, 1)}
}

// Set stores v and wakes any loop wait. Safe to call from any goroutine.
func (f *RunFlag) Set(v bool) {
	if f.running.Swap(v) != v {
		f.changes.Add(1)
	}
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// Running returns the latest value written by Set.
func (f *RunFlag) Running() bool {
	return f.running.Load()
}

// Changes returns the number of transitions observed by Set.
func (f *RunFlag) Changes() uint64 {
	return f.changes.Load()
}

// Wake returns the single-slot channel signalled on every Set. A receive
// only means "re-read Running", never a particular value.
func (f *RunFlag) Wake() <-chan struct{} {
	return f.wake
}
