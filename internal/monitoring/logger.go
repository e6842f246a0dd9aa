// Package monitoring holds the diagnostic logger and the counters the patrol
// loop publishes for the control panel.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Warnf logs through Logf with a warning prefix so degraded-but-handled
// collaborator failures stand out in the journal.
func Warnf(format string, v ...interface{}) {
	Logf("warning: "+format, v...)
}
