package serialmux

import "strings"

// Line types emitted by the motor and ranging bridge.
const (
	LineTypeDistance = "distance" // D:<cm> or D:-1 when no echo returned
	LineTypeEcho     = "echo"     // E:<us> raw echo pulse width
	LineTypeAck      = "ack"      // OK
	LineTypeError    = "error"    // ERR <message>
	LineTypeUnknown  = "unknown"
)

// ClassifyLine inspects a line from the bridge and returns its type token.
func ClassifyLine(line string) string {
	line = strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(line, "D:"):
		return LineTypeDistance
	case strings.HasPrefix(line, "E:"):
		return LineTypeEcho
	case line == "OK":
		return LineTypeAck
	case strings.HasPrefix(line, "ERR"):
		return LineTypeError
	}
	return LineTypeUnknown
}
