package serialmux

import "testing"

func TestClassifyLine(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"D:42.5", LineTypeDistance},
		{"D:-1", LineTypeDistance},
		{"  D:10\r", LineTypeDistance},
		{"E:1200", LineTypeEcho},
		{"OK", LineTypeAck},
		{"ERR duty out of range", LineTypeError},
		{"", LineTypeUnknown},
		{"hello", LineTypeUnknown},
		{"OKAY", LineTypeUnknown},
	}
	for _, tt := range tests {
		if got := ClassifyLine(tt.line); got != tt.want {
			t.Errorf("ClassifyLine(%q) = %q, want %q", tt.line, got, tt.want)
		}
	}
}
