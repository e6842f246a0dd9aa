package serialmux

import (
	"testing"

	"go.bug.st/serial"
)

func TestPortOptions_Normalise_Defaults(t *testing.T) {
	got, err := PortOptions{}.Normalise()
	if err != nil {
		t.Fatalf("Normalise() error = %v", err)
	}
	if got.BaudRate != DefaultBaudRate {
		t.Errorf("BaudRate = %d, want %d", got.BaudRate, DefaultBaudRate)
	}
	if got.DataBits != 8 {
		t.Errorf("DataBits = %d, want 8", got.DataBits)
	}
	if got.StopBits != 1 {
		t.Errorf("StopBits = %d, want 1", got.StopBits)
	}
	if got.Parity != "N" {
		t.Errorf("Parity = %q, want %q", got.Parity, "N")
	}
}

func TestPortOptions_Normalise_ExplicitValues(t *testing.T) {
	got, err := PortOptions{BaudRate: 9600, DataBits: 7, StopBits: 2, Parity: "even"}.Normalise()
	if err != nil {
		t.Fatalf("Normalise() error = %v", err)
	}
	want := PortOptions{BaudRate: 9600, DataBits: 7, StopBits: 2, Parity: "E"}
	if got != want {
		t.Errorf("Normalise() = %+v, want %+v", got, want)
	}
}

func TestPortOptions_Normalise_NegativeBaudRate(t *testing.T) {
	got, err := PortOptions{BaudRate: -5}.Normalise()
	if err != nil {
		t.Fatalf("Normalise() error = %v", err)
	}
	if got.BaudRate != DefaultBaudRate {
		t.Errorf("negative baud rate should default to %d, got %d", DefaultBaudRate, got.BaudRate)
	}
}

func TestPortOptions_Normalise_Invalid(t *testing.T) {
	tests := []struct {
		name string
		opts PortOptions
	}{
		{"odd baud", PortOptions{BaudRate: 12345}},
		{"data bits low", PortOptions{DataBits: 4}},
		{"data bits high", PortOptions{DataBits: 9}},
		{"stop bits", PortOptions{StopBits: 3}},
		{"parity", PortOptions{Parity: "mark"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.opts.Normalise(); err == nil {
				t.Errorf("Normalise(%+v) expected error", tt.opts)
			}
		})
	}
}

func TestPortOptions_Equal(t *testing.T) {
	eq, err := PortOptions{}.Equal(PortOptions{BaudRate: DefaultBaudRate, Parity: "none"})
	if err != nil {
		t.Fatalf("Equal() error = %v", err)
	}
	if !eq {
		t.Error("defaulted options should equal their explicit form")
	}

	eq, err = PortOptions{}.Equal(PortOptions{BaudRate: 9600})
	if err != nil {
		t.Fatalf("Equal() error = %v", err)
	}
	if eq {
		t.Error("different baud rates should not be equal")
	}

	if _, err := (PortOptions{}).Equal(PortOptions{DataBits: 12}); err == nil {
		t.Error("Equal() should surface normalisation errors")
	}
}

func TestPortOptions_SerialMode(t *testing.T) {
	tests := []struct {
		name       string
		opts       PortOptions
		wantStop   serial.StopBits
		wantParity serial.Parity
	}{
		{"defaults", PortOptions{}, serial.OneStopBit, serial.NoParity},
		{"two stop even", PortOptions{StopBits: 2, Parity: "E"}, serial.TwoStopBits, serial.EvenParity},
		{"odd", PortOptions{Parity: "O"}, serial.OneStopBit, serial.OddParity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mode, err := tt.opts.SerialMode()
			if err != nil {
				t.Fatalf("SerialMode() error = %v", err)
			}
			if mode.BaudRate != DefaultBaudRate {
				t.Errorf("BaudRate = %d, want %d", mode.BaudRate, DefaultBaudRate)
			}
			if mode.StopBits != tt.wantStop {
				t.Errorf("StopBits = %v, want %v", mode.StopBits, tt.wantStop)
			}
			if mode.Parity != tt.wantParity {
				t.Errorf("Parity = %v, want %v", mode.Parity, tt.wantParity)
			}
		})
	}

	if _, err := (PortOptions{BaudRate: 1}).SerialMode(); err == nil {
		t.Error("SerialMode() should reject invalid options")
	}
}
