package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/leafpatrol/internal/config"
	"github.com/banshee-data/leafpatrol/internal/serialmux"
	"github.com/banshee-data/leafpatrol/internal/testutil"
)

// TestFlagDefaults verifies the defaults the service starts with when run
// without arguments.
func TestFlagDefaults(t *testing.T) {
	if *listen != ":8080" {
		t.Errorf("listen default = %q, want :8080", *listen)
	}
	if *configFile != config.DefaultConfigPath {
		t.Errorf("config default = %q, want %q", *configFile, config.DefaultConfigPath)
	}
	if *baud != 0 {
		t.Errorf("baud default = %d, want 0", *baud)
	}
	if *devMode || *noBridge {
		t.Errorf("dev/no-bridge should default to false, got %v/%v", *devMode, *noBridge)
	}
	if *peripheralTTL != 2*time.Second {
		t.Errorf("peripheral-timeout default = %v, want 2s", *peripheralTTL)
	}
}

func TestBridgeSource(t *testing.T) {
	tests := []struct {
		name     string
		dev      bool
		disabled bool
		want     string
	}{
		{name: "real port", want: "config"},
		{name: "dev mode", dev: true, want: "simulated"},
		{name: "no bridge", disabled: true, want: "disabled"},
		{name: "no bridge wins over dev", dev: true, disabled: true, want: "disabled"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := bridgeSource(tc.dev, tc.disabled); got != tc.want {
				t.Errorf("bridgeSource(%v, %v) = %q, want %q", tc.dev, tc.disabled, got, tc.want)
			}
		})
	}
}

func TestBridgeFactory(t *testing.T) {
	opts, err := serialmux.PortOptions{}.Normalise()
	if err != nil {
		t.Fatalf("Normalise: %v", err)
	}

	t.Run("disabled", func(t *testing.T) {
		mux, err := bridgeFactory(false, true)("/dev/null", opts)
		if err != nil {
			t.Fatalf("factory: %v", err)
		}
		defer mux.Close()
		if _, ok := mux.(*serialmux.DisabledSerialMux); !ok {
			t.Errorf("got %T, want *serialmux.DisabledSerialMux", mux)
		}
	})

	t.Run("dev", func(t *testing.T) {
		mux, err := bridgeFactory(true, false)("/dev/does-not-exist", opts)
		if err != nil {
			t.Fatalf("factory: %v", err)
		}
		defer mux.Close()
		if _, ok := mux.(*serialmux.SerialMux[*serialmux.BridgeSimulator]); !ok {
			t.Errorf("got %T, want simulated mux", mux)
		}
	})

	t.Run("real port missing", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "no-such-tty")
		if _, err := bridgeFactory(false, false)(path, opts); err == nil {
			t.Error("expected error opening a missing serial port")
		}
	})
}

func TestLoadConfig(t *testing.T) {
	t.Run("empty path uses defaults", func(t *testing.T) {
		cfg, err := loadConfig("", 0)
		if err != nil {
			t.Fatalf("loadConfig: %v", err)
		}
		if got := cfg.GetSerial().BaudRate; got != serialmux.DefaultBaudRate {
			t.Errorf("baud = %d, want %d", got, serialmux.DefaultBaudRate)
		}
	})

	t.Run("baud override", func(t *testing.T) {
		cfg, err := loadConfig("", 9600)
		if err != nil {
			t.Fatalf("loadConfig: %v", err)
		}
		if got := cfg.GetSerial().BaudRate; got != 9600 {
			t.Errorf("baud = %d, want 9600", got)
		}
	})

	t.Run("bad baud override", func(t *testing.T) {
		_, err := loadConfig("", 12345)
		testutil.AssertError(t, err)
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "robot.json")
		if err := os.WriteFile(path, []byte(`{"cruise_speed": 40}`), 0o644); err != nil {
			t.Fatal(err)
		}
		cfg, err := loadConfig(path, 0)
		testutil.AssertNoError(t, err)
		if got := cfg.LoopConfig().CruiseSpeed; got != 40 {
			t.Errorf("cruise speed = %d, want 40", got)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := loadConfig(filepath.Join(t.TempDir(), "nope.json"), 0)
		testutil.AssertError(t, err)
	})
}
