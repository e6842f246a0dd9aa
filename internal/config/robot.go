package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/leafpatrol/internal/patrol"
	"github.com/banshee-data/leafpatrol/internal/ranging"
	"github.com/banshee-data/leafpatrol/internal/serialmux"
	"github.com/banshee-data/leafpatrol/internal/units"
)

// DefaultConfigPath is the path to the canonical robot defaults file.
const DefaultConfigPath = "config/robot.defaults.json"

// RobotConfig holds the tunable parameters of the patrol loop and its
// peripherals. Every field is optional; the Get* methods fall back to the
// stock values for anything the file leaves out.
type RobotConfig struct {
	// Gate thresholds
	LeafThreshold       *float64 `json:"leaf_threshold,omitempty"`
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`

	// Drive, wheel duty in percent and durations as strings like "300ms"
	CruiseSpeed     *int    `json:"cruise_speed,omitempty"`
	ReverseSpeed    *int    `json:"reverse_speed,omitempty"`
	ReverseDuration *string `json:"reverse_duration,omitempty"`
	TurnSpeed       *int    `json:"turn_speed,omitempty"`
	TurnDuration    *string `json:"turn_duration,omitempty"`

	// Loop timing
	IdleInterval     *string `json:"idle_interval,omitempty"`
	DebounceInterval *string `json:"debounce_interval,omitempty"`
	RangeTimeout     *string `json:"range_timeout,omitempty"`

	// Event sink
	SinkRetries      *int    `json:"sink_retries,omitempty"`
	SinkRetryBackoff *string `json:"sink_retry_backoff,omitempty"`
	Timezone         *string `json:"timezone,omitempty"`

	Serial *serialmux.PortOptions `json:"serial,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }
func ptrString(v string) *string    { return &v }

// DefaultRobotConfig returns a config with every field set to its stock value.
func DefaultRobotConfig() *RobotConfig {
	loop := patrol.DefaultLoopConfig()
	return &RobotConfig{
		LeafThreshold:       ptrFloat64(loop.Gate.LeafThreshold),
		ConfidenceThreshold: ptrFloat64(loop.Gate.ConfidenceThreshold),
		CruiseSpeed:         ptrInt(loop.CruiseSpeed),
		ReverseSpeed:        ptrInt(loop.ReverseSpeed),
		ReverseDuration:     ptrString(loop.ReverseDuration.String()),
		TurnSpeed:           ptrInt(loop.TurnSpeed),
		TurnDuration:        ptrString(loop.TurnDuration.String()),
		IdleInterval:        ptrString(loop.IdleInterval.String()),
		DebounceInterval:    ptrString(loop.DebounceInterval.String()),
		RangeTimeout:        ptrString(defaultRangeTimeout.String()),
		SinkRetries:         ptrInt(defaultSinkRetries),
		SinkRetryBackoff:    ptrString(defaultSinkRetryBackoff.String()),
		Timezone:            ptrString(defaultTimezone),
		Serial:              &serialmux.PortOptions{BaudRate: serialmux.DefaultBaudRate, DataBits: 8, StopBits: 1, Parity: "N"},
	}
}

const (
	defaultRangeTimeout     = ranging.DefaultTimeout
	defaultSinkRetries      = 3
	defaultSinkRetryBackoff = 100 * time.Millisecond
	defaultTimezone         = "UTC"
	maxSinkRetries          = 10
)

// LoadRobotConfig loads a RobotConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
// Fields omitted from the JSON file keep their default values, so
// partial configs are safe.
func LoadRobotConfig(path string) (*RobotConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &RobotConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *RobotConfig) Validate() error {
	for name, v := range map[string]*float64{
		"leaf_threshold":       c.LeafThreshold,
		"confidence_threshold": c.ConfidenceThreshold,
	} {
		if v != nil && (*v < 0 || *v > 1) {
			return fmt.Errorf("%s must be between 0 and 1, got %f", name, *v)
		}
	}

	for name, v := range map[string]*int{
		"cruise_speed":  c.CruiseSpeed,
		"reverse_speed": c.ReverseSpeed,
		"turn_speed":    c.TurnSpeed,
	} {
		if v != nil && (*v < 0 || *v > 100) {
			return fmt.Errorf("%s must be between 0 and 100, got %d", name, *v)
		}
	}

	for name, v := range map[string]*string{
		"reverse_duration":   c.ReverseDuration,
		"turn_duration":      c.TurnDuration,
		"idle_interval":      c.IdleInterval,
		"debounce_interval":  c.DebounceInterval,
		"range_timeout":      c.RangeTimeout,
		"sink_retry_backoff": c.SinkRetryBackoff,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, *v)
		}
	}

	if c.SinkRetries != nil && (*c.SinkRetries < 0 || *c.SinkRetries > maxSinkRetries) {
		return fmt.Errorf("sink_retries must be between 0 and %d, got %d", maxSinkRetries, *c.SinkRetries)
	}

	if c.Timezone != nil && *c.Timezone != "" && *c.Timezone != "Local" && !units.IsTimezoneValid(*c.Timezone) {
		return fmt.Errorf("invalid timezone %q", *c.Timezone)
	}

	if c.Serial != nil {
		if _, err := c.Serial.Normalise(); err != nil {
			return fmt.Errorf("serial: %w", err)
		}
	}

	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil || d <= 0 {
		return def // default on parse error
	}
	return d
}

func floatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

// GetLeafThreshold returns the leaf_threshold value or the default.
func (c *RobotConfig) GetLeafThreshold() float64 {
	return floatOr(c.LeafThreshold, patrol.DefaultLeafThreshold)
}

// GetConfidenceThreshold returns the confidence_threshold value or the default.
func (c *RobotConfig) GetConfidenceThreshold() float64 {
	return floatOr(c.ConfidenceThreshold, patrol.DefaultConfidenceThreshold)
}

// GetRangeTimeout returns how long a single range poll may wait for a reply.
func (c *RobotConfig) GetRangeTimeout() time.Duration {
	return durationOr(c.RangeTimeout, defaultRangeTimeout)
}

// GetSinkRetries returns the sink_retries value or the default.
func (c *RobotConfig) GetSinkRetries() int {
	return intOr(c.SinkRetries, defaultSinkRetries)
}

// GetSinkRetryBackoff returns the sink_retry_backoff value or the default.
func (c *RobotConfig) GetSinkRetryBackoff() time.Duration {
	return durationOr(c.SinkRetryBackoff, defaultSinkRetryBackoff)
}

// GetTimezone returns the zone used for frame file names.
func (c *RobotConfig) GetTimezone() string {
	if c.Timezone == nil || *c.Timezone == "" {
		return defaultTimezone
	}
	return *c.Timezone
}

// GetSerial returns the serial block, normalised. Invalid values fall back
// to the bridge defaults.
func (c *RobotConfig) GetSerial() serialmux.PortOptions {
	var opts serialmux.PortOptions
	if c.Serial != nil {
		opts = *c.Serial
	}
	n, err := opts.Normalise()
	if err != nil {
		n, _ = serialmux.PortOptions{}.Normalise()
	}
	return n
}

// LoopConfig converts the file values into the decision loop's settings.
func (c *RobotConfig) LoopConfig() patrol.LoopConfig {
	def := patrol.DefaultLoopConfig()
	return patrol.LoopConfig{
		Gate: patrol.Gate{
			LeafThreshold:       c.GetLeafThreshold(),
			ConfidenceThreshold: c.GetConfidenceThreshold(),
		},
		CruiseSpeed:      intOr(c.CruiseSpeed, def.CruiseSpeed),
		ReverseSpeed:     intOr(c.ReverseSpeed, def.ReverseSpeed),
		ReverseDuration:  durationOr(c.ReverseDuration, def.ReverseDuration),
		TurnSpeed:        intOr(c.TurnSpeed, def.TurnSpeed),
		TurnDuration:     durationOr(c.TurnDuration, def.TurnDuration),
		IdleInterval:     durationOr(c.IdleInterval, def.IdleInterval),
		DebounceInterval: durationOr(c.DebounceInterval, def.DebounceInterval),
	}
}
