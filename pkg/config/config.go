package config

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/itohio/goanalogin/pkg/analogin"
)

// Converter kinds.
const (
	ConverterSim    = "sim"
	ConverterSerial = "serial"
)

// Fault policies.
const (
	FaultReturn = "return"
	FaultHalt   = "halt"
)

// Config represents the application configuration.
type Config struct {
	Engine    EngineConfig    `yaml:"engine"`
	Converter ConverterConfig `yaml:"converter"`
	Serial    SerialConfig    `yaml:"serial"`
	Sim       SimConfig       `yaml:"sim"`
	Channels  []int           `yaml:"channels"` // Identifiers registered at start-up
	Report    ReportConfig    `yaml:"report"`
	Log       LogConfig       `yaml:"log"`
}

// EngineConfig contains the sampling engine parameters.
type EngineConfig struct {
	Capacity            int           `yaml:"capacity"`             // Registry slots, one of them taken by the supply channel
	OversampleThreshold int           `yaml:"oversample_threshold"` // Conversions per channel visit, all but the last discarded
	TickPeriod          time.Duration `yaml:"tick_period"`
	FaultPolicy         string        `yaml:"fault_policy"` // "return" or "halt"
	HaltReportInterval  time.Duration `yaml:"halt_report_interval"`
}

// ConverterConfig selects the converter backend.
type ConverterConfig struct {
	Kind           string `yaml:"kind"` // "sim" or "serial"
	ResolutionBits int    `yaml:"resolution_bits"`
}

// SerialConfig contains serial port configuration for the converter bridge.
type SerialConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
}

// SimConfig contains simulated converter configuration.
type SimConfig struct {
	SettleTimeConstant float64              `yaml:"settle_time_constant"` // In conversions after a multiplexer switch
	ConversionPolls    int                  `yaml:"conversion_polls"`     // IsBusy polls before a conversion completes
	ConversionPeriod   time.Duration        `yaml:"conversion_period"`    // Simulated time per conversion
	NoiseLevel         float64              `yaml:"noise_level"`          // Fraction of full scale
	Default            SignalConfig         `yaml:"default"`
	Signals            map[int]SignalConfig `yaml:"signals"`
}

// SignalConfig describes a simulated input as a fraction of full scale.
type SignalConfig struct {
	Offset    float64 `yaml:"offset"`
	Amplitude float64 `yaml:"amplitude"`
	Frequency float64 `yaml:"frequency"` // Hz
}

// ReportConfig controls how often readings are reported.
type ReportConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// LogConfig contains logger configuration.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			Capacity:            12,
			OversampleThreshold: 2,
			TickPeriod:          time.Millisecond, // 1 kHz
			FaultPolicy:         FaultReturn,
			HaltReportInterval:  time.Second,
		},
		Converter: ConverterConfig{
			Kind:           ConverterSim,
			ResolutionBits: 10,
		},
		Serial: SerialConfig{
			Port:     "/dev/ttyACM0",
			BaudRate: 115200,
		},
		Sim: SimConfig{
			SettleTimeConstant: 0.5,
			ConversionPolls:    0,
			ConversionPeriod:   time.Millisecond,
			NoiseLevel:         0.002,
			Default: SignalConfig{
				Offset: 0.5,
			},
		},
		Channels: []int{},
		Report: ReportConfig{
			Interval: time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, return defaults
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file: %w", err)
	}

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var err error

	if c.Engine.Capacity <= 0 {
		err = multierr.Append(err, fmt.Errorf("engine.capacity must be positive, got %d", c.Engine.Capacity))
	}
	if c.Engine.OversampleThreshold <= 0 {
		err = multierr.Append(err, fmt.Errorf("engine.oversample_threshold must be positive, got %d", c.Engine.OversampleThreshold))
	}
	if c.Engine.TickPeriod <= 0 {
		err = multierr.Append(err, fmt.Errorf("engine.tick_period must be positive, got %v", c.Engine.TickPeriod))
	}
	switch c.Engine.FaultPolicy {
	case FaultReturn, FaultHalt:
	default:
		err = multierr.Append(err, fmt.Errorf("engine.fault_policy must be %q or %q, got %q", FaultReturn, FaultHalt, c.Engine.FaultPolicy))
	}

	switch c.Converter.Kind {
	case ConverterSim:
	case ConverterSerial:
		if c.Serial.Port == "" {
			err = multierr.Append(err, fmt.Errorf("serial.port is required for the serial converter"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("converter.kind must be %q or %q, got %q", ConverterSim, ConverterSerial, c.Converter.Kind))
	}
	if c.Converter.ResolutionBits < 1 || c.Converter.ResolutionBits > 16 {
		err = multierr.Append(err, fmt.Errorf("converter.resolution_bits must be in 1..16, got %d", c.Converter.ResolutionBits))
	}

	if c.Engine.Capacity > 0 {
		if n := registeredChannels(c.Channels); n > c.Engine.Capacity-1 {
			err = multierr.Append(err, fmt.Errorf("%d channels configured, capacity is %d including the supply channel", n, c.Engine.Capacity))
		}
	}

	return err
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Engine.Capacity == 0 {
		c.Engine.Capacity = def.Engine.Capacity
	}
	if c.Engine.OversampleThreshold == 0 {
		c.Engine.OversampleThreshold = def.Engine.OversampleThreshold
	}
	if c.Engine.TickPeriod == 0 {
		c.Engine.TickPeriod = def.Engine.TickPeriod
	}
	if c.Engine.FaultPolicy == "" {
		c.Engine.FaultPolicy = def.Engine.FaultPolicy
	}
	if c.Engine.HaltReportInterval == 0 {
		c.Engine.HaltReportInterval = def.Engine.HaltReportInterval
	}

	if c.Converter.Kind == "" {
		c.Converter.Kind = def.Converter.Kind
	}
	if c.Converter.ResolutionBits == 0 {
		c.Converter.ResolutionBits = def.Converter.ResolutionBits
	}

	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}

	if c.Sim.SettleTimeConstant == 0 {
		c.Sim.SettleTimeConstant = def.Sim.SettleTimeConstant
	}
	if c.Sim.ConversionPeriod == 0 {
		c.Sim.ConversionPeriod = def.Sim.ConversionPeriod
	}

	if c.Report.Interval == 0 {
		c.Report.Interval = def.Report.Interval
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
}

// registeredChannels counts the registry slots ids will occupy. Duplicates
// share a slot and the supply channel is registered by the engine itself.
func registeredChannels(ids []int) int {
	seen := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		if id != analogin.BoardVCC {
			seen[id] = struct{}{}
		}
	}
	return len(seen)
}
