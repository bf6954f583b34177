package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/itohio/ospid/pkg/actuator"
	"github.com/itohio/ospid/pkg/autotune"
	"github.com/itohio/ospid/pkg/controller"
	"github.com/itohio/ospid/pkg/decimal"
	"github.com/itohio/ospid/pkg/profile"
	"github.com/itohio/ospid/pkg/sensor"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Serial     SerialConfig     `yaml:"serial"`
	Controller ControllerConfig `yaml:"controller"`
	Input      InputConfig      `yaml:"input"`
	Output     OutputConfig     `yaml:"output"`
	PID        PIDConfig        `yaml:"pid"`
	AutoTune   AutoTuneConfig   `yaml:"autotune"`
	Trip       TripConfig       `yaml:"trip"`
	Profiles   []ProfileConfig  `yaml:"profiles"`
	Storage    StorageConfig    `yaml:"storage"`
	Simulator  SimulatorConfig  `yaml:"simulator"`
	Mock       MockConfig       `yaml:"mock"`
	Monitor    MonitorConfig    `yaml:"monitor"`
}

// SerialConfig contains serial port configuration.
type SerialConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

// ControllerConfig contains the control loop parameters.
type ControllerConfig struct {
	SamplePeriod time.Duration `yaml:"sample_period"`
	Units        string        `yaml:"units"` // "C" or "F"
	Setpoint     float64       `yaml:"setpoint"`
	OutputMin    float64       `yaml:"output_min"`
	OutputMax    float64       `yaml:"output_max"`
}

// InputConfig selects and parameterizes the sensor.
type InputConfig struct {
	Kind        string           `yaml:"kind"`        // thermistor, thermocouple, onewire, simulator
	Calibration float64          `yaml:"calibration"` // offset added to readings, working units
	Samples     int              `yaml:"samples"`     // ADC readings averaged per thermistor sample
	Thermistor  ThermistorConfig `yaml:"thermistor"`
}

// ThermistorConfig describes the NTC divider.
type ThermistorConfig struct {
	Nominal     float64 `yaml:"nominal"`      // kOhm at nominal_temp
	B           float64 `yaml:"b"`            // B coefficient
	NominalTemp float64 `yaml:"nominal_temp"` // Celsius
	Reference   float64 `yaml:"reference"`    // kOhm
}

// OutputConfig contains the relay output parameters.
type OutputConfig struct {
	WindowSeconds float64 `yaml:"window_seconds"`
}

// PIDConfig contains the default gains.
type PIDConfig struct {
	Kp        float64 `yaml:"kp"`
	Ki        float64 `yaml:"ki"`
	Kd        float64 `yaml:"kd"`
	Direction string  `yaml:"direction"` // direct or reverse
}

// AutoTuneConfig contains the relay auto-tune parameters.
type AutoTuneConfig struct {
	OutputStep      float64 `yaml:"output_step"`
	NoiseBand       float64 `yaml:"noise_band"`
	LookBackSeconds int     `yaml:"look_back_seconds"`
	ControlType     string  `yaml:"control_type"` // pi or pid
}

// TripConfig contains the alarm limits.
type TripConfig struct {
	Enabled   bool    `yaml:"enabled"`
	AutoReset bool    `yaml:"auto_reset"`
	Lower     float64 `yaml:"lower"`
	Upper     float64 `yaml:"upper"`
}

// ProfileConfig is a profile to store in a slot.
type ProfileConfig struct {
	Name  string       `yaml:"name"`
	Slot  int          `yaml:"slot"`
	Steps []StepConfig `yaml:"steps"`
}

// StepConfig is one profile step.
type StepConfig struct {
	Type     string        `yaml:"type"` // ramp, soak, jump, wait
	Duration time.Duration `yaml:"duration"`
	Endpoint float64       `yaml:"endpoint"`
	Notify   bool          `yaml:"notify"`
}

// StorageConfig describes the non-volatile image used by host tools.
type StorageConfig struct {
	Path string `yaml:"path"`
	Size int    `yaml:"size"`
}

// SimulatorConfig contains the simulated plant parameters.
type SimulatorConfig struct {
	Gain         float64 `yaml:"gain"`          // degrees per percent output
	TimeConstant float64 `yaml:"time_constant"` // samples
	DeadTime     int     `yaml:"dead_time"`     // samples
	Noise        float64 `yaml:"noise"`         // peak noise, degrees
	Seed         uint64  `yaml:"seed"`
}

// MockConfig contains mock device configuration.
type MockConfig struct {
	TickRate time.Duration `yaml:"tick_rate"` // real time between simulated samples
}

// MonitorConfig contains host-side history parameters.
type MonitorConfig struct {
	WindowSeconds float64 `yaml:"window_seconds"` // history kept for display
	Band          float64 `yaml:"band"`           // allowed deviation from the setpoint
	MinExcursion  float64 `yaml:"min_excursion"`  // shortest excursion reported, seconds
	Smooth        int     `yaml:"smooth"`         // samples averaged for display
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	plant := sensor.DefaultPlant()
	th := sensor.DefaultThermistor()
	tune := autotune.DefaultConfig()

	return &Config{
		Serial: SerialConfig{
			Port: "COM3", // Default for Windows, should be "/dev/ttyACM0" on Linux/Mac
			Baud: 115200,
		},
		Controller: ControllerConfig{
			SamplePeriod: time.Second,
			Units:        "C",
			Setpoint:     25,
			OutputMin:    0,
			OutputMax:    100,
		},
		Input: InputConfig{
			Kind:    sensor.Thermistor.String(),
			Samples: 4,
			Thermistor: ThermistorConfig{
				Nominal:     float64(th.Nominal),
				B:           float64(th.B),
				NominalTemp: float64(th.NominalTemp),
				Reference:   float64(th.Reference),
			},
		},
		Output: OutputConfig{
			WindowSeconds: actuator.DefaultWindow.Float64(),
		},
		PID: PIDConfig{
			Kp:        2,
			Ki:        0.05,
			Kd:        0,
			Direction: controller.Direct.String(),
		},
		AutoTune: AutoTuneConfig{
			OutputStep:      tune.OutputStep,
			NoiseBand:       tune.NoiseBand,
			LookBackSeconds: tune.LookBackSec,
			ControlType:     "pi",
		},
		Trip: TripConfig{
			Lower: 0,
			Upper: 300,
		},
		Storage: StorageConfig{
			Path: "ospid.eeprom",
			Size: 1024,
		},
		Simulator: SimulatorConfig{
			Gain:         plant.Gain,
			TimeConstant: plant.TimeConst,
			DeadTime:     plant.DeadTime,
			Noise:        plant.Noise,
			Seed:         1,
		},
		Mock: MockConfig{
			TickRate: 50 * time.Millisecond,
		},
		Monitor: MonitorConfig{
			WindowSeconds: 600,
			Band:          2,
			MinExcursion:  5,
			Smooth:        1,
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

	// Ensure minimum required fields are set (use defaults if missing)
	cfg.ensureDefaults()

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

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.Baud == 0 {
		c.Serial.Baud = def.Serial.Baud
	}

	if c.Controller.SamplePeriod == 0 {
		c.Controller.SamplePeriod = def.Controller.SamplePeriod
	}
	if c.Controller.Units == "" {
		c.Controller.Units = def.Controller.Units
	}
	if c.Controller.OutputMax == 0 {
		c.Controller.OutputMax = def.Controller.OutputMax
	}

	if c.Input.Kind == "" {
		c.Input.Kind = def.Input.Kind
	}
	if c.Input.Samples == 0 {
		c.Input.Samples = def.Input.Samples
	}
	if c.Input.Thermistor.Nominal == 0 {
		c.Input.Thermistor.Nominal = def.Input.Thermistor.Nominal
	}
	if c.Input.Thermistor.B == 0 {
		c.Input.Thermistor.B = def.Input.Thermistor.B
	}
	if c.Input.Thermistor.Reference == 0 {
		c.Input.Thermistor.Reference = def.Input.Thermistor.Reference
	}

	if c.Output.WindowSeconds == 0 {
		c.Output.WindowSeconds = def.Output.WindowSeconds
	}

	if c.PID.Direction == "" {
		c.PID.Direction = def.PID.Direction
	}

	if c.AutoTune.OutputStep == 0 {
		c.AutoTune.OutputStep = def.AutoTune.OutputStep
	}
	if c.AutoTune.LookBackSeconds == 0 {
		c.AutoTune.LookBackSeconds = def.AutoTune.LookBackSeconds
	}
	if c.AutoTune.ControlType == "" {
		c.AutoTune.ControlType = def.AutoTune.ControlType
	}

	if c.Trip.Lower == 0 && c.Trip.Upper == 0 {
		c.Trip.Lower, c.Trip.Upper = def.Trip.Lower, def.Trip.Upper
	}

	if c.Storage.Size == 0 {
		c.Storage.Size = def.Storage.Size
	}

	if c.Simulator.TimeConstant == 0 {
		c.Simulator.TimeConstant = def.Simulator.TimeConstant
	}
	if c.Simulator.Gain == 0 {
		c.Simulator.Gain = def.Simulator.Gain
	}

	if c.Mock.TickRate == 0 {
		c.Mock.TickRate = def.Mock.TickRate
	}

	if c.Monitor.WindowSeconds == 0 {
		c.Monitor.WindowSeconds = def.Monitor.WindowSeconds
	}
	if c.Monitor.Band == 0 {
		c.Monitor.Band = def.Monitor.Band
	}
	if c.Monitor.Smooth == 0 {
		c.Monitor.Smooth = def.Monitor.Smooth
	}
}

// LoopConfig assembles the explicit loop configuration.
func (c *Config) LoopConfig() (controller.Config, error) {
	unit, err := sensor.ParseUnit(c.Controller.Units)
	if err != nil {
		return controller.Config{}, err
	}

	var dir controller.Direction
	switch strings.ToLower(c.PID.Direction) {
	case "direct", "":
		dir = controller.Direct
	case "reverse":
		dir = controller.Reverse
	default:
		return controller.Config{}, fmt.Errorf("unknown direction %q", c.PID.Direction)
	}

	var ct autotune.ControlType
	switch strings.ToLower(c.AutoTune.ControlType) {
	case "pi", "":
		ct = autotune.PI
	case "pid":
		ct = autotune.PID
	default:
		return controller.Config{}, fmt.Errorf("unknown control type %q", c.AutoTune.ControlType)
	}

	return controller.Config{
		SamplePeriod: c.Controller.SamplePeriod,
		Unit:         unit,
		OutputMin:    c.Controller.OutputMin,
		OutputMax:    c.Controller.OutputMax,
		Defaults: controller.State{
			Mode:      controller.Manual,
			Direction: dir,
			Setpoint:  decimal.FromFloat[decimal.D1](c.Controller.Setpoint),
			Gains:     controller.Gains{Kp: c.PID.Kp, Ki: c.PID.Ki, Kd: c.PID.Kd},
			Tune: autotune.Config{
				OutputStep:  c.AutoTune.OutputStep,
				NoiseBand:   c.AutoTune.NoiseBand,
				LookBackSec: c.AutoTune.LookBackSeconds,
				ControlType: ct,
			},
			Trip: controller.Trip{
				Enabled:   c.Trip.Enabled,
				AutoReset: c.Trip.AutoReset,
				Lower:     decimal.FromFloat[decimal.D1](c.Trip.Lower),
				Upper:     decimal.FromFloat[decimal.D1](c.Trip.Upper),
			},
		},
	}, nil
}

// InputSettings returns the default persisted input settings. An unknown
// kind falls back to the thermistor.
func (c *Config) InputSettings() sensor.Settings {
	s := sensor.DefaultSettings()
	if k, err := sensor.ParseKind(c.Input.Kind); err == nil {
		s.Kind = k
	}
	s.Calibration[s.Kind] = decimal.FromFloat[decimal.D1](c.Input.Calibration)
	s.Thermistor = sensor.ThermistorParams{
		Nominal:     float32(c.Input.Thermistor.Nominal),
		B:           float32(c.Input.Thermistor.B),
		NominalTemp: float32(c.Input.Thermistor.NominalTemp),
		Reference:   float32(c.Input.Thermistor.Reference),
	}
	s.Plant = sensor.PlantParams{
		Gain:      c.Simulator.Gain,
		TimeConst: c.Simulator.TimeConstant,
		DeadTime:  c.Simulator.DeadTime,
		Noise:     c.Simulator.Noise,
	}
	return s
}

// OutputSettings returns the default persisted output settings.
func (c *Config) OutputSettings() actuator.Settings {
	return actuator.Settings{Window: decimal.FromFloat[decimal.D1](c.Output.WindowSeconds)}
}

// SlotProfile is a profile with the slot it is stored in.
type SlotProfile struct {
	Slot    int
	Profile *profile.Profile
}

// StoredProfiles builds the configured profiles.
func (c *Config) StoredProfiles() ([]SlotProfile, error) {
	out := make([]SlotProfile, 0, len(c.Profiles))
	for _, pc := range c.Profiles {
		p := profile.New(pc.Name)
		for i, sc := range pc.Steps {
			typ, err := profile.ParseStepType(sc.Type)
			if err != nil {
				return nil, fmt.Errorf("profile %q step %d: %w", pc.Name, i, err)
			}
			if sc.Notify {
				typ |= profile.FlagNotify
			}
			if err := p.Add(typ, sc.Duration, decimal.FromFloat[decimal.D1](sc.Endpoint)); err != nil {
				return nil, fmt.Errorf("profile %q step %d: %w", pc.Name, i, err)
			}
		}
		out = append(out, SlotProfile{Slot: pc.Slot, Profile: p})
	}
	return out, nil
}
