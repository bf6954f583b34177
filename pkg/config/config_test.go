package config

import (
	"os"
	"testing"
	"time"

	"github.com/itohio/ospid/pkg/autotune"
	"github.com/itohio/ospid/pkg/controller"
	"github.com/itohio/ospid/pkg/profile"
	"github.com/itohio/ospid/pkg/sensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	tmpfile, err := os.CreateTemp("", "test_config_*.yaml")
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(tmpfile.Name()) })

	_, err = tmpfile.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())
	return tmpfile.Name()
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.NotNil(t, cfg)
	assert.Equal(t, "COM3", cfg.Serial.Port)
	assert.Equal(t, 115200, cfg.Serial.Baud)
	assert.Equal(t, time.Second, cfg.Controller.SamplePeriod)
	assert.Equal(t, "C", cfg.Controller.Units)
	assert.Equal(t, float64(100), cfg.Controller.OutputMax)
	assert.Equal(t, "thermistor", cfg.Input.Kind)
	assert.Equal(t, float64(3950), cfg.Input.Thermistor.B)
	assert.Equal(t, float64(5), cfg.Output.WindowSeconds)
	assert.Equal(t, "direct", cfg.PID.Direction)
	assert.Equal(t, float64(30), cfg.AutoTune.OutputStep)
	assert.Equal(t, 10, cfg.AutoTune.LookBackSeconds)
	assert.False(t, cfg.Trip.Enabled)
	assert.Empty(t, cfg.Profiles)
	assert.Equal(t, 50*time.Millisecond, cfg.Mock.TickRate)
}

func TestLoad_FileNotExists(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	require.NoError(t, err)
	assert.NotNil(t, cfg)
	assert.Equal(t, "COM3", cfg.Serial.Port)
}

func TestLoad_ValidYAML(t *testing.T) {
	name := writeTemp(t, `
serial:
  port: "/dev/ttyACM0"
  baud: 9600

controller:
  sample_period: 500ms
  units: F
  setpoint: 150.5

input:
  kind: thermocouple
  calibration: -1.5

pid:
  kp: 4
  ki: 0.1
  kd: 1
  direction: reverse

autotune:
  output_step: 20
  noise_band: 1
  look_back_seconds: 30
  control_type: pid

trip:
  enabled: true
  auto_reset: true
  lower: 10
  upper: 200

profiles:
  - name: reflow
    slot: 1
    steps:
      - type: ramp
        duration: 90s
        endpoint: 150
      - type: soak
        duration: 2m
        endpoint: 150
        notify: true
      - type: jump
        endpoint: 230
      - type: wait
        endpoint: 220
`)

	cfg, err := Load(name)
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Port)
	assert.Equal(t, 9600, cfg.Serial.Baud)
	assert.Equal(t, 500*time.Millisecond, cfg.Controller.SamplePeriod)
	assert.Equal(t, "thermocouple", cfg.Input.Kind)
	assert.Len(t, cfg.Profiles, 1)
	assert.Len(t, cfg.Profiles[0].Steps, 4)
	assert.Equal(t, 2*time.Minute, cfg.Profiles[0].Steps[1].Duration)

	cc, err := cfg.LoopConfig()
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, cc.SamplePeriod)
	assert.Equal(t, sensor.Fahrenheit, cc.Unit)
	assert.Equal(t, "150.5", cc.Defaults.Setpoint.String())
	assert.Equal(t, controller.Reverse, cc.Defaults.Direction)
	assert.Equal(t, controller.Gains{Kp: 4, Ki: 0.1, Kd: 1}, cc.Defaults.Gains)
	assert.Equal(t, autotune.PID, cc.Defaults.Tune.ControlType)
	assert.Equal(t, 30, cc.Defaults.Tune.LookBackSec)
	assert.True(t, cc.Defaults.Trip.Enabled)
	assert.True(t, cc.Defaults.Trip.AutoReset)
	assert.Equal(t, "200.0", cc.Defaults.Trip.Upper.String())

	in := cfg.InputSettings()
	assert.Equal(t, sensor.Thermocouple, in.Kind)
	assert.Equal(t, "-1.5", in.Calibration[sensor.Thermocouple].String())
	assert.True(t, in.Calibration[sensor.Thermistor].IsZero())

	profiles, err := cfg.StoredProfiles()
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, 1, profiles[0].Slot)
	p := profiles[0].Profile
	assert.Equal(t, "reflow", p.Name())
	require.Equal(t, 4, p.Len())
	assert.Equal(t, profile.Ramp, p.Step(0).Kind())
	assert.Equal(t, 90*time.Second, p.Step(0).Duration)
	assert.True(t, p.Step(1).Notify())
	assert.Equal(t, profile.Jump, p.Step(2).Kind())
	assert.Equal(t, "220.0", p.Step(3).Endpoint.String())
}

func TestLoad_InvalidYAML(t *testing.T) {
	cfg, err := Load(writeTemp(t, "invalid: yaml: content: ["))
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoad_PartialYAML(t *testing.T) {
	cfg, err := Load(writeTemp(t, `
serial:
  port: "/dev/ttyACM0"
`))
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	// Should use defaults for missing fields
	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Port)
	assert.Equal(t, 115200, cfg.Serial.Baud)                  // default
	assert.Equal(t, time.Second, cfg.Controller.SamplePeriod) // default
	assert.Equal(t, float64(5), cfg.Output.WindowSeconds)     // default
}

func TestLoad_TripWithoutLimits(t *testing.T) {
	cfg, err := Load(writeTemp(t, `
trip:
  enabled: true
`))
	require.NoError(t, err)
	assert.True(t, cfg.Trip.Enabled)
	assert.Equal(t, Default().Trip.Lower, cfg.Trip.Lower)
	assert.Equal(t, Default().Trip.Upper, cfg.Trip.Upper)
}

func TestSave(t *testing.T) {
	cfg := Default()
	cfg.Serial.Port = "/dev/ttyUSB0"
	cfg.Output.WindowSeconds = 15
	cfg.Controller.SamplePeriod = 250 * time.Millisecond

	name := writeTemp(t, "")
	require.NoError(t, cfg.Save(name))

	// Load it back and verify
	loaded, err := Load(name)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", loaded.Serial.Port)
	assert.Equal(t, float64(15), loaded.Output.WindowSeconds)
	assert.Equal(t, 250*time.Millisecond, loaded.Controller.SamplePeriod)
}

func TestConfig_Errors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"units", func(c *Config) { c.Controller.Units = "K" }},
		{"direction", func(c *Config) { c.PID.Direction = "sideways" }},
		{"control type", func(c *Config) { c.AutoTune.ControlType = "pd" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			_, err := cfg.LoopConfig()
			assert.Error(t, err)
		})
	}
}

func TestConfig_ProfileErrors(t *testing.T) {
	cfg := Default()
	cfg.Profiles = []ProfileConfig{{Name: "bad", Steps: []StepConfig{{Type: "hover"}}}}
	_, err := cfg.StoredProfiles()
	assert.ErrorIs(t, err, profile.ErrInvalidStep)

	cfg.Profiles = []ProfileConfig{{Name: "long", Steps: make([]StepConfig, profile.MaxSteps+1)}}
	for i := range cfg.Profiles[0].Steps {
		cfg.Profiles[0].Steps[i].Type = "soak"
	}
	_, err = cfg.StoredProfiles()
	assert.ErrorIs(t, err, profile.ErrFull)
}

func TestConfig_UnknownKindFallsBack(t *testing.T) {
	cfg := Default()
	cfg.Input.Kind = "pyrometer"
	assert.Equal(t, sensor.Thermistor, cfg.InputSettings().Kind)
}

func TestConfig_OutputSettings(t *testing.T) {
	cfg := Default()
	cfg.Output.WindowSeconds = 2.5
	assert.Equal(t, "2.5", cfg.OutputSettings().Window.String())
}
