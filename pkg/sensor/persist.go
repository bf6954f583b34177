package sensor

import (
	"github.com/itohio/ospid/pkg/decimal"
	"github.com/itohio/ospid/pkg/settings"
)

// Settings is the persisted input configuration.
type Settings struct {
	Kind        Kind
	Calibration [numKinds]decimal.Decimal[decimal.D1]
	Thermistor  ThermistorParams
	Plant       PlantParams
}

// SettingsSize is the payload size written by Settings.Save.
const SettingsSize = 1 + 4*int(numKinds) + 4*4 + 4*3 + 1

// DefaultSettings returns a thermistor input without calibration offsets.
func DefaultSettings() Settings {
	return Settings{
		Kind:       Thermistor,
		Thermistor: DefaultThermistor(),
		Plant:      DefaultPlant(),
	}
}

// Calibrate wraps s with the unit and the calibration offset of the
// selected kind.
func (s *Settings) Calibrate(sensor Sensor, unit Unit) *Calibrated {
	var offset decimal.Decimal[decimal.D1]
	if s.Kind < numKinds {
		offset = s.Calibration[s.Kind]
	}
	return &Calibrated{Sensor: sensor, Unit: unit, Offset: offset}
}

// Save writes the settings through c.
func (s *Settings) Save(c *settings.Cursor) {
	c.Save(uint8(s.Kind))
	for _, cal := range s.Calibration {
		settings.SaveDecimal(c, cal)
	}
	c.Save(s.Thermistor.Nominal)
	c.Save(s.Thermistor.B)
	c.Save(s.Thermistor.NominalTemp)
	c.Save(s.Thermistor.Reference)
	c.Save(float32(s.Plant.Gain))
	c.Save(float32(s.Plant.TimeConst))
	c.Save(float32(s.Plant.Noise))
	c.Save(uint8(s.Plant.DeadTime))
}

// Restore reads settings written by Save.
func (s *Settings) Restore(c *settings.Cursor) {
	var kind uint8
	c.Restore(&kind)
	s.Kind = Kind(kind)
	for i := range s.Calibration {
		settings.RestoreDecimal(c, &s.Calibration[i])
	}
	c.Restore(&s.Thermistor.Nominal)
	c.Restore(&s.Thermistor.B)
	c.Restore(&s.Thermistor.NominalTemp)
	c.Restore(&s.Thermistor.Reference)

	var gain, tc, noise float32
	var dead uint8
	c.Restore(&gain)
	c.Restore(&tc)
	c.Restore(&noise)
	c.Restore(&dead)
	s.Plant = PlantParams{Gain: float64(gain), TimeConst: float64(tc), Noise: float64(noise), DeadTime: int(dead)}
}
