package sensor

import (
	"encoding/binary"
	"math"
	"time"
)

// OneWireThermometer is a DS18B20 as exposed by tinygo.org/x/drivers/ds18b20.
// ReadTemperatureRaw returns the two temperature bytes of a CRC checked
// scratchpad.
type OneWireThermometer interface {
	RequestTemperature(romid []uint8)
	ReadTemperatureRaw(romid []uint8) ([]uint8, error)
}

// powerOnReset is the scratchpad value before the first conversion, 85 C.
// A probe that browns out reports it again, so it is only trusted when two
// consecutive reads agree.
const powerOnReset = 0x0550

// DS18B20 reads a Dallas one-wire probe at 12-bit resolution.
type DS18B20 struct {
	dev   OneWireThermometer
	romid []uint8
	last  int16
	seen  bool
	fault error
}

var _ Sensor = (*DS18B20)(nil)

// NewDS18B20 returns a probe sensor. romid selects the probe; nil addresses
// the only device on the bus.
func NewDS18B20(dev OneWireThermometer, romid []uint8) *DS18B20 {
	return &DS18B20{dev: dev, romid: romid}
}

// RequestConversion starts a 12-bit conversion.
func (d *DS18B20) RequestConversion() time.Duration {
	d.dev.RequestTemperature(d.romid)
	return 750 * time.Millisecond
}

// Read returns the last conversion in Celsius, NaN on fault.
func (d *DS18B20) Read() float64 {
	raw, err := d.dev.ReadTemperatureRaw(d.romid)
	if err != nil || len(raw) < 2 {
		d.fault = FaultBus
		return math.NaN()
	}
	v := int16(binary.LittleEndian.Uint16(raw))
	reset := v == powerOnReset && (!d.seen || d.last != powerOnReset)
	d.last, d.seen = v, true
	if reset {
		d.fault = FaultRange
		return math.NaN()
	}
	d.fault = nil
	return float64(v) / 16
}

// Fault returns the fault of the last Read, nil if it succeeded.
func (d *DS18B20) Fault() error { return d.fault }
