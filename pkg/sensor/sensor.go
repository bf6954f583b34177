// Package sensor provides the process value inputs of the controller:
// thermistor, MAX31855 thermocouple, DS18B20 one-wire probe and a simulated
// plant. All readings are in degrees Celsius until converted by Calibrated;
// a failed reading is NaN, never an error.
package sensor

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/itohio/ospid/pkg/decimal"
	"periph.io/x/conn/v3/physic"
)

// Sensor is a process value source.
type Sensor interface {
	// RequestConversion starts a measurement and returns how long to wait
	// before Read returns it.
	RequestConversion() time.Duration
	// Read returns the latest measurement or NaN on fault.
	Read() float64
}

// Kind selects one of the supported sensors.
type Kind uint8

const (
	Thermistor Kind = iota
	Thermocouple
	OneWire
	Simulated

	numKinds
)

func (k Kind) String() string {
	switch k {
	case Thermistor:
		return "thermistor"
	case Thermocouple:
		return "thermocouple"
	case OneWire:
		return "onewire"
	case Simulated:
		return "simulator"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for k := range numKinds {
		if strings.EqualFold(s, k.String()) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown sensor kind %q", s)
}

// Unit is the temperature unit the controller works in.
type Unit uint8

const (
	Celsius Unit = iota
	Fahrenheit
)

func (u Unit) String() string {
	if u == Fahrenheit {
		return "F"
	}
	return "C"
}

// ParseUnit accepts "C", "F" and their long forms.
func ParseUnit(s string) (Unit, error) {
	switch strings.ToLower(s) {
	case "c", "celsius", "":
		return Celsius, nil
	case "f", "fahrenheit":
		return Fahrenheit, nil
	}
	return Celsius, fmt.Errorf("unknown unit %q", s)
}

// FromCelsius converts a Celsius reading to u. NaN stays NaN.
func (u Unit) FromCelsius(c float64) float64 {
	if u == Celsius || math.IsNaN(c) {
		return c
	}
	t := physic.ZeroCelsius + physic.Temperature(c*float64(physic.Celsius))
	return float64(t-physic.ZeroFahrenheit) / float64(physic.Fahrenheit)
}

// ToCelsius converts a reading in u to Celsius.
func (u Unit) ToCelsius(v float64) float64 {
	if u == Celsius || math.IsNaN(v) {
		return v
	}
	t := physic.ZeroFahrenheit + physic.Temperature(v*float64(physic.Fahrenheit))
	return float64(t-physic.ZeroCelsius) / float64(physic.Celsius)
}

// Calibrated converts a sensor to the working unit and applies a fixed
// calibration offset expressed in that unit.
type Calibrated struct {
	Sensor
	Unit   Unit
	Offset decimal.Decimal[decimal.D1]
}

var _ Sensor = (*Calibrated)(nil)

// Read returns the converted and offset reading, NaN on fault.
func (c *Calibrated) Read() float64 {
	v := c.Sensor.Read()
	if math.IsNaN(v) {
		return v
	}
	return c.Unit.FromCelsius(v) + c.Offset.Float64()
}
