package sensor

import (
	"math"
	"time"

	"github.com/chewxy/math32"
)

// ADC is an analog input returning a 16-bit scaled reading, as TinyGo's
// machine.ADC does.
type ADC interface {
	Get() uint16
}

// ThermistorParams describe an NTC thermistor in a divider with a fixed
// reference resistor on the supply side.
type ThermistorParams struct {
	Nominal     float32 // resistance at NominalTemp, kOhm
	B           float32 // B coefficient
	NominalTemp float32 // Celsius
	Reference   float32 // reference resistor, kOhm
}

// DefaultThermistor is a common 10k B3950 part with a 10k reference.
func DefaultThermistor() ThermistorParams {
	return ThermistorParams{Nominal: 10, B: 3950, NominalTemp: 25, Reference: 10}
}

// NTC reads a thermistor through an ADC using the B parameter form of the
// Steinhart-Hart equation.
type NTC struct {
	adc     ADC
	params  ThermistorParams
	samples int
}

var _ Sensor = (*NTC)(nil)

// NewNTC returns a thermistor sensor that averages samples ADC readings per
// Read. samples below 1 is treated as 1.
func NewNTC(adc ADC, params ThermistorParams, samples int) *NTC {
	return &NTC{adc: adc, params: params, samples: max(samples, 1)}
}

// Params returns the thermistor parameters.
func (n *NTC) Params() ThermistorParams { return n.params }

// SetParams replaces the thermistor parameters.
func (n *NTC) SetParams(p ThermistorParams) { n.params = p }

// RequestConversion is a no-op: the ADC is sampled in Read.
func (n *NTC) RequestConversion() time.Duration { return 0 }

// Read returns the thermistor temperature in Celsius. A rail reading means
// an open or shorted thermistor and yields NaN.
func (n *NTC) Read() float64 {
	var sum uint32
	for range n.samples {
		sum += uint32(n.adc.Get())
	}
	raw := float32(sum) / float32(n.samples)
	if raw < 1 || raw >= math.MaxUint16 {
		return math.NaN()
	}
	return float64(n.params.Celsius(raw / (math.MaxUint16 + 1)))
}

// Celsius converts a divider ratio (0..1 of full scale) to a temperature.
func (p ThermistorParams) Celsius(ratio float32) float32 {
	const zeroCelsius = 273.15
	r := p.Reference / (1/ratio - 1)
	s := math32.Log(r/p.Nominal) / p.B
	s += 1 / (p.NominalTemp + zeroCelsius)
	return 1/s - zeroCelsius
}
