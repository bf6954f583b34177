package sensor

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/itohio/ospid/pkg/decimal"
	"github.com/itohio/ospid/pkg/nvm"
	"github.com/itohio/ospid/pkg/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedADC uint16

func (a fixedADC) Get() uint16 { return uint16(a) }

type fixedSensor float64

func (f fixedSensor) RequestConversion() time.Duration { return 0 }
func (f fixedSensor) Read() float64                    { return float64(f) }

func TestKind_String(t *testing.T) {
	for k := range numKinds {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseKind("pt100")
	assert.Error(t, err)
}

func TestUnit_Conversion(t *testing.T) {
	tests := []struct {
		c, f float64
	}{
		{0, 32},
		{100, 212},
		{-40, -40},
		{37, 98.6},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.f, Fahrenheit.FromCelsius(tt.c), 1e-3)
		assert.InDelta(t, tt.c, Fahrenheit.ToCelsius(tt.f), 1e-3)
		assert.Equal(t, tt.c, Celsius.FromCelsius(tt.c))
	}
	assert.True(t, math.IsNaN(Fahrenheit.FromCelsius(math.NaN())))

	u, err := ParseUnit("fahrenheit")
	require.NoError(t, err)
	assert.Equal(t, Fahrenheit, u)
	_, err = ParseUnit("K")
	assert.Error(t, err)
}

func TestCalibrated(t *testing.T) {
	c := &Calibrated{Sensor: fixedSensor(100), Unit: Fahrenheit, Offset: decimal.FromFloat[decimal.D1](-1.5)}
	assert.InDelta(t, 210.5, c.Read(), 1e-3)

	c.Sensor = fixedSensor(math.NaN())
	assert.True(t, math.IsNaN(c.Read()), "NaN must not be offset")
}

func TestNTC(t *testing.T) {
	p := DefaultThermistor()
	n := NewNTC(fixedADC(32768), p, 4)
	assert.InDelta(t, 25, n.Read(), 0.01)

	// a lower ratio means lower thermistor resistance, so hotter
	hot := NewNTC(fixedADC(16384), p, 1).Read()
	assert.Greater(t, hot, 25.0)

	assert.True(t, math.IsNaN(NewNTC(fixedADC(0), p, 1).Read()))
	assert.True(t, math.IsNaN(NewNTC(fixedADC(math.MaxUint16), p, 1).Read()))
	assert.Zero(t, n.RequestConversion())
}

func TestDecodeMAX31855(t *testing.T) {
	tests := []struct {
		name    string
		frame   uint32
		want    float64
		cold    float64
		wantErr error
	}{
		{name: "positive", frame: 0x06401900, want: 100, cold: 25},
		{name: "quarter degrees", frame: 0x0001<<18 | 0x0010<<4, want: 0.25, cold: 1},
		{name: "negative", frame: 0xFFFCFF00, want: -0.25, cold: -1},
		{name: "open", frame: 0x00010001, wantErr: FaultOpen},
		{name: "short to gnd", frame: 0x00010002, wantErr: FaultShortGND},
		{name: "short to vcc", frame: 0x00010004, wantErr: FaultShortVCC},
		{name: "unknown", frame: 0x00010000, wantErr: FaultUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, cold, err := DecodeMAX31855(tt.frame)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.True(t, math.IsNaN(got))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.cold, cold)
		})
	}
}

type fakeSPI struct {
	frame []byte
	err   error
}

func (f *fakeSPI) Tx(w, r []byte) error {
	copy(r, f.frame)
	return f.err
}

type recordPin []bool

func (p *recordPin) Set(high bool) { *p = append(*p, high) }

func TestMAX31855_Read(t *testing.T) {
	bus := &fakeSPI{frame: []byte{0x06, 0x40, 0x19, 0x00}}
	var cs recordPin
	m := NewMAX31855(bus, &cs)

	assert.Equal(t, 100.0, m.Read())
	assert.NoError(t, m.Fault())
	assert.Equal(t, 25.0, m.ColdJunction())
	assert.Equal(t, recordPin{true, false, true}, cs)

	bus.frame = []byte{0x00, 0x01, 0x00, 0x01}
	assert.True(t, math.IsNaN(m.Read()))
	assert.ErrorIs(t, m.Fault(), FaultOpen)

	bus.err = errors.New("bus")
	assert.True(t, math.IsNaN(m.Read()))
	assert.ErrorIs(t, m.Fault(), FaultBus)
}

type fakeProbe struct {
	raw       []uint8
	err       error
	requested int
}

func (f *fakeProbe) RequestTemperature(romid []uint8) { f.requested++ }
func (f *fakeProbe) ReadTemperatureRaw(romid []uint8) ([]uint8, error) {
	return f.raw, f.err
}

func TestDS18B20(t *testing.T) {
	probe := &fakeProbe{raw: []uint8{0x50, 0x05}}
	d := NewDS18B20(probe, nil)

	assert.Equal(t, 750*time.Millisecond, d.RequestConversion())
	assert.Equal(t, 1, probe.requested)
	assert.True(t, math.IsNaN(d.Read()), "power-on value after a requested conversion")
	assert.ErrorIs(t, d.Fault(), FaultRange)

	d.RequestConversion()
	assert.Equal(t, 85.0, d.Read(), "confirmed by a second conversion")
	assert.NoError(t, d.Fault())

	probe.raw = []uint8{0x5E, 0xFF} // -10.125
	d.RequestConversion()
	assert.Equal(t, -10.125, d.Read())

	probe.raw = []uint8{0x50, 0x05}
	d.RequestConversion()
	assert.True(t, math.IsNaN(d.Read()), "brown-out reset mid run")

	probe.err = errors.New("crc")
	assert.True(t, math.IsNaN(d.Read()))
	assert.ErrorIs(t, d.Fault(), FaultBus)
}

func TestSimulator(t *testing.T) {
	p := DefaultPlant()
	p.Noise = 0
	s := NewSimulator(p, 1)

	for range 10 {
		assert.Equal(t, plantInputStart, s.Read(), "at rest on the operating point")
	}

	s.SetOutputPercent(100)
	for range p.DeadTime - 1 {
		assert.Equal(t, plantInputStart, s.Read(), "output is delayed by the dead time")
	}
	assert.Greater(t, s.Read(), plantInputStart)

	var v float64
	for range 2000 {
		v = s.Read()
	}
	assert.InDelta(t, plantInputStart+p.Gain*(100-plantOutputStart), v, 0.01)
}

func TestSimulator_Noise(t *testing.T) {
	p := DefaultPlant()
	a, b := NewSimulator(p, 7), NewSimulator(p, 7)
	for range 20 {
		va, vb := a.Read(), b.Read()
		assert.Equal(t, va, vb, "same seed, same noise")
		assert.InDelta(t, plantInputStart, va, p.Noise)
	}
}

func TestSettings_SaveRestore(t *testing.T) {
	mem := nvm.NewMemory(64)
	blk := settings.Block{Name: "input", Base: 0, Size: SettingsSize + settings.TrailerSize, Seed: 1}

	s := DefaultSettings()
	s.Kind = Thermocouple
	s.Calibration[Thermocouple] = decimal.FromFloat[decimal.D1](-2.5)
	require.NoError(t, blk.Save(mem, s.Save))

	var got Settings
	require.NoError(t, blk.Restore(mem, got.Restore))
	assert.Equal(t, s.Kind, got.Kind)
	assert.Equal(t, s.Calibration, got.Calibration)
	assert.Equal(t, s.Thermistor, got.Thermistor)
	assert.Equal(t, s.Plant.DeadTime, got.Plant.DeadTime)
	assert.InDelta(t, s.Plant.Noise, got.Plant.Noise, 1e-6)

	c := got.Calibrate(fixedSensor(20), Celsius)
	assert.Equal(t, 17.5, c.Read())
}
