package sensor

import (
	"encoding/binary"
	"math"
	"time"
)

// SPI is a full duplex bus transfer, as TinyGo's machine.SPI provides.
type SPI interface {
	Tx(w, r []byte) error
}

// Pin is a digital output.
type Pin interface {
	Set(high bool)
}

// MAX31855 reads a K-type thermocouple through a MAX31855 converter. The
// chip converts continuously; a frame is clocked out while CS is low.
type MAX31855 struct {
	bus   SPI
	cs    Pin
	fault error
	cold  float64
}

var _ Sensor = (*MAX31855)(nil)

// NewMAX31855 returns a thermocouple sensor. cs may be nil when the bus
// handles chip select itself.
func NewMAX31855(bus SPI, cs Pin) *MAX31855 {
	if cs != nil {
		cs.Set(true)
	}
	return &MAX31855{bus: bus, cs: cs}
}

// RequestConversion returns the conversion time of the converter.
func (m *MAX31855) RequestConversion() time.Duration { return 100 * time.Millisecond }

// Read returns the thermocouple temperature, NaN on any fault.
func (m *MAX31855) Read() float64 {
	var rx [4]byte
	if m.cs != nil {
		m.cs.Set(false)
	}
	err := m.bus.Tx(nil, rx[:])
	if m.cs != nil {
		m.cs.Set(true)
	}
	if err != nil {
		m.fault = FaultBus
		return math.NaN()
	}

	t, cold, err := DecodeMAX31855(binary.BigEndian.Uint32(rx[:]))
	m.fault = err
	if err != nil {
		return math.NaN()
	}
	m.cold = cold
	return t
}

// Fault returns the fault of the last Read, nil if it succeeded.
func (m *MAX31855) Fault() error { return m.fault }

// ColdJunction returns the internal reference temperature of the last
// successful Read.
func (m *MAX31855) ColdJunction() float64 { return m.cold }

// DecodeMAX31855 splits a 32-bit MAX31855 frame into the thermocouple and
// cold junction temperatures. A frame with the fault bit set yields the
// decoded Fault.
func DecodeMAX31855(frame uint32) (thermocouple, coldJunction float64, err error) {
	if frame&0x00010000 != 0 {
		switch frame & 0x07 {
		case 0x01:
			return math.NaN(), math.NaN(), FaultOpen
		case 0x02:
			return math.NaN(), math.NaN(), FaultShortGND
		case 0x04:
			return math.NaN(), math.NaN(), FaultShortVCC
		}
		return math.NaN(), math.NaN(), FaultUnknown
	}

	// 14-bit signed quarter degrees in the top bits, 12-bit signed 1/16
	// degrees for the cold junction.
	thermocouple = float64(int32(frame)>>18) * 0.25
	coldJunction = float64(int32(frame<<16)>>20) * 0.0625
	return thermocouple, coldJunction, nil
}
