// Package actuator drives the controller output.
package actuator

import (
	"time"

	"github.com/itohio/ospid/pkg/decimal"
	"github.com/itohio/ospid/pkg/mathx"
	"github.com/itohio/ospid/pkg/settings"
)

// Output accepts the control output in percent, 0..100.
type Output interface {
	Set(pct float64, now time.Time)
}

// Pin is a digital output, as TinyGo's machine.Pin.
type Pin interface {
	Set(high bool)
}

// DefaultWindow suits a solid state relay; electromechanical relays need a
// longer one.
var DefaultWindow = decimal.New[decimal.D1](50)

// SSR turns a percentage into a time proportioned on/off signal: within
// every window the pin is on for pct of the window.
type SSR struct {
	pin    Pin
	window decimal.Decimal[decimal.D1]
	state  bool
	set    bool
}

var _ Output = (*SSR)(nil)

// NewSSR returns a relay output with the given window in seconds.
func NewSSR(pin Pin, window decimal.Decimal[decimal.D1]) *SSR {
	s := &SSR{pin: pin}
	s.SetWindow(window)
	return s
}

// Window returns the window length in seconds.
func (s *SSR) Window() decimal.Decimal[decimal.D1] { return s.window }

// SetWindow sets the window length; anything below 0.1 s becomes 0.1 s.
func (s *SSR) SetWindow(w decimal.Decimal[decimal.D1]) {
	if w.Raw() < 1 {
		w = decimal.New[decimal.D1](1)
	}
	s.window = w
}

// On reports the last pin state.
func (s *SSR) On() bool { return s.state }

// Set drives the pin for the window position of now.
func (s *SSR) Set(pct float64, now time.Time) {
	windowMs := int64(s.window.Raw()) * 100
	pos := now.UnixMilli() % windowMs
	onMs := int64(mathx.Clamp(pct, 0, 100) / 100 * float64(windowMs))

	on := onMs > pos
	if s.set && on == s.state {
		return
	}
	s.state, s.set = on, true
	s.pin.Set(on)
}

// Plant is anything that takes a percentage directly, such as the
// simulated plant.
type Plant interface {
	SetOutputPercent(pct float64)
}

// Simulated feeds the output into a Plant.
type Simulated struct {
	Plant Plant
	last  float64
}

var _ Output = (*Simulated)(nil)

// Set forwards pct to the plant.
func (s *Simulated) Set(pct float64, _ time.Time) {
	s.last = mathx.Clamp(pct, 0, 100)
	s.Plant.SetOutputPercent(s.last)
}

// Last returns the last output applied.
func (s *Simulated) Last() float64 { return s.last }

// Settings is the persisted output configuration.
type Settings struct {
	Window decimal.Decimal[decimal.D1]
}

// SettingsSize is the payload size written by Settings.Save.
const SettingsSize = 4

// DefaultSettings returns the default relay window.
func DefaultSettings() Settings {
	return Settings{Window: DefaultWindow}
}

// Save writes the settings through c.
func (s *Settings) Save(c *settings.Cursor) {
	settings.SaveDecimal(c, s.Window)
}

// Restore reads settings written by Save.
func (s *Settings) Restore(c *settings.Cursor) {
	settings.RestoreDecimal(c, &s.Window)
}
