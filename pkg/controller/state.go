package controller

import (
	"fmt"
	"strings"

	"github.com/itohio/ospid/pkg/autotune"
	"github.com/itohio/ospid/pkg/decimal"
	"github.com/itohio/ospid/pkg/settings"
)

// Mode is the operating mode of the loop.
type Mode uint8

const (
	Manual   Mode = iota // output set by the operator
	PID                  // closed loop on the setpoint
	AutoTune             // relay auto-tune in progress
	Profile              // closed loop on a profile setpoint

	numModes
)

func (m Mode) String() string {
	switch m {
	case Manual:
		return "manual"
	case PID:
		return "pid"
	case AutoTune:
		return "tune"
	case Profile:
		return "profile"
	}
	return fmt.Sprintf("mode(%d)", uint8(m))
}

// ParseMode is the inverse of Mode.String.
func ParseMode(s string) (Mode, error) {
	for m := range numModes {
		if strings.EqualFold(s, m.String()) {
			return m, nil
		}
	}
	return Manual, fmt.Errorf("unknown mode %q", s)
}

// Direction of control action.
type Direction uint8

const (
	// Direct action: more output raises the process value (heating).
	Direct Direction = iota
	// Reverse action: more output lowers the process value (cooling).
	Reverse
)

func (d Direction) String() string {
	if d == Reverse {
		return "reverse"
	}
	return "direct"
}

// Gains are the PID gains per second.
type Gains struct {
	Kp, Ki, Kd float64
}

// Trip holds the alarm limits. When tripped the output is forced to its
// minimum until the process value is back within limits and either
// AutoReset is set or the trip is cleared.
type Trip struct {
	Enabled   bool
	AutoReset bool
	Lower     decimal.Decimal[decimal.D1]
	Upper     decimal.Decimal[decimal.D1]
}

// State is everything the controller persists across power cycles.
type State struct {
	Mode        Mode
	Direction   Direction
	Setpoint    decimal.Decimal[decimal.D1]
	ManualOut   decimal.Decimal[decimal.D1]
	Gains       Gains
	Tune        autotune.Config
	Trip        Trip
	ProfileSlot uint8
}

func (s *State) save(c *settings.Cursor) {
	c.Save(uint8(s.Mode))
	c.Save(uint8(s.Direction))
	settings.SaveDecimal(c, s.Setpoint)
	settings.SaveDecimal(c, s.ManualOut)
	c.Save(float32(s.Gains.Kp))
	c.Save(float32(s.Gains.Ki))
	c.Save(float32(s.Gains.Kd))

	settings.SaveDecimal(c, decimal.FromFloat[decimal.D1](s.Tune.OutputStep))
	settings.SaveDecimal(c, decimal.FromFloat[decimal.D1](s.Tune.NoiseBand))
	c.Save(uint16(s.Tune.LookBackSec))
	c.Save(uint8(s.Tune.ControlType))

	c.Save(s.Trip.Enabled)
	c.Save(s.Trip.AutoReset)
	settings.SaveDecimal(c, s.Trip.Lower)
	settings.SaveDecimal(c, s.Trip.Upper)
	c.Save(s.ProfileSlot)
}

func (s *State) restore(c *settings.Cursor) {
	var mode, dir uint8
	c.Restore(&mode)
	c.Restore(&dir)
	s.Mode = Mode(mode)
	s.Direction = Direction(dir)
	settings.RestoreDecimal(c, &s.Setpoint)
	settings.RestoreDecimal(c, &s.ManualOut)

	var kp, ki, kd float32
	c.Restore(&kp)
	c.Restore(&ki)
	c.Restore(&kd)
	s.Gains = Gains{Kp: float64(kp), Ki: float64(ki), Kd: float64(kd)}

	var step, noise decimal.Decimal[decimal.D1]
	var lookBack uint16
	var ct uint8
	settings.RestoreDecimal(c, &step)
	settings.RestoreDecimal(c, &noise)
	c.Restore(&lookBack)
	c.Restore(&ct)
	s.Tune = autotune.Config{
		OutputStep:  step.Float64(),
		NoiseBand:   noise.Float64(),
		LookBackSec: int(lookBack),
		ControlType: autotune.ControlType(ct),
	}

	c.Restore(&s.Trip.Enabled)
	c.Restore(&s.Trip.AutoReset)
	settings.RestoreDecimal(c, &s.Trip.Lower)
	settings.RestoreDecimal(c, &s.Trip.Upper)
	c.Restore(&s.ProfileSlot)
}
