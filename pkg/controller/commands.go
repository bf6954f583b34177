package controller

import (
	"fmt"
	"log"
	"time"

	"github.com/itohio/ospid/pkg/autotune"
	"github.com/itohio/ospid/pkg/decimal"
	"github.com/itohio/ospid/pkg/profile"
)

// SetSetpoint changes the setpoint. It is rejected while a profile owns
// the setpoint.
func (c *Controller) SetSetpoint(sp decimal.Decimal[decimal.D1]) error {
	if c.state.Mode == Profile {
		return ErrBusy
	}
	c.state.Setpoint = sp
	c.dirty = true
	return nil
}

// SetManualOutput sets the output used in manual mode, clamped to the
// output limits.
func (c *Controller) SetManualOutput(pct decimal.Decimal[decimal.D1]) {
	v := decimal.FromFloat[decimal.D1](c.clampOutput(pct.Float64()))
	c.state.ManualOut = v
	if c.state.Mode == Manual {
		c.output = v.Float64()
	}
	c.dirty = true
}

// SetMode switches between manual and closed loop. Switching stops any
// auto-tune or profile in progress; AutoTune and Profile are entered
// through StartAutoTune and RunProfile.
func (c *Controller) SetMode(m Mode, now time.Time) error {
	switch m {
	case AutoTune:
		return c.StartAutoTune()
	case Profile:
		return c.RunProfile(int(c.state.ProfileSlot), now)
	case Manual, PID:
	default:
		return fmt.Errorf("set mode %s: invalid", m)
	}

	c.stopActivity()
	if m == Manual {
		c.state.ManualOut = decimal.FromFloat[decimal.D1](c.output)
	} else if c.state.Mode != PID {
		c.bumpless()
	}
	c.state.Mode = m
	c.dirty = true
	return nil
}

// SetGains replaces the PID gains.
func (c *Controller) SetGains(g Gains) {
	c.state.Gains = g
	c.applyGains()
	c.bumpless()
	c.dirty = true
}

// SetDirection sets the control action.
func (c *Controller) SetDirection(d Direction) {
	c.state.Direction = d
	c.bumpless()
	c.dirty = true
}

// SetTrip replaces the alarm limits.
func (c *Controller) SetTrip(t Trip) {
	c.state.Trip = t
	c.dirty = true
}

// ClearTrip releases a latched trip. It trips again on the next Tick if
// the process value is still outside the limits.
func (c *Controller) ClearTrip() {
	c.tripped = false
}

// SetTuneConfig replaces the auto-tune parameters for the next session.
func (c *Controller) SetTuneConfig(cfg autotune.Config) error {
	if c.state.Mode == AutoTune {
		return ErrBusy
	}
	c.state.Tune = cfg
	c.tuner = autotune.New(cfg)
	c.dirty = true
	return nil
}

// StartAutoTune starts a relay auto-tune around the current output.
func (c *Controller) StartAutoTune() error {
	switch c.state.Mode {
	case AutoTune:
		return nil
	case Profile:
		return ErrBusy
	}
	c.tuner = autotune.New(c.state.Tune)
	c.tuner.Start(c.output)
	c.state.Mode = AutoTune
	c.dirty = true
	log.Printf("controller: auto-tune started at %.1f%% output", c.output)
	return nil
}

// CancelAutoTune stops tuning without touching the gains and returns to
// closed loop.
func (c *Controller) CancelAutoTune() {
	if c.state.Mode != AutoTune {
		return
	}
	c.tuner.Cancel()
	c.output = c.clampOutput(c.tuner.Output())
	c.state.Mode = PID
	c.bumpless()
	c.dirty = true
}

// RunProfile loads slot and starts it from its first step.
func (c *Controller) RunProfile(slot int, now time.Time) error {
	if c.state.Mode == AutoTune {
		return ErrBusy
	}
	p, err := c.loadProfile(slot)
	if err != nil {
		return err
	}
	c.stopActivity()
	c.state.ProfileSlot = uint8(slot)
	c.startProfile(c.exec.Start(p, c.state.Setpoint, now))
	return nil
}

// AbortProfile stops the running profile and stays in closed loop at the
// current setpoint.
func (c *Controller) AbortProfile() {
	if c.state.Mode != Profile {
		return
	}
	c.exec.Abort()
	c.state.Mode = PID
	c.dirty = true
}

// SaveProfile stores p in slot.
func (c *Controller) SaveProfile(slot int, p *profile.Profile) error {
	if c.state.Mode == Profile && int(c.state.ProfileSlot) == slot {
		return ErrBusy
	}
	return c.store.Profiles().Save(slot, p)
}

// LoadProfile returns the profile stored in slot.
func (c *Controller) LoadProfile(slot int) (*profile.Profile, error) {
	return c.store.Profiles().Load(slot)
}

func (c *Controller) loadProfile(slot int) (*profile.Profile, error) {
	p, err := c.store.Profiles().Load(slot)
	if err != nil {
		return nil, fmt.Errorf("profile slot %d: %w", slot, err)
	}
	if p.Len() == 0 {
		return nil, fmt.Errorf("profile slot %d: %w", slot, ErrEmptySlot)
	}
	return p, nil
}

func (c *Controller) resumeProfile(now time.Time) error {
	p, err := c.loadProfile(int(c.state.ProfileSlot))
	if err != nil {
		return err
	}
	c.startProfile(c.exec.Resume(p, c.state.Setpoint, now))
	return nil
}

func (c *Controller) startProfile(st profile.Status) {
	c.state.Setpoint = st.Setpoint
	c.notify = c.notify || st.Notify
	c.dirty = true
	if st.Done {
		c.state.Mode = PID
		return
	}
	if c.state.Mode != PID {
		c.bumpless()
	}
	c.state.Mode = Profile
}

func (c *Controller) stopActivity() {
	switch c.state.Mode {
	case AutoTune:
		c.tuner.Cancel()
		c.output = c.clampOutput(c.tuner.Output())
	case Profile:
		c.exec.Abort()
	}
}
