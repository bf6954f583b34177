// Package controller runs the single cooperative control loop: it samples
// the sensor, computes the output for the active mode and drives the
// actuator. All methods are meant to be called from the loop goroutine.
package controller

import (
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/itohio/ospid/pkg/actuator"
	"github.com/itohio/ospid/pkg/autotune"
	"github.com/itohio/ospid/pkg/decimal"
	"github.com/itohio/ospid/pkg/mathx"
	"github.com/itohio/ospid/pkg/profile"
	"github.com/itohio/ospid/pkg/sensor"
	"go.einride.tech/pid"
)

var (
	ErrBusy        = errors.New("controller: auto-tune or profile in progress")
	ErrEmptySlot   = errors.New("controller: profile slot is empty")
	ErrSensorFault = errors.New("controller: no valid process value")
)

// Config is the explicit startup configuration of the loop.
type Config struct {
	SamplePeriod time.Duration // PID update period
	Unit         sensor.Unit
	OutputMin    float64
	OutputMax    float64
	Defaults     State // used when the persisted state is corrupt
}

// DefaultConfig returns a heating controller with conservative gains.
func DefaultConfig() Config {
	return Config{
		SamplePeriod: time.Second,
		Unit:         sensor.Celsius,
		OutputMin:    0,
		OutputMax:    100,
		Defaults: State{
			Mode:      Manual,
			Direction: Direct,
			Setpoint:  decimal.New[decimal.D1](250),
			Gains:     Gains{Kp: 2, Ki: 0.05, Kd: 0},
			Tune:      autotune.DefaultConfig(),
			Trip: Trip{
				Lower: decimal.New[decimal.D1](0),
				Upper: decimal.New[decimal.D1](3000),
			},
		},
	}
}

// Status is a snapshot of the loop.
type Status struct {
	Time     time.Time
	Input    float64
	Setpoint decimal.Decimal[decimal.D1]
	Output   float64
	Mode     Mode
	Tripped  bool
	Step     int  // active profile step, -1 outside profile mode
	Notify   bool // a profile step asked for a cue since the last Tick
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces time.Now for the settings write hook.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.clock = now
	}
}

// Controller is the control loop.
type Controller struct {
	cfg   Config
	store *Store
	in    sensor.Sensor
	out   actuator.Output
	clock func() time.Time

	state  State
	dirty  bool
	pid    pid.Controller
	tuner  *autotune.Tuner
	exec   *profile.Executor
	output float64
	input  float64

	pending     bool
	readyAt     time.Time
	lastCompute time.Time
	computed    bool
	tripped     bool
	notify      bool
	faulted     bool
	primed      bool
}

// New restores the persisted state and returns a loop ready to Tick. A
// profile that was running when power was lost is resumed.
func New(cfg Config, store *Store, in sensor.Sensor, out actuator.Output, opts ...Option) (*Controller, error) {
	if cfg.SamplePeriod <= 0 {
		cfg.SamplePeriod = time.Second
	}
	if cfg.OutputMax <= cfg.OutputMin {
		return nil, fmt.Errorf("output limits [%g, %g] are empty", cfg.OutputMin, cfg.OutputMax)
	}

	c := &Controller{
		cfg:   cfg,
		store: store,
		in:    in,
		out:   out,
		clock: time.Now,
		input: math.NaN(),
		exec:  profile.NewExecutor(profile.WithProgress(store.Progress())),
	}
	for _, opt := range opts {
		opt(c)
	}
	store.yield = func() { c.out.Set(c.effectiveOutput(), c.clock()) }

	state, err := store.loadState(cfg.Defaults)
	if err != nil {
		return nil, err
	}
	if state.Mode >= numModes {
		state.Mode = Manual
	}
	c.state = state
	c.tuner = autotune.New(state.Tune)
	c.applyGains()
	c.output = c.clampOutput(state.ManualOut.Float64())

	switch state.Mode {
	case AutoTune:
		// a tuning session cannot survive a restart
		c.state.Mode = PID
		c.dirty = true
	case Profile:
		if err := c.resumeProfile(c.clock()); err != nil {
			log.Printf("controller: profile not resumed: %v", err)
			c.state.Mode = PID
			c.dirty = true
		}
	}
	return c, nil
}

// Tick runs one pass of the loop and returns the resulting status.
func (c *Controller) Tick(now time.Time) Status {
	c.sample(now)
	switch {
	case c.state.Mode == AutoTune:
		// the tuner keeps its own sample period
		c.tune(now)
		c.lastCompute, c.computed = now, true
	case !c.computed || now.Sub(c.lastCompute) >= c.cfg.SamplePeriod:
		c.compute(now)
		c.lastCompute, c.computed = now, true
	}
	c.checkTrip()

	c.out.Set(c.effectiveOutput(), now)

	st := c.Status(now)
	c.notify = false
	c.persist()
	return st
}

// Status returns the current snapshot without advancing the loop.
func (c *Controller) Status(now time.Time) Status {
	st := Status{
		Time:     now,
		Input:    c.input,
		Setpoint: c.state.Setpoint,
		Output:   c.effectiveOutput(),
		Mode:     c.state.Mode,
		Tripped:  c.tripped,
		Step:     -1,
		Notify:   c.notify,
	}
	if c.state.Mode == Profile {
		st.Step = c.exec.StepIndex()
	}
	return st
}

// State returns a copy of the persisted state.
func (c *Controller) State() State { return c.state }

// Tuner exposes the auto-tuner, mainly for its last Result.
func (c *Controller) Tuner() *autotune.Tuner { return c.tuner }

// Store returns the storage layout in use.
func (c *Controller) Store() *Store { return c.store }

func (c *Controller) sample(now time.Time) {
	if !c.pending {
		c.readyAt = now.Add(c.in.RequestConversion())
		c.pending = true
	}
	if now.Before(c.readyAt) {
		return
	}
	c.pending = false
	v := c.in.Read()
	if math.IsNaN(v) && !c.faulted {
		log.Printf("controller: sensor fault")
	}
	c.faulted = math.IsNaN(v)
	c.input = v
}

func (c *Controller) compute(now time.Time) {
	switch c.state.Mode {
	case Manual:
		c.output = c.clampOutput(c.state.ManualOut.Float64())
	case PID:
		c.closedLoop(now)
	case Profile:
		st := c.exec.Tick(c.input, now)
		c.state.Setpoint = st.Setpoint
		c.notify = c.notify || st.Notify
		if st.Entered {
			c.dirty = true
		}
		if st.Done {
			log.Printf("controller: profile %d complete", c.state.ProfileSlot)
			c.state.Mode = PID
			c.dirty = true
		}
		c.closedLoop(now)
	}
}

func (c *Controller) tune(now time.Time) {
	out, phase := c.tuner.Sample(c.input, now)
	c.output = c.clampOutput(out)
	if phase == autotune.Finished {
		c.finishTuning()
	}
}

func (c *Controller) closedLoop(now time.Time) {
	if math.IsNaN(c.input) {
		c.output = c.cfg.OutputMin
		c.primed = false
		return
	}
	if !c.primed {
		c.bumpless()
	}
	dt := now.Sub(c.lastCompute)
	if !c.computed || dt <= 0 {
		dt = c.cfg.SamplePeriod
	}

	ref, actual := c.state.Setpoint.Float64(), c.input
	if c.state.Direction == Reverse {
		ref, actual = actual, ref
	}
	c.pid.Update(pid.ControllerInput{
		ReferenceSignal:  ref,
		ActualSignal:     actual,
		SamplingInterval: dt,
	})

	out := c.pid.State.ControlSignal
	c.output = c.clampOutput(out)
	if out != c.output && c.state.Gains.Ki != 0 {
		// back-calculate the integral so the controller leaves saturation
		// as soon as the error changes sign
		g := c.state.Gains
		s := c.pid.State
		c.pid.State.ControlErrorIntegral = (c.output - g.Kp*s.ControlError - g.Kd*s.ControlErrorDerivative) / g.Ki
	}
}

// bumpless primes the PID state so that the next update continues from the
// current output.
func (c *Controller) bumpless() {
	c.pid.Reset()
	c.primed = !math.IsNaN(c.input)
	if !c.primed {
		return
	}
	e := c.state.Setpoint.Float64() - c.input
	if c.state.Direction == Reverse {
		e = -e
	}
	c.pid.State.ControlError = e
	if c.state.Gains.Ki != 0 {
		c.pid.State.ControlErrorIntegral = (c.output - c.state.Gains.Kp*e) / c.state.Gains.Ki
	}
}

func (c *Controller) applyGains() {
	c.pid.Config = pid.ControllerConfig{
		ProportionalGain: c.state.Gains.Kp,
		IntegralGain:     c.state.Gains.Ki,
		DerivativeGain:   c.state.Gains.Kd,
	}
}

func (c *Controller) finishTuning() {
	r := c.tuner.Result()
	c.state.Mode = PID
	c.dirty = true
	if !r.Converged {
		log.Printf("controller: auto-tune stopped after %d peaks without converging, keeping gains", r.Peaks)
	} else {
		log.Printf("controller: auto-tune done, Ku=%.3f Pu=%.1fs Kp=%.3f Ki=%.4f Kd=%.3f", r.Ku, r.Pu, r.Kp, r.Ki, r.Kd)
		c.state.Gains = Gains{Kp: r.Kp, Ki: r.Ki, Kd: r.Kd}
		c.applyGains()
	}
	c.bumpless()
}

func (c *Controller) checkTrip() {
	t := c.state.Trip
	if !t.Enabled {
		c.tripped = false
		return
	}
	if math.IsNaN(c.input) {
		c.tripped = true
		return
	}
	v := decimal.FromFloat[decimal.D1](c.input)
	inside := mathx.Between(v.Raw(), t.Lower.Raw(), t.Upper.Raw())
	switch {
	case !inside && !c.tripped:
		log.Printf("controller: trip at %s, limits [%s, %s]", v, t.Lower, t.Upper)
		c.tripped = true
	case inside && c.tripped && t.AutoReset:
		c.tripped = false
	}
}

// effectiveOutput is the output actually applied, which is the minimum
// while tripped.
func (c *Controller) effectiveOutput() float64 {
	if c.tripped {
		return c.cfg.OutputMin
	}
	return c.output
}

func (c *Controller) clampOutput(v float64) float64 {
	return mathx.Clamp(v, c.cfg.OutputMin, c.cfg.OutputMax)
}

func (c *Controller) persist() {
	if !c.dirty {
		return
	}
	if err := c.store.saveState(c.state); err != nil {
		log.Printf("controller: saving state: %v", err)
		return
	}
	c.dirty = false
}
