package profile

import (
	"log"
	"math"
	"time"

	"github.com/itohio/ospid/pkg/decimal"
)

// Status is what the executor reports after each Start or Tick.
type Status struct {
	Setpoint decimal.Decimal[decimal.D1]
	Step     int  // index of the active step; Len() when done
	Entered  bool // at least one step was entered during this call
	Notify   bool // an entered step requested a cue
	Done     bool
}

// Executor is the run-time cursor of a profile being played back. It is
// not persisted with the profile; only the optional Progress marker is.
type Executor struct {
	profile    *Profile
	step       int
	stepStart  time.Time
	startValue decimal.Decimal[decimal.D1]
	setpoint   decimal.Decimal[decimal.D1]
	direction  int // WaitToCross: +1 wait for rise, -1 wait for fall, 0 not known yet
	running    bool
	progress   *Progress
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithProgress records step entry in non-volatile storage so an interrupted
// run can be resumed.
func WithProgress(p *Progress) ExecutorOption {
	return func(e *Executor) {
		e.progress = p
	}
}

// NewExecutor returns an idle executor.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Running reports whether a profile is being played.
func (e *Executor) Running() bool { return e.running }

// StepIndex returns the index of the active step.
func (e *Executor) StepIndex() int { return e.step }

// Setpoint returns the current profile setpoint.
func (e *Executor) Setpoint() decimal.Decimal[decimal.D1] { return e.setpoint }

// Profile returns the profile being played, or nil.
func (e *Executor) Profile() *Profile { return e.profile }

// Start begins playing p from its first step. setpoint is the setpoint in
// effect now; the first ramp starts from it. A profile without steps is
// complete immediately.
func (e *Executor) Start(p *Profile, setpoint decimal.Decimal[decimal.D1], now time.Time) Status {
	return e.startAt(p, 0, setpoint, now)
}

// Resume continues p at the step recorded by the progress marker, or from
// the beginning when there is none.
func (e *Executor) Resume(p *Profile, setpoint decimal.Decimal[decimal.D1], now time.Time) Status {
	step := 0
	if e.progress != nil {
		if s, ok := e.progress.Step(); ok && s < p.Len() {
			step = s
		}
	}
	return e.startAt(p, step, setpoint, now)
}

func (e *Executor) startAt(p *Profile, step int, setpoint decimal.Decimal[decimal.D1], now time.Time) Status {
	e.profile = p
	e.running = true
	e.setpoint = setpoint
	e.step = step - 1
	if e.progress != nil && step == 0 {
		if err := e.progress.Reset(); err != nil {
			log.Printf("profile: progress reset failed: %v", err)
		}
	}

	var st Status
	e.enter(now, &st)
	return e.run(math.NaN(), now, st)
}

// Abort stops playback; the setpoint stays where it is.
func (e *Executor) Abort() {
	e.running = false
	if e.progress != nil {
		if err := e.progress.Reset(); err != nil {
			log.Printf("profile: progress reset failed: %v", err)
		}
	}
}

// Tick advances playback to now given the measured process value (NaN on
// sensor fault) and returns the setpoint to apply.
func (e *Executor) Tick(measured float64, now time.Time) Status {
	if !e.running {
		return Status{Setpoint: e.setpoint, Step: e.step, Done: true}
	}
	return e.run(measured, now, Status{})
}

// run evaluates steps until one is still in progress. Several steps can
// finish within a single call (jumps, elapsed timers).
func (e *Executor) run(measured float64, now time.Time, st Status) Status {
	for e.running {
		s := e.profile.steps[e.step]
		elapsed := now.Sub(e.stepStart)

		switch s.Kind() {
		case Ramp:
			if elapsed >= s.Duration {
				e.setpoint = s.Endpoint
				e.stepStart = e.stepStart.Add(s.Duration)
				e.enter(e.stepStart, &st)
				continue
			}
			e.setpoint = interpolate(e.startValue, s.Endpoint, elapsed, s.Duration)
		case Soak:
			e.setpoint = s.Endpoint
			if elapsed >= s.Duration {
				e.stepStart = e.stepStart.Add(s.Duration)
				e.enter(e.stepStart, &st)
				continue
			}
		case Jump:
			e.setpoint = s.Endpoint
			e.enter(now, &st)
			continue
		case WaitToCross:
			if e.crossed(measured, s.Endpoint) {
				e.enter(now, &st)
				continue
			}
		default:
			log.Printf("profile: skipping invalid step %d (%s)", e.step, s.Type)
			e.enter(now, &st)
			continue
		}
		break
	}

	st.Setpoint = e.setpoint
	st.Step = e.step
	st.Done = !e.running
	return st
}

// enter moves to the next step, or completes the profile.
func (e *Executor) enter(now time.Time, st *Status) {
	e.step++
	e.stepStart = now
	e.startValue = e.setpoint
	e.direction = 0

	if e.step >= e.profile.Len() {
		e.step = e.profile.Len()
		e.running = false
		if e.progress != nil {
			if err := e.progress.Reset(); err != nil {
				log.Printf("profile: progress reset failed: %v", err)
			}
		}
		return
	}

	st.Entered = true
	if e.profile.steps[e.step].Notify() {
		st.Notify = true
	}
	if e.progress != nil {
		if err := e.progress.Mark(e.step); err != nil {
			log.Printf("profile: progress mark failed: %v", err)
		}
	}
}

// crossed reports whether measured has reached the endpoint. The direction
// is fixed by the first valid measurement of the step; NaN never crosses.
func (e *Executor) crossed(measured float64, endpoint decimal.Decimal[decimal.D1]) bool {
	if math.IsNaN(measured) {
		return false
	}
	v := decimal.FromFloat[decimal.D1](measured)
	if e.direction == 0 {
		if decimal.Less(v, endpoint) {
			e.direction = 1
		} else {
			e.direction = -1
		}
	}
	if e.direction > 0 {
		return decimal.GreaterOrEqual(v, endpoint)
	}
	return decimal.LessOrEqual(v, endpoint)
}

// interpolate returns from + (to-from)·elapsed/total, rounded to D1.
func interpolate(from, to decimal.Decimal[decimal.D1], elapsed, total time.Duration) decimal.Decimal[decimal.D1] {
	if total <= 0 {
		return to
	}
	span := to.Sub(from)
	ms := decimal.New[decimal.D0](int32(elapsed / time.Millisecond))
	totalMs := decimal.New[decimal.D0](int32(total / time.Millisecond))
	return from.Add(decimal.As[decimal.D1](decimal.Quo(decimal.Mul(span, ms), totalMs)))
}
