// Package autotune derives PID gains with the relay feedback method
// (Åström–Hägglund): the output is switched between two levels around its
// starting value while the process input oscillates, and the ultimate gain
// and period are read off the oscillation.
package autotune

import (
	"math"
	"time"
)

const (
	// MaxPeaks bounds a tuning session: it stops after this many peaks
	// whether or not the oscillation has settled.
	MaxPeaks = 10
	// minPeaks is the number of recorded peaks needed before convergence
	// is checked.
	minPeaks = 3
	// convergence is the largest average peak-to-peak separation, as a
	// fraction of the total input swing, accepted as a periodic oscillation.
	convergence = 0.05

	maxLookBack = 100
)

// ControlType selects which Ziegler–Nichols rule is applied to the result.
type ControlType uint8

const (
	PI ControlType = iota
	PID
)

func (c ControlType) String() string {
	if c == PID {
		return "PID"
	}
	return "PI"
}

// Phase is the state of a tuning session.
type Phase uint8

const (
	Idle Phase = iota
	Running
	Finished
)

func (p Phase) String() string {
	switch p {
	case Running:
		return "running"
	case Finished:
		return "finished"
	}
	return "idle"
}

// Config holds the tuning parameters.
type Config struct {
	OutputStep  float64     // relay amplitude around the starting output
	NoiseBand   float64     // dead band around the setpoint
	LookBackSec int         // peak detection window in seconds
	ControlType ControlType // rule used for the derived gains
}

// DefaultConfig mirrors the classic library defaults.
func DefaultConfig() Config {
	return Config{
		OutputStep:  30,
		NoiseBand:   0.5,
		LookBackSec: 10,
		ControlType: PI,
	}
}

// Peak is one detected local maximum of the input.
type Peak struct {
	Value float64
	Time  time.Time
}

// Result holds the ultimate gain and period and the derived gains.
type Result struct {
	Ku, Pu     float64 // Pu in seconds
	Kp, Ki, Kd float64
	Peaks      int
	// Converged is false when the session hit MaxPeaks without the
	// oscillation settling. The gains are still computed but should be
	// treated with suspicion; retrying with a different step or noise
	// band usually helps.
	Converged bool
}

// Tuner is a single relay auto-tuning session. It is driven by calling
// Sample at the control loop cadence and never blocks.
type Tuner struct {
	cfg        Config
	sampleTime time.Duration
	depth      int

	phase       Phase
	started     bool
	lastSample  time.Time
	setpoint    float64
	outputStart float64
	output      float64

	history [maxLookBack]float64
	filled  int

	absMax, absMin float64
	direction      int // +1 rising, -1 falling, 0 unknown
	candidate      Peak
	peaks          [MaxPeaks]Peak
	peakCount      int

	result Result
}

// New returns an idle tuner.
func New(cfg Config) *Tuner {
	t := &Tuner{cfg: cfg}
	t.SetLookBack(cfg.LookBackSec)
	return t
}

// SetLookBack sets the peak detection window. Short windows sample every
// 250 ms with four samples per second of look-back; windows of 25 s and
// more keep 100 samples and stretch the sample period instead. Values
// below one second are clamped to one.
func (t *Tuner) SetLookBack(sec int) {
	if sec < 1 {
		sec = 1
	}
	t.cfg.LookBackSec = sec
	if sec < 25 {
		t.depth = sec * 4
		t.sampleTime = 250 * time.Millisecond
	} else {
		t.depth = maxLookBack
		t.sampleTime = time.Duration(sec*10) * time.Millisecond
	}
}

// LookBack returns the effective look-back window.
func (t *Tuner) LookBack() time.Duration {
	return time.Duration(t.depth) * t.sampleTime
}

// SampleTime returns the minimum interval between accepted samples.
func (t *Tuner) SampleTime() time.Duration { return t.sampleTime }

// Config returns the tuning parameters.
func (t *Tuner) Config() Config { return t.cfg }

// Phase returns the session state.
func (t *Tuner) Phase() Phase { return t.phase }

// Output returns the output the tuner currently wants applied.
func (t *Tuner) Output() float64 { return t.output }

// Result returns the outcome of the last finished session.
func (t *Tuner) Result() Result { return t.result }

// Start arms a new session. output is the actuator value in effect now; it
// is restored when the session finishes.
func (t *Tuner) Start(output float64) {
	cfg := t.cfg
	*t = Tuner{cfg: cfg}
	t.SetLookBack(cfg.LookBackSec)
	t.phase = Running
	t.outputStart = output
	t.output = output
}

// Cancel stops the session without computing results. The output returns
// to its starting value. It is safe to call in any phase.
func (t *Tuner) Cancel() {
	if t.phase == Running {
		t.output = t.outputStart
	}
	t.phase = Idle
}

// Sample feeds one input reading taken at now and returns the output to
// apply together with the session phase. Calls closer together than the
// sample period are no-ops, as are NaN inputs (sensor fault).
func (t *Tuner) Sample(input float64, now time.Time) (float64, Phase) {
	if t.phase != Running || math.IsNaN(input) {
		return t.output, t.phase
	}
	if t.started && now.Sub(t.lastSample) < t.sampleTime {
		return t.output, t.phase
	}
	t.lastSample = now

	if !t.started {
		t.started = true
		t.setpoint = input
		t.absMax, t.absMin = input, input
		t.output = t.outputStart + t.cfg.OutputStep
	} else {
		t.absMax = math.Max(t.absMax, input)
		t.absMin = math.Min(t.absMin, input)
	}

	// Relay: push the process back towards the setpoint.
	switch {
	case input > t.setpoint+t.cfg.NoiseBand:
		t.output = t.outputStart - t.cfg.OutputStep
	case input < t.setpoint-t.cfg.NoiseBand:
		t.output = t.outputStart + t.cfg.OutputStep
	}

	isMax, isMin := t.push(input)
	switch {
	case isMax:
		if t.direction == -1 {
			t.reversal()
		}
		t.direction = 1
		t.candidate = Peak{Value: input, Time: now}
	case isMin:
		if t.direction == 1 {
			t.commit()
			t.reversal()
		}
		t.direction = -1
	}

	return t.output, t.phase
}

// push compares input against the buffered history, then shifts it in.
// No verdict is given until a full window of older samples exists.
func (t *Tuner) push(input float64) (isMax, isMin bool) {
	isMax, isMin = true, true
	for i := t.filled - 1; i >= 0; i-- {
		v := t.history[i]
		isMax = isMax && input > v
		isMin = isMin && input < v
		if i+1 < t.depth {
			t.history[i+1] = v
		}
	}
	t.history[0] = input

	if t.filled < t.depth {
		t.filled++
		return false, false
	}
	return isMax, isMin
}

// commit records the maximum of the rise that just ended.
func (t *Tuner) commit() {
	if t.peakCount < MaxPeaks {
		t.peaks[t.peakCount] = t.candidate
	}
	t.peakCount++
}

// reversal runs on every change of direction and ends the session when the
// last peaks agree or the peak budget is spent.
func (t *Tuner) reversal() {
	if t.peakCount >= MaxPeaks {
		t.finish(false)
		return
	}
	if t.peakCount < minPeaks {
		return
	}
	p := t.peaks[:t.peakCount]
	n := len(p)
	separation := (math.Abs(p[n-1].Value-p[n-2].Value) + math.Abs(p[n-2].Value-p[n-3].Value)) / 2
	if separation < convergence*(t.absMax-t.absMin) {
		t.finish(true)
	}
}

func (t *Tuner) finish(converged bool) {
	t.output = t.outputStart
	t.phase = Finished

	n := min(t.peakCount, MaxPeaks)
	r := Result{Peaks: t.peakCount, Converged: converged}
	if swing := t.absMax - t.absMin; swing > 0 {
		r.Ku = 4 * t.cfg.OutputStep / (math.Pi * swing)
	}
	if n >= 2 {
		r.Pu = t.peaks[n-1].Time.Sub(t.peaks[n-2].Time).Seconds()
	}
	r.Kp, r.Ki, r.Kd = Gains(t.cfg.ControlType, r.Ku, r.Pu)
	t.result = r
}

// Gains applies the Ziegler–Nichols relay rules to the ultimate gain and
// period (seconds).
func Gains(ct ControlType, ku, pu float64) (kp, ki, kd float64) {
	if ct == PID {
		kp = 0.6 * ku
		kd = 0.075 * ku * pu
		if pu > 0 {
			ki = 1.2 * ku / pu
		}
		return kp, ki, kd
	}
	kp = 0.4 * ku
	if pu > 0 {
		ki = 0.48 * ku / pu
	}
	return kp, ki, 0
}
