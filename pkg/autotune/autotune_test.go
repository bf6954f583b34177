package autotune

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sine returns a synthetic process input oscillating around base with the
// given period and an amplitude that may grow by growth per period.
func sine(base, amplitude, growth float64, period time.Duration) func(time.Duration) float64 {
	return func(elapsed time.Duration) float64 {
		cycles := elapsed.Seconds() / period.Seconds()
		a := amplitude * math.Pow(growth, cycles)
		return base + a*math.Sin(2*math.Pi*cycles)
	}
}

// drive samples input every step until the tuner leaves the running phase or
// limit elapses.
func drive(t *testing.T, tuner *Tuner, input func(time.Duration) float64, step, limit time.Duration) time.Time {
	t.Helper()
	start := time.Unix(1000, 0)
	for elapsed := time.Duration(0); elapsed <= limit; elapsed += step {
		now := start.Add(elapsed)
		if _, phase := tuner.Sample(input(elapsed), now); phase != Running {
			return now
		}
	}
	return time.Time{}
}

func TestSetLookBack(t *testing.T) {
	tests := []struct {
		name       string
		sec        int
		wantSample time.Duration
		wantWindow time.Duration
	}{
		{name: "clamped", sec: 0, wantSample: 250 * time.Millisecond, wantWindow: time.Second},
		{name: "negative", sec: -5, wantSample: 250 * time.Millisecond, wantWindow: time.Second},
		{name: "short", sec: 10, wantSample: 250 * time.Millisecond, wantWindow: 10 * time.Second},
		{name: "just below long", sec: 24, wantSample: 250 * time.Millisecond, wantWindow: 24 * time.Second},
		{name: "long", sec: 25, wantSample: 250 * time.Millisecond, wantWindow: 25 * time.Second},
		{name: "very long", sec: 100, wantSample: time.Second, wantWindow: 100 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tuner := New(Config{LookBackSec: tt.sec})
			assert.Equal(t, tt.wantSample, tuner.SampleTime())
			assert.Equal(t, tt.wantWindow, tuner.LookBack())
		})
	}
}

func TestSample_IdleIsNoop(t *testing.T) {
	tuner := New(DefaultConfig())
	out, phase := tuner.Sample(20, time.Now())
	assert.Equal(t, Idle, phase)
	assert.Equal(t, float64(0), out)
}

func TestSample_FirstSampleAppliesStep(t *testing.T) {
	tuner := New(Config{OutputStep: 20, NoiseBand: 1, LookBackSec: 10})
	tuner.Start(50)

	out, phase := tuner.Sample(100, time.Unix(0, 0))
	assert.Equal(t, Running, phase)
	assert.Equal(t, float64(70), out)

	// Above the band the relay switches low.
	out, _ = tuner.Sample(101.5, time.Unix(1, 0))
	assert.Equal(t, float64(30), out)

	// Inside the band the relay holds.
	out, _ = tuner.Sample(100.5, time.Unix(2, 0))
	assert.Equal(t, float64(30), out)

	// Below the band it switches high again.
	out, _ = tuner.Sample(98.9, time.Unix(3, 0))
	assert.Equal(t, float64(70), out)
}

func TestSample_FasterThanPeriodIsNoop(t *testing.T) {
	cfg := Config{OutputStep: 10, NoiseBand: 0.5, LookBackSec: 2}
	input := sine(50, 1, 1, 4*time.Second)

	paced := New(cfg)
	hurried := New(cfg)
	paced.Start(40)
	hurried.Start(40)

	start := time.Unix(0, 0)
	for i := range 40 {
		now := start.Add(time.Duration(i) * 250 * time.Millisecond)
		v := input(time.Duration(i) * 250 * time.Millisecond)
		paced.Sample(v, now)
		hurried.Sample(v, now)

		// Extra calls inside the sample period must not change anything.
		hurried.Sample(v+100, now.Add(100*time.Millisecond))
		hurried.Sample(v-100, now.Add(249*time.Millisecond))
	}

	assert.Equal(t, paced, hurried)
}

func TestSample_NaNIsIgnored(t *testing.T) {
	tuner := New(DefaultConfig())
	tuner.Start(10)
	tuner.Sample(25, time.Unix(0, 0))
	before := *tuner

	tuner.Sample(math.NaN(), time.Unix(10, 0))
	assert.Equal(t, before, *tuner)
}

func TestTuner_ConvergesOnPeriodicInput(t *testing.T) {
	step := 20.0
	tuner := New(Config{OutputStep: step, NoiseBand: 0.1, LookBackSec: 10, ControlType: PID})
	tuner.Start(50)

	end := drive(t, tuner, sine(100, 1, 1, 20*time.Second), 250*time.Millisecond, 10*time.Minute)
	require.False(t, end.IsZero(), "tuner did not stop")

	assert.Equal(t, Finished, tuner.Phase())
	assert.Equal(t, float64(50), tuner.Output())

	r := tuner.Result()
	assert.True(t, r.Converged)
	assert.Equal(t, 3, r.Peaks)
	assert.InDelta(t, 4*step/(math.Pi*2), r.Ku, 1e-9)
	assert.InDelta(t, 20.0, r.Pu, 1e-9)
	assert.InDelta(t, 0.6*r.Ku, r.Kp, 1e-12)
	assert.InDelta(t, 1.2*r.Ku/r.Pu, r.Ki, 1e-12)
	assert.InDelta(t, 0.075*r.Ku*r.Pu, r.Kd, 1e-12)
}

func TestTuner_HardStopWithoutConvergence(t *testing.T) {
	tuner := New(Config{OutputStep: 10, NoiseBand: 0.1, LookBackSec: 5})
	tuner.Start(0)

	end := drive(t, tuner, sine(100, 1, 1.5, 10*time.Second), 250*time.Millisecond, 30*time.Minute)
	require.False(t, end.IsZero(), "tuner did not stop")

	r := tuner.Result()
	assert.Equal(t, Finished, tuner.Phase())
	assert.False(t, r.Converged)
	assert.Equal(t, MaxPeaks, r.Peaks)
	assert.Greater(t, r.Ku, 0.0)
	assert.InDelta(t, 10.0, r.Pu, 0.5)
}

func TestCancel(t *testing.T) {
	tuner := New(DefaultConfig())
	tuner.Cancel()
	assert.Equal(t, Idle, tuner.Phase())

	tuner.Start(40)
	out, _ := tuner.Sample(20, time.Unix(0, 0))
	assert.Equal(t, float64(70), out)

	tuner.Cancel()
	assert.Equal(t, Idle, tuner.Phase())
	assert.Equal(t, float64(40), tuner.Output())
	assert.Equal(t, Result{}, tuner.Result())

	_, phase := tuner.Sample(30, time.Unix(5, 0))
	assert.Equal(t, Idle, phase)
}

func TestGains(t *testing.T) {
	kp, ki, kd := Gains(PID, 2, 10)
	assert.InDelta(t, 1.2, kp, 1e-12)
	assert.InDelta(t, 0.24, ki, 1e-12)
	assert.InDelta(t, 1.5, kd, 1e-12)

	kp, ki, kd = Gains(PI, 2, 10)
	assert.InDelta(t, 0.8, kp, 1e-12)
	assert.InDelta(t, 0.096, ki, 1e-12)
	assert.Equal(t, float64(0), kd)

	_, ki, _ = Gains(PID, 2, 0)
	assert.Equal(t, float64(0), ki)
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "PID", PID.String())
	assert.Equal(t, "PI", PI.String())
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "idle", Idle.String())
}
