package sensor

import (
	"math/rand/v2"
	"time"
)

// PlantParams describe the simulated first-order plant.
type PlantParams struct {
	Gain      float64 // process gain, degrees per percent output
	TimeConst float64 // time constant in samples
	DeadTime  int     // transport delay in samples
	Noise     float64 // peak measurement noise, degrees
}

// DefaultPlant is a slow oven-like plant.
func DefaultPlant() PlantParams {
	return PlantParams{Gain: 1.5, TimeConst: 100, DeadTime: 30, Noise: 0.1}
}

const (
	plantInputStart  = 250.0
	plantOutputStart = 50.0
)

// Simulator is a plant model used both as the sensor and as the actuator.
// Each Read advances the model by one sample; SetOutputPercent feeds the
// end of the dead time line.
type Simulator struct {
	params PlantParams
	input  float64
	theta  []float64
	head   int
	rnd    *rand.Rand
}

var _ Sensor = (*Simulator)(nil)

// NewSimulator returns a plant at rest at its operating point. seed makes
// the noise reproducible.
func NewSimulator(params PlantParams, seed uint64) *Simulator {
	if params.TimeConst < 1 {
		params.TimeConst = 1
	}
	s := &Simulator{
		params: params,
		theta:  make([]float64, max(params.DeadTime, 1)),
		rnd:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
	s.Reset()
	return s
}

// Reset returns the plant to its operating point.
func (s *Simulator) Reset() {
	s.input = plantInputStart
	for i := range s.theta {
		s.theta[i] = plantOutputStart
	}
	s.head = 0
}

// Params returns the plant parameters.
func (s *Simulator) Params() PlantParams { return s.params }

// RequestConversion is a no-op.
func (s *Simulator) RequestConversion() time.Duration { return 0 }

// SetOutputPercent applies the control output, delayed by the dead time.
func (s *Simulator) SetOutputPercent(pct float64) {
	last := (s.head + len(s.theta) - 1) % len(s.theta)
	s.theta[last] = pct
}

// Read advances the model one sample and returns the process value.
func (s *Simulator) Read() float64 {
	u := s.theta[s.head]
	next := (s.head + 1) % len(s.theta)
	// the slot just consumed becomes the newest and holds the last output
	s.theta[s.head] = s.theta[(s.head+len(s.theta)-1)%len(s.theta)]
	s.head = next

	p := s.params
	s.input = p.Gain/p.TimeConst*(u-plantOutputStart) +
		(s.input-plantInputStart)*(1-1/p.TimeConst) + plantInputStart
	if p.Noise > 0 {
		return s.input + (s.rnd.Float64()*2-1)*p.Noise
	}
	return s.input
}
