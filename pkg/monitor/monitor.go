// Package monitor keeps a host-side history of controller status samples
// and derives what an operator watches for: how fast the process value is
// moving and when it strays outside a band around the setpoint.
package monitor

import (
	"math"
	"sync"
	"time"

	"github.com/itohio/ospid/pkg/config"
	"github.com/itohio/ospid/pkg/link"
	"github.com/itohio/ospid/pkg/mathx"
)

var _ History = (*Monitor)(nil)

// Excursion is a stretch of samples whose process value stayed outside the
// band around the setpoint.
type Excursion struct {
	StartIndex int // first sample in the window, clamped to 0 once it scrolls out
	EndIndex   int
	StartTime  time.Time
	EndTime    time.Time
	Peak       float64 // signed deviation with the largest magnitude
	Open       bool    // still outside the band at the latest sample
}

// Duration is the time spent outside the band.
func (e Excursion) Duration() time.Duration { return e.EndTime.Sub(e.StartTime) }

// UpdateFunc receives copies of the history after every sample.
type UpdateFunc func(samples []link.Sample, rates []float64, excursions []Excursion)

// History consumes samples and exposes the windowed view.
type History interface {
	ProcessSamples(input <-chan link.Sample)
	Samples() []link.Sample
	Rates() []float64
	Excursions() []Excursion
	OnUpdate(UpdateFunc)
}

// Monitor implements History.
//
// rates[i] is the change from samples[i] to samples[i+1] in degrees per
// minute, so n samples always have n-1 rates. Samples leave the window by
// timestamp, not by count.
type Monitor struct {
	mu         sync.RWMutex
	samples    []link.Sample
	rates      []float64
	excursions []Excursion
	shutdown   bool

	cbMu      sync.RWMutex
	callbacks []UpdateFunc

	window       time.Duration
	band         float64
	minExcursion time.Duration
}

// New creates a monitor from the monitor section of cfg.
func New(cfg *config.Config) *Monitor {
	return &Monitor{
		window:       time.Duration(cfg.Monitor.WindowSeconds * float64(time.Second)),
		band:         math.Abs(cfg.Monitor.Band),
		minExcursion: time.Duration(cfg.Monitor.MinExcursion * float64(time.Second)),
	}
}

// ProcessSamples consumes input until it is closed. No callbacks are made
// after that until ResetShutdown.
func (m *Monitor) ProcessSamples(input <-chan link.Sample) {
	for s := range input {
		m.processSample(s)
	}
	m.mu.Lock()
	m.shutdown = true
	m.mu.Unlock()
}

// ResetShutdown re-enables callbacks for a new input stream.
func (m *Monitor) ResetShutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdown = false
}

func (m *Monitor) processSample(s link.Sample) {
	m.mu.Lock()
	m.samples = append(m.samples, s)
	if n := len(m.samples); n >= 2 {
		m.rates = append(m.rates, rate(m.samples[n-2], m.samples[n-1]))
	}
	m.prune(s.Timestamp.Add(-m.window))
	m.updateExcursions()
	notify := !m.shutdown
	m.mu.Unlock()

	if notify {
		m.notifyCallbacks()
	}
}

// rate is NaN when either value is missing or time did not advance.
func rate(prev, curr link.Sample) float64 {
	dt := curr.Timestamp.Sub(prev.Timestamp)
	if dt <= 0 {
		return math.NaN()
	}
	return (curr.Input - prev.Input) / dt.Minutes()
}

// prune drops samples at or before cutoff, keeping the newest one.
func (m *Monitor) prune(cutoff time.Time) {
	drop := 0
	for drop < len(m.samples)-1 && !m.samples[drop].Timestamp.After(cutoff) {
		drop++
	}
	if drop == 0 {
		return
	}

	m.samples = m.samples[drop:]
	m.rates = m.rates[min(drop, len(m.rates)):]

	kept := m.excursions[:0]
	for _, e := range m.excursions {
		e.StartIndex -= drop
		e.EndIndex -= drop
		if e.EndIndex < 0 {
			continue
		}
		e.StartIndex = max(e.StartIndex, 0)
		kept = append(kept, e)
	}
	m.excursions = kept
}

func (m *Monitor) updateExcursions() {
	last := len(m.samples) - 1
	s := m.samples[last]
	dev := s.Input - s.Setpoint.Float64()

	var active *Excursion
	if n := len(m.excursions); n > 0 && m.excursions[n-1].Open {
		active = &m.excursions[n-1]
	}

	if math.IsNaN(dev) || math.Abs(dev) <= m.band {
		if active != nil {
			active.Open = false
		}
		return
	}

	// a sign change across the band is a new excursion
	if active != nil && mathx.Sign(active.Peak) != mathx.Sign(dev) {
		active.Open = false
		active = nil
	}
	if active == nil {
		m.excursions = append(m.excursions, Excursion{
			StartIndex: last,
			StartTime:  s.Timestamp,
			Open:       true,
		})
		active = &m.excursions[len(m.excursions)-1]
	}
	active.EndIndex = last
	active.EndTime = s.Timestamp
	if math.Abs(dev) > math.Abs(active.Peak) {
		active.Peak = dev
	}
}

// Samples returns a copy of the window, oldest first.
func (m *Monitor) Samples() []link.Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]link.Sample(nil), m.samples...)
}

// Rates returns a copy of the rates, in degrees per minute.
func (m *Monitor) Rates() []float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]float64(nil), m.rates...)
}

// Excursions returns the excursions that lasted at least the configured
// minimum. An open excursion is reported once it is long enough.
func (m *Monitor) Excursions() []Excursion {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reportable()
}

func (m *Monitor) reportable() []Excursion {
	out := make([]Excursion, 0, len(m.excursions))
	for _, e := range m.excursions {
		if e.Duration() >= m.minExcursion {
			out = append(out, e)
		}
	}
	return out
}

// OnUpdate registers a callback. Callbacks run on the ProcessSamples
// goroutine and should return quickly.
func (m *Monitor) OnUpdate(cb UpdateFunc) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

func (m *Monitor) notifyCallbacks() {
	m.mu.RLock()
	samples := append([]link.Sample(nil), m.samples...)
	rates := append([]float64(nil), m.rates...)
	excursions := m.reportable()
	m.mu.RUnlock()

	m.cbMu.RLock()
	callbacks := append([]UpdateFunc(nil), m.callbacks...)
	m.cbMu.RUnlock()

	for _, cb := range callbacks {
		if cb != nil {
			cb(samples, rates, excursions)
		}
	}
}
