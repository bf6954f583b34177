package actuator

import (
	"testing"
	"time"

	"github.com/itohio/ospid/pkg/decimal"
	"github.com/itohio/ospid/pkg/nvm"
	"github.com/itohio/ospid/pkg/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pin struct {
	high    bool
	changes int
}

func (p *pin) Set(high bool) {
	p.high = high
	p.changes++
}

func TestSSR_DutyCycle(t *testing.T) {
	tests := []struct {
		name string
		pct  float64
		on   time.Duration // expected on time within one window
	}{
		{"off", 0, 0},
		{"quarter", 25, 1250 * time.Millisecond},
		{"half", 50, 2500 * time.Millisecond},
		{"full", 100, 5 * time.Second},
		{"clamped", 150, 5 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &pin{}
			s := NewSSR(p, DefaultWindow)
			start := time.UnixMilli(0)

			var on time.Duration
			for ms := range 5000 {
				s.Set(tt.pct, start.Add(time.Duration(ms)*time.Millisecond))
				if p.high {
					on += time.Millisecond
				}
			}
			assert.Equal(t, tt.on, on)
		})
	}
}

func TestSSR_OnlyWritesChanges(t *testing.T) {
	p := &pin{}
	s := NewSSR(p, decimal.New[decimal.D1](10))
	for ms := range 3000 {
		s.Set(50, time.UnixMilli(int64(ms)))
	}
	assert.Equal(t, 6, p.changes)
}

func TestSSR_Window(t *testing.T) {
	s := NewSSR(&pin{}, decimal.New[decimal.D1](0))
	assert.Equal(t, "0.1", s.Window().String())
}

type plant struct{ pct float64 }

func (p *plant) SetOutputPercent(pct float64) { p.pct = pct }

func TestSimulated(t *testing.T) {
	p := &plant{}
	s := &Simulated{Plant: p}
	s.Set(-5, time.Time{})
	assert.Equal(t, 0.0, p.pct)
	s.Set(42, time.Time{})
	assert.Equal(t, 42.0, p.pct)
	assert.Equal(t, 42.0, s.Last())
}

func TestSettings(t *testing.T) {
	mem := nvm.NewMemory(16)
	blk := settings.Block{Name: "output", Size: SettingsSize + settings.TrailerSize}

	s := Settings{Window: decimal.New[decimal.D1](125)}
	require.NoError(t, blk.Save(mem, s.Save))

	got := DefaultSettings()
	require.NoError(t, blk.Restore(mem, got.Restore))
	assert.Equal(t, s, got)
}
