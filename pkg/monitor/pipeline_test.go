package monitor

import (
	"math"
	"testing"
	"time"

	"github.com/itohio/ospid/pkg/link"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSmooth(t *testing.T) {
	in := make(chan link.Sample, 5)
	now := time.Now()
	for i, v := range []float64{10, 20, math.NaN(), 30, 40} {
		in <- sampleAt(now, i, v, 50)
	}
	close(in)

	var got []float64
	for s := range Smooth(3, 0)(in) {
		got = append(got, s.Input)
		assert.Equal(t, "50.0", s.Setpoint.String())
	}

	require.Len(t, got, 5)
	assert.InDelta(t, 10, got[0], 1e-9)
	assert.InDelta(t, 15, got[1], 1e-9)
	assert.InDelta(t, 15, got[2], 1e-9, "missing reading is skipped")
	assert.InDelta(t, 25, got[3], 1e-9)
	assert.InDelta(t, 35, got[4], 1e-9)
}

func TestSmooth_AllMissing(t *testing.T) {
	in := make(chan link.Sample, 2)
	in <- sampleAt(time.Now(), 0, math.NaN(), 50)
	close(in)

	s, ok := <-Smooth(4, 1)(in)
	require.True(t, ok)
	assert.True(t, math.IsNaN(s.Input))
}

func TestDownsample_NoDownsampling(t *testing.T) {
	now := time.Now()
	samples := []link.Sample{
		sampleAt(now, 0, 1, 0),
		sampleAt(now, 1, 2, 0),
		sampleAt(now, 2, 3, 0),
	}

	result := Downsample(nil, samples, 10)
	assert.Equal(t, samples, result)

	dst := make([]link.Sample, 0, 10)
	result = Downsample(dst, samples, 10)
	assert.Equal(t, samples, result)
	assert.Equal(t, cap(dst), cap(result), "dst is reused")
}

func TestDownsample_WithDownsampling(t *testing.T) {
	now := time.Now()
	samples := make([]link.Sample, 100)
	for i := range samples {
		samples[i] = sampleAt(now, i, float64(i), 0)
	}

	result := Downsample(make([]link.Sample, 0, 20), samples, 10)
	require.Len(t, result, 10)
	assert.Equal(t, samples[0], result[0])
	assert.Equal(t, 90.0, result[9].Input)
	for i := 1; i < len(result); i++ {
		assert.True(t, result[i].Timestamp.After(result[i-1].Timestamp))
	}
}
