package monitor

import (
	"math"

	"github.com/itohio/ospid/pkg/link"
)

// Smooth returns a stage that replaces each sample's process value with the
// mean of the last window inputs. Missing readings are left out of the
// mean; a window of only missing readings stays NaN. Setpoint, output and
// mode are passed through from the newest sample.
func Smooth(window, bufSize int) func(in <-chan link.Sample) <-chan link.Sample {
	if window <= 0 {
		window = 1
	}
	if bufSize <= 0 {
		bufSize = link.DefaultBufferSize
	}

	return func(in <-chan link.Sample) <-chan link.Sample {
		out := make(chan link.Sample, bufSize)

		go func() {
			defer close(out)

			buf := make([]float64, 0, window)
			for s := range in {
				if len(buf) == window {
					buf = buf[1:]
				}
				buf = append(buf, s.Input)
				s.Input = mean(buf)
				out <- s
			}
		}()

		return out
	}
}

func mean(values []float64) float64 {
	var sum float64
	n := 0
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

// Downsample decimates samples to at most maxPoints, reusing dst when it
// has the capacity.
func Downsample(dst, samples []link.Sample, maxPoints int) []link.Sample {
	if maxPoints <= 0 || len(samples) <= maxPoints {
		return append(dst[:0], samples...)
	}

	dst = dst[:0]
	step := float64(len(samples)) / float64(maxPoints)
	for i := range maxPoints {
		dst = append(dst, samples[int(float64(i)*step)])
	}
	return dst
}
