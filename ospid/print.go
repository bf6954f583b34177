package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/itohio/ospid/pkg/link"
	"github.com/itohio/ospid/pkg/monitor"
)

// newPrinter writes one line per sample and logs each excursion once it
// has ended.
func newPrinter(w io.Writer) monitor.UpdateFunc {
	var reported time.Time
	return func(samples []link.Sample, rates []float64, excursions []monitor.Excursion) {
		if len(samples) == 0 {
			return
		}
		rate := math.NaN()
		if len(rates) > 0 {
			rate = rates[len(rates)-1]
		}
		fmt.Fprintln(w, formatSample(samples[len(samples)-1], rate))

		for _, e := range excursions {
			if !e.Open && e.EndTime.After(reported) {
				log.Printf("Excursion %+.1f for %s", e.Peak, e.Duration())
				reported = e.EndTime
			}
		}
	}
}

func formatSample(s link.Sample, rate float64) string {
	return fmt.Sprintf("%s  %-7s PV %s  SP %6s  OUT %5s%%  %s/min",
		s.Timestamp.Format("15:04:05"),
		s.Mode,
		formatFloat(s.Input, "%6.1f"),
		s.Setpoint,
		s.Output,
		formatFloat(rate, "%+5.1f"),
	)
}

func formatFloat(v float64, format string) string {
	if math.IsNaN(v) {
		return fmt.Sprintf("%6s", "---")
	}
	return fmt.Sprintf(format, v)
}

// writeCSV writes samples with a header row.
func writeCSV(path string, samples []link.Sample) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"time", "input", "setpoint", "output", "mode"}); err != nil {
		return err
	}
	for _, s := range samples {
		if err := w.Write([]string{
			s.Timestamp.Format(time.RFC3339Nano),
			strconv.FormatFloat(s.Input, 'f', 2, 64),
			s.Setpoint.String(),
			s.Output.String(),
			s.Mode.String(),
		}); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}
