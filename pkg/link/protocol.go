// Package link carries the line protocol between the controller and a
// host: commands go down, status lines come up.
package link

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/itohio/ospid/pkg/controller"
	"github.com/itohio/ospid/pkg/decimal"
)

var (
	ErrNotConnected = errors.New("link: not connected")
	ErrBadCommand   = errors.New("link: bad command")
)

// Op is a single letter command.
type Op byte

const (
	OpSetpoint Op = 'S' // S <setpoint>
	OpManual   Op = 'M' // M <percent>, also switches to manual
	OpPID      Op = 'L' // closed loop on the current setpoint
	OpTune     Op = 'A' // start auto-tune
	OpCancel   Op = 'C' // cancel auto-tune
	OpProfile  Op = 'P' // P <slot>, run a stored profile
	OpAbort    Op = 'X' // abort the running profile
	OpQuery    Op = 'Q' // reply with a status line
	OpClear    Op = 'R' // release a latched trip
)

// Command is one parsed command line.
type Command struct {
	Op    Op
	Value decimal.Decimal[decimal.D1] // setpoint or percent
	Slot  int
}

// String formats the command as sent over the wire, without newline.
func (c Command) String() string {
	switch c.Op {
	case OpSetpoint, OpManual:
		return fmt.Sprintf("%c %s", c.Op, c.Value)
	case OpProfile:
		return fmt.Sprintf("%c %d", c.Op, c.Slot)
	}
	return string(c.Op)
}

// ParseCommand parses a command line.
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 || len(fields[0]) != 1 {
		return Command{}, fmt.Errorf("%q: %w", line, ErrBadCommand)
	}
	cmd := Command{Op: Op(strings.ToUpper(fields[0])[0])}

	switch cmd.Op {
	case OpSetpoint, OpManual:
		if len(fields) != 2 {
			return Command{}, fmt.Errorf("%q: expected one value: %w", line, ErrBadCommand)
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return Command{}, fmt.Errorf("%q: invalid value: %w", line, ErrBadCommand)
		}
		if !decimal.Fits[decimal.D1](v) {
			return Command{}, fmt.Errorf("%q: value out of range: %w", line, ErrBadCommand)
		}
		cmd.Value = decimal.FromFloat[decimal.D1](v)
	case OpProfile:
		if len(fields) != 2 {
			return Command{}, fmt.Errorf("%q: expected a slot: %w", line, ErrBadCommand)
		}
		slot, err := strconv.Atoi(fields[1])
		if err != nil {
			return Command{}, fmt.Errorf("%q: invalid slot: %w", line, ErrBadCommand)
		}
		cmd.Slot = slot
	case OpPID, OpTune, OpCancel, OpAbort, OpQuery, OpClear:
		if len(fields) != 1 {
			return Command{}, fmt.Errorf("%q: unexpected argument: %w", line, ErrBadCommand)
		}
	default:
		return Command{}, fmt.Errorf("%q: unknown command: %w", line, ErrBadCommand)
	}
	return cmd, nil
}

// Apply executes cmd on c. A query has no effect on the controller.
func Apply(c *controller.Controller, cmd Command, now time.Time) error {
	switch cmd.Op {
	case OpSetpoint:
		return c.SetSetpoint(cmd.Value)
	case OpManual:
		if err := c.SetMode(controller.Manual, now); err != nil {
			return err
		}
		c.SetManualOutput(cmd.Value)
	case OpPID:
		return c.SetMode(controller.PID, now)
	case OpTune:
		return c.StartAutoTune()
	case OpCancel:
		c.CancelAutoTune()
	case OpProfile:
		return c.RunProfile(cmd.Slot, now)
	case OpAbort:
		c.AbortProfile()
	case OpClear:
		c.ClearTrip()
	case OpQuery:
	default:
		return fmt.Errorf("%s: %w", cmd, ErrBadCommand)
	}
	return nil
}

// Handle parses and applies one command line and returns the reply line:
// a status line for a query, "OK" or "ERR <reason>" otherwise.
func Handle(c *controller.Controller, line string, now time.Time) string {
	cmd, err := ParseCommand(line)
	if err == nil {
		err = Apply(c, cmd, now)
	}
	if err != nil {
		return "ERR " + err.Error()
	}
	if cmd.Op == OpQuery {
		return FormatStatus(c.Status(now))
	}
	return "OK"
}

// Sample is a status line as received by the host.
type Sample struct {
	Timestamp time.Time
	Input     float64 // NaN on sensor fault
	Setpoint  decimal.Decimal[decimal.D1]
	Output    decimal.Decimal[decimal.D1]
	Mode      controller.Mode
}

// NewSample converts a controller status to what a host receives.
func NewSample(st controller.Status) Sample {
	return Sample{
		Timestamp: st.Time,
		Input:     st.Input,
		Setpoint:  st.Setpoint,
		Output:    decimal.FromFloat[decimal.D1](st.Output),
		Mode:      st.Mode,
	}
}

// FormatStatus renders a status line.
// Format: unix_micros,input,setpoint,output,mode
// Example: 1234567890123,231.4,250.0,62.5,pid
func FormatStatus(st controller.Status) string {
	input := "nan"
	if !math.IsNaN(st.Input) {
		input = decimal.FromFloat[decimal.D1](st.Input).String()
	}
	return fmt.Sprintf("%d,%s,%s,%s,%s",
		st.Time.UnixMicro(),
		input,
		st.Setpoint,
		decimal.FromFloat[decimal.D1](st.Output),
		st.Mode,
	)
}

// ParseStatus parses a status line produced by FormatStatus.
func ParseStatus(line string) (Sample, error) {
	parts := strings.Split(line, ",")
	if len(parts) != 5 {
		return Sample{}, fmt.Errorf("invalid line format: expected 5 comma-separated values, got %d", len(parts))
	}

	micros, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Sample{}, fmt.Errorf("invalid timestamp: %w", err)
	}

	input := math.NaN()
	if parts[1] != "nan" {
		input, err = strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return Sample{}, fmt.Errorf("invalid input: %w", err)
		}
	}

	setpoint, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return Sample{}, fmt.Errorf("invalid setpoint: %w", err)
	}
	output, err := strconv.ParseFloat(parts[3], 64)
	if err != nil {
		return Sample{}, fmt.Errorf("invalid output: %w", err)
	}
	if output < 0 || output > 100 {
		return Sample{}, fmt.Errorf("output out of range: %g", output)
	}

	mode, err := controller.ParseMode(parts[4])
	if err != nil {
		return Sample{}, err
	}

	return Sample{
		Timestamp: time.UnixMicro(micros),
		Input:     input,
		Setpoint:  decimal.FromFloat[decimal.D1](setpoint),
		Output:    decimal.FromFloat[decimal.D1](output),
		Mode:      mode,
	}, nil
}
