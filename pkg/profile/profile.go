// Package profile holds multi-step setpoint programs and the run-time
// cursor that plays them back.
package profile

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/itohio/ospid/pkg/decimal"
)

// StepType is the persisted type byte of a step. The low bits select the
// kind of step; FlagNotify requests a cue on entry and FlagSwizzle is
// reserved for storage.
type StepType uint8

const (
	Ramp        StepType = 0 // ramp linearly to the endpoint over the duration
	Soak        StepType = 1 // hold the endpoint for the duration
	Jump        StepType = 2 // set the endpoint immediately
	WaitToCross StepType = 3 // wait until the process value crosses the endpoint

	lastValid = WaitToCross

	// FlagNotify asks for an audible/visual cue when the step is entered.
	FlagNotify StepType = 0x40
	// FlagSwizzle is toggled by the storage layer so that a saved profile
	// never has a CRC of 0x0000. It is never part of a step's content.
	FlagSwizzle StepType = 0x80

	// Invalid marks an unused step slot.
	Invalid StepType = 0x7F

	ContentMask StepType = 0x7F
	TypeMask    StepType = 0x3F
)

func (t StepType) String() string {
	switch t & TypeMask {
	case Ramp:
		return "ramp"
	case Soak:
		return "soak"
	case Jump:
		return "jump"
	case WaitToCross:
		return "wait"
	}
	return fmt.Sprintf("invalid(%#02x)", uint8(t))
}

// ParseStepType is the inverse of StepType.String for valid kinds.
func ParseStepType(s string) (StepType, error) {
	switch s {
	case "ramp":
		return Ramp, nil
	case "soak":
		return Soak, nil
	case "jump":
		return Jump, nil
	case "wait":
		return WaitToCross, nil
	}
	return Invalid, fmt.Errorf("unknown step type %q: %w", s, ErrInvalidStep)
}

const (
	// MaxSteps is the fixed step capacity of a profile.
	MaxSteps = 16
	// NameLength is the longest profile name that can be stored.
	NameLength = 15
	// MaxDuration is the longest step duration that can be stored.
	MaxDuration = time.Duration(math.MaxInt32) * time.Millisecond

	// DefaultName is the name of a cleared profile.
	DefaultName = "No Profile"
)

var (
	ErrFull        = errors.New("profile: no room for another step")
	ErrReservedBit = errors.New("profile: step type uses the reserved swizzle bit")
	ErrInvalidStep = errors.New("profile: invalid step")
)

// Step is one element of a profile.
type Step struct {
	Type     StepType
	Duration time.Duration
	Endpoint decimal.Decimal[decimal.D1]
}

// Kind returns the step kind without flags.
func (s Step) Kind() StepType { return s.Type & TypeMask }

// Notify reports whether the step requests a cue on entry.
func (s Step) Notify() bool { return s.Type&FlagNotify != 0 }

// Profile is a named, append-only sequence of up to MaxSteps steps.
type Profile struct {
	name  string
	steps [MaxSteps]Step
	count int
}

// New returns an empty profile with the given name, truncated to NameLength.
func New(name string) *Profile {
	p := &Profile{}
	p.Clear()
	p.SetName(name)
	return p
}

// Clear removes all steps and resets the name.
func (p *Profile) Clear() {
	p.name = DefaultName
	p.count = 0
	for i := range p.steps {
		p.steps[i] = Step{Type: Invalid, Duration: -1, Endpoint: decimal.New[decimal.D1](-1)}
	}
}

// Name returns the profile name.
func (p *Profile) Name() string { return p.name }

// SetName sets the profile name, truncated to NameLength bytes.
func (p *Profile) SetName(name string) {
	if len(name) > NameLength {
		name = name[:NameLength]
	}
	p.name = name
}

// Len returns the number of steps.
func (p *Profile) Len() int { return p.count }

// Step returns step i; i must be below Len.
func (p *Profile) Step(i int) Step { return p.steps[i] }

// Steps returns a copy of the steps in order.
func (p *Profile) Steps() []Step {
	out := make([]Step, p.count)
	copy(out, p.steps[:p.count])
	return out
}

// Add appends a step. typ may carry FlagNotify but never FlagSwizzle.
func (p *Profile) Add(typ StepType, duration time.Duration, endpoint decimal.Decimal[decimal.D1]) error {
	if p.count == MaxSteps {
		return ErrFull
	}
	if typ&FlagSwizzle != 0 {
		return ErrReservedBit
	}
	if typ&TypeMask > lastValid {
		return fmt.Errorf("type %#02x: %w", uint8(typ), ErrInvalidStep)
	}
	if duration < 0 || duration > MaxDuration {
		return fmt.Errorf("duration %s: %w", duration, ErrInvalidStep)
	}

	p.steps[p.count] = Step{Type: typ, Duration: duration, Endpoint: endpoint}
	p.count++
	return nil
}
