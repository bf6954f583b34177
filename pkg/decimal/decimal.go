// Package decimal implements scaled-integer decimal numbers used throughout
// the controller instead of floating point.
//
// A Decimal[S] stores value × 10^S.Digits() in a signed 32-bit integer. The
// scale is part of the type, so values of different precision cannot be mixed
// by accident: addition and subtraction only accept the same scale, while
// multiplication and division produce a Product that keeps the full
// intermediate precision until the caller explicitly rescales it.
package decimal

import (
	"math"
	"strconv"
)

// Scale selects the number of implied decimal digits of a Decimal.
// Only the marker types D0..D4 implement it, which bounds storage
// precision to four digits at compile time.
type Scale interface {
	Digits() int
}

// Scale markers.
type (
	D0 struct{}
	D1 struct{}
	D2 struct{}
	D3 struct{}
	D4 struct{}
)

func (D0) Digits() int { return 0 }
func (D1) Digits() int { return 1 }
func (D2) Digits() int { return 2 }
func (D3) Digits() int { return 3 }
func (D4) Digits() int { return 4 }

// pow10 covers every scale a Product can reach (4 + 4 digits).
var pow10 = [...]int64{1, 10, 100, 1000, 10000, 100000, 1000000, 10000000, 100000000}

// Decimal is a fixed-point value with S implied decimal digits.
// The zero value is 0 at scale S.
type Decimal[S Scale] struct {
	raw int32
}

// New returns the decimal whose scaled integer is raw, e.g. New[D1](255) is 25.5.
func New[S Scale](raw int32) Decimal[S] {
	return Decimal[S]{raw: raw}
}

// FromFloat converts v to the nearest decimal at scale S, rounding half away from zero.
func FromFloat[S Scale](v float64) Decimal[S] {
	var s S
	return Decimal[S]{raw: int32(math.Round(v * float64(pow10[s.Digits()])))}
}

// Fits reports whether v converts with FromFloat without overflowing the
// scaled integer.
func Fits[S Scale](v float64) bool {
	var s S
	r := math.Round(v * float64(pow10[s.Digits()]))
	return r >= math.MinInt32 && r <= math.MaxInt32
}

// Digits returns the number of implied decimal digits.
func (d Decimal[S]) Digits() int {
	var s S
	return s.Digits()
}

// Raw returns the scaled integer.
func (d Decimal[S]) Raw() int32 { return d.raw }

// Float64 returns the value as a float. Meant for display and for handing
// values to float based collaborators; arithmetic stays in fixed point.
func (d Decimal[S]) Float64() float64 {
	return float64(d.raw) / float64(pow10[d.Digits()])
}

// Add returns d + o.
func (d Decimal[S]) Add(o Decimal[S]) Decimal[S] { return Decimal[S]{raw: d.raw + o.raw} }

// Sub returns d - o.
func (d Decimal[S]) Sub(o Decimal[S]) Decimal[S] { return Decimal[S]{raw: d.raw - o.raw} }

// Neg returns -d.
func (d Decimal[S]) Neg() Decimal[S] { return Decimal[S]{raw: -d.raw} }

// Times returns d * o rounded back to scale S.
func (d Decimal[S]) Times(o Decimal[S]) Decimal[S] { return As[S](Mul(d, o)) }

// Over returns d / o rounded back to scale S.
func (d Decimal[S]) Over(o Decimal[S]) Decimal[S] { return As[S](Div(d, o)) }

// Cmp compares two decimals of the same scale and returns -1, 0 or +1.
func (d Decimal[S]) Cmp(o Decimal[S]) int {
	switch {
	case d.raw < o.raw:
		return -1
	case d.raw > o.raw:
		return 1
	}
	return 0
}

// IsZero reports whether d is 0.
func (d Decimal[S]) IsZero() bool { return d.raw == 0 }

// String formats d with exactly Digits() fractional digits.
func (d Decimal[S]) String() string {
	digits := d.Digits()
	if digits == 0 {
		return strconv.FormatInt(int64(d.raw), 10)
	}

	v := int64(d.raw)
	neg := v < 0
	if neg {
		v = -v
	}
	scale := pow10[digits]
	frac := strconv.FormatInt(v%scale, 10)
	for len(frac) < digits {
		frac = "0" + frac
	}

	s := strconv.FormatInt(v/scale, 10) + "." + frac
	if neg {
		s = "-" + s
	}
	return s
}

// Rescale converts d to scale T. Widening is exact; narrowing rounds the
// dropped digits half away from zero.
func Rescale[T, S Scale](d Decimal[S]) Decimal[T] {
	return As[T](Product{raw: int64(d.raw), digits: d.Digits()})
}

// Compare compares decimals of any two scales after widening both to the
// larger scale. It returns -1, 0 or +1.
func Compare[L, R Scale](a Decimal[L], b Decimal[R]) int {
	x, y := widen(a, b)
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

// Equal reports a == b across scales.
func Equal[L, R Scale](a Decimal[L], b Decimal[R]) bool { return Compare(a, b) == 0 }

// Less reports a < b across scales.
func Less[L, R Scale](a Decimal[L], b Decimal[R]) bool { return Compare(a, b) < 0 }

// LessOrEqual reports a <= b across scales.
func LessOrEqual[L, R Scale](a Decimal[L], b Decimal[R]) bool { return Compare(a, b) <= 0 }

// Greater reports a > b across scales.
func Greater[L, R Scale](a Decimal[L], b Decimal[R]) bool { return Compare(a, b) > 0 }

// GreaterOrEqual reports a >= b across scales.
func GreaterOrEqual[L, R Scale](a Decimal[L], b Decimal[R]) bool { return Compare(a, b) >= 0 }

// widen returns both raw values expressed at the larger of the two scales.
func widen[L, R Scale](a Decimal[L], b Decimal[R]) (int64, int64) {
	x, y := int64(a.raw), int64(b.raw)
	da, db := a.Digits(), b.Digits()
	switch {
	case da > db:
		y *= pow10[da-db]
	case db > da:
		x *= pow10[db-da]
	}
	return x, y
}
