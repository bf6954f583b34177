package decimal

import "math"

// Product is the intermediate result of a multiplication or division.
// It carries a widened 64-bit value and its own scale (up to eight digits)
// and has to be turned back into a Decimal with As, which makes every
// loss of precision explicit at the call site.
type Product struct {
	raw    int64
	digits int
}

// Mul returns a * b at scale L+R. The raw value is the exact product of
// the operands' scaled integers.
func Mul[L, R Scale](a Decimal[L], b Decimal[R]) Product {
	return Product{
		raw:    int64(a.raw) * int64(b.raw),
		digits: a.Digits() + b.Digits(),
	}
}

// Div returns a / b at scale L, computed as round(a.raw × 10^R / b.raw).
// Division by zero saturates towards the sign of a (0/0 yields 0).
func Div[L, R Scale](a Decimal[L], b Decimal[R]) Product {
	return Product{
		raw:    divideRounded(int64(a.raw)*pow10[b.Digits()], int64(b.raw)),
		digits: a.Digits(),
	}
}

// Quo divides an intermediate product by d. The result scale is the
// product's scale minus d's scale; when d carries more digits than the
// product, the numerator is widened first and the result has scale 0.
func Quo[S Scale](p Product, d Decimal[S]) Product {
	num := p.raw
	digits := p.digits - d.Digits()
	if digits < 0 {
		num *= pow10[-digits]
		digits = 0
	}
	return Product{
		raw:    divideRounded(num, int64(d.raw)),
		digits: digits,
	}
}

// Digits returns the number of implied decimal digits of the product.
func (p Product) Digits() int { return p.digits }

// Raw returns the scaled 64-bit integer.
func (p Product) Raw() int64 { return p.raw }

// Float64 returns the value as a float, for display.
func (p Product) Float64() float64 {
	return float64(p.raw) / float64(pow10[p.digits])
}

// As rescales p to a Decimal of scale T. Widening multiplies exactly,
// narrowing rounds half away from zero.
func As[T Scale](p Product) Decimal[T] {
	var t T
	target := t.Digits()
	switch {
	case target > p.digits:
		return Decimal[T]{raw: int32(p.raw * pow10[target-p.digits])}
	case target < p.digits:
		return Decimal[T]{raw: int32(divideRounded(p.raw, pow10[p.digits-target]))}
	}
	return Decimal[T]{raw: int32(p.raw)}
}

// divideRounded returns num/den rounded half away from zero.
func divideRounded(num, den int64) int64 {
	if den == 0 {
		switch {
		case num > 0:
			return math.MaxInt32
		case num < 0:
			return math.MinInt32
		}
		return 0
	}

	quot := num / den
	rem := num % den
	if rem < 0 {
		rem = -rem
	}
	absDen := den
	if absDen < 0 {
		absDen = -absDen
	}
	if 2*rem >= absDen {
		if (num < 0) != (den < 0) {
			quot--
		} else {
			quot++
		}
	}
	return quot
}
