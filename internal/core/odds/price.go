package odds

import (
	"fmt"
	"math"
)

// AmericanToDecimal converts an American price to a decimal price.
// p >= 100 -> 1 + p/100; p <= -100 -> 1 + 100/|p|. Prices strictly between
// -100 and 100 are not valid American odds.
func AmericanToDecimal(p float64) (float64, error) {
	switch {
	case p >= 100:
		return 1 + p/100, nil
	case p <= -100:
		return 1 + 100/math.Abs(p), nil
	default:
		return 0, fmt.Errorf("%w: american price %.4f must be >= 100 or <= -100", ErrInvalidPrice, p)
	}
}

// DecimalToAmerican is the inverse of AmericanToDecimal, rounded to the
// nearest integer with ties rounding away from zero (this direction is
// lossy by rounding; spec.md §4.A).
func DecimalToAmerican(d float64) (float64, error) {
	if d <= 1 {
		return 0, fmt.Errorf("%w: decimal price %.6f must be > 1", ErrInvalidPrice, d)
	}
	if d >= 2 {
		return roundHalfAwayFromZero((d - 1) * 100), nil
	}
	return roundHalfAwayFromZero(-100 / (d - 1)), nil
}

// DecimalToImpliedProb converts a decimal price to implied probability:
// 1/d for d > 1.
func DecimalToImpliedProb(d float64) (float64, error) {
	if d <= 1 {
		return 0, fmt.Errorf("%w: decimal price %.6f must be > 1", ErrInvalidPrice, d)
	}
	return 1 / d, nil
}

// AmericanToImpliedProb composes AmericanToDecimal and DecimalToImpliedProb.
func AmericanToImpliedProb(p float64) (float64, error) {
	d, err := AmericanToDecimal(p)
	if err != nil {
		return 0, err
	}
	return DecimalToImpliedProb(d)
}

// maxFractionalDenominator bounds the denominator search below so
// DecimalToFractional always terminates; odds books never quote lines
// needing a denominator this large.
const maxFractionalDenominator = 1000

// DecimalToFractional converts a decimal price to a reduced fractional
// price (numerator/denominator), exact within the bounded search.
func DecimalToFractional(d float64) (numerator, denominator int, err error) {
	if d <= 1 {
		return 0, 0, fmt.Errorf("%w: decimal price %.6f must be > 1", ErrInvalidPrice, d)
	}
	frac := d - 1

	// Try each denominator in turn, stopping once the approximation is
	// exact to 1e-9 or the denominator bound is hit.
	bestNum, bestDen := 0, 1
	for den := 1; den <= maxFractionalDenominator; den++ {
		num := roundHalfAwayFromZero(frac * float64(den))
		if num <= 0 {
			continue
		}
		approx := num / float64(den)
		if math.Abs(approx-frac) < 1e-9 {
			bestNum, bestDen = int(num), den
			break
		}
		if den == maxFractionalDenominator {
			bestNum, bestDen = int(num), den
		}
	}

	g := gcd(bestNum, bestDen)
	if g == 0 {
		g = 1
	}
	return bestNum / g, bestDen / g, nil
}

// FractionalToDecimal converts a fractional price (e.g. 5/2) to decimal.
func FractionalToDecimal(numerator, denominator int) (float64, error) {
	if denominator <= 0 || numerator < 0 {
		return 0, fmt.Errorf("%w: fractional price %d/%d is invalid", ErrInvalidPrice, numerator, denominator)
	}
	return 1 + float64(numerator)/float64(denominator), nil
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	if a < 0 {
		return -a
	}
	return a
}

// roundHalfAwayFromZero rounds x to the nearest integer, ties away from
// zero (the convention spec.md §4.A specifies for American price rounding).
func roundHalfAwayFromZero(x float64) float64 {
	if x < 0 {
		return -math.Floor(-x + 0.5)
	}
	return math.Floor(x + 0.5)
}

// RoundProbability rounds a probability to 6 decimal places, half-to-even.
func RoundProbability(p float64) float64 {
	return math.RoundToEven(p*1e6) / 1e6
}

// RoundMoney rounds a monetary/stake representation to 2 decimal places,
// half-to-even.
func RoundMoney(v float64) float64 {
	return math.RoundToEven(v*100) / 100
}

// FormatPrice converts a decimal price into the configured display Format.
func FormatPrice(decimal float64, format Format) (float64, error) {
	switch format {
	case FormatDecimal, "":
		return decimal, nil
	case FormatAmerican:
		return DecimalToAmerican(decimal)
	case FormatFractional:
		num, den, err := DecimalToFractional(decimal)
		if err != nil {
			return 0, err
		}
		return float64(num) / float64(den), nil
	default:
		return 0, fmt.Errorf("%w: unknown display format %q", ErrInvalidPrice, format)
	}
}
