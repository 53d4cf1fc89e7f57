package abtest

import "math"

// Significance runs a two-proportion z-test on conversion rates and maps the
// z-score to a two-tailed confidence in [0,1]. Returns 0 when either variant
// has fewer than MinSampleSize impressions: insufficient data, not an error.
func Significance(controlConversions, controlImpressions, testConversions, testImpressions int) float64 {
	if controlImpressions < MinSampleSize || testImpressions < MinSampleSize {
		return 0
	}

	p1 := float64(controlConversions) / float64(controlImpressions)
	p2 := float64(testConversions) / float64(testImpressions)
	n1 := float64(controlImpressions)
	n2 := float64(testImpressions)

	pooled := float64(controlConversions+testConversions) / (n1 + n2)
	se := math.Sqrt(pooled * (1 - pooled) * (1/n1 + 1/n2))
	if se == 0 {
		return 0
	}

	z := math.Abs(p1-p2) / se
	confidence := normalCDF(z)*2 - 1
	// The erf expansion is only accurate to ~1.5e-7, so identical rates can
	// yield a tiny non-zero confidence. Anything below the accuracy floor
	// is noise.
	if confidence < 1e-7 {
		return 0
	}
	return math.Min(confidence, 1.0)
}

// normalCDF approximates the standard normal cumulative distribution
// function using the Abramowitz & Stegun erf expansion (7.1.26), accurate to
// about 1.5e-7.
func normalCDF(z float64) float64 {
	const (
		a1 = 0.254829592
		a2 = -0.284496736
		a3 = 1.421413741
		a4 = -1.453152027
		a5 = 1.061405429
		p  = 0.3275911
	)

	sign := 1.0
	if z < 0 {
		sign = -1.0
	}
	z = math.Abs(z) / math.Sqrt2

	t := 1.0 / (1.0 + p*z)
	y := 1.0 - (((((a5*t+a4)*t)+a3)*t+a2)*t+a1)*t*math.Exp(-z*z)

	return 0.5 * (1.0 + sign*y)
}

// pickVariant performs the cumulative-weight draw. roll must be in
// [0, totalWeight). Variants with non-positive weight are never selected;
// when every weight is non-positive the first variant is returned so the
// scope is never unselectable.
func pickVariant(variants []Variant, roll int) *Variant {
	if len(variants) == 0 {
		return nil
	}
	cumulative := 0
	for i := range variants {
		if variants[i].Weight <= 0 {
			continue
		}
		cumulative += variants[i].Weight
		if roll < cumulative {
			return &variants[i]
		}
	}
	return &variants[0]
}

// totalWeight sums the positive weights of a variant set.
func totalWeight(variants []Variant) int {
	total := 0
	for i := range variants {
		if variants[i].Weight > 0 {
			total += variants[i].Weight
		}
	}
	return total
}
