package quality

import (
	"fmt"
	"math"
	"sort"
)

// Band is one quality tier of a calibration curve: Share of the population
// is spread linearly over [Low, High).
type Band struct {
	Name  string  `yaml:"name"`
	Share float64 `yaml:"share"`
	Low   float64 `yaml:"low"`
	High  float64 `yaml:"high"`
}

// Curve is an ordered list of bands from worst to best.
type Curve []Band

// DefaultCurve spreads the population 20/40/30/10 over four tiers.
func DefaultCurve() Curve {
	return Curve{
		{Name: "weak", Share: 0.20, Low: 25, High: 40},
		{Name: "fair", Share: 0.40, Low: 40, High: 60},
		{Name: "strong", Share: 0.30, Low: 60, High: 80},
		{Name: "exceptional", Share: 0.10, Low: 80, High: 95},
	}
}

// Validate checks shares sum to 1.0 and bands ascend without overlap.
func (c Curve) Validate() error {
	if len(c) == 0 {
		return fmt.Errorf("calibration curve is empty")
	}
	sum := 0.0
	for i, b := range c {
		if b.Share <= 0 {
			return fmt.Errorf("band %d (%s): share must be positive", i, b.Name)
		}
		if b.Low < 0 || b.High > 100 || b.Low >= b.High {
			return fmt.Errorf("band %d (%s): invalid range [%v, %v)", i, b.Name, b.Low, b.High)
		}
		if i > 0 && b.Low < c[i-1].High {
			return fmt.Errorf("band %d (%s): overlaps previous band", i, b.Name)
		}
		sum += b.Share
	}
	if math.Abs(sum-1.0) > 0.001 {
		return fmt.Errorf("calibration shares sum to %.4f, must sum to 1.0", sum)
	}
	return nil
}

// Within checks every band lies inside the [floor, ceiling] range raw
// scores are clamped to.
func (c Curve) Within(floor, ceiling float64) error {
	for i, b := range c {
		if b.Low < floor || b.High > ceiling {
			return fmt.Errorf("band %d (%s): range [%v, %v) is outside the score range [%v, %v]",
				i, b.Name, b.Low, b.High, floor, ceiling)
		}
	}
	return nil
}

// Calibrate remaps raw scores onto the curve by population rank. Equal raw
// scores get equal outputs and a higher raw score never gets a lower
// output. The result is aligned with raw.
func Calibrate(raw []float64, c Curve) []float64 {
	n := len(raw)
	out := make([]float64, n)
	if n == 0 {
		return out
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return raw[order[a]] < raw[order[b]] })

	for i := 0; i < n; {
		j := i + 1
		for j < n && raw[order[j]] == raw[order[i]] {
			j++
		}
		// Mid-rank percentile of the tie group, always in (0, 1).
		p := float64(i+j) / float64(2*n)
		v := c.at(p)
		for k := i; k < j; k++ {
			out[order[k]] = v
		}
		i = j
	}
	return out
}

// at maps a percentile in [0, 1) onto the curve.
func (c Curve) at(p float64) float64 {
	start := 0.0
	for i, b := range c {
		end := start + b.Share
		if p < end || i == len(c)-1 {
			frac := (p - start) / b.Share
			frac = clamp(frac, 0, 1)
			return round1(b.Low + frac*(b.High-b.Low))
		}
		start = end
	}
	return c[len(c)-1].High
}
