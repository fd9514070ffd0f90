package calculator

import "math"

// Coefficients of Acklam's rational approximation of the inverse normal CDF.
var (
	acklamA = [...]float64{-3.969683028665376e+01, 2.209460984245205e+02, -2.759285104469687e+02,
		1.383577518672690e+02, -3.066479806614716e+01, 2.506628277459239e+00}
	acklamB = [...]float64{-5.447609879822406e+01, 1.615858368580409e+02, -1.556989798598866e+02,
		6.680131188771972e+01, -1.328068155288572e+01}
	acklamC = [...]float64{-7.784894002430293e-03, -3.223964580411365e-01, -2.400758277161838e+00,
		-2.549732539343734e+00, 4.374664141464968e+00, 2.938163982698783e+00}
	acklamD = [...]float64{7.784695709041462e-03, 3.224671290700398e-01, 2.445134137142996e+00,
		3.754408661907416e+00}
)

const acklamLow = 0.02425

// InverseNormal returns the z such that a standard normal variable is below
// z with probability p (the lower tail quantile). The relative error is below
// 1.15e-9.
func InverseNormal(p float64) float64 {
	switch {
	case math.IsNaN(p):
		return math.NaN()
	case p <= 0:
		return math.Inf(-1)
	case p >= 1:
		return math.Inf(1)
	case p < acklamLow:
		return acklamTail(math.Sqrt(-2 * math.Log(p)))
	case p > 1-acklamLow:
		return -acklamTail(math.Sqrt(-2 * math.Log(1-p)))
	}
	a, b := acklamA, acklamB
	q := p - 0.5
	r := q * q
	return (((((a[0]*r+a[1])*r+a[2])*r+a[3])*r+a[4])*r + a[5]) * q /
		(((((b[0]*r+b[1])*r+b[2])*r+b[3])*r+b[4])*r + 1)
}

func acklamTail(q float64) float64 {
	c, d := acklamC, acklamD
	return (((((c[0]*q+c[1])*q+c[2])*q+c[3])*q+c[4])*q + c[5]) /
		((((d[0]*q+d[1])*q+d[2])*q+d[3])*q + 1)
}

// Moving keeps the most recent samples of a quantity. Adding to a full window
// evicts the oldest sample.
type Moving struct {
	size    int
	samples []float64
}

// NewMoving returns a window of the given size (at least 1).
func NewMoving(size int) *Moving {
	if size < 1 {
		size = 1
	}
	return &Moving{size: size}
}

// Add records a sample.
func (m *Moving) Add(v float64) {
	if len(m.samples) == m.size {
		copy(m.samples, m.samples[1:])
		m.samples = m.samples[:m.size-1]
	}
	m.samples = append(m.samples, v)
}

// Len returns the number of samples held.
func (m *Moving) Len() int { return len(m.samples) }

// Samples returns a copy of the samples, oldest first.
func (m *Moving) Samples() []float64 { return append([]float64(nil), m.samples...) }

// Mean of the samples; zero when empty.
func (m *Moving) Mean() float64 {
	if len(m.samples) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range m.samples {
		sum += v
	}
	return sum / float64(len(m.samples))
}

// StdDev is the sample standard deviation; zero for fewer than two samples.
func (m *Moving) StdDev() float64 {
	n := len(m.samples)
	if n < 2 {
		return 0
	}
	mean := m.Mean()
	ss := 0.0
	for _, v := range m.samples {
		ss += (v - mean) * (v - mean)
	}
	return math.Sqrt(ss / float64(n-1))
}

// UpperBound is the value a new sample stays below with the given
// confidence, assuming samples are normally distributed.
func (m *Moving) UpperBound(confidence float64) float64 {
	return m.Mean() + InverseNormal(confidence)*m.StdDev()
}

func (m *Moving) clone() *Moving {
	return &Moving{size: m.size, samples: m.Samples()}
}
