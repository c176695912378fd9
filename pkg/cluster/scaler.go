package cluster

import "math"

// Scaler standardizes features to zero mean and unit variance. Features with
// zero variance keep a scale of 1 so they map to 0 instead of NaN.
type Scaler struct {
	Mean  []float64 `msgpack:"mean" json:"mean"`
	Scale []float64 `msgpack:"scale" json:"scale"`
}

// FitScaler computes per-feature mean and population standard deviation.
func FitScaler(x [][]float64) *Scaler {
	if len(x) == 0 {
		return &Scaler{}
	}
	dim := len(x[0])
	mean := make([]float64, dim)
	for _, row := range x {
		for j, v := range row {
			mean[j] += v
		}
	}
	n := float64(len(x))
	for j := range mean {
		mean[j] /= n
	}

	scale := make([]float64, dim)
	for _, row := range x {
		for j, v := range row {
			d := v - mean[j]
			scale[j] += d * d
		}
	}
	for j := range scale {
		s := math.Sqrt(scale[j] / n)
		if s == 0 || math.IsNaN(s) {
			s = 1
		}
		scale[j] = s
	}
	return &Scaler{Mean: mean, Scale: scale}
}

// Transform returns standardized copies of the rows.
func (s *Scaler) Transform(x [][]float64) [][]float64 {
	out := make([][]float64, len(x))
	for i, row := range x {
		r := make([]float64, len(row))
		for j, v := range row {
			r[j] = (v - s.Mean[j]) / s.Scale[j]
		}
		out[i] = r
	}
	return out
}

// Inverse maps a standardized point back to the original feature scale.
// Centroids are reported standardized; this is how a caller converts them.
func (s *Scaler) Inverse(p []float64) []float64 {
	out := make([]float64, len(p))
	for j, v := range p {
		out[j] = v*s.Scale[j] + s.Mean[j]
	}
	return out
}

func (s *Scaler) Dimension() int { return len(s.Mean) }
