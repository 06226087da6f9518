// Package ml implements the learned half of the fraud engine: feature
// standardization, minority-class oversampling, a random-forest classifier,
// and classification metrics. Everything is deterministic under a fixed seed.
package ml

import (
	"fmt"
	"math"
)

// Scaler holds per-column standardization statistics computed on training
// data. Apply always uses the stored statistics; a Scaler is never refit on
// evaluation or live data.
type Scaler struct {
	Mean []float64
	Std  []float64
}

// FitScaler computes per-column mean and standard deviation.
func FitScaler(X [][]float64) (*Scaler, error) {
	if len(X) == 0 || len(X[0]) == 0 {
		return nil, fmt.Errorf("cannot fit scaler on empty matrix")
	}

	cols := len(X[0])
	s := &Scaler{
		Mean: make([]float64, cols),
		Std:  make([]float64, cols),
	}

	n := float64(len(X))
	for _, row := range X {
		if len(row) != cols {
			return nil, fmt.Errorf("ragged matrix: expected %d columns, got %d", cols, len(row))
		}
		for j, v := range row {
			s.Mean[j] += v
		}
	}
	for j := range s.Mean {
		s.Mean[j] /= n
	}

	for _, row := range X {
		for j, v := range row {
			d := v - s.Mean[j]
			s.Std[j] += d * d
		}
	}
	for j := range s.Std {
		s.Std[j] = math.Sqrt(s.Std[j] / n)
	}

	return s, nil
}

// Transform standardizes a matrix column-wise using the stored statistics.
// The input is not modified. Columns with near-zero standard deviation are
// centered but not divided: the divisor is substituted with 1.0 to avoid
// division by zero.
func (s *Scaler) Transform(X [][]float64) ([][]float64, error) {
	out := make([][]float64, len(X))
	for i, row := range X {
		scaled, err := s.TransformRow(row)
		if err != nil {
			return nil, err
		}
		out[i] = scaled
	}
	return out, nil
}

// TransformRow standardizes a single feature vector.
func (s *Scaler) TransformRow(x []float64) ([]float64, error) {
	if len(x) != len(s.Mean) {
		return nil, fmt.Errorf("vector has %d columns, scaler was fitted on %d", len(x), len(s.Mean))
	}
	out := make([]float64, len(x))
	for j, v := range x {
		std := s.Std[j]
		if std < 1e-12 {
			std = 1.0
		}
		out[j] = (v - s.Mean[j]) / std
	}
	return out, nil
}
