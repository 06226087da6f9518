package ml

import (
	"math"
	"testing"
)

func TestFitScaler(t *testing.T) {
	X := [][]float64{
		{1, 10},
		{2, 20},
		{3, 30},
	}

	s, err := FitScaler(X)
	if err != nil {
		t.Fatalf("FitScaler failed: %v", err)
	}

	if math.Abs(s.Mean[0]-2) > 1e-9 {
		t.Errorf("expected mean 2 for column 0, got %v", s.Mean[0])
	}
	if math.Abs(s.Mean[1]-20) > 1e-9 {
		t.Errorf("expected mean 20 for column 1, got %v", s.Mean[1])
	}

	// Population std of {1,2,3} is sqrt(2/3)
	want := math.Sqrt(2.0 / 3.0)
	if math.Abs(s.Std[0]-want) > 1e-9 {
		t.Errorf("expected std %v for column 0, got %v", want, s.Std[0])
	}
}

func TestScalerTransform(t *testing.T) {
	X := [][]float64{
		{1, 5},
		{3, 5},
	}

	s, err := FitScaler(X)
	if err != nil {
		t.Fatalf("FitScaler failed: %v", err)
	}

	out, err := s.Transform(X)
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}

	// Column 0: mean 2, std 1 -> {-1, 1}
	if math.Abs(out[0][0]+1) > 1e-9 || math.Abs(out[1][0]-1) > 1e-9 {
		t.Errorf("unexpected column 0 values: %v, %v", out[0][0], out[1][0])
	}

	// Column 1 is constant: centered, divisor substituted with 1.0.
	if out[0][1] != 0 || out[1][1] != 0 {
		t.Errorf("constant column should center to zero, got %v, %v", out[0][1], out[1][1])
	}

	// Input must not be modified.
	if X[0][0] != 1 {
		t.Error("Transform modified its input")
	}
}

func TestScalerTransformUsesStoredStats(t *testing.T) {
	train := [][]float64{{0}, {10}}
	s, err := FitScaler(train)
	if err != nil {
		t.Fatalf("FitScaler failed: %v", err)
	}

	// Transform on new data uses the statistics fitted on train.
	out, err := s.Transform([][]float64{{5}})
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	if math.Abs(out[0][0]) > 1e-9 {
		t.Errorf("expected 5 to map to 0 under train stats, got %v", out[0][0])
	}
}

func TestScalerTransformRowDimensionMismatch(t *testing.T) {
	s, err := FitScaler([][]float64{{1, 2}, {3, 4}})
	if err != nil {
		t.Fatalf("FitScaler failed: %v", err)
	}

	if _, err := s.TransformRow([]float64{1}); err == nil {
		t.Error("expected error for row with wrong column count")
	}
}

func TestFitScalerEmpty(t *testing.T) {
	if _, err := FitScaler(nil); err == nil {
		t.Error("expected error for empty matrix")
	}
}
