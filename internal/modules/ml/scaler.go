package ml

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// StandardScaler centers each feature to zero mean and unit variance.
// It must only ever be fit on training rows; leaking test-set statistics into
// the fit is a contract violation the trainer's tests guard against.
type StandardScaler struct {
	Means  []float64 `json:"means"`
	Scales []float64 `json:"scales"`
}

// Fit computes per-feature mean and population standard deviation.
// Constant features get scale 1 so transformation stays well-defined.
func (s *StandardScaler) Fit(X [][]float64) error {
	if len(X) == 0 {
		return fmt.Errorf("cannot fit scaler on empty matrix")
	}

	nFeatures := len(X[0])
	s.Means = make([]float64, nFeatures)
	s.Scales = make([]float64, nFeatures)

	column := make([]float64, len(X))
	for j := 0; j < nFeatures; j++ {
		for i, row := range X {
			column[i] = row[j]
		}
		s.Means[j] = stat.Mean(column, nil)
		scale := stat.PopStdDev(column, nil)
		if scale == 0 {
			scale = 1
		}
		s.Scales[j] = scale
	}
	return nil
}

// Transform returns a scaled copy of the matrix using the fitted parameters.
func (s *StandardScaler) Transform(X [][]float64) ([][]float64, error) {
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

// TransformRow scales a single feature vector.
func (s *StandardScaler) TransformRow(row []float64) ([]float64, error) {
	if len(s.Means) == 0 {
		return nil, fmt.Errorf("scaler is not fitted")
	}
	if len(row) != len(s.Means) {
		return nil, fmt.Errorf("row has %d features, scaler expects %d", len(row), len(s.Means))
	}

	scaled := make([]float64, len(row))
	for j, v := range row {
		scaled[j] = (v - s.Means[j]) / s.Scales[j]
	}
	return scaled, nil
}
