package ml

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Regressor is one trainable price model. Fit and Predict operate on scaled
// feature vectors in FeatureList order.
type Regressor interface {
	Name() string
	Fit(X [][]float64, y []float64) error
	Predict(row []float64) float64
	// FeatureImportance returns one non-negative weight per feature.
	FeatureImportance(nFeatures int) []float64
}

// LinearRegression is an ordinary-least-squares model solved via QR
// decomposition on the design matrix (with intercept column).
type LinearRegression struct {
	Coefficients []float64 `msgpack:"coefficients"`
	Intercept    float64   `msgpack:"intercept"`
}

// NewLinearRegression creates an unfitted linear model.
func NewLinearRegression() *LinearRegression {
	return &LinearRegression{}
}

// Name implements Regressor.
func (m *LinearRegression) Name() string { return ModelLinearRegression }

// Fit solves min ||Ab - y|| for b, where A is X with a leading ones column.
func (m *LinearRegression) Fit(X [][]float64, y []float64) error {
	if len(X) == 0 {
		return fmt.Errorf("empty training set")
	}
	nSamples := len(X)
	nFeatures := len(X[0])
	if nSamples < nFeatures+1 {
		return fmt.Errorf("need at least %d samples for %d features, got %d", nFeatures+1, nFeatures, nSamples)
	}

	a := mat.NewDense(nSamples, nFeatures+1, nil)
	b := mat.NewVecDense(nSamples, nil)
	for i, row := range X {
		a.Set(i, 0, 1)
		for j, v := range row {
			a.Set(i, j+1, v)
		}
		b.SetVec(i, y[i])
	}

	var beta mat.VecDense
	if err := beta.SolveVec(a, b); err != nil {
		return fmt.Errorf("least squares solve failed: %w", err)
	}

	m.Intercept = beta.AtVec(0)
	m.Coefficients = make([]float64, nFeatures)
	for j := 0; j < nFeatures; j++ {
		c := beta.AtVec(j + 1)
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return fmt.Errorf("unstable coefficient for feature %d", j)
		}
		m.Coefficients[j] = c
	}
	return nil
}

// Predict implements Regressor.
func (m *LinearRegression) Predict(row []float64) float64 {
	pred := m.Intercept
	for j, c := range m.Coefficients {
		if j < len(row) {
			pred += c * row[j]
		}
	}
	return pred
}

// FeatureImportance reports absolute coefficient magnitudes.
func (m *LinearRegression) FeatureImportance(nFeatures int) []float64 {
	importance := make([]float64, nFeatures)
	for j := 0; j < nFeatures && j < len(m.Coefficients); j++ {
		importance[j] = math.Abs(m.Coefficients[j])
	}
	return importance
}
