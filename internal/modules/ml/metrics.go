package ml

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Metrics holds one model's evaluation results. The held-out test set can be
// very small, so the cross-validated R² mean/std is the primary stability
// signal reported to dashboards.
type Metrics struct {
	MAE      float64 `json:"mae"`
	RMSE     float64 `json:"rmse"`
	R2       float64 `json:"r2_score"`
	CVR2Mean float64 `json:"cv_r2_mean"`
	CVR2Std  float64 `json:"cv_r2_std"`
	Error    string  `json:"error,omitempty"`
}

// meanAbsoluteError computes MAE between predictions and truth.
func meanAbsoluteError(predicted, actual []float64) float64 {
	if len(actual) == 0 {
		return 0
	}
	var sum float64
	for i := range actual {
		sum += math.Abs(predicted[i] - actual[i])
	}
	return sum / float64(len(actual))
}

// rootMeanSquaredError computes RMSE between predictions and truth.
func rootMeanSquaredError(predicted, actual []float64) float64 {
	if len(actual) == 0 {
		return 0
	}
	var sum float64
	for i := range actual {
		d := predicted[i] - actual[i]
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(actual)))
}

// rSquared computes the coefficient of determination.
func rSquared(predicted, actual []float64) float64 {
	return stat.RSquaredFrom(predicted, actual, nil)
}
