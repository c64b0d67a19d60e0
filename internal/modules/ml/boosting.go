package ml

import (
	"fmt"
	"math/rand"
)

// GradientBoosting fits shallow regression trees to the residuals of the
// running prediction. With Lambda/Alpha/MinChildWeight set it becomes the
// regularized variant (L2 leaf shrinkage, L1 soft thresholding, minimum child
// size), otherwise it behaves like plain gradient boosting.
type GradientBoosting struct {
	ModelName      string      `msgpack:"model_name"`
	NumEstimators  int         `msgpack:"num_estimators"`
	LearningRate   float64     `msgpack:"learning_rate"`
	MaxDepth       int         `msgpack:"max_depth"`
	MinSamplesLeaf int         `msgpack:"min_samples_leaf"`
	MinChildWeight int         `msgpack:"min_child_weight"`
	Lambda         float64     `msgpack:"lambda"`
	Alpha          float64     `msgpack:"alpha"`
	Seed           int64       `msgpack:"seed"`
	BasePrediction float64     `msgpack:"base_prediction"`
	Trees          []*treeNode `msgpack:"trees"`
}

// NewGradientBoosting creates the plain boosting configuration.
func NewGradientBoosting(seed int64) *GradientBoosting {
	return &GradientBoosting{
		ModelName:      ModelGradientBoosting,
		NumEstimators:  100,
		LearningRate:   0.1,
		MaxDepth:       4,
		MinSamplesLeaf: 2,
		Seed:           seed,
	}
}

// NewRegularizedGradientBoosting creates the regularized variant.
func NewRegularizedGradientBoosting(seed int64) *GradientBoosting {
	return &GradientBoosting{
		ModelName:      ModelRegularizedGradientBoosting,
		NumEstimators:  100,
		LearningRate:   0.1,
		MaxDepth:       4,
		MinSamplesLeaf: 1,
		MinChildWeight: 2,
		Lambda:         1.0,
		Alpha:          0.1,
		Seed:           seed,
	}
}

// Name implements Regressor.
func (m *GradientBoosting) Name() string { return m.ModelName }

// Fit performs stagewise boosting on squared-error residuals.
func (m *GradientBoosting) Fit(X [][]float64, y []float64) error {
	if len(X) == 0 {
		return fmt.Errorf("empty training set")
	}

	n := len(X)
	var sum float64
	for _, v := range y {
		sum += v
	}
	m.BasePrediction = sum / float64(n)

	rng := rand.New(rand.NewSource(m.Seed))
	params := treeParams{
		MaxDepth:       m.MaxDepth,
		MinSamplesLeaf: m.MinSamplesLeaf,
		MinChildWeight: m.MinChildWeight,
		Lambda:         m.Lambda,
		Alpha:          m.Alpha,
	}

	all := make([]int, n)
	for i := range all {
		all[i] = i
	}

	current := make([]float64, n)
	for i := range current {
		current[i] = m.BasePrediction
	}

	residuals := make([]float64, n)
	m.Trees = make([]*treeNode, 0, m.NumEstimators)
	for t := 0; t < m.NumEstimators; t++ {
		for i := range residuals {
			residuals[i] = y[i] - current[i]
		}

		tree := fitTree(X, residuals, all, params, rng)
		m.Trees = append(m.Trees, tree)

		for i := range current {
			current[i] += m.LearningRate * predictTree(tree, X[i])
		}
	}
	return nil
}

// Predict implements Regressor.
func (m *GradientBoosting) Predict(row []float64) float64 {
	pred := m.BasePrediction
	for _, tree := range m.Trees {
		pred += m.LearningRate * predictTree(tree, row)
	}
	return pred
}

// FeatureImportance aggregates normalized split counts over all stages.
func (m *GradientBoosting) FeatureImportance(nFeatures int) []float64 {
	importance := make([]float64, nFeatures)
	for _, tree := range m.Trees {
		treeImportance(tree, importance)
	}
	normalizeImportance(importance)
	return importance
}
