package ml

import (
	"fmt"
	"math/rand"
)

// RandomForest is a bagged ensemble of regression trees. Trees are trained
// sequentially from a single seeded source so results are reproducible.
type RandomForest struct {
	NumTrees       int         `msgpack:"num_trees"`
	MaxDepth       int         `msgpack:"max_depth"`
	MinSamplesLeaf int         `msgpack:"min_samples_leaf"`
	Seed           int64       `msgpack:"seed"`
	Trees          []*treeNode `msgpack:"trees"`

	nFeatures int
}

// NewRandomForest creates an unfitted forest with the default ensemble size.
func NewRandomForest(seed int64) *RandomForest {
	return &RandomForest{
		NumTrees:       100,
		MaxDepth:       12,
		MinSamplesLeaf: 2,
		Seed:           seed,
	}
}

// Name implements Regressor.
func (m *RandomForest) Name() string { return ModelRandomForest }

// Fit trains NumTrees trees on bootstrap samples of the training set.
func (m *RandomForest) Fit(X [][]float64, y []float64) error {
	if len(X) == 0 {
		return fmt.Errorf("empty training set")
	}
	m.nFeatures = len(X[0])

	rng := rand.New(rand.NewSource(m.Seed))
	params := treeParams{
		MaxDepth:       m.MaxDepth,
		MinSamplesLeaf: m.MinSamplesLeaf,
		// Feature subsampling per split decorrelates the trees
		MaxFeatures: maxInt(1, m.nFeatures/3),
	}

	m.Trees = make([]*treeNode, m.NumTrees)
	n := len(X)
	for t := 0; t < m.NumTrees; t++ {
		sample := make([]int, n)
		for i := range sample {
			sample[i] = rng.Intn(n)
		}
		m.Trees[t] = fitTree(X, y, sample, params, rng)
	}
	return nil
}

// Predict averages the trees' predictions.
func (m *RandomForest) Predict(row []float64) float64 {
	if len(m.Trees) == 0 {
		return 0
	}
	var sum float64
	for _, tree := range m.Trees {
		sum += predictTree(tree, row)
	}
	return sum / float64(len(m.Trees))
}

// FeatureImportance aggregates normalized split counts over all trees.
func (m *RandomForest) FeatureImportance(nFeatures int) []float64 {
	importance := make([]float64, nFeatures)
	for _, tree := range m.Trees {
		treeImportance(tree, importance)
	}
	normalizeImportance(importance)
	return importance
}

func normalizeImportance(importance []float64) {
	var total float64
	for _, v := range importance {
		total += v
	}
	if total == 0 {
		return
	}
	for i := range importance {
		importance[i] /= total
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
