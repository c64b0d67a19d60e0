package ml

import (
	"math/rand"
	"sort"
)

// treeNode is one node of a regression tree. Exported fields so fitted trees
// serialize with the model parameters blob.
type treeNode struct {
	Leaf      bool      `msgpack:"leaf"`
	Value     float64   `msgpack:"value"`
	Feature   int       `msgpack:"feature"`
	Threshold float64   `msgpack:"threshold"`
	Left      *treeNode `msgpack:"left,omitempty"`
	Right     *treeNode `msgpack:"right,omitempty"`
}

// treeParams controls tree growth. Lambda/Alpha implement L2 leaf shrinkage and
// L1 soft thresholding for the regularized boosting variant; both are zero for
// plain CART behavior. MinChildWeight rejects splits producing children smaller
// than the given sample count.
type treeParams struct {
	MaxDepth       int
	MinSamplesLeaf int
	MinChildWeight int
	Lambda         float64
	Alpha          float64
	// MaxFeatures caps the candidate features per split; 0 means all.
	MaxFeatures int
}

// fitTree grows a regression tree on the index subset idx by recursive
// variance-reducing splits.
func fitTree(X [][]float64, y []float64, idx []int, p treeParams, rng *rand.Rand) *treeNode {
	return growNode(X, y, idx, p, rng, 0)
}

func growNode(X [][]float64, y []float64, idx []int, p treeParams, rng *rand.Rand, depth int) *treeNode {
	if len(idx) == 0 {
		return &treeNode{Leaf: true, Value: 0}
	}
	if depth >= p.MaxDepth || len(idx) < 2*p.MinSamplesLeaf || constantTarget(y, idx) {
		return &treeNode{Leaf: true, Value: leafValue(y, idx, p)}
	}

	feature, threshold, ok := bestSplit(X, y, idx, p, rng)
	if !ok {
		return &treeNode{Leaf: true, Value: leafValue(y, idx, p)}
	}

	var left, right []int
	for _, i := range idx {
		if X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &treeNode{Leaf: true, Value: leafValue(y, idx, p)}
	}

	return &treeNode{
		Feature:   feature,
		Threshold: threshold,
		Left:      growNode(X, y, left, p, rng, depth+1),
		Right:     growNode(X, y, right, p, rng, depth+1),
	}
}

// leafValue computes the leaf prediction: the mean target, shrunk by Lambda and
// soft-thresholded by Alpha when regularization is configured.
func leafValue(y []float64, idx []int, p treeParams) float64 {
	var sum float64
	for _, i := range idx {
		sum += y[i]
	}
	value := sum / (float64(len(idx)) + p.Lambda)
	if p.Alpha > 0 {
		switch {
		case value > p.Alpha:
			value -= p.Alpha
		case value < -p.Alpha:
			value += p.Alpha
		default:
			value = 0
		}
	}
	return value
}

// bestSplit scans candidate features for the split minimizing the children's
// summed squared error, using prefix sums over the sorted feature values.
func bestSplit(X [][]float64, y []float64, idx []int, p treeParams, rng *rand.Rand) (feature int, threshold float64, ok bool) {
	nFeatures := len(X[idx[0]])
	candidates := candidateFeatures(nFeatures, p.MaxFeatures, rng)

	minChild := p.MinSamplesLeaf
	if p.MinChildWeight > minChild {
		minChild = p.MinChildWeight
	}

	bestSSE := totalSSE(y, idx)
	ok = false

	sorted := make([]int, len(idx))
	for _, f := range candidates {
		copy(sorted, idx)
		sort.Slice(sorted, func(a, b int) bool { return X[sorted[a]][f] < X[sorted[b]][f] })

		var leftSum, leftSq float64
		var totalSum, totalSq float64
		for _, i := range sorted {
			totalSum += y[i]
			totalSq += y[i] * y[i]
		}
		n := len(sorted)

		for k := 0; k < n-1; k++ {
			v := y[sorted[k]]
			leftSum += v
			leftSq += v * v

			// Only split between distinct feature values
			if X[sorted[k]][f] == X[sorted[k+1]][f] {
				continue
			}
			nl := k + 1
			nr := n - nl
			if nl < minChild || nr < minChild {
				continue
			}

			rightSum := totalSum - leftSum
			rightSq := totalSq - leftSq
			sse := (leftSq - leftSum*leftSum/float64(nl)) + (rightSq - rightSum*rightSum/float64(nr))
			if sse < bestSSE-1e-12 {
				bestSSE = sse
				feature = f
				threshold = (X[sorted[k]][f] + X[sorted[k+1]][f]) / 2
				ok = true
			}
		}
	}

	return feature, threshold, ok
}

// candidateFeatures selects which features a split may use. With maxFeatures 0
// every feature is a candidate; otherwise a seeded random subset is drawn.
func candidateFeatures(nFeatures, maxFeatures int, rng *rand.Rand) []int {
	all := make([]int, nFeatures)
	for i := range all {
		all[i] = i
	}
	if maxFeatures <= 0 || maxFeatures >= nFeatures || rng == nil {
		return all
	}
	rng.Shuffle(nFeatures, func(a, b int) { all[a], all[b] = all[b], all[a] })
	subset := all[:maxFeatures]
	sort.Ints(subset)
	return subset
}

func totalSSE(y []float64, idx []int) float64 {
	var sum, sq float64
	for _, i := range idx {
		sum += y[i]
		sq += y[i] * y[i]
	}
	return sq - sum*sum/float64(len(idx))
}

func constantTarget(y []float64, idx []int) bool {
	first := y[idx[0]]
	for _, i := range idx[1:] {
		if y[i] != first {
			return false
		}
	}
	return true
}

// predictTree walks the tree for one feature row.
func predictTree(node *treeNode, row []float64) float64 {
	for !node.Leaf {
		if row[node.Feature] <= node.Threshold {
			node = node.Left
		} else {
			node = node.Right
		}
	}
	return node.Value
}

// treeImportance accumulates split counts per feature as a cheap importance
// proxy shared by the ensemble models.
func treeImportance(node *treeNode, importance []float64) {
	if node == nil || node.Leaf {
		return
	}
	if node.Feature < len(importance) {
		importance[node.Feature]++
	}
	treeImportance(node.Left, importance)
	treeImportance(node.Right, importance)
}
