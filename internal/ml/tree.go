package ml

import (
	"math"
	"math/rand"
	"sort"
)

// TreeNode is one node of a binary decision tree. Fields are exported for
// gob serialization of trained models.
type TreeNode struct {
	Leaf      bool
	Prob      float64 // fraction of fraud rows at a leaf
	Feature   int
	Threshold float64
	Left      *TreeNode
	Right     *TreeNode
}

type treeParams struct {
	maxDepth        int
	minSamplesSplit int
	maxFeatures     int
}

// growTree builds a CART tree over the rows indexed by idx, splitting on
// gini impurity with per-split feature subsampling.
func growTree(X [][]float64, y []int, idx []int, depth int, p treeParams, rng *rand.Rand) *TreeNode {
	pos := 0
	for _, i := range idx {
		pos += y[i]
	}
	prob := float64(pos) / float64(len(idx))

	if depth >= p.maxDepth || len(idx) < p.minSamplesSplit || pos == 0 || pos == len(idx) {
		return &TreeNode{Leaf: true, Prob: prob}
	}

	feature, threshold, ok := bestSplit(X, y, idx, p.maxFeatures, rng)
	if !ok {
		return &TreeNode{Leaf: true, Prob: prob}
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
		return &TreeNode{Leaf: true, Prob: prob}
	}

	return &TreeNode{
		Feature:   feature,
		Threshold: threshold,
		Left:      growTree(X, y, left, depth+1, p, rng),
		Right:     growTree(X, y, right, depth+1, p, rng),
	}
}

// bestSplit finds the (feature, threshold) pair minimizing weighted gini
// impurity over a random subset of features.
func bestSplit(X [][]float64, y []int, idx []int, maxFeatures int, rng *rand.Rand) (int, float64, bool) {
	numFeatures := len(X[idx[0]])
	features := rng.Perm(numFeatures)
	if maxFeatures > 0 && maxFeatures < numFeatures {
		features = features[:maxFeatures]
	}

	bestGini := math.Inf(1)
	bestFeature := -1
	var bestThreshold float64

	values := make([]float64, len(idx))
	order := make([]int, len(idx))

	for _, f := range features {
		for k, i := range idx {
			values[k] = X[i][f]
			order[k] = i
		}
		sort.Sort(&byFeature{values: values, order: order})

		// Running class counts left of the candidate threshold.
		leftPos, leftN := 0, 0
		totalPos := 0
		for _, i := range idx {
			totalPos += y[i]
		}
		total := len(idx)

		for k := 0; k < total-1; k++ {
			leftPos += y[order[k]]
			leftN++
			if values[k] == values[k+1] {
				continue
			}

			rightN := total - leftN
			rightPos := totalPos - leftPos
			g := weightedGini(leftPos, leftN, rightPos, rightN)
			if g < bestGini {
				bestGini = g
				bestFeature = f
				bestThreshold = (values[k] + values[k+1]) / 2
			}
		}
	}

	return bestFeature, bestThreshold, bestFeature >= 0
}

func weightedGini(leftPos, leftN, rightPos, rightN int) float64 {
	total := float64(leftN + rightN)
	return float64(leftN)/total*gini(leftPos, leftN) + float64(rightN)/total*gini(rightPos, rightN)
}

func gini(pos, n int) float64 {
	if n == 0 {
		return 0
	}
	p := float64(pos) / float64(n)
	return 2 * p * (1 - p)
}

// predictTree returns the leaf fraud fraction for a single vector.
func predictTree(node *TreeNode, x []float64) float64 {
	for !node.Leaf {
		if x[node.Feature] <= node.Threshold {
			node = node.Left
		} else {
			node = node.Right
		}
	}
	return node.Prob
}

// byFeature sorts values and carries the row order along.
type byFeature struct {
	values []float64
	order  []int
}

func (s *byFeature) Len() int { return len(s.values) }
func (s *byFeature) Less(i, j int) bool { return s.values[i] < s.values[j] }
func (s *byFeature) Swap(i, j int) {
	s.values[i], s.values[j] = s.values[j], s.values[i]
	s.order[i], s.order[j] = s.order[j], s.order[i]
}
