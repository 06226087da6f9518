package ml

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
)

// ForestConfig holds random forest training parameters.
type ForestConfig struct {
	Trees           int
	MaxDepth        int
	MinSamplesSplit int
	Seed            int64
}

// DefaultForestConfig returns the standard ensemble parameters.
func DefaultForestConfig() ForestConfig {
	return ForestConfig{
		Trees:           100,
		MaxDepth:        12,
		MinSamplesSplit: 2,
		Seed:            42,
	}
}

// Forest is a trained ensemble of independently-built decision trees.
// It is immutable after TrainForest returns; Predict never mutates state.
type Forest struct {
	Trees       []*TreeNode
	NumFeatures int
	Seed        int64
}

// TrainForest trains an ensemble over bootstrap samples of the training
// rows. Each tree gets its own generator seeded from the base seed and the
// tree index, so results are identical regardless of build order; tree
// construction is parallelized opportunistically.
func TrainForest(X [][]float64, y []int, cfg ForestConfig) (*Forest, error) {
	if len(X) == 0 {
		return nil, fmt.Errorf("cannot train forest on empty matrix")
	}
	if len(X) != len(y) {
		return nil, fmt.Errorf("matrix has %d rows but %d labels", len(X), len(y))
	}
	if cfg.Trees <= 0 {
		cfg.Trees = 100
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 12
	}
	if cfg.MinSamplesSplit < 2 {
		cfg.MinSamplesSplit = 2
	}

	numFeatures := len(X[0])
	maxFeatures := int(math.Ceil(math.Sqrt(float64(numFeatures))))

	f := &Forest{
		Trees:       make([]*TreeNode, cfg.Trees),
		NumFeatures: numFeatures,
		Seed:        cfg.Seed,
	}

	params := treeParams{
		maxDepth:        cfg.MaxDepth,
		minSamplesSplit: cfg.MinSamplesSplit,
		maxFeatures:     maxFeatures,
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, 8)

	for t := 0; t < cfg.Trees; t++ {
		wg.Add(1)
		go func(t int) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			rng := rand.New(rand.NewSource(cfg.Seed + int64(t)))

			// Bootstrap sample with replacement.
			idx := make([]int, len(X))
			for i := range idx {
				idx[i] = rng.Intn(len(X))
			}

			f.Trees[t] = growTree(X, y, idx, 0, params, rng)
		}(t)
	}
	wg.Wait()

	return f, nil
}

// Predict returns the ensemble's hard label and fraud probability for one
// vector. Each tree casts a vote; the probability is the fraction of trees
// voting fraud, and the label applies the internal 0.5 majority threshold.
func (f *Forest) Predict(x []float64) (label int, prob float64) {
	if len(f.Trees) == 0 {
		return 0, 0
	}

	votes := 0
	for _, tree := range f.Trees {
		if predictTree(tree, x) >= 0.5 {
			votes++
		}
	}

	prob = float64(votes) / float64(len(f.Trees))
	if prob >= 0.5 {
		label = 1
	}
	return label, prob
}
