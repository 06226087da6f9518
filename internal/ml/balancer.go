package ml

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
)

// ErrInsufficientData indicates the positive class is too small to train on.
var ErrInsufficientData = errors.New("insufficient training data")

// DefaultNeighbors is the nearest-neighbor count used for oversampling.
const DefaultNeighbors = 5

// Oversample rebalances a labeled training set so both class counts are
// equal, by synthesizing minority-class rows as convex interpolations
// between each minority sample and one of its k nearest minority neighbors.
// It must only ever be applied to the training partition: balancing
// evaluation or live data leaks information and invalidates metrics.
//
// Fails with ErrInsufficientData when the minority class has fewer than
// neighbors+1 samples.
func Oversample(X [][]float64, y []int, neighbors int, seed int64) ([][]float64, []int, error) {
	if len(X) != len(y) {
		return nil, nil, fmt.Errorf("matrix has %d rows but %d labels", len(X), len(y))
	}
	if neighbors <= 0 {
		neighbors = DefaultNeighbors
	}

	var minority [][]float64
	for i, label := range y {
		if label == 1 {
			minority = append(minority, X[i])
		}
	}
	majorityCount := len(X) - len(minority)

	if len(minority) < neighbors+1 {
		return nil, nil, fmt.Errorf("%w: %d positive samples, need at least %d for %d-neighbor oversampling",
			ErrInsufficientData, len(minority), neighbors+1, neighbors)
	}
	if len(minority) >= majorityCount {
		return X, y, nil
	}

	// k nearest minority neighbors per minority sample, by squared
	// euclidean distance.
	nn := make([][]int, len(minority))
	for i := range minority {
		type cand struct {
			idx  int
			dist float64
		}
		cands := make([]cand, 0, len(minority)-1)
		for j := range minority {
			if i == j {
				continue
			}
			cands = append(cands, cand{j, sqDist(minority[i], minority[j])})
		}
		sort.Slice(cands, func(a, b int) bool { return cands[a].dist < cands[b].dist })
		nn[i] = make([]int, neighbors)
		for k := 0; k < neighbors; k++ {
			nn[i][k] = cands[k].idx
		}
	}

	rng := rand.New(rand.NewSource(seed))
	needed := majorityCount - len(minority)

	outX := make([][]float64, len(X), len(X)+needed)
	copy(outX, X)
	outY := make([]int, len(y), len(y)+needed)
	copy(outY, y)

	for n := 0; n < needed; n++ {
		i := n % len(minority)
		base := minority[i]
		neighbor := minority[nn[i][rng.Intn(neighbors)]]
		gap := rng.Float64()

		synth := make([]float64, len(base))
		for j := range base {
			synth[j] = base[j] + gap*(neighbor[j]-base[j])
		}
		outX = append(outX, synth)
		outY = append(outY, 1)
	}

	return outX, outY, nil
}

func sqDist(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
