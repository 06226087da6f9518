// Package frame provides the canonical tabular representation of a batch of
// transactions: one row per transaction, fixed ordered column schema
// (v1..v28, amount).
package frame

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	// ErrSchemaMismatch indicates rows that do not conform to the expected
	// feature schema (non-finite values, or a missing label where one is
	// required). The model must never touch such data.
	ErrSchemaMismatch = errors.New("feature schema mismatch")

	// ErrEmpty indicates an empty input batch.
	ErrEmpty = errors.New("empty transaction batch")
)

// Frame is a labeled or unlabeled feature matrix. Rows stay paired with
// transaction IDs end-to-end; downstream code never correlates predictions
// to rows by positional index alone.
type Frame struct {
	IDs     []string
	X       [][]float64
	Y       []int
	Labeled bool
}

// FromTransactions builds a Frame from a batch of transactions.
// With requireLabels set, every transaction must carry a ground-truth label.
func FromTransactions(txs []*domain.Transaction, requireLabels bool) (*Frame, error) {
	if len(txs) == 0 {
		return nil, ErrEmpty
	}

	f := &Frame{
		IDs:     make([]string, len(txs)),
		X:       make([][]float64, len(txs)),
		Labeled: requireLabels,
	}
	if requireLabels {
		f.Y = make([]int, len(txs))
	}

	for i, tx := range txs {
		vec := tx.FeatureVector()
		for _, v := range vec {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: non-finite feature value in transaction %s", ErrSchemaMismatch, tx.ID)
			}
		}
		if requireLabels {
			if tx.Label == nil {
				return nil, fmt.Errorf("%w: transaction %s has no label", ErrSchemaMismatch, tx.ID)
			}
			f.Y[i] = *tx.Label
		}
		f.IDs[i] = tx.ID
		f.X[i] = vec
	}

	return f, nil
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	return len(f.X)
}

// ClassCounts returns the negative and positive row counts of a labeled frame.
func (f *Frame) ClassCounts() (neg, pos int) {
	for _, y := range f.Y {
		if y == domain.LabelFraud {
			pos++
		} else {
			neg++
		}
	}
	return neg, pos
}

// StratifiedSplit partitions a labeled frame into train and test frames,
// preserving the class ratio in both partitions. The split is deterministic
// for a given seed. The test partition keeps the original class imbalance;
// it is never balanced or used for fitting.
func (f *Frame) StratifiedSplit(testFraction float64, seed int64) (train, test *Frame, err error) {
	if !f.Labeled {
		return nil, nil, fmt.Errorf("%w: split requires labels", ErrSchemaMismatch)
	}
	if testFraction <= 0 || testFraction >= 1 {
		return nil, nil, fmt.Errorf("test fraction must be in (0, 1), got %v", testFraction)
	}

	var posIdx, negIdx []int
	for i, y := range f.Y {
		if y == domain.LabelFraud {
			posIdx = append(posIdx, i)
		} else {
			negIdx = append(negIdx, i)
		}
	}

	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(posIdx), func(i, j int) { posIdx[i], posIdx[j] = posIdx[j], posIdx[i] })
	rng.Shuffle(len(negIdx), func(i, j int) { negIdx[i], negIdx[j] = negIdx[j], negIdx[i] })

	train = &Frame{Labeled: true}
	test = &Frame{Labeled: true}

	appendRows := func(dst *Frame, idx []int) {
		for _, i := range idx {
			dst.IDs = append(dst.IDs, f.IDs[i])
			dst.X = append(dst.X, f.X[i])
			dst.Y = append(dst.Y, f.Y[i])
		}
	}

	posTest := int(math.Round(float64(len(posIdx)) * testFraction))
	negTest := int(math.Round(float64(len(negIdx)) * testFraction))
	appendRows(test, posIdx[:posTest])
	appendRows(test, negIdx[:negTest])
	appendRows(train, posIdx[posTest:])
	appendRows(train, negIdx[negTest:])

	if train.Len() == 0 || test.Len() == 0 {
		return nil, nil, fmt.Errorf("split produced an empty partition (%d train, %d test rows)", train.Len(), test.Len())
	}

	return train, test, nil
}
