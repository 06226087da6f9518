package domain

import (
	"fmt"
	"time"
)

// FeatureCount is the number of anonymized numeric features per transaction
// (v1..v28, PCA components from the card transaction dataset).
const FeatureCount = 28

// VectorLen is the length of a full feature vector: v1..v28 followed by amount.
const VectorLen = FeatureCount + 1

// Label values for the ground-truth and predicted classes.
const (
	LabelLegit = 0
	LabelFraud = 1
)

// Transaction is an immutable snapshot of a card transaction at detection
// time. The engine never mutates Amount or Features; only the derived
// MLPrediction / MLConfidence fields are written back to the store.
type Transaction struct {
	ID        string    `json:"transactionId"`
	Timestamp time.Time `json:"timestamp"`
	Amount    float64   `json:"amount"`

	// Features holds the anonymized components v1..v28 in order.
	Features [FeatureCount]float64 `json:"features"`

	// Label is the ground-truth class: 0 legit, 1 fraud, nil unknown.
	Label *int `json:"label,omitempty"`

	// Derived fields written by the scoring pipeline.
	MLPrediction *int     `json:"mlPrediction,omitempty"`
	MLConfidence *float64 `json:"mlConfidence,omitempty"`
}

// FeatureVector returns the ordered model input: v1..v28 then amount.
// The column order is fixed and identical between training and scoring.
func (t *Transaction) FeatureVector() []float64 {
	v := make([]float64, VectorLen)
	copy(v, t.Features[:])
	v[FeatureCount] = t.Amount
	return v
}

// FeatureColumns returns the canonical column names in vector order.
func FeatureColumns() []string {
	cols := make([]string, VectorLen)
	for i := 0; i < FeatureCount; i++ {
		cols[i] = fmt.Sprintf("v%d", i+1)
	}
	cols[FeatureCount] = "amount"
	return cols
}

// Prediction is a scored transaction keyed by its ID. Predictions are never
// correlated to rows by positional index.
type Prediction struct {
	TransactionID string  `json:"transactionId"`
	Label         int     `json:"label"`
	Confidence    float64 `json:"confidence"`
}

// PredictionResult is the API response for a single-transaction prediction.
type PredictionResult struct {
	TransactionID string  `json:"transactionId"`
	Label         int     `json:"label"`
	Confidence    float64 `json:"confidence"`
	Fraud         bool    `json:"fraud"`
}
