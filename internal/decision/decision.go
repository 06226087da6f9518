// Package decision maps classifier confidence scores onto labels and
// alert outcomes.
package decision

// Thresholds used by the default policy. The internal threshold decides
// the predicted label; the alert threshold decides whether the prediction
// is surfaced as an alert. They are independent knobs: moving one never
// moves the other.
const (
	DefaultInternalThreshold = 0.5
	DefaultAlertThreshold    = 0.80
)

// Policy converts a fraud confidence score into a decision outcome.
type Policy struct {
	// Confidence at or above which the predicted label is fraud.
	InternalThreshold float64

	// Confidence at or above which a fraud prediction raises an alert.
	AlertThreshold float64
}

// NewPolicy creates a policy with the default thresholds.
func NewPolicy() *Policy {
	return &Policy{
		InternalThreshold: DefaultInternalThreshold,
		AlertThreshold:    DefaultAlertThreshold,
	}
}

// Outcome is the result of applying the policy to one score.
type Outcome struct {
	Label      int
	Confidence float64
	Alert      bool
}

// Decide applies both thresholds to a confidence score. Boundaries are
// inclusive: a score of exactly 0.80 alerts.
func (p *Policy) Decide(confidence float64) Outcome {
	out := Outcome{Confidence: confidence}
	if confidence >= p.InternalThreshold {
		out.Label = 1
	}
	if out.Label == 1 && confidence >= p.AlertThreshold {
		out.Alert = true
	}
	return out
}
