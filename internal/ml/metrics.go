package ml

// ClassMetrics holds per-class evaluation results.
type ClassMetrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// Classification computes per-class precision, recall and F1 over a
// held-out test partition. The test set's class imbalance must be preserved
// by the caller so the numbers reflect the deployment distribution.
func Classification(yTrue, yPred []int) map[int]ClassMetrics {
	classes := map[int]struct{}{}
	for _, y := range yTrue {
		classes[y] = struct{}{}
	}
	for _, y := range yPred {
		classes[y] = struct{}{}
	}

	out := make(map[int]ClassMetrics, len(classes))
	for c := range classes {
		var tp, fp, fn int
		for i := range yTrue {
			switch {
			case yTrue[i] == c && yPred[i] == c:
				tp++
			case yTrue[i] != c && yPred[i] == c:
				fp++
			case yTrue[i] == c && yPred[i] != c:
				fn++
			}
		}

		m := ClassMetrics{Support: tp + fn}
		if tp+fp > 0 {
			m.Precision = float64(tp) / float64(tp+fp)
		}
		if tp+fn > 0 {
			m.Recall = float64(tp) / float64(tp+fn)
		}
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		out[c] = m
	}

	return out
}
