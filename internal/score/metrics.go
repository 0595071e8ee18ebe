package score

import (
	"fmt"
	"strconv"
	"strings"
)

// PickMetrics are derived from accumulated MatchCounts.
type PickMetrics struct {
	F1  float64 `json:"f1"`
	TPR float64 `json:"tpr"`
	// FPRProxy is the proportion of predicted picks that matched nothing,
	// fp/(fp+tp). It is not a classical false positive rate: true negatives
	// do not exist at pick granularity.
	FPRProxy float64 `json:"fpr_proxy"`
	// Confusion is [[TN FP] [FN TP]] with TN fixed at 0.
	Confusion [2][2]int `json:"confusion"`
}

// Metrics computes F1, TPR and the FPR proxy. Each metric is 0 when its
// denominator is 0.
func (c MatchCounts) Metrics() PickMetrics {
	return PickMetrics{
		F1:        ratio(2*c.TP, 2*c.TP+c.FP+c.FN),
		TPR:       ratio(c.TP, c.TP+c.FN),
		FPRProxy:  ratio(c.FP, c.FP+c.TP),
		Confusion: [2][2]int{{0, c.FP}, {c.FN, c.TP}},
	}
}

// F1 returns 2tp/(2tp+fp+fn).
func (c MatchCounts) F1() float64 { return ratio(2*c.TP, 2*c.TP+c.FP+c.FN) }

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// BinaryConfusion counts agreement between two equal-length indicator vectors.
// Values above 0.5 are positive.
type BinaryConfusion struct {
	TP, TN, FP, FN int
}

// Confuse builds a BinaryConfusion from observed and predicted vectors. Extra
// trailing samples of the longer vector are ignored.
func Confuse(observed, predicted []float64) BinaryConfusion {
	n := len(observed)
	if len(predicted) < n {
		n = len(predicted)
	}
	var c BinaryConfusion
	for i := 0; i < n; i++ {
		o := observed[i] > 0.5
		p := predicted[i] > 0.5
		switch {
		case o && p:
			c.TP++
		case !o && !p:
			c.TN++
		case !o && p:
			c.FP++
		default:
			c.FN++
		}
	}
	return c
}

// BinaryMetrics holds sample-level metrics with a classical FPR.
type BinaryMetrics struct {
	F1        float64   `json:"f1"`
	TPR       float64   `json:"tpr"`
	FPR       float64   `json:"fpr"`
	Confusion [2][2]int `json:"confusion"`
}

// Metrics computes sample-level F1, TPR and FPR = fp/(fp+tn).
func (c BinaryConfusion) Metrics() BinaryMetrics {
	return BinaryMetrics{
		F1:        ratio(2*c.TP, 2*c.TP+c.FP+c.FN),
		TPR:       ratio(c.TP, c.TP+c.FN),
		FPR:       ratio(c.FP, c.FP+c.TN),
		Confusion: [2][2]int{{c.TN, c.FP}, {c.FN, c.TP}},
	}
}

// FBeta returns the F-beta score of the confusion counts.
func (c BinaryConfusion) FBeta(beta float64) float64 {
	b2 := beta * beta
	num := (1 + b2) * float64(c.TP)
	den := num + b2*float64(c.FN) + float64(c.FP)
	if den == 0 {
		return 0
	}
	return num / den
}

// Precision returns tp/(tp+fp).
func (c BinaryConfusion) Precision() float64 { return ratio(c.TP, c.TP+c.FP) }

// Recall returns tp/(tp+fn).
func (c BinaryConfusion) Recall() float64 { return ratio(c.TP, c.TP+c.FN) }

// ROCAUC returns the area under the ROC curve of hard 0/1 predictions, which
// reduces to (TPR + TNR) / 2. It is 0 when either class is absent from the
// observed vector.
func (c BinaryConfusion) ROCAUC() float64 {
	pos := c.TP + c.FN
	neg := c.TN + c.FP
	if pos == 0 || neg == 0 {
		return 0
	}
	return (ratio(c.TP, pos) + ratio(c.TN, neg)) / 2
}

// Objective scores predicted against observed indicator vectors with the named
// metric: "f<beta>" (e.g. "f1", "f0.5"), "pr" or "precision", "re" or
// "recall", "roc".
func Objective(metric string, observed, predicted []float64) (float64, error) {
	c := Confuse(observed, predicted)
	m := strings.ToLower(strings.TrimSpace(metric))
	switch m {
	case "", "f1":
		return c.FBeta(1), nil
	case "pr", "precision":
		return c.Precision(), nil
	case "re", "recall":
		return c.Recall(), nil
	case "roc":
		return c.ROCAUC(), nil
	}
	if strings.HasPrefix(m, "f") {
		beta, err := strconv.ParseFloat(m[1:], 64)
		if err != nil || beta <= 0 {
			return 0, fmt.Errorf("invalid f-beta metric %q", metric)
		}
		return c.FBeta(beta), nil
	}
	return 0, fmt.Errorf("unknown metric %q", metric)
}

// ValidMetric reports whether Objective accepts metric.
func ValidMetric(metric string) bool {
	_, err := Objective(metric, nil, nil)
	return err == nil
}
