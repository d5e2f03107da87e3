package classifier

import (
	"math"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// Evaluation holds binary classification metrics at DecisionThreshold.
type Evaluation struct {
	Accuracy    float64 `json:"accuracy"`
	Precision   float64 `json:"precision"`
	Recall      float64 `json:"recall"`
	F1          float64 `json:"f1_score"`
	ROCAUC      float64 `json:"roc_auc"`
	Specificity float64 `json:"specificity"`

	TruePositives  int `json:"true_positives"`
	TrueNegatives  int `json:"true_negatives"`
	FalsePositives int `json:"false_positives"`
	FalseNegatives int `json:"false_negatives"`
	Support        int `json:"support"`
}

// Evaluate scores positive-class probabilities against labels. Ratios whose
// denominator is zero are reported as 0.
func Evaluate(y []int, scores []float64) *Evaluation {
	ev := &Evaluation{Support: len(y)}
	for i, label := range y {
		pred := scores[i] >= DecisionThreshold
		switch {
		case label == 1 && pred:
			ev.TruePositives++
		case label == 1:
			ev.FalseNegatives++
		case pred:
			ev.FalsePositives++
		default:
			ev.TrueNegatives++
		}
	}

	tp, tn := float64(ev.TruePositives), float64(ev.TrueNegatives)
	fp, fn := float64(ev.FalsePositives), float64(ev.FalseNegatives)
	ev.Accuracy = ratio(tp+tn, tp+tn+fp+fn)
	ev.Precision = ratio(tp, tp+fp)
	ev.Recall = ratio(tp, tp+fn)
	ev.F1 = ratio(2*ev.Precision*ev.Recall, ev.Precision+ev.Recall)
	ev.Specificity = ratio(tn, tn+fp)
	ev.ROCAUC = AUC(y, scores)
	return ev
}

// AUC returns the area under the ROC curve. With a single class present the
// curve is undefined and 0.5 is returned.
func AUC(y []int, scores []float64) float64 {
	pos := 0
	for _, v := range y {
		pos += v
	}
	if pos == 0 || pos == len(y) {
		return 0.5
	}

	s := make([]float64, len(scores))
	copy(s, scores)
	classes := make([]bool, len(y))
	for i, v := range y {
		classes[i] = v == 1
	}
	stat.SortWeightedLabeled(s, classes, nil)

	tpr, fpr, _ := stat.ROC(nil, s, classes, nil)
	return integrate.Trapezoidal(fpr, tpr)
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	r := num / den
	if math.IsNaN(r) {
		return 0
	}
	return r
}
