package metrics

import (
	"math"
	"strconv"
)

// Ratio is a metric in [0, 1]. The in-memory value is exact; it is rounded
// to four decimals only when marshalled.
type Ratio float64

// Rounded returns r rounded half away from zero to four decimals.
func (r Ratio) Rounded() float64 {
	v := math.Round(float64(r)*1e4) / 1e4
	if v == 0 {
		return 0 // drop negative zero
	}
	return v
}

func (r Ratio) MarshalJSON() ([]byte, error) {
	return strconv.AppendFloat(nil, r.Rounded(), 'f', -1, 64), nil
}

// SafeRatio returns num/den, or 0 when den is 0.
func SafeRatio(num, den int) Ratio {
	if den == 0 {
		return 0
	}
	return Ratio(float64(num) / float64(den))
}

// F1 is the harmonic mean of precision and recall, 0 when both are 0.
func F1(precision, recall Ratio) Ratio {
	if precision+recall == 0 {
		return 0
	}
	return 2 * precision * recall / (precision + recall)
}

// Counts is a TP/FP/FN contingency with derived ratios.
type Counts struct {
	TP        int   `json:"tp"`
	FP        int   `json:"fp"`
	FN        int   `json:"fn"`
	Precision Ratio `json:"precision"`
	Recall    Ratio `json:"recall"`
	F1        Ratio `json:"f1"`
}

func (c *Counts) add(o Counts) {
	c.TP += o.TP
	c.FP += o.FP
	c.FN += o.FN
}

func (c *Counts) derive() {
	c.Precision = SafeRatio(c.TP, c.TP+c.FP)
	c.Recall = SafeRatio(c.TP, c.TP+c.FN)
	c.F1 = F1(c.Precision, c.Recall)
}

// Evidence reports whether any clause contributed to the contingency.
func (c Counts) Evidence() bool { return c.TP+c.FP+c.FN > 0 }
