package eval

// Confusion counts accept/reject outcomes against reviewer labels. A
// positive is an accepted mention.
type Confusion struct {
	TP int `json:"tp"` // correct, accepted
	FP int `json:"fp"` // incorrect, accepted
	TN int `json:"tn"` // incorrect, rejected
	FN int `json:"fn"` // correct, rejected
}

func (c *Confusion) add(correct, accepted bool) {
	switch {
	case correct && accepted:
		c.TP++
	case correct:
		c.FN++
	case accepted:
		c.FP++
	default:
		c.TN++
	}
}

// Total is the number of counted cases.
func (c Confusion) Total() int { return c.TP + c.FP + c.TN + c.FN }

// Precision is the share of accepted mentions that were correct.
func (c Confusion) Precision() float64 { return ratio(c.TP, c.TP+c.FP) }

// Recall is the share of correct mentions that were accepted.
func (c Confusion) Recall() float64 { return ratio(c.TP, c.TP+c.FN) }

// F1 is the harmonic mean of precision and recall.
func (c Confusion) F1() float64 {
	p, r := c.Precision(), c.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// Accuracy is the share of cases decided in line with the label.
func (c Confusion) Accuracy() float64 { return ratio(c.TP+c.TN, c.Total()) }

// Baseline is the precision of accepting every mention.
func (c Confusion) Baseline() float64 { return ratio(c.TP+c.FN, c.Total()) }

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}
