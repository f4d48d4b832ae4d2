// Package evaluation scores predicted risk levels against gold labels.
package evaluation

import (
	"fmt"

	"github.com/fyrsmithlabs/rsrisk/internal/risk"
)

// ClassMetrics holds per-level scores.
type ClassMetrics struct {
	Level     risk.Level `json:"level"`
	Precision float64    `json:"precision"`
	Recall    float64    `json:"recall"`
	F1        float64    `json:"f1"`
	Support   int        `json:"support"`
}

// Report summarizes one evaluation. Classes are ordered High, Medium, Low.
type Report struct {
	Classes        []ClassMetrics `json:"classes"`
	MacroPrecision float64        `json:"macro_precision"`
	MacroRecall    float64        `json:"macro_recall"`
	MacroF1        float64        `json:"macro_f1"`
	Accuracy       float64        `json:"accuracy"`
	Total          int            `json:"total"`
	// Confusion[gold][pred] counts pairs.
	Confusion map[risk.Level]map[risk.Level]int `json:"confusion"`
}

// Evaluate compares pred with gold position by position. Divisions by zero
// yield 0.
func Evaluate(pred, gold []risk.Level) (Report, error) {
	if len(pred) != len(gold) {
		return Report{}, fmt.Errorf("prediction count %d does not match gold count %d", len(pred), len(gold))
	}

	levels := risk.Levels()
	confusion := make(map[risk.Level]map[risk.Level]int, len(levels))
	for _, g := range levels {
		confusion[g] = make(map[risk.Level]int, len(levels))
	}

	correct := 0
	for i := range pred {
		if !pred[i].Valid() || !gold[i].Valid() {
			return Report{}, fmt.Errorf("position %d: %w", i+1, risk.ErrInvalidLevel)
		}
		confusion[gold[i]][pred[i]]++
		if pred[i] == gold[i] {
			correct++
		}
	}

	r := Report{Total: len(pred), Confusion: confusion, Accuracy: ratio(correct, len(pred))}
	for _, lvl := range levels {
		tp := confusion[lvl][lvl]
		predicted, support := 0, 0
		for _, other := range levels {
			predicted += confusion[other][lvl]
			support += confusion[lvl][other]
		}
		m := ClassMetrics{
			Level:     lvl,
			Precision: ratio(tp, predicted),
			Recall:    ratio(tp, support),
			Support:   support,
		}
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		r.Classes = append(r.Classes, m)
		r.MacroPrecision += m.Precision
		r.MacroRecall += m.Recall
		r.MacroF1 += m.F1
	}
	n := float64(len(levels))
	r.MacroPrecision /= n
	r.MacroRecall /= n
	r.MacroF1 /= n
	return r, nil
}

func ratio(a, b int) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}
