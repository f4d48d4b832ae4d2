package retrieval

import (
	"sort"

	"github.com/fyrsmithlabs/rsrisk/internal/risk"
)

// Alignment reports how reference records paired with gold labels.
// Records and labels are matched by 1-based position only, so counts that
// drift apart usually mean the segmenter split the report differently from
// whoever labeled it.
type Alignment struct {
	Records int `json:"records"`
	Labels  int `json:"labels"`
	// Defaulted lists record positions with no label; they were indexed as Low.
	Defaulted []int `json:"defaulted,omitempty"`
	// Unused lists label ordinals with no matching record.
	Unused []int `json:"unused,omitempty"`
}

// Drifted reports whether any record or label went unpaired.
func (a Alignment) Drifted() bool {
	return len(a.Defaulted) > 0 || len(a.Unused) > 0
}

// Align pairs records with labels by position.
func Align(records []risk.Record, labels Labels) ([]risk.LabeledExample, Alignment) {
	al := Alignment{Records: len(records), Labels: len(labels)}
	examples := make([]risk.LabeledExample, len(records))
	for i, rec := range records {
		lvl, ok := labels.Lookup(i + 1)
		if !ok {
			al.Defaulted = append(al.Defaulted, i+1)
		}
		examples[i] = risk.LabeledExample{Text: rec.Text(), Label: lvl}
	}
	for ordinal := range labels {
		if ordinal < 1 || ordinal > len(records) {
			al.Unused = append(al.Unused, ordinal)
		}
	}
	sort.Ints(al.Unused)
	return examples, al
}
