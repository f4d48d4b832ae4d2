// Package risk defines the deficiency, verdict and risk-level types shared by
// the segmentation, retrieval, classification and guardrail stages.
package risk

import (
	"fmt"
	"strings"
)

// Level is a risk severity. Only High, Medium and Low are valid.
type Level string

const (
	High   Level = "High"
	Medium Level = "Medium"
	Low    Level = "Low"
)

// Levels returns the valid levels from most to least severe.
func Levels() []Level {
	return []Level{High, Medium, Low}
}

// ParseLevel parses a level case-insensitively, ignoring surrounding whitespace.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return High, nil
	case "medium":
		return Medium, nil
	case "low":
		return Low, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidLevel, s)
}

// Valid reports whether l is one of the three levels.
func (l Level) Valid() bool {
	return l == High || l == Medium || l == Low
}

// Rank orders levels by severity: Low=0, Medium=1, High=2, invalid=-1.
func (l Level) Rank() int {
	switch l {
	case Low:
		return 0
	case Medium:
		return 1
	case High:
		return 2
	}
	return -1
}

func (l Level) String() string {
	return string(l)
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLevel, string(l))
	}
	return []byte(l), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Record is one deficiency finding segmented from a report.
type Record struct {
	Deficiency string `json:"deficiency"`
	RootCause  string `json:"root_cause"`
	Corrective string `json:"corrective"`
	Preventive string `json:"preventive"`
}

// Text renders all four fields in the labeled form used for prompts and
// index documents.
func (r Record) Text() string {
	return "DEFICIENCY: " + r.Deficiency +
		"\nROOT_CAUSE: " + r.RootCause +
		"\nCORRECTIVE: " + r.Corrective +
		"\nPREVENTIVE: " + r.Preventive
}

// Query renders the problem statement used to look up similar examples.
func (r Record) Query() string {
	return "DEFICIENCY: " + r.Deficiency + "\nROOT_CAUSE: " + r.RootCause
}

// Fields returns the four field values in order.
func (r Record) Fields() []string {
	return []string{r.Deficiency, r.RootCause, r.Corrective, r.Preventive}
}

// LabeledExample is a reference record with its gold label.
// Score is set when the example is returned from a similarity query.
type LabeledExample struct {
	Text  string  `json:"text"`
	Label Level   `json:"label"`
	Score float32 `json:"score,omitempty"`
}

// Verdict is the classifier's structured answer for one record.
type Verdict struct {
	Risk      Level    `json:"risk"`
	Rationale string   `json:"rationale"`
	Evidence  []string `json:"evidence"`
}

// Result pairs a record with its verdict and the guardrail-adjudicated level.
// Position is the 1-based index of the record in the segmented report.
type Result struct {
	Position int     `json:"position"`
	Record   Record  `json:"record"`
	Verdict  Verdict `json:"verdict"`
	Final    Level   `json:"final"`
}

// Overridden reports whether the guardrail changed the classifier's label.
func (r Result) Overridden() bool {
	return r.Final != r.Verdict.Risk
}
