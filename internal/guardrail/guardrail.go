// Package guardrail re-examines a deficiency's problem statement and promotes
// the classifier's label to High when a safety-critical system is described
// near failure language.
//
// Only the deficiency and root cause are inspected. Corrective and preventive
// text routinely names critical equipment ("lifeboat davits greased") without
// describing a fault, so it never influences the outcome.
//
// Adjudication is pure and total: it never fails, never calls out, and can
// only raise a label to High.
package guardrail

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/rsrisk/internal/risk"
)

// DefaultWindow is the number of characters inspected on each side of an
// anchor term.
const DefaultWindow = 48

// DefaultAnchors names safety-critical systems.
var DefaultAnchors = []string{
	`\bfire extinguishers?\b`,
	`\blife ?boats?\b`,
	`\brescue boats?\b`,
	`\blife ?rafts?\b`,
	`\bself[- ]contained breathing apparatus\b`,
	`\bscba\b`,
	`\bglobal maritime distress(?: and safety)? system\b`,
	`\bgmdss\b`,
	`\bgeneral alarms?\b`,
	`\bemergency generators?\b`,
	`\bemergency steering\b`,
	`\bco2 (?:fire )?(?:extinguishing )?system\b`,
	`\bfoam (?:fire )?(?:extinguishing )?system\b`,
}

// DefaultFailures names failure and degradation language.
var DefaultFailures = []string{
	`\binoperative\b`,
	`\bnot (?:working|approved|available|provided|fitted|installed|compliant)\b`,
	`\bdefect(?:s|ive)?\b`,
	`\bdamage[ds]?\b`,
	`\bleak(?:s|ed|ing|age)?\b`,
	`\bexpired\b`,
	`\bmissing\b`,
	`\bfault(?:s|y)?\b`,
	`\bunserviceable\b`,
	`\bnon[- ]?functional\b`,
	`\bfail(?:s|ed|ing|ure|ures)?\b`,
	`\bcorroded\b`,
	`\brusted\b`,
	`\bbroken\b`,
	`\bcracked\b`,
	`\bbent\b`,
	`\bseized\b`,
	`\bstuck\b`,
	`\bmalfunction(?:s|ed|ing)?\b`,
	`\bunsafe\b`,
}

// Options tunes the adjudicator. Zero values fall back to the defaults.
type Options struct {
	Window   int
	Anchors  []string
	Failures []string
}

// Decision explains an adjudication.
type Decision struct {
	Input    risk.Level `json:"input"`
	Final    risk.Level `json:"final"`
	Promoted bool       `json:"promoted"`
	Anchor   string     `json:"anchor,omitempty"`
	Failure  string     `json:"failure,omitempty"`
}

// Adjudicator applies the proximity rule. It is immutable and safe for
// concurrent use.
type Adjudicator struct {
	window   int
	anchors  *regexp.Regexp
	failures *regexp.Regexp
}

// New compiles an adjudicator from opts.
func New(opts Options) (*Adjudicator, error) {
	if opts.Window == 0 {
		opts.Window = DefaultWindow
	}
	if opts.Window < 0 {
		return nil, fmt.Errorf("guardrail window must be positive, got %d", opts.Window)
	}
	if len(opts.Anchors) == 0 {
		opts.Anchors = DefaultAnchors
	}
	if len(opts.Failures) == 0 {
		opts.Failures = DefaultFailures
	}

	anchors, err := compileAlternation(opts.Anchors)
	if err != nil {
		return nil, fmt.Errorf("compiling anchor terms: %w", err)
	}
	failures, err := compileAlternation(opts.Failures)
	if err != nil {
		return nil, fmt.Errorf("compiling failure terms: %w", err)
	}

	return &Adjudicator{
		window:   opts.Window,
		anchors:  anchors,
		failures: failures,
	}, nil
}

func compileAlternation(patterns []string) (*regexp.Regexp, error) {
	parts := make([]string, len(patterns))
	for i, p := range patterns {
		if _, err := regexp.Compile(p); err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p, err)
		}
		parts[i] = "(?:" + p + ")"
	}
	return regexp.Compile("(?i)" + strings.Join(parts, "|"))
}

var defaultAdjudicator = mustDefault()

func mustDefault() *Adjudicator {
	a, err := New(Options{})
	if err != nil {
		panic(err)
	}
	return a
}

// Default returns the adjudicator built from the default vocabularies.
func Default() *Adjudicator {
	return defaultAdjudicator
}

// Adjudicate applies the default adjudicator.
func Adjudicate(rec risk.Record, label risk.Level) risk.Level {
	return defaultAdjudicator.Adjudicate(rec, label)
}

// Adjudicate returns the final level for rec given the classifier's label.
func (a *Adjudicator) Adjudicate(rec risk.Record, label risk.Level) risk.Level {
	return a.Explain(rec, label).Final
}

// Explain adjudicates and reports which terms triggered a promotion.
func (a *Adjudicator) Explain(rec risk.Record, label risk.Level) Decision {
	d := Decision{Input: label, Final: label}
	if label == risk.High {
		return d
	}

	anchor, failure, ok := a.match(problemText(rec))
	if !ok {
		return d
	}

	d.Final = risk.High
	d.Promoted = true
	d.Anchor = anchor
	d.Failure = failure
	return d
}

// problemText is the lower-cased deficiency and root cause.
func problemText(rec risk.Record) string {
	return strings.ToLower(rec.Deficiency + " " + rec.RootCause)
}

// match finds the first anchor that has a failure term fully inside the
// window around it. The window counts runes, not bytes.
func (a *Adjudicator) match(text string) (string, string, bool) {
	anchors := a.anchors.FindAllStringIndex(text, -1)
	if len(anchors) == 0 {
		return "", "", false
	}
	failures := a.failures.FindAllStringIndex(text, -1)
	if len(failures) == 0 {
		return "", "", false
	}

	runes := runeOffsets(text)
	for _, an := range anchors {
		lo := runes[an[0]] - a.window
		hi := runes[an[1]] + a.window
		for _, f := range failures {
			if runes[f[0]] >= lo && runes[f[1]] <= hi {
				return text[an[0]:an[1]], text[f[0]:f[1]], true
			}
		}
	}
	return "", "", false
}

// runeOffsets maps each rune start of s, and len(s), to the number of runes
// before it. Regexp match boundaries always fall on rune starts.
func runeOffsets(s string) []int {
	offsets := make([]int, len(s)+1)
	n := 0
	for i := range s {
		offsets[i] = n
		n++
	}
	offsets[len(s)] = n
	return offsets
}
