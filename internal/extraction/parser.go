package extraction

import (
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/rsrisk/internal/risk"
)

const labelAlternation = `deficiency|root[\s_]*cause|corrective(?:\s*actions?)?|preventive(?:\s*actions?)?`

var (
	// blockMarker separates deficiencies: "Deficiency 1", "DEFICIENCY 12".
	blockMarker = regexp.MustCompile(`(?i)\bdeficiency\s+\d+\b`)

	// labelToken matches "Label:" anywhere, or a label alone on its line.
	labelToken = regexp.MustCompile(`(?im)\b(` + labelAlternation + `)[ \t]*:|^[ \t]*(` + labelAlternation + `)[ \t]*$`)
)

type field int

const (
	fieldDeficiency field = iota
	fieldRootCause
	fieldCorrective
	fieldPreventive
)

// SplitBlocks splits report text on deficiency markers and returns the
// non-empty trimmed blocks in order.
func SplitBlocks(text string) []string {
	parts := blockMarker.Split(text, -1)
	blocks := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			blocks = append(blocks, p)
		}
	}
	return blocks
}

// Parser reads labeled sections from a block.
type Parser struct{}

// Parse extracts the four fields from block. A field's value runs from its
// label to the next boundary or the end of the block. Labels at the start of
// a line are always boundaries; an inline label is one only when it opens a
// field not yet seen, so "previous deficiency: ..." inside a value stays part
// of it. When a label appears more than once, the first occurrence wins. ok is
// false when no deficiency text was found.
func (Parser) Parse(block string) (rec risk.Record, ok bool) {
	type token struct {
		start, end int
		f          field
		opens      bool
	}

	var tokens []token
	seen := make(map[field]bool, 4)
	for _, m := range labelToken.FindAllStringSubmatchIndex(block, -1) {
		label := submatch(block, m, 1)
		if label == "" {
			label = submatch(block, m, 2)
		}
		f, known := classify(label)
		opens := known && !seen[f]
		if !opens && !atLineStart(block, m[0]) {
			continue
		}
		if opens {
			seen[f] = true
		}
		tokens = append(tokens, token{start: m[0], end: m[1], f: f, opens: opens})
	}

	for i, tok := range tokens {
		if !tok.opens {
			continue
		}
		end := len(block)
		if i+1 < len(tokens) {
			end = tokens[i+1].start
		}
		value := strings.TrimSpace(block[tok.end:end])

		switch tok.f {
		case fieldDeficiency:
			rec.Deficiency = value
		case fieldRootCause:
			rec.RootCause = value
		case fieldCorrective:
			rec.Corrective = value
		case fieldPreventive:
			rec.Preventive = value
		}
	}
	return rec, rec.Deficiency != ""
}

func atLineStart(s string, i int) bool {
	lineStart := strings.LastIndexByte(s[:i], '\n') + 1
	return strings.TrimSpace(s[lineStart:i]) == ""
}

func submatch(s string, m []int, group int) string {
	if m[2*group] < 0 {
		return ""
	}
	return s[m[2*group]:m[2*group+1]]
}

func classify(label string) (field, bool) {
	l := strings.ToLower(label)
	switch {
	case strings.HasPrefix(l, "deficiency"):
		return fieldDeficiency, true
	case strings.HasPrefix(l, "root"):
		return fieldRootCause, true
	case strings.HasPrefix(l, "corrective"):
		return fieldCorrective, true
	case strings.HasPrefix(l, "preventive"):
		return fieldPreventive, true
	}
	return 0, false
}
