package classifier

import (
	"strings"

	"github.com/fyrsmithlabs/rsrisk/internal/risk"
)

// maxExampleChars caps each example's text in the prompt.
const maxExampleChars = 650

const definitions = `High = Significant finding threatening personnel, ship, or environment; likely to impair emergency response or pollution prevention; could lead to detention, economic or reputational harm.
Medium = Weakness in processes, procedures, or shipboard practices that raises risk but does not imminently impair emergency systems or pollution prevention.
Low = Administrative or minor issue unlikely to cause an accident; at worst minor damage if realized.`

const decisionRules = `DECISION RULES (apply in order; first match wins):

1) HIGH if any of the following are affected or plausibly impaired:
   - Firefighting or life-saving appliances: extinguishers, lifeboats, rescue boats, liferafts, SCBA, alarms.
   - Emergency systems: GMDSS, general alarm, emergency generator, emergency steering.
   - Pollution prevention or critical statutory certification (MARPOL, IOPP, ISPS, ISM where safety is jeopardized; expired or invalid critical certificates).
   - Structural or watertight integrity; navigation safety equipment with safety impact.
   - Systemic failure creating immediate risk (repeated, widespread, or during operations).
   When unsure between High and Medium on life-safety or pollution, choose HIGH. Evidence must name at least one concrete item above.

2) MEDIUM if:
   - Process, procedure, training or record-keeping weaknesses (logbooks, certificate filing) without immediate safety or pollution impact.
   - Documentation inconsistencies where a valid certificate or system remained in effect and safety was not impaired.
   - Single-point human error corrected with preventive actions, with no critical system impaired.

3) LOW if:
   - Minor administrative or cosmetic issues unlikely to lead to an accident by themselves.
   - Isolated clerical items with no operational consequence that were already corrected.

TIE-BREAKERS:
- Favor HIGH for life-safety or pollution-critical items.
- An isolated missed drill entry that was promptly corrected is LOW.
- Do NOT choose HIGH unless the evidence explicitly names a life-safety or pollution-critical item from Rule 1.`

const header = "You are an AI risk assessor for ship inspections. Classify ship inspection DEFICIENCIES into High/Medium/Low.\n\n" +
	"RISK DEFINITIONS:\n" + definitions + "\n\n" +
	decisionRules + "\n\n"

const instructions = "INSTRUCTIONS:\n" +
	"- Read only the NEW RECORD content below.\n" +
	"- Apply the DECISION RULES strictly and be conservative for life-safety and pollution.\n" +
	"OUTPUT DISCIPLINE:\n" +
	"- Return strict JSON with keys: risk, rationale, evidence.\n" +
	"- rationale: at most 30 words, cite the rule briefly.\n" +
	"- evidence: 1-3 verbatim spans from the NEW RECORD (short quotes).\n" +
	"- No markdown, no extra keys, no explanations.\n\n"

const schemaReminder = "JSON SCHEMA REMINDER:\n" +
	`{"risk":"High|Medium|Low","rationale":"short","evidence":["quote1","quote2"]}`

// BuildPrompt renders the classification prompt for rec. The examples
// block is present only when examples is non-empty.
func BuildPrompt(rec risk.Record, examples []risk.LabeledExample) string {
	var b strings.Builder
	b.WriteString(header)
	if len(examples) > 0 {
		b.WriteString("REFERENCE EXAMPLES (from similar labeled cases):\n")
		b.WriteString(examplesText(examples))
		b.WriteString("\n\n")
	}
	b.WriteString(instructions)
	b.WriteString("NEW RECORD:\n")
	b.WriteString(rec.Text())
	b.WriteString("\n\n")
	b.WriteString(schemaReminder)
	return b.String()
}

func examplesText(examples []risk.LabeledExample) string {
	lines := make([]string, len(examples))
	for i, ex := range examples {
		txt := strings.ReplaceAll(ex.Text, "\n", " ")
		if len(txt) > maxExampleChars {
			txt = truncate(txt, maxExampleChars) + " ..."
		}
		lines[i] = "- Label: " + ex.Label.String() + " | Text: " + txt
	}
	return strings.Join(lines, "\n")
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if n >= len(s) {
		return s
	}
	for n > 0 && s[n]&0xC0 == 0x80 {
		n--
	}
	return s[:n]
}
