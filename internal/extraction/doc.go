// Package extraction segments inspection report text into deficiency records.
//
// Segmentation is two-stage. Report text is split into blocks on
// "Deficiency <n>" markers, and each block is first handed to a Parser that
// reads labeled sections:
//
//	Deficiency: Fire extinguisher in engine room found expired.
//	Root Cause: Monthly checks not recorded.
//	Corrective Action: Extinguisher replaced.
//	Preventive Action: Added to PMS checklist.
//
// Blocks the parser cannot read (no deficiency text) are passed to a Fallback,
// normally an LLMFallback that asks a model for the four fields as strict
// JSON. Blocks that still yield no deficiency are dropped and counted in
// Stats; segmentation itself never fails a run.
package extraction
