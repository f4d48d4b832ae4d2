// Package mcp exposes the classification pipeline and the guardrail as MCP
// tools over stdio, using github.com/modelcontextprotocol/go-sdk/mcp.
//
// Tools:
//   - classify_report: classify every deficiency in a PDF or text report
//   - adjudicate: apply the safety guardrail to one record and a label
package mcp
