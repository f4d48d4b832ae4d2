// Package logging provides structured zap logging for rsrisk.
//
// Logger wraps zap with context-aware methods that prepend correlation
// fields (trace and span ids, run id, report id, request id) taken from the
// context:
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithRunID(ctx, runID)
//	logger.Info(ctx, "report classified", zap.Int("records", n))
//
// Logs are written to stderr so that stdout stays free for command output
// and the MCP stdio transport. An OpenTelemetry log bridge (otelzap) can be
// enabled alongside.
//
// Secrets are redacted in three places: config.Secret values, field names
// listed in RedactionConfig.Fields, and string values matching
// RedactionConfig.Patterns.
//
// Sampling is applied per level; Error and above are never sampled.
//
// Tests can use NewTestLogger to observe and assert on entries.
package logging
