// Package telemetry sets up OpenTelemetry tracing and metrics for rsrisk.
//
// Telemetry is off by default. When enabled, spans and metrics are exported
// over OTLP (gRPC or HTTP) to a collector. Exporter failures never stop the
// pipeline; the instance is marked degraded and falls back to the global
// no-op providers.
//
//	tel, err := telemetry.New(ctx, telemetry.NewDefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
//	ctx, span := tel.Tracer("rsrisk/pipeline").Start(ctx, "pipeline.run")
//	defer span.End()
//
// NewTestTelemetry records spans and metrics in memory for tests.
package telemetry
