// Package telemetry wires OpenTelemetry tracing and metrics export for
// patternd.
//
// # Overview
//
// The engines, stores and admin API create their tracers and meters from
// the otel globals. New installs OTLP/gRPC providers as those globals when
// telemetry is enabled, so no instrumented package imports this one.
//
// # Usage
//
//	tel, err := telemetry.New(ctx, &cfg.Observability, logger)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// # Configuration
//
//	observability:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  service_name: "patternd"
//	  sampling:
//	    rate: 0.25
//	  metrics:
//	    enabled: true
//	    export_interval: "15s"
//
// # Error Handling
//
// Telemetry failures do not stop patternd. If a provider cannot be built the
// instance is marked degraded and callers get no-op instruments.
//
// # Testing
//
//	tt := telemetry.NewTestTelemetry()
//	_, span := tt.Tracer("test").Start(ctx, "test-span")
//	span.End()
//	tt.AssertSpanExists(t, "test-span")
package telemetry
