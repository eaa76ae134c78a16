// Package logging provides structured logging with OpenTelemetry integration.
//
// # Overview
//
// Logging package wraps Zap with:
//   - Custom Trace level (-2, below Debug)
//   - Dual output (stdout + OpenTelemetry)
//   - Automatic context field injection (trace_id, tenant, request)
//   - Per-level sampling (errors never sampled)
//
// # Usage
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg, otelProvider)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithTenant(ctx, &logging.Tenant{Company: "acme"})
//	logger.Info(ctx, "sweep finished", zap.Int("graduated", n))
//
// Output includes the correlation fields:
//
//	{
//	  "ts": "2026-04-02T10:15:30Z",
//	  "level": "info",
//	  "msg": "sweep finished",
//	  "trace_id": "abc123",
//	  "tenant.company": "acme",
//	  "graduated": 2
//	}
//
// Engines take a plain *zap.Logger; hand them Logger.Underlying().
//
// # Sampling
//
// Defaults per second:
//   - Trace: first 1, drop rest
//   - Debug: first 10, drop rest
//   - Info: first 100, then 1 every 10
//   - Warn: first 100, then 1 every 100
//   - Error+: never sampled
//
// # Testing
//
//	tl := logging.NewTestLogger()
//	tl.Info(ctx, "test message", zap.String("key", "value"))
//	tl.AssertLogged(t, zapcore.InfoLevel, "test message")
//	tl.AssertField(t, "test message", "key", "value")
package logging
