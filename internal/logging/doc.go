// Package logging builds the zap loggers used by the modkit binaries.
//
// The runtime itself only depends on *zap.Logger; this package turns the
// `logging` section of the configuration into one, adds context-aware
// helpers (trace and scope correlation) and provides TestLogger for
// assertions in tests:
//
//	tl := logging.NewTestLogger()
//	rt, _ := modkit.NewRuntime(reg, modkit.WithLogger(tl.Underlying()))
//	...
//	tl.AssertLogged(t, zapcore.ErrorLevel, "event handler failed")
package logging
