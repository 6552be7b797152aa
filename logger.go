package unitrt

// Logger defines the interface for runtime logging.
// The runtime uses structured logging with key-value pairs
// so that output stays consistent and parseable across units.
//
// All runtime operations (discovery, binding, event dispatch, unit
// deployment and shutdown) are logged through this interface, so the
// embedding process controls how runtime logs appear.
//
// The Logger interface uses variadic arguments in key-value pairs:
//
//	logger.Info("message", "key1", "value1", "key2", "value2")
//
// NewZapLogger adapts a *zap.Logger to this interface.
type Logger interface {
	// Info logs an informational message with optional key-value pairs.
	// Used for normal events like unit deployment or context refresh.
	Info(msg string, args ...any)

	// Error logs an error message with optional key-value pairs.
	// Used for failures that are reported but do not stop the process,
	// such as a listener returning an error.
	Error(msg string, args ...any)

	// Warn logs a warning message with optional key-value pairs.
	// Used for conditions like a stop request that timed out.
	Warn(msg string, args ...any)

	// Debug logs a debug message with optional key-value pairs.
	Debug(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Debug(string, ...any) {}
