package modubot

// Logger defines the interface for host logging.
// The host uses structured logging with key-value pairs so that every
// lifecycle transition can be traced to a module and phase:
//
//	logger.Info("Loaded module", "module", "music", "phase", "post_init")
//
// *slog.Logger satisfies this interface directly.
type Logger interface {
	// Info logs an informational message with optional key-value pairs.
	Info(msg string, args ...any)

	// Error logs an error message with optional key-value pairs.
	Error(msg string, args ...any)

	// Warn logs a warning message with optional key-value pairs.
	Warn(msg string, args ...any)

	// Debug logs a debug message with optional key-value pairs.
	Debug(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Debug(string, ...any) {}

// moduleLogger prefixes every entry with the owning module name.
type moduleLogger struct {
	base Logger
	name string
}

func (l moduleLogger) with(args []any) []any {
	return append([]any{"module", l.name}, args...)
}

func (l moduleLogger) Info(msg string, args ...any)  { l.base.Info(msg, l.with(args)...) }
func (l moduleLogger) Error(msg string, args ...any) { l.base.Error(msg, l.with(args)...) }
func (l moduleLogger) Warn(msg string, args ...any)  { l.base.Warn(msg, l.with(args)...) }
func (l moduleLogger) Debug(msg string, args ...any) { l.base.Debug(msg, l.with(args)...) }
