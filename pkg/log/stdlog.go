package log

import (
	stdlog "log"
	"strings"
)

// stdWriter adapts a Logger into an io.Writer for the standard library's
// log package. Each write becomes one Info entry with trailing newlines
// stripped.
type stdWriter struct {
	logger Logger
	level  Level
}

func (w *stdWriter) Write(p []byte) (int, error) {
	msg := strings.TrimRight(string(p), "\n")
	switch w.level {
	case DebugLevel:
		w.logger.Debug(msg)
	case WarnLevel:
		w.logger.Warn(msg)
	case ErrorLevel:
		w.logger.Error(msg)
	default:
		w.logger.Info(msg)
	}
	return len(p), nil
}

// ToStdLogger returns a *log.Logger whose output flows through logger at the
// given level. Useful for libraries that only accept the standard interface.
func ToStdLogger(logger Logger, level Level) *stdlog.Logger {
	return stdlog.New(&stdWriter{logger: logger, level: level}, "", 0)
}

// RedirectStdLog reroutes the standard library's default logger through the
// facade so third-party packages share our formatting.
func RedirectStdLog(logger Logger) {
	stdlog.SetFlags(0)
	stdlog.SetOutput(&stdWriter{logger: logger, level: InfoLevel})
}
