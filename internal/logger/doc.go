// Package logger provides a simple, thread-safe logging facility built on logrus.
//
// The logger supports four levels: Debug, Info, Warn, and Error.
// Each log entry includes a timestamp, level, optional worker ID, and message.
//
// # Basic Usage
//
// Using the default loggers:
//
//	logger.Info("", "Supervisor started")
//	logger.Info("writer-1", "Append took %d milliseconds", ms)
//	logger.Error("writer-1", "Error : %v", err) // goes to stderr
//
// Creating a custom logger:
//
//	l := logger.New(os.Stderr, logger.LevelDebug)
//	l.Debug("reader-1", "Debug message")
//
// # Output Channels
//
// Default writes to standard output and carries reap notifications, slow
// operation diagnostics and sample counts. Errors writes to standard error
// and carries fatal worker failures.
//
// # Log Levels
//
// Messages below the configured level are filtered:
//   - LevelDebug: all messages
//   - LevelInfo: Info, Warn, Error
//   - LevelWarn: Warn, Error
//   - LevelError: Error only
package logger
