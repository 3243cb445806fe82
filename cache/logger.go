package cache

// NoOpLogger discards everything.
type NoOpLogger struct{}

// Debug discards the message.
func (n *NoOpLogger) Debug(msg string, args ...any) {}

// Info discards the message.
func (n *NoOpLogger) Info(msg string, args ...any) {}

// Warn discards the message.
func (n *NoOpLogger) Warn(msg string, args ...any) {}

// Error discards the message.
func (n *NoOpLogger) Error(msg string, args ...any) {}

// NewNoOpLogger returns the default logger of registries and dispatchers.
func NewNoOpLogger() Logger {
	return &NoOpLogger{}
}
