// Package logrus adapts a logrus entry to cache.Logger.
package logrus

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/huykn/region-cache/cache"
)

// LogrusLogger logs through a logrus entry.
type LogrusLogger struct{ E *logrus.Entry }

// New returns a cache.Logger writing to e.
func New(e *logrus.Entry) cache.Logger { return LogrusLogger{E: e} }

// Debug logs msg with args as fields at debug level.
func (l LogrusLogger) Debug(msg string, args ...any) { l.E.WithFields(fields(args)).Debug(msg) }

// Info logs msg with args as fields at info level.
func (l LogrusLogger) Info(msg string, args ...any) { l.E.WithFields(fields(args)).Info(msg) }

// Warn logs msg with args as fields at warn level.
func (l LogrusLogger) Warn(msg string, args ...any) { l.E.WithFields(fields(args)).Warn(msg) }

// Error logs msg with args as fields at error level.
func (l LogrusLogger) Error(msg string, args ...any) { l.E.WithFields(fields(args)).Error(msg) }

// fields pairs up alternating keys and values. A trailing key without a
// value is kept under "!BADKEY".
func fields(args []any) logrus.Fields {
	f := make(logrus.Fields, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		if i+1 == len(args) {
			f["!BADKEY"] = args[i]
			break
		}
		f[fmt.Sprint(args[i])] = args[i+1]
	}
	return f
}
