// Package zap adapts a zap logger to cache.Logger.
package zap

import (
	"go.uber.org/zap"

	"github.com/huykn/region-cache/cache"
)

// ZapLogger logs through a sugared zap logger.
type ZapLogger struct{ S *zap.SugaredLogger }

// New returns a cache.Logger writing to l.
func New(l *zap.Logger) cache.Logger { return ZapLogger{S: l.Sugar()} }

// Debug logs msg with key-value args at debug level.
func (z ZapLogger) Debug(msg string, args ...any) { z.S.Debugw(msg, args...) }

// Info logs msg with key-value args at info level.
func (z ZapLogger) Info(msg string, args ...any) { z.S.Infow(msg, args...) }

// Warn logs msg with key-value args at warn level.
func (z ZapLogger) Warn(msg string, args ...any) { z.S.Warnw(msg, args...) }

// Error logs msg with key-value args at error level.
func (z ZapLogger) Error(msg string, args ...any) { z.S.Errorw(msg, args...) }
