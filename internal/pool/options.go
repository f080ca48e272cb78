package pool

import (
	"go.uber.org/zap/zapcore"

	"kmeans-workers/internal/metrics"
)

// Option configures a Manager
type Option func(*Manager)

// WithLogLevel sets the log level handed to every worker at start.
func WithLogLevel(level zapcore.Level) Option {
	return func(m *Manager) {
		m.workerLevel = level
	}
}

// WithMetrics instruments the manager.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}
