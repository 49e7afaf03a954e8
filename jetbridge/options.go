package jetbridge

import "log/slog"

type Option func(c *PullConsumer)

func WithLogger(l *slog.Logger) Option {
	return func(c *PullConsumer) {
		c.l = l
	}
}

func WithMetrics(m *Metrics) Option {
	return func(c *PullConsumer) {
		c.metrics = m
	}
}
