package eddy

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aretw0/eddy/pkg/config"
	"github.com/aretw0/eddy/pkg/ports"
)

// Option defines a functional option for configuring the Session.
type Option func(*Session)

// WithConfig sets the configuration guiding capture and replay behavior.
func WithConfig(cfg *config.Config) Option {
	return func(s *Session) {
		s.cfg = cfg
	}
}

// WithCache sets the element cache shared by capture and evaluation.
func WithCache(cache ports.ElementCache) Option {
	return func(s *Session) {
		s.cache = cache
	}
}

// WithEngine sets the execution engine fragments are submitted to.
func WithEngine(engine ports.Engine) Option {
	return func(s *Session) {
		s.engine = engine
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithMetricsRegisterer registers the session collectors with reg instead of
// a private registry.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(s *Session) {
		s.metricsReg = reg
	}
}
