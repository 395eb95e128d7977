package httpjson

import (
	"github.com/alexliesenfeld/health"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
)

type options struct {
	validator    *validator.Validate
	compression  bool
	minLength    int
	maxBodyBytes int64
	gatherer     prometheus.Gatherer
	healthChecks []health.Check
	accessLog    bool
	version      string
}

// Option configures a Server.
type Option func(o *options)

// WithValidator sets the validator used by Bind.
func WithValidator(v *validator.Validate) Option {
	return func(o *options) {
		o.validator = v
	}
}

// WithCompression enables response compression for bodies of at least minLength bytes.
func WithCompression(enabled bool, minLength int) Option {
	return func(o *options) {
		o.compression = enabled
		o.minLength = minLength
	}
}

// WithMaxBodyBytes limits request bodies to n bytes, larger ones get 413.
func WithMaxBodyBytes(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxBodyBytes = n
		}
	}
}

// WithGatherer serves the metrics of g on /metrics instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(o *options) {
		o.gatherer = g
	}
}

// WithHealthCheck adds a check reported by /healthz.
func WithHealthCheck(check health.Check) Option {
	return func(o *options) {
		o.healthChecks = append(o.healthChecks, check)
	}
}

// WithAccessLog logs one line per request through zap.
func WithAccessLog(enabled bool) Option {
	return func(o *options) {
		o.accessLog = enabled
	}
}

// WithVersion sets the version reported by the info endpoint.
func WithVersion(version string) Option {
	return func(o *options) {
		o.version = version
	}
}
