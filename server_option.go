package calculator

import "github.com/xizhibei/go-calculator/telemetry"

type serverOptions struct {
	logResponse bool
	name        string
	workerNum   int
	telemetry   telemetry.Telemetry
}

// ServerOption is a functional option for configuring the server.
type ServerOption func(o *serverOptions)

// WithServerName is a function that returns a ServerOption to set the name of the server.
// The name is reported in the "name" metric label.
func WithServerName(name string) ServerOption {
	return func(o *serverOptions) {
		o.name = name
	}
}

// WithLogResponse is a function that returns a ServerOption to enable or disable logging of response.
func WithLogResponse(logResponse bool) ServerOption {
	return func(o *serverOptions) {
		o.logResponse = logResponse
	}
}

// WithWorkerNum is a function that returns a ServerOption which sets the number of workers for the server.
// A count of zero or less keeps the default, one worker per CPU.
func WithWorkerNum(count int) ServerOption {
	return func(o *serverOptions) {
		if count > 0 {
			o.workerNum = count
		}
	}
}

// WithTelemetry sets the telemetry used to trace calls and record request metrics.
func WithTelemetry(tel telemetry.Telemetry) ServerOption {
	return func(o *serverOptions) {
		o.telemetry = tel
	}
}
