package calculator

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Jeffail/tunny"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/xizhibei/go-calculator/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultTimeout is applied to handlers registered without a timeout.
const DefaultTimeout = 5 * time.Second

// Server dispatches requests from any transport to the registered handlers.
type Server struct {
	log        *zap.SugaredLogger  // Logger for server logs.
	handlerMap map[string]*Handler // Map of registered handlers.
	handlerMu  sync.RWMutex        // Guards handlerMap.

	cbList       []OnAfterResponseCallback // Callbacks executed after each response.
	afterResPool sync.Pool                 // Pool of after-response events.

	options    *serverOptions // Options for server configuration.
	workerPool *tunny.Pool    // Pool of worker goroutines running the handlers.
}

// NewServer creates a new instance of the Server struct with the provided options.
// It initializes the server with default values for the options that are not provided.
func NewServer(options ...ServerOption) *Server {
	o := serverOptions{
		name:        uuid.New().String(),
		logResponse: false,
		workerNum:   runtime.NumCPU(),
	}

	for _, option := range options {
		option(&o)
	}

	if o.telemetry == nil {
		tel, err := telemetry.NewNoop()
		if err != nil {
			panic(err)
		}
		o.telemetry = tel
	}

	server := Server{
		log:        zap.S().With("module", "calc.server"),
		handlerMap: make(map[string]*Handler),
		options:    &o,

		afterResPool: sync.Pool{
			New: func() interface{} {
				return new(AfterResponseEvent)
			},
		},
		workerPool: tunny.NewCallback(o.workerNum),
	}

	return &server
}

// Name returns the server name.
func (s *Server) Name() string {
	return s.options.name
}

// Register registers a method with its corresponding handler in the server.
// If the method is already registered, it will be overridden.
func (s *Server) Register(method string, hdl *Handler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()

	if _, ok := s.handlerMap[method]; ok {
		s.log.Warnf("Method %s already registered, will override", method)
	}

	if hdl.Timeout <= 0 {
		hdl.Timeout = DefaultTimeout
	}

	s.handlerMap[method] = hdl
	s.log.Debugf("Method %s registered", method)
}

// MethodInfo describes a registered method.
type MethodInfo struct {
	Method      string
	Description string
}

// Handlers returns the registered methods sorted by name.
func (s *Server) Handlers() []MethodInfo {
	s.handlerMu.RLock()
	defer s.handlerMu.RUnlock()

	methods := make([]MethodInfo, 0, len(s.handlerMap))
	for method, hdl := range s.handlerMap {
		methods = append(methods, MethodInfo{
			Method:      method,
			Description: hdl.Description,
		})
	}
	sort.Slice(methods, func(i, j int) bool {
		return methods[i].Method < methods[j].Method
	})
	return methods
}

func (s *Server) handler(method string) (*Handler, bool) {
	s.handlerMu.RLock()
	defer s.handlerMu.RUnlock()

	hdl, ok := s.handlerMap[method]
	return hdl, ok
}

// Call handles a request by executing the registered method on the worker pool.
// It always leaves a response on c: the handler's own, or an error when the method is unknown,
// the handler panics, times out or returns without replying.
// It measures the duration of the call, traces it, logs the response if enabled and emits an
// event after the response.
func (s *Server) Call(c Context) {
	start := time.Now()
	method := c.Method()

	ctx, span := s.options.telemetry.StartSpan(c.Context(), "Calculator.Server.Call "+method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("rpc.method", method)),
	)

	defer func() {
		duration := time.Since(start)

		res := c.GetResponse()
		status := 0
		var resErr error
		if res != nil {
			status = res.Status
			resErr = res.Error
		}

		span.SetAttributes(attribute.Int("rpc.status", status))
		if resErr != nil {
			span.RecordError(resErr)
			span.SetStatus(codes.Error, ErrorMessage(resErr))
		}
		span.End()

		s.options.telemetry.RecordRequest(ctx, duration, method, strconv.Itoa(status), resErr)

		if s.options.logResponse {
			s.log.Infof("Response to %s [%d] (%v)", c.ReplyDesc(), status, duration.Round(time.Microsecond))
		}

		evt := s.afterResPool.Get().(*AfterResponseEvent)
		evt.Labels = c.PrometheusLabels()
		evt.Duration = duration
		evt.Res = res

		s.emitAfterResponse(evt)
	}()

	hdl, ok := s.handler(method)
	if !ok {
		c.ReplyError(StatusServerError, errors.Wrapf(ErrUnhandledMethod, "method %s", method))
		return
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, hdl.Timeout)
	defer cancel()

	_, err := s.workerPool.ProcessCtx(timeoutCtx, func() {
		defer func() {
			if i := recover(); i != nil {
				err := fmt.Errorf("panic in method %s %v", method, i)
				s.log.Desugar().WithOptions(zap.AddStacktrace(zapcore.ErrorLevel)).Sugar().Error(err)
				c.ReplyError(StatusServerError, err)
			}
		}()

		hdl.Method(c)

		// If the send is successful, it means that the method did not reply with any message.
		if c.ReplyError(StatusServerError, ErrNoReply) {
			s.log.Warnf("Method %s no reply", method)
		}
	})

	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		if c.ReplyError(StatusRequestTimeout, ErrTimeout) {
			s.log.Warnf("Method %s timeout after %v", method, hdl.Timeout)
		}
	default:
		c.ReplyError(StatusServerError, err)
	}
}

// Close stops the worker pool. Calls after Close panic.
func (s *Server) Close() error {
	s.workerPool.Close()
	return nil
}

// AfterResponseEvent is emitted once per call, after the response is set.
// Labels are the context's prometheus labels, Duration the time spent in Call and Res the
// response, nil only if nothing replied.
type AfterResponseEvent struct {
	Labels   prometheus.Labels
	Duration time.Duration
	Res      *Response
}

// OnAfterResponseCallback is a function type that represents a callback function
// to be executed after a response is sent.
// The event is recycled once the callbacks return and must not be retained.
type OnAfterResponseCallback func(e *AfterResponseEvent)

// OnAfterResponse registers a callback function to be executed after each response is sent.
// Callbacks must be registered before the server receives requests.
func (s *Server) OnAfterResponse(cb OnAfterResponseCallback) {
	s.cbList = append(s.cbList, cb)
}

func (s *Server) emitAfterResponse(e *AfterResponseEvent) {
	for _, cb := range s.cbList {
		cb(e)
	}
	*e = AfterResponseEvent{}
	s.afterResPool.Put(e)
}

// RegisterMetrics records every response in responseTime and every error response in
// errorCount. Both vectors must use the labels returned by MetricLabels, errorCount with
// the additional "message" label.
func (s *Server) RegisterMetrics(responseTime *prometheus.HistogramVec, errorCount *prometheus.CounterVec) {
	s.OnAfterResponse(func(e *AfterResponseEvent) {
		status := "0"
		if e.Res != nil {
			status = strconv.FormatInt(int64(e.Res.Status), 10)
		}

		labels := prometheus.Labels{
			"name":   s.options.name,
			"status": status,
		}
		for _, k := range contextLabelNames {
			labels[k] = e.Labels[k]
		}

		if responseTime != nil {
			responseTime.
				With(labels).
				Observe(e.Duration.Seconds())
		}

		if e.Res != nil && e.Res.Error != nil && errorCount != nil {
			labels["message"] = ErrorMessage(e.Res.Error)
			errorCount.
				With(labels).
				Inc()
		}
	})
}
