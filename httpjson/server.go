// Package httpjson exposes the calculator methods as JSON over HTTP: GET / lists the
// endpoints and every registered method is served as POST /<method>.
package httpjson

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/alexliesenfeld/health"
	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	calculator "github.com/xizhibei/go-calculator"
	"github.com/xizhibei/go-calculator/compressor"
	"go.uber.org/zap"
)

const (
	// DefaultVersion is reported by the info endpoint.
	DefaultVersion = "1.0.0"

	defaultMaxBodyBytes = 1 << 20
)

var (
	ErrUnsupportedEncoding = errors.New("[CALC] unsupported content encoding")
	ErrMalformedBody       = errors.New("[CALC] malformed request body")
	ErrBodyTooLarge        = errors.New("[CALC] request body too large")
)

// Info is the payload of GET /.
type Info struct {
	Message   string            `json:"message"`
	Version   string            `json:"version"`
	Endpoints map[string]string `json:"endpoints"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func errorBody(msg string) *errorResponse {
	return &errorResponse{Error: msg}
}

// Server routes HTTP requests to a calculator.Server.
type Server struct {
	core       *calculator.Server
	engine     *gin.Engine
	compressor *compressor.CompressorManager
	checker    health.Checker
	options    options
	info       Info
	log        *zap.SugaredLogger
}

// New builds the gin engine. Routes are taken from the methods registered on core at call
// time, register every handler before calling New.
func New(core *calculator.Server, opts ...Option) *Server {
	o := options{
		validator:    validator.New(),
		maxBodyBytes: defaultMaxBodyBytes,
		gatherer:     prometheus.DefaultGatherer,
		version:      DefaultVersion,
	}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Server{
		core:       core,
		compressor: compressor.NewCompressorManager(),
		options:    o,
		log:        zap.S().With("module", "calc.httpjson"),
	}

	s.checker = s.newChecker()
	s.engine = s.newEngine()
	return s
}

func (s *Server) newChecker() health.Checker {
	checks := []health.CheckerOption{
		health.WithCacheDuration(time.Second),
		health.WithTimeout(5 * time.Second),
		health.WithCheck(health.Check{
			Name: "calculator",
			Check: func(ctx context.Context) error {
				if len(s.core.Handlers()) == 0 {
					return errors.New("no method registered")
				}
				return nil
			},
		}),
	}
	for _, check := range s.options.healthChecks {
		checks = append(checks, health.WithCheck(check))
	}
	return health.NewChecker(checks...)
}

func (s *Server) newEngine() *gin.Engine {
	engine := gin.New()
	engine.HandleMethodNotAllowed = true

	engine.Use(recovery(s.log), requestID())
	if s.options.accessLog {
		engine.Use(accessLog(s.log))
	}
	engine.Use(cors())
	if s.options.compression {
		engine.Use(compress(s.compressor, s.options.minLength, s.log))
	}

	s.info = Info{
		Message:   "Calculator API",
		Version:   s.options.version,
		Endpoints: map[string]string{},
	}
	for _, m := range s.core.Handlers() {
		path := "/" + m.Method
		s.info.Endpoints[path] = m.Description
		engine.POST(path, s.call(m.Method))
	}

	engine.GET("/", s.index)
	engine.GET("/healthz", gin.WrapH(health.NewHandler(s.checker)))
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.options.gatherer, promhttp.HandlerOpts{})))

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, errorBody("Not found."))
	})
	engine.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, errorBody("Method not allowed."))
	})
	return engine
}

// Engine returns the gin engine, for mounting further routes such as the WebSocket endpoint.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

// Close stops the health checker.
func (s *Server) Close() error {
	s.checker.Stop()
	return nil
}

func (s *Server) index(c *gin.Context) {
	c.JSON(http.StatusOK, &s.info)
}

func (s *Server) call(method string) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, status, err := s.readBody(c)
		if err != nil {
			s.log.Debugf("Read body of /%s: %v", method, err)
			c.JSON(status, errorBody(calculator.ErrorMessage(err)))
			return
		}

		ctx := NewHTTPContext(c.Request.Context(), method, getRequestID(c), body, s.options.validator)
		s.core.Call(ctx)

		res := ctx.GetResponse()
		if res.Error != nil {
			c.JSON(res.Status, errorBody(calculator.ErrorMessage(res.Error)))
			return
		}
		c.JSON(res.Status, res.Result)
	}
}

// readBody reads the request body, decoding it according to Content-Encoding.
func (s *Server) readBody(c *gin.Context) ([]byte, int, error) {
	enc, err := compressor.ParseContentEncoding(c.GetHeader("Content-Encoding"))
	if err != nil {
		return nil, http.StatusUnsupportedMediaType, errors.WithHint(
			errors.Mark(errors.Wrap(err, "content encoding"), ErrUnsupportedEncoding),
			"Unsupported Content-Encoding.",
		)
	}

	data, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, s.options.maxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, http.StatusRequestEntityTooLarge, errors.WithHint(
				errors.Mark(errors.Wrap(err, "read body"), ErrBodyTooLarge),
				"Request body too large.",
			)
		}
		return nil, http.StatusBadRequest, errors.WithHint(
			errors.Mark(errors.Wrap(err, "read body"), ErrMalformedBody),
			"Malformed request body.",
		)
	}

	data, err = s.compressor.Decompress(enc, data)
	if err != nil {
		return nil, http.StatusBadRequest, errors.WithHint(
			errors.Mark(errors.Wrapf(err, "decode %s body", enc), ErrMalformedBody),
			"Malformed request body.",
		)
	}
	return data, http.StatusOK, nil
}
