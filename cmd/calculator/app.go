package main

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/alexliesenfeld/health"
	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	calculator "github.com/xizhibei/go-calculator"
	"github.com/xizhibei/go-calculator/arith"
	"github.com/xizhibei/go-calculator/config"
	"github.com/xizhibei/go-calculator/httpjson"
	"github.com/xizhibei/go-calculator/mqttadapter"
	"github.com/xizhibei/go-calculator/mqttjson"
	"github.com/xizhibei/go-calculator/telemetry"
	"github.com/xizhibei/go-calculator/wsjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const metricsNamespace = "calculator"

// app owns every component of a running server.
type app struct {
	cfg       *config.Config
	log       *zap.SugaredLogger
	telemetry telemetry.Telemetry
	core      *calculator.Server
	http      *httpjson.Server
	ws        *wsjson.Server
	mqtt      *mqttjson.Server
	handler   http.Handler
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return errors.Wrap(err, "create logger")
	}
	defer func() { _ = logger.Sync() }()
	restore := zap.ReplaceGlobals(logger)
	defer restore()

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		_ = a.close(context.Background())
		return errors.Wrapf(err, "listen %s", cfg.HTTP.Addr)
	}
	return a.serve(ctx, ln)
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{
		cfg: cfg,
		log: zap.S().With("module", "calc.app"),
	}

	tel, err := telemetry.New(ctx, telemetry.Config{
		ServiceName:    "calculator",
		ServiceVersion: Version,
		Environment:    cfg.Telemetry.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Debug:          cfg.Telemetry.Debug,
		Enabled:        cfg.Telemetry.Enabled,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init telemetry")
	}
	a.telemetry = tel

	opts := []calculator.ServerOption{
		calculator.WithLogResponse(cfg.Server.LogResponse),
		calculator.WithWorkerNum(cfg.Server.WorkerNum),
		calculator.WithTelemetry(tel),
	}
	if cfg.Server.Name != "" {
		opts = append(opts, calculator.WithServerName(cfg.Server.Name))
	}
	a.core = calculator.NewServer(opts...)
	arith.Register(a.core, cfg.Server.Timeout)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	responseTime := calculator.NewResponseTimeVec(metricsNamespace)
	errorCount := calculator.NewErrorCountVec(metricsNamespace)
	registry.MustRegister(responseTime, errorCount)
	a.core.RegisterMetrics(responseTime, errorCount)

	v := validator.New()
	httpOpts := []httpjson.Option{
		httpjson.WithValidator(v),
		httpjson.WithCompression(cfg.HTTP.Compression.Enabled, cfg.HTTP.Compression.MinLength),
		httpjson.WithGatherer(registry),
		httpjson.WithAccessLog(true),
		httpjson.WithVersion(Version),
	}

	if cfg.MQTT.Enabled() {
		client, err := mqttadapter.New(cfg.MQTT.Broker, cfg.MQTT.ClientID,
			mqttadapter.WithUserPass(cfg.MQTT.Username, cfg.MQTT.Password),
			mqttadapter.WithDebug(cfg.Log.Level == "debug"),
		)
		if err != nil {
			_ = a.close(ctx)
			return nil, errors.Wrap(err, "create mqtt client")
		}
		a.mqtt = mqttjson.NewServer(a.core, client, cfg.MQTT.TopicPrefix, cfg.MQTT.DeviceID, v)
		httpOpts = append(httpOpts, httpjson.WithHealthCheck(health.Check{
			Name: "mqtt",
			Check: func(context.Context) error {
				if !a.mqtt.IsConnected() {
					return errors.New("not connected to broker")
				}
				return nil
			},
		}))
	}

	a.http = httpjson.New(a.core, httpOpts...)
	a.ws = wsjson.New(a.core, v)
	a.http.Engine().GET("/ws", a.ws.Handle)

	a.handler = otelhttp.NewHandler(a.http, "calculator",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
	return a, nil
}

// serve blocks until ctx is done, then shuts down gracefully.
func (a *app) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("Listening on %s", ln.Addr())
		errCh <- srv.Serve(ln)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		a.log.Infof("Shutting down")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := a.ws.Close(); err != nil {
		a.log.Warnf("Close websocket: %v", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warnf("Shutdown http: %v", err)
	}
	if err := a.close(shutdownCtx); err != nil {
		a.log.Warnf("Close: %v", err)
	}

	if errors.Is(serveErr, http.ErrServerClosed) {
		return nil
	}
	return serveErr
}

func (a *app) close(ctx context.Context) error {
	var errs error
	if a.mqtt != nil {
		errs = errors.CombineErrors(errs, a.mqtt.Close())
	}
	if a.http != nil {
		errs = errors.CombineErrors(errs, a.http.Close())
	}
	if a.core != nil {
		errs = errors.CombineErrors(errs, a.core.Close())
	}
	if a.telemetry != nil {
		errs = errors.CombineErrors(errs, a.telemetry.Shutdown(ctx))
	}
	return errs
}
