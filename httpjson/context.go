package httpjson

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	calculator "github.com/xizhibei/go-calculator"
)

// HTTPContext is the calculator.Context of one HTTP request. It records the reply, the
// gin handler writes it once the dispatch returns.
type HTTPContext struct {
	*calculator.BaseContext
	method    string
	requestID string
	body      []byte
	validator *validator.Validate
}

func NewHTTPContext(ctx context.Context, method, requestID string, body []byte, v *validator.Validate) *HTTPContext {
	return &HTTPContext{
		BaseContext: calculator.NewBaseContext(ctx, nil),
		method:      method,
		requestID:   requestID,
		body:        body,
		validator:   v,
	}
}

func (c *HTTPContext) ID() *calculator.ID {
	return &calculator.ID{Str: c.requestID}
}

func (c *HTTPContext) Method() string {
	return c.method
}

func (c *HTTPContext) ReplyDesc() string {
	return "http /" + c.method + " " + c.requestID
}

func (c *HTTPContext) Bind(request interface{}) error {
	return calculator.BindJSON(c.body, request, c.validator)
}

func (c *HTTPContext) PrometheusLabels() prometheus.Labels {
	return calculator.ContextLabels(c.method, "http")
}
