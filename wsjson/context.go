package wsjson

import (
	"context"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	calculator "github.com/xizhibei/go-calculator"
	"github.com/xizhibei/go-calculator/envelope"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// WSContext is the calculator.Context of one envelope read from a WebSocket connection.
type WSContext struct {
	*calculator.BaseContext
	peer      string
	req       *envelope.Request
	validator *validator.Validate
}

func newWSContext(ctx context.Context, peer string, req *envelope.Request, v *validator.Validate) *WSContext {
	if req.Metadata != nil {
		ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(req.Metadata))
	}
	return &WSContext{
		BaseContext: calculator.NewBaseContext(ctx, nil),
		peer:        peer,
		req:         req,
		validator:   v,
	}
}

func (c *WSContext) ID() *calculator.ID {
	return &calculator.ID{Num: c.req.ID}
}

func (c *WSContext) Method() string {
	return c.req.Method
}

func (c *WSContext) ReplyDesc() string {
	return "ws " + c.peer + " #" + strconv.FormatUint(c.req.ID, 10)
}

func (c *WSContext) Bind(request interface{}) error {
	return calculator.BindJSON(c.req.Body(), request, c.validator)
}

func (c *WSContext) PrometheusLabels() prometheus.Labels {
	return calculator.ContextLabels(c.req.Method, "ws")
}
