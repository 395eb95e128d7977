package mqttjson

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	calculator "github.com/xizhibei/go-calculator"
	"github.com/xizhibei/go-calculator/envelope"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// MQTTContext is the calculator.Context of a request received over MQTT.
type MQTTContext struct {
	*calculator.BaseContext
	replyTopic string
	req        *envelope.Request
	validator  *validator.Validate
}

func newMQTTContext(replyTopic string, req *envelope.Request, s *Server) *MQTTContext {
	ctx := context.Background()
	if req.Metadata != nil {
		ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(req.Metadata))
	}

	c := &MQTTContext{
		replyTopic: replyTopic,
		req:        req,
		validator:  s.validator,
	}
	c.BaseContext = calculator.NewBaseContext(ctx, func(res *calculator.Response) {
		s.reply(replyTopic, req.Reply(res))
	})
	return c
}

func (c *MQTTContext) ID() *calculator.ID {
	return &calculator.ID{Num: c.req.ID}
}

func (c *MQTTContext) Method() string {
	return c.req.Method
}

// ReplyDesc returns the response topic.
func (c *MQTTContext) ReplyDesc() string {
	return c.replyTopic
}

func (c *MQTTContext) Bind(request interface{}) error {
	return calculator.BindJSON(c.req.Body(), request, c.validator)
}

func (c *MQTTContext) PrometheusLabels() prometheus.Labels {
	return calculator.ContextLabels(c.req.Method, "mqtt")
}
