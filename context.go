package calculator

//go:generate mockgen -source=context.go -destination=mock/mock_context.go

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

// ID represents a request identifier with a numeric value and a string value.
type ID struct {
	Num uint64 // Num is the numeric value of the identifier.
	Str string // Str is the string value of the identifier.
}

// String returns the string value of the ID when set, the decimal numeric value otherwise.
func (id *ID) String() string {
	if id.Str != "" {
		return id.Str
	}
	return strconv.FormatUint(id.Num, 10)
}

// Response represents a response message.
// Result holds the response data.
// Error holds any error that occurred during the request.
// Status holds the status code of the response.
type Response struct {
	Result interface{}
	Error  error
	Status int
}

// Context represents a single request as seen by a handler, independent of the transport
// it arrived on.
type Context interface {
	// ID returns the unique identifier of the request.
	ID() *ID

	// Method returns the name of the called method.
	Method() string

	// Context returns the underlying context.Context.
	Context() context.Context

	// ReplyDesc returns a description of where the reply goes, used in logs.
	ReplyDesc() string

	// Bind decodes the request parameters into request.
	Bind(request interface{}) error

	// Reply sends a response message.
	// It returns true if the response was sent, false if a response was already sent.
	Reply(res *Response) bool

	// ReplyOK sends a successful response message with the given data.
	ReplyOK(data interface{}) bool

	// ReplyError sends an error response message with the given status and error.
	ReplyError(status int, err error) bool

	// GetResponse returns the response message, nil before any reply.
	GetResponse() *Response

	// PrometheusLabels returns the Prometheus labels associated with the request.
	PrometheusLabels() prometheus.Labels
}

// BaseContext implements the reply bookkeeping shared by every transport context.
type BaseContext struct {
	res       *Response           // res is the response object.
	resMu     sync.Mutex          // resMu guards res.
	replyed   atomic.Bool         // replyed is set once the first reply is accepted.
	BaseReply func(res *Response) // BaseReply delivers the accepted reply, may be nil.
	ctx       context.Context     // ctx is the underlying context.
}

// NewBaseContext creates a BaseContext bound to ctx. reply is invoked once, with the first
// response accepted by Reply.
func NewBaseContext(ctx context.Context, reply func(res *Response)) *BaseContext {
	return &BaseContext{
		BaseReply: reply,
		ctx:       ctx,
	}
}

// Context returns the context associated with the BaseContext.
// If no context is set, it returns the background context.
func (c *BaseContext) Context() context.Context {
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

// Reply records the response and hands it to BaseReply.
// Only the first call wins; later calls return false and are dropped.
func (c *BaseContext) Reply(res *Response) bool {
	if !c.replyed.CompareAndSwap(false, true) {
		return false
	}

	c.setResponse(res)

	if c.BaseReply != nil {
		c.BaseReply(res)
	}

	return true
}

// ReplyOK sends a successful response with the given data.
func (c *BaseContext) ReplyOK(data interface{}) bool {
	return c.Reply(&Response{
		Status: StatusOK,
		Result: data,
	})
}

// ReplyError sends an error response with the specified status code and error.
func (c *BaseContext) ReplyError(status int, err error) bool {
	return c.Reply(&Response{
		Status: status,
		Error:  err,
	})
}

func (c *BaseContext) setResponse(res *Response) {
	c.resMu.Lock()
	defer c.resMu.Unlock()
	c.res = res
}

// GetResponse returns the response associated with the context.
func (c *BaseContext) GetResponse() *Response {
	c.resMu.Lock()
	defer c.resMu.Unlock()
	return c.res
}

// Handler represents a registered method.
// Method is the function executed for each request.
// Timeout is the maximum duration allowed for the request to complete.
// Description is a short human readable summary, listed by the info endpoint.
type Handler struct {
	Method      func(c Context)
	Timeout     time.Duration
	Description string
}
