package arith

import (
	"time"

	"github.com/cockroachdb/errors"
	calculator "github.com/xizhibei/go-calculator"
)

// Registrar registers handlers by method name.
type Registrar interface {
	Register(method string, hdl *calculator.Handler)
}

// Register registers a handler for every operation, using the operation as method name.
// A zero timeout leaves the registrar's default in place.
func Register(r Registrar, timeout time.Duration) {
	for _, op := range Operations {
		r.Register(string(op), &calculator.Handler{
			Method:      Handler(op),
			Timeout:     timeout,
			Description: op.Description(),
		})
	}
}

// Handler returns the method that binds a Request, applies op and replies with a Result.
// Input and arithmetic errors are replied with StatusClientError.
func Handler(op Operation) func(c calculator.Context) {
	return func(c calculator.Context) {
		var req Request
		if err := c.Bind(&req); err != nil {
			c.ReplyError(calculator.StatusClientError, InvalidInput(err))
			return
		}
		if !req.Decoded() {
			c.ReplyError(calculator.StatusClientError, InvalidInput(errors.New("request body is not an object")))
			return
		}

		result, err := op.Apply(req.A, req.B)
		if err != nil {
			c.ReplyError(calculator.StatusClientError, err)
			return
		}

		c.ReplyOK(&Result{
			Result:    result,
			Operation: op.Name(),
		})
	}
}
