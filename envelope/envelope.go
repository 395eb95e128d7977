// Package envelope holds the JSON request and response frames shared by the message
// oriented transports, WebSocket and MQTT.
package envelope

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
	calculator "github.com/xizhibei/go-calculator"
)

// ErrInvalidEnvelope is returned by Decode for frames that are not a request object.
var ErrInvalidEnvelope = errors.New("[CALC] invalid request envelope")

// Request is an inbound frame. Params carries the same JSON body the HTTP routes accept.
type Request struct {
	ID       uint64            `json:"id"`
	Method   string            `json:"method"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Params   json.RawMessage   `json:"params"`
}

// Response is an outbound frame. Data carries the same JSON body the HTTP routes reply.
type Response struct {
	ID       uint64            `json:"id"`
	Method   string            `json:"method"`
	Status   int               `json:"status"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Data     json.RawMessage   `json:"data"`
}

// ErrorBody is the payload of every failed response.
type ErrorBody struct {
	Error string `json:"error"`
}

// Decode parses a request frame. The error is hinted for the client, the partially decoded
// request is returned so the reply can still echo its id and method.
func Decode(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return &req, errors.WithHint(
			errors.Mark(errors.Wrap(err, "decode envelope"), ErrInvalidEnvelope),
			"Invalid request envelope.",
		)
	}
	if req.Method == "" {
		return &req, errors.WithHint(
			errors.Mark(errors.New("envelope without method"), ErrInvalidEnvelope),
			"Invalid request envelope.",
		)
	}
	return &req, nil
}

// Body returns the params to bind, an empty slice when the frame carried none.
func (r *Request) Body() []byte {
	if len(r.Params) == 0 {
		return nil
	}
	return r.Params
}

// Reply builds the response frame for res.
func (r *Request) Reply(res *calculator.Response) *Response {
	if res.Error != nil {
		return r.ErrorReply(res.Status, res.Error)
	}

	data, err := json.Marshal(res.Result)
	if err != nil {
		return r.ErrorReply(calculator.StatusServerError, errors.Wrap(err, "encode result"))
	}
	return &Response{
		ID:     r.ID,
		Method: r.Method,
		Status: res.Status,
		Data:   data,
	}
}

// ErrorReply builds a failed response frame carrying ErrorMessage(err).
func (r *Request) ErrorReply(status int, err error) *Response {
	data, _ := json.Marshal(&ErrorBody{Error: calculator.ErrorMessage(err)})
	return &Response{
		ID:     r.ID,
		Method: r.Method,
		Status: status,
		Data:   data,
	}
}
