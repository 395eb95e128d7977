package calculator

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
)

var (
	// ErrNoReply is an error indicating the handler returned without replying.
	ErrNoReply = errors.New("[CALC] empty reply")

	// ErrTimeout is an error indicating the handler did not finish in time.
	ErrTimeout = errors.New("[CALC] timeout")

	// ErrUnhandledMethod is an error indicating no handler is registered for the method.
	ErrUnhandledMethod = errors.New("[CALC] unhandled method")
)

// ErrorMessage returns the message a client should see for err.
// Hints attached with errors.WithHint take precedence over the error text.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	if hint := errors.FlattenHints(err); hint != "" {
		return hint
	}
	return err.Error()
}

// BindJSON unmarshals data into request and, when v is not nil and request is a struct,
// validates it.
func BindJSON(data []byte, request interface{}, v *validator.Validate) error {
	if err := json.Unmarshal(data, request); err != nil {
		return err
	}

	if v == nil {
		return nil
	}

	err := v.Struct(request)
	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		// not a struct, nothing to validate
		return nil
	}
	return err
}
