// Package arith implements the four arithmetic operations served by the calculator and the
// coercion of loosely typed JSON operands into numbers.
package arith

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

const (
	invalidInputMessage   = "Invalid input. Provide 'a' and 'b' as numbers."
	divisionByZeroMessage = "Division by zero is not allowed."
	outOfRangeMessage     = "Result is out of range."
)

var (
	// ErrInvalidInput is returned when an operand or the request body cannot be coerced.
	ErrInvalidInput = errors.New("[CALC] invalid input")

	// ErrDivisionByZero is returned when the divisor is zero.
	ErrDivisionByZero = errors.New("[CALC] division by zero")

	// ErrResultOutOfRange is returned when a result is not a finite number.
	ErrResultOutOfRange = errors.New("[CALC] result out of range")
)

// Operation is one of the supported arithmetic operations. Its value is the method name
// used for dispatch.
type Operation string

const (
	Add      Operation = "add"
	Subtract Operation = "subtract"
	Multiply Operation = "multiply"
	Divide   Operation = "divide"
)

// Operations lists every supported operation.
var Operations = []Operation{Add, Subtract, Multiply, Divide}

// Name returns the operation name reported in responses.
func (op Operation) Name() string {
	switch op {
	case Add:
		return "addition"
	case Subtract:
		return "subtraction"
	case Multiply:
		return "multiplication"
	case Divide:
		return "division"
	}
	return string(op)
}

// Description returns the summary listed by the info endpoint.
func (op Operation) Description() string {
	switch op {
	case Add:
		return "POST - Add two numbers"
	case Subtract:
		return "POST - Subtract two numbers"
	case Multiply:
		return "POST - Multiply two numbers"
	case Divide:
		return "POST - Divide two numbers"
	}
	return "POST"
}

// Apply computes a op b.
func (op Operation) Apply(a, b float64) (float64, error) {
	var result float64
	switch op {
	case Add:
		result = a + b
	case Subtract:
		result = a - b
	case Multiply:
		result = a * b
	case Divide:
		if b == 0 {
			return 0, errors.WithHint(ErrDivisionByZero, divisionByZeroMessage)
		}
		result = a / b
	default:
		return 0, errors.Newf("[CALC] unknown operation %q", string(op))
	}

	if math.IsInf(result, 0) || math.IsNaN(result) {
		return 0, errors.WithHint(
			errors.Wrapf(ErrResultOutOfRange, "%v %s %v", a, op, b),
			outOfRangeMessage,
		)
	}
	return result, nil
}

// Request holds the two operands of a call. Absent operands are zero.
type Request struct {
	A float64 `json:"a"`
	B float64 `json:"b"`

	decoded bool
}

// UnmarshalJSON decodes a JSON object, coercing the "a" and "b" members with Coerce.
// Anything other than an object is invalid input.
func (r *Request) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return InvalidInput(err)
	}
	if fields == nil {
		return InvalidInput(errors.New("request body is null"))
	}

	var req Request
	for name, dst := range map[string]*float64{"a": &req.A, "b": &req.B} {
		raw, ok := fields[name]
		if !ok {
			continue
		}
		v, err := Coerce(raw)
		if err != nil {
			return errors.Wrapf(err, "operand %s", name)
		}
		*dst = v
	}
	req.decoded = true

	*r = req
	return nil
}

// Decoded reports whether the request was filled from a JSON object.
func (r *Request) Decoded() bool {
	return r.decoded
}

// Result is the payload of a successful call.
type Result struct {
	Result    float64 `json:"result"`
	Operation string  `json:"operation"`
}

// Coerce converts a JSON value to a finite float64.
// Numbers are taken as is, strings are parsed after trimming spaces, booleans map to 1 and 0.
// null, arrays, objects and anything that does not parse to a finite number are invalid.
func Coerce(raw json.RawMessage) (float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0, InvalidInput(errors.New("empty value"))
	}

	var (
		v   float64
		err error
	)
	switch raw[0] {
	case 'n':
		return 0, InvalidInput(errors.New("null is not a number"))
	case 't', 'f':
		var b bool
		if err = json.Unmarshal(raw, &b); err != nil {
			return 0, InvalidInput(err)
		}
		if b {
			return 1, nil
		}
		return 0, nil
	case '[', '{':
		return 0, InvalidInput(errors.Newf("%s is not a number", kindOf(raw[0])))
	case '"':
		var s string
		if err = json.Unmarshal(raw, &s); err != nil {
			return 0, InvalidInput(err)
		}
		s = strings.TrimSpace(s)
		if isHexLiteral(s) {
			return 0, InvalidInput(errors.Newf("%q is not a decimal number", s))
		}
		v, err = strconv.ParseFloat(s, 64)
	default:
		v, err = strconv.ParseFloat(string(raw), 64)
	}
	if err != nil {
		return 0, InvalidInput(err)
	}

	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, InvalidInput(errors.Newf("%s is not a finite number", raw))
	}
	return v, nil
}

// isHexLiteral reports whether s, after an optional sign, starts with 0x or 0X.
func isHexLiteral(s string) bool {
	s = strings.TrimLeft(s, "+-")
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}

// InvalidInput marks err as an invalid input error carrying the client-facing message.
func InvalidInput(err error) error {
	if errors.Is(err, ErrInvalidInput) {
		return err
	}
	return errors.WithHint(
		errors.Mark(errors.Wrap(err, ErrInvalidInput.Error()), ErrInvalidInput),
		invalidInputMessage,
	)
}

func kindOf(c byte) string {
	if c == '[' {
		return "array"
	}
	return "object"
}
