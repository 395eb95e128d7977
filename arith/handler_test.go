package arith_test

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	calculator "github.com/xizhibei/go-calculator"
	"github.com/xizhibei/go-calculator/arith"
	mock_calculator "github.com/xizhibei/go-calculator/mock"
	"go.uber.org/mock/gomock"
)

func newMockContext(ctrl *gomock.Controller, body string) *mock_calculator.MockContext {
	c := mock_calculator.NewMockContext(ctrl)
	c.EXPECT().
		Bind(gomock.Any()).
		DoAndReturn(func(req any) error {
			return calculator.BindJSON([]byte(body), req, nil)
		})
	return c
}

func TestHandlerOK(t *testing.T) {
	cases := []struct {
		op   arith.Operation
		body string
		want arith.Result
	}{
		{arith.Add, `{"a": 5, "b": 3}`, arith.Result{Result: 8, Operation: "addition"}},
		{arith.Subtract, `{"a": 10, "b": 4}`, arith.Result{Result: 6, Operation: "subtraction"}},
		{arith.Multiply, `{"a": 6, "b": 7}`, arith.Result{Result: 42, Operation: "multiplication"}},
		{arith.Divide, `{"a": 20, "b": 4}`, arith.Result{Result: 5, Operation: "division"}},
		{arith.Add, `{}`, arith.Result{Result: 0, Operation: "addition"}},
		{arith.Multiply, `{"a": "2", "b": true}`, arith.Result{Result: 2, Operation: "multiplication"}},
	}

	for _, tc := range cases {
		t.Run(string(tc.op)+" "+tc.body, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			c := newMockContext(ctrl, tc.body)
			c.EXPECT().ReplyOK(gomock.Eq(&tc.want)).Return(true)

			arith.Handler(tc.op)(c)
		})
	}
}

func TestHandlerClientError(t *testing.T) {
	cases := []struct {
		op     arith.Operation
		body   string
		target error
	}{
		{arith.Divide, `{"a": 10, "b": 0}`, arith.ErrDivisionByZero},
		{arith.Divide, `{"a": 0, "b": "0"}`, arith.ErrDivisionByZero},
		{arith.Add, `{"a": "invalid", "b": 5}`, arith.ErrInvalidInput},
		{arith.Multiply, `{"a": 5, "b": null}`, arith.ErrInvalidInput},
		{arith.Subtract, `not json`, arith.ErrInvalidInput},
		{arith.Subtract, `[1, 2]`, arith.ErrInvalidInput},
		{arith.Add, `null`, arith.ErrInvalidInput},
		{arith.Multiply, `{"a": 1e308, "b": 1e10}`, arith.ErrResultOutOfRange},
	}

	for _, tc := range cases {
		t.Run(string(tc.op)+" "+tc.body, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			c := newMockContext(ctrl, tc.body)
			c.EXPECT().
				ReplyError(calculator.StatusClientError, gomock.Any()).
				DoAndReturn(func(status int, err error) bool {
					assert.True(t, errors.Is(err, tc.target), "%+v", err)
					return true
				})

			arith.Handler(tc.op)(c)
		})
	}
}

type registry map[string]*calculator.Handler

func (r registry) Register(method string, hdl *calculator.Handler) {
	r[method] = hdl
}

func TestRegister(t *testing.T) {
	r := registry{}
	arith.Register(r, 0)

	assert.Len(t, r, 4)
	for _, op := range arith.Operations {
		hdl, ok := r[string(op)]
		if assert.True(t, ok, string(op)) {
			assert.Zero(t, hdl.Timeout)
			assert.Equal(t, op.Description(), hdl.Description)
			assert.NotNil(t, hdl.Method)
		}
	}

	r = registry{}
	arith.Register(r, time.Second)
	assert.Equal(t, time.Second, r["add"].Timeout)
}
