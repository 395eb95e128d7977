package calculator

const (
	StatusOK             = 200
	StatusClientError    = 400
	StatusRequestTimeout = 408
	StatusServerError    = 500

	DefaultQoS = 0
)
