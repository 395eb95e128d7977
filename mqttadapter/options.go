package mqttadapter

import (
	"crypto/tls"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ClientOptions wraps the paho options with the settings handled by the adapter itself.
type ClientOptions struct {
	*mqtt.ClientOptions
	enableDebug   bool
	retryInterval time.Duration
	onlineTopic   string
	onlinePayload []byte
}

type Option func(o *ClientOptions)

// WithDebug routes the paho client logs to the zap logger.
func WithDebug(debug bool) Option {
	return func(o *ClientOptions) {
		o.enableDebug = debug
	}
}

func WithUserPass(user, pass string) Option {
	return func(o *ClientOptions) {
		o.SetUsername(user)
		o.SetPassword(pass)
	}
}

func WithKeepAlive(keepalive time.Duration) Option {
	return func(o *ClientOptions) {
		o.SetKeepAlive(keepalive)
	}
}

func WithTLSConfig(cfg *tls.Config) Option {
	return func(o *ClientOptions) {
		o.SetTLSConfig(cfg)
	}
}

// WithRetryInterval sets the pause between two attempts of EnsureConnected.
func WithRetryInterval(interval time.Duration) Option {
	return func(o *ClientOptions) {
		if interval > 0 {
			o.retryInterval = interval
		}
	}
}

func WithMaxReconnectInterval(interval time.Duration) Option {
	return func(o *ClientOptions) {
		o.SetMaxReconnectInterval(interval)
	}
}

// WithStatus publishes onlinePayload, retained, on every connect and registers
// offlinePayload as the retained last will.
func WithStatus(
	onlineTopic string, onlinePayload []byte,
	offlineTopic string, offlinePayload []byte,
) Option {
	return func(o *ClientOptions) {
		o.onlineTopic = onlineTopic
		o.onlinePayload = onlinePayload
		o.SetBinaryWill(offlineTopic, offlinePayload, 1, true)
	}
}
