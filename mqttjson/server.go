// Package mqttjson serves the calculator over MQTT. Requests are JSON envelopes published on
// <prefix>/<device>/request/<request id>, replies go to the matching response topic.
package mqttjson

import (
	"context"
	"encoding/json"
	"path"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	calculator "github.com/xizhibei/go-calculator"
	"github.com/xizhibei/go-calculator/envelope"
	"github.com/xizhibei/go-calculator/mqttadapter"
	"go.uber.org/zap"
)

// ErrRetainedMessage rejects requests published with the retained flag.
var ErrRetainedMessage = errors.WithHint(
	errors.New("[CALC] retained message is not allowed"),
	"Retained requests are not allowed, publish with retained=false.",
)

// Server subscribes to the request topics of one device and dispatches them to the core server.
type Server struct {
	core      *calculator.Server
	iotClient mqttadapter.MQTTClientAdapter
	log       *zap.SugaredLogger
	validator *validator.Validate

	subscribeTopic string
	qos            byte
	connectIdx     int

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// SubscribeTopic returns the wildcard topic carrying the requests for deviceID.
func SubscribeTopic(topicPrefix, deviceID string) string {
	return path.Join(topicPrefix, deviceID, "request", "+")
}

// ReplyTopic maps a request topic to its response topic by swapping the request segment.
func ReplyTopic(topic string) string {
	idx := strings.LastIndex(topic, "/request/")
	if idx < 0 {
		return topic + "/response"
	}
	return topic[:idx] + "/response/" + topic[idx+len("/request/"):]
}

// NewServer subscribes on every connect and starts connecting in the background.
func NewServer(
	core *calculator.Server,
	client mqttadapter.MQTTClientAdapter,
	topicPrefix, deviceID string,
	validator *validator.Validate,
) *Server {
	s := &Server{
		core:           core,
		iotClient:      client,
		subscribeTopic: SubscribeTopic(topicPrefix, deviceID),
		qos:            calculator.DefaultQoS,
		log:            zap.S().With("module", "calc.mqttjson"),
		validator:      validator,
	}

	s.connectIdx = client.OnConnect(s.initReceive)
	client.EnsureConnected()
	return s
}

// Close stops receiving, waits for in flight requests to reply and disconnects.
// Messages delivered after Close are dropped. Calling Close again is a no-op.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.iotClient.OffConnect(s.connectIdx)
	s.iotClient.Unsubscribe(context.Background(), s.subscribeTopic)
	s.inflight.Wait()
	s.iotClient.Disconnect()
	return nil
}

// IsConnected reports whether the broker connection is up.
func (s *Server) IsConnected() bool {
	return s.iotClient.IsConnected()
}

func (s *Server) initReceive() {
	s.log.Infof("Subscribe %s", s.subscribeTopic)
	s.iotClient.Subscribe(context.Background(), s.subscribeTopic, s.qos, s.onMessage)
}

func (s *Server) onMessage(_ mqttadapter.MQTTClientAdapter, m mqttadapter.Message) {
	topic := m.Topic()
	replyTopic := ReplyTopic(topic)

	req, err := envelope.Decode(m.Payload())
	if m.Retained() {
		s.log.Warnf("Retained message on %s, ignore", topic)
		s.reply(replyTopic, req.ErrorReply(calculator.StatusClientError, ErrRetainedMessage))
		return
	}
	if err != nil {
		s.log.Warnf("Parse request on %s: %v", topic, err)
		s.reply(replyTopic, req.ErrorReply(calculator.StatusClientError, err))
		return
	}

	s.log.Debugf("Request from topic %s, method %s", topic, req.Method)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.log.Warnf("Server closed, drop request on %s", topic)
		return
	}
	s.inflight.Add(1)
	s.mu.Unlock()

	c := newMQTTContext(replyTopic, req, s)
	go func() {
		defer s.inflight.Done()
		s.core.Call(c)
	}()
}

func (s *Server) reply(topic string, res *envelope.Response) {
	data, err := json.Marshal(res)
	if err != nil {
		s.log.Errorf("Encode response to %s: %v", topic, err)
		return
	}
	s.log.Debugf("Response to topic %s, method %s size %d", topic, res.Method, len(data))
	s.iotClient.PublishBytes(context.Background(), topic, s.qos, false, data)
}
