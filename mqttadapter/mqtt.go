package mqttadapter

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const defaultRetryInterval = 10 * time.Second

// MQTTClientAdapterImpl adapts a paho client to MQTTClientAdapter.
type MQTTClientAdapterImpl struct {
	client mqtt.Client

	callbackMu             sync.Mutex
	callbackCount          int
	onConnectCallbacks     map[int]OnConnectCallback
	onConnectLostCallbacks map[int]OnConnectLostCallback

	retryInterval time.Duration
	stop          context.Context
	stopRetry     context.CancelFunc
	printableURL  string

	log *zap.SugaredLogger
}

// New creates an adapter for the broker at uri, "scheme://host:port" with scheme tcp, ssl or ws.
// The client does not connect until Connect or EnsureConnected is called.
func New(uri, clientID string, options ...Option) (MQTTClientAdapter, error) {
	server, err := url.Parse(uri)
	if err != nil {
		return nil, errors.Wrap(err, "parse broker url")
	}
	if server.Scheme == "" || server.Host == "" {
		return nil, errors.Newf("invalid broker url %q", uri)
	}

	clonedServer := *server
	clonedServer.User = nil
	s := newAdapter(clonedServer.String())

	clientOptions := &ClientOptions{
		ClientOptions: mqtt.NewClientOptions().
			AddBroker(uri).
			SetClientID(clientID).
			SetKeepAlive(60 * time.Second).
			SetAutoReconnect(true).
			SetOnConnectHandler(func(mqtt.Client) {
				s.handleConnect()
			}).
			SetConnectionLostHandler(func(_ mqtt.Client, err error) {
				s.handleConnectLost(err)
			}),
		retryInterval: defaultRetryInterval,
	}

	for _, o := range options {
		o(clientOptions)
	}

	if clientOptions.enableDebug {
		std := zap.L().With(zap.String("module", "paho"))
		mqtt.DEBUG, _ = zap.NewStdLogAt(std, zapcore.DebugLevel)
		mqtt.WARN, _ = zap.NewStdLogAt(std, zapcore.WarnLevel)
		mqtt.ERROR, _ = zap.NewStdLogAt(std, zapcore.ErrorLevel)
		mqtt.CRITICAL, _ = zap.NewStdLogAt(std, zapcore.ErrorLevel)
	}

	s.retryInterval = clientOptions.retryInterval
	s.client = mqtt.NewClient(clientOptions.ClientOptions)

	if clientOptions.onlineTopic != "" {
		s.OnConnect(func() {
			s.PublishBytes(context.Background(), clientOptions.onlineTopic, 1, true, clientOptions.onlinePayload)
		})
	}

	return s, nil
}

func newAdapter(printableURL string) *MQTTClientAdapterImpl {
	stop, stopRetry := context.WithCancel(context.Background())
	return &MQTTClientAdapterImpl{
		log:                    zap.S().With("module", "calc.mqtt"),
		printableURL:           printableURL,
		retryInterval:          defaultRetryInterval,
		stop:                   stop,
		stopRetry:              stopRetry,
		onConnectCallbacks:     make(map[int]OnConnectCallback),
		onConnectLostCallbacks: make(map[int]OnConnectLostCallback),
	}
}

func (s *MQTTClientAdapterImpl) handleConnect() {
	s.log.Infof("Connected %s", s.printableURL)

	s.callbackMu.Lock()
	cbs := make([]OnConnectCallback, 0, len(s.onConnectCallbacks))
	for _, cb := range s.onConnectCallbacks {
		cbs = append(cbs, cb)
	}
	s.callbackMu.Unlock()

	for _, cb := range cbs {
		go cb()
	}
}

func (s *MQTTClientAdapterImpl) handleConnectLost(err error) {
	s.log.Warnf("Connection lost %s %v", s.printableURL, err)

	s.callbackMu.Lock()
	cbs := make([]OnConnectLostCallback, 0, len(s.onConnectLostCallbacks))
	for _, cb := range s.onConnectLostCallbacks {
		cbs = append(cbs, cb)
	}
	s.callbackMu.Unlock()

	for _, cb := range cbs {
		go cb(err)
	}
}

// OnConnect registers cb for every future connect. cb also runs right away when the client
// is already connected.
func (s *MQTTClientAdapterImpl) OnConnect(cb OnConnectCallback) int {
	s.callbackMu.Lock()
	idx := s.callbackCount
	s.callbackCount++
	s.onConnectCallbacks[idx] = cb
	s.callbackMu.Unlock()

	if s.client.IsConnected() {
		cb()
	}
	return idx
}

func (s *MQTTClientAdapterImpl) OffConnect(idx int) {
	s.callbackMu.Lock()
	defer s.callbackMu.Unlock()
	delete(s.onConnectCallbacks, idx)
}

func (s *MQTTClientAdapterImpl) OnConnectLost(cb OnConnectLostCallback) int {
	s.callbackMu.Lock()
	defer s.callbackMu.Unlock()

	idx := s.callbackCount
	s.callbackCount++
	s.onConnectLostCallbacks[idx] = cb
	return idx
}

func (s *MQTTClientAdapterImpl) OffConnectLost(idx int) {
	s.callbackMu.Lock()
	defer s.callbackMu.Unlock()
	delete(s.onConnectLostCallbacks, idx)
}

func (s *MQTTClientAdapterImpl) Connect(ctx context.Context) error {
	return wait(ctx, s.client.Connect())
}

// EnsureConnected connects in the background, retrying every retry interval until it
// succeeds or Disconnect is called.
func (s *MQTTClientAdapterImpl) EnsureConnected() {
	go s.connectAndWaitForSuccess()
}

func (s *MQTTClientAdapterImpl) connectAndWaitForSuccess() {
	for {
		if s.IsConnected() {
			return
		}

		err := s.Connect(s.stop)
		if err == nil {
			return
		}
		if s.stop.Err() != nil {
			s.log.Infof("Stop retry connect %s", s.printableURL)
			return
		}
		s.log.Errorf("Connect failed %s %v", s.printableURL, err)

		timer := time.NewTimer(s.retryInterval)
		select {
		case <-s.stop.Done():
			timer.Stop()
			s.log.Infof("Stop retry connect %s", s.printableURL)
			return
		case <-timer.C:
			s.log.Infof("Try reconnect %s", s.printableURL)
		}
	}
}

// Disconnect stops any pending retry and disconnects, waiting up to 250ms for in flight work.
func (s *MQTTClientAdapterImpl) Disconnect() {
	s.stopRetry()
	s.client.Disconnect(250)
}

func (s *MQTTClientAdapterImpl) IsConnected() bool {
	return s.client.IsConnectionOpen()
}

func (s *MQTTClientAdapterImpl) Subscribe(ctx context.Context, topic string, qos byte, onMsg MessageCallback) {
	s.log.Debugf("Subscribe topic=%s qos=%d", topic, qos)
	s.client.Subscribe(topic, qos, func(_ mqtt.Client, m mqtt.Message) {
		onMsg(s, m)
	})
}

func (s *MQTTClientAdapterImpl) Unsubscribe(ctx context.Context, topic string) {
	s.log.Debugf("Unsubscribe topic=%s", topic)
	s.client.Unsubscribe(topic)
}

func (s *MQTTClientAdapterImpl) PublishBytes(ctx context.Context, topic string, qos byte, retained bool, data []byte) {
	s.client.Publish(topic, qos, retained, data)
}

func wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
		return token.Error()
	}
}
