package mqttjson_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/suite"
	calculator "github.com/xizhibei/go-calculator"
	"github.com/xizhibei/go-calculator/arith"
	"github.com/xizhibei/go-calculator/envelope"
	"github.com/xizhibei/go-calculator/mqttadapter"
	mock_mqttadapter "github.com/xizhibei/go-calculator/mqttadapter/mock"
	"github.com/xizhibei/go-calculator/mqttjson"
	"github.com/xizhibei/go-calculator/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
)

type fakeMessage struct {
	topic    string
	payload  []byte
	retained bool
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return m.retained }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

type publish struct {
	topic string
	res   envelope.Response
}

type MQTTJsonServerTestSuite struct {
	suite.Suite
	core          *calculator.Server
	server        *mqttjson.Server
	mockCtrl      *gomock.Controller
	mqttClient    *mock_mqttadapter.MockMQTTClientAdapter
	testTelemetry *telemetry.TestTelemetry

	onMessage mqttadapter.MessageCallback
	published chan publish
	closed    bool
}

func (s *MQTTJsonServerTestSuite) SetupSuite() {
	log, err := zap.NewDevelopment()
	s.Require().NoError(err)
	zap.ReplaceGlobals(log)
	otel.SetTextMapPropagator(propagation.TraceContext{})
}

func (s *MQTTJsonServerTestSuite) SetupTest() {
	s.mockCtrl = gomock.NewController(s.T())
	s.mqttClient = mock_mqttadapter.NewMockMQTTClientAdapter(s.mockCtrl)
	s.testTelemetry = telemetry.NewTestTelemetry(s.T())
	s.published = make(chan publish, 64)
	s.closed = false

	s.mqttClient.EXPECT().
		Subscribe(gomock.Any(), "calc/device-1/request/+", byte(0), gomock.Any()).
		Do(func(_ context.Context, _ string, _ byte, cb mqttadapter.MessageCallback) {
			s.onMessage = cb
		})
	s.mqttClient.EXPECT().
		OnConnect(gomock.Any()).
		DoAndReturn(func(cb mqttadapter.OnConnectCallback) int {
			cb()
			return 3
		})
	s.mqttClient.EXPECT().EnsureConnected()
	s.mqttClient.EXPECT().
		PublishBytes(gomock.Any(), gomock.Any(), byte(0), false, gomock.Any()).
		Do(func(_ context.Context, topic string, _ byte, _ bool, data []byte) {
			var res envelope.Response
			s.Require().NoError(json.Unmarshal(data, &res))
			s.published <- publish{topic: topic, res: res}
		}).
		AnyTimes()

	s.core = calculator.NewServer(
		calculator.WithServerName("mqtt-test"),
		calculator.WithTelemetry(s.testTelemetry.Telemetry(s.T())),
	)
	arith.Register(s.core, 0)

	s.server = mqttjson.NewServer(s.core, s.mqttClient, "calc", "device-1", validator.New())
	s.Require().NotNil(s.onMessage)
}

func (s *MQTTJsonServerTestSuite) closeServer() {
	s.mqttClient.EXPECT().OffConnect(3)
	s.mqttClient.EXPECT().Unsubscribe(gomock.Any(), "calc/device-1/request/+")
	s.mqttClient.EXPECT().Disconnect()
	s.NoError(s.server.Close())
	s.closed = true
}

func (s *MQTTJsonServerTestSuite) TearDownTest() {
	if !s.closed {
		s.closeServer()
	}
	s.NoError(s.core.Close())
	s.NoError(s.testTelemetry.Shutdown(context.Background()))
}

func (s *MQTTJsonServerTestSuite) deliver(m *fakeMessage) publish {
	s.onMessage(s.mqttClient, m)
	select {
	case p := <-s.published:
		return p
	case <-time.After(5 * time.Second):
		s.FailNow("no response published")
	}
	return publish{}
}

func (s *MQTTJsonServerTestSuite) TestReceiveCall() {
	p := s.deliver(&fakeMessage{
		topic:   "calc/device-1/request/abc",
		payload: []byte(`{"id": 1, "method": "add", "params": {"a": 5, "b": 3}}`),
	})

	s.Equal("calc/device-1/response/abc", p.topic)
	s.Equal(uint64(1), p.res.ID)
	s.Equal("add", p.res.Method)
	s.Equal(calculator.StatusOK, p.res.Status)
	s.JSONEq(`{"result": 8, "operation": "addition"}`, string(p.res.Data))
}

func (s *MQTTJsonServerTestSuite) TestDivisionByZero() {
	p := s.deliver(&fakeMessage{
		topic:   "calc/device-1/request/2",
		payload: []byte(`{"id": 2, "method": "divide", "params": {"a": 10, "b": 0}}`),
	})

	s.Equal(calculator.StatusClientError, p.res.Status)
	s.JSONEq(`{"error": "Division by zero is not allowed."}`, string(p.res.Data))
}

func (s *MQTTJsonServerTestSuite) TestMissingParams() {
	p := s.deliver(&fakeMessage{
		topic:   "calc/device-1/request/3",
		payload: []byte(`{"id": 3, "method": "multiply"}`),
	})

	s.Equal(calculator.StatusClientError, p.res.Status)
	s.JSONEq(`{"error": "Invalid input. Provide 'a' and 'b' as numbers."}`, string(p.res.Data))
}

func (s *MQTTJsonServerTestSuite) TestInvalidEnvelope() {
	p := s.deliver(&fakeMessage{
		topic:   "calc/device-1/request/4",
		payload: []byte(`not json`),
	})

	s.Equal("calc/device-1/response/4", p.topic)
	s.Equal(calculator.StatusClientError, p.res.Status)
	s.JSONEq(`{"error": "Invalid request envelope."}`, string(p.res.Data))
}

func (s *MQTTJsonServerTestSuite) TestRetainedMessage() {
	p := s.deliver(&fakeMessage{
		topic:    "calc/device-1/request/5",
		payload:  []byte(`{"id": 5, "method": "add", "params": {"a": 1, "b": 1}}`),
		retained: true,
	})

	s.Equal(uint64(5), p.res.ID)
	s.Equal(calculator.StatusClientError, p.res.Status)
	s.Contains(string(p.res.Data), "retained=false")
}

func (s *MQTTJsonServerTestSuite) TestUnknownMethod() {
	p := s.deliver(&fakeMessage{
		topic:   "calc/device-1/request/6",
		payload: []byte(`{"id": 6, "method": "modulo", "params": {}}`),
	})

	s.Equal(calculator.StatusServerError, p.res.Status)
}

func (s *MQTTJsonServerTestSuite) TestTraceMetadata() {
	traceID := "4bf92f3577b34da6a3ce929d0e0e4736"
	p := s.deliver(&fakeMessage{
		topic: "calc/device-1/request/7",
		payload: []byte(`{"id": 7, "method": "subtract", "params": {"a": 10, "b": 4},
			"metadata": {"traceparent": "00-` + traceID + `-00f067aa0ba902b7-01"}}`),
	})
	s.JSONEq(`{"result": 6, "operation": "subtraction"}`, string(p.res.Data))

	s.Eventually(func() bool {
		return len(s.testTelemetry.EndedSpans()) == 1
	}, time.Second, 10*time.Millisecond)
	span := s.testTelemetry.EndedSpans()[0]
	s.Equal(traceID, span.SpanContext().TraceID().String())
	s.Equal("00f067aa0ba902b7", span.Parent().SpanID().String())
}

func (s *MQTTJsonServerTestSuite) TestIsConnected() {
	s.mqttClient.EXPECT().IsConnected().Return(true)
	s.True(s.server.IsConnected())
}

func (s *MQTTJsonServerTestSuite) TestDropAfterClose() {
	s.closeServer()
	s.NoError(s.server.Close())

	s.onMessage(s.mqttClient, &fakeMessage{
		topic:   "calc/device-1/request/8",
		payload: []byte(`{"id": 8, "method": "add", "params": {"a": 1, "b": 2}}`),
	})
	select {
	case p := <-s.published:
		s.Failf("unexpected response", "%+v", p)
	case <-time.After(50 * time.Millisecond):
	}
	s.Empty(s.testTelemetry.EndedSpans())
}

func (s *MQTTJsonServerTestSuite) TestCloseDuringDelivery() {
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.onMessage(s.mqttClient, &fakeMessage{
				topic:   fmt.Sprintf("calc/device-1/request/%d", i),
				payload: []byte(fmt.Sprintf(`{"id": %d, "method": "add", "params": {"a": %d, "b": 1}}`, i, i)),
			})
		}(i)
	}
	s.closeServer()
	wg.Wait()

	// every request accepted before Close has replied by the time Close returns
	replied := len(s.published)
	s.LessOrEqual(replied, 20)
	for i := 0; i < replied; i++ {
		p := <-s.published
		s.Equal(calculator.StatusOK, p.res.Status)
	}
}

func TestMQTTJsonServer(t *testing.T) {
	suite.Run(t, new(MQTTJsonServerTestSuite))
}

func TestReplyTopic(t *testing.T) {
	cases := map[string]string{
		"calc/dev/request/1":         "calc/dev/response/1",
		"request/dev/request/abc":    "request/dev/response/abc",
		"calc/dev/request/request/1": "calc/dev/request/response/1",
		"calc/dev":                   "calc/dev/response",
	}
	for topic, want := range cases {
		if got := mqttjson.ReplyTopic(topic); got != want {
			t.Errorf("ReplyTopic(%q) = %q, want %q", topic, got, want)
		}
	}
	if got := mqttjson.SubscribeTopic("calc/", "dev"); got != "calc/dev/request/+" {
		t.Errorf("unexpected subscribe topic %q", got)
	}
}
