// Package wsjson serves the calculator over WebSocket. Each text frame carries one request
// envelope, replies are written back on the same connection in request order.
package wsjson

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	calculator "github.com/xizhibei/go-calculator"
	"github.com/xizhibei/go-calculator/envelope"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 20
)

// Server upgrades HTTP requests and serves the envelopes read from each connection.
type Server struct {
	core      *calculator.Server
	upgrader  websocket.Upgrader
	validator *validator.Validate
	log       *zap.SugaredLogger

	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	closed bool
}

func New(core *calculator.Server, v *validator.Validate) *Server {
	return &Server{
		core: core,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		validator: v,
		log:       zap.S().With("module", "calc.wsjson"),
		conns:     map[*websocket.Conn]struct{}{},
	}
}

// Handle is the gin handler of the upgrade route.
func (s *Server) Handle(c *gin.Context) {
	s.ServeHTTP(c.Writer, c.Request)
}

// ServeHTTP upgrades the request and serves the connection until the peer closes it or
// Close is called.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("Upgrade %s: %v", r.RemoteAddr, err)
		return
	}
	if !s.track(conn) {
		_ = conn.Close()
		return
	}
	defer s.untrack(conn)

	ctx := otel.GetTextMapPropagator().Extract(context.Background(), propagation.HeaderCarrier(r.Header))
	s.serve(ctx, conn)
}

// Close closes every open connection and rejects new ones.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for conn := range s.conns {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
	return nil
}

// ConnCount returns the number of open connections.
func (s *Server) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) track(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	_ = conn.Close()
}

func (s *Server) serve(ctx context.Context, conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	peer := conn.RemoteAddr().String()
	s.log.Debugf("Connected %s", peer)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warnf("Read %s: %v", peer, err)
			}
			s.log.Debugf("Disconnected %s", peer)
			return
		}

		req, err := envelope.Decode(data)
		if err != nil {
			s.log.Debugf("Parse frame from %s: %v", peer, err)
			if err := s.write(conn, req.ErrorReply(calculator.StatusClientError, err)); err != nil {
				return
			}
			continue
		}

		c := newWSContext(ctx, peer, req, s.validator)
		s.core.Call(c)
		if err := s.write(conn, req.Reply(c.GetResponse())); err != nil {
			return
		}
	}
}

func (s *Server) write(conn *websocket.Conn, res *envelope.Response) error {
	data, err := json.Marshal(res)
	if err != nil {
		s.log.Errorf("Encode response %s: %v", res.Method, err)
		return err
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.log.Warnf("Write %s: %v", conn.RemoteAddr(), err)
		return err
	}
	return nil
}
