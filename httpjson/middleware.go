package httpjson

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/xizhibei/go-calculator/compressor"
	"go.uber.org/zap"
)

// RequestIDHeader carries the request id, generated when the client sends none.
const RequestIDHeader = "X-Request-ID"

const requestIDKey = "calc.request_id"

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

func getRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

func accessLog(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Infow("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"size", c.Writer.Size(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
			"request_id", getRequestID(c),
		)
	}
}

func recovery(log *zap.SugaredLogger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, err interface{}) {
		log.Errorw("panic", "path", c.Request.URL.Path, "error", err, "request_id", getRequestID(c))
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody("Internal server error."))
	})
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Vary", "Origin")
		} else {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Content-Encoding, Accept-Encoding, X-Request-ID, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Type, Content-Encoding, X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// bufferWriter holds the body back until the handler chain returns, so the compress
// middleware can decide on the encoding once the size is known.
type bufferWriter struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *bufferWriter) Write(b []byte) (int, error) {
	return w.buf.Write(b)
}

func (w *bufferWriter) WriteString(s string) (int, error) {
	return w.buf.WriteString(s)
}

func compress(manager *compressor.CompressorManager, minLength int, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		enc := compressor.Negotiate(c.GetHeader("Accept-Encoding"))
		if enc == compressor.ContentEncodingPlain || c.GetHeader("Upgrade") != "" {
			c.Next()
			return
		}

		origin := c.Writer
		w := &bufferWriter{ResponseWriter: origin}
		c.Writer = w
		defer func() {
			c.Writer = origin
		}()

		c.Next()

		header := origin.Header()
		header.Add("Vary", "Accept-Encoding")

		body := w.buf.Bytes()
		if len(body) == 0 || len(body) < minLength || header.Get("Content-Encoding") != "" {
			_, _ = origin.Write(body)
			return
		}

		compressed, err := manager.Compress(enc, body)
		if err != nil {
			log.Errorf("Compress response %s: %v", enc, err)
			_, _ = origin.Write(body)
			return
		}

		header.Set("Content-Encoding", enc.String())
		header.Del("Content-Length")
		_, _ = origin.Write(compressed)
	}
}
