package compressor

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

type ContentEncoding int

const (
	ContentEncodingGzip    ContentEncoding = 0
	ContentEncodingDeflate ContentEncoding = 1
	ContentEncodingBrotli  ContentEncoding = 2
	ContentEncodingPlain   ContentEncoding = 3
)

var (
	ErrUnknownContentEncoding = errors.New("[CALC] unknown content encoding")
)

// String returns the HTTP token of the encoding, empty for plain.
func (e ContentEncoding) String() string {
	switch e {
	case ContentEncodingGzip:
		return "gzip"
	case ContentEncodingDeflate:
		return "deflate"
	case ContentEncodingBrotli:
		return "br"
	}
	return ""
}

// ParseContentEncoding maps a Content-Encoding header value to an encoding.
// An empty value and "identity" are plain.
func ParseContentEncoding(s string) (ContentEncoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "identity":
		return ContentEncodingPlain, nil
	case "gzip", "x-gzip":
		return ContentEncodingGzip, nil
	case "deflate":
		return ContentEncodingDeflate, nil
	case "br":
		return ContentEncodingBrotli, nil
	}
	return ContentEncodingPlain, ErrUnknownContentEncoding
}

// preference orders the encodings Negotiate picks from, best first.
var preference = []ContentEncoding{ContentEncodingBrotli, ContentEncodingGzip, ContentEncodingDeflate}

// Negotiate picks the encoding for a response given an Accept-Encoding header.
// Among the acceptable encodings the highest q value wins, ties go to br, gzip, deflate in
// that order. "*" accepts any encoding not listed, q=0 refuses one.
func Negotiate(acceptEncoding string) ContentEncoding {
	if acceptEncoding == "" {
		return ContentEncodingPlain
	}

	qualities := map[string]float64{}
	for _, part := range strings.Split(acceptEncoding, ",") {
		token, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		token = strings.ToLower(strings.TrimSpace(token))
		if token == "" {
			continue
		}

		q := 1.0
		params = strings.TrimSpace(params)
		if v, ok := strings.CutPrefix(params, "q="); ok {
			parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				continue
			}
			q = parsed
		}
		if token == "x-gzip" {
			token = "gzip"
		}
		qualities[token] = q
	}

	best := ContentEncodingPlain
	bestQ := 0.0
	for _, enc := range preference {
		q, ok := qualities[enc.String()]
		if !ok {
			q, ok = qualities["*"]
		}
		if !ok || q <= 0 {
			continue
		}
		if q > bestQ {
			best, bestQ = enc, q
		}
	}
	return best
}

// CompressorManager compresses and decompresses payloads with pooled codecs.
// It is safe for concurrent use.
type CompressorManager struct {
	byteReaderPool   sync.Pool
	bufferPool       sync.Pool
	gzipWriterPool   sync.Pool
	zlibWriterPool   sync.Pool
	brotliWriterPool sync.Pool
}

func NewCompressorManager() *CompressorManager {
	return &CompressorManager{
		byteReaderPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewReader(nil)
			},
		},
		gzipWriterPool: sync.Pool{
			New: func() interface{} {
				return gzip.NewWriter(nil)
			},
		},
		zlibWriterPool: sync.Pool{
			New: func() interface{} {
				return zlib.NewWriter(nil)
			},
		},
		brotliWriterPool: sync.Pool{
			New: func() interface{} {
				return brotli.NewWriter(nil)
			},
		},
		bufferPool: sync.Pool{
			New: func() interface{} {
				return new(bytes.Buffer)
			},
		},
	}
}

func (c *CompressorManager) Compress(tp ContentEncoding, data []byte) ([]byte, error) {
	if data == nil {
		return nil, nil
	}

	switch tp {
	case ContentEncodingGzip:
		return c.GzipCompress(data)
	case ContentEncodingDeflate:
		return c.ZlibCompress(data)
	case ContentEncodingBrotli:
		return c.BrotliCompress(data)
	case ContentEncodingPlain:
		return data, nil
	default:
		return nil, ErrUnknownContentEncoding
	}
}

func (c *CompressorManager) Decompress(tp ContentEncoding, data []byte) ([]byte, error) {
	if data == nil {
		return nil, nil
	}

	switch tp {
	case ContentEncodingGzip:
		return c.GzipDecompress(data)
	case ContentEncodingDeflate:
		return c.ZlibDecompress(data)
	case ContentEncodingBrotli:
		return c.BrotliDecompress(data)
	case ContentEncodingPlain:
		return data, nil
	default:
		return nil, ErrUnknownContentEncoding
	}
}

type resetWriter interface {
	io.WriteCloser
	Reset(w io.Writer)
}

func (c *CompressorManager) compress(pool *sync.Pool, data []byte) ([]byte, error) {
	writer := pool.Get().(resetWriter)
	defer pool.Put(writer)

	buf := c.bufferPool.Get().(*bytes.Buffer)
	defer c.bufferPool.Put(buf)

	buf.Reset()
	writer.Reset(buf)

	if _, err := writer.Write(data); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	// buf goes back to the pool
	return bytes.Clone(buf.Bytes()), nil
}

func (c *CompressorManager) decompress(data []byte, open func(r io.Reader) (io.Reader, error)) ([]byte, error) {
	byteReader := c.byteReaderPool.Get().(*bytes.Reader)
	defer c.byteReaderPool.Put(byteReader)
	byteReader.Reset(data)

	reader, err := open(byteReader)
	if err != nil {
		return nil, err
	}
	if closer, ok := reader.(io.Closer); ok {
		defer closer.Close()
	}

	return io.ReadAll(reader)
}

func (c *CompressorManager) GzipCompress(data []byte) ([]byte, error) {
	return c.compress(&c.gzipWriterPool, data)
}

func (c *CompressorManager) GzipDecompress(data []byte) ([]byte, error) {
	return c.decompress(data, func(r io.Reader) (io.Reader, error) {
		return gzip.NewReader(r)
	})
}

func (c *CompressorManager) ZlibCompress(data []byte) ([]byte, error) {
	return c.compress(&c.zlibWriterPool, data)
}

func (c *CompressorManager) ZlibDecompress(data []byte) ([]byte, error) {
	return c.decompress(data, func(r io.Reader) (io.Reader, error) {
		return zlib.NewReader(r)
	})
}

func (c *CompressorManager) BrotliCompress(data []byte) ([]byte, error) {
	return c.compress(&c.brotliWriterPool, data)
}

func (c *CompressorManager) BrotliDecompress(data []byte) ([]byte, error) {
	return c.decompress(data, func(r io.Reader) (io.Reader, error) {
		return brotli.NewReader(r), nil
	})
}
