package middleware

import (
	"compress/gzip"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
)

var gzipPool = sync.Pool{
	New: func() interface{} {
		gz, _ := gzip.NewWriterLevel(nil, gzip.DefaultCompression)
		return gz
	},
}

// Compression gzips responses for clients that accept it. The metrics
// endpoint negotiates its own encoding and is skipped.
func Compression() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !strings.Contains(c.GetHeader("Accept-Encoding"), "gzip") ||
			c.Request.Method == "HEAD" ||
			strings.HasPrefix(c.Request.URL.Path, "/metrics") {
			c.Next()
			return
		}

		gz := gzipPool.Get().(*gzip.Writer)
		gz.Reset(c.Writer)

		c.Header("Content-Encoding", "gzip")
		c.Header("Vary", "Accept-Encoding")
		gw := &gzipWriter{ResponseWriter: c.Writer, writer: gz}
		c.Writer = gw

		defer func() {
			if gw.written == 0 {
				// Nothing was written; drop the encoding header so an empty
				// body is not advertised as gzip.
				c.Writer.Header().Del("Content-Encoding")
				gz.Reset(nil)
			} else {
				gz.Close()
			}
			gzipPool.Put(gz)
		}()

		c.Next()
	}
}

type gzipWriter struct {
	gin.ResponseWriter
	writer  *gzip.Writer
	written int
}

func (g *gzipWriter) WriteHeader(code int) {
	g.Header().Del("Content-Length")
	g.ResponseWriter.WriteHeader(code)
}

func (g *gzipWriter) Write(data []byte) (int, error) {
	g.Header().Del("Content-Length")
	n, err := g.writer.Write(data)
	g.written += n
	return n, err
}

func (g *gzipWriter) WriteString(s string) (int, error) {
	return g.Write([]byte(s))
}
