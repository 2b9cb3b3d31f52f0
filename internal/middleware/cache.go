package middleware

import (
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

type CacheConfig struct {
	TTL       time.Duration
	MaxSize   int
	KeyPrefix string
}

type cachedResponse struct {
	StatusCode  int    `json:"status_code"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// ResponseCache serves repeated GETs from Redis for a short TTL. It is meant
// for aggregate read endpoints that tolerate slightly stale data.
func ResponseCache(client *redis.Client, cfg CacheConfig, logger *logrus.Logger) gin.HandlerFunc {
	if client == nil {
		return func(c *gin.Context) { c.Next() }
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "http-cache"
	}

	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Next()
			return
		}

		key := cacheKey(cfg.KeyPrefix, c.Request.URL.Path, c.Request.URL.RawQuery)
		if raw, err := client.Get(c.Request.Context(), key).Bytes(); err == nil {
			var cached cachedResponse
			if err := json.Unmarshal(raw, &cached); err == nil {
				c.Header("X-Cache", "HIT")
				c.Data(cached.StatusCode, cached.ContentType, cached.Body)
				c.Abort()
				return
			}
		}

		writer := &cacheWriter{ResponseWriter: c.Writer}
		c.Writer = writer
		c.Header("X-Cache", "MISS")
		c.Next()

		status := writer.Status()
		if status < 200 || status >= 300 || writer.body.Len() == 0 {
			return
		}
		if cfg.MaxSize > 0 && writer.body.Len() > cfg.MaxSize {
			return
		}

		data, err := json.Marshal(cachedResponse{
			StatusCode:  status,
			ContentType: writer.Header().Get("Content-Type"),
			Body:        writer.body.Bytes(),
		})
		if err != nil {
			return
		}
		if err := client.Set(c.Request.Context(), key, data, cfg.TTL).Err(); err != nil {
			logger.WithError(err).WithField("cache_key", key).Warn("Failed to cache response")
		}
	}
}

type cacheWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *cacheWriter) Write(data []byte) (int, error) {
	w.body.Write(data)
	return w.ResponseWriter.Write(data)
}

func (w *cacheWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

func cacheKey(prefix, path, query string) string {
	hash := md5.Sum([]byte(path + "?" + query))
	return fmt.Sprintf("%s:%x", prefix, hash)
}

// InvalidateCache drops every cached response under prefix once a mutating
// request succeeds.
func InvalidateCache(client *redis.Client, prefix string, logger *logrus.Logger) gin.HandlerFunc {
	if client == nil {
		return func(c *gin.Context) { c.Next() }
	}
	if prefix == "" {
		prefix = "http-cache"
	}

	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Status() >= 300 {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		iter := client.Scan(ctx, 0, prefix+":*", 100).Iterator()
		var keys []string
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			logger.WithError(err).Warn("Failed to scan cache keys for invalidation")
			return
		}
		if len(keys) > 0 {
			if err := client.Del(ctx, keys...).Err(); err != nil {
				logger.WithError(err).WithField("count", len(keys)).Warn("Failed to invalidate cache keys")
			}
		}
	}
}
