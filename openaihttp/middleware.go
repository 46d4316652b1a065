package openaihttp

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// requireAPIKey 在 key 非空时校验 Authorization: Bearer <key> 或 x-api-key。
func requireAPIKey(key string, next http.HandlerFunc) http.HandlerFunc {
	if key == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		got := strings.TrimSpace(r.Header.Get("x-api-key"))
		if got == "" {
			if v, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
				got = strings.TrimSpace(v)
			}
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			writeOpenAIError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		next(w, r)
	}
}

func limitBody(limit int64, next http.HandlerFunc) http.HandlerFunc {
	if limit <= 0 {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
		}
		next(w, r)
	}
}

// GinLogger 用 logrus 记录每个请求的方法、路径、状态码与耗时。
func GinLogger(log *logrus.Entry) gin.HandlerFunc {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		entry := log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  status,
			"latency": time.Since(start).String(),
			"client":  c.ClientIP(),
		})
		switch {
		case status >= http.StatusInternalServerError:
			entry.Warn("request")
		case status >= http.StatusBadRequest:
			entry.Info("request")
		default:
			entry.Debug("request")
		}
	}
}
