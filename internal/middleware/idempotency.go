package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	idempotencyPrefix    = "idempotency:v1:"
	inProgressMarker     = "__in_progress__"
)

type storedResponse struct {
	Status      int    `json:"status"`
	Body        string `json:"body"`
	ContentType string `json:"content_type"`
}

type recordingWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *recordingWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotency replays the stored response for a repeated Idempotency-Key.
// Keys are scoped to the authenticated user. Requests without the header
// pass through untouched. Conflicts and server errors are not stored so the
// client may retry them.
func Idempotency(cache *redis.Client, ttl time.Duration, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(idempotencyKeyHeader)
		if key == "" {
			c.Next()
			return
		}

		cacheKey := idempotencyPrefix + key
		if userID, ok := UserID(c); ok {
			cacheKey = idempotencyPrefix + userID.String() + ":" + key
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		reserved, err := cache.SetNX(ctx, cacheKey, inProgressMarker, ttl).Result()
		if err != nil {
			logger.Error("idempotency reservation failed", slog.String("key", key), slog.Any("err", err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "idempotency store failure"})
			return
		}
		if !reserved {
			replay(c, cache, cacheKey, key, logger)
			return
		}

		rw := &recordingWriter{ResponseWriter: c.Writer}
		c.Writer = rw
		defer func() {
			if r := recover(); r != nil {
				releaseCtx, releaseCancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), 2*time.Second)
				defer releaseCancel()
				if err := cache.Del(releaseCtx, cacheKey).Err(); err != nil {
					logger.Error("failed to release idempotency key", slog.String("key", key), slog.Any("err", err))
				}
				panic(r)
			}
		}()
		c.Next()

		persistCtx, persistCancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), 2*time.Second)
		defer persistCancel()

		status := rw.Status()
		if status >= http.StatusInternalServerError || status == http.StatusConflict {
			cache.Del(persistCtx, cacheKey)
			return
		}

		payload, err := json.Marshal(storedResponse{
			Status:      status,
			Body:        rw.body.String(),
			ContentType: rw.Header().Get("Content-Type"),
		})
		if err == nil {
			err = cache.Set(persistCtx, cacheKey, payload, ttl).Err()
		}
		if err != nil {
			logger.Error("failed to persist idempotent response", slog.String("key", key), slog.Any("err", err))
			cache.Del(persistCtx, cacheKey)
		}
	}
}

func replay(c *gin.Context, cache *redis.Client, cacheKey, key string, logger *slog.Logger) {
	cached, err := cache.Get(c.Request.Context(), cacheKey).Result()
	if errors.Is(err, redis.Nil) || cached == inProgressMarker {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "duplicate request currently processing"})
		return
	}
	if err != nil {
		logger.Error("idempotency lookup failed", slog.String("key", key), slog.Any("err", err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "idempotency store failure"})
		return
	}

	var stored storedResponse
	if err := json.Unmarshal([]byte(cached), &stored); err != nil {
		logger.Warn("failed to decode stored idempotent response", slog.String("key", key), slog.Any("err", err))
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "duplicate request"})
		return
	}

	c.Header("Idempotent-Replayed", "true")
	c.Data(stored.Status, stored.ContentType, []byte(stored.Body))
	c.Abort()
}
