package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func idempotencyRouter(t *testing.T, status int) (*gin.Engine, *miniredis.Miniredis, *atomic.Int32) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	calls := &atomic.Int32{}
	r := gin.New()
	r.POST("/pay", Idempotency(client, time.Hour, testLogger), func(c *gin.Context) {
		n := calls.Add(1)
		c.JSON(status, gin.H{"call": n})
	})
	return r, mr, calls
}

func post(r *gin.Engine, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/pay", nil)
	if key != "" {
		req.Header.Set(idempotencyKeyHeader, key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIdempotency_ReplaysStoredResponse(t *testing.T) {
	r, mr, calls := idempotencyRouter(t, http.StatusCreated)

	first := post(r, "abc")
	second := post(r, "abc")

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.True(t, mr.Exists(idempotencyPrefix+"abc"))
}

func TestIdempotency_WithoutHeaderPassesThrough(t *testing.T) {
	r, _, calls := idempotencyRouter(t, http.StatusOK)

	post(r, "")
	post(r, "")

	assert.Equal(t, int32(2), calls.Load())
}

func TestIdempotency_InProgress(t *testing.T) {
	r, mr, calls := idempotencyRouter(t, http.StatusOK)
	require.NoError(t, mr.Set(idempotencyPrefix+"busy", inProgressMarker))

	w := post(r, "busy")

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Zero(t, calls.Load())
}

func TestIdempotency_ServerErrorsAreNotStored(t *testing.T) {
	r, mr, calls := idempotencyRouter(t, http.StatusServiceUnavailable)

	post(r, "retry-me")
	assert.False(t, mr.Exists(idempotencyPrefix+"retry-me"))

	post(r, "retry-me")
	assert.Equal(t, int32(2), calls.Load())
}

func TestIdempotency_PanicReleasesKey(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	calls := &atomic.Int32{}
	r := gin.New()
	r.Use(gin.RecoveryWithWriter(io.Discard))
	r.POST("/pay", Idempotency(client, time.Hour, testLogger), func(c *gin.Context) {
		if calls.Add(1) == 1 {
			panic("handler blew up")
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	first := post(r, "crash")
	assert.Equal(t, http.StatusInternalServerError, first.Code)
	assert.False(t, mr.Exists(idempotencyPrefix+"crash"))

	second := post(r, "crash")
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, int32(2), calls.Load())
}
