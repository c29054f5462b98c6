package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/GuoMonth/trading-view/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisCache_MissThenHit(t *testing.T) {
	_, client := newTestRedis(t)

	calls := 0
	r := gin.New()
	r.Use(RedisCache(client, CacheConfig{Enabled: true, TTL: time.Minute, Prefix: "ohlc"}, zap.NewNop()))
	r.GET("/api/ohlc/:symbol", func(c *gin.Context) {
		calls++
		c.JSON(http.StatusOK, model.Success("call "+strconv.Itoa(calls)))
	})

	first := serve(r, httptest.NewRequest(http.MethodGet, "/api/ohlc/AAPL", nil))
	if first.Header().Get("X-Cache") != "MISS" {
		t.Errorf("first X-Cache = %q, want MISS", first.Header().Get("X-Cache"))
	}

	second := serve(r, httptest.NewRequest(http.MethodGet, "/api/ohlc/AAPL", nil))
	if second.Header().Get("X-Cache") != "HIT" {
		t.Errorf("second X-Cache = %q, want HIT", second.Header().Get("X-Cache"))
	}
	if second.Body.String() != first.Body.String() {
		t.Errorf("cached body %q differs from %q", second.Body.String(), first.Body.String())
	}
	if calls != 1 {
		t.Errorf("handler ran %d times, want 1", calls)
	}

	// a different query is a different entry
	other := serve(r, httptest.NewRequest(http.MethodGet, "/api/ohlc/AAPL?x=1", nil))
	if other.Header().Get("X-Cache") != "MISS" || calls != 2 {
		t.Errorf("query variant X-Cache = %q, calls = %d", other.Header().Get("X-Cache"), calls)
	}
}

func TestRedisCache_SkipsFailedResponses(t *testing.T) {
	mr, client := newTestRedis(t)

	calls := 0
	r := gin.New()
	r.Use(RedisCache(client, CacheConfig{Enabled: true, TTL: time.Minute, Prefix: "ohlc"}, zap.NewNop()))
	r.GET("/api/ohlc/:symbol/range", func(c *gin.Context) {
		calls++
		c.JSON(http.StatusBadRequest, model.Failure[string](model.CodeInvalidDateFormat))
	})

	for i := 0; i < 2; i++ {
		w := serve(r, httptest.NewRequest(http.MethodGet, "/api/ohlc/AAPL/range?start=bad", nil))
		if w.Code != http.StatusBadRequest || w.Header().Get("X-Cache") != "MISS" {
			t.Errorf("request %d: status = %d, X-Cache = %q", i, w.Code, w.Header().Get("X-Cache"))
		}
	}
	if calls != 2 {
		t.Errorf("handler ran %d times, want 2", calls)
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Errorf("failed response cached under %v", keys)
	}
}

func TestInvalidate_DropsOnlyPrefixedKeys(t *testing.T) {
	mr, client := newTestRedis(t)

	mr.Set("ohlc:a", "1")
	mr.Set("ohlc:b", "2")
	mr.Set("other:c", "3")

	if err := Invalidate(context.Background(), client, "ohlc"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	keys := mr.Keys()
	if len(keys) != 1 || keys[0] != "other:c" {
		t.Errorf("remaining keys = %v, want [other:c]", keys)
	}

	// nothing to drop is not an error
	if err := Invalidate(context.Background(), client, "ohlc"); err != nil {
		t.Errorf("second invalidate: %v", err)
	}
}

func TestRedisRateLimit_RejectsAfterLimit(t *testing.T) {
	_, client := newTestRedis(t)

	r := gin.New()
	r.GET("/", RedisRateLimit(client, 2, 1, zap.NewNop()), func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 3; i++ {
		w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, w.Code)
		}
		if got, want := w.Header().Get("X-RateLimit-Remaining"), strconv.Itoa(2-i); got != want {
			t.Errorf("request %d: remaining = %s, want %s", i, got, want)
		}
	}

	w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if resp := decodeEnvelope(t, w); resp.Code != model.CodeTooManyRequests {
		t.Errorf("code = %d, want %d", resp.Code, model.CodeTooManyRequests)
	}
	if w.Header().Get("X-RateLimit-Limit") != "3" || w.Header().Get("Retry-After") == "" {
		t.Errorf("headers = %v", w.Header())
	}
}
