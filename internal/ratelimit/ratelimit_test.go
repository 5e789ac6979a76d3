package ratelimit_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ashita-ai/kaiun/internal/model"
	"github.com/ashita-ai/kaiun/internal/ratelimit"
	"github.com/ashita-ai/kaiun/internal/testutil"
)

// testRedis is nil when Docker is unavailable; Redis tests skip.
var testRedis *redis.Client

func TestMain(m *testing.M) {
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ratelimit: redis container unavailable, skipping redis tests: %v\n", err)
		os.Exit(m.Run())
	}

	host, hostErr := container.Host(ctx)
	port, portErr := container.MappedPort(ctx, "6379")
	if hostErr == nil && portErr == nil {
		testRedis = redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
		if err := testRedis.Ping(ctx).Err(); err != nil {
			fmt.Fprintf(os.Stderr, "ratelimit: ping redis: %v\n", err)
			testRedis = nil
		}
	}

	code := m.Run()
	if testRedis != nil {
		_ = testRedis.Close()
	}
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func requireRedis(t *testing.T) {
	t.Helper()
	if testRedis == nil {
		t.Skip("redis not available")
	}
}

func TestRedisLimiter_Window(t *testing.T) {
	requireRedis(t)
	prefix := fmt.Sprintf("test-%d", time.Now().UnixNano())
	l := ratelimit.NewRedisLimiter(testRedis, prefix, 3, time.Minute)
	t.Cleanup(func() { require.NoError(t, l.Close()) })

	assert.Equal(t, 3, allowN(t, l, "10.0.0.1", 5))
	assert.Equal(t, 3, allowN(t, l, "10.0.0.2", 3))
}

func TestRedisLimiter_WindowExpires(t *testing.T) {
	requireRedis(t)
	prefix := fmt.Sprintf("test-expire-%d", time.Now().UnixNano())
	l := ratelimit.NewRedisLimiter(testRedis, prefix, 1, 300*time.Millisecond)

	assert.Equal(t, 1, allowN(t, l, "k", 2))
	require.Eventually(t, func() bool {
		ok, err := l.Allow(context.Background(), "k")
		return err == nil && ok
	}, 2*time.Second, 50*time.Millisecond)

	// Close leaves a caller-owned client open.
	require.NoError(t, l.Close())
	assert.NoError(t, testRedis.Ping(context.Background()).Err())
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("connection refused")
}
func (brokenLimiter) Close() error { return nil }

func TestMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	reqID := func(*http.Request) string { return "req-1" }

	m, _ := newMemory(t, 1, 1)
	h := ratelimit.Middleware(m, ratelimit.IPKeyFunc, reqID, testutil.TestLogger())(ok)

	serve := func(h http.Handler, addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/rpc", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, serve(h, "10.0.0.1:5000").Code)
	rec := serve(h, "10.0.0.1:5001")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	var body model.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, model.ErrCodeRateLimited, body.Error.Code)
	assert.Equal(t, "req-1", body.Meta.RequestID)

	assert.Equal(t, http.StatusNoContent, serve(h, "10.0.0.2:5000").Code)

	failOpen := ratelimit.Middleware(brokenLimiter{}, ratelimit.IPKeyFunc, reqID, testutil.TestLogger())(ok)
	assert.Equal(t, http.StatusNoContent, serve(failOpen, "10.0.0.1:5000").Code)

	skip := ratelimit.Middleware(brokenLimiter{}, func(*http.Request) string { return "" }, reqID, testutil.TestLogger())(ok)
	assert.Equal(t, http.StatusNoContent, serve(skip, "10.0.0.1:5000").Code)
}

func TestIPKeyFunc(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[2001:db8::1]:443"
	assert.Equal(t, "2001:db8::1", ratelimit.IPKeyFunc(req))
	req.RemoteAddr = "unix"
	assert.Equal(t, "unix", ratelimit.IPKeyFunc(req))
}
