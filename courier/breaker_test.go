package courier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type netError struct{ msg string }

func (e *netError) Error() string   { return e.msg }
func (e *netError) Timeout() bool   { return false }
func (e *netError) Temporary() bool { return false }

func TestDefaultBreakerConfig(t *testing.T) {
	cfg := DefaultBreakerConfig()

	assert.Equal(t, uint32(1), cfg.MaxRequests)
	assert.Equal(t, 10*time.Second, cfg.Interval)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, uint32(20), cfg.FailureThreshold)
	assert.InEpsilon(t, 0.5, cfg.FailureRatio, 0.001)
	assert.Equal(t, uint32(5), cfg.ConsecutiveFailures)
	assert.Nil(t, cfg.Store)

	t.Run("given a redis store, then the distributed config carries it", func(t *testing.T) {
		mr := miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer rdb.Close()

		store := NewRedisStore(rdb)
		distCfg := DistributedBreakerConfig(store)

		assert.Equal(t, store, distCfg.Store)
		assert.Equal(t, 10*time.Second, distCfg.Interval)
	})
}

func TestDefaultBreakerClassifier(t *testing.T) {
	tests := []struct {
		name string
		resp *http.Response
		err  error
		want bool
	}{
		{name: "given network error, then failure", err: &netError{msg: "reset"}, want: true},
		{name: "given plain error, then not a failure", err: errors.New("decode"), want: false},
		{name: "given caller cancellation, then not a failure", err: fmt.Errorf("get: %w", context.Canceled), want: false},
		{name: "given refused connection, then failure", err: syscall.ECONNREFUSED, want: true},
		{name: "given 500, then failure", resp: &http.Response{StatusCode: http.StatusInternalServerError}, want: true},
		{name: "given 503, then failure", resp: &http.Response{StatusCode: http.StatusServiceUnavailable}, want: true},
		{name: "given 404, then not a failure", resp: &http.Response{StatusCode: http.StatusNotFound}, want: false},
		{name: "given 200, then not a failure", resp: &http.Response{StatusCode: http.StatusOK}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultBreakerClassifier(tt.resp, tt.err))
		})
	}
}

func breakerFor(consecutive uint32) BreakerConfig {
	cfg := DefaultBreakerConfig()
	cfg.ConsecutiveFailures = consecutive
	cfg.Timeout = time.Minute
	return cfg
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	mock := NewMockTransport().StubResponse(http.StatusInternalServerError, "down")

	var (
		mu          sync.Mutex
		transitions []gobreaker.State
	)
	bc := breakerFor(3)
	bc.OnStateChange = func(_ string, _, to gobreaker.State) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, to)
	}
	e := newTestEngine(t, WithMockTransport(mock), WithBreaker(bc), WithServiceName("inventory"))

	for range 3 {
		env := Execute(context.Background(), e, Get("https://api.example.com"), textPipeline())
		require.Equal(t, KindHTTPStatus, env.Error.Kind)
		require.Equal(t, http.StatusInternalServerError, env.Error.StatusCode)
	}

	env := Execute(context.Background(), e, Get("https://api.example.com"), textPipeline())

	assert.Equal(t, KindConnectFailure, env.Error.Kind)
	assert.ErrorIs(t, env.Error, gobreaker.ErrOpenState)
	assert.Equal(t, 3, mock.RequestCount())
	assert.Equal(t, 1, env.Attempts)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []gobreaker.State{gobreaker.StateOpen}, transitions)
}

func TestBreaker_IgnoresClientErrors(t *testing.T) {
	mock := NewMockTransport().StubResponse(http.StatusNotFound, "")
	e := newTestEngine(t, WithMockTransport(mock), WithBreaker(breakerFor(2)))

	for range 5 {
		env := Execute(context.Background(), e, Get("https://api.example.com"), textPipeline())
		assert.Equal(t, KindHTTPStatus, env.Error.Kind)
	}
	assert.Equal(t, 5, mock.RequestCount())
}

func TestBreaker_Distributed(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	mock := NewMockTransport().StubResponse(http.StatusBadGateway, "")
	bc := DistributedBreakerConfig(NewRedisStore(rdb))
	bc.ConsecutiveFailures = 2
	bc.Timeout = time.Minute

	first := newTestEngine(t, WithMockTransport(mock), WithBreaker(bc), WithServiceName("shared"))
	second := newTestEngine(t, WithMockTransport(mock), WithBreaker(bc), WithServiceName("shared"))

	for range 2 {
		env := Execute(context.Background(), first, Get("https://api.example.com"), textPipeline())
		require.Equal(t, KindHTTPStatus, env.Error.Kind)
	}

	env := Execute(context.Background(), second, Get("https://api.example.com"), textPipeline())

	assert.Equal(t, KindConnectFailure, env.Error.Kind)
	assert.ErrorIs(t, env.Error, gobreaker.ErrOpenState)
	assert.Equal(t, 2, mock.RequestCount())
}
