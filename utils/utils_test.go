package utils

import (
	"context"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHMACHex(t *testing.T) {
	key := []byte("secret")
	sig := SignHMACHex(key, "order_1|pay_1")

	assert.Len(t, sig, 64)
	assert.Equal(t, sig, SignHMACHex(key, "order_1|pay_1"))
	assert.True(t, VerifyHMACHex(key, "order_1|pay_1", sig))
	assert.False(t, VerifyHMACHex(key, "order_1|pay_1", strings.ToUpper(sig)))
	assert.False(t, VerifyHMACHex(key, "order_1|pay_2", sig))
	assert.False(t, VerifyHMACHex([]byte("other"), "order_1|pay_1", sig))
	assert.False(t, VerifyHMACHex(key, "order_1|pay_1", "not-hex"))
}

func TestGenerateSecureToken(t *testing.T) {
	a, err := GenerateSecureToken(16)
	require.NoError(t, err)
	b, err := GenerateSecureToken(16)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	first := rl.Take("1.2.3.4")
	assert.True(t, first.Allowed)
	assert.Equal(t, 1, first.Remaining)

	assert.True(t, rl.Allow("1.2.3.4"))
	blocked := rl.Take("1.2.3.4")
	assert.False(t, blocked.Allowed)
	assert.Equal(t, 0, blocked.Remaining)
	assert.Equal(t, now.Add(time.Minute), blocked.Reset)

	assert.True(t, rl.Allow("5.6.7.8"))

	now = now.Add(61 * time.Second)
	assert.True(t, rl.Allow("1.2.3.4"))

	now = now.Add(2 * time.Minute)
	rl.Sweep()
	rl.mu.Lock()
	assert.Empty(t, rl.requests)
	rl.mu.Unlock()
}

func TestRateLimiterRunSweeper(t *testing.T) {
	rl := NewRateLimiter(5, time.Minute)
	var mu sync.Mutex
	now := time.Now()
	rl.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	for i := 0; i < 3; i++ {
		rl.Allow(fmt.Sprintf("10.0.0.%d", i))
	}
	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rl.RunSweeper(ctx, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		rl.mu.Lock()
		defer rl.mu.Unlock()
		return len(rl.requests) == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}

func TestLoggerContext(t *testing.T) {
	assert.Equal(t, zap.L(), LoggerFromContext(context.Background()))

	l := zap.NewNop()
	ctx := ContextWithLogger(context.Background(), l)
	assert.Same(t, l, LoggerFromContext(ctx))
	assert.Equal(t, ctx, ContextWithLogger(ctx, nil))
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()
	m.RecordVerification("completed")
	m.RecordSideEffectFailure("receipt")
	m.RecordRequest("GET", 200, 10*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `payment_verifications_total{outcome="completed"} 1`)
	assert.Contains(t, string(body), `side_effect_failures_total{task="receipt"} 1`)

	var nilMetrics *Metrics
	assert.NotPanics(t, func() { nilMetrics.RecordOrder("opened") })
}
