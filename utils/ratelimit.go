package utils

import (
	"context"
	"sync"
	"time"
)

// RateLimiter ограничивает число запросов на ключ в скользящем окне
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	now      func() time.Time
}

// LimitState описывает состояние лимита после проверки
type LimitState struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// NewRateLimiter создает новый RateLimiter
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

// Take учитывает запрос и возвращает состояние лимита для ключа
func (rl *RateLimiter) Take(key string) LimitState {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	valid := rl.prune(key, now)

	state := LimitState{Limit: rl.limit}
	if len(valid) < rl.limit {
		valid = append(valid, now)
		rl.requests[key] = valid
		state.Allowed = true
	}

	state.Remaining = rl.limit - len(valid)
	if state.Remaining < 0 {
		state.Remaining = 0
	}
	state.Reset = now
	if len(valid) > 0 {
		state.Reset = valid[0].Add(rl.window)
	}
	return state
}

// Allow проверяет, разрешен ли запрос
func (rl *RateLimiter) Allow(key string) bool {
	return rl.Take(key).Allowed
}

// Reset сбрасывает счетчик для ключа
func (rl *RateLimiter) Reset(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.requests, key)
}

// Sweep удаляет ключи без запросов в текущем окне
func (rl *RateLimiter) Sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key := range rl.requests {
		if len(rl.prune(key, now)) == 0 {
			delete(rl.requests, key)
		}
	}
}

// RunSweeper периодически вызывает Sweep до отмены ctx
func (rl *RateLimiter) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Sweep()
		}
	}
}

// prune оставляет только запросы внутри окна; вызывается под mu
func (rl *RateLimiter) prune(key string, now time.Time) []time.Time {
	windowStart := now.Add(-rl.window)
	requests := rl.requests[key]
	i := 0
	for i < len(requests) && !requests[i].After(windowStart) {
		i++
	}
	valid := requests[i:]
	rl.requests[key] = valid
	return valid
}
