package database

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	defaultBaseBackoff = time.Second
	defaultMaxBackoff  = 30 * time.Second
	pingTimeout        = 5 * time.Second
)

// Supervisor периодически проверяет соединение с базой и хранит признак
// доступности. После сбоя проверки идут с экспоненциальной паузой.
type Supervisor struct {
	ping        func(ctx context.Context) error
	interval    time.Duration
	baseBackoff time.Duration
	maxBackoff  time.Duration
	logger      *zap.Logger

	healthy atomic.Bool
	done    chan struct{}
}

// NewSupervisor создает наблюдателя за подключением
func NewSupervisor(db *Database, interval time.Duration, logger *zap.Logger) *Supervisor {
	return newSupervisor(db.Ping, interval, defaultBaseBackoff, defaultMaxBackoff, logger)
}

func newSupervisor(ping func(ctx context.Context) error, interval, base, limit time.Duration, logger *zap.Logger) *Supervisor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Supervisor{
		ping:        ping,
		interval:    interval,
		baseBackoff: base,
		maxBackoff:  limit,
		logger:      logger,
		done:        make(chan struct{}),
	}
	// Start вызывается после успешного Connect
	s.healthy.Store(true)
	return s
}

// Healthy сообщает, прошла ли последняя проверка
func (s *Supervisor) Healthy() bool {
	return s.healthy.Load()
}

// Start запускает проверки в фоне до отмены ctx
func (s *Supervisor) Start(ctx context.Context) {
	go s.run(ctx)
}

// Done закрывается после остановки фоновой горутины
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

func (s *Supervisor) run(ctx context.Context) {
	defer close(s.done)

	backoff := s.baseBackoff
	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err := s.ping(pingCtx)
		cancel()

		if err == nil {
			if !s.healthy.Swap(true) {
				s.logger.Info("database connection restored")
			}
			backoff = s.baseBackoff
			timer.Reset(s.interval)
			continue
		}

		if s.healthy.Swap(false) {
			s.logger.Error("database connection lost", zap.Error(err))
		} else {
			s.logger.Warn("database still unavailable", zap.Duration("retry_in", backoff), zap.Error(err))
		}
		timer.Reset(backoff)
		backoff = nextBackoff(backoff, s.maxBackoff)
	}
}

func nextBackoff(current, limit time.Duration) time.Duration {
	next := current * 2
	if next > limit || next <= 0 {
		return limit
	}
	return next
}
