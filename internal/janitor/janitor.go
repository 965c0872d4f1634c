// Package janitor periodically removes expired entries: rooms from stores
// without native TTL and idle per-device validators.
package janitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/immxrtalbeast/buzzer/lib/logger/sl"
)

const defaultInterval = 10 * time.Minute

type sweeper interface {
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

type Service struct {
	name     string
	target   sweeper
	interval time.Duration
	log      *slog.Logger
	now      func() time.Time

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func New(name string, target sweeper, interval time.Duration, log *slog.Logger) *Service {
	if interval <= 0 {
		interval = defaultInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		name:     name,
		target:   target,
		interval: interval,
		log:      log,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

func (s *Service) Start() {
	s.wg.Add(1)
	go s.run()
	s.log.Info("janitor started", slog.String("target", s.name), slog.Duration("interval", s.interval))
}

// Stop is safe to call more than once.
func (s *Service) Stop() {
	s.once.Do(func() {
		close(s.stop)
	})
	s.wg.Wait()
	s.log.Info("janitor stopped", slog.String("target", s.name))
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Sweep()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep runs one pass and returns how many entries it removed.
func (s *Service) Sweep() int {
	const op = "janitor.sweep"

	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	log := s.log.With(slog.String("op", op), slog.String("target", s.name))

	n, err := s.target.DeleteExpired(ctx, s.now().UTC())
	if err != nil {
		log.Error("sweep failed", sl.Err(err))
		return n
	}
	if n > 0 {
		log.Info("expired entries deleted", slog.Int("count", n))
	}
	return n
}
