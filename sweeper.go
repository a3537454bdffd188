package convoflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Sweeper periodically runs the engine's expiry sweep so inactive
// sessions transition to TIMEOUT without any inbound traffic. One sweeper
// per engine is enough; the sweep itself is safe to run concurrently with
// message handling.
type Sweeper struct {
	engine   Engine
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewSweeper creates a Sweeper that calls eng.ExpireSessions every
// interval. interval <= 0 defaults to one minute.
func NewSweeper(eng Engine, interval time.Duration) *Sweeper {
	return NewSweeperWithLogger(eng, interval, nil)
}

// NewSweeperWithLogger is NewSweeper with an explicit logger.
func NewSweeperWithLogger(eng Engine, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		engine:   eng,
		interval: interval,
		logger:   logger,
	}
}

// Start launches the sweep loop. Calling Start on a running sweeper
// returns an error.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("convoflow: Sweeper already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			n, err := s.engine.ExpireSessions(ctx, time.Now())
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				s.logger.Error("expiry_sweep_failed", slog.Any("error", err))
				continue
			}
			if n > 0 {
				s.logger.Info("expiry_sweep", slog.Int("expired", n))
			}
		}
	}()

	return nil
}

// Stop cancels the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}
