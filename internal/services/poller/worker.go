package poller

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"
)

func (s *Service) enqueue(t task) {
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()
	if q == nil {
		return
	}
	select {
	case q <- t:
	default:
		s.log.Warn("poll queue full, dropping tick", slog.String("task", t.name), slog.Int("queue_cap", cap(q)))
	}
}

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan task) {
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case t := <-queue:
			s.execOne(ctx, t)
		}
	}
}

func (s *Service) execOne(ctx context.Context, t task) {
	// Skip the tick if the previous run of the same definition is still
	// going; poll loops must never overlap themselves.
	if t.state != nil {
		t.state.mu.Lock()
		if t.state.running {
			t.state.mu.Unlock()
			s.log.Debug("tick skipped, previous run still active", slog.String("task", t.name))
			return
		}
		t.state.running = true
		t.state.mu.Unlock()
		defer func() {
			t.state.mu.Lock()
			t.state.running = false
			t.state.mu.Unlock()
		}()
	}

	start := time.Now()
	runCtx := ctx
	var cancel context.CancelFunc
	if t.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, t.timeout)
	}

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic in poll task", slog.String("task", t.name), slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			}
		}()
		return t.run(runCtx)
	}()
	if cancel != nil {
		cancel()
	}

	dur := time.Since(start)
	item := HistoryItem{ID: t.id, Name: t.name, Started: start, Duration: dur}
	if err != nil {
		item.Error = err.Error()
		s.log.Warn("poll task failed", slog.String("task", t.name), slog.Any("err", err), slog.Duration("dur", dur))
	} else if dur >= 750*time.Millisecond {
		s.log.Info("poll task completed", slog.String("task", t.name), slog.Duration("dur", dur))
	} else {
		s.log.Debug("poll task completed", slog.String("task", t.name), slog.Duration("dur", dur))
	}

	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, item)
	historySize := s.cfg.HistorySize
	// A zero/negative history_size would otherwise grow without bound on a
	// long-running bot.
	if historySize <= 0 {
		historySize = 200
	}
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
}
