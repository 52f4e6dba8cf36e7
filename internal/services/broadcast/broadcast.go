// Package broadcast drains the persistent broadcast queue. Each poll picks
// up at most one PENDING job, resolves the active subscriber set, and fans
// the message out at a bounded rate. Progress and the failed-recipient list
// land back in the job row, so a job survives inspection after the fact.
package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"ariabot/internal/services/poller"
	"ariabot/internal/storage"
	"ariabot/internal/transport"
)

type Config struct {
	PollInterval time.Duration
	// RatePerSec caps the outbound send rate across one job.
	RatePerSec int
	RetryMax   int
	// JobTimeout bounds a single job, recipients included.
	JobTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 5
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 10 * time.Minute
	}
	return c
}

type Service struct {
	cfg     Config
	store   storage.Store
	adapter transport.Adapter
	log     *slog.Logger
	limiter *rate.Limiter
}

func New(cfg Config, store storage.Store, adapter transport.Adapter, log *slog.Logger) *Service {
	cfg = cfg.withDefaults()
	return &Service{
		cfg:     cfg,
		store:   store,
		adapter: adapter,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

// Register attaches the poll loop to the shared poll runner.
func (s *Service) Register(p *poller.Service) error {
	_, err := p.AddInterval("broadcast.poll", s.cfg.PollInterval, s.cfg.JobTimeout, s.Poll)
	return err
}

// RecoverStale fails jobs left in PROCESSING by an earlier crash. Runs once
// at startup; a half-sent job is never silently resumed because there is no
// record of which recipients already got the message.
func (s *Service) RecoverStale(ctx context.Context) error {
	n, err := s.store.FailStaleBroadcasts(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.Warn("stale broadcast jobs failed at startup", slog.Int("count", n))
	}
	return nil
}

// Poll claims and runs the oldest pending job, if any.
func (s *Service) Poll(ctx context.Context) error {
	j, err := s.store.NextPendingBroadcast(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.store.MarkBroadcastProcessing(ctx, j.ID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// someone else already claimed it
			return nil
		}
		return err
	}
	s.run(ctx, j)
	return nil
}

func (s *Service) run(ctx context.Context, j storage.BroadcastJob) {
	start := time.Now()

	recipients, err := s.store.ActiveSubscriberIDs(ctx, time.Now())
	if err != nil {
		s.log.Error("could not resolve recipients", slog.String("job", j.ID), slog.Any("err", err))
		if ferr := s.store.FailBroadcast(ctx, j.ID, "recipient lookup: "+err.Error()); ferr != nil {
			s.log.Error("could not mark job failed", slog.String("job", j.ID), slog.Any("err", ferr))
		}
		return
	}

	s.log.Info("broadcast job started", slog.String("job", j.ID), slog.Int("recipients", len(recipients)))

	var sent int
	var failed []int64
	for _, uid := range recipients {
		if ctx.Err() != nil {
			failed = append(failed, recipients[sent+len(failed):]...)
			break
		}
		if err := s.sendOne(ctx, j.ID, uid, j.Message); err != nil {
			failed = append(failed, uid)
			continue
		}
		sent++
	}

	// Finalize even when the run context was canceled mid-job; the row must
	// not stay PROCESSING until the next restart.
	if err := s.store.CompleteBroadcast(context.WithoutCancel(ctx), j.ID, sent, len(failed), failed); err != nil {
		s.log.Error("could not finalize job", slog.String("job", j.ID), slog.Any("err", err))
		return
	}

	fields := []any{
		slog.String("job", j.ID),
		slog.Int("sent", sent),
		slog.Int("failed", len(failed)),
		slog.Duration("dur", time.Since(start)),
	}
	if len(failed) > 0 {
		s.log.Warn("broadcast job finished with failures", fields...)
	} else {
		s.log.Info("broadcast job finished", fields...)
	}
}

func (s *Service) sendOne(ctx context.Context, jobID string, userID int64, text string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	var last error
	for i := 0; i <= s.cfg.RetryMax; i++ {
		_, err := s.adapter.SendText(ctx, transport.ChatTarget{ChatID: userID}, text, nil)
		if err == nil {
			return nil
		}
		last = err
		if i == s.cfg.RetryMax {
			break
		}
		delay := time.Duration(200+100*i) * time.Millisecond
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			if !tmr.Stop() {
				<-tmr.C
			}
			return ctx.Err()
		case <-tmr.C:
		}
	}
	s.log.Warn("broadcast send failed", slog.String("job", jobID), slog.Int64("user", userID), slog.Any("err", last))
	return last
}
