// Package trigger turns time-of-day rows into broadcast jobs. A trigger is a
// recurring daily announcement: at its HH:MM, in the configured timezone, it
// enqueues its message for the broadcast worker and records the run.
//
// The once-per-day guard compares calendar dates in the trigger's timezone,
// not durations, so a restart right after firing does not double-send and a
// run at 23:59 does not block the next day's 00:01 trigger.
package trigger

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"ariabot/internal/services/poller"
	"ariabot/internal/storage"
)

type Config struct {
	PollInterval time.Duration
	PollTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Minute
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 30 * time.Second
	}
	return c
}

type Service struct {
	cfg   Config
	store storage.Store
	loc   *time.Location
	log   *slog.Logger

	now func() time.Time
}

func New(cfg Config, store storage.Store, loc *time.Location, log *slog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		cfg:   cfg.withDefaults(),
		store: store,
		loc:   loc,
		log:   log,
		now:   time.Now,
	}
}

// Register attaches the poll loop to the shared poll runner.
func (s *Service) Register(p *poller.Service) error {
	_, err := p.AddInterval("trigger.poll", s.cfg.PollInterval, s.cfg.PollTimeout, s.Poll)
	return err
}

// Poll fires every active trigger whose time-of-day matches the current
// minute and that has not already run today.
func (s *Service) Poll(ctx context.Context) error {
	triggers, err := s.store.ActiveTriggers(ctx)
	if err != nil {
		return err
	}
	now := s.now().In(s.loc)

	for _, t := range triggers {
		h, m, err := poller.ParseHHMM(t.TimeOfDay)
		if err != nil {
			s.log.Warn("trigger has a bad time-of-day", slog.String("trigger", t.ID), slog.String("at", t.TimeOfDay))
			continue
		}
		if now.Hour() != h || now.Minute() != m {
			continue
		}
		if t.LastRunAt != nil && sameDate(t.LastRunAt.In(s.loc), now) {
			continue
		}
		s.fire(ctx, t, now)
	}
	return nil
}

func (s *Service) fire(ctx context.Context, t storage.ScheduledTrigger, now time.Time) {
	// Claim the day before enqueueing. With the insert first, a failed
	// MarkTriggerRun would leave the date guard open and the next poll in
	// the same minute would enqueue a duplicate job.
	if err := s.store.MarkTriggerRun(ctx, t.ID, now); err != nil {
		s.log.Error("could not claim trigger run", slog.String("trigger", t.ID), slog.Any("err", err))
		return
	}
	job := storage.BroadcastJob{
		ID:      uuid.NewString(),
		Message: t.Message,
	}
	if err := s.store.CreateBroadcastJob(ctx, job); err != nil {
		s.log.Error("could not enqueue trigger broadcast", slog.String("trigger", t.ID), slog.Any("err", err))
		// Roll the claim back so a later poll retries. A stale claim here
		// costs a missed day, never a duplicate send.
		prev := time.Time{}
		if t.LastRunAt != nil {
			prev = *t.LastRunAt
		}
		if rerr := s.store.MarkTriggerRun(ctx, t.ID, prev); rerr != nil {
			s.log.Error("could not release trigger claim", slog.String("trigger", t.ID), slog.Any("err", rerr))
		}
		return
	}
	s.log.Info("trigger fired", slog.String("trigger", t.ID), slog.String("at", t.TimeOfDay), slog.String("job", job.ID))
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
