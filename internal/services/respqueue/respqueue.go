// Package respqueue delivers pre-scheduled replies. A short poll walks the
// PENDING rows that are about to come due, shows a typing indicator a few
// seconds ahead of the send time, then sends and finalizes the row.
//
// The two-phase typing-then-send exists to make automated replies feel
// human without the caller scheduling two separate jobs.
package respqueue

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"ariabot/internal/services/poller"
	"ariabot/internal/storage"
	"ariabot/internal/transport"
)

type Config struct {
	// PollInterval is tight enough that a scheduled-for time is honored
	// within about a second.
	PollInterval time.Duration
	// PollTimeout bounds one whole poll run, backlog included.
	PollTimeout time.Duration
	// Lookahead bounds how far ahead a poll fetches rows.
	Lookahead time.Duration
	// TypingLead is how long before the send time the typing indicator
	// goes out.
	TypingLead  time.Duration
	SendTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 30 * time.Second
	}
	if c.Lookahead <= 0 {
		c.Lookahead = 5 * time.Second
	}
	if c.TypingLead <= 0 {
		c.TypingLead = 3 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	return c
}

type Service struct {
	cfg     Config
	store   storage.Store
	adapter transport.Adapter
	log     *slog.Logger

	now func() time.Time
}

func New(cfg Config, store storage.Store, adapter transport.Adapter, log *slog.Logger) *Service {
	return &Service{
		cfg:     cfg.withDefaults(),
		store:   store,
		adapter: adapter,
		log:     log,
		now:     time.Now,
	}
}

// Register attaches the poll loop to the shared poll runner.
func (s *Service) Register(p *poller.Service) error {
	_, err := p.AddInterval("respqueue.poll", s.cfg.PollInterval, s.cfg.PollTimeout, s.Poll)
	return err
}

// Schedule parks a reply for delivery at the given time. Implements the
// dispatcher's Scheduler.
func (s *Service) Schedule(ctx context.Context, userID int64, message string, replyTo transport.MessageRef, at time.Time) error {
	return s.store.CreatePendingResponse(ctx, storage.PendingResponse{
		ID:           uuid.NewString(),
		UserID:       userID,
		Message:      message,
		ReplyToID:    replyTo.MessageID,
		ScheduledFor: at,
	})
}

// Poll processes every row due within the lookahead window. Items are
// handled one at a time; a send outcome (ok or not) is terminal for the row.
func (s *Service) Poll(ctx context.Context) error {
	due, err := s.store.DuePendingResponses(ctx, s.now().Add(s.cfg.Lookahead))
	if err != nil {
		return err
	}

	for _, r := range due {
		diff := r.ScheduledFor.Sub(s.now())
		switch {
		case diff <= 0:
			s.send(ctx, r)
		case diff <= s.cfg.TypingLead && !r.TypingSent:
			s.typing(ctx, r)
		default:
			// not close enough yet; the next poll will see it again
		}
	}
	return nil
}

func (s *Service) send(ctx context.Context, r storage.PendingResponse) {
	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()

	opt := &transport.SendOptions{}
	if r.ReplyToID != 0 {
		opt.ReplyTo = &transport.MessageRef{ChatID: r.UserID, MessageID: r.ReplyToID}
	}
	_, err := s.adapter.SendText(sendCtx, transport.ChatTarget{ChatID: r.UserID}, r.Message, opt)
	if err != nil {
		s.log.Warn("scheduled send failed", slog.String("id", r.ID), slog.Int64("user", r.UserID), slog.Any("err", err))
		if merr := s.store.MarkResponseFailed(ctx, r.ID, err.Error()); merr != nil {
			s.log.Error("could not mark response failed", slog.String("id", r.ID), slog.Any("err", merr))
		}
		return
	}
	if err := s.store.MarkResponseSent(ctx, r.ID); err != nil {
		s.log.Error("could not mark response sent", slog.String("id", r.ID), slog.Any("err", err))
		return
	}
	s.log.Debug("scheduled reply sent", slog.String("id", r.ID), slog.Int64("user", r.UserID))
}

func (s *Service) typing(ctx context.Context, r storage.PendingResponse) {
	if err := s.adapter.SendTyping(ctx, transport.ChatTarget{ChatID: r.UserID}); err != nil {
		// flag stays unset so the next poll retries the indicator
		s.log.Debug("typing indicator failed", slog.String("id", r.ID), slog.Any("err", err))
		return
	}
	// Persist the flag before anything else can observe the row again; an
	// item must never receive a second indicator.
	if err := s.store.MarkTypingSent(ctx, r.ID); err != nil {
		s.log.Warn("could not persist typing flag", slog.String("id", r.ID), slog.Any("err", err))
	}
}
