package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"ariabot/internal/services/aggregate"
	"ariabot/internal/storage"
	"ariabot/internal/transport"
)

// reactionSentinel keeps conversation context consistent when the generator
// answered with an emoji reaction instead of text.
const reactionSentinel = "[reaction sent]"

// Scheduler hands a reply to the delayed-delivery queue.
type Scheduler interface {
	Schedule(ctx context.Context, userID int64, message string, replyTo transport.MessageRef, at time.Time) error
}

// Service turns a finalized aggregate into a reply: FAQ short-circuit,
// generation, send (direct or queued) and history bookkeeping. It implements
// aggregate.TextSink and aggregate.MediaSink.
//
// Every failure here is terminal for that one message: logged, swallowed,
// never allowed to crash an aggregator or poison another user's pipeline.
type Service struct {
	adapter transport.Adapter
	store   storage.Store
	gen     Generator
	log     *slog.Logger

	mu    sync.RWMutex
	cfg   Config
	faq   FAQMatcher // optional
	queue Scheduler  // optional, used when cfg.DeliveryDelay > 0
}

func New(cfg Config, adapter transport.Adapter, store storage.Store, gen Generator, log *slog.Logger) *Service {
	return &Service{
		cfg:     cfg.withDefaults(),
		adapter: adapter,
		store:   store,
		gen:     gen,
		log:     log,
	}
}

// SetFAQ installs the optional canned-answer matcher.
func (s *Service) SetFAQ(m FAQMatcher) {
	s.mu.Lock()
	s.faq = m
	s.mu.Unlock()
}

// SetScheduler installs the delayed-delivery queue.
func (s *Service) SetScheduler(q Scheduler) {
	s.mu.Lock()
	s.queue = q
	s.mu.Unlock()
}

// Apply swaps the tunables at runtime. In-flight handles keep the snapshot
// they started with.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

func (s *Service) config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *Service) HandleText(ctx context.Context, f aggregate.TextFlush) {
	s.handle(ctx, f.UserID, f.Content, nil, f.Ref)
}

func (s *Service) HandleMedia(ctx context.Context, f aggregate.MediaFlush) {
	refs := ExpandAttachments(f.Items, s.config().MaxDocumentPages)
	s.handle(ctx, f.UserID, captionText(f.Items), refs, f.Ref)
}

func (s *Service) handle(ctx context.Context, userID int64, text string, attachments []string, ref transport.MessageRef) {
	log := s.log.With(slog.Int64("user", userID))

	s.mu.RLock()
	cfg, faq := s.cfg, s.faq
	s.mu.RUnlock()

	// FAQ short-circuit: canned answer, no generation.
	if faq != nil && text != "" && len(attachments) == 0 {
		if answer, ok, err := faq.Match(ctx, text); err != nil {
			log.Warn("faq lookup failed", slog.Any("err", err))
		} else if ok {
			s.recordTurn(ctx, userID, storage.RoleUser, text, attachments)
			if s.deliver(ctx, userID, answer, ref) {
				s.recordTurn(ctx, userID, storage.RoleAssistant, answer, nil)
			}
			log.Debug("answered from faq")
			return
		}
	}

	history, err := s.store.RecentTurns(ctx, userID, cfg.HistoryLimit)
	if err != nil {
		log.Warn("history load failed, generating without context", slog.Any("err", err))
		history = nil
	}

	reacted := false
	req := Request{
		UserID:      userID,
		Text:        text,
		History:     history,
		Attachments: attachments,
		Privileged:  isPrivileged(cfg.PrivilegedUserIDs, userID),
		OnReaction: func(emoji string) error {
			err := s.adapter.SendReaction(ctx, ref, emoji)
			if err == nil {
				reacted = true
			}
			return err
		},
	}

	genCtx, cancel := context.WithTimeout(ctx, cfg.GenTimeout)
	reply, err := s.gen.Generate(genCtx, req)
	cancel()

	// The user turn enters history regardless of the outcome so later
	// generations see what was said.
	s.recordTurn(ctx, userID, storage.RoleUser, text, attachments)

	if err != nil {
		log.Error("generation failed, dropping reply", slog.Any("err", err))
		return
	}

	if strings.TrimSpace(reply) == "" {
		if reacted {
			s.recordTurn(ctx, userID, storage.RoleAssistant, reactionSentinel, nil)
			log.Debug("reaction-only reply")
		} else {
			log.Debug("generator returned nothing")
		}
		return
	}

	if s.deliver(ctx, userID, reply, ref) {
		s.recordTurn(ctx, userID, storage.RoleAssistant, reply, nil)
	}
}

// deliver sends the reply directly or parks it on the pending-response
// queue. Returns false only on a direct-send failure (queued replies are
// considered handed off).
func (s *Service) deliver(ctx context.Context, userID int64, text string, ref transport.MessageRef) bool {
	s.mu.RLock()
	delay, queue := s.cfg.DeliveryDelay, s.queue
	s.mu.RUnlock()

	if delay > 0 && queue != nil {
		at := time.Now().Add(delay)
		if err := queue.Schedule(ctx, userID, text, ref, at); err != nil {
			s.log.Error("reply scheduling failed", slog.Int64("user", userID), slog.Any("err", err))
			return false
		}
		return true
	}

	to := transport.ChatTarget{ChatID: ref.ChatID}
	if _, err := s.adapter.SendText(ctx, to, text, &transport.SendOptions{ReplyTo: &ref}); err != nil {
		s.log.Error("reply send failed", slog.Int64("user", userID), slog.Any("err", err))
		return false
	}
	return true
}

func (s *Service) recordTurn(ctx context.Context, userID int64, role storage.TurnRole, text string, attachments []string) {
	err := s.store.AppendTurn(ctx, storage.ConversationTurn{
		UserID:      userID,
		Role:        role,
		Text:        text,
		Attachments: attachments,
	})
	if err != nil {
		s.log.Warn("history append failed", slog.Int64("user", userID), slog.Any("err", err))
	}
}

func isPrivileged(ids []int64, userID int64) bool {
	for _, id := range ids {
		if id == userID {
			return true
		}
	}
	return false
}

// ExpandAttachments flattens album items into attachment references for the
// generator. A paginated document becomes one reference per page, capped at
// maxPages.
func ExpandAttachments(items []transport.MediaItem, maxPages int) []string {
	if maxPages <= 0 {
		maxPages = 10
	}
	var out []string
	for _, it := range items {
		if it.Kind == transport.MediaDocument && it.PageCount > 1 {
			pages := it.PageCount
			if pages > maxPages {
				pages = maxPages
			}
			for p := 1; p <= pages; p++ {
				out = append(out, fmt.Sprintf("%s#page=%d", it.FileID, p))
			}
			continue
		}
		out = append(out, it.FileID)
	}
	return out
}

// captionText joins per-item captions into the history text for an album.
func captionText(items []transport.MediaItem) string {
	var parts []string
	for _, it := range items {
		if c := strings.TrimSpace(it.Caption); c != "" {
			parts = append(parts, c)
		}
	}
	if len(parts) == 0 {
		return "[media]"
	}
	return strings.Join(parts, "\n")
}
