package dispatch

import (
	"context"
	"time"

	"ariabot/internal/storage"
)

// Generator produces a reply for a user turn. An empty string with a nil
// error means "no textual reply" (the generator may have elected to react
// via OnReaction instead).
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Request is the generation input. History is oldest-first and already
// includes past assistant turns; the current aggregate is in Text and
// Attachments.
type Request struct {
	UserID      int64
	Text        string
	History     []storage.ConversationTurn
	Attachments []string
	Privileged  bool
	// OnReaction lets the generator send an emoji reaction to the message
	// being answered. May be called at most once; may be nil.
	OnReaction func(emoji string) error
}

// FAQMatcher short-circuits generation with a canned answer.
// ok=false means no match; errors are treated as no match.
type FAQMatcher interface {
	Match(ctx context.Context, question string) (answer string, ok bool, err error)
}

type Config struct {
	// HistoryLimit bounds the turns loaded for generation context.
	HistoryLimit int
	// GenTimeout bounds a single generation call so a stuck call cannot
	// starve the pipeline.
	GenTimeout time.Duration
	// DeliveryDelay > 0 routes replies through the pending-response queue,
	// scheduled this far in the future, instead of sending immediately.
	DeliveryDelay time.Duration
	// PrivilegedUserIDs are passed through to the generator as-is.
	PrivilegedUserIDs []int64
	// MaxDocumentPages caps per-page expansion of paginated documents.
	MaxDocumentPages int
}

func (c Config) withDefaults() Config {
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 30
	}
	if c.GenTimeout <= 0 {
		c.GenTimeout = 60 * time.Second
	}
	if c.MaxDocumentPages <= 0 {
		c.MaxDocumentPages = 10
	}
	return c
}
