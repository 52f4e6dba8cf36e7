package core

import (
	"context"
	"strings"

	"ariabot/internal/storage"
	"ariabot/internal/transport"
)

// route drains the adapter's update channel and fans messages into the
// aggregators. It is the only consumer of a.updates.
func (a *App) route(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-a.updates:
			if !ok {
				return
			}
			a.handleUpdate(ctx, u)
		}
	}
}

func (a *App) handleUpdate(ctx context.Context, u transport.Update) {
	switch u.Kind {
	case transport.UpdateTyping:
		// Typing only ever extends a live buffer; it never opens one.
		if u.Typing != nil && u.Typing.FromID != 0 {
			a.textAgg.OnTyping(u.Typing.FromID)
		}
	case transport.UpdateMessage:
		if u.Message != nil {
			a.handleMessage(ctx, u.Message)
		}
	}
}

func (a *App) handleMessage(ctx context.Context, m *transport.Message) {
	if m.FromID == 0 {
		return
	}

	// The bot's own sends enter history so generation sees them, but they
	// never feed the aggregators.
	if m.Outgoing {
		if text := strings.TrimSpace(m.Text); text != "" {
			err := a.store.AppendTurn(ctx, storage.ConversationTurn{
				UserID: m.ChatID,
				Role:   storage.RoleAssistant,
				Text:   text,
			})
			if err != nil {
				a.log.Warn("outgoing history append failed", "chat", m.ChatID, "err", err)
			}
		}
		return
	}

	// Group chatter is out of scope; the assistant only converses 1:1.
	if !m.Private {
		return
	}

	// Anyone who talks to the bot becomes a broadcast recipient.
	err := a.store.UpsertSubscription(ctx, storage.Subscription{
		UserID:   m.FromID,
		Username: m.FromUsername,
	})
	if err != nil {
		a.log.Warn("subscription upsert failed", "user", m.FromID, "err", err)
	}

	switch {
	case m.Media != nil:
		a.mediaAgg.OnMedia(m)
	case strings.TrimSpace(m.Text) != "":
		a.textAgg.OnText(m)
	}
}
