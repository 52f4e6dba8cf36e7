package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"ariabot/internal/services/aggregate"
	"ariabot/internal/storage"
	"ariabot/internal/transport"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeAdapter struct {
	sent      []string
	reacted   []string
	failSends bool
}

func (f *fakeAdapter) Start(context.Context, chan<- transport.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                           { return nil }
func (f *fakeAdapter) SendTyping(context.Context, transport.ChatTarget) error {
	return nil
}

func (f *fakeAdapter) SendText(_ context.Context, _ transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	if f.failSends {
		return transport.MessageRef{}, errors.New("network down")
	}
	f.sent = append(f.sent, text)
	return transport.MessageRef{MessageID: 100 + len(f.sent)}, nil
}

func (f *fakeAdapter) SendReaction(_ context.Context, _ transport.MessageRef, emoji string) error {
	f.reacted = append(f.reacted, emoji)
	return nil
}

type fakeGen struct {
	reply string
	err   error
	react string
	calls int
	seen  Request
}

func (g *fakeGen) Generate(_ context.Context, req Request) (string, error) {
	g.calls++
	g.seen = req
	if g.react != "" && req.OnReaction != nil {
		_ = req.OnReaction(g.react)
	}
	return g.reply, g.err
}

type fakeFAQ struct{ answer string }

func (f *fakeFAQ) Match(_ context.Context, q string) (string, bool, error) {
	if f.answer == "" {
		return "", false, nil
	}
	return f.answer, true, nil
}

type fakeQueue struct{ scheduled []string }

func (q *fakeQueue) Schedule(_ context.Context, _ int64, msg string, _ transport.MessageRef, _ time.Time) error {
	q.scheduled = append(q.scheduled, msg)
	return nil
}

func newService(ad *fakeAdapter, gen Generator, st storage.Store) *Service {
	return New(Config{}, ad, st, gen, discardLogger())
}

func userTurns(t *testing.T, st storage.Store, user int64) []storage.ConversationTurn {
	t.Helper()
	turns, err := st.RecentTurns(context.Background(), user, 50)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	return turns
}

func TestTextReplyFlow(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	gen := &fakeGen{reply: "hello back"}
	st := storage.NewMemory()
	s := newService(ad, gen, st)

	s.HandleText(context.Background(), aggregate.TextFlush{
		UserID: 7, Content: "hi\nhow are you",
		Ref: transport.MessageRef{ChatID: 7, MessageID: 11},
	})

	if len(ad.sent) != 1 || ad.sent[0] != "hello back" {
		t.Fatalf("sent = %v", ad.sent)
	}
	turns := userTurns(t, st, 7)
	if len(turns) != 2 {
		t.Fatalf("expected user+assistant turns, got %d", len(turns))
	}
	if turns[0].Role != storage.RoleUser || turns[0].Text != "hi\nhow are you" {
		t.Fatalf("user turn: %+v", turns[0])
	}
	if turns[1].Role != storage.RoleAssistant || turns[1].Text != "hello back" {
		t.Fatalf("assistant turn: %+v", turns[1])
	}
}

func TestReactionOnlyRecordsSentinel(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	gen := &fakeGen{react: "👍"}
	st := storage.NewMemory()
	s := newService(ad, gen, st)

	s.HandleText(context.Background(), aggregate.TextFlush{UserID: 1, Content: "thanks!"})

	if len(ad.sent) != 0 {
		t.Fatalf("unexpected text send: %v", ad.sent)
	}
	if len(ad.reacted) != 1 {
		t.Fatalf("expected one reaction, got %v", ad.reacted)
	}
	turns := userTurns(t, st, 1)
	if len(turns) != 2 || turns[1].Text != "[reaction sent]" {
		t.Fatalf("sentinel missing: %+v", turns)
	}
}

func TestGenerationFailureIsSwallowed(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	gen := &fakeGen{err: errors.New("model unavailable")}
	st := storage.NewMemory()
	s := newService(ad, gen, st)

	s.HandleText(context.Background(), aggregate.TextFlush{UserID: 1, Content: "hi"})

	if len(ad.sent) != 0 {
		t.Fatalf("reply sent despite failure: %v", ad.sent)
	}
	// the user turn still enters history
	turns := userTurns(t, st, 1)
	if len(turns) != 1 || turns[0].Role != storage.RoleUser {
		t.Fatalf("user turn lost: %+v", turns)
	}
}

func TestSendFailureSkipsAssistantTurn(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{failSends: true}
	gen := &fakeGen{reply: "hello"}
	st := storage.NewMemory()
	s := newService(ad, gen, st)

	s.HandleText(context.Background(), aggregate.TextFlush{UserID: 1, Content: "hi"})

	turns := userTurns(t, st, 1)
	if len(turns) != 1 {
		t.Fatalf("assistant turn recorded for a failed send: %+v", turns)
	}
}

func TestFAQShortCircuit(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	gen := &fakeGen{reply: "should not run"}
	st := storage.NewMemory()
	s := newService(ad, gen, st)
	s.SetFAQ(&fakeFAQ{answer: "office hours are 9-5"})

	s.HandleText(context.Background(), aggregate.TextFlush{UserID: 1, Content: "when are you open?"})

	if gen.calls != 0 {
		t.Fatal("generator invoked despite FAQ match")
	}
	if len(ad.sent) != 1 || ad.sent[0] != "office hours are 9-5" {
		t.Fatalf("sent = %v", ad.sent)
	}
}

func TestDelayedDeliveryGoesThroughQueue(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	gen := &fakeGen{reply: "later"}
	st := storage.NewMemory()
	s := New(Config{DeliveryDelay: 5 * time.Second}, ad, st, gen, discardLogger())
	q := &fakeQueue{}
	s.SetScheduler(q)

	s.HandleText(context.Background(), aggregate.TextFlush{UserID: 1, Content: "hi"})

	if len(ad.sent) != 0 {
		t.Fatalf("direct send used despite delivery delay: %v", ad.sent)
	}
	if len(q.scheduled) != 1 || q.scheduled[0] != "later" {
		t.Fatalf("scheduled = %v", q.scheduled)
	}
	// queued replies still count as delivered for history
	turns := userTurns(t, st, 1)
	if len(turns) != 2 {
		t.Fatalf("turns = %+v", turns)
	}
}

func TestMediaFlowPassesAttachments(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	gen := &fakeGen{reply: "nice photos"}
	st := storage.NewMemory()
	s := newService(ad, gen, st)

	s.HandleMedia(context.Background(), aggregate.MediaFlush{
		UserID: 3,
		Items: []transport.MediaItem{
			{Kind: transport.MediaPhoto, FileID: "p1", Caption: "look at this"},
			{Kind: transport.MediaDocument, FileID: "d1", PageCount: 3},
		},
		Ref: transport.MessageRef{ChatID: 3, MessageID: 9},
	})

	want := []string{"p1", "d1#page=1", "d1#page=2", "d1#page=3"}
	if len(gen.seen.Attachments) != len(want) {
		t.Fatalf("attachments = %v, want %v", gen.seen.Attachments, want)
	}
	for i := range want {
		if gen.seen.Attachments[i] != want[i] {
			t.Fatalf("attachments = %v, want %v", gen.seen.Attachments, want)
		}
	}
	turns := userTurns(t, st, 3)
	if turns[0].Text != "look at this" {
		t.Fatalf("caption text = %q", turns[0].Text)
	}
}

func TestExpandAttachmentsCapsPages(t *testing.T) {
	t.Parallel()
	items := []transport.MediaItem{
		{Kind: transport.MediaDocument, FileID: "big", PageCount: 50},
	}
	refs := ExpandAttachments(items, 10)
	if len(refs) != 10 {
		t.Fatalf("expected page cap of 10, got %d", len(refs))
	}
	if refs[9] != "big#page=10" {
		t.Fatalf("last ref = %q", refs[9])
	}

	single := ExpandAttachments([]transport.MediaItem{{Kind: transport.MediaDocument, FileID: "one", PageCount: 1}}, 10)
	if len(single) != 1 || single[0] != "one" {
		t.Fatalf("single-page doc should not expand: %v", single)
	}
}
