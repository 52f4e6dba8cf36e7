package respqueue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"ariabot/internal/storage"
	"ariabot/internal/transport"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeAdapter struct {
	sent       []string
	replyRefs  []*transport.MessageRef
	typing     []int64
	failSends  bool
	failTyping bool
}

func (f *fakeAdapter) Start(context.Context, chan<- transport.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                           { return nil }

func (f *fakeAdapter) SendText(_ context.Context, _ transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if f.failSends {
		return transport.MessageRef{}, errors.New("network down")
	}
	f.sent = append(f.sent, text)
	if opt != nil {
		f.replyRefs = append(f.replyRefs, opt.ReplyTo)
	} else {
		f.replyRefs = append(f.replyRefs, nil)
	}
	return transport.MessageRef{MessageID: 100 + len(f.sent)}, nil
}

func (f *fakeAdapter) SendTyping(_ context.Context, to transport.ChatTarget) error {
	if f.failTyping {
		return errors.New("network down")
	}
	f.typing = append(f.typing, to.ChatID)
	return nil
}

func (f *fakeAdapter) SendReaction(context.Context, transport.MessageRef, string) error { return nil }

func newService(t *testing.T, ad *fakeAdapter) (*Service, storage.Store) {
	t.Helper()
	st := storage.NewMemory()
	t.Cleanup(func() { _ = st.Close() })
	return New(Config{}, st, ad, discardLogger()), st
}

func poll(t *testing.T, s *Service) {
	t.Helper()
	if err := s.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
}

func TestScheduleThenDueSend(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	s, st := newService(t, ad)
	ctx := context.Background()

	if err := s.Schedule(ctx, 7, "hello later", transport.MessageRef{ChatID: 7, MessageID: 42}, time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	poll(t, s)

	if len(ad.sent) != 1 || ad.sent[0] != "hello later" {
		t.Fatalf("sent = %v", ad.sent)
	}
	if ad.replyRefs[0] == nil || ad.replyRefs[0].MessageID != 42 {
		t.Fatalf("reply ref = %+v", ad.replyRefs[0])
	}

	// terminal; a second poll must not resend
	poll(t, s)
	if len(ad.sent) != 1 {
		t.Fatalf("resent after SENT: %v", ad.sent)
	}
	due, err := st.DuePendingResponses(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("DuePendingResponses: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("row still pending: %+v", due)
	}
}

func TestTypingLeadOnce(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	s, _ := newService(t, ad)
	ctx := context.Background()

	if err := s.Schedule(ctx, 9, "soon", transport.MessageRef{}, time.Now().Add(2*time.Second)); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	// inside the lead window but before the send time
	poll(t, s)
	poll(t, s)

	if len(ad.typing) != 1 || ad.typing[0] != 9 {
		t.Fatalf("typing = %v, want exactly one for user 9", ad.typing)
	}
	if len(ad.sent) != 0 {
		t.Fatalf("sent early: %v", ad.sent)
	}
}

func TestTypingFailureRetriesNextPoll(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{failTyping: true}
	s, _ := newService(t, ad)
	ctx := context.Background()

	if err := s.Schedule(ctx, 3, "soon", transport.MessageRef{}, time.Now().Add(2*time.Second)); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	poll(t, s)
	if len(ad.typing) != 0 {
		t.Fatalf("typing recorded despite failure: %v", ad.typing)
	}

	ad.failTyping = false
	poll(t, s)
	if len(ad.typing) != 1 {
		t.Fatalf("typing not retried: %v", ad.typing)
	}
}

func TestSendFailureMarksFailed(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{failSends: true}
	s, st := newService(t, ad)
	ctx := context.Background()

	if err := s.Schedule(ctx, 5, "doomed", transport.MessageRef{}, time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	poll(t, s)

	// failed is terminal; recovering the network must not revive the row
	ad.failSends = false
	poll(t, s)
	if len(ad.sent) != 0 {
		t.Fatalf("failed row was resent: %v", ad.sent)
	}
	due, err := st.DuePendingResponses(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("DuePendingResponses: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("row still pending: %+v", due)
	}
}

func TestFarFutureRowUntouched(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	s, _ := newService(t, ad)
	ctx := context.Background()

	if err := s.Schedule(ctx, 2, "tomorrow", transport.MessageRef{}, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	poll(t, s)
	if len(ad.sent) != 0 || len(ad.typing) != 0 {
		t.Fatalf("acted on far-future row: sent=%v typing=%v", ad.sent, ad.typing)
	}
}

func TestPollBudgetIndependentOfLookahead(t *testing.T) {
	t.Parallel()
	cfg := Config{Lookahead: 50 * time.Millisecond}.withDefaults()
	if cfg.PollTimeout == cfg.Lookahead {
		t.Fatal("poll budget must not track the lookahead window")
	}
	if cfg.PollTimeout < time.Second {
		t.Fatalf("poll budget too small for a backlog: %v", cfg.PollTimeout)
	}
}
