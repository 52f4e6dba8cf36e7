package aggregate

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"ariabot/internal/transport"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type textRecorder struct {
	ch chan TextFlush
}

func newTextRecorder() *textRecorder { return &textRecorder{ch: make(chan TextFlush, 16)} }

func (r *textRecorder) HandleText(_ context.Context, f TextFlush) { r.ch <- f }

func (r *textRecorder) wait(t *testing.T, d time.Duration) TextFlush {
	t.Helper()
	select {
	case f := <-r.ch:
		return f
	case <-time.After(d):
		t.Fatal("timed out waiting for flush")
		return TextFlush{}
	}
}

func (r *textRecorder) expectNone(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case f := <-r.ch:
		t.Fatalf("unexpected flush: %+v", f)
	case <-time.After(d):
	}
}

// Tight delays so the debounce behavior is observable without slow tests.
func fastCfg() Config {
	return Config{
		ShortInputDelay:  60 * time.Millisecond,
		MediumInputDelay: 40 * time.Millisecond,
		LongInputDelay:   20 * time.Millisecond,
		TypingExtension:  150 * time.Millisecond,
		AlbumWindow:      50 * time.Millisecond,
	}
}

func msg(user int64, id int, text string) *transport.Message {
	return &transport.Message{ID: id, ChatID: user, FromID: user, Text: text, Private: true}
}

func TestRapidBurstFlushesOnce(t *testing.T) {
	t.Parallel()
	rec := newTextRecorder()
	a := NewText(fastCfg(), rec, discardLogger())
	defer a.Stop()

	a.OnText(msg(1, 10, "hi"))
	time.Sleep(10 * time.Millisecond)
	a.OnText(msg(1, 11, "how are you"))

	f := rec.wait(t, time.Second)
	if f.Content != "hi\nhow are you" {
		t.Fatalf("content = %q, want %q", f.Content, "hi\nhow are you")
	}
	if f.UserID != 1 {
		t.Fatalf("user = %d, want 1", f.UserID)
	}
	if f.Ref.MessageID != 11 {
		t.Fatalf("reply ref = %d, want latest message 11", f.Ref.MessageID)
	}
	rec.expectNone(t, 150*time.Millisecond)
}

func TestSpacedMessagesFlushIndependently(t *testing.T) {
	t.Parallel()
	rec := newTextRecorder()
	a := NewText(fastCfg(), rec, discardLogger())
	defer a.Stop()

	a.OnText(msg(1, 1, "first message that is long enough to use the shortest delay band here"))
	first := rec.wait(t, time.Second)
	a.OnText(msg(1, 2, "second message that is long enough to use the shortest delay band too"))
	second := rec.wait(t, time.Second)

	if first.Ref.MessageID != 1 || second.Ref.MessageID != 2 {
		t.Fatalf("flushes not independent: %+v, %+v", first, second)
	}
}

func TestTypingExtendsButNeverShortens(t *testing.T) {
	t.Parallel()
	cfg := fastCfg()
	rec := newTextRecorder()
	a := NewText(cfg, rec, discardLogger())
	defer a.Stop()

	start := time.Now()
	a.OnText(msg(1, 1, "a long message well beyond the fifty character threshold for the quick band"))
	a.OnTyping(1)

	// would have flushed after LongInputDelay without the extension
	rec.expectNone(t, cfg.LongInputDelay+30*time.Millisecond)
	f := rec.wait(t, time.Second)
	if got := time.Since(start); got < cfg.TypingExtension {
		t.Fatalf("flushed after %v, typing extension is %v", got, cfg.TypingExtension)
	}
	if f.Content == "" {
		t.Fatal("empty flush")
	}
}

func TestTypingKeepsLongerPendingDebounce(t *testing.T) {
	t.Parallel()
	// Extension below every delay band, mirroring production where a short
	// fragment's debounce outlives the typing extension.
	cfg := Config{
		ShortInputDelay:  300 * time.Millisecond,
		MediumInputDelay: 250 * time.Millisecond,
		LongInputDelay:   200 * time.Millisecond,
		TypingExtension:  60 * time.Millisecond,
		AlbumWindow:      50 * time.Millisecond,
	}
	rec := newTextRecorder()
	a := NewText(cfg, rec, discardLogger())
	defer a.Stop()

	start := time.Now()
	a.OnText(msg(1, 1, "hi"))
	a.OnTyping(1)

	// a reschedule to the extension would flush around 60ms
	rec.expectNone(t, 200*time.Millisecond)
	rec.wait(t, time.Second)
	if got := time.Since(start); got < cfg.ShortInputDelay {
		t.Fatalf("typing shortened the flush: %v, debounce was %v", got, cfg.ShortInputDelay)
	}
}

func TestTypingWithoutBufferIsNoop(t *testing.T) {
	t.Parallel()
	rec := newTextRecorder()
	a := NewText(fastCfg(), rec, discardLogger())
	defer a.Stop()

	a.OnTyping(99)
	rec.expectNone(t, 200*time.Millisecond)
}

func TestUsersAreIsolated(t *testing.T) {
	t.Parallel()
	rec := newTextRecorder()
	a := NewText(fastCfg(), rec, discardLogger())
	defer a.Stop()

	a.OnText(msg(1, 1, "hello from the first user, long enough for the quick delay band to apply"))
	a.OnText(msg(2, 2, "hello from the second user, also long enough for the quick delay band"))

	got := map[int64]bool{}
	for i := 0; i < 2; i++ {
		f := rec.wait(t, time.Second)
		got[f.UserID] = true
	}
	if !got[1] || !got[2] {
		t.Fatalf("expected one flush per user, got %v", got)
	}
}

func TestStopDropsPendingBuffers(t *testing.T) {
	t.Parallel()
	rec := newTextRecorder()
	a := NewText(fastCfg(), rec, discardLogger())

	a.OnText(msg(1, 1, "hi"))
	a.Stop()
	rec.expectNone(t, 200*time.Millisecond)
}
