package aggregate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ariabot/internal/transport"
)

// TextFlush is one coalesced user utterance.
type TextFlush struct {
	UserID  int64
	Content string
	// Ref addresses the latest message of the burst; replies quote it.
	Ref transport.MessageRef
}

// TextSink consumes finalized text aggregates.
type TextSink interface {
	HandleText(ctx context.Context, f TextFlush)
}

type textBuffer struct {
	content  string
	ref      transport.MessageRef
	timer    *time.Timer
	deadline time.Time
	// gen invalidates a timer that fired after its buffer was replaced.
	gen uint64
}

// TextAggregator owns one buffer per user. All mutation happens under mu;
// the flush handoff runs on the timer goroutine after the buffer has been
// removed, so each buffer instance flushes exactly once.
type TextAggregator struct {
	cfg  Config
	log  *slog.Logger
	sink TextSink

	mu      sync.Mutex
	bufs    map[int64]*textBuffer
	ctx     context.Context
	stopped bool
}

func NewText(cfg Config, sink TextSink, log *slog.Logger) *TextAggregator {
	return &TextAggregator{
		cfg:  cfg.withDefaults(),
		log:  log,
		sink: sink,
		bufs: map[int64]*textBuffer{},
		ctx:  context.Background(),
	}
}

// Start binds the context handed to flush callbacks. Optional; without it
// flushes run against context.Background().
func (a *TextAggregator) Start(ctx context.Context) {
	a.mu.Lock()
	a.ctx = ctx
	a.stopped = false
	a.mu.Unlock()
}

// Apply swaps the debounce knobs. Buffers already armed keep their current
// deadline; the next input uses the new windows.
func (a *TextAggregator) Apply(cfg Config) {
	a.mu.Lock()
	a.cfg = cfg.withDefaults()
	a.mu.Unlock()
}

// Stop cancels every live buffer. Mid-debounce content is dropped; buffers
// never survive a restart.
func (a *TextAggregator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
	for id, b := range a.bufs {
		b.timer.Stop()
		delete(a.bufs, id)
	}
}

// OnText buffers an inbound text message. A first fragment opens the buffer,
// later ones append with a newline and push the deadline out again.
func (a *TextAggregator) OnText(m *transport.Message) {
	if m == nil || m.Text == "" || m.FromID == 0 {
		return
	}
	delay := a.cfg.ReplyDelay(m.Text)
	ref := transport.MessageRef{ChatID: m.ChatID, MessageID: m.ID}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}

	if b, ok := a.bufs[m.FromID]; ok {
		b.content += "\n" + m.Text
		b.ref = ref
		a.rescheduleLocked(m.FromID, b, delay)
		a.log.Debug("text appended", slog.Int64("user", m.FromID), slog.Duration("delay", delay))
		return
	}

	b := &textBuffer{content: m.Text, ref: ref}
	a.bufs[m.FromID] = b
	a.armLocked(m.FromID, b, delay)
	a.log.Debug("text buffer opened", slog.Int64("user", m.FromID), slog.Duration("delay", delay))
}

// OnTyping extends a live buffer while the user is visibly composing. It
// never opens a buffer, and it never pulls a flush in: a debounce with more
// time left than the extension keeps its deadline.
func (a *TextAggregator) OnTyping(userID int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.bufs[userID]
	if !ok || a.stopped {
		return
	}
	if time.Until(b.deadline) >= a.cfg.TypingExtension {
		return
	}
	a.rescheduleLocked(userID, b, a.cfg.TypingExtension)
	a.log.Debug("buffer extended by typing", slog.Int64("user", userID))
}

func (a *TextAggregator) armLocked(userID int64, b *textBuffer, d time.Duration) {
	gen := b.gen
	b.deadline = time.Now().Add(d)
	b.timer = time.AfterFunc(d, func() { a.fire(userID, gen) })
}

func (a *TextAggregator) rescheduleLocked(userID int64, b *textBuffer, d time.Duration) {
	b.timer.Stop()
	b.gen++
	a.armLocked(userID, b, d)
}

func (a *TextAggregator) fire(userID int64, gen uint64) {
	a.mu.Lock()
	b, ok := a.bufs[userID]
	if !ok || b.gen != gen {
		// timer lost the race against a reschedule or Stop
		a.mu.Unlock()
		return
	}
	delete(a.bufs, userID)
	ctx := a.ctx
	a.mu.Unlock()

	// Runs on the timer goroutine; a panicking sink must not take the
	// process down.
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("flush handler panicked", slog.Int64("user", userID), slog.Any("panic", r))
		}
	}()
	a.sink.HandleText(ctx, TextFlush{UserID: userID, Content: b.content, Ref: b.ref})
}
