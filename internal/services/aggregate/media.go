package aggregate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ariabot/internal/transport"
)

// MediaFlush is one coalesced album: the items of a burst in arrival order.
type MediaFlush struct {
	UserID int64
	Items  []transport.MediaItem
	Ref    transport.MessageRef
}

// MediaSink consumes finalized media aggregates.
type MediaSink interface {
	HandleMedia(ctx context.Context, f MediaFlush)
}

type mediaBuffer struct {
	items []transport.MediaItem
	ref   transport.MessageRef
	timer *time.Timer
	gen   uint64
}

// MediaAggregator groups rapidly-arriving attachments into albums. Unlike
// text, the window is fixed: album items land as a burst of separate events
// regardless of caption length.
type MediaAggregator struct {
	cfg  Config
	log  *slog.Logger
	sink MediaSink

	mu      sync.Mutex
	bufs    map[int64]*mediaBuffer
	ctx     context.Context
	stopped bool
}

func NewMedia(cfg Config, sink MediaSink, log *slog.Logger) *MediaAggregator {
	return &MediaAggregator{
		cfg:  cfg.withDefaults(),
		log:  log,
		sink: sink,
		bufs: map[int64]*mediaBuffer{},
		ctx:  context.Background(),
	}
}

func (a *MediaAggregator) Start(ctx context.Context) {
	a.mu.Lock()
	a.ctx = ctx
	a.stopped = false
	a.mu.Unlock()
}

// Apply swaps the album window. Buffers already armed keep their current
// deadline; the next item uses the new window.
func (a *MediaAggregator) Apply(cfg Config) {
	a.mu.Lock()
	a.cfg = cfg.withDefaults()
	a.mu.Unlock()
}

func (a *MediaAggregator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
	for id, b := range a.bufs {
		b.timer.Stop()
		delete(a.bufs, id)
	}
}

// OnMedia buffers an inbound attachment. Every item resets the album window,
// so a burst flushes as one aggregate.
func (a *MediaAggregator) OnMedia(m *transport.Message) {
	if m == nil || m.Media == nil || m.FromID == 0 {
		return
	}
	ref := transport.MessageRef{ChatID: m.ChatID, MessageID: m.ID}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}

	if b, ok := a.bufs[m.FromID]; ok {
		b.items = append(b.items, *m.Media)
		b.ref = ref
		b.timer.Stop()
		b.gen++
		a.armLocked(m.FromID, b)
		return
	}

	b := &mediaBuffer{items: []transport.MediaItem{*m.Media}, ref: ref}
	a.bufs[m.FromID] = b
	a.armLocked(m.FromID, b)
	a.log.Debug("album window opened", slog.Int64("user", m.FromID))
}

func (a *MediaAggregator) armLocked(userID int64, b *mediaBuffer) {
	gen := b.gen
	b.timer = time.AfterFunc(a.cfg.AlbumWindow, func() { a.fire(userID, gen) })
}

func (a *MediaAggregator) fire(userID int64, gen uint64) {
	a.mu.Lock()
	b, ok := a.bufs[userID]
	if !ok || b.gen != gen {
		a.mu.Unlock()
		return
	}
	delete(a.bufs, userID)
	ctx := a.ctx
	a.mu.Unlock()

	if len(b.items) == 0 {
		// stray zero-item flush
		return
	}
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("flush handler panicked", slog.Int64("user", userID), slog.Any("panic", r))
		}
	}()
	a.sink.HandleMedia(ctx, MediaFlush{UserID: userID, Items: b.items, Ref: b.ref})
}
