package aggregate

import "time"

// Thresholds for the length heuristic: a short fragment is likely to be
// followed by more typing, a long message is likely a complete thought.
const (
	shortTextLimit  = 15
	mediumTextLimit = 50
)

const (
	DefaultShortInputDelay  = 3500 * time.Millisecond
	DefaultMediumInputDelay = 2500 * time.Millisecond
	DefaultLongInputDelay   = 1500 * time.Millisecond
	DefaultTypingExtension  = 2500 * time.Millisecond
	DefaultAlbumWindow      = 3500 * time.Millisecond
)

// Config holds the debounce knobs. Zero values fall back to the defaults
// above via withDefaults.
type Config struct {
	ShortInputDelay  time.Duration
	MediumInputDelay time.Duration
	LongInputDelay   time.Duration
	TypingExtension  time.Duration
	AlbumWindow      time.Duration
}

func (c Config) withDefaults() Config {
	if c.ShortInputDelay <= 0 {
		c.ShortInputDelay = DefaultShortInputDelay
	}
	if c.MediumInputDelay <= 0 {
		c.MediumInputDelay = DefaultMediumInputDelay
	}
	if c.LongInputDelay <= 0 {
		c.LongInputDelay = DefaultLongInputDelay
	}
	if c.TypingExtension <= 0 {
		c.TypingExtension = DefaultTypingExtension
	}
	if c.AlbumWindow <= 0 {
		c.AlbumWindow = DefaultAlbumWindow
	}
	return c
}

// ReplyDelay maps an input to its debounce duration. Pure function of the
// rune count only.
func (c Config) ReplyDelay(text string) time.Duration {
	n := len([]rune(text))
	switch {
	case n < shortTextLimit:
		return c.ShortInputDelay
	case n < mediumTextLimit:
		return c.MediumInputDelay
	default:
		return c.LongInputDelay
	}
}
