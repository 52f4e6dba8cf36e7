package aggregate

import (
	"strings"
	"testing"
	"time"
)

func TestReplyDelayBands(t *testing.T) {
	t.Parallel()
	cfg := Config{}.withDefaults()

	tests := []struct {
		name string
		text string
		want time.Duration
	}{
		{name: "tiny fragment", text: "ok", want: DefaultShortInputDelay},
		{name: "just under short limit", text: strings.Repeat("a", 14), want: DefaultShortInputDelay},
		{name: "short limit", text: strings.Repeat("a", 15), want: DefaultMediumInputDelay},
		{name: "medium", text: "could you explain that again please", want: DefaultMediumInputDelay},
		{name: "medium limit", text: strings.Repeat("a", 50), want: DefaultLongInputDelay},
		{name: "long message", text: strings.Repeat("word ", 40), want: DefaultLongInputDelay},
		{name: "multibyte runes count as one", text: strings.Repeat("й", 14), want: DefaultShortInputDelay},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := cfg.ReplyDelay(tt.text); got != tt.want {
				t.Fatalf("ReplyDelay(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestReplyDelayDeterministic(t *testing.T) {
	t.Parallel()
	cfg := Config{}.withDefaults()
	for i := 0; i < 5; i++ {
		if cfg.ReplyDelay("hello there") != cfg.ReplyDelay("hello there") {
			t.Fatal("ReplyDelay is not deterministic")
		}
	}
}
