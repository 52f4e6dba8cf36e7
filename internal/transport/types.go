package transport

import "context"

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
	UpdateTyping  UpdateKind = "typing"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
	Typing  *Typing
}

type MediaKind string

const (
	MediaPhoto    MediaKind = "photo"
	MediaDocument MediaKind = "document"
)

// MediaItem is a single inbound attachment. PageCount is only set for
// paginated documents the platform reports a page count for (0 if unknown).
type MediaItem struct {
	Kind      MediaKind
	FileID    string
	Caption   string
	FileName  string
	PageCount int
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
	Media        *MediaItem
	Private      bool
	// Outgoing marks messages sent by the bot account itself. They are
	// recorded into history but never aggregated.
	Outgoing bool
}

// Typing is a composing notification for a chat. The aggregator uses it to
// extend a live buffer; it never creates one.
type Typing struct {
	ChatID int64
	FromID int64
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	ReplyTo        *MessageRef
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	// SendTyping shows the platform "typing..." indicator in the chat.
	// The indicator expires on its own; there is no explicit cancel.
	SendTyping(ctx context.Context, to ChatTarget) error
	SendReaction(ctx context.Context, ref MessageRef, emoji string) error
}
