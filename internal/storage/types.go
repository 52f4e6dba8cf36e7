package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("not found")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "memory": process-local store, lost on restart (tests, dry runs)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

type TurnRole string

const (
	RoleUser      TurnRole = "user"
	RoleAssistant TurnRole = "assistant"
)

// ConversationTurn is one entry of the append-only per-user dialogue log.
// Attachments hold platform file ids referenced by the turn, in order.
type ConversationTurn struct {
	ID          int64
	UserID      int64
	Role        TurnRole
	Text        string
	Attachments []string
	CreatedAt   time.Time
}

type ResponseStatus string

const (
	ResponsePending ResponseStatus = "PENDING"
	ResponseSent    ResponseStatus = "SENT"
	ResponseFailed  ResponseStatus = "FAILED"
)

// PendingResponse is a reply that was deliberately delayed. It is consumed
// exactly once by the response queue worker; SENT and FAILED are terminal.
type PendingResponse struct {
	ID           string
	UserID       int64
	Message      string
	ReplyToID    int // platform message id to reply to (0 = none)
	ScheduledFor time.Time
	TypingSent   bool
	Status       ResponseStatus
	Error        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type JobStatus string

const (
	JobPending    JobStatus = "PENDING"
	JobProcessing JobStatus = "PROCESSING"
	JobCompleted  JobStatus = "COMPLETED"
	JobFailed     JobStatus = "FAILED"
)

// BroadcastJob is a single bulk-send task. Mutated only by the broadcast
// worker after creation; COMPLETED and FAILED are terminal, a re-submission
// is the only retry mechanism.
type BroadcastJob struct {
	ID               string
	Message          string
	Status           JobStatus
	SentCount        int
	FailedCount      int
	FailedRecipients []int64
	Error            string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ScheduledTrigger fires a broadcast once per calendar day at TimeOfDay
// (HH:MM, scheduler timezone). Never auto-deleted.
type ScheduledTrigger struct {
	ID        string
	Message   string
	TimeOfDay string
	Active    bool
	LastRunAt *time.Time
	CreatedAt time.Time
}

// Subscription is a broadcast recipient with a validity window.
// A nil EndDate means open-ended.
type Subscription struct {
	UserID    int64
	Username  string
	StartDate time.Time
	EndDate   *time.Time
	CreatedAt time.Time
}
