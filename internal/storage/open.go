package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "ariabot/pkg/logx"
)

// Store is the persistence API used by the router and the workers.
// Durable rows are only mutated through the transitions below; list methods
// support the status/due-by filters the poll loops need.
type Store interface {
	// Conversation history (append-only).
	AppendTurn(ctx context.Context, t ConversationTurn) error
	// RecentTurns returns up to limit turns for the user, oldest first.
	RecentTurns(ctx context.Context, userID int64, limit int) ([]ConversationTurn, error)

	// Pending responses.
	CreatePendingResponse(ctx context.Context, r PendingResponse) error
	// DuePendingResponses returns PENDING rows with scheduled_for <= dueBy.
	DuePendingResponses(ctx context.Context, dueBy time.Time) ([]PendingResponse, error)
	MarkTypingSent(ctx context.Context, id string) error
	MarkResponseSent(ctx context.Context, id string) error
	MarkResponseFailed(ctx context.Context, id string, cause string) error

	// Broadcast jobs.
	CreateBroadcastJob(ctx context.Context, j BroadcastJob) error
	// NextPendingBroadcast returns the oldest PENDING job, or ErrNotFound.
	NextPendingBroadcast(ctx context.Context) (BroadcastJob, error)
	GetBroadcastJob(ctx context.Context, id string) (BroadcastJob, error)
	MarkBroadcastProcessing(ctx context.Context, id string) error
	CompleteBroadcast(ctx context.Context, id string, sent, failed int, failedIDs []int64) error
	FailBroadcast(ctx context.Context, id string, cause string) error
	// FailStaleBroadcasts marks jobs left PROCESSING by a previous run as
	// FAILED. Called once at startup; returns the number of rows touched.
	FailStaleBroadcasts(ctx context.Context) (int, error)

	// Daily triggers.
	CreateTrigger(ctx context.Context, t ScheduledTrigger) error
	ActiveTriggers(ctx context.Context) ([]ScheduledTrigger, error)
	MarkTriggerRun(ctx context.Context, id string, at time.Time) error

	// Subscriptions.
	UpsertSubscription(ctx context.Context, s Subscription) error
	// ActiveSubscriberIDs returns ids whose window contains at.
	ActiveSubscriberIDs(ctx context.Context, at time.Time) ([]int64, error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}
