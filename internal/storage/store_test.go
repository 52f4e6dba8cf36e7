package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	logx "ariabot/pkg/logx"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sq.Close() })
	return map[string]Store{"sqlite": sq, "memory": NewMemory()}
}

func TestTurnsRoundTrip(t *testing.T) {
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, txt := range []string{"hi", "how are you", "fine"} {
				if err := st.AppendTurn(ctx, ConversationTurn{UserID: 7, Role: RoleUser, Text: txt}); err != nil {
					t.Fatalf("AppendTurn: %v", err)
				}
			}
			if err := st.AppendTurn(ctx, ConversationTurn{UserID: 8, Role: RoleUser, Text: "other user"}); err != nil {
				t.Fatalf("AppendTurn: %v", err)
			}

			turns, err := st.RecentTurns(ctx, 7, 2)
			if err != nil {
				t.Fatalf("RecentTurns: %v", err)
			}
			if len(turns) != 2 {
				t.Fatalf("expected 2 turns, got %d", len(turns))
			}
			// oldest-first within the window
			if turns[0].Text != "how are you" || turns[1].Text != "fine" {
				t.Fatalf("unexpected order: %q, %q", turns[0].Text, turns[1].Text)
			}
		})
	}
}

func TestTurnAttachments(t *testing.T) {
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			att := []string{"file-1", "file-2"}
			if err := st.AppendTurn(ctx, ConversationTurn{UserID: 1, Role: RoleUser, Text: "[album]", Attachments: att}); err != nil {
				t.Fatalf("AppendTurn: %v", err)
			}
			turns, err := st.RecentTurns(ctx, 1, 10)
			if err != nil {
				t.Fatalf("RecentTurns: %v", err)
			}
			if len(turns) != 1 || len(turns[0].Attachments) != 2 || turns[0].Attachments[1] != "file-2" {
				t.Fatalf("attachments not preserved: %+v", turns)
			}
		})
	}
}

func TestPendingResponseLifecycle(t *testing.T) {
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now()
			soon := PendingResponse{ID: "r1", UserID: 5, Message: "hello", ScheduledFor: now.Add(2 * time.Second)}
			later := PendingResponse{ID: "r2", UserID: 5, Message: "later", ScheduledFor: now.Add(time.Hour)}
			for _, r := range []PendingResponse{soon, later} {
				if err := st.CreatePendingResponse(ctx, r); err != nil {
					t.Fatalf("create: %v", err)
				}
			}

			due, err := st.DuePendingResponses(ctx, now.Add(5*time.Second))
			if err != nil {
				t.Fatalf("due: %v", err)
			}
			if len(due) != 1 || due[0].ID != "r1" {
				t.Fatalf("expected only r1 due, got %+v", due)
			}

			if err := st.MarkTypingSent(ctx, "r1"); err != nil {
				t.Fatalf("typing: %v", err)
			}
			due, _ = st.DuePendingResponses(ctx, now.Add(5*time.Second))
			if !due[0].TypingSent {
				t.Fatalf("typing flag not persisted")
			}

			if err := st.MarkResponseSent(ctx, "r1"); err != nil {
				t.Fatalf("sent: %v", err)
			}
			// terminal: a second transition must not find the row
			if err := st.MarkResponseFailed(ctx, "r1", "boom"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound after terminal state, got %v", err)
			}
			due, _ = st.DuePendingResponses(ctx, now.Add(5*time.Second))
			if len(due) != 0 {
				t.Fatalf("sent row still due: %+v", due)
			}
		})
	}
}

func TestBroadcastJobLifecycle(t *testing.T) {
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := st.NextPendingBroadcast(ctx); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound on empty queue, got %v", err)
			}

			if err := st.CreateBroadcastJob(ctx, BroadcastJob{ID: "j1", Message: "promo"}); err != nil {
				t.Fatalf("create: %v", err)
			}
			j, err := st.NextPendingBroadcast(ctx)
			if err != nil {
				t.Fatalf("next: %v", err)
			}
			if j.ID != "j1" || j.Status != JobPending {
				t.Fatalf("unexpected job: %+v", j)
			}

			if err := st.MarkBroadcastProcessing(ctx, "j1"); err != nil {
				t.Fatalf("processing: %v", err)
			}
			// no longer pending
			if _, err := st.NextPendingBroadcast(ctx); !errors.Is(err, ErrNotFound) {
				t.Fatalf("processing job still pending: %v", err)
			}

			if err := st.CompleteBroadcast(ctx, "j1", 2, 1, []int64{42}); err != nil {
				t.Fatalf("complete: %v", err)
			}
			if err := st.FailBroadcast(ctx, "j1", "late"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected terminal state to stick, got %v", err)
			}
		})
	}
}

func TestFailStaleBroadcasts(t *testing.T) {
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_ = st.CreateBroadcastJob(ctx, BroadcastJob{ID: "stuck", Message: "x"})
			_ = st.MarkBroadcastProcessing(ctx, "stuck")
			_ = st.CreateBroadcastJob(ctx, BroadcastJob{ID: "fresh", Message: "y"})

			n, err := st.FailStaleBroadcasts(ctx)
			if err != nil {
				t.Fatalf("FailStaleBroadcasts: %v", err)
			}
			if n != 1 {
				t.Fatalf("expected 1 stale job, got %d", n)
			}
			j, err := st.NextPendingBroadcast(ctx)
			if err != nil || j.ID != "fresh" {
				t.Fatalf("pending job lost: %+v %v", j, err)
			}
		})
	}
}

func TestTriggerLastRun(t *testing.T) {
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := st.CreateTrigger(ctx, ScheduledTrigger{ID: "t1", Message: "gm", TimeOfDay: "08:00", Active: true}); err != nil {
				t.Fatalf("create: %v", err)
			}
			_ = st.CreateTrigger(ctx, ScheduledTrigger{ID: "t2", Message: "off", TimeOfDay: "09:00", Active: false})

			trs, err := st.ActiveTriggers(ctx)
			if err != nil {
				t.Fatalf("active: %v", err)
			}
			if len(trs) != 1 || trs[0].ID != "t1" || trs[0].LastRunAt != nil {
				t.Fatalf("unexpected triggers: %+v", trs)
			}

			at := time.Now().Truncate(time.Millisecond)
			if err := st.MarkTriggerRun(ctx, "t1", at); err != nil {
				t.Fatalf("mark run: %v", err)
			}
			trs, _ = st.ActiveTriggers(ctx)
			if trs[0].LastRunAt == nil || !trs[0].LastRunAt.Equal(at) {
				t.Fatalf("last run not persisted: %+v", trs[0].LastRunAt)
			}
		})
	}
}

func TestSubscriptionWindows(t *testing.T) {
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now()
			past := now.Add(-24 * time.Hour)
			future := now.Add(24 * time.Hour)
			expired := now.Add(-time.Hour)

			_ = st.UpsertSubscription(ctx, Subscription{UserID: 1, StartDate: past})                    // open-ended
			_ = st.UpsertSubscription(ctx, Subscription{UserID: 2, StartDate: past, EndDate: &future}) // valid
			_ = st.UpsertSubscription(ctx, Subscription{UserID: 3, StartDate: past, EndDate: &expired})
			_ = st.UpsertSubscription(ctx, Subscription{UserID: 4, StartDate: future})

			ids, err := st.ActiveSubscriberIDs(ctx, now)
			if err != nil {
				t.Fatalf("active: %v", err)
			}
			if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
				t.Fatalf("unexpected recipients: %v", ids)
			}

			// upsert refreshes, never duplicates
			_ = st.UpsertSubscription(ctx, Subscription{UserID: 2, Username: "bob", StartDate: past})
			ids, _ = st.ActiveSubscriberIDs(ctx, now)
			if len(ids) != 2 {
				t.Fatalf("upsert duplicated row: %v", ids)
			}
		})
	}
}
