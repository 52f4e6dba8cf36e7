package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "ariabot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- conversation history ----

func (s *sqliteStore) AppendTurn(ctx context.Context, t ConversationTurn) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_turns(user_id, role, text, attachments, created_at)
		 VALUES(?,?,?,?,?)`,
		t.UserID, string(t.Role), t.Text, jsonOrNull(t.Attachments), t.CreatedAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) RecentTurns(ctx context.Context, userID int64, limit int) ([]ConversationTurn, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, role, text, attachments, created_at
		 FROM conversation_turns WHERE user_id = ?
		 ORDER BY id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ConversationTurn
	for rows.Next() {
		var t ConversationTurn
		var role string
		var att sql.NullString
		var ms int64
		if err := rows.Scan(&t.ID, &t.UserID, &role, &t.Text, &att, &ms); err != nil {
			return nil, err
		}
		t.Role = TurnRole(role)
		t.CreatedAt = time.UnixMilli(ms)
		if att.Valid && att.String != "" {
			if err := json.Unmarshal([]byte(att.String), &t.Attachments); err != nil {
				s.log.Warn("bad attachments json, skipping", logx.Int64("turn", t.ID), logx.Err(err))
			}
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// reverse to oldest-first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// ---- pending responses ----

func (s *sqliteStore) CreatePendingResponse(ctx context.Context, r PendingResponse) error {
	now := time.Now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.Status == "" {
		r.Status = ResponsePending
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_responses(id, user_id, message, reply_to_id, scheduled_for, typing_sent, status, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		r.ID, r.UserID, r.Message, r.ReplyToID, r.ScheduledFor.UnixMilli(),
		boolInt(r.TypingSent), string(r.Status), r.CreatedAt.UnixMilli(), now.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) DuePendingResponses(ctx context.Context, dueBy time.Time) ([]PendingResponse, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, message, reply_to_id, scheduled_for, typing_sent, status, created_at, updated_at
		 FROM pending_responses
		 WHERE status = ? AND scheduled_for <= ?
		 ORDER BY scheduled_for`, string(ResponsePending), dueBy.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PendingResponse
	for rows.Next() {
		var r PendingResponse
		var status string
		var typing int
		var schedMS, createdMS, updatedMS int64
		if err := rows.Scan(&r.ID, &r.UserID, &r.Message, &r.ReplyToID, &schedMS, &typing, &status, &createdMS, &updatedMS); err != nil {
			return nil, err
		}
		r.ScheduledFor = time.UnixMilli(schedMS)
		r.TypingSent = typing != 0
		r.Status = ResponseStatus(status)
		r.CreatedAt = time.UnixMilli(createdMS)
		r.UpdatedAt = time.UnixMilli(updatedMS)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) MarkTypingSent(ctx context.Context, id string) error {
	return s.exec1(ctx,
		`UPDATE pending_responses SET typing_sent = 1, updated_at = ?
		 WHERE id = ? AND status = ?`,
		time.Now().UnixMilli(), id, string(ResponsePending))
}

func (s *sqliteStore) MarkResponseSent(ctx context.Context, id string) error {
	return s.exec1(ctx,
		`UPDATE pending_responses SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(ResponseSent), time.Now().UnixMilli(), id, string(ResponsePending))
}

func (s *sqliteStore) MarkResponseFailed(ctx context.Context, id string, cause string) error {
	return s.exec1(ctx,
		`UPDATE pending_responses SET status = ?, err = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(ResponseFailed), cause, time.Now().UnixMilli(), id, string(ResponsePending))
}

// ---- broadcast jobs ----

func (s *sqliteStore) CreateBroadcastJob(ctx context.Context, j BroadcastJob) error {
	now := time.Now()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	if j.Status == "" {
		j.Status = JobPending
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO broadcast_jobs(id, message, status, created_at, updated_at)
		 VALUES(?,?,?,?,?)`,
		j.ID, j.Message, string(j.Status), j.CreatedAt.UnixMilli(), now.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) NextPendingBroadcast(ctx context.Context) (BroadcastJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, message, status, sent_count, failed_count, failed_recipients, err, created_at, updated_at
		 FROM broadcast_jobs WHERE status = ?
		 ORDER BY created_at LIMIT 1`, string(JobPending))
	return scanBroadcastJob(row)
}

func (s *sqliteStore) GetBroadcastJob(ctx context.Context, id string) (BroadcastJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, message, status, sent_count, failed_count, failed_recipients, err, created_at, updated_at
		 FROM broadcast_jobs WHERE id = ?`, id)
	return scanBroadcastJob(row)
}

func scanBroadcastJob(row *sql.Row) (BroadcastJob, error) {
	var j BroadcastJob
	var status string
	var failed sql.NullString
	var errStr sql.NullString
	var createdMS, updatedMS int64
	err := row.Scan(&j.ID, &j.Message, &status, &j.SentCount, &j.FailedCount, &failed, &errStr, &createdMS, &updatedMS)
	if errors.Is(err, sql.ErrNoRows) {
		return BroadcastJob{}, ErrNotFound
	}
	if err != nil {
		return BroadcastJob{}, err
	}
	j.Status = JobStatus(status)
	j.Error = errStr.String
	j.CreatedAt = time.UnixMilli(createdMS)
	j.UpdatedAt = time.UnixMilli(updatedMS)
	if failed.Valid && failed.String != "" {
		_ = json.Unmarshal([]byte(failed.String), &j.FailedRecipients)
	}
	return j, nil
}

func (s *sqliteStore) MarkBroadcastProcessing(ctx context.Context, id string) error {
	return s.exec1(ctx,
		`UPDATE broadcast_jobs SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(JobProcessing), time.Now().UnixMilli(), id, string(JobPending))
}

func (s *sqliteStore) CompleteBroadcast(ctx context.Context, id string, sent, failed int, failedIDs []int64) error {
	return s.exec1(ctx,
		`UPDATE broadcast_jobs SET status = ?, sent_count = ?, failed_count = ?, failed_recipients = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(JobCompleted), sent, failed, jsonOrNull(failedIDs), time.Now().UnixMilli(), id, string(JobProcessing))
}

func (s *sqliteStore) FailBroadcast(ctx context.Context, id string, cause string) error {
	return s.exec1(ctx,
		`UPDATE broadcast_jobs SET status = ?, err = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(JobFailed), cause, time.Now().UnixMilli(), id, string(JobProcessing))
}

func (s *sqliteStore) FailStaleBroadcasts(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE broadcast_jobs SET status = ?, err = ?, updated_at = ?
		 WHERE status = ?`,
		string(JobFailed), "interrupted by restart", time.Now().UnixMilli(), string(JobProcessing))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ---- triggers ----

func (s *sqliteStore) CreateTrigger(ctx context.Context, t ScheduledTrigger) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	var last any
	if t.LastRunAt != nil {
		last = t.LastRunAt.UnixMilli()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_triggers(id, message, time_of_day, active, last_run_at, created_at)
		 VALUES(?,?,?,?,?,?)`,
		t.ID, t.Message, t.TimeOfDay, boolInt(t.Active), last, t.CreatedAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) ActiveTriggers(ctx context.Context) ([]ScheduledTrigger, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, message, time_of_day, active, last_run_at, created_at
		 FROM scheduled_triggers WHERE active = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScheduledTrigger
	for rows.Next() {
		var t ScheduledTrigger
		var active int
		var last sql.NullInt64
		var createdMS int64
		if err := rows.Scan(&t.ID, &t.Message, &t.TimeOfDay, &active, &last, &createdMS); err != nil {
			return nil, err
		}
		t.Active = active != 0
		t.CreatedAt = time.UnixMilli(createdMS)
		if last.Valid {
			lr := time.UnixMilli(last.Int64)
			t.LastRunAt = &lr
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) MarkTriggerRun(ctx context.Context, id string, at time.Time) error {
	return s.exec1(ctx,
		`UPDATE scheduled_triggers SET last_run_at = ? WHERE id = ?`,
		at.UnixMilli(), id)
}

// ---- subscriptions ----

func (s *sqliteStore) UpsertSubscription(ctx context.Context, sub Subscription) error {
	now := time.Now()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	if sub.StartDate.IsZero() {
		sub.StartDate = now
	}
	var end any
	if sub.EndDate != nil {
		end = sub.EndDate.UnixMilli()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions(user_id, username, start_date, end_date, created_at)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET username = excluded.username, end_date = excluded.end_date`,
		sub.UserID, sub.Username, sub.StartDate.UnixMilli(), end, sub.CreatedAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) ActiveSubscriberIDs(ctx context.Context, at time.Time) ([]int64, error) {
	ms := at.UnixMilli()
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM subscriptions
		 WHERE start_date <= ? AND (end_date IS NULL OR end_date >= ?)
		 ORDER BY user_id`, ms, ms)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ---- helpers ----

// exec1 runs a guarded UPDATE and maps "no rows touched" to ErrNotFound so
// callers can tell a lost status race from success.
func (s *sqliteStore) exec1(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func jsonOrNull[T any](v []T) any {
	if len(v) == 0 {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return string(b)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
