package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memoryStore keeps everything in process memory. It exists for tests and
// dry runs; nothing survives a restart.
type memoryStore struct {
	mu sync.Mutex

	turnSeq   int64
	turns     []ConversationTurn
	responses map[string]*PendingResponse
	jobs      map[string]*BroadcastJob
	jobOrder  []string
	triggers  map[string]*ScheduledTrigger
	subs      map[int64]*Subscription
}

func NewMemory() Store {
	return &memoryStore{
		responses: map[string]*PendingResponse{},
		jobs:      map[string]*BroadcastJob{},
		triggers:  map[string]*ScheduledTrigger{},
		subs:      map[int64]*Subscription{},
	}
}

func (m *memoryStore) Close() error { return nil }

func (m *memoryStore) AppendTurn(_ context.Context, t ConversationTurn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turnSeq++
	t.ID = m.turnSeq
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	m.turns = append(m.turns, t)
	return nil
}

func (m *memoryStore) RecentTurns(_ context.Context, userID int64, limit int) ([]ConversationTurn, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ConversationTurn
	for _, t := range m.turns {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return append([]ConversationTurn(nil), out...), nil
}

func (m *memoryStore) CreatePendingResponse(_ context.Context, r PendingResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.Status == "" {
		r.Status = ResponsePending
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	cp := r
	m.responses[r.ID] = &cp
	return nil
}

func (m *memoryStore) DuePendingResponses(_ context.Context, dueBy time.Time) ([]PendingResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PendingResponse
	for _, r := range m.responses {
		if r.Status == ResponsePending && !r.ScheduledFor.After(dueBy) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	return out, nil
}

func (m *memoryStore) MarkTypingSent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.responses[id]
	if r == nil || r.Status != ResponsePending {
		return ErrNotFound
	}
	r.TypingSent = true
	r.UpdatedAt = time.Now()
	return nil
}

func (m *memoryStore) MarkResponseSent(_ context.Context, id string) error {
	return m.finishResponse(id, ResponseSent, "")
}

func (m *memoryStore) MarkResponseFailed(_ context.Context, id string, cause string) error {
	return m.finishResponse(id, ResponseFailed, cause)
}

func (m *memoryStore) finishResponse(id string, st ResponseStatus, cause string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.responses[id]
	if r == nil || r.Status != ResponsePending {
		return ErrNotFound
	}
	r.Status = st
	r.Error = cause
	r.UpdatedAt = time.Now()
	return nil
}

func (m *memoryStore) CreateBroadcastJob(_ context.Context, j BroadcastJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j.Status == "" {
		j.Status = JobPending
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}
	cp := j
	m.jobs[j.ID] = &cp
	m.jobOrder = append(m.jobOrder, j.ID)
	return nil
}

func (m *memoryStore) NextPendingBroadcast(_ context.Context) (BroadcastJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.jobOrder {
		if j := m.jobs[id]; j != nil && j.Status == JobPending {
			return *j, nil
		}
	}
	return BroadcastJob{}, ErrNotFound
}

func (m *memoryStore) GetBroadcastJob(_ context.Context, id string) (BroadcastJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.jobs[id]
	if j == nil {
		return BroadcastJob{}, ErrNotFound
	}
	cp := *j
	cp.FailedRecipients = append([]int64(nil), j.FailedRecipients...)
	return cp, nil
}

func (m *memoryStore) MarkBroadcastProcessing(_ context.Context, id string) error {
	return m.transitionJob(id, JobPending, func(j *BroadcastJob) { j.Status = JobProcessing })
}

func (m *memoryStore) CompleteBroadcast(_ context.Context, id string, sent, failed int, failedIDs []int64) error {
	return m.transitionJob(id, JobProcessing, func(j *BroadcastJob) {
		j.Status = JobCompleted
		j.SentCount = sent
		j.FailedCount = failed
		j.FailedRecipients = append([]int64(nil), failedIDs...)
	})
}

func (m *memoryStore) FailBroadcast(_ context.Context, id string, cause string) error {
	return m.transitionJob(id, JobProcessing, func(j *BroadcastJob) {
		j.Status = JobFailed
		j.Error = cause
	})
}

func (m *memoryStore) FailStaleBroadcasts(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, j := range m.jobs {
		if j.Status == JobProcessing {
			j.Status = JobFailed
			j.Error = "interrupted by restart"
			j.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (m *memoryStore) transitionJob(id string, from JobStatus, apply func(*BroadcastJob)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.jobs[id]
	if j == nil || j.Status != from {
		return ErrNotFound
	}
	apply(j)
	j.UpdatedAt = time.Now()
	return nil
}

func (m *memoryStore) CreateTrigger(_ context.Context, t ScheduledTrigger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	cp := t
	m.triggers[t.ID] = &cp
	return nil
}

func (m *memoryStore) ActiveTriggers(_ context.Context) ([]ScheduledTrigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ScheduledTrigger
	for _, t := range m.triggers {
		if t.Active {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryStore) MarkTriggerRun(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.triggers[id]
	if t == nil {
		return ErrNotFound
	}
	cp := at
	t.LastRunAt = &cp
	return nil
}

func (m *memoryStore) UpsertSubscription(_ context.Context, s Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.StartDate.IsZero() {
		s.StartDate = time.Now()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	if prev := m.subs[s.UserID]; prev != nil {
		prev.Username = s.Username
		prev.EndDate = s.EndDate
		return nil
	}
	cp := s
	m.subs[s.UserID] = &cp
	return nil
}

func (m *memoryStore) ActiveSubscriberIDs(_ context.Context, at time.Time) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []int64
	for id, s := range m.subs {
		if s.StartDate.After(at) {
			continue
		}
		if s.EndDate != nil && s.EndDate.Before(at) {
			continue
		}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
