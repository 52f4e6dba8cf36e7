package poller

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestParseHHMM(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		h, m    int
		wantErr bool
	}{
		{raw: "08:00", h: 8, m: 0},
		{raw: "23:59", h: 23, m: 59},
		{raw: " 9:30 ", h: 9, m: 30},
		{raw: "24:00", wantErr: true},
		{raw: "08:60", wantErr: true},
		{raw: "0800", wantErr: true},
		{raw: "", wantErr: true},
	}
	for _, tt := range tests {
		h, m, err := ParseHHMM(tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseHHMM(%q): expected error", tt.raw)
			}
			continue
		}
		if err != nil || h != tt.h || m != tt.m {
			t.Fatalf("ParseHHMM(%q) = %d:%d, %v", tt.raw, h, m, err)
		}
	}
}

func TestExecOneTimeout(t *testing.T) {
	t.Parallel()
	s := New(Config{}, discardLogger())

	var sawDeadline atomic.Bool
	s.execOne(context.Background(), task{
		id: "t", name: "slow", timeout: 20 * time.Millisecond,
		run: func(ctx context.Context) error {
			select {
			case <-ctx.Done():
				sawDeadline.Store(true)
				return ctx.Err()
			case <-time.After(2 * time.Second):
				return nil
			}
		},
	})
	if !sawDeadline.Load() {
		t.Fatal("task did not observe its timeout")
	}
	hist := s.History()
	if len(hist) != 1 || hist[0].Error == "" {
		t.Fatalf("history: %+v", hist)
	}
}

func TestExecOneSkipsOverlap(t *testing.T) {
	t.Parallel()
	s := New(Config{}, discardLogger())

	var runs atomic.Int32
	release := make(chan struct{})
	st := &runState{}
	tk := task{
		id: "t", name: "poll", state: st,
		run: func(ctx context.Context) error {
			runs.Add(1)
			<-release
			return nil
		},
	}

	go s.execOne(context.Background(), tk)
	// wait until the first run holds the state
	for i := 0; i < 100 && runs.Load() == 0; i++ {
		time.Sleep(5 * time.Millisecond)
	}

	s.execOne(context.Background(), tk) // must skip, not block
	if got := runs.Load(); got != 1 {
		t.Fatalf("overlapping run executed: %d", got)
	}
	close(release)
}

func TestExecOneRecoversPanic(t *testing.T) {
	t.Parallel()
	s := New(Config{}, discardLogger())
	s.execOne(context.Background(), task{
		id: "t", name: "bad",
		run: func(ctx context.Context) error { panic("boom") },
	})
	// reaching here is the assertion
}

func TestStartStopLifecycle(t *testing.T) {
	t.Parallel()
	s := New(Config{Workers: 1, Timezone: "UTC"}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	if _, err := s.AddInterval("noop", time.Minute, 0, func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("AddInterval: %v", err)
	}
	if _, err := s.AddDaily("morning", "08:00", 0, func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("AddDaily: %v", err)
	}
	if _, err := s.AddDaily("bad", "25:00", 0, nil); err == nil {
		t.Fatal("expected error for invalid HH:MM")
	}
	if got := s.Location().String(); got != "UTC" {
		t.Fatalf("Location = %s", got)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	s.Stop(stopCtx)
	// double stop is a no-op
	s.Stop(stopCtx)

	if _, err := s.AddInterval("late", time.Minute, 0, nil); err == nil {
		t.Fatal("expected error after Stop")
	}
}
