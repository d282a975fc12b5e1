package retention

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/mdpress/internal/storage"
)

type stubPurger struct {
	mu    sync.Mutex
	calls atomic.Int32
	seen  []time.Time
	err   error
}

func (s *stubPurger) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.seen = append(s.seen, now)
	s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	return 3, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunOnce_UsesClock(t *testing.T) {
	p := &stubPurger{}
	w := NewWorker(p, time.Hour, quietLogger())
	fixed := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return fixed }

	n, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 3 {
		t.Errorf("n = %d, want 3", n)
	}
	if len(p.seen) != 1 || !p.seen[0].Equal(fixed) {
		t.Errorf("purge times = %v, want [%v]", p.seen, fixed)
	}
}

func TestRunOnce_WrapsError(t *testing.T) {
	boom := errors.New("disk full")
	w := NewWorker(&stubPurger{err: boom}, time.Hour, quietLogger())

	_, err := w.RunOnce(context.Background())
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapping %v", err, boom)
	}
}

func TestRun_SweepsUntilCancelled(t *testing.T) {
	p := &stubPurger{}
	w := NewWorker(p, 10*time.Millisecond, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for p.calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d sweeps before deadline", p.calls.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewWorker_DefaultInterval(t *testing.T) {
	w := NewWorker(&stubPurger{}, 0, nil)
	if w.poll != 10*time.Minute {
		t.Errorf("poll = %v, want 10m", w.poll)
	}
}

func TestRunOnce_SQLiteStore(t *testing.T) {
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	ctx := context.Background()
	now := time.Now()

	docs := []storage.Document{
		{ID: "a", Content: "a", Template: "general", CreatedAt: now, ExpiresAt: now.Add(-time.Minute)},
		{ID: "b", Content: "b", Template: "general", CreatedAt: now, ExpiresAt: now.Add(time.Hour)},
	}
	for _, d := range docs {
		if err := s.SaveDocument(ctx, d); err != nil {
			t.Fatal(err)
		}
	}

	w := NewWorker(s, time.Hour, quietLogger())
	n, err := w.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 1 {
		t.Errorf("removed = %d, want 1", n)
	}
	if _, err := s.GetDocument(ctx, "b"); err != nil {
		t.Errorf("live document lost: %v", err)
	}
}
