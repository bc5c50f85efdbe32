package signals

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRequestCancelAndDrain(t *testing.T) {
	repo := t.TempDir()
	w, err := NewWatcher(repo)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Close()

	if got := w.Drain(); len(got) != 0 {
		t.Fatalf("expected no signals, got %v", got)
	}

	if err := RequestCancel(repo, "session-1", "operator request\n"); err != nil {
		t.Fatalf("RequestCancel failed: %v", err)
	}

	got := w.Drain()
	if len(got) != 1 {
		t.Fatalf("got %d signals, want 1", len(got))
	}
	if got[0].SessionID != "session-1" || got[0].Reason != "operator request" {
		t.Errorf("signal = %+v", got[0])
	}

	if again := w.Drain(); len(again) != 0 {
		t.Errorf("signal not removed after drain: %v", again)
	}
}

func TestDrain_IgnoresOtherFiles(t *testing.T) {
	repo := t.TempDir()
	w, err := NewWatcher(repo)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(filepath.Join(Dir(repo), "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if got := w.Drain(); len(got) != 0 {
		t.Errorf("unexpected signals: %v", got)
	}
}

func TestRequestCancel_InvalidID(t *testing.T) {
	repo := t.TempDir()
	for _, id := range []string{"", "../escape", `a\b`, ".."} {
		if err := RequestCancel(repo, id, ""); err == nil {
			t.Errorf("RequestCancel(%q) succeeded, want error", id)
		}
	}
}

func TestWait(t *testing.T) {
	tests := []struct {
		name    string
		polling bool
	}{
		{"fsnotify", false},
		{"polling", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := t.TempDir()
			opts := []Option{WithPollInterval(10 * time.Millisecond)}
			if tt.polling {
				opts = append(opts, withoutFSNotify())
			}
			w, err := NewWatcher(repo, opts...)
			if err != nil {
				t.Fatalf("NewWatcher failed: %v", err)
			}
			defer w.Close()

			if tt.polling && !w.Polling() {
				t.Fatal("expected polling fallback")
			}

			go func() {
				time.Sleep(20 * time.Millisecond)
				RequestCancel(repo, "abc", "stop")
			}()

			start := time.Now()
			if !w.Wait(context.Background(), 5*time.Second) {
				t.Fatal("Wait returned without a signal")
			}
			if time.Since(start) > 4*time.Second {
				t.Error("Wait did not wake early")
			}
			if got := w.Drain(); len(got) != 1 || got[0].SessionID != "abc" {
				t.Errorf("Drain() = %v", got)
			}
		})
	}
}

func TestWait_Timeout(t *testing.T) {
	w, err := NewWatcher(t.TempDir())
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Close()

	if w.Wait(context.Background(), 20*time.Millisecond) {
		t.Error("Wait reported a signal with none pending")
	}
	if w.Wait(context.Background(), 0) {
		t.Error("Wait(0) reported a signal with none pending")
	}
}

func TestWait_ContextCancelled(t *testing.T) {
	w, err := NewWatcher(t.TempDir())
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if w.Wait(ctx, time.Minute) {
		t.Error("Wait reported a signal with none pending")
	}
}

func TestClose_Idempotent(t *testing.T) {
	w, err := NewWatcher(t.TempDir())
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}
