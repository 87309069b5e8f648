package daemon

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestTailLogsLastLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "atx.log")
	content := "one\ntwo\nthree\nfour\nfive\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	var out strings.Builder
	if err := TailLogs(context.Background(), &out, path, 2, false); err != nil {
		t.Fatalf("tail: %v", err)
	}
	if out.String() != "four\nfive\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestTailLogsFewerLinesThanRequested(t *testing.T) {
	path := filepath.Join(t.TempDir(), "atx.log")
	if err := os.WriteFile(path, []byte("only\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	var out strings.Builder
	if err := TailLogs(context.Background(), &out, path, 50, false); err != nil {
		t.Fatalf("tail: %v", err)
	}
	if out.String() != "only\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestTailLogsMissingFile(t *testing.T) {
	var out strings.Builder
	err := TailLogs(context.Background(), &out, filepath.Join(t.TempDir(), "nope.log"), 10, false)
	if err == nil {
		t.Error("expected error for missing log file")
	}
}

func TestTailLogsFollowStreamsAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "atx.log")
	if err := os.WriteFile(path, []byte("start\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var mu syncWriter
	done := make(chan error, 1)
	go func() { done <- TailLogs(ctx, &mu, path, 10, true) }()

	time.Sleep(100 * time.Millisecond)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	if _, err := f.WriteString("appended\n"); err != nil {
		t.Fatalf("append: %v", err)
	}
	f.Close()

	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(mu.String(), "appended") && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("tail: %v", err)
	}
	if !strings.Contains(mu.String(), "appended") {
		t.Error("appended line never streamed")
	}
}

// syncWriter is a strings.Builder safe for cross-goroutine use.
type syncWriter struct {
	mu sync.Mutex
	b  strings.Builder
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.b.Write(p)
}

func (w *syncWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.b.String()
}
