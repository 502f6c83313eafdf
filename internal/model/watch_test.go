package model

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchInstallsDroppedModel(t *testing.T) {
	r := testRegistry(t)
	watchDir := filepath.Join(t.TempDir(), "incoming")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Watch(ctx, watchDir)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Errorf("watcher did not stop")
		}
	})

	// Give the watcher a moment to register before dropping the model.
	time.Sleep(100 * time.Millisecond)
	if err := SaveDir(fittedHandle(t), filepath.Join(watchDir, "candidate")); err != nil {
		t.Fatalf("save model into watch dir: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if r.Snapshot() != nil {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("dropped model never installed")
}
