package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/imthebreezy247/unison-sub001/internal/unison"
)

func writeManifest(t *testing.T, root string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(root, "Manifest.db"), []byte("stub"), 0644); err != nil {
		t.Fatalf("writing manifest: %v", err)
	}
}

func TestWatch_TriggersSyncOnManifestWrite(t *testing.T) {
	old := debounceDelay
	debounceDelay = 50 * time.Millisecond
	t.Cleanup(func() { debounceDelay = old })

	root := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	synced := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, root, unison.NewNopLogger(), func(context.Context) error {
			select {
			case synced <- struct{}{}:
			default:
			}
			return nil
		})
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)
	writeManifest(t, root)

	select {
	case <-synced:
	case <-time.After(3 * time.Second):
		t.Fatal("sync was not triggered by manifest write")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
}

func TestWatch_IgnoresOtherFiles(t *testing.T) {
	old := debounceDelay
	debounceDelay = 50 * time.Millisecond
	t.Cleanup(func() { debounceDelay = old })

	root := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int64
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, root, unison.NewNopLogger(), func(context.Context) error {
			calls.Add(1)
			return nil
		})
	}()

	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(root, "Status.plist"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	time.Sleep(300 * time.Millisecond)
	if got := calls.Load(); got != 0 {
		t.Errorf("sync calls = %d, want 0 for unrelated file", got)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
}

func TestWatch_DebouncesBursts(t *testing.T) {
	old := debounceDelay
	debounceDelay = 150 * time.Millisecond
	t.Cleanup(func() { debounceDelay = old })

	root := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int64
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, root, unison.NewNopLogger(), func(context.Context) error {
			calls.Add(1)
			return nil
		})
	}()

	time.Sleep(100 * time.Millisecond)
	for range 5 {
		writeManifest(t, root)
		time.Sleep(20 * time.Millisecond)
	}

	time.Sleep(500 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Errorf("sync calls = %d, want 1 for a burst of writes", got)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
}

func TestWatch_CooldownRejectionIsDropped(t *testing.T) {
	old := debounceDelay
	debounceDelay = 50 * time.Millisecond
	t.Cleanup(func() { debounceDelay = old })

	root := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ran := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, root, unison.NewNopLogger(), func(context.Context) error {
			select {
			case ran <- struct{}{}:
			default:
			}
			return unison.ErrCooldownActive
		})
	}()

	time.Sleep(100 * time.Millisecond)
	writeManifest(t, root)

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("sync was not attempted")
	}

	// The rejection must not kill the watcher.
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
}
