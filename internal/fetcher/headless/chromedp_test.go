package headless

import (
	"context"
	"testing"
	"time"
)

func TestNewChromedpValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewChromedp(Config{MaxParallel: -1}); err == nil {
		t.Fatal("expected error for negative max parallel")
	}

	fetcher, err := NewChromedp(Config{MaxParallel: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(fetcher.Close)
	if cap(fetcher.limiter) != 2 {
		t.Fatalf("expected limiter capacity 2, got %d", cap(fetcher.limiter))
	}
}

func TestNewChromedpTimeoutDefault(t *testing.T) {
	t.Parallel()

	fetcher, err := NewChromedp(Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(fetcher.Close)
	if fetcher.cfg.NavigationTimeout != 30*time.Second {
		t.Fatalf("expected 30s default navigation timeout, got %v", fetcher.cfg.NavigationTimeout)
	}
	if fetcher.limiter != nil {
		t.Fatal("expected no limiter when max parallel is zero")
	}
}

func TestFetcherAcquireRelease(t *testing.T) {
	t.Parallel()

	fetcher, err := NewChromedp(Config{MaxParallel: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(fetcher.Close)

	if err := fetcher.acquire(context.Background()); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	// Slot is taken; a second acquire must respect cancellation.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := fetcher.acquire(ctx); err == nil {
		t.Fatal("expected second acquire to fail while slot is held")
	}

	fetcher.release()
	if err := fetcher.acquire(context.Background()); err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
	fetcher.release()
}

func TestFetcherAcquireUnlimited(t *testing.T) {
	t.Parallel()

	fetcher := &Fetcher{}
	if err := fetcher.acquire(context.Background()); err != nil {
		t.Fatalf("unlimited acquire failed: %v", err)
	}
	fetcher.release()
}
