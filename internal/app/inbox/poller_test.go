package inbox

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPollerFetchesImmediatelyOnStart(t *testing.T) {
	var calls atomic.Int32
	p := &Poller{Interval: time.Hour, Fetch: func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Stop()
	waitFor(t, "initial fetch", func() bool { return calls.Load() == 1 })
	if p.State() != StatePolling {
		t.Fatalf("expected polling, got %s", p.State())
	}
}

func TestPollerDropsOverlappingFetches(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	p := &Poller{Interval: time.Hour, Fetch: func(ctx context.Context) error {
		calls.Add(1)
		<-release
		return nil
	}}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "initial fetch", func() bool { return calls.Load() == 1 })
	if p.Trigger() {
		t.Fatalf("trigger must be dropped while a fetch is in flight")
	}
	close(release)
	waitFor(t, "fetch to finish", func() bool { return p.Trigger() })
	p.Stop()
	if calls.Load() != 2 {
		t.Fatalf("expected 2 fetches, got %d", calls.Load())
	}
}

func TestPollerPausesWhileHidden(t *testing.T) {
	var calls atomic.Int32
	p := &Poller{Interval: 10 * time.Millisecond, Fetch: func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Stop()
	waitFor(t, "periodic fetches", func() bool { return calls.Load() >= 2 })

	p.SetVisible(false)
	if p.State() != StatePaused {
		t.Fatalf("expected paused, got %s", p.State())
	}
	// let an in-flight fetch settle before sampling
	time.Sleep(20 * time.Millisecond)
	paused := calls.Load()
	time.Sleep(60 * time.Millisecond)
	if calls.Load() != paused {
		t.Fatalf("expected no fetches while paused, got %d more", calls.Load()-paused)
	}

	p.SetVisible(true)
	waitFor(t, "fetch on resume", func() bool { return calls.Load() > paused })
	if p.State() != StatePolling {
		t.Fatalf("expected polling after resume, got %s", p.State())
	}
}

func TestPollerStopIsTerminal(t *testing.T) {
	var calls atomic.Int32
	p := &Poller{Interval: 5 * time.Millisecond, Fetch: func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "initial fetch", func() bool { return calls.Load() >= 1 })
	p.Stop()
	stopped := calls.Load()
	if p.State() != StateIdle {
		t.Fatalf("expected idle, got %s", p.State())
	}
	if p.Trigger() {
		t.Fatalf("trigger after stop must not fetch")
	}
	time.Sleep(30 * time.Millisecond)
	if calls.Load() != stopped {
		t.Fatalf("expected no fetch after stop")
	}
}

func TestPollerRequiresFetch(t *testing.T) {
	if err := (&Poller{}).Start(context.Background()); err != ErrPollerNotConfigured {
		t.Fatalf("expected ErrPollerNotConfigured, got %v", err)
	}
}
