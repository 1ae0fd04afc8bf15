package inbox

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultPollInterval is the period between full refreshes while visible.
const DefaultPollInterval = 30 * time.Second

var ErrPollerNotConfigured = errors.New("inbox: poller missing fetch function")

type PollState int

const (
	StateIdle PollState = iota
	StatePolling
	StatePaused
)

func (s PollState) String() string {
	switch s {
	case StatePolling:
		return "polling"
	case StatePaused:
		return "paused"
	default:
		return "idle"
	}
}

// Poller refreshes on a fixed period while the view is visible. At most one fetch
// runs at a time; requests made while one is in flight are dropped.
type Poller struct {
	Fetch    func(ctx context.Context) error
	Interval time.Duration
	Logger   *slog.Logger

	mu       sync.Mutex
	state    PollState
	base     context.Context
	stopBase context.CancelFunc
	stopLoop context.CancelFunc
	loops    sync.WaitGroup
	fetches  sync.WaitGroup
	inFlight atomic.Bool
}

// Start mounts the poller: it enters Polling and fetches immediately.
func (p *Poller) Start(ctx context.Context) error {
	if p.Fetch == nil {
		return ErrPollerNotConfigured
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateIdle {
		return nil
	}
	p.base, p.stopBase = context.WithCancel(ctx)
	p.startLoopLocked()
	return nil
}

// SetVisible pauses polling when hidden and resumes with an immediate fetch when shown.
func (p *Poller) SetVisible(visible bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case visible && p.state == StatePaused:
		p.startLoopLocked()
	case !visible && p.state == StatePolling:
		p.stopLoopLocked()
		p.state = StatePaused
	}
}

// Stop unmounts the poller. No fetch starts after Stop returns.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.state == StateIdle {
		p.mu.Unlock()
		return
	}
	p.stopLoopLocked()
	p.stopBase()
	p.state = StateIdle
	p.mu.Unlock()

	p.loops.Wait()
	p.fetches.Wait()
}

func (p *Poller) State() PollState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Trigger starts a fetch unless one is already running or the poller is idle.
// It reports whether a fetch was started.
func (p *Poller) Trigger() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateIdle {
		return false
	}
	return p.triggerLocked(p.base)
}

func (p *Poller) triggerLocked(ctx context.Context) bool {
	if !p.inFlight.CompareAndSwap(false, true) {
		if p.Logger != nil {
			p.Logger.Debug("refresh skipped, previous fetch still running")
		}
		return false
	}
	p.fetches.Add(1)
	go func() {
		defer p.fetches.Done()
		defer p.inFlight.Store(false)
		if err := p.Fetch(ctx); err != nil && p.Logger != nil && ctx.Err() == nil {
			p.Logger.Warn("refresh failed", "error", err)
		}
	}()
	return true
}

func (p *Poller) startLoopLocked() {
	loopCtx, cancel := context.WithCancel(p.base)
	p.stopLoop = cancel
	p.state = StatePolling
	p.triggerLocked(p.base)

	p.loops.Add(1)
	go func() {
		defer p.loops.Done()
		ticker := time.NewTicker(p.interval())
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				p.tick(loopCtx)
			}
		}
	}()
}

func (p *Poller) tick(loopCtx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if loopCtx.Err() != nil || p.state != StatePolling {
		return
	}
	p.triggerLocked(p.base)
}

func (p *Poller) stopLoopLocked() {
	if p.stopLoop != nil {
		p.stopLoop()
		p.stopLoop = nil
	}
}

func (p *Poller) interval() time.Duration {
	if p.Interval <= 0 {
		return DefaultPollInterval
	}
	return p.Interval
}
