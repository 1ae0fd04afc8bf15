package inbox

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Factory builds an unmounted Inbox for one agent.
type Factory func(agentID string) *Inbox

// Sessions keeps one mounted Inbox per agent. Inboxes outlive the request that
// mounted them, so they run under the registry's own context.
type Sessions struct {
	New    Factory
	Logger *slog.Logger

	mu       sync.Mutex
	base     context.Context
	cancel   context.CancelFunc
	sessions map[string]*Inbox
}

func NewSessions(ctx context.Context, factory Factory, logger *slog.Logger) *Sessions {
	base, cancel := context.WithCancel(ctx)
	return &Sessions{
		New:      factory,
		Logger:   logger,
		base:     base,
		cancel:   cancel,
		sessions: make(map[string]*Inbox),
	}
}

// Mount returns the agent's inbox, creating and mounting it on first use.
func (s *Sessions) Mount(agentID string) (*Inbox, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return nil, ErrNotMounted
	}
	s.mu.Lock()
	if in, ok := s.sessions[agentID]; ok {
		s.mu.Unlock()
		return in, nil
	}
	if s.base.Err() != nil {
		s.mu.Unlock()
		return nil, s.base.Err()
	}
	in := s.New(agentID)
	s.sessions[agentID] = in
	s.mu.Unlock()

	if err := in.Mount(s.base); err != nil {
		s.mu.Lock()
		delete(s.sessions, agentID)
		s.mu.Unlock()
		return nil, err
	}
	if s.Logger != nil {
		s.Logger.Info("inbox mounted", "agent_id", agentID)
	}
	return in, nil
}

// Get returns a mounted inbox or ErrNotMounted.
func (s *Sessions) Get(agentID string) (*Inbox, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.sessions[agentID]
	if !ok {
		return nil, ErrNotMounted
	}
	return in, nil
}

// Unmount stops the agent's inbox. It reports whether one was mounted.
func (s *Sessions) Unmount(agentID string) bool {
	s.mu.Lock()
	in, ok := s.sessions[agentID]
	delete(s.sessions, agentID)
	s.mu.Unlock()
	if !ok {
		return false
	}
	in.Unmount()
	if s.Logger != nil {
		s.Logger.Info("inbox unmounted", "agent_id", agentID)
	}
	return true
}

// Agents lists the agent ids with a mounted inbox.
func (s *Sessions) Agents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RequestRefresh asks every mounted inbox for an out-of-band refresh and returns
// how many started one.
func (s *Sessions) RequestRefresh() int {
	s.mu.Lock()
	all := make([]*Inbox, 0, len(s.sessions))
	for _, in := range s.sessions {
		all = append(all, in)
	}
	s.mu.Unlock()

	started := 0
	for _, in := range all {
		if in.RequestRefresh() {
			started++
		}
	}
	return started
}

// Close unmounts every inbox.
func (s *Sessions) Close() {
	s.cancel()
	for _, id := range s.Agents() {
		s.Unmount(id)
	}
}
