package main

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

// WorkspaceRegistry maps browser session ids to their workspace. Sessions
// idle for longer than idleTTL are dropped and their timers stopped.
type WorkspaceRegistry struct {
	clock   clock.Clock
	idleTTL time.Duration
	factory func(id string) *Workspace

	mu         sync.Mutex
	workspaces map[string]*Workspace
}

func NewWorkspaceRegistry(clk clock.Clock, idleTTL time.Duration, factory func(id string) *Workspace) *WorkspaceRegistry {
	return &WorkspaceRegistry{
		clock:      clk,
		idleTTL:    idleTTL,
		factory:    factory,
		workspaces: make(map[string]*Workspace),
	}
}

// Get touches the workspace under the registry lock so a concurrent Prune
// cannot close a session that was just handed out.
func (r *WorkspaceRegistry) Get(id string) (*Workspace, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ws, ok := r.workspaces[id]
	if ok {
		ws.touch(r.clock.Now())
	}
	return ws, ok
}

func (r *WorkspaceRegistry) Create() *Workspace {
	ws := r.factory(uuid.NewString())
	r.mu.Lock()
	r.workspaces[ws.ID()] = ws
	r.mu.Unlock()
	return ws
}

func (r *WorkspaceRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workspaces)
}

func (r *WorkspaceRegistry) Prune(now time.Time) int {
	r.mu.Lock()
	expired := make([]*Workspace, 0)
	for id, ws := range r.workspaces {
		if now.Sub(ws.idleSince()) >= r.idleTTL {
			delete(r.workspaces, id)
			expired = append(expired, ws)
		}
	}
	r.mu.Unlock()

	for _, ws := range expired {
		ws.Close()
	}
	return len(expired)
}

func (r *WorkspaceRegistry) StartSweeper(ctx context.Context, interval time.Duration, onPrune func(count int)) {
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := r.clock.Ticker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if pruned := r.Prune(now); pruned > 0 && onPrune != nil {
					onPrune(pruned)
				}
			}
		}
	}()
}

func (r *WorkspaceRegistry) CloseAll() {
	r.mu.Lock()
	all := make([]*Workspace, 0, len(r.workspaces))
	for id, ws := range r.workspaces {
		delete(r.workspaces, id)
		all = append(all, ws)
	}
	r.mu.Unlock()
	for _, ws := range all {
		ws.Close()
	}
}
